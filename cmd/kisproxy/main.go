package main

import (
	"os"

	"kisproxy/internal/cmd"
)

// version 在构建时通过 -ldflags "-X main.version=..." 注入
var version = "dev"

func main() {
	cmd.SetVersion(version)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
