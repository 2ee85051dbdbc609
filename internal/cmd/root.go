// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

// Package cmd 实现 kisproxy 的命令行入口。
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string

	// version 由 main 通过 ldflags 注入
	version = "dev"
)

// SetVersion 设置构建版本号
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// NewRootCommand 构造根命令。不带子命令运行时等同于 serve。
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "kisproxy",
		Short: "Credential broker and rate-limited proxy for the KIS Open API",
		Long: `kisproxy 缓存并自动续期 KIS Open API 的访问令牌与批准密钥，
在 /api 下提供管理接口，并以滑动窗口限流保护入站流量。`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml or ./config.yaml)")

	serve := newServeCommand()
	root.RunE = serve.RunE
	root.AddCommand(serve, newTokenCommand())
	return root
}

// Execute 运行根命令
func Execute() error {
	return NewRootCommand().Execute()
}
