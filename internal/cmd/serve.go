// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kisproxy/configs"
	"kisproxy/internal/app"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configs.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("无法加载配置: %w", err)
			}
			// 构建时注入的版本号优先于配置
			if version != "dev" {
				cfg.Server.Version = version
			}

			logger, closeLog, err := app.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer closeLog()
			slog.SetDefault(logger)

			a, err := app.New(cfg, nil)
			if err != nil {
				slog.Error("初始化失败", "error", err)
				return err
			}
			defer a.Close()

			ctx, cancel := signal.NotifyContext(contextOrBackground(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return a.ListenAndServe(ctx)
		},
	}
}

// contextOrBackground 在 cobra 未设置上下文时返回 context.Background
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
