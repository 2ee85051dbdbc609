// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"kisproxy/configs"
)

// NewLogger 根据日志配置构造 slog 文本日志记录器。
// output_paths 支持 "stdout"、"stderr" 以及文件路径；返回的 close 函数关闭打开的文件。
func NewLogger(cfg configs.LogConfig) (*slog.Logger, func() error, error) {
	var level slog.Level
	if cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.LogLevel))); err != nil {
			return nil, nil, &configs.ConfigurationError{Field: "log.level", Reason: fmt.Sprintf("无法识别的日志级别 %q", cfg.LogLevel)}
		}
	}

	paths := cfg.OutputPaths
	if len(paths) == 0 {
		paths = []string{"stdout"}
	}

	var (
		writers []io.Writer
		files   []*os.File
	)
	closeFiles := func() error {
		var errs []error
		for _, f := range files {
			errs = append(errs, f.Close())
		}
		return errors.Join(errs...)
	}

	for _, p := range paths {
		switch p {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				_ = closeFiles()
				return nil, nil, fmt.Errorf("打开日志文件 %s 失败: %w", p, err)
			}
			files = append(files, f)
			writers = append(writers, f)
		}
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: level})
	return slog.New(handler), closeFiles, nil
}
