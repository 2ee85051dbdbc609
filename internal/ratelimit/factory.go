// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package ratelimit

import (
	"fmt"
	"log/slog"
	"time"

	"kisproxy/configs"
)

// NewStore 根据配置创建窗口存储。返回的 closer 用于优雅关闭。
func NewStore(cfg configs.RateLimitConfig) (Store, func(), error) {
	switch cfg.Store.Type {
	case "", "in-memory":
		slog.Info("正在初始化 In-Memory 限流存储")
		// 清理间隔与窗口相同，过期条目最多多存活一个窗口
		cleanup := cfg.Window()
		if cleanup <= 0 {
			cleanup = time.Minute
		}
		store := NewMemoryStore(cleanup, nil)
		return store, store.Stop, nil
	case "redis":
		slog.Info("正在初始化 Redis 限流存储")
		store, err := NewRedisStore(RedisStoreConfig{
			Addr:      cfg.Store.Redis.Addr,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			KeyPrefix: cfg.Store.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("不支持的 rate_limit.store 类型: %s", cfg.Store.Type)
	}
}
