// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package credential

import (
	"fmt"
	"log/slog"

	"kisproxy/configs"
)

// NewStore 根据配置创建并返回一个 Store 实例。
func NewStore(cfg configs.CredentialCacheConfig) (Store, error) {
	switch cfg.Type {
	case "", "in-memory":
		slog.Info("正在初始化 In-Memory 凭据缓存")
		return NewMemoryStore(nil), nil
	case "redis":
		slog.Info("正在初始化 Redis 凭据缓存")
		store, err := NewRedisStore(RedisStoreConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("不支持的 credential_cache 类型: %s", cfg.Type)
	}
}
