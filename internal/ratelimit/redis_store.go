// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStoreConfig 定义了 RedisStore 的配置。
type RedisStoreConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore 将时间戳列表以 JSON 数组（Unix 毫秒）形式保存，并使用 PX 过期。
// 读改写不是原子的，同一客户端的并发请求可能丢失更新。
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 连接 Redis 并返回一个新的 RedisStore 实例。
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("无法连接到 Redis: %w", err)
	}

	slog.Info("限流 RedisStore 初始化成功", "addr", cfg.Addr, "db", cfg.DB)
	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient 使用已有的客户端构造 RedisStore
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (rs *RedisStore) key(key string) string {
	if rs.prefix == "" {
		return key
	}
	return rs.prefix + ":" + key
}

// Load 读取时间戳列表
func (rs *RedisStore) Load(ctx context.Context, key string) ([]time.Time, error) {
	raw, err := rs.client.Get(ctx, rs.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var millis []int64
	if err := json.Unmarshal(raw, &millis); err != nil {
		return nil, fmt.Errorf("decode window: %w", err)
	}

	out := make([]time.Time, 0, len(millis))
	for _, ms := range millis {
		out = append(out, time.UnixMilli(ms))
	}
	return out, nil
}

// Save 覆盖时间戳列表并设置 TTL
func (rs *RedisStore) Save(ctx context.Context, key string, timestamps []time.Time, ttl time.Duration) error {
	millis := make([]int64, 0, len(timestamps))
	for _, ts := range timestamps {
		millis = append(millis, ts.UnixMilli())
	}
	raw, err := json.Marshal(millis)
	if err != nil {
		return fmt.Errorf("encode window: %w", err)
	}

	if err := rs.client.Set(ctx, rs.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close 关闭 Redis 客户端连接。
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
