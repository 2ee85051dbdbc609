// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStoreConfig 定义了 RedisStore 的配置。
type RedisStoreConfig struct {
	Addr      string
	Password  string
	DB        int // 数据库索引
	KeyPrefix string
}

// RedisStore 是一个基于 Redis 的 Store 实现。
// 每个槽保存为一个哈希 (value, expires_at)，并通过 PEXPIREAT 交给 Redis 过期。
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore 连接 Redis 并返回一个新的 RedisStore 实例。
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 尝试 Ping Redis 服务器以验证连接。
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("无法连接到 Redis: %w", err)
	}

	slog.Info("凭据 RedisStore 初始化成功", "addr", cfg.Addr, "db", cfg.DB)
	return NewRedisStoreWithClient(client, cfg.KeyPrefix, nil), nil
}

// NewRedisStoreWithClient 使用已有的客户端构造 RedisStore
func NewRedisStoreWithClient(client *redis.Client, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = "kisproxy:credential"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{client: client, prefix: prefix, now: now}
}

func (rs *RedisStore) key(name SlotName) string {
	return rs.prefix + ":" + string(name)
}

// Get 从 Redis 中检索一个槽。
func (rs *RedisStore) Get(ctx context.Context, name SlotName) (Slot, bool, error) {
	fields, err := rs.client.HGetAll(ctx, rs.key(name)).Result()
	if err != nil {
		return Slot{}, false, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		slog.Debug("RedisStore: 凭据缓存未命中", "slot", name)
		return Slot{}, false, nil
	}

	ms, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return Slot{}, false, fmt.Errorf("parse expires_at: %w", err)
	}
	slot := Slot{Name: name, Value: fields["value"], ExpiresAt: time.UnixMilli(ms)}
	if !slot.Valid(rs.now()) {
		return Slot{}, false, nil
	}
	return slot, true, nil
}

// Set 写入一个槽并设置绝对过期时间。
func (rs *RedisStore) Set(ctx context.Context, slot Slot) error {
	if slot.Name == "" {
		return errors.New("slot name is empty")
	}
	key := rs.key(slot.Name)

	pipe := rs.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, "value", slot.Value, "expires_at", slot.ExpiresAt.UnixMilli())
	pipe.PExpireAt(ctx, key, slot.ExpiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set slot: %w", err)
	}
	slog.Debug("RedisStore: 凭据已设置", "slot", slot.Name, "expires_at", slot.ExpiresAt)
	return nil
}

// Clear 删除所有槽。
func (rs *RedisStore) Clear(ctx context.Context) error {
	keys := make([]string, 0, len(AllSlots))
	for _, name := range AllSlots {
		keys = append(keys, rs.key(name))
	}
	if err := rs.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Len 返回仍然有效的槽数量，读取失败的槽不计入。
func (rs *RedisStore) Len(ctx context.Context) int {
	n := 0
	for _, name := range AllSlots {
		if _, ok, err := rs.Get(ctx, name); err == nil && ok {
			n++
		}
	}
	return n
}

// Close 关闭 Redis 客户端连接。
func (rs *RedisStore) Close() error {
	if err := rs.client.Close(); err != nil {
		slog.Error("RedisStore: 关闭 Redis 连接失败", "error", err)
		return err
	}
	slog.Info("RedisStore: Redis 连接已关闭")
	return nil
}
