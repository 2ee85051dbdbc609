// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// windowEntry 是窗口存储中的条目定义
type windowEntry struct {
	timestamps []time.Time
	expiresAt  time.Time
}

// MemoryStore 是一个支持 TTL 的线程安全内存窗口存储
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]windowEntry
	now   func() time.Time
	stop  chan struct{} // 用于停止后台清理 goroutine
}

// NewMemoryStore 创建一个新的窗口存储，并在 cleanupInterval 大于 0 时启动后台清理 goroutine
func NewMemoryStore(cleanupInterval time.Duration, now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	ms := &MemoryStore{
		items: make(map[string]windowEntry),
		now:   now,
		stop:  make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go ms.cleanupLoop(cleanupInterval)
	}

	return ms
}

// Load 返回未过期的时间戳列表副本
func (ms *MemoryStore) Load(_ context.Context, key string) ([]time.Time, error) {
	ms.mu.RLock()
	entry, found := ms.items[key]
	ms.mu.RUnlock()

	if !found || !ms.now().Before(entry.expiresAt) {
		return nil, nil
	}

	out := make([]time.Time, len(entry.timestamps))
	copy(out, entry.timestamps)
	return out, nil
}

// Save 覆盖时间戳列表并刷新 TTL
func (ms *MemoryStore) Save(_ context.Context, key string, timestamps []time.Time, ttl time.Duration) error {
	stored := make([]time.Time, len(timestamps))
	copy(stored, timestamps)

	ms.mu.Lock()
	ms.items[key] = windowEntry{
		timestamps: stored,
		expiresAt:  ms.now().Add(ttl),
	}
	ms.mu.Unlock()
	return nil
}

// Len 返回当前保存的客户端键数量（含尚未清理的过期条目）
func (ms *MemoryStore) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.items)
}

// Stop 停止后台清理 goroutine，用于优雅关闭
func (ms *MemoryStore) Stop() {
	// 检查 stop channel 是否已关闭，避免重复关闭导致 panic
	select {
	case <-ms.stop:
		return
	default:
		slog.Debug("正在停止限流窗口的后台清理任务...")
		close(ms.stop)
	}
}

// cleanupLoop 定期从存储中删除过期的条目
func (ms *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.deleteExpired()
		case <-ms.stop:
			slog.Debug("已停止限流窗口的后台清理任务。")
			return
		}
	}
}

// deleteExpired 遍历所有条目并删除任何已过期的条目
func (ms *MemoryStore) deleteExpired() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	deletedCount := 0
	for key, entry := range ms.items {
		if !now.Before(entry.expiresAt) {
			delete(ms.items, key)
			deletedCount++
		}
	}
	if deletedCount > 0 {
		slog.Debug("限流窗口后台清理完成", "deleted", deletedCount)
	}
}
