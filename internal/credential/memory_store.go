// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package credential

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore 是一个线程安全的内存凭据槽缓存。
// 槽的数量固定，过期条目不会被读操作删除，而是在下一次 Set 时被覆盖。
type MemoryStore struct {
	mu    sync.RWMutex
	items map[SlotName]Slot
	now   func() time.Time
}

// NewMemoryStore 创建一个新的内存缓存，now 为空时使用 time.Now
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		items: make(map[SlotName]Slot),
		now:   now,
	}
}

// Get 从缓存中检索一个槽
func (ms *MemoryStore) Get(_ context.Context, name SlotName) (Slot, bool, error) {
	ms.mu.RLock()
	slot, found := ms.items[name]
	ms.mu.RUnlock()

	if !found {
		slog.Debug("凭据缓存未命中", "slot", name)
		return Slot{}, false, nil
	}
	if !slot.Valid(ms.now()) {
		slog.Debug("凭据已过期", "slot", name, "expires_at", slot.ExpiresAt)
		return Slot{}, false, nil
	}
	return slot, true, nil
}

// Set 写入一个槽
func (ms *MemoryStore) Set(_ context.Context, slot Slot) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.items[slot.Name] = slot
	slog.Debug("凭据已缓存", "slot", slot.Name, "expires_at", slot.ExpiresAt)
	return nil
}

// Clear 清空所有槽
func (ms *MemoryStore) Clear(_ context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.items = make(map[SlotName]Slot)
	return nil
}

// Len 返回仍然有效的槽数量
func (ms *MemoryStore) Len(_ context.Context) int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	now := ms.now()
	n := 0
	for _, slot := range ms.items {
		if slot.Valid(now) {
			n++
		}
	}
	return n
}

// Close 对内存缓存无操作
func (ms *MemoryStore) Close() error { return nil }
