// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package credential

import (
	"context"
)

// Store 定义了凭据槽缓存的通用接口。
// 任何实现（如内存缓存或 Redis 缓存）都必须实现此接口。
// 每个槽名最多只有一个条目。
type Store interface {
	// Get 检索一个槽。仅当找到且未过期时返回 true。
	Get(ctx context.Context, name SlotName) (Slot, bool, error)

	// Set 写入或覆盖一个槽，过期时间取自 slot.ExpiresAt。
	Set(ctx context.Context, slot Slot) error

	// Clear 使所有槽立即失效。
	Clear(ctx context.Context) error

	// Len 返回当前仍然有效的槽数量。
	Len(ctx context.Context) int

	// Close 释放资源，例如关闭 Redis 连接池。
	Close() error
}
