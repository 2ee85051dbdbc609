// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package ratelimit

import (
	"context"
	"time"
)

// Store 保存每个客户端键最近的请求时间戳。
// 条目依靠存储自身的 TTL 过期，不需要显式删除。
type Store interface {
	// Load 返回客户端键的时间戳列表，按到达顺序排列；不存在时返回空列表。
	Load(ctx context.Context, key string) ([]time.Time, error)

	// Save 覆盖客户端键的时间戳列表，并设置 TTL。
	Save(ctx context.Context, key string, timestamps []time.Time, ttl time.Duration) error
}
