// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package credential

import (
	"context"
	"log/slog"
	"time"
)

// StartBackgroundRefresh 启动后台刷新。重复调用是无操作。
// 首次调用会立即尽力获取两个槽，然后为每个槽启动一个周期任务，
// 在缓存的凭据过期之前强制重新获取。后台失败只记录日志。
func (b *Broker) StartBackgroundRefresh() {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	if b.refreshCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.refreshCancel = cancel

	for _, name := range AllSlots {
		b.refreshWG.Add(1)
		go b.refreshLoop(ctx, name, b.intervals[name])
	}
	slog.Info("凭据后台刷新已启动",
		"access_token_interval", b.intervals[AccessToken],
		"approval_key_interval", b.intervals[ApprovalKey],
	)
}

// Stop 取消所有后台刷新任务并等待其退出。之后可以再次调用 StartBackgroundRefresh。
func (b *Broker) Stop() {
	b.refreshMu.Lock()
	cancel := b.refreshCancel
	b.refreshCancel = nil
	b.refreshMu.Unlock()

	if cancel == nil {
		return
	}
	slog.Debug("正在停止凭据后台刷新任务...")
	cancel()
	b.refreshWG.Wait()
	slog.Debug("已停止凭据后台刷新任务。")
}

func (b *Broker) refreshing() bool {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()
	return b.refreshCancel != nil
}

// refreshLoop 先做一次普通获取（缓存有效时不发网络请求），之后按间隔强制刷新
func (b *Broker) refreshLoop(ctx context.Context, name SlotName, interval time.Duration) {
	defer b.refreshWG.Done()

	if _, err := b.Credential(ctx, name); err != nil {
		slog.Warn("启动时获取凭据失败，将在前台调用时重试", "slot", name, "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := b.acquire(ctx, name, true); err != nil {
				slog.Warn("后台刷新凭据失败", "slot", name, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
