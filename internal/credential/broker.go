// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package credential

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultSafetyMargin 在声明的有效期上扣除的余量
	DefaultSafetyMargin = 300 * time.Second
	// DefaultNominalLifetime 是未声明有效期的凭据的名义有效期
	DefaultNominalLifetime = 24 * time.Hour
	// DefaultAcquireTimeout 是单次获取的上限
	DefaultAcquireTimeout = 10 * time.Second
)

// Options 配置 Broker
type Options struct {
	SafetyMargin    time.Duration
	NominalLifetime time.Duration
	AcquireTimeout  time.Duration

	// RefreshIntervals 覆盖某个槽的后台刷新间隔，默认为 NominalLifetime - SafetyMargin
	RefreshIntervals map[SlotName]time.Duration

	Now     func() time.Time
	Metrics *Metrics
}

// Broker 管理两个凭据槽的获取、缓存和刷新。
// 同一个槽在任意时刻最多只有一次获取在进行中，期间到达的调用者共享其结果。
type Broker struct {
	store    Store
	acquirer Acquirer

	margin    time.Duration
	nominal   time.Duration
	timeout   time.Duration
	intervals map[SlotName]time.Duration
	now       func() time.Time
	metrics   *Metrics

	flights singleflight.Group

	refreshMu     sync.Mutex
	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup
}

// NewBroker 创建一个新的 Broker
func NewBroker(store Store, acquirer Acquirer, opts Options) *Broker {
	b := &Broker{
		store:     store,
		acquirer:  acquirer,
		margin:    opts.SafetyMargin,
		nominal:   opts.NominalLifetime,
		timeout:   opts.AcquireTimeout,
		intervals: make(map[SlotName]time.Duration),
		now:       opts.Now,
		metrics:   opts.Metrics,
	}
	if b.margin <= 0 {
		b.margin = DefaultSafetyMargin
	}
	if b.nominal <= 0 {
		b.nominal = DefaultNominalLifetime
	}
	if b.timeout <= 0 {
		b.timeout = DefaultAcquireTimeout
	}
	if b.now == nil {
		b.now = time.Now
	}
	for _, name := range AllSlots {
		interval := b.nominal - b.margin
		if override, ok := opts.RefreshIntervals[name]; ok && override > 0 {
			interval = override
		}
		b.intervals[name] = interval
	}
	return b
}

// Credential 返回一个有效的凭据。缓存命中时直接返回，否则发起（或加入进行中的）获取。
// ctx 只限制当前调用者的等待时间，获取本身在独立的上下文中运行直到完成或超时。
func (b *Broker) Credential(ctx context.Context, name SlotName) (string, error) {
	if !name.Known() {
		return "", ErrUnknownSlot
	}

	if slot, ok := b.lookup(ctx, name); ok {
		b.metrics.observeLookup(name, true)
		slog.Debug("凭据缓存命中", "slot", name)
		return slot.Value, nil
	}
	b.metrics.observeLookup(name, false)

	return b.acquire(ctx, name, false)
}

// acquire 通过单飞组获取凭据。force 为 true 时跳过缓存复查（后台刷新使用）。
func (b *Broker) acquire(ctx context.Context, name SlotName, force bool) (string, error) {
	ch := b.flights.DoChan(string(name), func() (any, error) {
		return b.fetch(name, force)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &AcquisitionError{Slot: name, Err: ctx.Err()}
	}
}

// fetch 执行一次真正的网络获取并写入缓存
func (b *Broker) fetch(name SlotName, force bool) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	// 单飞内复查：前一次获取可能刚刚完成
	if !force {
		if slot, ok := b.lookup(ctx, name); ok {
			return slot.Value, nil
		}
	}

	start := time.Now()
	grant, err := b.acquirer.Acquire(ctx, name)
	if err == nil && grant.Value == "" {
		err = errMissingValue
	}
	b.metrics.observeAcquisition(name, err, time.Since(start))
	if err != nil {
		return "", &AcquisitionError{Slot: name, Err: err}
	}

	lifetime := grant.Lifetime
	if lifetime <= 0 {
		lifetime = b.nominal
	}
	if lifetime <= b.margin {
		slog.Warn("凭据有效期不足安全余量，将立即视为过期", "slot", name, "lifetime", lifetime)
	}

	slot := Slot{
		Name:      name,
		Value:     grant.Value,
		ExpiresAt: b.now().Add(lifetime - b.margin),
	}
	if err := b.store.Set(ctx, slot); err != nil {
		slog.Error("写入凭据缓存失败", "slot", name, "error", err)
	}

	slog.Info("凭据已获取", "slot", name, "expires_at", slot.ExpiresAt)
	return slot.Value, nil
}

// lookup 读取缓存，存储故障按未命中处理
func (b *Broker) lookup(ctx context.Context, name SlotName) (Slot, bool) {
	slot, ok, err := b.store.Get(ctx, name)
	if err != nil {
		slog.Error("读取凭据缓存失败", "slot", name, "error", err)
		return Slot{}, false
	}
	if !ok || !slot.Valid(b.now()) {
		return Slot{}, false
	}
	return slot, true
}

// SlotStatus 描述一个槽的当前状态
type SlotStatus struct {
	State     string     `json:"state"` // "valid" or "expired"
	ExpiresAt *time.Time `json:"expiresAt"`
}

// Status 是 CacheStatus 的结果
type Status struct {
	Slots              map[SlotName]SlotStatus `json:"slots"`
	CacheSize          int                     `json:"cacheSize"`
	AutoRefreshEnabled bool                    `json:"autoRefreshEnabled"`
}

// State 返回某个槽的 "valid" 或 "expired"
func (s Status) State(name SlotName) string {
	return s.Slots[name].State
}

// CacheStatus 只读地报告每个槽的有效性，不会触发获取
func (b *Broker) CacheStatus(ctx context.Context) Status {
	status := Status{
		Slots:              make(map[SlotName]SlotStatus, len(AllSlots)),
		AutoRefreshEnabled: b.refreshing(),
	}
	for _, name := range AllSlots {
		st := SlotStatus{State: "expired"}
		if slot, ok := b.lookup(ctx, name); ok {
			expiresAt := slot.ExpiresAt
			st = SlotStatus{State: "valid", ExpiresAt: &expiresAt}
			status.CacheSize++
		}
		status.Slots[name] = st
	}
	return status
}

// ClearCache 使两个槽立即失效，下一次 Credential 调用将重新获取。
// 进行中的获取不会被取消，其结果仍会写入缓存。
func (b *Broker) ClearCache(ctx context.Context) error {
	if err := b.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear credential cache: %w", err)
	}
	slog.Info("凭据缓存已清空")
	return nil
}

// Refresh 清空缓存后并发重新获取两个槽，返回每个槽的错误（成功为 nil）
func (b *Broker) Refresh(ctx context.Context) (map[SlotName]error, error) {
	if err := b.ClearCache(ctx); err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs = make(map[SlotName]error, len(AllSlots))
	)
	for _, name := range AllSlots {
		wg.Add(1)
		go func(name SlotName) {
			defer wg.Done()
			_, err := b.Credential(ctx, name)
			mu.Lock()
			errs[name] = err
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return errs, nil
}
