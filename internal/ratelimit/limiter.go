// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

// Package ratelimit 实现按客户端键的滑动窗口限流。
//
// 每个客户端键保存窗口内请求到达的时间戳；每次检查时惰性地剔除超出窗口的条目，
// 追加当前时间并写回存储。计数严格大于上限时拒绝，恰好等于上限仍然放行。
// 存储不可用时放行请求，避免限流器本身成为故障源。
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"time"
)

const (
	// DefaultWindow 是默认的窗口大小
	DefaultWindow = 60 * time.Second
	// DefaultMaxRequests 是窗口内默认允许的请求数
	DefaultMaxRequests = 100
)

// Config 配置 Limiter
type Config struct {
	Window      time.Duration
	MaxRequests int
	Metrics     *Metrics
}

// Result 是一次检查的结果以及响应头所需的元数据
type Result struct {
	Allowed bool

	Limit     int
	Count     int
	Remaining int

	// ResetAt 总是 now + Window，即使请求落在窗口中间
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds 返回 Retry-After 头部的秒数
func (r Result) RetryAfterSeconds() int {
	return int(r.RetryAfter / time.Second)
}

// Limiter 是滑动窗口限流器
type Limiter struct {
	store   Store
	window  time.Duration
	max     int
	metrics *Metrics
}

// New 创建一个新的 Limiter
func New(store Store, cfg Config) *Limiter {
	l := &Limiter{
		store:   store,
		window:  cfg.Window,
		max:     cfg.MaxRequests,
		metrics: cfg.Metrics,
	}
	if l.window <= 0 {
		l.window = DefaultWindow
	}
	if l.max <= 0 {
		l.max = DefaultMaxRequests
	}
	return l
}

// Window 返回窗口大小
func (l *Limiter) Window() time.Duration { return l.window }

// MaxRequests 返回窗口内允许的请求数
func (l *Limiter) MaxRequests() int { return l.max }

// Check 记录一次来自 key 的请求并返回是否放行
func (l *Limiter) Check(ctx context.Context, key string, now time.Time) Result {
	result := Result{
		Limit:      l.max,
		ResetAt:    now.Add(l.window),
		RetryAfter: time.Duration(math.Ceil(l.window.Seconds())) * time.Second,
	}

	timestamps, err := l.store.Load(ctx, key)
	if err != nil {
		return l.failOpen(result, key, err)
	}

	kept := timestamps[:0]
	for _, ts := range timestamps {
		if now.Sub(ts) < l.window {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)

	if err := l.store.Save(ctx, key, kept, l.window); err != nil {
		return l.failOpen(result, key, err)
	}

	result.Count = len(kept)
	if result.Count > l.max {
		l.metrics.observe("limited")
		slog.Debug("请求被限流", "client", key, "count", result.Count, "limit", l.max)
		return result
	}

	result.Allowed = true
	result.Remaining = max(0, l.max-result.Count)
	l.metrics.observe("allowed")
	return result
}

func (l *Limiter) failOpen(result Result, key string, err error) Result {
	slog.Warn("限流存储不可用，放行请求", "client", key, "error", err)
	l.metrics.observe("error")
	result.Allowed = true
	result.Remaining = l.max
	return result
}
