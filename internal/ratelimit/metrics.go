// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"

	"kisproxy/internal/metrics"
)

// Metrics 记录限流决策。nil 值可以安全使用。
type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics 构造采集器并注册到 reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	decisions, err := metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kisproxy",
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Total number of rate limit decisions partitioned by result.",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}
	return &Metrics{decisions: decisions}, nil
}

func (m *Metrics) observe(result string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(result).Inc()
}
