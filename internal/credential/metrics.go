// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package credential

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"kisproxy/internal/metrics"
)

// Metrics 封装了凭据代理的 Prometheus 采集器。nil 值可以安全使用。
type Metrics struct {
	acquisitions *prometheus.CounterVec
	lookups      *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// NewMetrics 构造采集器并注册到 reg，reg 为空时使用默认注册表
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	acquisitions, err := metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kisproxy",
		Subsystem: "credential",
		Name:      "acquisitions_total",
		Help:      "Total number of credential acquisition round-trips partitioned by slot and result.",
	}, []string{"slot", "result"}))
	if err != nil {
		return nil, err
	}

	lookups, err := metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kisproxy",
		Subsystem: "credential",
		Name:      "cache_lookups_total",
		Help:      "Total number of credential cache lookups partitioned by slot and hit/miss.",
	}, []string{"slot", "result"}))
	if err != nil {
		return nil, err
	}

	duration, err := metrics.Register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kisproxy",
		Subsystem: "credential",
		Name:      "acquisition_duration_seconds",
		Help:      "Histogram of credential acquisition latencies in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"slot"}))
	if err != nil {
		return nil, err
	}

	return &Metrics{acquisitions: acquisitions, lookups: lookups, duration: duration}, nil
}

func (m *Metrics) observeLookup(name SlotName, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.WithLabelValues(string(name), result).Inc()
}

func (m *Metrics) observeAcquisition(name SlotName, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.acquisitions.WithLabelValues(string(name), result).Inc()
	m.duration.WithLabelValues(string(name)).Observe(elapsed.Seconds())
}
