package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kisproxy",
		Name:      "test_total",
		Help:      "test counter",
	}, []string{"result"})
}

// TestRegister_ReusesExisting 测试重复注册时返回已存在的采集器
func TestRegister_ReusesExisting(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := Register(reg, newCounter())
	require.NoError(t, err)

	second, err := Register(reg, newCounter())
	require.NoError(t, err)

	assert.Same(t, first, second)
}

// TestRegister_WrongType 测试同名但类型不同的采集器会返回错误
func TestRegister_WrongType(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := Register(reg, newCounter())
	require.NoError(t, err)

	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kisproxy",
		Name:      "test_total",
		Help:      "test counter",
	}, []string{"result"})
	_, err = Register(reg, gauge)
	assert.Error(t, err)
}
