package manager

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.callResult("dialed")
	m.callResult("dialed")
	m.callResult("rejected")
	m.setActive(3)
	m.engineDeath()
	m.SkippedLine("mediaenc: dtls")
	m.forcedHangup()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.callsTotal.WithLabelValues("dialed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.callsTotal.WithLabelValues("rejected")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.callsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.engineDeaths))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.skippedLines))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.forcedHangups))
}

// TestMetricsNilSafe nil-метрики отключают сбор, не роняя вызывающего
func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics

	require.NotPanics(t, func() {
		m.callResult("dialed")
		m.setActive(1)
		m.observeDuration(12.5)
		m.engineDeath()
		m.event("Answered")
		m.SkippedLine("raw")
		m.forcedHangup()
	})
}
