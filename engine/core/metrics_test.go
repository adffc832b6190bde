package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsAverage(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.010)
	}
	assert.InDelta(t, 10.0, m.FrameTime(), 1e-9)
}

func TestMetricsFPS(t *testing.T) {
	m := NewMetrics()
	reported := false
	for i := 0; i < 61 && !reported; i++ {
		reported = m.Update(1.0 / 60.0)
	}
	assert.True(t, reported)
	fps, _ := m.Frame()
	assert.InDelta(t, 60.0, fps, 1.0)
}
