package bananomics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsWindow_CountsFailures(t *testing.T) {
	w := NewMetricsWindow(5*time.Minute, 500)
	now := time.Now()

	w.Record(now, 10*time.Millisecond, true)
	w.Record(now, 20*time.Millisecond, false)
	w.Record(now, 30*time.Millisecond, false)

	assert.Equal(t, 2, w.FailuresInWindow(0))
	assert.Equal(t, 3, w.Size())
}

func TestMetricsWindow_TrimsExpiredSamples(t *testing.T) {
	w := NewMetricsWindow(time.Minute, 500)
	now := time.Now()

	w.Record(now.Add(-2*time.Minute), 10*time.Millisecond, false)
	w.Record(now.Add(-90*time.Second), 10*time.Millisecond, false)
	assert.Equal(t, 2, w.Size())

	// The fresh append trims everything behind the window.
	w.Record(now, 10*time.Millisecond, false)
	assert.Equal(t, 1, w.Size())
	assert.Equal(t, 1, w.FailuresInWindow(0))
}

func TestMetricsWindow_CapsEntries(t *testing.T) {
	w := NewMetricsWindow(time.Hour, 3)
	now := time.Now()

	for i := 0; i < 5; i++ {
		w.Record(now, time.Millisecond, false)
	}
	assert.Equal(t, 3, w.Size())
}

func TestMetricsWindow_AverageDuration(t *testing.T) {
	w := NewMetricsWindow(time.Minute, 500)
	now := time.Now()

	assert.Equal(t, int64(0), w.AverageDurationMs(0))

	w.Record(now, 10*time.Millisecond, true)
	w.Record(now, 20*time.Millisecond, false)
	assert.Equal(t, int64(15), w.AverageDurationMs(0))
}
