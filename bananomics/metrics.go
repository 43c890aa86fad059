package bananomics

import (
	"sync"
	"time"
)

// MetricSample records the outcome of one store client attempt.
type MetricSample struct {
	Timestamp time.Time
	Duration  time.Duration
	Success   bool
}

// MetricsWindow keeps a sliding time window of store operation outcomes for
// health reporting. Every append trims samples older than the window and caps
// the buffer size by dropping the oldest excess.
type MetricsWindow struct {
	mu         sync.Mutex
	window     time.Duration
	maxEntries int
	samples    []MetricSample
}

func NewMetricsWindow(window time.Duration, maxEntries int) *MetricsWindow {
	return &MetricsWindow{
		window:     window,
		maxEntries: maxEntries,
	}
}

func (w *MetricsWindow) Record(ts time.Time, duration time.Duration, success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, MetricSample{Timestamp: ts, Duration: duration, Success: success})
	w.trimLocked(ts)
}

func (w *MetricsWindow) trimLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	first := 0
	for first < len(w.samples) && w.samples[first].Timestamp.Before(cutoff) {
		first++
	}
	if first > 0 {
		w.samples = append(w.samples[:0], w.samples[first:]...)
	}
	if len(w.samples) > w.maxEntries {
		excess := len(w.samples) - w.maxEntries
		w.samples = append(w.samples[:0], w.samples[excess:]...)
	}
}

// FailuresInWindow counts failed attempts newer than now-window. A window of
// zero uses the configured window.
func (w *MetricsWindow) FailuresInWindow(window time.Duration) int {
	if window <= 0 {
		window = w.window
	}
	cutoff := time.Now().Add(-window)

	w.mu.Lock()
	defer w.mu.Unlock()
	failures := 0
	for _, sample := range w.samples {
		if sample.Timestamp.Before(cutoff) {
			continue
		}
		if !sample.Success {
			failures++
		}
	}
	return failures
}

// AverageDurationMs reports the mean attempt duration in milliseconds over
// samples newer than now-window, or 0 when there are none.
func (w *MetricsWindow) AverageDurationMs(window time.Duration) int64 {
	if window <= 0 {
		window = w.window
	}
	cutoff := time.Now().Add(-window)

	w.mu.Lock()
	defer w.mu.Unlock()
	var total time.Duration
	count := 0
	for _, sample := range w.samples {
		if sample.Timestamp.Before(cutoff) {
			continue
		}
		total += sample.Duration
		count++
	}
	if count <= 0 {
		return 0
	}
	return (total / time.Duration(count)).Milliseconds()
}

// Size reports the current number of buffered samples.
func (w *MetricsWindow) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}
