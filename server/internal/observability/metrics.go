package observability

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects and aggregates dispatch metrics per route kind
// ("message", "command:SEARCH", ...).
type Metrics struct {
	mu sync.Mutex

	requestTotal  atomic.Int64
	requestFailed atomic.Int64

	kinds map[string]*KindMetrics

	durations    []time.Duration
	maxDurations int
}

// KindMetrics represents metrics for a specific dispatch kind.
type KindMetrics struct {
	executionCount atomic.Int64
	totalDuration  atomic.Int64 // milliseconds
	errorCount     atomic.Int64
}

// NewMetrics creates a new metrics collector.
func NewMetrics(maxDurations int) *Metrics {
	if maxDurations <= 0 {
		maxDurations = 1000
	}
	return &Metrics{
		kinds:        make(map[string]*KindMetrics),
		durations:    make([]time.Duration, 0, maxDurations),
		maxDurations: maxDurations,
	}
}

// RecordRequest records a request.
func (m *Metrics) RecordRequest(kind string) {
	m.requestTotal.Add(1)
	m.kindMetrics(kind).executionCount.Add(1)
}

// RecordFailure records a failed request.
func (m *Metrics) RecordFailure(kind string) {
	m.requestFailed.Add(1)
	m.kindMetrics(kind).errorCount.Add(1)
}

// RecordDuration records a request duration.
func (m *Metrics) RecordDuration(kind string, duration time.Duration) {
	km := m.kindMetrics(kind)
	km.totalDuration.Add(duration.Milliseconds())

	m.mu.Lock()
	if len(m.durations) >= m.maxDurations {
		m.durations = m.durations[1:]
	}
	m.durations = append(m.durations, duration)
	m.mu.Unlock()
}

// kindMetrics gets or creates the metrics for kind.
func (m *Metrics) kindMetrics(kind string) *KindMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	km, ok := m.kinds[kind]
	if !ok {
		km = &KindMetrics{}
		m.kinds[kind] = km
	}
	return km
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.requestTotal.Store(0)
	m.requestFailed.Store(0)

	m.mu.Lock()
	m.kinds = make(map[string]*KindMetrics)
	m.durations = make([]time.Duration, 0, m.maxDurations)
	m.mu.Unlock()
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	kinds := make(map[string]*KindSnapshot, len(m.kinds))
	for kind, km := range m.kinds {
		count := km.executionCount.Load()
		snap := &KindSnapshot{
			ExecutionCount: count,
			TotalDuration:  km.totalDuration.Load(),
			ErrorCount:     km.errorCount.Load(),
		}
		if count > 0 {
			snap.AverageDuration = snap.TotalDuration / count
		}
		kinds[kind] = snap
	}

	return &MetricsSnapshot{
		RequestTotal:  m.requestTotal.Load(),
		RequestFailed: m.requestFailed.Load(),
		Kinds:         kinds,
		DurationCount: len(m.durations),
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	RequestTotal  int64                    `json:"request_total"`
	RequestFailed int64                    `json:"request_failed"`
	Kinds         map[string]*KindSnapshot `json:"kinds"`
	DurationCount int                      `json:"duration_count"`
}

// KindSnapshot represents metrics for a specific dispatch kind.
type KindSnapshot struct {
	ExecutionCount  int64 `json:"execution_count"`
	TotalDuration   int64 `json:"total_duration_ms"`
	ErrorCount      int64 `json:"error_count"`
	AverageDuration int64 `json:"average_duration_ms"`
}

// SuccessRate returns the success rate as a percentage (0-100).
func (s *MetricsSnapshot) SuccessRate() float64 {
	if s.RequestTotal == 0 {
		return 100.0
	}
	return float64(s.RequestTotal-s.RequestFailed) / float64(s.RequestTotal) * 100.0
}

// KindNames returns the recorded kinds in sorted order.
func (s *MetricsSnapshot) KindNames() []string {
	names := make([]string, 0, len(s.Kinds))
	for name := range s.Kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
