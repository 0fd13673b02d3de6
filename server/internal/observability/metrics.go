package observability

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Pipeline stages tracked by Metrics.
const (
	StageTranscribe = "transcribe"
	StageChat       = "chat"
	StageSpeak      = "speak"
	StagePersist    = "persist"
)

// Metrics collects and aggregates metrics for turn processing.
type Metrics struct {
	mu sync.Mutex

	turnTotal    atomic.Int64
	turnFailed   atomic.Int64
	turnRejected atomic.Int64
	// micro-USD, kept integral for atomic adds
	costMicroUSD atomic.Int64

	stageMetrics map[string]*StageMetrics

	durations    []time.Duration
	maxDurations int
}

// StageMetrics represents metrics for a single pipeline stage.
type StageMetrics struct {
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
		stageMetrics: make(map[string]*StageMetrics),
		durations:    make([]time.Duration, 0, maxDurations),
		maxDurations: maxDurations,
	}
}

var globalMetrics = NewMetrics(1000)

// GlobalMetrics returns the global metrics instance.
func GlobalMetrics() *Metrics {
	return globalMetrics
}

// RecordTurn records a completed turn with its total duration and cost.
func (m *Metrics) RecordTurn(duration time.Duration, costUSD float64) {
	m.turnTotal.Add(1)
	m.costMicroUSD.Add(int64(costUSD * 1e6))

	m.mu.Lock()
	if len(m.durations) >= m.maxDurations {
		m.durations = m.durations[1:]
	}
	m.durations = append(m.durations, duration)
	m.mu.Unlock()
}

// RecordTurnFailure records a turn that failed after admission.
func (m *Metrics) RecordTurnFailure() {
	m.turnTotal.Add(1)
	m.turnFailed.Add(1)
}

// RecordRejection records a turn refused by validation or admission control.
func (m *Metrics) RecordRejection() {
	m.turnRejected.Add(1)
}

// RecordStage records one execution of a pipeline stage.
func (m *Metrics) RecordStage(stage string, duration time.Duration, err error) {
	sm := m.getStageMetrics(stage)
	sm.executionCount.Add(1)
	sm.totalDuration.Add(duration.Milliseconds())
	if err != nil {
		sm.errorCount.Add(1)
	}
}

func (m *Metrics) getStageMetrics(stage string) *StageMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	sm, ok := m.stageMetrics[stage]
	if !ok {
		sm = &StageMetrics{}
		m.stageMetrics[stage] = sm
	}
	return sm
}

// GetTurnTotal returns the total number of admitted turns.
func (m *Metrics) GetTurnTotal() int64 {
	return m.turnTotal.Load()
}

// GetTurnFailed returns the number of admitted turns that failed.
func (m *Metrics) GetTurnFailed() int64 {
	return m.turnFailed.Load()
}

// GetAverageDuration returns the average duration in milliseconds for a stage.
func (m *Metrics) GetAverageDuration(stage string) int64 {
	sm := m.getStageMetrics(stage)
	count := sm.executionCount.Load()
	if count == 0 {
		return 0
	}
	return sm.totalDuration.Load() / count
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.turnTotal.Store(0)
	m.turnFailed.Store(0)
	m.turnRejected.Store(0)
	m.costMicroUSD.Store(0)

	m.mu.Lock()
	m.stageMetrics = make(map[string]*StageMetrics)
	m.durations = make([]time.Duration, 0, m.maxDurations)
	m.mu.Unlock()
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	stages := make(map[string]*StageMetricsSnapshot, len(m.stageMetrics))
	for stage, sm := range m.stageMetrics {
		count := sm.executionCount.Load()
		snap := &StageMetricsSnapshot{
			ExecutionCount: count,
			TotalDuration:  sm.totalDuration.Load(),
			ErrorCount:     sm.errorCount.Load(),
		}
		if count > 0 {
			snap.AverageDuration = snap.TotalDuration / count
		}
		stages[stage] = snap
	}

	var p95 time.Duration
	if n := len(m.durations); n > 0 {
		sorted := make([]time.Duration, n)
		copy(sorted, m.durations)
		slices.Sort(sorted)
		p95 = sorted[(n*95-1)/100]
	}

	return &MetricsSnapshot{
		TurnTotal:    m.turnTotal.Load(),
		TurnFailed:   m.turnFailed.Load(),
		TurnRejected: m.turnRejected.Load(),
		CostUSD:      float64(m.costMicroUSD.Load()) / 1e6,
		Stages:       stages,
		P95TurnMs:    p95.Milliseconds(),
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	TurnTotal    int64                            `json:"turnTotal"`
	TurnFailed   int64                            `json:"turnFailed"`
	TurnRejected int64                            `json:"turnRejected"`
	CostUSD      float64                          `json:"costUsd"`
	Stages       map[string]*StageMetricsSnapshot `json:"stages"`
	P95TurnMs    int64                            `json:"p95TurnMs"`
}

// StageMetricsSnapshot represents metrics for a single stage.
type StageMetricsSnapshot struct {
	ExecutionCount  int64 `json:"executionCount"`
	TotalDuration   int64 `json:"totalDurationMs"`
	ErrorCount      int64 `json:"errorCount"`
	AverageDuration int64 `json:"averageDurationMs"`
}

// SuccessRate returns the success rate as a percentage (0-100).
func (s *MetricsSnapshot) SuccessRate() float64 {
	if s.TurnTotal == 0 {
		return 100.0
	}
	return float64(s.TurnTotal-s.TurnFailed) / float64(s.TurnTotal) * 100.0
}
