package svcmetrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// PoolStats holds the counters exposed to the /health route.
// performedExports + droppedExports <= exportAttempts at all times: a job
// still in flight is neither.
type PoolStats struct {
	exportAttempts          atomic.Int64
	performedExports        atomic.Int64
	droppedExports          atomic.Int64
	exportFromSvgAttempts   atomic.Int64
	timeSpentMillis         atomic.Int64

	reg *Registry

	buckets *movingAverage
}

// NewPoolStats builds a PoolStats view over reg's counters and starts a
// 30-minute moving-average success rate tracked over 1-minute buckets.
func NewPoolStats(reg *Registry) *PoolStats {
	return &PoolStats{
		reg:     reg,
		buckets: newMovingAverage(30),
	}
}

func (s *PoolStats) RecordAttempt(fromSVG bool) {
	s.exportAttempts.Add(1)
	if fromSVG {
		s.exportFromSvgAttempts.Add(1)
	}
	if s.reg != nil {
		s.reg.ExportAttemptsTotal.Inc()
	}
}

func (s *PoolStats) RecordPerformed(duration time.Duration) {
	s.performedExports.Add(1)
	s.timeSpentMillis.Add(duration.Milliseconds())
	if s.reg != nil {
		s.reg.ExportPerformedTotal.Inc()
		s.reg.ExportDuration.Observe(duration.Seconds())
	}
	s.buckets.recordSuccess()
}

// Tick rotates the moving-average ring by one bucket. Called once a
// minute by a timer owned by the lifecycle package.
func (s *PoolStats) Tick() {
	s.buckets.Tick()
}

func (s *PoolStats) RecordDropped() {
	s.droppedExports.Add(1)
	if s.reg != nil {
		s.reg.ExportDroppedTotal.Inc()
	}
	s.buckets.recordFailure()
}

// Snapshot is the JSON-serialisable view returned by GET /health.
type Snapshot struct {
	ExportAttempts        int64   `json:"exportAttempts"`
	PerformedExports      int64   `json:"performedExports"`
	DroppedExports        int64   `json:"droppedExports"`
	ExportFromSvgAttempts int64   `json:"exportFromSvgAttempts"`
	TimeSpent             int64   `json:"timeSpent"`
	SpentAverage          float64 `json:"spentAverage"`
	MovingAverageSuccess  float64 `json:"movingAverageSuccessRate"`
}

func (s *PoolStats) Snapshot() Snapshot {
	performed := s.performedExports.Load()
	timeSpent := s.timeSpentMillis.Load()

	var avg float64
	if performed > 0 {
		avg = float64(timeSpent) / float64(performed)
	}

	return Snapshot{
		ExportAttempts:        s.exportAttempts.Load(),
		PerformedExports:      performed,
		DroppedExports:        s.droppedExports.Load(),
		ExportFromSvgAttempts: s.exportFromSvgAttempts.Load(),
		TimeSpent:             timeSpent,
		SpentAverage:          avg,
		MovingAverageSuccess:  s.buckets.rate(),
	}
}

// movingAverage tracks success/failure counts over a ring of 1-minute
// buckets, windowSize minutes wide. A single background ticker (started
// by the lifecycle package) calls Tick once a minute to rotate the ring.
type movingAverage struct {
	mu       sync.Mutex
	success  []int64
	failure  []int64
	head     int
	windowSize int
}

func newMovingAverage(windowMinutes int) *movingAverage {
	return &movingAverage{
		success:    make([]int64, windowMinutes),
		failure:    make([]int64, windowMinutes),
		windowSize: windowMinutes,
	}
}

func (m *movingAverage) recordSuccess() {
	m.mu.Lock()
	m.success[m.head]++
	m.mu.Unlock()
}

func (m *movingAverage) recordFailure() {
	m.mu.Lock()
	m.failure[m.head]++
	m.mu.Unlock()
}

// Tick rotates the ring by one bucket, discarding the oldest minute.
func (m *movingAverage) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = (m.head + 1) % m.windowSize
	m.success[m.head] = 0
	m.failure[m.head] = 0
}

func (m *movingAverage) rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var succ, fail int64
	for i := range m.success {
		succ += m.success[i]
		fail += m.failure[i]
	}
	total := succ + fail
	if total == 0 {
		return 1.0
	}
	return float64(succ) / float64(total)
}
