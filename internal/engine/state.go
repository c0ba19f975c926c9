package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/strategy"
)

// ErrorEntry is one entry of a strategy's rolling error log.
type ErrorEntry struct {
	Time time.Time `json:"time"`
	Msg  string    `json:"msg"`
}

// errorLog is a bounded rolling log; the oldest entry drops when full.
type errorLog struct {
	mu      sync.Mutex
	max     int
	entries []ErrorEntry
}

func newErrorLog(max int) *errorLog {
	return &errorLog{max: max}
}

func (l *errorLog) append(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, ErrorEntry{Time: time.Now(), Msg: msg})
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

func (l *errorLog) snapshot() []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]ErrorEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *errorLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// flipWindow is a per-strategy sliding window of recent submission timestamps.
type flipWindow struct {
	mu    sync.Mutex
	times []time.Time
}

// countSince prunes entries older than the cutoff and returns the remainder.
func (w *flipWindow) countSince(cutoff time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.times = kept
	return len(w.times)
}

func (w *flipWindow) record(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.times = append(w.times, t)
}

// StrategyState is the engine's record wrapping one loaded strategy.
type StrategyState struct {
	ID       string
	Strategy strategy.Strategy
	Config   *strategy.Config

	SubscriptionKeys []string

	// Paused strategies stay registered but receive no evaluation calls.
	Active      bool
	PausedAt    time.Time
	PauseReason string

	LoadedAt time.Time

	// Counters; written by the evaluation thread and the submission worker
	// and read by telemetry snapshots off-thread, so they are atomics.
	EvalCount     atomic.Int64
	SubmitCount   atomic.Int64
	PlacedCount   atomic.Int64
	InflightCount atomic.Int64

	Errors *errorLog
	flip   *flipWindow
}

func (s *StrategyState) addInflight(delta int64) {
	s.InflightCount.Add(delta)
}

func (s *StrategyState) inflight() int64 {
	return s.InflightCount.Load()
}
