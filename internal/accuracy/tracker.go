// Package accuracy keeps a rolling record of how close forecasts came to the
// observation that followed them.
package accuracy

import (
	"math"
	"sync"

	"github.com/rewired-gh/coefwatch/internal/models"
)

const (
	// Tolerance is the maximum absolute error, exclusive, for a forecast to count as correct.
	Tolerance = 0.2
	// RecentWindow is the number of most recent outcomes retained.
	RecentWindow = 10
)

// Tracker accumulates forecast outcomes. It is safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	total   int
	correct int
	recent  []bool
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{recent: make([]bool, 0, RecentWindow)}
}

// Evaluate records one forecast/actual pair and reports whether it was within tolerance.
func (t *Tracker) Evaluate(predictedMedian, actual float64) bool {
	ok := math.Abs(predictedMedian-actual) < Tolerance

	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	if ok {
		t.correct++
	}
	if len(t.recent) == RecentWindow {
		copy(t.recent, t.recent[1:])
		t.recent = t.recent[:len(t.recent)-1]
	}
	t.recent = append(t.recent, ok)
	return ok
}

// Snapshot returns a copy of the current record.
func (t *Tracker) Snapshot() models.AccuracyRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	recent := make([]bool, len(t.recent))
	copy(recent, t.recent)
	return models.AccuracyRecord{
		TotalForecasts:   t.total,
		CorrectForecasts: t.correct,
		RecentOutcomes:   recent,
	}
}

// AccuracyPercent is shorthand for Snapshot().AccuracyPercent().
func (t *Tracker) AccuracyPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.total == 0 {
		return 0
	}
	return float64(t.correct) / float64(t.total) * 100
}

// Restore replaces the tracker state with a previously saved record.
// Only the last RecentWindow outcomes are kept.
func (t *Tracker) Restore(r models.AccuracyRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total = r.TotalForecasts
	t.correct = r.CorrectForecasts
	outcomes := r.RecentOutcomes
	if len(outcomes) > RecentWindow {
		outcomes = outcomes[len(outcomes)-RecentWindow:]
	}
	t.recent = append(make([]bool, 0, RecentWindow), outcomes...)
}
