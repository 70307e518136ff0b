// Package forecast keeps a bounded history of feed observations and predicts the
// next coefficient with a bagged regression-tree ensemble.
//
// The ensemble is fitted on (position → value) pairs of the current window and every
// member predicts position len(window). The spread of those member predictions
// yields the interval and the confidence score:
//
//	lower      = max(1.1, p25(predictions))
//	median     = max(1.3, p50(predictions))
//	upper      = max(1.5, p75(predictions))
//	confidence = clamp(round(70 + 30 × (1 − σ(predictions)/0.3)), 0, 99)
//
// The floors and the confidence formula are fixed constants. They make no claim about
// predictive value.
//
// The model is refitted from scratch on every Forecast call, so the history window is
// the only state the engine carries.
package forecast

import (
	"errors"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/coefwatch/internal/models"
	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientHistory is returned by Forecast until MinHistory observations are recorded.
var ErrInsufficientHistory = errors.New("insufficient history for forecast")

const (
	// MinHistory is the minimum window length required to forecast.
	MinHistory = 10
	// DefaultEnsembleSize is the number of ensemble members fitted per forecast.
	DefaultEnsembleSize = 100

	lowerFloor  = 1.1
	medianFloor = 1.3
	upperFloor  = 1.5

	confidenceBase   = 70.0
	confidenceSpan   = 30.0
	confidenceSpread = 0.3
)

// Engine owns one history window and computes forecasts over it.
// All methods are safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	history *History

	// fitMu guards rng; fitting runs outside mu so Record never waits on it.
	fitMu        sync.Mutex
	ensembleSize int
	rng          *rand.Rand
	now          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithSeed makes ensemble resampling deterministic.
func WithSeed(seed uint64) Option {
	return func(e *Engine) {
		e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithEnsembleSize overrides the member count. Values below DefaultEnsembleSize are ignored.
func WithEnsembleSize(n int) Option {
	return func(e *Engine) {
		if n >= DefaultEnsembleSize {
			e.ensembleSize = n
		}
	}
}

// WithClock overrides the time source used for ComputedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine with an empty history of the given capacity.
func NewEngine(capacity int, opts ...Option) *Engine {
	e := &Engine{
		history:      NewHistory(capacity),
		ensembleSize: DefaultEnsembleSize,
		rng:          rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Record appends an observation to the window. It never fails.
func (e *Engine) Record(obs models.Observation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history.Append(obs)
}

// Len returns the current window length.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Len()
}

// Snapshot returns a copy of the window, oldest first.
func (e *Engine) Snapshot() []models.Observation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Observations()
}

// Forecast fits the ensemble on the current window and predicts the next coefficient.
func (e *Engine) Forecast() (models.ForecastResult, error) {
	e.mu.Lock()
	ys := e.history.Values()
	e.mu.Unlock()

	n := len(ys)
	if n < MinHistory {
		return models.ForecastResult{}, ErrInsufficientHistory
	}

	e.fitMu.Lock()
	defer e.fitMu.Unlock()

	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}

	ens := fitEnsemble(xs, ys, e.ensembleSize, e.rng)
	preds := ens.memberPredictions(float64(n))

	return summarize(preds, e.now()), nil
}

// summarize turns member predictions into a ForecastResult.
func summarize(preds []float64, at time.Time) models.ForecastResult {
	sorted := make([]float64, len(preds))
	copy(sorted, preds)
	sort.Float64s(sorted)

	return models.ForecastResult{
		Lower:      math.Max(lowerFloor, percentile(sorted, 25)),
		Median:     math.Max(medianFloor, percentile(sorted, 50)),
		Upper:      math.Max(upperFloor, percentile(sorted, 75)),
		Confidence: Confidence(stat.PopStdDev(preds, nil)),
		ComputedAt: at,
	}
}

// Confidence maps the population standard deviation of member predictions to a 0..99 score.
func Confidence(stddev float64) int {
	c := math.Round(confidenceBase + confidenceSpan*(1-stddev/confidenceSpread))
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > models.MaxConfidence {
		return models.MaxConfidence
	}
	return int(c)
}

// percentile uses linear interpolation between closest ranks; sorted must be ascending.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
