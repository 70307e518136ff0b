package forecast

import (
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/coefwatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obs(v float64) models.Observation {
	return models.Observation{Value: v, CapturedAt: time.Now()}
}

func seededEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(DefaultCapacity, WithSeed(7))
}

func TestHistory_EvictsOldest(t *testing.T) {
	h := NewHistory(100)
	for i := 0; i < 101; i++ {
		h.Append(obs(float64(i)))
	}

	require.Equal(t, 100, h.Len())
	vals := h.Values()
	assert.Equal(t, 1.0, vals[0], "oldest observation should be evicted")
	assert.Equal(t, 100.0, vals[99])
	for i := 1; i < len(vals); i++ {
		assert.Less(t, vals[i-1], vals[i], "arrival order must be preserved")
	}
}

func TestHistory_NeverExceedsCapacity(t *testing.T) {
	h := NewHistory(5)
	for i := 0; i < 37; i++ {
		h.Append(obs(float64(i)))
		assert.LessOrEqual(t, h.Len(), 5)
	}
	assert.Equal(t, []float64{32, 33, 34, 35, 36}, h.Values())
}

func TestHistory_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewHistory(0).Capacity())
}

func TestHistory_CapacityCappedAtDefault(t *testing.T) {
	h := NewHistory(500)
	assert.Equal(t, DefaultCapacity, h.Capacity())
	for i := 0; i < 150; i++ {
		h.Append(obs(float64(i)))
	}
	assert.Equal(t, DefaultCapacity, h.Len())
	assert.Equal(t, 50.0, h.Values()[0])
}

func TestForecast_InsufficientHistory(t *testing.T) {
	e := seededEngine(t)
	for i := 0; i < MinHistory-1; i++ {
		e.Record(obs(2.0 + float64(i)))
		_, err := e.Forecast()
		assert.ErrorIs(t, err, ErrInsufficientHistory, "len=%d", i+1)
	}

	e.Record(obs(5.0))
	_, err := e.Forecast()
	assert.NoError(t, err)
}

func TestForecast_ConstantHistorySaturatesConfidence(t *testing.T) {
	e := seededEngine(t)
	for i := 0; i < 20; i++ {
		e.Record(obs(2.4))
	}

	res, err := e.Forecast()
	require.NoError(t, err)
	assert.Equal(t, 99, res.Confidence)
	assert.InDelta(t, 2.4, res.Lower, 1e-9)
	assert.InDelta(t, 2.4, res.Median, 1e-9)
	assert.InDelta(t, 2.4, res.Upper, 1e-9)
}

func TestForecast_FloorsApply(t *testing.T) {
	e := seededEngine(t)
	for i := 0; i < 15; i++ {
		e.Record(obs(1.0))
	}

	res, err := e.Forecast()
	require.NoError(t, err)
	assert.Equal(t, 1.1, res.Lower)
	assert.Equal(t, 1.3, res.Median)
	assert.Equal(t, 1.5, res.Upper)
}

func TestForecast_Invariants(t *testing.T) {
	series := [][]float64{
		{1.0, 5.2, 1.4, 12.0, 1.01, 2.2, 3.3, 1.9, 8.8, 1.2, 1.5},
		{1.2, 1.3, 1.25, 1.4, 1.35, 1.3, 1.28, 1.31, 1.29, 1.33},
		{100, 1, 100, 1, 100, 1, 100, 1, 100, 1, 100, 1},
	}

	for _, s := range series {
		e := seededEngine(t)
		for _, v := range s {
			e.Record(obs(v))
		}
		res, err := e.Forecast()
		require.NoError(t, err)

		assert.LessOrEqual(t, res.Lower, res.Median)
		assert.LessOrEqual(t, res.Median, res.Upper)
		assert.GreaterOrEqual(t, res.Lower, 1.1)
		assert.GreaterOrEqual(t, res.Median, 1.3)
		assert.GreaterOrEqual(t, res.Upper, 1.5)
		assert.GreaterOrEqual(t, res.Confidence, 0)
		assert.LessOrEqual(t, res.Confidence, 99)
		assert.NoError(t, res.Validate())
	}
}

func TestForecast_DeterministicWithSeed(t *testing.T) {
	values := []float64{1.3, 2.8, 1.1, 4.5, 1.9, 2.2, 1.05, 3.4, 1.7, 2.6, 1.4}
	run := func() models.ForecastResult {
		e := NewEngine(DefaultCapacity, WithSeed(99), WithClock(func() time.Time { return time.Unix(0, 0) }))
		for _, v := range values {
			e.Record(obs(v))
		}
		res, err := e.Forecast()
		require.NoError(t, err)
		return res
	}

	assert.Equal(t, run(), run())
}

func TestForecast_DoesNotMutateHistory(t *testing.T) {
	e := seededEngine(t)
	for i := 0; i < 12; i++ {
		e.Record(obs(float64(i%4) + 1))
	}
	before := e.Snapshot()

	_, err := e.Forecast()
	require.NoError(t, err)
	assert.Equal(t, before, e.Snapshot())
}

func TestWithEnsembleSize_IgnoresSmallValues(t *testing.T) {
	assert.Equal(t, DefaultEnsembleSize, NewEngine(10, WithEnsembleSize(5)).ensembleSize)
	assert.Equal(t, 250, NewEngine(10, WithEnsembleSize(250)).ensembleSize)
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		stddev float64
		want   int
	}{
		{0, 99},
		{0.3, 70},
		{0.15, 85},
		{0.6, 40},
		{0.01, 99},
		{10, 0},
		{math.NaN(), 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Confidence(tt.stddev), "stddev=%v", tt.stddev)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	assert.InDelta(t, 1.75, percentile(sorted, 25), 1e-12)
	assert.InDelta(t, 2.5, percentile(sorted, 50), 1e-12)
	assert.InDelta(t, 3.25, percentile(sorted, 75), 1e-12)
	assert.Equal(t, 7.0, percentile([]float64{7}, 50))
}

func TestRegressionTree_ExtrapolatesFromRightmostLeaf(t *testing.T) {
	samples := []sample{{0, 1}, {1, 1}, {2, 5}, {3, 5}}
	tree := fitTree(samples)

	assert.Equal(t, 1.0, tree.predict(0.5))
	assert.Equal(t, 5.0, tree.predict(4))
}
