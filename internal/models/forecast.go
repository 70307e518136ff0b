package models

import (
	"errors"
	"time"
)

// MaxConfidence is the upper bound of a forecast confidence score.
const MaxConfidence = 99

// ForecastResult is the predicted interval for the next observation.
// It is derived from a history snapshot and never mutated after creation.
type ForecastResult struct {
	Lower      float64   `json:"lower"`      // 25th percentile of member predictions, floored at 1.1
	Median     float64   `json:"median"`     // 50th percentile, floored at 1.3
	Upper      float64   `json:"upper"`      // 75th percentile, floored at 1.5
	Confidence int       `json:"confidence"` // 0..99
	ComputedAt time.Time `json:"computed_at"`
}

// Validate checks interval ordering and the confidence range.
func (f *ForecastResult) Validate() error {
	if f.Lower > f.Median {
		return errors.New("lower quantile must be <= median quantile")
	}
	if f.Median > f.Upper {
		return errors.New("median quantile must be <= upper quantile")
	}
	if f.Confidence < 0 || f.Confidence > MaxConfidence {
		return errors.New("confidence must be between 0 and 99")
	}
	if f.ComputedAt.IsZero() {
		return errors.New("computed at must be set")
	}
	return nil
}
