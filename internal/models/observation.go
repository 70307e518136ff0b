// Package models defines the core domain entities for the coefwatch application.
// These models represent feed observations, forecast results, accuracy records and the
// alert payloads pushed to subscribers. Models that cross a component boundary carry a
// Validate method so each layer can reject malformed data early.
//
// Terminology:
//   - Observation: one coefficient reading from the live feed.
//   - Forecast: the quantile interval and confidence predicted for the next reading.
package models

import (
	"errors"
	"math"
	"time"
)

// Observation is a single coefficient reading captured from the feed.
// It is immutable once recorded into a history window.
type Observation struct {
	Value      float64   `json:"value"`
	RoundID    string    `json:"round_id,omitempty"` // Feed-side round identifier, when the feed exposes one
	CapturedAt time.Time `json:"captured_at"`
}

// Validate checks that the observation carries a finite value and a capture time.
func (o *Observation) Validate() error {
	if math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
		return errors.New("observation value must be a finite number")
	}
	if o.CapturedAt.IsZero() {
		return errors.New("captured at must be set")
	}
	return nil
}
