package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/rewired-gh/coefwatch/internal/forecast"
	"github.com/rewired-gh/coefwatch/internal/models"
)

// FeedSource produces the latest coefficient from the live feed.
// Any error is treated as "no data this cycle".
type FeedSource interface {
	FetchObservation(ctx context.Context) (models.Observation, error)
}

// Alerter pushes an alert to a single subscriber.
// Delivery errors are logged by the scheduler and never retried by it.
type Alerter interface {
	Deliver(ctx context.Context, subscriberID int64, payload models.AlertPayload) error
}

// Observer receives lifecycle and per-cycle notifications. Implementations must not block.
type Observer interface {
	SessionChanged(subscriberID int64, active bool)
	CycleCompleted(subscriberID int64, result CycleResult)
}

var (
	// ErrAlreadyActive is returned by Start when the subscriber is already being monitored.
	ErrAlreadyActive = errors.New("monitoring already active")
	// ErrAlreadyStopped is returned by Stop when the subscriber is not being monitored.
	ErrAlreadyStopped = errors.New("monitoring already stopped")
	// ErrFeedUnavailable wraps feed failures surfaced to on-demand callers.
	ErrFeedUnavailable = errors.New("feed unavailable")
	// ErrInsufficientHistory is surfaced to on-demand callers as "try again later".
	ErrInsufficientHistory = forecast.ErrInsufficientHistory
	// ErrClosed is returned once Shutdown has been called.
	ErrClosed = errors.New("scheduler is shut down")
)

// Outcome classifies how a single poll cycle ended.
type Outcome string

const (
	OutcomeFetchFailed         Outcome = "fetch_failed"
	OutcomeDropped             Outcome = "dropped" // session stopped while the fetch was in flight
	OutcomeInsufficientHistory Outcome = "insufficient_history"
	OutcomeBelowThreshold      Outcome = "below_threshold"
	OutcomeAlerted             Outcome = "alerted"
	OutcomeDeliveryFailed      Outcome = "delivery_failed"
	OutcomeForecast            Outcome = "forecast" // on-demand forecast returned to the caller
)

// CycleResult describes one completed cycle for observers.
type CycleResult struct {
	Outcome  Outcome
	OnDemand bool
	Forecast models.ForecastResult // zero unless a forecast was computed
	Accuracy models.AccuracyRecord
	Duration time.Duration
	Err      error
}

// SessionStatus is a read-only view of a subscriber's monitoring state.
type SessionStatus struct {
	SubscriberID int64
	Active       bool
	StartedAt    time.Time
	HistoryLen   int
}
