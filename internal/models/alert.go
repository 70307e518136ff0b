package models

import (
	"errors"
)

// AlertPayload is what gets pushed to a subscriber when a forecast clears the
// confidence threshold.
type AlertPayload struct {
	ID              string         `json:"id"`
	SubscriberID    int64          `json:"subscriber_id"`
	Forecast        ForecastResult `json:"forecast"`
	Observation     Observation    `json:"observation"`
	AccuracyPercent float64        `json:"accuracy_percent"`
}

// Validate checks that the payload is addressable and its parts are consistent.
func (a *AlertPayload) Validate() error {
	if a.ID == "" {
		return errors.New("alert ID must not be empty")
	}
	if a.SubscriberID == 0 {
		return errors.New("subscriber ID must be set")
	}
	if err := a.Forecast.Validate(); err != nil {
		return err
	}
	if err := a.Observation.Validate(); err != nil {
		return err
	}
	if a.AccuracyPercent < 0 || a.AccuracyPercent > 100 {
		return errors.New("accuracy percent must be between 0 and 100")
	}
	return nil
}
