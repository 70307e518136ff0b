package models

// AccuracyRecord is a read-only view of how past forecasts compared with the
// observation that followed them.
type AccuracyRecord struct {
	TotalForecasts   int    `json:"total_forecasts"`
	CorrectForecasts int    `json:"correct_forecasts"`
	RecentOutcomes   []bool `json:"recent_outcomes"` // Oldest first
}

// AccuracyPercent returns correct/total*100, or 0 before any forecast was evaluated.
func (r AccuracyRecord) AccuracyPercent() float64 {
	if r.TotalForecasts == 0 {
		return 0
	}
	return float64(r.CorrectForecasts) / float64(r.TotalForecasts) * 100
}

// RecentCorrect counts correct outcomes in the recent window.
func (r AccuracyRecord) RecentCorrect() int {
	n := 0
	for _, ok := range r.RecentOutcomes {
		if ok {
			n++
		}
	}
	return n
}
