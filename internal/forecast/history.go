package forecast

import (
	"github.com/rewired-gh/coefwatch/internal/models"
)

// DefaultCapacity is the number of observations kept per history window.
const DefaultCapacity = 100

// History is a bounded FIFO of observations in arrival order.
// It is not safe for concurrent use; Engine serializes access to it.
type History struct {
	items    []models.Observation
	capacity int
}

// NewHistory creates a history window holding at most capacity observations.
// A non-positive capacity, or one above DefaultCapacity, becomes DefaultCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 || capacity > DefaultCapacity {
		capacity = DefaultCapacity
	}
	return &History{
		items:    make([]models.Observation, 0, capacity),
		capacity: capacity,
	}
}

// Append adds obs at the tail, evicting the oldest entry once capacity is exceeded.
func (h *History) Append(obs models.Observation) {
	if len(h.items) == h.capacity {
		copy(h.items, h.items[1:])
		h.items = h.items[:len(h.items)-1]
	}
	h.items = append(h.items, obs)
}

// Len returns the number of observations held.
func (h *History) Len() int {
	return len(h.items)
}

// Capacity returns the maximum number of observations held.
func (h *History) Capacity() int {
	return h.capacity
}

// Observations returns a copy of the window, oldest first.
func (h *History) Observations() []models.Observation {
	out := make([]models.Observation, len(h.items))
	copy(out, h.items)
	return out
}

// Values returns the observed coefficients, oldest first.
func (h *History) Values() []float64 {
	out := make([]float64, len(h.items))
	for i, o := range h.items {
		out[i] = o.Value
	}
	return out
}
