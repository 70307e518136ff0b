package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rewired-gh/coefwatch/internal/models"
	"github.com/rewired-gh/coefwatch/internal/monitor"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SetMonitoring(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetMonitoring(42, true); err != nil {
		t.Fatalf("SetMonitoring failed: %v", err)
	}
	if err := s.SetMonitoring(7, true); err != nil {
		t.Fatalf("SetMonitoring failed: %v", err)
	}
	if err := s.SetMonitoring(42, false); err != nil {
		t.Fatalf("SetMonitoring failed: %v", err)
	}

	subs, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("Expected 2 subscribers, got %d", len(subs))
	}
	// Ordered by ID
	if subs[0].ID != 7 || !subs[0].Monitoring {
		t.Errorf("Expected subscriber 7 monitoring, got %+v", subs[0])
	}
	if subs[1].ID != 42 || subs[1].Monitoring {
		t.Errorf("Expected subscriber 42 stopped, got %+v", subs[1])
	}
}

func TestStore_SaveAccuracyKeepsMonitoringFlag(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetMonitoring(1, true); err != nil {
		t.Fatalf("SetMonitoring failed: %v", err)
	}
	record := models.AccuracyRecord{
		TotalForecasts:   5,
		CorrectForecasts: 3,
		RecentOutcomes:   []bool{true, false, true, false, true},
	}
	if err := s.SaveAccuracy(1, record); err != nil {
		t.Fatalf("SaveAccuracy failed: %v", err)
	}

	subs, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", len(subs))
	}
	got := subs[0]
	if !got.Monitoring {
		t.Error("SaveAccuracy should not reset the monitoring flag")
	}
	if got.Accuracy.TotalForecasts != 5 || got.Accuracy.CorrectForecasts != 3 {
		t.Errorf("Unexpected counters: %+v", got.Accuracy)
	}
	want := []bool{true, false, true, false, true}
	if len(got.Accuracy.RecentOutcomes) != len(want) {
		t.Fatalf("Expected %d recent outcomes, got %d", len(want), len(got.Accuracy.RecentOutcomes))
	}
	for i := range want {
		if got.Accuracy.RecentOutcomes[i] != want[i] {
			t.Errorf("Outcome %d: expected %v, got %v", i, want[i], got.Accuracy.RecentOutcomes[i])
		}
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set")
	}
}

func TestStore_EncodeOutcomesKeepsRecentWindow(t *testing.T) {
	outcomes := make([]bool, 15)
	outcomes[14] = true

	encoded := encodeOutcomes(outcomes)
	if encoded != "0000000001" {
		t.Errorf("Expected last 10 outcomes, got %q", encoded)
	}

	decoded := decodeOutcomes("")
	if len(decoded) != 0 {
		t.Errorf("Expected no outcomes, got %v", decoded)
	}
}

func TestStore_Observer(t *testing.T) {
	s := newTestStore(t)
	record := models.AccuracyRecord{TotalForecasts: 2, CorrectForecasts: 2, RecentOutcomes: []bool{true, true}}

	s.SessionChanged(9, true)
	// Cycles that did not evaluate a forecast are ignored
	s.CycleCompleted(9, monitor.CycleResult{Outcome: monitor.OutcomeFetchFailed, Err: errors.New("down")})
	s.CycleCompleted(9, monitor.CycleResult{Outcome: monitor.OutcomeBelowThreshold, Accuracy: models.AccuracyRecord{TotalForecasts: 99}})
	s.CycleCompleted(9, monitor.CycleResult{Outcome: monitor.OutcomeAlerted, Accuracy: record})

	subs, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", len(subs))
	}
	if !subs[0].Monitoring {
		t.Error("Expected subscriber to be monitoring")
	}
	if subs[0].Accuracy.TotalForecasts != 2 {
		t.Errorf("Expected 2 forecasts, got %d", subs[0].Accuracy.TotalForecasts)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "coefwatch.db")

	s, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	if err := s.SetMonitoring(3, true); err != nil {
		t.Fatalf("SetMonitoring failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	subs, err := reopened.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != 3 || !subs[0].Monitoring {
		t.Fatalf("Unexpected subscribers after reopen: %+v", subs)
	}
	if !subs[0].UpdatedAt.Equal(fixed) {
		t.Errorf("Expected UpdatedAt %v, got %v", fixed, subs[0].UpdatedAt)
	}
}
