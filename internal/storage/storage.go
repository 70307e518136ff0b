// Package storage persists subscriber state in SQLite so monitoring survives a
// restart. It records whether each subscriber had monitoring switched on and their
// forecast accuracy counters.
//
// Store implements monitor.Observer: the scheduler writes through it on every
// Start/Stop and after every evaluated forecast. Scheduler shutdown does not mark
// subscribers as stopped, so their loops are resumed on the next startup.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rewired-gh/coefwatch/internal/accuracy"
	"github.com/rewired-gh/coefwatch/internal/logger"
	"github.com/rewired-gh/coefwatch/internal/models"
	"github.com/rewired-gh/coefwatch/internal/monitor"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS subscribers (
	id                INTEGER PRIMARY KEY,
	monitoring        INTEGER NOT NULL DEFAULT 0,
	total_forecasts   INTEGER NOT NULL DEFAULT 0,
	correct_forecasts INTEGER NOT NULL DEFAULT 0,
	recent_outcomes   TEXT    NOT NULL DEFAULT '',
	updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_subscribers_monitoring ON subscribers(monitoring);
`

// Subscriber is a persisted subscriber row.
type Subscriber struct {
	ID         int64
	Monitoring bool
	Accuracy   models.AccuracyRecord
	UpdatedAt  time.Time
}

// Store is a SQLite-backed subscriber store
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) the database at dbPath. ":memory:" gives a private
// in-memory database.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database lives on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SetMonitoring records whether the subscriber has monitoring switched on.
func (s *Store) SetMonitoring(id int64, monitoring bool) error {
	_, err := s.db.Exec(`
		INSERT INTO subscribers (id, monitoring, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET monitoring = excluded.monitoring, updated_at = excluded.updated_at`,
		id, boolToInt(monitoring), s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to set monitoring for subscriber %d: %w", id, err)
	}
	return nil
}

// SaveAccuracy stores the subscriber's accuracy counters.
func (s *Store) SaveAccuracy(id int64, record models.AccuracyRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO subscribers (id, total_forecasts, correct_forecasts, recent_outcomes, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_forecasts = excluded.total_forecasts,
			correct_forecasts = excluded.correct_forecasts,
			recent_outcomes = excluded.recent_outcomes,
			updated_at = excluded.updated_at`,
		id, record.TotalForecasts, record.CorrectForecasts, encodeOutcomes(record.RecentOutcomes), s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save accuracy for subscriber %d: %w", id, err)
	}
	return nil
}

// LoadAll returns every persisted subscriber ordered by ID.
func (s *Store) LoadAll() ([]Subscriber, error) {
	rows, err := s.db.Query(`
		SELECT id, monitoring, total_forecasts, correct_forecasts, recent_outcomes, updated_at
		FROM subscribers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribers: %w", err)
	}
	defer rows.Close()

	var subs []Subscriber
	for rows.Next() {
		var (
			sub        Subscriber
			monitoring int
			outcomes   string
			updatedAt  int64
		)
		if err := rows.Scan(&sub.ID, &monitoring, &sub.Accuracy.TotalForecasts,
			&sub.Accuracy.CorrectForecasts, &outcomes, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		sub.Monitoring = monitoring != 0
		sub.Accuracy.RecentOutcomes = decodeOutcomes(outcomes)
		sub.UpdatedAt = time.Unix(0, updatedAt)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subscribers: %w", err)
	}
	return subs, nil
}

// SessionChanged implements monitor.Observer.
func (s *Store) SessionChanged(id int64, active bool) {
	if err := s.SetMonitoring(id, active); err != nil {
		logger.Error("Failed to persist monitoring state: %v", err)
	}
}

// CycleCompleted implements monitor.Observer. Only cycles that evaluated a
// forecast change the accuracy record.
func (s *Store) CycleCompleted(id int64, result monitor.CycleResult) {
	switch result.Outcome {
	case monitor.OutcomeAlerted, monitor.OutcomeDeliveryFailed, monitor.OutcomeForecast:
	default:
		return
	}
	if err := s.SaveAccuracy(id, result.Accuracy); err != nil {
		logger.Error("Failed to persist accuracy: %v", err)
	}
}

// encodeOutcomes stores outcomes oldest first as a string of '1' and '0'.
func encodeOutcomes(outcomes []bool) string {
	if len(outcomes) > accuracy.RecentWindow {
		outcomes = outcomes[len(outcomes)-accuracy.RecentWindow:]
	}
	var b strings.Builder
	for _, ok := range outcomes {
		if ok {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

func decodeOutcomes(s string) []bool {
	outcomes := make([]bool, 0, len(s))
	for _, c := range s {
		outcomes = append(outcomes, c == '1')
	}
	return outcomes
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
