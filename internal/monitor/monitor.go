// Package monitor runs one polling loop per subscriber and pushes forecast alerts.
//
// Each cycle of a subscriber's loop is strictly sequential:
//
//	fetch → record → forecast → (confidence ≥ threshold) deliver → evaluate
//
// A failed fetch skips the cycle without touching history. A forecast on a short
// history is skipped silently. After every cycle the loop sleeps for the configured
// interval and re-checks whether its session is still active.
//
// Stop is cooperative: it marks the session inactive and wakes the loop from its
// sleep, but never interrupts a feed call already in flight. An observation that
// arrives after its session was stopped is dropped, so a stop/start pair never
// leaves two writers on one history. History and accuracy survive Stop; a later
// Start resumes with them.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/coefwatch/internal/accuracy"
	"github.com/rewired-gh/coefwatch/internal/forecast"
	"github.com/rewired-gh/coefwatch/internal/logger"
	"github.com/rewired-gh/coefwatch/internal/models"
)

const (
	// DefaultInterval is the pause between two cycles of a loop.
	DefaultInterval = 30 * time.Second
	// DefaultThreshold is the minimum confidence that triggers an alert.
	DefaultThreshold = 70
)

// Config controls loop cadence and forecasting parameters.
type Config struct {
	Interval        time.Duration
	Threshold       int
	HistoryCapacity int
	EnsembleSize    int
	// Seed makes every subscriber's ensemble deterministic when non-zero.
	Seed uint64
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = forecast.DefaultCapacity
	}
	if c.EnsembleSize <= 0 {
		c.EnsembleSize = forecast.DefaultEnsembleSize
	}
	return c
}

// session is the per-subscriber state. Fields other than engine and tracker are
// guarded by Scheduler.mu.
type session struct {
	id        int64
	engine    *forecast.Engine
	tracker   *accuracy.Tracker
	active    bool
	gen       uint64
	startedAt time.Time
	cancel    context.CancelFunc
}

// Scheduler owns every subscriber session and its polling loop.
type Scheduler struct {
	cfg       Config
	feed      FeedSource
	alerter   Alerter
	observers []Observer

	mu       sync.Mutex
	sessions map[int64]*session
	closed   bool

	// notifyMu is taken before mu is released on every Start/Stop, so observers
	// see session transitions in the order they happened.
	notifyMu sync.Mutex

	// baseCtx outlives individual sessions and is only cancelled by Shutdown,
	// so Stop never aborts a feed call in flight.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a Scheduler. feed and alerter must be non-nil.
func New(cfg Config, feed FeedSource, alerter Alerter, observers ...Observer) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:        cfg.withDefaults(),
		feed:       feed,
		alerter:    alerter,
		observers:  observers,
		sessions:   make(map[int64]*session),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// sessionLocked returns the subscriber's session, creating it if needed. Caller holds s.mu.
func (s *Scheduler) sessionLocked(id int64) *session {
	sess, ok := s.sessions[id]
	if ok {
		return sess
	}

	var opts []forecast.Option
	opts = append(opts, forecast.WithEnsembleSize(s.cfg.EnsembleSize))
	if s.cfg.Seed != 0 {
		opts = append(opts, forecast.WithSeed(s.cfg.Seed^uint64(id)))
	}
	sess = &session{
		id:      id,
		engine:  forecast.NewEngine(s.cfg.HistoryCapacity, opts...),
		tracker: accuracy.New(),
	}
	s.sessions[id] = sess
	return sess
}

// existing returns the subscriber's session without creating one.
func (s *Scheduler) existing(id int64) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Start begins monitoring for a subscriber. It returns ErrAlreadyActive if a loop is
// already running for that subscriber.
func (s *Scheduler) Start(id int64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	sess := s.sessionLocked(id)
	if sess.active {
		s.mu.Unlock()
		return ErrAlreadyActive
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	sess.active = true
	sess.gen++
	sess.startedAt = time.Now()
	sess.cancel = cancel
	gen := sess.gen

	s.wg.Add(1)
	go s.run(ctx, sess, gen)
	s.notifyMu.Lock()
	s.mu.Unlock()

	logger.Info("Monitoring started for subscriber %d", id)
	s.notifySession(id, true)
	return nil
}

// Stop ends monitoring for a subscriber. It returns ErrAlreadyStopped if no loop is
// running. The loop exits after at most one in-flight cycle.
func (s *Scheduler) Stop(id int64) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || !sess.active {
		s.mu.Unlock()
		return ErrAlreadyStopped
	}
	sess.active = false
	sess.cancel()
	s.notifyMu.Lock()
	s.mu.Unlock()

	logger.Info("Monitoring stopped for subscriber %d", id)
	s.notifySession(id, false)
	return nil
}

// IsRunning reports whether the subscriber has an active loop.
func (s *Scheduler) IsRunning(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return ok && sess.active
}

// Status returns the subscriber's session state.
func (s *Scheduler) Status(id int64) SessionStatus {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return SessionStatus{SubscriberID: id}
	}
	st := SessionStatus{SubscriberID: id, Active: sess.active, StartedAt: sess.startedAt}
	s.mu.Unlock()

	st.HistoryLen = sess.engine.Len()
	return st
}

// ActiveSessions returns the IDs of subscribers with a running loop, ascending.
func (s *Scheduler) ActiveSessions() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if sess.active {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AccuracySnapshot returns the subscriber's accuracy record. Unknown subscribers get
// an empty record.
func (s *Scheduler) AccuracySnapshot(id int64) models.AccuracyRecord {
	sess, ok := s.existing(id)
	if !ok {
		return models.AccuracyRecord{RecentOutcomes: []bool{}}
	}
	return sess.tracker.Snapshot()
}

// HistorySnapshot returns a copy of the subscriber's history window, oldest first.
// Unknown subscribers get an empty window.
func (s *Scheduler) HistorySnapshot(id int64) []models.Observation {
	sess, ok := s.existing(id)
	if !ok {
		return []models.Observation{}
	}
	return sess.engine.Snapshot()
}

// RestoreAccuracy seeds a subscriber's accuracy record, typically from persisted state.
// It returns ErrClosed after Shutdown.
func (s *Scheduler) RestoreAccuracy(id int64, record models.AccuracyRecord) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	sess := s.sessionLocked(id)
	s.mu.Unlock()

	sess.tracker.Restore(record)
	return nil
}

// RequestForecastOnce runs a single fetch → record → forecast → evaluate cycle for a
// subscriber without starting a loop. The confidence threshold does not apply.
func (s *Scheduler) RequestForecastOnce(ctx context.Context, id int64) (models.AlertPayload, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.AlertPayload{}, ErrClosed
	}
	sess := s.sessionLocked(id)
	s.mu.Unlock()

	start := time.Now()
	obs, err := s.feed.FetchObservation(ctx)
	if err != nil {
		s.notify(id, CycleResult{Outcome: OutcomeFetchFailed, OnDemand: true, Duration: time.Since(start), Err: err})
		return models.AlertPayload{}, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}

	sess.engine.Record(obs)
	result, err := sess.engine.Forecast()
	if err != nil {
		s.notify(id, CycleResult{Outcome: OutcomeInsufficientHistory, OnDemand: true, Duration: time.Since(start), Err: err})
		return models.AlertPayload{}, err
	}

	payload := s.buildPayload(sess, result, obs)
	sess.tracker.Evaluate(result.Median, obs.Value)

	s.notify(id, CycleResult{
		Outcome:  OutcomeForecast,
		OnDemand: true,
		Forecast: result,
		Accuracy: sess.tracker.Snapshot(),
		Duration: time.Since(start),
	})
	return payload, nil
}

// Shutdown stops every loop and waits for them to exit or for ctx to expire.
// In-flight feed calls are cancelled.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	var stopped []int64
	for id, sess := range s.sessions {
		if sess.active {
			sess.active = false
			sess.cancel()
			stopped = append(stopped, id)
		}
	}
	s.mu.Unlock()
	s.baseCancel()

	logger.Info("Scheduler shutting down, stopped %d active sessions", len(stopped))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for monitoring loops: %w", ctx.Err())
	}
}

// run is a subscriber's polling loop. gen identifies the Start call that spawned it.
func (s *Scheduler) run(ctx context.Context, sess *session, gen uint64) {
	defer s.wg.Done()
	logger.Debug("Loop for subscriber %d started (gen %d, interval %v)", sess.id, gen, s.cfg.Interval)

	for s.stillActive(sess, gen) {
		s.cycle(sess, gen)

		select {
		case <-ctx.Done():
		case <-time.After(s.cfg.Interval):
		}
	}

	logger.Debug("Loop for subscriber %d exited (gen %d)", sess.id, gen)
}

func (s *Scheduler) stillActive(sess *session, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sess.active && sess.gen == gen
}

// recordIfActive records obs unless the session was stopped or restarted since this
// loop was spawned. The check and the write happen under one lock so Stop returning
// means this loop will not touch history again.
func (s *Scheduler) recordIfActive(sess *session, gen uint64, obs models.Observation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !sess.active || sess.gen != gen {
		return false
	}
	sess.engine.Record(obs)
	return true
}

func (s *Scheduler) cycle(sess *session, gen uint64) {
	start := time.Now()
	result := CycleResult{}
	defer func() {
		result.Duration = time.Since(start)
		s.notify(sess.id, result)
	}()

	obs, err := s.feed.FetchObservation(s.baseCtx)
	if err != nil {
		logger.Debug("Subscriber %d: feed unavailable, skipping cycle: %v", sess.id, err)
		result.Outcome = OutcomeFetchFailed
		result.Err = err
		return
	}

	if !s.recordIfActive(sess, gen, obs) {
		logger.Debug("Subscriber %d: session stopped during fetch, dropping observation", sess.id)
		result.Outcome = OutcomeDropped
		return
	}

	forecastResult, err := sess.engine.Forecast()
	if err != nil {
		if !errors.Is(err, forecast.ErrInsufficientHistory) {
			logger.Warn("Subscriber %d: forecast failed: %v", sess.id, err)
		}
		result.Outcome = OutcomeInsufficientHistory
		result.Err = err
		return
	}
	result.Forecast = forecastResult

	if forecastResult.Confidence < s.cfg.Threshold {
		logger.Debug("Subscriber %d: confidence %d below threshold %d", sess.id, forecastResult.Confidence, s.cfg.Threshold)
		result.Outcome = OutcomeBelowThreshold
		result.Accuracy = sess.tracker.Snapshot()
		return
	}

	payload := s.buildPayload(sess, forecastResult, obs)
	// Detached from the session so a Stop racing with delivery lets this cycle finish.
	if err := s.alerter.Deliver(context.WithoutCancel(s.baseCtx), sess.id, payload); err != nil {
		logger.Error("Subscriber %d: alert delivery failed: %v", sess.id, err)
		result.Outcome = OutcomeDeliveryFailed
		result.Err = err
	} else {
		logger.Info("Subscriber %d: alert sent (confidence %d%%, median %.2f)", sess.id, forecastResult.Confidence, forecastResult.Median)
		result.Outcome = OutcomeAlerted
	}

	sess.tracker.Evaluate(forecastResult.Median, obs.Value)
	result.Accuracy = sess.tracker.Snapshot()
}

func (s *Scheduler) buildPayload(sess *session, f models.ForecastResult, obs models.Observation) models.AlertPayload {
	return models.AlertPayload{
		ID:              uuid.New().String(),
		SubscriberID:    sess.id,
		Forecast:        f,
		Observation:     obs,
		AccuracyPercent: sess.tracker.AccuracyPercent(),
	}
}

// notifySession delivers a session transition and releases notifyMu, which the
// caller acquired while still holding mu.
func (s *Scheduler) notifySession(id int64, active bool) {
	defer s.notifyMu.Unlock()
	for _, o := range s.observers {
		o.SessionChanged(id, active)
	}
}

func (s *Scheduler) notify(id int64, result CycleResult) {
	for _, o := range s.observers {
		o.CycleCompleted(id, result)
	}
}
