package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/m0ahs/openpoke/pkg/config"
	"github.com/m0ahs/openpoke/pkg/logger"
)

// Executor runs the work a trigger carries. The scheduler never knows what an
// agent is; it only hands over a due trigger and waits for the outcome.
type Executor interface {
	ExecuteTrigger(ctx context.Context, t *Trigger) (string, error)
}

// Sink receives user-facing trigger outcomes. Completion of a one-shot and
// permanent failure each produce exactly one call.
type Sink interface {
	TriggerCompleted(ctx context.Context, t *Trigger, response string)
	TriggerFailed(ctx context.Context, t *Trigger, lastErr string)
}

// parkInterval bounds the sleep when no trigger is due, so a store that was
// mutated behind the scheduler's back is still picked up eventually.
const parkInterval = time.Hour

// Scheduler fires triggers at their due time. A trigger is never executed by
// two runs at once: an in-flight set guards the window between a fire and its
// persisted outcome, and the set survives duplicate due-scans.
type Scheduler struct {
	store schedulerStore
	exec  Executor
	sink  Sink
	cfg   config.TriggersConfig

	mu       sync.Mutex
	inFlight map[string]struct{}

	wake chan struct{}
	sem  chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// schedulerStore narrows Store to what the scheduler needs; kept private so tests can
// stub it without a full database.
type schedulerStore interface {
	Get(ctx context.Context, id string) (*Trigger, error)
	Update(ctx context.Context, t *Trigger) error
	ListActive(ctx context.Context) ([]*Trigger, error)
}

func NewScheduler(store Store, exec Executor, sink Sink, cfg config.TriggersConfig) *Scheduler {
	maxRuns := cfg.MaxConcurrentRuns
	if maxRuns <= 0 {
		maxRuns = 1
	}
	return &Scheduler{
		store:    store,
		exec:     exec,
		sink:     sink,
		cfg:      cfg,
		inFlight: make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
		sem:      make(chan struct{}, maxRuns),
	}
}

// Start recovers interrupted triggers and launches the fire loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recover(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(loopCtx)

	logger.InfoC("scheduler", "Trigger scheduler started")
	return nil
}

// Stop halts the fire loop and waits for in-flight runs to settle.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	logger.InfoC("scheduler", "Trigger scheduler stopped")
}

// Wake nudges the loop to rescan the store. Trigger tools call this after
// creating or rescheduling a trigger so the new due time takes effect
// without waiting out the current park.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel marks a trigger cancelled. If a run is in flight its outcome is
// discarded when it lands; terminal triggers are left untouched.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("trigger: cancel %s: not found", id)
	}
	if t.Status.Terminal() {
		return nil
	}
	t.Status = StatusCancelled
	if err := s.store.Update(ctx, t); err != nil {
		return err
	}
	logger.InfoCF("scheduler", "Trigger cancelled", map[string]interface{}{"trigger": id})
	s.Wake()
	return nil
}

// recover returns interrupted runs to the queue. A trigger still marked
// running was mid-execution when the process died; the outcome never landed,
// so it is due again immediately.
func (s *Scheduler) recover(ctx context.Context) error {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("trigger: recovery scan: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, t := range active {
		if t.Status != StatusRunning {
			continue
		}
		t.Status = StatusScheduled
		t.NextFireAt = now
		if err := s.store.Update(ctx, t); err != nil {
			return fmt.Errorf("trigger: recover %s: %w", t.ID, err)
		}
		recovered++
	}
	if recovered > 0 {
		logger.InfoCF("scheduler", "Recovered interrupted triggers",
			map[string]interface{}{"count": recovered})
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		wait := s.fireDue(ctx)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		}
	}
}

// fireDue launches every due trigger and returns how long to sleep until the
// next one. Store errors are transient here; the loop retries after the
// configured delay rather than dying.
func (s *Scheduler) fireDue(ctx context.Context) time.Duration {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		logger.ErrorCF("scheduler", "Due scan failed", map[string]interface{}{"error": err.Error()})
		return s.storeRetryDelay()
	}

	now := time.Now().UTC()
	wait := parkInterval

	for _, t := range active {
		if t.Status != StatusScheduled {
			continue
		}
		if t.NextFireAt.After(now) {
			if d := t.NextFireAt.Sub(now); d < wait {
				wait = d
			}
			continue
		}
		if !s.claim(t.ID) {
			continue
		}

		t.Status = StatusRunning
		if err := s.store.Update(ctx, t); err != nil {
			logger.ErrorCF("scheduler", "Failed to mark trigger running",
				map[string]interface{}{"trigger": t.ID, "error": err.Error()})
			s.release(t.ID)
			if d := s.storeRetryDelay(); d < wait {
				wait = d
			}
			continue
		}

		s.wg.Add(1)
		go s.run(ctx, t)
	}

	return wait
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context, t *Trigger) {
	defer s.wg.Done()
	defer s.release(t.ID)
	defer s.Wake()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.sem }()

	logger.InfoCF("scheduler", "Firing trigger",
		map[string]interface{}{"trigger": t.ID, "agent": t.AgentID})

	execCtx := ctx
	if s.cfg.ExecTimeoutSecs > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.ExecTimeoutSecs)*time.Second)
		defer cancel()
	}

	response, execErr := s.exec.ExecuteTrigger(execCtx, t)

	// Re-read before applying the outcome: a cancel that landed during the
	// run wins, and its result is dropped.
	current, err := s.getWithRetry(ctx, t.ID)
	if err != nil {
		return
	}
	if current == nil || current.Status == StatusCancelled {
		logger.InfoCF("scheduler", "Discarding outcome of cancelled trigger",
			map[string]interface{}{"trigger": t.ID})
		return
	}

	if execErr != nil {
		s.handleFailure(ctx, current, execErr)
	} else {
		s.handleSuccess(ctx, current, response)
	}
}

func (s *Scheduler) handleSuccess(ctx context.Context, t *Trigger, response string) {
	now := time.Now().UTC()
	t.LastFiredAt = &now
	t.FailureCount = 0
	t.LastError = ""

	if t.Recurring() {
		next, err := t.Recurrence.NextFuture(t.NextFireAt, now)
		if err != nil {
			logger.ErrorCF("scheduler", "Recurring trigger cannot re-arm",
				map[string]interface{}{"trigger": t.ID, "error": err.Error()})
			t.Status = StatusFailed
			t.LastError = err.Error()
			s.updateWithRetry(ctx, t)
			s.sink.TriggerFailed(ctx, t, t.LastError)
			return
		}
		t.Status = StatusScheduled
		t.NextFireAt = next
		s.updateWithRetry(ctx, t)
		logger.InfoCF("scheduler", "Trigger re-armed",
			map[string]interface{}{"trigger": t.ID, "next": next.Format(time.RFC3339)})
	} else {
		t.Status = StatusCompleted
		s.updateWithRetry(ctx, t)
		logger.InfoCF("scheduler", "Trigger completed", map[string]interface{}{"trigger": t.ID})
	}

	s.sink.TriggerCompleted(ctx, t, response)
}

func (s *Scheduler) handleFailure(ctx context.Context, t *Trigger, execErr error) {
	t.FailureCount++
	t.LastError = execErr.Error()

	threshold := s.cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 1
	}

	if t.FailureCount >= threshold {
		t.Status = StatusFailed
		s.updateWithRetry(ctx, t)
		logger.ErrorCF("scheduler", "Trigger failed permanently",
			map[string]interface{}{"trigger": t.ID, "failures": t.FailureCount, "error": t.LastError})
		s.sink.TriggerFailed(ctx, t, t.LastError)
		return
	}

	t.Status = StatusScheduled
	t.NextFireAt = time.Now().UTC().Add(s.backoff(t.FailureCount))
	s.updateWithRetry(ctx, t)
	logger.WarnCF("scheduler", "Trigger failed, retry scheduled",
		map[string]interface{}{"trigger": t.ID, "failures": t.FailureCount,
			"retry_at": t.NextFireAt.Format(time.RFC3339), "error": t.LastError})
}

// backoff returns the delay before retry n (1-based): base doubled per
// failure, capped.
func (s *Scheduler) backoff(failures int) time.Duration {
	base := time.Duration(s.cfg.BackoffBaseSecs) * time.Second
	if base <= 0 {
		base = 30 * time.Second
	}
	cap_ := time.Duration(s.cfg.BackoffCapSecs) * time.Second
	if cap_ <= 0 {
		cap_ = 15 * time.Minute
	}

	d := base
	for i := 1; i < failures && d < cap_; i++ {
		d *= 2
	}
	if d > cap_ {
		d = cap_
	}
	return d
}

func (s *Scheduler) storeRetryDelay() time.Duration {
	if s.cfg.StoreRetrySecs > 0 {
		return time.Duration(s.cfg.StoreRetrySecs) * time.Second
	}
	return 5 * time.Second
}

// updateWithRetry persists an outcome, retrying until the store accepts it or
// the scheduler shuts down. Losing a fire outcome would either double-run the
// trigger after restart or strand it as running, so this does not give up.
func (s *Scheduler) updateWithRetry(ctx context.Context, t *Trigger) {
	for {
		err := s.store.Update(ctx, t)
		if err == nil {
			return
		}
		logger.ErrorCF("scheduler", "Failed to persist trigger outcome, retrying",
			map[string]interface{}{"trigger": t.ID, "error": err.Error()})
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.storeRetryDelay()):
		}
	}
}

func (s *Scheduler) getWithRetry(ctx context.Context, id string) (*Trigger, error) {
	for {
		t, err := s.store.Get(ctx, id)
		if err == nil {
			return t, nil
		}
		logger.ErrorCF("scheduler", "Failed to re-read trigger, retrying",
			map[string]interface{}{"trigger": id, "error": err.Error()})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.storeRetryDelay()):
		}
	}
}
