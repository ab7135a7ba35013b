package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/events"
	"github.com/hivemind-ai/hive/internal/metrics"
	"github.com/hivemind-ai/hive/internal/workflow"
)

// Executor runs a workflow on behalf of a firing. The workflow engine
// satisfies it.
type Executor interface {
	Execute(ctx context.Context, workflowID string, vars map[string]interface{}) (workflow.Execution, error)
}

// Config holds scheduler knobs.
type Config struct {
	DefaultTimezone string // IANA name applied when a cron recurrence has none
	HistoryLimit    int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimezone: "UTC",
		HistoryLimit:    1000,
	}
}

// Scheduler drives workflow executions from cron, interval, and single-shot
// triggers. At most one firing per schedule is in flight; overlapping
// firings queue behind the previous one.
type Scheduler struct {
	mu        sync.Mutex
	cfg       Config
	exec      Executor
	sink      events.Sink
	logger    *zap.Logger
	schedules map[string]*schedule
	history   []FiringRecord
	closed    bool
	wg        sync.WaitGroup
}

// schedule is the live state behind one registered schedule. Trigger tasks
// (cron runner, ticker goroutine, or timer) are stopped and rebuilt on
// pause/resume/update so exactly one is active per scheduled status.
type schedule struct {
	meta        Schedule
	cronner     *cron.Cron
	stopCh      chan struct{} // interval ticker goroutine
	timer       *time.Timer   // once trigger
	inFlight    bool
	queued      int
	lastOutcome string
}

// New creates a scheduler delivering firings to exec.
func New(cfg Config, exec Executor, sink events.Sink, logger *zap.Logger) *Scheduler {
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 1000
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Scheduler{
		cfg:       cfg,
		exec:      exec,
		sink:      sink,
		logger:    logger,
		schedules: make(map[string]*schedule),
	}
}

// Schedule registers a recurrence for a workflow and arms its trigger.
// Invalid cron expressions fail synchronously; a past once timestamp fires
// immediately.
func (s *Scheduler) Schedule(workflowID string, rec Recurrence, vars map[string]interface{}) (string, error) {
	if err := validateRecurrence(rec); err != nil {
		return "", err
	}

	sc := &schedule{
		meta: Schedule{
			ID:         uuid.New().String(),
			WorkflowID: workflowID,
			Recurrence: rec,
			Context:    vars,
			Status:     StatusScheduled,
			CreatedAt:  time.Now(),
		},
	}

	s.mu.Lock()
	if err := s.armLocked(sc); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.schedules[sc.meta.ID] = sc
	total := len(s.schedules)
	s.mu.Unlock()

	metrics.SchedulesActive.Set(float64(total))
	s.sink.Publish(events.Event{
		Stream: "scheduler",
		Type:   events.ScheduleRegistered,
		Payload: map[string]interface{}{
			"schedule_id": sc.meta.ID,
			"workflow_id": workflowID,
		},
	})
	s.logger.Info("Schedule registered",
		zap.String("schedule_id", sc.meta.ID),
		zap.String("workflow_id", workflowID),
	)
	return sc.meta.ID, nil
}

func validateRecurrence(rec Recurrence) error {
	set := 0
	if rec.Cron != "" {
		set++
	}
	if rec.Interval > 0 {
		set++
	}
	if rec.Once != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one of cron, interval, once must be set", ErrBadRecurrence)
	}
	return nil
}

// armLocked builds the trigger task for a schedule and computes nextRun.
// Caller holds s.mu.
func (s *Scheduler) armLocked(sc *schedule) error {
	id := sc.meta.ID
	rec := sc.meta.Recurrence
	switch {
	case rec.Cron != "":
		tz := rec.Timezone
		if tz == "" {
			tz = s.cfg.DefaultTimezone
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("%w: timezone %q: %v", ErrBadRecurrence, tz, err)
		}
		spec, err := cron.ParseStandard(rec.Cron)
		if err != nil {
			return fmt.Errorf("%w: cron %q: %v", ErrBadRecurrence, rec.Cron, err)
		}
		runner := cron.New(cron.WithLocation(loc))
		if _, err := runner.AddFunc(rec.Cron, func() { s.fire(id) }); err != nil {
			return fmt.Errorf("%w: cron %q: %v", ErrBadRecurrence, rec.Cron, err)
		}
		runner.Start()
		sc.cronner = runner
		next := spec.Next(time.Now().In(loc))
		sc.meta.NextRun = &next
	case rec.Interval > 0:
		stop := make(chan struct{})
		sc.stopCh = stop
		next := time.Now().Add(rec.Interval)
		sc.meta.NextRun = &next
		go func() {
			ticker := time.NewTicker(rec.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.fire(id)
				case <-stop:
					return
				}
			}
		}()
	case rec.Once != nil:
		delay := time.Until(*rec.Once)
		if delay < 0 {
			delay = 0 // past timestamp fires immediately
		}
		next := time.Now().Add(delay)
		sc.meta.NextRun = &next
		sc.timer = time.AfterFunc(delay, func() { s.fire(id) })
	}
	return nil
}

// disarmLocked stops the trigger task. Caller holds s.mu.
func (s *Scheduler) disarmLocked(sc *schedule) {
	if sc.cronner != nil {
		sc.cronner.Stop()
		sc.cronner = nil
	}
	if sc.stopCh != nil {
		close(sc.stopCh)
		sc.stopCh = nil
	}
	if sc.timer != nil {
		sc.timer.Stop()
		sc.timer = nil
	}
	sc.meta.NextRun = nil
}

// fire is the trigger entry point. Overlapping firings queue; only one runs
// at a time per schedule.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	sc, ok := s.schedules[id]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	switch sc.meta.Status {
	case StatusPaused, StatusCancelled, StatusCompleted:
		s.mu.Unlock()
		return
	}
	if sc.inFlight {
		sc.queued++
		s.mu.Unlock()
		return
	}
	sc.inFlight = true
	sc.meta.Status = StatusRunning
	s.wg.Add(1)
	s.mu.Unlock()

	go s.drain(sc)
}

// drain runs the pending firing plus anything queued behind it, serially.
func (s *Scheduler) drain(sc *schedule) {
	defer s.wg.Done()
	for {
		s.runOnce(sc)

		s.mu.Lock()
		if sc.queued > 0 && sc.meta.Status == StatusRunning {
			sc.queued--
			s.mu.Unlock()
			continue
		}
		sc.inFlight = false
		if sc.meta.Status == StatusRunning {
			if sc.meta.Recurrence.Once != nil {
				if sc.lastOutcome == "success" {
					sc.meta.Status = StatusCompleted
				} else {
					sc.meta.Status = StatusFailed
				}
				s.disarmLocked(sc)
			} else {
				sc.meta.Status = StatusScheduled
			}
		}
		s.mu.Unlock()
		return
	}
}

// runOnce executes one firing and records its history entry.
func (s *Scheduler) runOnce(sc *schedule) {
	s.mu.Lock()
	id := sc.meta.ID
	workflowID := sc.meta.WorkflowID
	vars := sc.meta.Context
	s.mu.Unlock()

	start := time.Now()
	s.sink.Publish(events.Event{
		Stream: "scheduler",
		Type:   events.ScheduleFired,
		Payload: map[string]interface{}{
			"schedule_id": id,
			"workflow_id": workflowID,
		},
	})

	exec, err := s.exec.Execute(context.Background(), workflowID, vars)
	end := time.Now()

	record := FiringRecord{
		ScheduleID:  id,
		WorkflowID:  workflowID,
		ExecutionID: exec.ID,
		Start:       start,
		End:         end,
	}
	eventType := events.ScheduleCompleted
	switch {
	case exec.Status == workflow.StatusCancelled:
		record.Status = "cancelled"
		eventType = events.ScheduleFailed
	case err != nil:
		record.Status = "failed"
		record.Error = err.Error()
		eventType = events.ScheduleFailed
	default:
		record.Status = "success"
	}

	s.mu.Lock()
	sc.meta.LastRun = &start
	sc.meta.Firings++
	sc.lastOutcome = record.Status
	sc.meta.NextRun = s.nextRunLocked(sc, end)
	s.history = append(s.history, record)
	if len(s.history) > s.cfg.HistoryLimit {
		s.history = s.history[len(s.history)-s.cfg.HistoryLimit:]
	}
	s.mu.Unlock()

	metrics.ScheduleFirings.WithLabelValues(record.Status).Inc()
	s.sink.Publish(events.Event{
		Stream: "scheduler",
		Type:   eventType,
		Payload: map[string]interface{}{
			"schedule_id":  id,
			"workflow_id":  workflowID,
			"execution_id": record.ExecutionID,
			"status":       record.Status,
		},
	})
	if err != nil {
		s.logger.Warn("Schedule firing failed",
			zap.String("schedule_id", id),
			zap.String("workflow_id", workflowID),
			zap.Error(err),
		)
	}
}

// nextRunLocked recomputes the next firing time after a run. Caller holds
// s.mu.
func (s *Scheduler) nextRunLocked(sc *schedule, after time.Time) *time.Time {
	rec := sc.meta.Recurrence
	switch {
	case rec.Cron != "":
		tz := rec.Timezone
		if tz == "" {
			tz = s.cfg.DefaultTimezone
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil
		}
		spec, err := cron.ParseStandard(rec.Cron)
		if err != nil {
			return nil
		}
		next := spec.Next(after.In(loc))
		return &next
	case rec.Interval > 0:
		next := after.Add(rec.Interval)
		return &next
	default:
		return nil // single-shot
	}
}

// Cancel stops future firings. An in-flight firing is not killed.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	sc, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.disarmLocked(sc)
	sc.meta.Status = StatusCancelled
	sc.queued = 0
	s.mu.Unlock()

	s.sink.Publish(events.Event{
		Stream:  "scheduler",
		Type:    events.ScheduleCancelled,
		Payload: map[string]interface{}{"schedule_id": id},
	})
	return nil
}

// Pause suspends firings, keeping the schedule registered.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	sc, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	switch sc.meta.Status {
	case StatusCancelled, StatusCompleted:
		status := sc.meta.Status
		s.mu.Unlock()
		return fmt.Errorf("%w: status %s", ErrTerminal, status)
	}
	s.disarmLocked(sc)
	sc.meta.Status = StatusPaused
	sc.queued = 0
	s.mu.Unlock()

	s.sink.Publish(events.Event{
		Stream:  "scheduler",
		Type:    events.SchedulePaused,
		Payload: map[string]interface{}{"schedule_id": id},
	})
	return nil
}

// Resume re-arms a paused schedule.
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	sc, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if sc.meta.Status != StatusPaused {
		status := sc.meta.Status
		s.mu.Unlock()
		return fmt.Errorf("%w: status %s", ErrNotPaused, status)
	}
	sc.meta.Status = StatusScheduled
	err := s.armLocked(sc)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.sink.Publish(events.Event{
		Stream:  "scheduler",
		Type:    events.ScheduleResumed,
		Payload: map[string]interface{}{"schedule_id": id},
	})
	return nil
}

// Update replaces the recurrence and context of a schedule and re-arms it.
func (s *Scheduler) Update(id string, rec Recurrence, vars map[string]interface{}) error {
	if err := validateRecurrence(rec); err != nil {
		return err
	}
	s.mu.Lock()
	sc, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	switch sc.meta.Status {
	case StatusCancelled, StatusCompleted:
		status := sc.meta.Status
		s.mu.Unlock()
		return fmt.Errorf("%w: status %s", ErrTerminal, status)
	}
	wasPaused := sc.meta.Status == StatusPaused
	s.disarmLocked(sc)
	sc.meta.Recurrence = rec
	if vars != nil {
		sc.meta.Context = vars
	}
	var err error
	if !wasPaused {
		err = s.armLocked(sc)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.sink.Publish(events.Event{
		Stream:  "scheduler",
		Type:    events.ScheduleUpdated,
		Payload: map[string]interface{}{"schedule_id": id},
	})
	return nil
}

// Status returns a snapshot of one schedule.
func (s *Scheduler) Status(id string) (Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return Schedule{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sc.meta, nil
}

// List returns snapshots of all schedules.
func (s *Scheduler) List() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, sc.meta)
	}
	return out
}

// History returns the most recent firing records, newest last.
func (s *Scheduler) History(limit int) []FiringRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]FiringRecord, limit)
	copy(out, s.history[len(s.history)-limit:])
	return out
}

// Close stops all triggers and waits for in-flight firings.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for _, sc := range s.schedules {
		s.disarmLocked(sc)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
