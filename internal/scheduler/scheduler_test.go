package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/events"
	"github.com/hivemind-ai/hive/internal/workflow"
)

// stubExecutor counts firings and can simulate slow or failing workflows.
type stubExecutor struct {
	mu          sync.Mutex
	delay       time.Duration
	err         error
	calls       int
	concurrent  int32
	maxOverlap  int32
	lastVarsKey string
}

func (s *stubExecutor) Execute(ctx context.Context, workflowID string, vars map[string]interface{}) (workflow.Execution, error) {
	cur := atomic.AddInt32(&s.concurrent, 1)
	defer atomic.AddInt32(&s.concurrent, -1)
	for {
		max := atomic.LoadInt32(&s.maxOverlap)
		if cur <= max || atomic.CompareAndSwapInt32(&s.maxOverlap, max, cur) {
			break
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return workflow.Execution{}, ctx.Err()
		}
	}
	s.mu.Lock()
	s.calls++
	if v, ok := vars["key"].(string); ok {
		s.lastVarsKey = v
	}
	s.mu.Unlock()
	if s.err != nil {
		return workflow.Execution{Status: workflow.StatusFailed}, s.err
	}
	return workflow.Execution{ID: "exec-1", WorkflowID: workflowID, Status: workflow.StatusCompleted}, nil
}

func (s *stubExecutor) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestScheduler(exec Executor) *Scheduler {
	return New(DefaultConfig(), exec, events.NewBus(64), zap.NewNop())
}

func TestRecurrenceValidation(t *testing.T) {
	s := newTestScheduler(&stubExecutor{})
	defer s.Close()

	_, err := s.Schedule("wf", Recurrence{}, nil)
	assert.ErrorIs(t, err, ErrBadRecurrence)

	now := time.Now()
	_, err = s.Schedule("wf", Recurrence{Cron: "* * * * *", Once: &now}, nil)
	assert.ErrorIs(t, err, ErrBadRecurrence)

	_, err = s.Schedule("wf", Recurrence{Cron: "not a cron"}, nil)
	assert.ErrorIs(t, err, ErrBadRecurrence)

	_, err = s.Schedule("wf", Recurrence{Cron: "0 * * * *", Timezone: "Mars/Olympus"}, nil)
	assert.ErrorIs(t, err, ErrBadRecurrence)
}

func TestCronScheduleNextRun(t *testing.T) {
	s := newTestScheduler(&stubExecutor{})
	defer s.Close()

	id, err := s.Schedule("wf", Recurrence{Cron: "0 * * * *"}, nil)
	require.NoError(t, err)

	meta, err := s.Status(id)
	require.NoError(t, err)
	require.NotNil(t, meta.NextRun)
	assert.Equal(t, 0, meta.NextRun.Minute(), "hourly cron fires on the hour")
	assert.True(t, meta.NextRun.After(time.Now()))
	assert.Equal(t, StatusScheduled, meta.Status)
}

func TestOncePastFiresImmediately(t *testing.T) {
	exec := &stubExecutor{}
	s := newTestScheduler(exec)
	defer s.Close()

	past := time.Now().Add(-time.Hour)
	id, err := s.Schedule("wf", Recurrence{Once: &past}, map[string]interface{}{"key": "v"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		meta, err := s.Status(id)
		return err == nil && meta.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, exec.count(), "past once fires exactly once")
	meta, _ := s.Status(id)
	assert.Nil(t, meta.NextRun)
	require.NotNil(t, meta.LastRun)

	hist := s.History(0)
	require.Len(t, hist, 1)
	assert.Equal(t, "success", hist[0].Status)
	assert.Equal(t, "exec-1", hist[0].ExecutionID)
}

func TestIntervalFiresRepeatedly(t *testing.T) {
	exec := &stubExecutor{}
	s := newTestScheduler(exec)
	defer s.Close()

	id, err := s.Schedule("wf", Recurrence{Interval: 15 * time.Millisecond}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return exec.count() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Cancel(id))
	meta, _ := s.Status(id)
	assert.Equal(t, StatusCancelled, meta.Status)
	assert.Nil(t, meta.NextRun)

	// no further firings after cancel
	settled := exec.count()
	time.Sleep(60 * time.Millisecond)
	assert.LessOrEqual(t, exec.count(), settled+1, "in-flight firing may finish, nothing new starts")
}

func TestOverlappingFiringsQueue(t *testing.T) {
	exec := &stubExecutor{delay: 40 * time.Millisecond}
	s := newTestScheduler(exec)
	defer s.Close()

	id, err := s.Schedule("wf", Recurrence{Interval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return exec.count() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Cancel(id))

	assert.EqualValues(t, 1, atomic.LoadInt32(&exec.maxOverlap),
		"firings for one schedule must never run in parallel")
}

func TestPauseResume(t *testing.T) {
	exec := &stubExecutor{}
	s := newTestScheduler(exec)
	defer s.Close()

	id, err := s.Schedule("wf", Recurrence{Interval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return exec.count() >= 1 }, time.Second, 2*time.Millisecond)
	require.NoError(t, s.Pause(id))

	meta, _ := s.Status(id)
	assert.Equal(t, StatusPaused, meta.Status)
	assert.Nil(t, meta.NextRun)

	paused := exec.count()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, exec.count(), paused+1, "paused schedule must not keep firing")

	require.NoError(t, s.Resume(id))
	resumed := exec.count()
	require.Eventually(t, func() bool { return exec.count() > resumed }, time.Second, 2*time.Millisecond)

	assert.ErrorIs(t, s.Resume(id), ErrNotPaused)
}

func TestUpdateReplacesRecurrence(t *testing.T) {
	exec := &stubExecutor{}
	s := newTestScheduler(exec)
	defer s.Close()

	id, err := s.Schedule("wf", Recurrence{Cron: "0 * * * *"}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Update(id, Recurrence{Interval: 10 * time.Millisecond}, map[string]interface{}{"key": "updated"}))
	require.Eventually(t, func() bool { return exec.count() >= 1 }, time.Second, 2*time.Millisecond)

	exec.mu.Lock()
	key := exec.lastVarsKey
	exec.mu.Unlock()
	assert.Equal(t, "updated", key)

	require.NoError(t, s.Cancel(id))
	assert.ErrorIs(t, s.Update(id, Recurrence{Interval: time.Second}, nil), ErrTerminal)
}

func TestFailedFiringRecorded(t *testing.T) {
	exec := &stubExecutor{err: errors.New("workflow exploded")}
	s := newTestScheduler(exec)
	defer s.Close()

	past := time.Now().Add(-time.Minute)
	id, err := s.Schedule("wf", Recurrence{Once: &past}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(s.History(0)) == 1
	}, time.Second, 5*time.Millisecond)

	hist := s.History(0)
	assert.Equal(t, "failed", hist[0].Status)
	assert.Contains(t, hist[0].Error, "exploded")

	_ = id
}

func TestUnknownScheduleErrors(t *testing.T) {
	s := newTestScheduler(&stubExecutor{})
	defer s.Close()

	assert.ErrorIs(t, s.Cancel("ghost"), ErrNotFound)
	assert.ErrorIs(t, s.Pause("ghost"), ErrNotFound)
	assert.ErrorIs(t, s.Resume("ghost"), ErrNotFound)
	_, err := s.Status("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
