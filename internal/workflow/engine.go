package workflow

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/events"
)

// Config holds interpreter knobs.
type Config struct {
	MaxRetries         int           // cap on per-step retries, default 3
	RetryDelay         time.Duration // base backoff, multiplied by the retry count
	HTTPClient         *http.Client  // used by the httpRequest built-in
	RetainedExecutions int           // settled executions kept for Status lookups, default 100
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         3,
		RetryDelay:         time.Second,
		RetainedExecutions: 100,
	}
}

// Engine validates, stores, and interprets workflow graphs. One execution
// may be in flight per workflow; each execution's hot state is owned by the
// goroutine driving it.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	workflows map[string]*Workflow
	running   map[string]*execState // workflow id -> active execution
	byExecID  map[string]*execState
	settled   []*execState // terminal executions, oldest first
	actions   map[string]ActionFunc
	journal   Journal
	sink      events.Sink
	logger    *zap.Logger
}

// NewEngine creates a workflow engine. journal may be nil.
func NewEngine(cfg Config, journal Journal, sink events.Sink, logger *zap.Logger) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.RetainedExecutions <= 0 {
		cfg.RetainedExecutions = 100
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Engine{
		cfg:       cfg,
		workflows: make(map[string]*Workflow),
		running:   make(map[string]*execState),
		byExecID:  make(map[string]*execState),
		actions:   builtinActions(logger, cfg.HTTPClient),
		journal:   journal,
		sink:      sink,
		logger:    logger,
	}
}

// Register validates and stores a workflow definition.
func (e *Engine) Register(wf *Workflow) error {
	res := Validate(wf)
	if !res.Valid {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(res.Errors, "; "))
	}
	for _, w := range res.Warnings {
		e.logger.Warn("Workflow validation warning",
			zap.String("workflow_id", wf.ID),
			zap.String("warning", w),
		)
	}
	e.mu.Lock()
	e.workflows[wf.ID] = wf
	e.mu.Unlock()

	e.sink.Publish(events.Event{
		Stream: wf.ID,
		Type:   events.WorkflowCreated,
		Payload: map[string]interface{}{
			"workflow_id": wf.ID,
			"name":        wf.Name,
			"steps":       len(wf.Steps),
		},
	})
	return nil
}

// Workflow returns a registered definition.
func (e *Engine) Workflow(id string) (*Workflow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wf, ok := e.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return wf, nil
}

// execState is the mutable hot state of one run. The driving goroutine is
// the single writer; control operations flip flags under the mutex.
type execState struct {
	mu        sync.Mutex
	exec      Execution
	bag       map[string]interface{}
	status    map[string]StepStatus
	skipPath  map[string]bool // branch ids ruled out by condition steps
	paused    bool
	cancelled bool
	resumeCh  chan struct{}
}

func (st *execState) snapshot() Execution {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := st.exec
	out.History = append([]HistoryEntry(nil), st.exec.History...)
	out.Context = make(map[string]interface{}, len(st.bag))
	for k, v := range st.bag {
		out.Context[k] = v
	}
	return out
}

func (st *execState) stepStatus(id string) StepStatus {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.status[id]
	if !ok {
		return StepPending
	}
	return s
}

func (st *execState) isCancelled() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cancelled
}

// retire moves a terminal execution into the bounded retention window.
// Snapshots of the oldest settled executions stop resolving once the window
// is full; the journal keeps the durable record.
func (e *Engine) retire(st *execState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settled = append(e.settled, st)
	for len(e.settled) > e.cfg.RetainedExecutions {
		old := e.settled[0]
		e.settled = e.settled[1:]
		delete(e.byExecID, old.exec.ID)
		if e.running[old.exec.WorkflowID] == old {
			delete(e.running, old.exec.WorkflowID)
		}
	}
}

// Status returns a snapshot of an execution by id.
func (e *Engine) Status(executionID string) (Execution, error) {
	e.mu.Lock()
	st, ok := e.byExecID[executionID]
	e.mu.Unlock()
	if !ok {
		return Execution{}, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	return st.snapshot(), nil
}

// ExecutionForWorkflow returns the active execution for a workflow, if any.
func (e *Engine) ExecutionForWorkflow(workflowID string) (Execution, bool) {
	e.mu.Lock()
	st, ok := e.running[workflowID]
	e.mu.Unlock()
	if !ok {
		return Execution{}, false
	}
	return st.snapshot(), true
}

// Pause stops the execution from launching new steps; the step currently
// executing runs to completion.
func (e *Engine) Pause(executionID string) error {
	e.mu.Lock()
	st, ok := e.byExecID[executionID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	st.mu.Lock()
	if st.exec.Status != StatusRunning {
		status := st.exec.Status
		st.mu.Unlock()
		return fmt.Errorf("%w: status %s", ErrNotRunning, status)
	}
	st.paused = true
	st.exec.Status = StatusPaused
	wfID := st.exec.WorkflowID
	st.mu.Unlock()

	e.sink.Publish(events.Event{
		Stream:  wfID,
		Type:    events.WorkflowPause,
		Payload: map[string]interface{}{"execution_id": executionID},
	})
	return nil
}

// Resume continues a paused execution from its recorded current step.
func (e *Engine) Resume(executionID string) error {
	e.mu.Lock()
	st, ok := e.byExecID[executionID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	st.mu.Lock()
	if !st.paused || st.exec.Status != StatusPaused {
		status := st.exec.Status
		st.mu.Unlock()
		return fmt.Errorf("%w: status %s", ErrNotPaused, status)
	}
	st.paused = false
	st.exec.Status = StatusRunning
	close(st.resumeCh)
	st.resumeCh = make(chan struct{})
	wfID := st.exec.WorkflowID
	st.mu.Unlock()

	e.sink.Publish(events.Event{
		Stream:  wfID,
		Type:    events.WorkflowResume,
		Payload: map[string]interface{}{"execution_id": executionID},
	})
	return nil
}

// Cancel transitions the execution to cancelled; in-flight step work
// finishes on its own, subsequent steps are dropped.
func (e *Engine) Cancel(executionID string) error {
	e.mu.Lock()
	st, ok := e.byExecID[executionID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	st.mu.Lock()
	if st.exec.Status != StatusRunning && st.exec.Status != StatusPaused {
		status := st.exec.Status
		st.mu.Unlock()
		return fmt.Errorf("%w: status %s", ErrNotRunning, status)
	}
	st.cancelled = true
	st.exec.Status = StatusCancelled
	if st.paused {
		st.paused = false
		close(st.resumeCh)
		st.resumeCh = make(chan struct{})
	}
	wfID := st.exec.WorkflowID
	st.mu.Unlock()

	e.sink.Publish(events.Event{
		Stream:  wfID,
		Type:    events.WorkflowCancelled,
		Payload: map[string]interface{}{"execution_id": executionID},
	})
	return nil
}

// newExecState seeds the hot state for one run.
func newExecState(wf *Workflow, vars map[string]interface{}) *execState {
	bag := make(map[string]interface{}, len(wf.Variables)+len(vars))
	for k, v := range wf.Variables {
		bag[k] = v
	}
	for k, v := range vars {
		bag[k] = v
	}
	return &execState{
		exec: Execution{
			ID:         uuid.New().String(),
			WorkflowID: wf.ID,
			Status:     StatusRunning,
			StartedAt:  time.Now(),
		},
		bag:      bag,
		status:   make(map[string]StepStatus, len(wf.Steps)),
		skipPath: make(map[string]bool),
		resumeCh: make(chan struct{}),
	}
}
