package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/events"
	"github.com/hivemind-ai/hive/internal/metrics"
	"github.com/hivemind-ai/hive/internal/tracing"
)

// Execute runs a registered workflow to completion and returns the final
// execution snapshot. A second execution of a workflow that is already
// running or paused fails with ErrBusy.
func (e *Engine) Execute(ctx context.Context, workflowID string, vars map[string]interface{}) (Execution, error) {
	wf, err := e.Workflow(workflowID)
	if err != nil {
		return Execution{}, err
	}
	ctx, span := tracing.StartWorkflowSpan(ctx, workflowID)
	defer span.End()

	st := newExecState(wf, vars)
	e.mu.Lock()
	if prev, ok := e.running[workflowID]; ok {
		prev.mu.Lock()
		active := prev.exec.Status == StatusRunning || prev.exec.Status == StatusPaused
		prev.mu.Unlock()
		if active {
			e.mu.Unlock()
			return Execution{}, fmt.Errorf("%w: %s", ErrBusy, workflowID)
		}
	}
	e.running[workflowID] = st
	e.byExecID[st.exec.ID] = st
	e.mu.Unlock()

	metrics.WorkflowsStarted.WithLabelValues(workflowID).Inc()
	e.sink.Publish(events.Event{
		Stream: workflowID,
		Type:   events.WorkflowStart,
		Payload: map[string]interface{}{
			"workflow_id":  workflowID,
			"execution_id": st.exec.ID,
		},
	})

	runErr := e.runSteps(ctx, wf, st)
	return e.finish(wf, st, runErr), runErr
}

// runSteps drives the top-level step list in declared order.
func (e *Engine) runSteps(ctx context.Context, wf *Workflow, st *execState) error {
	// Steps referenced as compensation are reserve steps, excluded from the
	// normal run order.
	reserved := make(map[string]bool)
	for i := range wf.Steps {
		if c := wf.Steps[i].CompensationStep; c != "" {
			reserved[c] = true
		}
	}

	for i := range wf.Steps {
		step := &wf.Steps[i]
		if reserved[step.ID] {
			continue
		}
		if err := st.waitIfPaused(ctx); err != nil {
			return err
		}
		if st.isCancelled() {
			return ErrCancelled
		}
		switch st.stepStatus(step.ID) {
		case StepCompleted, StepFailed, StepSkipped:
			continue // settled before a pause/resume cycle
		}

		if reason := e.skipReason(st, step); reason != "" {
			st.setStepStatus(step.ID, StepSkipped)
			e.recordStep(st, wf.ID, HistoryEntry{
				StepID:    step.ID,
				Status:    StepSkipped,
				Timestamp: time.Now(),
				Error:     reason,
			})
			e.sink.Publish(events.Event{
				Stream: wf.ID,
				Type:   events.StepSkipped,
				Payload: map[string]interface{}{
					"step_id": step.ID,
					"reason":  reason,
				},
			})
			continue
		}

		st.mu.Lock()
		st.exec.CurrentStep = step.ID
		st.mu.Unlock()

		if err := e.runStep(ctx, wf, st, step, st.bag); err != nil {
			return err
		}
	}
	return nil
}

// skipReason returns a non-empty reason when a step must be skipped: a
// dependency did not complete, or a condition step ruled its branch out.
func (e *Engine) skipReason(st *execState, step *Step) string {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.skipPath[step.ID] {
		return "branch not taken"
	}
	for _, dep := range step.DependsOn {
		if st.status[dep] != StepCompleted {
			return fmt.Sprintf("dependency %s not completed", dep)
		}
	}
	return ""
}

// waitIfPaused blocks while the execution is paused.
func (st *execState) waitIfPaused(ctx context.Context) error {
	for {
		st.mu.Lock()
		if st.cancelled {
			st.mu.Unlock()
			return ErrCancelled
		}
		if !st.paused {
			st.mu.Unlock()
			return nil
		}
		ch := st.resumeCh
		st.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runStep executes one step under its retry and error policy. A nil return
// means the workflow proceeds; a non-nil return aborts the run. bag is the
// context the step reads and writes: the live bag for top-level and
// sequential steps, a private copy inside parallel and loop bodies.
func (e *Engine) runStep(ctx context.Context, wf *Workflow, st *execState, step *Step, bag map[string]interface{}) error {
	st.setStepStatus(step.ID, StepRunning)
	e.sink.Publish(events.Event{
		Stream: wf.ID,
		Type:   events.StepStart,
		Payload: map[string]interface{}{
			"step_id": step.ID,
			"kind":    string(step.Kind),
		},
	})

	maxRetries := step.MaxRetries
	if e.cfg.MaxRetries > 0 && maxRetries > e.cfg.MaxRetries {
		maxRetries = e.cfg.MaxRetries
	}
	retryDelay := step.RetryDelay
	if retryDelay <= 0 {
		retryDelay = e.cfg.RetryDelay
	}

	attempt := 0 // retry count so far
	for {
		start := time.Now()
		result, err := e.execWithTimeout(ctx, wf, st, step, bag)
		elapsed := time.Since(start)

		if err == nil {
			st.setStepStatus(step.ID, StepCompleted)
			st.bagSet(bag, step.ID, result)
			e.recordStep(st, wf.ID, HistoryEntry{
				StepID:    step.ID,
				Status:    StepCompleted,
				Timestamp: start,
				Duration:  elapsed,
				Attempt:   attempt,
				Result:    result,
			})
			metrics.StepsExecuted.WithLabelValues(string(step.Kind), "completed").Inc()
			metrics.StepDuration.WithLabelValues(string(step.Kind)).Observe(float64(elapsed.Milliseconds()))
			e.sink.Publish(events.Event{
				Stream: wf.ID,
				Type:   events.StepComplete,
				Payload: map[string]interface{}{
					"step_id":     step.ID,
					"retry_count": attempt,
					"duration_ms": elapsed.Milliseconds(),
				},
			})
			return nil
		}

		e.sink.Publish(events.Event{
			Stream: wf.ID,
			Type:   events.StepExecutionError,
			Payload: map[string]interface{}{
				"step_id": step.ID,
				"attempt": attempt,
				"error":   err.Error(),
			},
		})

		policy := step.OnError
		if policy == "" {
			policy = OnErrorStop
		}

		if policy == OnErrorRetry && attempt < maxRetries && !st.isCancelled() {
			attempt++
			e.recordStep(st, wf.ID, HistoryEntry{
				StepID:    step.ID,
				Status:    StepFailed,
				Timestamp: start,
				Duration:  elapsed,
				Attempt:   attempt,
				Error:     err.Error(),
			})
			metrics.StepRetries.Inc()
			e.sink.Publish(events.Event{
				Stream: wf.ID,
				Type:   events.StepRetry,
				Payload: map[string]interface{}{
					"step_id":     step.ID,
					"retry_count": attempt,
					"error":       err.Error(),
				},
			})
			backoff := retryDelay * time.Duration(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		// terminal failure for this step
		st.setStepStatus(step.ID, StepFailed)
		e.recordStep(st, wf.ID, HistoryEntry{
			StepID:    step.ID,
			Status:    StepFailed,
			Timestamp: start,
			Duration:  elapsed,
			Attempt:   attempt,
			Error:     err.Error(),
		})
		metrics.StepsExecuted.WithLabelValues(string(step.Kind), "failed").Inc()
		e.sink.Publish(events.Event{
			Stream: wf.ID,
			Type:   events.StepError,
			Payload: map[string]interface{}{
				"step_id": step.ID,
				"error":   err.Error(),
			},
		})

		switch policy {
		case OnErrorContinue:
			st.bagSet(bag, step.ID, map[string]interface{}{"error": err.Error()})
			return nil
		case OnErrorCompensate:
			if step.CompensationStep != "" {
				e.runCompensation(ctx, wf, st, step.CompensationStep)
			}
			return fmt.Errorf("step %s: %w", step.ID, err)
		default: // stop, or retry budget exhausted
			return fmt.Errorf("step %s: %w", step.ID, err)
		}
	}
}

// execWithTimeout races the executor against the step timeout. On expiry
// the executor goroutine is abandoned, not killed; executors must honor ctx.
func (e *Engine) execWithTimeout(ctx context.Context, wf *Workflow, st *execState, step *Step, bag map[string]interface{}) (interface{}, error) {
	if step.Timeout <= 0 {
		return e.dispatch(ctx, wf, st, step, bag)
	}

	type outcome struct {
		result interface{}
		err    error
	}
	ch := make(chan outcome, 1)
	stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	go func() {
		defer cancel()
		v, err := e.dispatch(stepCtx, wf, st, step, bag)
		ch <- outcome{v, err}
	}()
	select {
	case o := <-ch:
		return o.result, o.err
	case <-time.After(step.Timeout):
		return nil, fmt.Errorf("%w: %s after %s", ErrStepTimeout, step.ID, step.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finish settles the execution status, runs the terminal compensation pass
// if configured, and publishes the closing event.
func (e *Engine) finish(wf *Workflow, st *execState, runErr error) Execution {
	now := time.Now()
	st.mu.Lock()
	switch {
	case st.cancelled:
		st.exec.Status = StatusCancelled
	case runErr != nil:
		st.exec.Status = StatusFailed
		st.exec.Error = runErr.Error()
	default:
		st.exec.Status = StatusCompleted
	}
	st.exec.CurrentStep = ""
	st.exec.EndedAt = &now
	status := st.exec.Status
	st.mu.Unlock()

	if status == StatusFailed && wf.ErrorHandling == ErrorHandlingCompensate {
		e.compensationPass(wf, st)
	}

	elapsed := now.Sub(st.exec.StartedAt)
	metrics.WorkflowsCompleted.WithLabelValues(wf.ID, string(status)).Inc()
	metrics.WorkflowDuration.WithLabelValues(wf.ID).Observe(elapsed.Seconds())

	eventType := events.WorkflowComplete
	if status == StatusFailed {
		eventType = events.WorkflowError
	} else if status == StatusCancelled {
		eventType = events.WorkflowCancelled
	}
	payload := map[string]interface{}{
		"workflow_id":  wf.ID,
		"execution_id": st.exec.ID,
		"status":       string(status),
		"duration_ms":  elapsed.Milliseconds(),
	}
	if runErr != nil {
		payload["error"] = runErr.Error()
	}
	e.sink.Publish(events.Event{Stream: wf.ID, Type: eventType, Payload: payload})

	final := st.snapshot()
	e.retire(st)
	if e.journal != nil {
		e.journal.ExecutionClosed(final)
	}
	e.logger.Info("Workflow execution finished",
		zap.String("workflow_id", wf.ID),
		zap.String("execution_id", final.ID),
		zap.String("status", string(status)),
		zap.Duration("duration", elapsed),
	)
	return final
}

// compensationPass walks completed steps in reverse declaration order and
// runs their compensation references. Compensation failures are recorded
// but do not re-abort.
func (e *Engine) compensationPass(wf *Workflow, st *execState) {
	e.sink.Publish(events.Event{
		Stream:  wf.ID,
		Type:    events.WorkflowCompensationStart,
		Payload: map[string]interface{}{"execution_id": st.exec.ID},
	})
	failures := 0
	for i := len(wf.Steps) - 1; i >= 0; i-- {
		step := &wf.Steps[i]
		if step.CompensationStep == "" || st.stepStatus(step.ID) != StepCompleted {
			continue
		}
		if !e.runCompensation(context.Background(), wf, st, step.CompensationStep) {
			failures++
		}
	}
	eventType := events.WorkflowCompensationComplete
	if failures > 0 {
		eventType = events.WorkflowCompensationError
	}
	e.sink.Publish(events.Event{
		Stream: wf.ID,
		Type:   eventType,
		Payload: map[string]interface{}{
			"execution_id": st.exec.ID,
			"failures":     failures,
		},
	})
}

// runCompensation executes a compensation step outside the normal policy
// machinery and reports whether it succeeded.
func (e *Engine) runCompensation(ctx context.Context, wf *Workflow, st *execState, compID string) bool {
	var comp *Step
	for i := range wf.Steps {
		if wf.Steps[i].ID == compID {
			comp = &wf.Steps[i]
			break
		}
	}
	if comp == nil {
		return false
	}

	start := time.Now()
	result, err := e.execWithTimeout(ctx, wf, st, comp, st.bag)
	elapsed := time.Since(start)

	entry := HistoryEntry{
		StepID:    comp.ID,
		Status:    StepCompleted,
		Timestamp: start,
		Duration:  elapsed,
		Result:    result,
	}
	if err != nil {
		entry.Status = StepFailed
		entry.Error = err.Error()
		e.logger.Warn("Compensation step failed",
			zap.String("workflow_id", wf.ID),
			zap.String("step_id", comp.ID),
			zap.Error(err),
		)
	}
	st.setStepStatus(comp.ID, entry.Status)
	e.recordStep(st, wf.ID, entry)
	e.sink.Publish(events.Event{
		Stream: wf.ID,
		Type:   events.WorkflowCompensationStep,
		Payload: map[string]interface{}{
			"step_id": comp.ID,
			"status":  string(entry.Status),
		},
	})
	return err == nil
}

// recordStep appends a history entry and forwards it to the journal.
func (e *Engine) recordStep(st *execState, workflowID string, entry HistoryEntry) {
	st.mu.Lock()
	st.exec.History = append(st.exec.History, entry)
	execID := st.exec.ID
	st.mu.Unlock()
	if e.journal != nil {
		e.journal.AppendStep(execID, workflowID, entry)
	}
}

func (st *execState) setStepStatus(id string, s StepStatus) {
	st.mu.Lock()
	st.status[id] = s
	st.mu.Unlock()
}

// bagSet writes a key into a context bag; writes to the live bag are
// serialized under the state mutex.
func (st *execState) bagSet(bag map[string]interface{}, key string, value interface{}) {
	st.mu.Lock()
	bag[key] = value
	st.mu.Unlock()
}

func (st *execState) markBranchSkipped(id string) {
	st.mu.Lock()
	st.skipPath[id] = true
	st.mu.Unlock()
}

// Lookup over the live bag needs the state mutex; cloneBag takes a shallow
// copy for parallel and loop children.
func (st *execState) cloneBag(bag map[string]interface{}) map[string]interface{} {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]interface{}, len(bag))
	for k, v := range bag {
		out[k] = v
	}
	return out
}
