package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrBusy              = errors.New("workflow execution already in progress")
	ErrInvalid           = errors.New("workflow validation failed")
	ErrNotRunning        = errors.New("execution not running")
	ErrNotPaused         = errors.New("execution not paused")
	ErrStepTimeout       = errors.New("step timed out")
	ErrUnknownAction     = errors.New("unknown action")
	ErrCancelled         = errors.New("execution cancelled")
)

// AggregateError carries the failures of a parallel step's children.
type AggregateError struct {
	StepID   string
	Failures map[string]error // child step id -> error
}

func (e *AggregateError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%s: %v", id, e.Failures[id])
	}
	return fmt.Sprintf("parallel step %s: %d child failure(s): %s",
		e.StepID, len(e.Failures), strings.Join(parts, "; "))
}
