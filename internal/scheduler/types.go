package scheduler

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("schedule not found")
	ErrBadRecurrence = errors.New("invalid recurrence")
	ErrNotPaused     = errors.New("schedule not paused")
	ErrTerminal      = errors.New("schedule already terminal")
)

// Status is the lifecycle state of a schedule.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Recurrence describes when a schedule fires. Exactly one of Cron,
// Interval, or Once must be set.
type Recurrence struct {
	Cron     string        `json:"cron,omitempty"`
	Timezone string        `json:"timezone,omitempty"` // IANA name, default UTC
	Interval time.Duration `json:"interval,omitempty"`
	Once     *time.Time    `json:"once,omitempty"`
}

// Schedule is a read-only projection of one registered schedule.
type Schedule struct {
	ID         string                 `json:"id"`
	WorkflowID string                 `json:"workflow_id"`
	Recurrence Recurrence             `json:"recurrence"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Status     Status                 `json:"status"`
	LastRun    *time.Time             `json:"last_run,omitempty"`
	NextRun    *time.Time             `json:"next_run,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	Firings    int                    `json:"firings"`
}

// FiringRecord is one entry of the scheduler's execution history.
type FiringRecord struct {
	ScheduleID  string    `json:"schedule_id"`
	WorkflowID  string    `json:"workflow_id"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Status      string    `json:"status"` // success | failed | cancelled
	Error       string    `json:"error,omitempty"`
}
