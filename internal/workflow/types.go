package workflow

import "time"

// Kind is the closed set of step executor kinds.
type Kind string

const (
	KindAction      Kind = "action"
	KindCondition   Kind = "condition"
	KindParallel    Kind = "parallel"
	KindSequential  Kind = "sequential"
	KindLoop        Kind = "loop"
	KindWait        Kind = "wait"
	KindSubWorkflow Kind = "sub-workflow"
)

// ErrorPolicy selects how the interpreter reacts to a failed step.
type ErrorPolicy string

const (
	OnErrorStop       ErrorPolicy = "stop" // default
	OnErrorContinue   ErrorPolicy = "continue"
	OnErrorRetry      ErrorPolicy = "retry"
	OnErrorCompensate ErrorPolicy = "compensate"
)

// Step is one node of a workflow graph. Kind-specific fields are only
// consulted for the matching kind; Validate flags inconsistent config.
type Step struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Kind Kind   `json:"kind" yaml:"kind"`

	// action
	Action string                 `json:"action,omitempty" yaml:"action,omitempty"`
	Params map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`

	// condition
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
	TruePath   string `json:"true_path,omitempty" yaml:"truePath,omitempty"`
	FalsePath  string `json:"false_path,omitempty" yaml:"falsePath,omitempty"`

	// parallel / sequential / loop bodies
	Steps          []Step `json:"steps,omitempty" yaml:"steps,omitempty"`
	MaxConcurrency int    `json:"max_concurrency,omitempty" yaml:"maxConcurrency,omitempty"`

	// loop
	Over     string        `json:"over,omitempty" yaml:"over,omitempty"` // dotted context path to a collection
	Items    []interface{} `json:"items,omitempty" yaml:"items,omitempty"`
	ItemVar  string        `json:"item_var,omitempty" yaml:"itemVar,omitempty"`   // default "item"
	IndexVar string        `json:"index_var,omitempty" yaml:"indexVar,omitempty"` // default "index"

	// wait
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Until    *time.Time    `json:"until,omitempty" yaml:"until,omitempty"`

	// sub-workflow
	WorkflowID    string            `json:"workflow_id,omitempty" yaml:"workflowId,omitempty"`
	InputMapping  map[string]string `json:"input_mapping,omitempty" yaml:"inputMapping,omitempty"`
	OutputMapping map[string]string `json:"output_mapping,omitempty" yaml:"outputMapping,omitempty"`

	// control
	DependsOn        []string      `json:"depends_on,omitempty" yaml:"dependsOn,omitempty"`
	Timeout          time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxRetries       int           `json:"max_retries,omitempty" yaml:"maxRetries,omitempty"`
	RetryDelay       time.Duration `json:"retry_delay,omitempty" yaml:"retryDelay,omitempty"`
	OnError          ErrorPolicy   `json:"on_error,omitempty" yaml:"onError,omitempty"`
	CompensationStep string        `json:"compensation_step,omitempty" yaml:"compensationStep,omitempty"`
}

// ErrorHandlingCompensate enables the terminal compensation pass for a
// workflow.
const ErrorHandlingCompensate = "compensate"

// Workflow is a validated step graph plus its initial variable bag.
type Workflow struct {
	ID            string                 `json:"id" yaml:"id"`
	Name          string                 `json:"name" yaml:"name"`
	Steps         []Step                 `json:"steps" yaml:"steps"`
	Variables     map[string]interface{} `json:"variables,omitempty" yaml:"variables,omitempty"`
	ErrorHandling string                 `json:"error_handling,omitempty" yaml:"errorHandling,omitempty"`
}

// Status is the lifecycle state of a workflow execution.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// StepStatus is the per-step lifecycle state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// HistoryEntry is one append-only record of a step outcome.
type HistoryEntry struct {
	StepID    string        `json:"step_id"`
	Status    StepStatus    `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Attempt   int           `json:"attempt,omitempty"`
	Result    interface{}   `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Execution is a read-only projection of one workflow run.
type Execution struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      Status                 `json:"status"`
	CurrentStep string                 `json:"current_step,omitempty"`
	History     []HistoryEntry         `json:"history"`
	Context     map[string]interface{} `json:"context"`
	StartedAt   time.Time              `json:"started_at"`
	EndedAt     *time.Time             `json:"ended_at,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// ValidationResult aggregates static defects found in a workflow graph.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Journal receives append-only execution history records. The persistence
// layer implements it; a nil journal disables recording.
type Journal interface {
	AppendStep(executionID, workflowID string, entry HistoryEntry)
	ExecutionClosed(exec Execution)
}
