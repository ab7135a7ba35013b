package agents

import (
	"context"
	"time"
)

// Kind is the closed set of specialist agent kinds.
type Kind string

const (
	KindCRM       Kind = "crm"
	KindMarketing Kind = "marketing"
	KindAnalytics Kind = "analytics"
	KindProcess   Kind = "process"
)

// State is the lifecycle state of an agent.
type State string

const (
	StateIdle    State = "idle"
	StateActive  State = "active"
	StateBusy    State = "busy"
	StateError   State = "error"
	StateOffline State = "offline"
)

// Capability is a named proficiency an agent declares.
type Capability struct {
	Name        string  `json:"name"`
	Proficiency float64 `json:"proficiency"` // [0,1]
	Experience  int     `json:"experience"`  // accumulated task count
}

// Performance is the rolling record of an agent's work.
type Performance struct {
	TasksCompleted  int           `json:"tasks_completed"`
	TasksTotal      int           `json:"tasks_total"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	AvgConfidence   float64       `json:"avg_confidence"`
}

// Task is a unit of work queued on an agent.
type Task struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Priority  string                 `json:"priority,omitempty"` // "critical" jumps the queue
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// TaskResult is the outcome of an executed task.
type TaskResult struct {
	TaskID   string        `json:"task_id"`
	Success  bool          `json:"success"`
	Output   interface{}   `json:"output,omitempty"`
	Accuracy float64       `json:"accuracy,omitempty"` // [0,1] quality signal
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is an agent's response to a decision topic. Ephemeral; consumed by
// the queen.
type Report struct {
	AgentID        string      `json:"agent_id"`
	AgentName      string      `json:"agent_name,omitempty"`
	Topic          string      `json:"topic"`
	Recommendation interface{} `json:"recommendation"`
	Confidence     float64     `json:"confidence"`
	Reasoning      string      `json:"reasoning,omitempty"`
	GeneratedAt    time.Time   `json:"generated_at"`
}

// Specialist supplies the kind-specific behaviors of an agent. Concrete
// kinds register themselves through the registry at swarm init.
type Specialist interface {
	// Analyze inspects a topic and context and returns an opaque analysis.
	Analyze(ctx context.Context, topic string, topicCtx map[string]interface{}) (map[string]interface{}, error)
	// FormulateRecommendation turns an analysis into a recommendation with
	// supporting reasoning.
	FormulateRecommendation(ctx context.Context, topic string, topicCtx map[string]interface{}, analysis map[string]interface{}) (interface{}, string, error)
	// ExecuteTask performs a queued task.
	ExecuteTask(ctx context.Context, task Task) (TaskResult, error)
}

// Snapshot is a read-only projection of an agent.
type Snapshot struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Kind         Kind         `json:"kind"`
	State        State        `json:"state"`
	Capabilities []Capability `json:"capabilities"`
	QueueLength  int          `json:"queue_length"`
	CurrentTask  string       `json:"current_task,omitempty"`
	Performance  Performance  `json:"performance"`
}
