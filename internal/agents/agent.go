package agents

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/events"
	"github.com/hivemind-ai/hive/internal/metrics"
)

var (
	ErrQueueFull   = errors.New("agent task queue full")
	ErrNoTask      = errors.New("no task queued")
	ErrUnavailable = errors.New("agent unavailable")
)

const (
	defaultQueueCapacity = 20
	collaborationLimit   = 5  // max queued tasks to accept collaboration
	historyLimit         = 50 // completed task results retained
)

// Agent is the per-worker runtime: capability registration, report
// generation, task execution and learning feedback. All state is owned by
// the agent and mutated under its mutex; at most one task is current at a
// time, and state == busy exactly while a current task exists.
type Agent struct {
	id   string
	name string
	kind Kind

	mu           sync.Mutex
	state        State
	capabilities []Capability
	queue        []Task
	queueCap     int
	current      *Task
	perf         Performance
	history      []TaskResult

	specialist Specialist
	sink       events.Sink
	logger     *zap.Logger
}

// New creates an agent of the given kind backed by a specialist.
func New(kind Kind, name string, capabilities []Capability, specialist Specialist, sink events.Sink, logger *zap.Logger) *Agent {
	if sink == nil {
		sink = events.NopSink{}
	}
	a := &Agent{
		id:           uuid.New().String(),
		name:         name,
		kind:         kind,
		state:        StateIdle,
		capabilities: append([]Capability(nil), capabilities...),
		queueCap:     defaultQueueCapacity,
		specialist:   specialist,
		sink:         sink,
		logger:       logger,
	}
	a.sink.Publish(events.Event{
		Stream: a.id,
		Type:   events.AgentInitialized,
		Payload: map[string]interface{}{
			"agent_id":     a.id,
			"name":         name,
			"kind":         string(kind),
			"capabilities": len(capabilities),
		},
	})
	return a
}

// ID returns the agent identity.
func (a *Agent) ID() string { return a.id }

// Name returns the agent's deterministic worker name.
func (a *Agent) Name() string { return a.name }

// Kind returns the agent kind.
func (a *Agent) Kind() Kind { return a.kind }

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SetOffline takes the agent out of rotation.
func (a *Agent) SetOffline() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = StateOffline
}

// Snapshot returns a read-only projection.
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Snapshot{
		ID:           a.id,
		Name:         a.name,
		Kind:         a.kind,
		State:        a.state,
		Capabilities: append([]Capability(nil), a.capabilities...),
		QueueLength:  len(a.queue),
		Performance:  a.perf,
	}
	if a.current != nil {
		s.CurrentTask = a.current.ID
	}
	return s
}

// RelevanceScore averages proficiency over capabilities whose normalized
// name tokens appear in the topic or context (case-insensitive).
func (a *Agent) RelevanceScore(topic string, topicCtx map[string]interface{}) float64 {
	haystack := strings.ToLower(topic)
	for k, v := range topicCtx {
		haystack += " " + strings.ToLower(k)
		if s, ok := v.(string); ok {
			haystack += " " + strings.ToLower(s)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	var sum float64
	var matched int
	for _, c := range a.capabilities {
		for _, tok := range strings.FieldsFunc(strings.ToLower(c.Name), func(r rune) bool {
			return r == '-' || r == '_' || r == ' ' || r == '.'
		}) {
			if strings.Contains(haystack, tok) {
				sum += c.Proficiency
				matched++
				break
			}
		}
	}
	if matched == 0 {
		return 0
	}
	return sum / float64(matched)
}

// Confidence blends topic relevance with accumulated experience:
// 0.7·relevance + min(tasksCompleted/100, 0.2) + 0.1·successRate, clipped.
func (a *Agent) Confidence(topic string, topicCtx map[string]interface{}) float64 {
	relevance := a.RelevanceScore(topic, topicCtx)
	a.mu.Lock()
	defer a.mu.Unlock()
	c := 0.7*relevance +
		math.Min(float64(a.perf.TasksCompleted)/100, 0.2) +
		0.1*a.perf.SuccessRate
	return clamp01(c)
}

// GenerateReport asks the specialist for an analysis and recommendation.
// The caller bounds the call via ctx.
func (a *Agent) GenerateReport(ctx context.Context, topic string, topicCtx map[string]interface{}) (Report, error) {
	analysis, err := a.specialist.Analyze(ctx, topic, topicCtx)
	if err != nil {
		a.publishError("analyze", err)
		return Report{}, fmt.Errorf("analyze: %w", err)
	}
	recommendation, reasoning, err := a.specialist.FormulateRecommendation(ctx, topic, topicCtx, analysis)
	if err != nil {
		a.publishError("formulate", err)
		return Report{}, fmt.Errorf("formulate recommendation: %w", err)
	}

	confidence := a.Confidence(topic, topicCtx)
	report := Report{
		AgentID:        a.id,
		AgentName:      a.name,
		Topic:          topic,
		Recommendation: recommendation,
		Confidence:     confidence,
		Reasoning:      reasoning,
		GeneratedAt:    time.Now(),
	}

	a.mu.Lock()
	n := float64(a.perf.TasksTotal + 1)
	a.perf.AvgConfidence += (confidence - a.perf.AvgConfidence) / n
	a.mu.Unlock()

	metrics.AgentReports.WithLabelValues(string(a.kind)).Inc()
	a.sink.Publish(events.Event{
		Stream: a.id,
		Type:   events.AgentReportGenerated,
		Payload: map[string]interface{}{
			"agent_id":   a.id,
			"topic":      topic,
			"confidence": confidence,
		},
	})
	return report, nil
}

// AssignTask queues a task; "critical" priority jumps the queue.
func (a *Agent) AssignTask(task Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	a.mu.Lock()
	if a.state == StateOffline {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnavailable, a.id)
	}
	if len(a.queue) >= a.queueCap {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrQueueFull, a.id)
	}
	if task.Priority == "critical" {
		a.queue = append([]Task{task}, a.queue...)
	} else {
		a.queue = append(a.queue, task)
	}
	depth := len(a.queue)
	a.mu.Unlock()

	a.sink.Publish(events.Event{
		Stream: a.id,
		Type:   events.AgentTasksAssigned,
		Payload: map[string]interface{}{
			"agent_id":    a.id,
			"task_id":     task.ID,
			"priority":    task.Priority,
			"queue_depth": depth,
		},
	})
	return nil
}

// ProcessNextTask pops the head of the queue and executes it through the
// specialist. The agent is busy for the duration; completion feeds the
// learning record.
func (a *Agent) ProcessNextTask(ctx context.Context) (TaskResult, error) {
	a.mu.Lock()
	if a.current != nil {
		a.mu.Unlock()
		return TaskResult{}, fmt.Errorf("%w: task already in flight", ErrUnavailable)
	}
	if len(a.queue) == 0 {
		a.mu.Unlock()
		return TaskResult{}, ErrNoTask
	}
	task := a.queue[0]
	a.queue = a.queue[1:]
	a.current = &task
	a.state = StateBusy
	a.mu.Unlock()

	a.sink.Publish(events.Event{
		Stream: a.id,
		Type:   events.AgentProcessingTask,
		Payload: map[string]interface{}{
			"agent_id": a.id,
			"task_id":  task.ID,
			"type":     task.Type,
		},
	})

	start := time.Now()
	result, err := a.specialist.ExecuteTask(ctx, task)
	result.TaskID = task.ID
	result.Duration = time.Since(start)
	if err != nil {
		result.Success = false
		if result.Error == "" {
			result.Error = err.Error()
		}
	}

	a.completeTask(task, result)

	status := "success"
	if !result.Success {
		status = "failure"
	}
	metrics.AgentTasksCompleted.WithLabelValues(string(a.kind), status).Inc()
	metrics.AgentTaskDuration.WithLabelValues(string(a.kind)).
		Observe(float64(result.Duration.Milliseconds()))
	if err != nil {
		a.publishError("execute", err)
		return result, fmt.Errorf("execute task %s: %w", task.ID, err)
	}
	return result, nil
}

// completeTask updates the learning record: rolling averages, history and
// per-capability proficiency driven by the success/accuracy signals.
func (a *Agent) completeTask(task Task, result TaskResult) {
	a.mu.Lock()
	a.current = nil
	a.perf.TasksTotal++
	if result.Success {
		a.perf.TasksCompleted++
		if len(a.queue) > 0 {
			a.state = StateActive
		} else {
			a.state = StateIdle
		}
	} else {
		a.state = StateError
	}
	n := float64(a.perf.TasksTotal)
	success := 0.0
	if result.Success {
		success = 1
	}
	a.perf.SuccessRate += (success - a.perf.SuccessRate) / n
	a.perf.AvgResponseTime += time.Duration(
		(int64(result.Duration) - int64(a.perf.AvgResponseTime)) / int64(a.perf.TasksTotal))

	a.history = append(a.history, result)
	if len(a.history) > historyLimit {
		a.history = a.history[len(a.history)-historyLimit:]
	}

	// proficiency drifts toward the observed accuracy for matching
	// capabilities
	taskTokens := strings.ToLower(task.Type)
	for i := range a.capabilities {
		c := &a.capabilities[i]
		if !strings.Contains(taskTokens, strings.ToLower(c.Name)) &&
			!strings.Contains(strings.ToLower(c.Name), taskTokens) {
			continue
		}
		c.Experience++
		signal := result.Accuracy
		if signal == 0 {
			signal = success
		}
		c.Proficiency = clamp01(c.Proficiency + 0.1*(signal-c.Proficiency))
	}
	a.mu.Unlock()

	a.sink.Publish(events.Event{
		Stream: a.id,
		Type:   events.AgentLearning,
		Payload: map[string]interface{}{
			"agent_id":     a.id,
			"task_id":      result.TaskID,
			"success":      result.Success,
			"success_rate": a.Snapshot().Performance.SuccessRate,
		},
	})
}

// Feedback folds an external success signal into the rolling success rate.
func (a *Agent) Feedback(success bool, weight float64) {
	if weight <= 0 || weight > 1 {
		weight = 0.1
	}
	target := 0.0
	if success {
		target = 1
	}
	a.mu.Lock()
	a.perf.SuccessRate = clamp01(a.perf.SuccessRate + weight*(target-a.perf.SuccessRate))
	rate := a.perf.SuccessRate
	a.mu.Unlock()

	a.sink.Publish(events.Event{
		Stream: a.id,
		Type:   events.AgentFeedbackProcessed,
		Payload: map[string]interface{}{
			"agent_id":     a.id,
			"success":      success,
			"success_rate": rate,
		},
	})
}

// RequestCollaboration asks the agent to take on a side task. Accepted only
// when not busy and the queue is short.
func (a *Agent) RequestCollaboration(from string, task Task) bool {
	a.sink.Publish(events.Event{
		Stream: a.id,
		Type:   events.AgentCollaborationRequested,
		Payload: map[string]interface{}{
			"agent_id": a.id,
			"from":     from,
			"task_id":  task.ID,
		},
	})

	a.mu.Lock()
	accepted := a.state != StateBusy && a.state != StateOffline && len(a.queue) < collaborationLimit
	a.mu.Unlock()
	if accepted {
		if err := a.AssignTask(task); err != nil {
			accepted = false
		}
	}

	a.sink.Publish(events.Event{
		Stream: a.id,
		Type:   events.AgentCollaborationResponse,
		Payload: map[string]interface{}{
			"agent_id": a.id,
			"from":     from,
			"accepted": accepted,
		},
	})
	return accepted
}

// History returns the retained task results, oldest first.
func (a *Agent) History() []TaskResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]TaskResult(nil), a.history...)
}

func (a *Agent) publishError(op string, err error) {
	a.sink.Publish(events.Event{
		Stream: a.id,
		Type:   events.AgentError,
		Payload: map[string]interface{}{
			"agent_id": a.id,
			"op":       op,
			"error":    err.Error(),
		},
	})
	a.logger.Warn("Agent operation failed",
		zap.String("agent_id", a.id),
		zap.String("op", op),
		zap.Error(err),
	)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
