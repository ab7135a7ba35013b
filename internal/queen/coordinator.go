package queen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hivemind-ai/hive/internal/agents"
	"github.com/hivemind-ai/hive/internal/events"
	"github.com/hivemind-ai/hive/internal/metrics"
	"github.com/hivemind-ai/hive/internal/patterns"
	"github.com/hivemind-ai/hive/internal/tracing"
	"github.com/hivemind-ai/hive/internal/voting"
)

var (
	ErrNoAgents        = errors.New("no agents matched the topic")
	ErrNoReports       = errors.New("no reports were produced")
	ErrDecisionUnknown = errors.New("decision not found")
	ErrNotPending      = errors.New("decision not pending approval")
)

// DecisionStatus tracks a decision through synthesis and execution.
type DecisionStatus string

const (
	StatusExecuted DecisionStatus = "executed"
	StatusPending  DecisionStatus = "pending-approval"
	StatusApproved DecisionStatus = "approved"
	StatusRejected DecisionStatus = "rejected"
	StatusFailed   DecisionStatus = "failed"
)

// Decision is the queen's synthesized outcome for one topic.
type Decision struct {
	ID             string                 `json:"id"`
	Topic          string                 `json:"topic"`
	Context        map[string]interface{} `json:"context,omitempty"`
	Reports        []agents.Report        `json:"reports"`
	Result         voting.MajorityResult  `json:"result"`
	Recommendation interface{}            `json:"recommendation,omitempty"`
	Confidence     float64                `json:"confidence"`
	Prediction     *patterns.Prediction   `json:"prediction,omitempty"`
	Status         DecisionStatus         `json:"status"`
	CreatedAt      time.Time              `json:"created_at"`
	ResolvedAt     *time.Time             `json:"resolved_at,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
}

// ExecuteFunc carries an approved decision to execution.
type ExecuteFunc func(ctx context.Context, d *Decision) error

// Config holds the queen's threshold knobs.
type Config struct {
	AutoExecutionThreshold float64       // confidence floor for autonomous execution
	VotingThreshold        float64       // passed through to the voting engine
	ReportTimeout          time.Duration // per fan-out bound
	ReportRatePerSecond    float64       // fan-out rate limit
	ApprovalDeadline       time.Duration // HITL response window
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		AutoExecutionThreshold: 0.7,
		VotingThreshold:        0.5,
		ReportTimeout:          10 * time.Second,
		ReportRatePerSecond:    20,
		ApprovalDeadline:       5 * time.Minute,
	}
}

// Coordinator is the queen: it selects participants, fans out report
// requests, synthesizes them through the voting engine, gates execution on
// confidence, and records outcomes to the pattern store.
type Coordinator struct {
	cfg      Config
	registry *agents.Registry
	votes    *voting.Engine
	memory   *patterns.Store
	sink     events.Sink
	logger   *zap.Logger
	limiter  *rate.Limiter
	execute  ExecuteFunc

	mu        sync.Mutex
	decisions map[string]*Decision
	pending   map[string]*time.Timer
}

// New creates a queen coordinator.
func New(cfg Config, registry *agents.Registry, votes *voting.Engine, memory *patterns.Store, execute ExecuteFunc, sink events.Sink, logger *zap.Logger) *Coordinator {
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 10 * time.Second
	}
	if cfg.ReportRatePerSecond <= 0 {
		cfg.ReportRatePerSecond = 20
	}
	if cfg.ApprovalDeadline <= 0 {
		cfg.ApprovalDeadline = 5 * time.Minute
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Coordinator{
		cfg:       cfg,
		registry:  registry,
		votes:     votes,
		memory:    memory,
		sink:      sink,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(cfg.ReportRatePerSecond), 1),
		execute:   execute,
		decisions: make(map[string]*Decision),
		pending:   make(map[string]*time.Timer),
	}
}

// SetConfig swaps threshold knobs; applies to subsequent decisions.
func (c *Coordinator) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.AutoExecutionThreshold > 0 {
		c.cfg.AutoExecutionThreshold = cfg.AutoExecutionThreshold
	}
	if cfg.VotingThreshold > 0 {
		c.cfg.VotingThreshold = cfg.VotingThreshold
	}
	if cfg.ReportTimeout > 0 {
		c.cfg.ReportTimeout = cfg.ReportTimeout
	}
	if cfg.ApprovalDeadline > 0 {
		c.cfg.ApprovalDeadline = cfg.ApprovalDeadline
	}
}

// Decide runs one full decision round for a topic. The decision is either
// executed, escalated for human approval, or recorded as a failure; it is
// never silently dropped.
func (c *Coordinator) Decide(ctx context.Context, topic string, topicCtx map[string]interface{}) (*Decision, error) {
	ctx, span := tracing.StartDecisionSpan(ctx, topic)
	defer span.End()

	participants := c.registry.SelectRelevant(topic, topicCtx)
	if len(participants) == 0 {
		c.recordOutcome(topic, topicCtx, "", false)
		return nil, fmt.Errorf("%w: %q", ErrNoAgents, topic)
	}

	reports := c.gatherReports(ctx, participants, topic, topicCtx)
	if len(reports) == 0 {
		c.recordOutcome(topic, topicCtx, "", false)
		return nil, fmt.Errorf("%w: %q", ErrNoReports, topic)
	}

	decision := &Decision{
		ID:        uuid.New().String(),
		Topic:     topic,
		Context:   topicCtx,
		Reports:   reports,
		CreatedAt: time.Now(),
	}

	// Each distinct recommendation becomes a vote option.
	options, optionByAgent := buildOptions(reports)
	candidates := make([]string, len(options))
	for i, o := range options {
		candidates[i] = o.ID
	}
	if c.memory != nil {
		pred := c.memory.Predict(patterns.KindDecision, topicCtx, candidates)
		if pred.Prediction != "" {
			decision.Prediction = &pred
		}
	}

	eligible := make([]string, len(reports))
	var confSum float64
	for i, r := range reports {
		eligible[i] = r.AgentID
		confSum += r.Confidence
	}
	decision.Confidence = confSum / float64(len(reports))

	votingID, err := c.votes.Open(voting.Topic{
		ID:       "decision-" + decision.ID,
		Question: topic,
		Options:  options,
		Context:  topicCtx,
	}, eligible)
	if err != nil {
		c.recordOutcome(topic, topicCtx, "", false)
		return nil, fmt.Errorf("open voting: %w", err)
	}

	for _, r := range reports {
		agent, err := c.registry.Get(r.AgentID)
		if err != nil {
			continue
		}
		c.votes.SetAgentWeight(r.AgentID, agentWeight(agent))
		vote := voting.Vote{
			VoterID:    r.AgentID,
			OptionID:   optionByAgent[r.AgentID],
			Confidence: r.Confidence,
		}
		if err := c.votes.Cast(votingID, vote); err != nil {
			c.logger.Warn("Vote rejected",
				zap.String("voting_id", votingID),
				zap.String("agent_id", r.AgentID),
				zap.Error(err),
			)
		}
	}

	// All eligible voters cast, so the round closed itself; Close covers
	// the partial-failure path where some votes were rejected.
	result, err := c.votes.Close(votingID)
	if errors.Is(err, voting.ErrAlreadyClosed) {
		if r, ok := c.votes.Result(votingID); ok {
			result, err = r, nil
		}
	}
	if err != nil {
		c.recordOutcome(topic, topicCtx, "", false)
		return nil, fmt.Errorf("close voting: %w", err)
	}
	decision.Result = result
	if result.Winner != nil {
		decision.Recommendation = result.Winner.Value
	}

	c.mu.Lock()
	c.decisions[decision.ID] = decision
	c.mu.Unlock()

	if decision.Confidence < c.cfg.AutoExecutionThreshold || result.Legitimacy != voting.LegitimacyValid || !result.MajorityAchieved {
		c.escalate(decision)
		return decision, nil
	}
	c.executeDecision(ctx, decision)
	return decision, nil
}

// gatherReports fans out report requests in parallel, each bounded by the
// report timeout and the fan-out rate limiter.
func (c *Coordinator) gatherReports(ctx context.Context, participants []*agents.Agent, topic string, topicCtx map[string]interface{}) []agents.Report {
	type outcome struct {
		report agents.Report
		err    error
		idx    int
	}
	results := make(chan outcome, len(participants))
	for i, a := range participants {
		if err := c.limiter.Wait(ctx); err != nil {
			results <- outcome{err: err, idx: i}
			continue
		}
		go func(idx int, a *agents.Agent) {
			reportCtx, cancel := context.WithTimeout(ctx, c.cfg.ReportTimeout)
			defer cancel()
			rep, err := a.GenerateReport(reportCtx, topic, topicCtx)
			results <- outcome{report: rep, err: err, idx: idx}
		}(i, a)
	}

	collected := make([]agents.Report, 0, len(participants))
	byIdx := make(map[int]agents.Report, len(participants))
	for range participants {
		o := <-results
		if o.err != nil {
			c.logger.Warn("Report request failed",
				zap.String("topic", topic),
				zap.Error(o.err),
			)
			continue
		}
		byIdx[o.idx] = o.report
		c.sink.Publish(events.Event{
			Stream: o.report.AgentID,
			Type:   events.AgentResponseReceived,
			Payload: map[string]interface{}{
				"agent_id":   o.report.AgentID,
				"topic":      topic,
				"confidence": o.report.Confidence,
			},
		})
	}
	// preserve participant order for deterministic option numbering
	for i := range participants {
		if rep, ok := byIdx[i]; ok {
			collected = append(collected, rep)
		}
	}
	return collected
}

// buildOptions dedupes recommendations into vote options and maps each
// agent to the option carrying its recommendation.
func buildOptions(reports []agents.Report) ([]voting.Option, map[string]string) {
	options := make([]voting.Option, 0, len(reports))
	index := make(map[string]string) // rendered recommendation -> option id
	byAgent := make(map[string]string, len(reports))
	for _, r := range reports {
		key := fmt.Sprintf("%v", r.Recommendation)
		id, ok := index[key]
		if !ok {
			id = fmt.Sprintf("opt-%d", len(options)+1)
			index[key] = id
			options = append(options, voting.Option{
				ID:          id,
				Value:       r.Recommendation,
				Description: r.Reasoning,
			})
		}
		byAgent[r.AgentID] = id
	}
	return options, byAgent
}

// agentWeight derives the default voting weight: mean capability proficiency
// scaled by historical success (0.5 + 0.5·successRate).
func agentWeight(a *agents.Agent) float64 {
	snap := a.Snapshot()
	if len(snap.Capabilities) == 0 {
		return 0.5
	}
	var sum float64
	for _, c := range snap.Capabilities {
		sum += c.Proficiency
	}
	mean := sum / float64(len(snap.Capabilities))
	return mean * (0.5 + 0.5*snap.Performance.SuccessRate)
}

// executeDecision runs the execution hook and records the outcome.
func (c *Coordinator) executeDecision(ctx context.Context, d *Decision) {
	var execErr error
	if c.execute != nil {
		execErr = c.execute(ctx, d)
	}

	now := time.Now()
	c.mu.Lock()
	d.ResolvedAt = &now
	if execErr != nil {
		d.Status = StatusFailed
		d.Reason = execErr.Error()
	} else {
		d.Status = StatusExecuted
	}
	c.mu.Unlock()

	disposition := "executed"
	if execErr != nil {
		disposition = "failed"
		c.logger.Error("Decision execution failed",
			zap.String("decision_id", d.ID),
			zap.Error(execErr),
		)
	}
	metrics.DecisionsTotal.WithLabelValues(disposition).Inc()
	c.recordDecisionOutcome(d, execErr == nil)
}

// recordDecisionOutcome writes the decision and its outcome to the pattern
// store.
func (c *Coordinator) recordDecisionOutcome(d *Decision, success bool) {
	if c.memory == nil {
		return
	}
	selected := ""
	if d.Result.Winner != nil {
		selected = d.Result.Winner.ID
	}
	c.memory.Observe(patterns.Decision{
		Type:     patterns.KindDecision,
		Context:  d.Context,
		Actions:  []string{d.Topic},
		Selected: selected,
	}, patterns.Outcome{
		Success:  success,
		Score:    d.Confidence,
		Selected: selected,
	}, map[string]float64{
		"confidence":    d.Confidence,
		"participation": d.Result.Participation.Rate,
	})
}

// recordOutcome records a failed round that never produced a decision.
func (c *Coordinator) recordOutcome(topic string, topicCtx map[string]interface{}, selected string, success bool) {
	if c.memory == nil {
		return
	}
	c.memory.Observe(patterns.Decision{
		Type:     patterns.KindFailure,
		Context:  topicCtx,
		Actions:  []string{topic},
		Selected: selected,
	}, patterns.Outcome{Success: success}, nil)
}

// Decision returns a decision by id.
func (c *Coordinator) Decision(id string) (*Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.decisions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDecisionUnknown, id)
	}
	return d, nil
}

// Pending lists decisions awaiting human approval.
func (c *Coordinator) Pending() []*Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Decision, 0, len(c.pending))
	for id := range c.pending {
		out = append(out, c.decisions[id])
	}
	return out
}
