// Package hive assembles the swarm: agents, queen, voting, pattern memory,
// workflow engine, scheduler, and persistence, wired through one event bus.
package hive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/agents"
	"github.com/hivemind-ai/hive/internal/config"
	"github.com/hivemind-ai/hive/internal/events"
	"github.com/hivemind-ai/hive/internal/patterns"
	"github.com/hivemind-ai/hive/internal/queen"
	"github.com/hivemind-ai/hive/internal/scheduler"
	"github.com/hivemind-ai/hive/internal/store"
	"github.com/hivemind-ai/hive/internal/voting"
	"github.com/hivemind-ai/hive/internal/workflow"
)

// Swarm is the assembled runtime. All components publish to one bus and
// share one configuration surface.
type Swarm struct {
	ID string

	cfg      *config.HiveConfig
	logger   *zap.Logger
	bus      *events.Bus
	kv       store.KV
	journal  *store.HistoryStore
	registry *agents.Registry
	votes    *voting.Engine
	memory   *patterns.Store
	queen    *queen.Coordinator
	engine   *workflow.Engine
	sched    *scheduler.Scheduler

	mu      sync.Mutex
	spawned int
	wg      sync.WaitGroup
}

// Status is a read-only projection of the whole swarm.
type Status struct {
	SwarmID   string               `json:"swarm_id"`
	Agents    []agents.Snapshot    `json:"agents"`
	Voting    voting.Metrics       `json:"voting"`
	Patterns  patterns.Progress    `json:"patterns"`
	Schedules []scheduler.Schedule `json:"schedules"`
	Pending   int                  `json:"pending_approvals"`
}

// New assembles a swarm from configuration.
func New(ctx context.Context, cfg *config.HiveConfig, logger *zap.Logger) (*Swarm, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	bus := events.NewBus(1024)

	var kv store.KV
	if cfg.Store.RedisAddr != "" {
		rkv, err := store.NewRedisKV(ctx, store.RedisConfig{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		}, logger)
		if err != nil {
			return nil, err
		}
		kv = rkv
	} else {
		kv = store.NewMemoryKV()
		logger.Info("Using in-memory persistence")
	}

	var journal *store.HistoryStore
	if cfg.Store.HistoryDSN != "" {
		j, err := store.NewHistoryStore(store.HistoryConfig{
			Driver: cfg.Store.HistoryDriver,
			DSN:    cfg.Store.HistoryDSN,
		}, logger)
		if err != nil {
			_ = kv.Close()
			return nil, err
		}
		if err := j.EnsureSchema(ctx); err != nil {
			_ = j.Close()
			_ = kv.Close()
			return nil, err
		}
		journal = j
	}

	votes := voting.NewEngine(voting.Config{
		Threshold:      cfg.Voting.Threshold,
		QuorumRequired: cfg.Voting.QuorumRequired,
		TieBreaker:     cfg.Voting.TieBreaker,
		Timeout:        cfg.Voting.Timeout,
		WeightedVoting: cfg.Voting.WeightedVoting,
		HistoryLimit:   cfg.Voting.HistoryLimit,
	}, bus, logger)

	memory := patterns.NewStore(patterns.Config{
		TTL:                 time.Duration(cfg.Patterns.TTLDays) * 24 * time.Hour,
		SimilarityThreshold: cfg.Patterns.SimilarityThreshold,
		RecencyHalfLife:     cfg.Patterns.RecencyHalfLife,
		PruneInterval:       cfg.Patterns.PruneInterval,
	}, bus, logger)
	memory.StartPruner()

	registry := agents.NewRegistry(cfg.Swarm.MaxAgents, logger)

	var engineJournal workflow.Journal
	if journal != nil {
		engineJournal = journal
	}
	engine := workflow.NewEngine(workflow.Config{
		MaxRetries: cfg.Workflow.MaxRetries,
		RetryDelay: cfg.Workflow.RetryDelay,
	}, engineJournal, bus, logger)

	s := &Swarm{
		ID:       "swarm-" + time.Now().UTC().Format("20060102-150405"),
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		kv:       kv,
		journal:  journal,
		registry: registry,
		votes:    votes,
		memory:   memory,
		engine:   engine,
	}

	s.queen = queen.New(queen.Config{
		AutoExecutionThreshold: cfg.Swarm.AutoExecutionThreshold,
		VotingThreshold:        cfg.Voting.Threshold,
		ReportTimeout:          cfg.Swarm.ReportTimeout,
		ReportRatePerSecond:    cfg.Swarm.ReportRatePerSecond,
		ApprovalDeadline:       cfg.Swarm.ApprovalDeadline,
	}, registry, votes, memory, s.executeDecision, bus, logger)

	s.sched = scheduler.New(scheduler.Config{
		DefaultTimezone: cfg.Scheduler.Timezone,
	}, engine, bus, logger)

	s.wg.Add(1)
	go s.persistLoop(bus.Subscribe("", 256))

	logger.Info("Swarm assembled", zap.String("swarm_id", s.ID))
	return s, nil
}

// persistLoop snapshots schedules, closed voting results, and observed
// patterns into the KV store, driven by the event bus. The loop exits when
// the bus closes.
func (s *Swarm) persistLoop(ch chan events.Event) {
	defer s.wg.Done()
	for evt := range ch {
		switch evt.Type {
		case events.ScheduleRegistered, events.ScheduleUpdated, events.SchedulePaused,
			events.ScheduleResumed, events.ScheduleFired, events.ScheduleCompleted,
			events.ScheduleFailed:
			id, _ := evt.Payload["schedule_id"].(string)
			if id == "" {
				continue
			}
			if meta, err := s.sched.Status(id); err == nil {
				s.persist(store.Key("schedule", id), meta)
			}
		case events.ScheduleCancelled:
			id, _ := evt.Payload["schedule_id"].(string)
			if id == "" {
				continue
			}
			if err := s.kv.Delete(context.Background(), store.Key("schedule", id)); err != nil {
				s.logger.Warn("Schedule snapshot delete failed", zap.String("schedule_id", id), zap.Error(err))
			}
		case events.MajorityVotingClosed:
			id, _ := evt.Payload["topic_id"].(string)
			if id == "" {
				continue
			}
			if result, ok := s.votes.Result(id); ok {
				s.persist(store.Key("voting", id), result)
			}
		case events.PatternObserved:
			sig, _ := evt.Payload["signature"].(string)
			if sig == "" {
				continue
			}
			if p, ok := s.memory.Get(sig); ok {
				s.persist(store.Key("pattern", sig), p)
			}
		case events.PatternPruned:
			sigs, _ := evt.Payload["signatures"].([]string)
			for _, sig := range sigs {
				if err := s.kv.Delete(context.Background(), store.Key("pattern", sig)); err != nil {
					s.logger.Warn("Pattern snapshot delete failed", zap.String("signature", sig), zap.Error(err))
				}
			}
		}
	}
}

func (s *Swarm) persist(key string, v interface{}) {
	if err := store.PutJSON(context.Background(), s.kv, key, v, 0); err != nil {
		s.logger.Warn("Snapshot persist failed", zap.String("key", key), zap.Error(err))
	}
}

// executeDecision carries an executable queen decision. A recommendation
// naming a workflow id runs through the workflow engine; anything else is
// accepted as-is and left to event consumers.
func (s *Swarm) executeDecision(ctx context.Context, d *queen.Decision) error {
	rec, ok := d.Recommendation.(map[string]interface{})
	if !ok {
		return nil
	}
	workflowID, ok := rec["workflow_id"].(string)
	if !ok || workflowID == "" {
		return nil
	}
	vars, _ := rec["variables"].(map[string]interface{})
	exec, err := s.engine.Execute(ctx, workflowID, vars)
	if err != nil {
		return fmt.Errorf("decision %s: %w", d.ID, err)
	}
	s.logger.Info("Decision executed as workflow",
		zap.String("decision_id", d.ID),
		zap.String("workflow_id", workflowID),
		zap.String("execution_id", exec.ID),
	)
	return nil
}

// SpawnAgent creates and registers one specialist agent with the default
// capability set for its kind.
func (s *Swarm) SpawnAgent(kind agents.Kind) (*agents.Agent, error) {
	s.mu.Lock()
	idx := s.spawned
	s.spawned++
	s.mu.Unlock()

	name := agents.WorkerName(s.ID, idx)
	a := agents.New(kind, name, agents.DefaultCapabilities(kind), agents.NewSpecialist(kind), s.bus, s.logger)
	if err := s.registry.Register(a); err != nil {
		return nil, err
	}
	if err := store.PutJSON(context.Background(), s.kv, store.Key("agent", a.ID()), a.Snapshot(), 0); err != nil {
		s.logger.Warn("Agent snapshot persist failed", zap.Error(err))
	}
	return a, nil
}

// SpawnDefaultAgents registers one specialist per built-in kind.
func (s *Swarm) SpawnDefaultAgents() error {
	for _, kind := range []agents.Kind{agents.KindCRM, agents.KindMarketing, agents.KindAnalytics, agents.KindProcess} {
		if _, err := s.SpawnAgent(kind); err != nil {
			return err
		}
	}
	return nil
}

// Decide runs a queen decision round.
func (s *Swarm) Decide(ctx context.Context, topic string, topicCtx map[string]interface{}) (*queen.Decision, error) {
	d, err := s.queen.Decide(ctx, topic, topicCtx)
	if err != nil {
		return nil, err
	}
	if err := store.PutJSON(ctx, s.kv, store.Key("decision", d.ID), d, 0); err != nil {
		s.logger.Warn("Decision persist failed", zap.Error(err))
	}
	return d, nil
}

// Approve releases a pending decision to execution.
func (s *Swarm) Approve(ctx context.Context, decisionID string) error {
	return s.queen.Approve(ctx, decisionID)
}

// Reject resolves a pending decision without executing it.
func (s *Swarm) Reject(decisionID, reason string) error {
	return s.queen.Reject(decisionID, reason)
}

// RegisterWorkflow validates, stores, and persists a workflow definition.
func (s *Swarm) RegisterWorkflow(wf *workflow.Workflow) error {
	if err := s.engine.Register(wf); err != nil {
		return err
	}
	if err := store.PutJSON(context.Background(), s.kv, store.Key("workflow", wf.ID), wf, 0); err != nil {
		s.logger.Warn("Workflow persist failed", zap.Error(err))
	}
	return nil
}

// ExecuteWorkflow runs a registered workflow to completion.
func (s *Swarm) ExecuteWorkflow(ctx context.Context, workflowID string, vars map[string]interface{}) (workflow.Execution, error) {
	return s.engine.Execute(ctx, workflowID, vars)
}

// Workflows exposes the workflow engine for pause/resume/cancel control.
func (s *Swarm) Workflows() *workflow.Engine { return s.engine }

// Scheduler exposes schedule management.
func (s *Swarm) Scheduler() *scheduler.Scheduler { return s.sched }

// Voting exposes read-only voting projections.
func (s *Swarm) Voting() *voting.Engine { return s.votes }

// Memory exposes the pattern store.
func (s *Swarm) Memory() *patterns.Store { return s.memory }

// Events exposes the swarm event bus for subscribers.
func (s *Swarm) Events() *events.Bus { return s.bus }

// KV exposes the swarm's key-value store.
func (s *Swarm) KV() store.KV { return s.kv }

// Journal exposes the workflow history store; nil when no history DSN is
// configured.
func (s *Swarm) Journal() *store.HistoryStore { return s.journal }

// Status returns a read-only projection of the swarm.
func (s *Swarm) Status() Status {
	list := s.registry.List()
	snaps := make([]agents.Snapshot, len(list))
	for i, a := range list {
		snaps[i] = a.Snapshot()
	}
	return Status{
		SwarmID:   s.ID,
		Agents:    snaps,
		Voting:    s.votes.Metrics(),
		Patterns:  s.memory.Progress(),
		Schedules: s.sched.List(),
		Pending:   len(s.queen.Pending()),
	}
}

// ApplyConfig hot-applies the tunable surface to running components.
// Structural settings (store backends, max agents) need a restart.
func (s *Swarm) ApplyConfig(cfg *config.HiveConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.votes.SetConfig(voting.Config{
		Threshold:      cfg.Voting.Threshold,
		QuorumRequired: cfg.Voting.QuorumRequired,
		TieBreaker:     cfg.Voting.TieBreaker,
		Timeout:        cfg.Voting.Timeout,
		WeightedVoting: cfg.Voting.WeightedVoting,
	})
	s.memory.SetConfig(patterns.Config{
		TTL:                 time.Duration(cfg.Patterns.TTLDays) * 24 * time.Hour,
		SimilarityThreshold: cfg.Patterns.SimilarityThreshold,
		RecencyHalfLife:     cfg.Patterns.RecencyHalfLife,
	})
	s.queen.SetConfig(queen.Config{
		AutoExecutionThreshold: cfg.Swarm.AutoExecutionThreshold,
		VotingThreshold:        cfg.Voting.Threshold,
		ReportTimeout:          cfg.Swarm.ReportTimeout,
		ApprovalDeadline:       cfg.Swarm.ApprovalDeadline,
	})
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.logger.Info("Configuration applied")
	return nil
}

// Close shuts the swarm down: triggers stop, queues drain, stores close.
func (s *Swarm) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.sched.Close()
		s.memory.Close()
		if s.journal != nil {
			_ = s.journal.Close()
		}
		s.bus.Close()
		s.wg.Wait()
		_ = s.kv.Close()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("swarm shutdown: %w", ctx.Err())
	}
}
