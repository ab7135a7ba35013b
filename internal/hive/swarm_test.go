package hive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/agents"
	"github.com/hivemind-ai/hive/internal/config"
	"github.com/hivemind-ai/hive/internal/patterns"
	"github.com/hivemind-ai/hive/internal/queen"
	"github.com/hivemind-ai/hive/internal/scheduler"
	"github.com/hivemind-ai/hive/internal/store"
	"github.com/hivemind-ai/hive/internal/voting"
	"github.com/hivemind-ai/hive/internal/workflow"
)

func newTestSwarm(t *testing.T, mutate func(*config.HiveConfig)) *Swarm {
	t.Helper()
	cfg := config.Default()
	cfg.Swarm.ReportTimeout = 2 * time.Second
	cfg.Workflow.RetryDelay = time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, s.Close(ctx))
	})
	return s
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Voting.Threshold = 1.5
	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestSpawnDefaultAgents(t *testing.T) {
	s := newTestSwarm(t, nil)
	require.NoError(t, s.SpawnDefaultAgents())

	st := s.Status()
	require.Len(t, st.Agents, 4)
	kinds := map[agents.Kind]bool{}
	for _, snap := range st.Agents {
		kinds[snap.Kind] = true
	}
	assert.Len(t, kinds, 4)
	assert.Equal(t, s.ID, st.SwarmID)
}

func TestSpawnRespectsMaxAgents(t *testing.T) {
	s := newTestSwarm(t, func(cfg *config.HiveConfig) {
		cfg.Swarm.MaxAgents = 2
	})
	_, err := s.SpawnAgent(agents.KindCRM)
	require.NoError(t, err)
	_, err = s.SpawnAgent(agents.KindMarketing)
	require.NoError(t, err)
	_, err = s.SpawnAgent(agents.KindAnalytics)
	require.Error(t, err)
}

func TestDecideAutoExecutesWorkflowRecommendation(t *testing.T) {
	s := newTestSwarm(t, func(cfg *config.HiveConfig) {
		cfg.Swarm.AutoExecutionThreshold = 0
	})
	require.NoError(t, s.SpawnDefaultAgents())

	require.NoError(t, s.RegisterWorkflow(&workflow.Workflow{
		ID:   "campaign-launch",
		Name: "Campaign launch",
		Steps: []workflow.Step{
			{ID: "s1", Name: "announce", Kind: workflow.KindAction, Action: "log",
				Params: map[string]interface{}{"message": "launching"}},
		},
	}))

	d, err := s.Decide(context.Background(), "launch email campaign", map[string]interface{}{
		"options": []string{"launch", "hold"},
	})
	require.NoError(t, err)
	assert.Equal(t, queen.StatusExecuted, d.Status)
	assert.NotEmpty(t, d.Reports)
}

func TestDecideEscalatesAndApproveResolves(t *testing.T) {
	s := newTestSwarm(t, func(cfg *config.HiveConfig) {
		cfg.Swarm.AutoExecutionThreshold = 0.99
		cfg.Swarm.ApprovalDeadline = time.Minute
	})
	require.NoError(t, s.SpawnDefaultAgents())

	d, err := s.Decide(context.Background(), "retire legacy pipeline", map[string]interface{}{
		"options": []string{"retire"},
	})
	require.NoError(t, err)
	require.Equal(t, queen.StatusPending, d.Status)
	assert.Equal(t, 1, s.Status().Pending)

	require.NoError(t, s.Approve(context.Background(), d.ID))
	assert.Equal(t, 0, s.Status().Pending)
}

func TestRejectPendingDecision(t *testing.T) {
	s := newTestSwarm(t, func(cfg *config.HiveConfig) {
		cfg.Swarm.AutoExecutionThreshold = 0.99
		cfg.Swarm.ApprovalDeadline = time.Minute
	})
	require.NoError(t, s.SpawnDefaultAgents())

	d, err := s.Decide(context.Background(), "drop all contacts", map[string]interface{}{
		"options": []string{"drop"},
	})
	require.NoError(t, err)
	require.Equal(t, queen.StatusPending, d.Status)

	require.NoError(t, s.Reject(d.ID, "too risky"))
	assert.Error(t, s.Approve(context.Background(), d.ID))
}

func TestExecuteWorkflowThroughSwarm(t *testing.T) {
	s := newTestSwarm(t, nil)
	require.NoError(t, s.RegisterWorkflow(&workflow.Workflow{
		ID:   "wf-set",
		Name: "set a variable",
		Steps: []workflow.Step{
			{ID: "s1", Name: "set", Kind: workflow.KindAction, Action: "setVariable",
				Params: map[string]interface{}{"name": "greeting", "value": "hello"}},
		},
	}))

	exec, err := s.ExecuteWorkflow(context.Background(), "wf-set", nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, exec.Status)
	assert.Equal(t, "hello", exec.Context["greeting"])
}

func TestScheduleFiresWorkflow(t *testing.T) {
	s := newTestSwarm(t, nil)
	require.NoError(t, s.RegisterWorkflow(&workflow.Workflow{
		ID:   "wf-tick",
		Name: "tick",
		Steps: []workflow.Step{
			{ID: "s1", Name: "tick", Kind: workflow.KindAction, Action: "log",
				Params: map[string]interface{}{"message": "tick"}},
		},
	}))

	past := time.Now().Add(-time.Second)
	id, err := s.Scheduler().Schedule("wf-tick", scheduler.Recurrence{Once: &past}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		recs := s.Scheduler().History(10)
		for _, r := range recs {
			if r.ScheduleID == id && r.Status == "success" {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}

func TestScheduleSnapshotPersisted(t *testing.T) {
	s := newTestSwarm(t, nil)
	require.NoError(t, s.RegisterWorkflow(&workflow.Workflow{
		ID:   "wf-snap",
		Name: "snap",
		Steps: []workflow.Step{
			{ID: "s1", Name: "snap", Kind: workflow.KindAction, Action: "log",
				Params: map[string]interface{}{"message": "snap"}},
		},
	}))

	future := time.Now().Add(time.Hour)
	id, err := s.Scheduler().Schedule("wf-snap", scheduler.Recurrence{Once: &future}, nil)
	require.NoError(t, err)

	var snap scheduler.Schedule
	require.Eventually(t, func() bool {
		ok, err := store.GetJSON(context.Background(), s.KV(), store.Key("schedule", id), &snap)
		return err == nil && ok
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, id, snap.ID)
	assert.Equal(t, "wf-snap", snap.WorkflowID)

	require.NoError(t, s.Scheduler().Cancel(id))
	require.Eventually(t, func() bool {
		ok, err := store.GetJSON(context.Background(), s.KV(), store.Key("schedule", id), &snap)
		return err == nil && !ok
	}, 3*time.Second, 10*time.Millisecond)
}

func TestVotingResultPersisted(t *testing.T) {
	s := newTestSwarm(t, func(cfg *config.HiveConfig) {
		cfg.Swarm.AutoExecutionThreshold = 0
	})
	require.NoError(t, s.SpawnDefaultAgents())

	d, err := s.Decide(context.Background(), "pick a campaign channel", map[string]interface{}{
		"options": []string{"email", "social"},
	})
	require.NoError(t, err)

	var result voting.MajorityResult
	require.Eventually(t, func() bool {
		ok, err := store.GetJSON(context.Background(), s.KV(), store.Key("voting", "decision-"+d.ID), &result)
		return err == nil && ok
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "decision-"+d.ID, result.TopicID)
}

func TestPatternSnapshotPersisted(t *testing.T) {
	s := newTestSwarm(t, nil)

	p := s.Memory().Observe(patterns.Decision{
		Type:     patterns.KindDecision,
		Context:  map[string]interface{}{"topic": "retry budget"},
		Selected: "raise",
	}, patterns.Outcome{Success: true}, nil)

	var snap patterns.Pattern
	require.Eventually(t, func() bool {
		ok, err := store.GetJSON(context.Background(), s.KV(), store.Key("pattern", p.Signature), &snap)
		return err == nil && ok
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, p.Signature, snap.Signature)
	assert.Equal(t, 1, snap.Occurrences)
}

func TestApplyConfigValidatesFirst(t *testing.T) {
	s := newTestSwarm(t, nil)
	bad := config.Default()
	bad.Voting.QuorumRequired = 2
	require.Error(t, s.ApplyConfig(bad))

	good := config.Default()
	good.Voting.Threshold = 0.6
	require.NoError(t, s.ApplyConfig(good))
}
