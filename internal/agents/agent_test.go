package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/events"
)

type scriptedSpecialist struct {
	execErr   error
	execDelay time.Duration
	accuracy  float64
}

func (s *scriptedSpecialist) Analyze(ctx context.Context, topic string, topicCtx map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"topic": topic}, ctx.Err()
}

func (s *scriptedSpecialist) FormulateRecommendation(ctx context.Context, topic string, topicCtx map[string]interface{}, analysis map[string]interface{}) (interface{}, string, error) {
	return "proceed", "scripted reasoning", ctx.Err()
}

func (s *scriptedSpecialist) ExecuteTask(ctx context.Context, task Task) (TaskResult, error) {
	if s.execDelay > 0 {
		select {
		case <-time.After(s.execDelay):
		case <-ctx.Done():
			return TaskResult{}, ctx.Err()
		}
	}
	if s.execErr != nil {
		return TaskResult{}, s.execErr
	}
	return TaskResult{Success: true, Accuracy: s.accuracy}, nil
}

func newTestAgent(t *testing.T, spec Specialist) *Agent {
	t.Helper()
	if spec == nil {
		spec = &scriptedSpecialist{accuracy: 0.9}
	}
	return New(KindMarketing, "Clover", DefaultCapabilities(KindMarketing), spec, events.NewBus(32), zap.NewNop())
}

func TestRelevanceScoring(t *testing.T) {
	a := newTestAgent(t, nil)
	// "campaign" capability (0.85) and "email" (0.8) both match
	score := a.RelevanceScore("plan the email campaign", nil)
	assert.InDelta(t, (0.85+0.8)/2, score, 1e-9)

	assert.Zero(t, a.RelevanceScore("database vacuuming", nil))
}

func TestConfidenceClamped(t *testing.T) {
	a := newTestAgent(t, nil)
	c := a.Confidence("email campaign for the new audience", nil)
	assert.True(t, c >= 0 && c <= 1, "confidence out of range: %v", c)
}

func TestGenerateReport(t *testing.T) {
	a := newTestAgent(t, nil)
	rep, err := a.GenerateReport(context.Background(), "email campaign", nil)
	require.NoError(t, err)
	assert.Equal(t, a.ID(), rep.AgentID)
	assert.Equal(t, "proceed", rep.Recommendation)
	assert.NotEmpty(t, rep.Reasoning)
	assert.True(t, rep.Confidence >= 0 && rep.Confidence <= 1)
}

func TestTaskQueuePriority(t *testing.T) {
	a := newTestAgent(t, nil)
	require.NoError(t, a.AssignTask(Task{ID: "t1", Type: "campaign"}))
	require.NoError(t, a.AssignTask(Task{ID: "t2", Type: "campaign"}))
	require.NoError(t, a.AssignTask(Task{ID: "urgent", Type: "campaign", Priority: "critical"}))

	res, err := a.ProcessNextTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "urgent", res.TaskID)
}

func TestQueueBounded(t *testing.T) {
	a := newTestAgent(t, nil)
	for i := 0; i < defaultQueueCapacity; i++ {
		require.NoError(t, a.AssignTask(Task{Type: "campaign"}))
	}
	err := a.AssignTask(Task{Type: "campaign"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestBusyStateInvariant(t *testing.T) {
	spec := &scriptedSpecialist{execDelay: 100 * time.Millisecond, accuracy: 0.9}
	a := newTestAgent(t, spec)
	require.NoError(t, a.AssignTask(Task{ID: "slow", Type: "campaign"}))

	done := make(chan struct{})
	go func() {
		_, _ = a.ProcessNextTask(context.Background())
		close(done)
	}()

	// while processing: busy with a current task
	require.Eventually(t, func() bool {
		s := a.Snapshot()
		return s.State == StateBusy && s.CurrentTask == "slow"
	}, time.Second, 5*time.Millisecond)

	<-done
	s := a.Snapshot()
	assert.Empty(t, s.CurrentTask)
	assert.NotEqual(t, StateBusy, s.State)
}

func TestTaskFailureTransitionsToError(t *testing.T) {
	spec := &scriptedSpecialist{execErr: errors.New("downstream unavailable")}
	a := newTestAgent(t, spec)
	require.NoError(t, a.AssignTask(Task{Type: "campaign"}))

	res, err := a.ProcessNextTask(context.Background())
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, StateError, a.State())
	assert.Zero(t, a.Snapshot().Performance.TasksCompleted)
	assert.Equal(t, 1, a.Snapshot().Performance.TasksTotal)
}

func TestLearningUpdatesPerformance(t *testing.T) {
	a := newTestAgent(t, &scriptedSpecialist{accuracy: 1.0})
	for i := 0; i < 4; i++ {
		require.NoError(t, a.AssignTask(Task{Type: "campaign"}))
		_, err := a.ProcessNextTask(context.Background())
		require.NoError(t, err)
	}
	perf := a.Snapshot().Performance
	assert.Equal(t, 4, perf.TasksCompleted)
	assert.InDelta(t, 1.0, perf.SuccessRate, 1e-9)
	assert.Len(t, a.History(), 4)

	// proficiency of the matching capability drifted upward
	for _, c := range a.Snapshot().Capabilities {
		if c.Name == "campaign" {
			assert.Greater(t, c.Proficiency, 0.85)
			assert.Equal(t, 4, c.Experience)
		}
	}
}

func TestFeedbackAdjustsSuccessRate(t *testing.T) {
	a := newTestAgent(t, nil)
	a.Feedback(true, 0.5)
	assert.InDelta(t, 0.5, a.Snapshot().Performance.SuccessRate, 1e-9)
	a.Feedback(false, 0.5)
	assert.InDelta(t, 0.25, a.Snapshot().Performance.SuccessRate, 1e-9)
}

func TestCollaborationGating(t *testing.T) {
	a := newTestAgent(t, nil)
	assert.True(t, a.RequestCollaboration("peer", Task{Type: "campaign"}))

	for i := 0; i < collaborationLimit; i++ {
		require.NoError(t, a.AssignTask(Task{Type: "campaign"}))
	}
	assert.False(t, a.RequestCollaboration("peer", Task{Type: "campaign"}),
		"collaboration must be declined with a deep queue")
}

func TestRegistrySelection(t *testing.T) {
	reg := NewRegistry(10, zap.NewNop())
	mk := New(KindMarketing, "Clover", DefaultCapabilities(KindMarketing), NewSpecialist(KindMarketing), events.NopSink{}, zap.NewNop())
	an := New(KindAnalytics, "Basil", DefaultCapabilities(KindAnalytics), NewSpecialist(KindAnalytics), events.NopSink{}, zap.NewNop())
	pr := New(KindProcess, "Cedar", DefaultCapabilities(KindProcess), NewSpecialist(KindProcess), events.NopSink{}, zap.NewNop())
	for _, a := range []*Agent{mk, an, pr} {
		require.NoError(t, reg.Register(a))
	}

	selected := reg.SelectRelevant("campaign metrics review", nil)
	require.Len(t, selected, 2)
	assert.Equal(t, mk.ID(), selected[0].ID()) // 0.85 campaign beats 0.85 metrics? ties keep order
	ids := []string{selected[0].ID(), selected[1].ID()}
	assert.Contains(t, ids, an.ID())

	pr.SetOffline()
	assert.Empty(t, reg.SelectRelevant("workflow automation", nil))
}

func TestRegistryBounds(t *testing.T) {
	reg := NewRegistry(1, zap.NewNop())
	a1 := newTestAgent(t, nil)
	a2 := newTestAgent(t, nil)
	require.NoError(t, reg.Register(a1))
	assert.ErrorIs(t, reg.Register(a2), ErrRegistryFull)

	_, err := reg.Get("missing")
	assert.ErrorIs(t, err, ErrAgentNotFound)

	require.NoError(t, reg.Remove(a1.ID()))
	assert.Zero(t, reg.Len())
}

func TestWorkerNameDeterministic(t *testing.T) {
	assert.Equal(t, WorkerName("swarm-1", 3), WorkerName("swarm-1", 3))
	assert.NotEmpty(t, WorkerName("swarm-1", 0))
}
