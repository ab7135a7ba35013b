package voting

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/events"
)

func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *events.Bus) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Timeout = 5 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	bus := events.NewBus(64)
	return NewEngine(cfg, bus, zap.NewNop()), bus
}

func threeOptionTopic(id string) Topic {
	return Topic{
		ID: id,
		Options: []Option{
			{ID: "A", Value: "a"},
			{ID: "B", Value: "b"},
			{ID: "C", Value: "c"},
		},
	}
}

func TestSimpleMajority(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	id, err := e.Open(threeOptionTopic("t1"), []string{"a1", "a2", "a3"})
	require.NoError(t, err)

	require.NoError(t, e.Cast(id, Vote{VoterID: "a1", OptionID: "A"}))
	require.NoError(t, e.Cast(id, Vote{VoterID: "a2", OptionID: "A"}))
	require.NoError(t, e.Cast(id, Vote{VoterID: "a3", OptionID: "B"}))

	// all eligible voted: round auto-closed
	res, ok := e.Result(id)
	require.True(t, ok)
	require.NotNil(t, res.Winner)
	assert.Equal(t, "A", res.Winner.ID)
	assert.InDelta(t, 2.0/3.0, res.Stats["A"].Percentage, 1e-9)
	assert.InDelta(t, 1.0/3.0, res.Stats["B"].Percentage, 1e-9)
	assert.Zero(t, res.Stats["C"].Percentage)
	assert.Equal(t, LegitimacyValid, res.Legitimacy)
	assert.True(t, res.MajorityAchieved)
	assert.False(t, res.TieBreakUsed)
	assert.True(t, res.Participation.QuorumMet)
}

func TestWeightedTieBreakQueen(t *testing.T) {
	e, bus := newTestEngine(t, func(c *Config) { c.WeightedVoting = true })
	ch := bus.Subscribe("t2", 16)
	defer bus.Unsubscribe("t2", ch)

	topic := Topic{ID: "t2", Options: []Option{{ID: "X"}, {ID: "Y"}}}
	id, err := e.Open(topic, []string{"a1", "a2"})
	require.NoError(t, err)

	w := 1.0
	require.NoError(t, e.Cast(id, Vote{VoterID: "a1", OptionID: "X", Weight: &w}))
	require.NoError(t, e.Cast(id, Vote{VoterID: "a2", OptionID: "Y", Weight: &w}))

	res, ok := e.Result(id)
	require.True(t, ok)
	assert.True(t, res.TieBreakUsed)
	require.NotNil(t, res.Winner)
	assert.Equal(t, "X", res.Winner.ID) // first in declaration order
	assert.Equal(t, LegitimacyValid, res.Legitimacy)

	// tie-break-needed event must have been emitted
	found := false
	for len(ch) > 0 {
		if (<-ch).Type == events.MajorityTieBreak {
			found = true
		}
	}
	assert.True(t, found, "expected tie-break-needed event")
}

func TestNoQuorumOnTimeout(t *testing.T) {
	e, _ := newTestEngine(t, func(c *Config) { c.Timeout = 50 * time.Millisecond })
	id, err := e.Open(threeOptionTopic("t3"), []string{"a1", "a2", "a3", "a4"})
	require.NoError(t, err)
	require.NoError(t, e.Cast(id, Vote{VoterID: "a1", OptionID: "A"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := e.WaitClose(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, LegitimacyNoQuorum, res.Legitimacy)
	assert.False(t, res.TieBreakUsed)
	require.NotNil(t, res.Winner)
	assert.Equal(t, "A", res.Winner.ID)
	assert.Equal(t, 3, res.Participation.Abstentions)
}

func TestEmptyEligibleSetIsNoQuorum(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	id, err := e.Open(threeOptionTopic("t4"), nil)
	require.NoError(t, err)
	res, err := e.Close(id)
	require.NoError(t, err)
	assert.Equal(t, LegitimacyNoQuorum, res.Legitimacy)
	assert.Nil(t, res.Winner)
}

func TestCastContractErrors(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	id, err := e.Open(threeOptionTopic("t5"), []string{"a1", "a2"})
	require.NoError(t, err)

	assert.ErrorIs(t, e.Cast("nope", Vote{VoterID: "a1", OptionID: "A"}), ErrNotFound)
	assert.ErrorIs(t, e.Cast(id, Vote{VoterID: "intruder", OptionID: "A"}), ErrIneligible)
	assert.ErrorIs(t, e.Cast(id, Vote{VoterID: "a1", OptionID: "Z"}), ErrInvalidOption)

	require.NoError(t, e.Cast(id, Vote{VoterID: "a1", OptionID: "A"}))
	assert.ErrorIs(t, e.Cast(id, Vote{VoterID: "a1", OptionID: "B"}), ErrAlreadyVoted)

	_, err = e.Close(id)
	require.NoError(t, err)
	assert.ErrorIs(t, e.Cast(id, Vote{VoterID: "a2", OptionID: "A"}), ErrClosed)
}

func TestOpenErrors(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	_, err := e.Open(Topic{ID: "empty"}, []string{"a1"})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = e.Open(threeOptionTopic("dup"), []string{"a1"})
	require.NoError(t, err)
	_, err = e.Open(threeOptionTopic("dup"), []string{"a1"})
	assert.ErrorIs(t, err, ErrDuplicateTopic)
}

func TestCloseIdempotenceAndFallback(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	id, err := e.Open(threeOptionTopic("t6"), []string{"a1"})
	require.NoError(t, err)

	_, err = e.Close(id)
	require.NoError(t, err)
	_, err = e.Close(id)
	assert.ErrorIs(t, err, ErrAlreadyClosed)

	// unknown voting: synthetic proceed/no-quorum fallback, no error
	res, err := e.Close("ghost")
	require.NoError(t, err)
	assert.Equal(t, LegitimacyNoQuorum, res.Legitimacy)
	assert.Nil(t, res.Winner)
	assert.Equal(t, "ghost", res.TopicID)
}

func TestWeightedTotalsSumToCastWeights(t *testing.T) {
	e, _ := newTestEngine(t, func(c *Config) { c.WeightedVoting = true })
	e.SetAgentWeight("a3", 0.25)

	id, err := e.Open(threeOptionTopic("t7"), []string{"a1", "a2", "a3"})
	require.NoError(t, err)
	w1, w2 := 0.9, 0.4
	require.NoError(t, e.Cast(id, Vote{VoterID: "a1", OptionID: "A", Weight: &w1}))
	require.NoError(t, e.Cast(id, Vote{VoterID: "a2", OptionID: "B", Weight: &w2}))
	require.NoError(t, e.Cast(id, Vote{VoterID: "a3", OptionID: "B"})) // table weight 0.25

	res, ok := e.Result(id)
	require.True(t, ok)
	var sum float64
	for _, s := range res.Stats {
		sum += s.WeightedTotal
	}
	assert.InDelta(t, 0.9+0.4+0.25, sum, 1e-9)
	require.NotNil(t, res.Winner)
	assert.Equal(t, "A", res.Winner.ID) // 0.9 > 0.65
}

func TestStatusHistoryMetrics(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	id, err := e.Open(threeOptionTopic("t8"), []string{"a1", "a2"})
	require.NoError(t, err)
	require.NoError(t, e.Cast(id, Vote{VoterID: "a1", OptionID: "C"}))

	st, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, st.Status)
	assert.Len(t, st.Votes, 1)
	assert.Len(t, st.Eligible, 2)

	_, err = e.Status("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Close(id)
	require.NoError(t, err)

	hist := e.History(10)
	require.Len(t, hist, 1)
	assert.Equal(t, "t8", hist[0].TopicID)

	m := e.Metrics()
	assert.Equal(t, 1, m.RoundsOpened)
	assert.Equal(t, 1, m.RoundsClosed)
	assert.Equal(t, 1, m.VotesCast)
	assert.InDelta(t, 0.5, m.AvgParticipation, 1e-9)
}

func TestTieBreakPolicies(t *testing.T) {
	for _, policy := range []string{"random", "status-quo", "defer"} {
		t.Run(policy, func(t *testing.T) {
			e, _ := newTestEngine(t, func(c *Config) { c.TieBreaker = policy })
			id, err := e.Open(Topic{ID: "p-" + policy, Options: []Option{{ID: "X"}, {ID: "Y"}}}, []string{"a1", "a2"})
			require.NoError(t, err)
			require.NoError(t, e.Cast(id, Vote{VoterID: "a1", OptionID: "X"}))
			require.NoError(t, e.Cast(id, Vote{VoterID: "a2", OptionID: "Y"}))

			res, ok := e.Result(id)
			require.True(t, ok)
			assert.True(t, res.TieBreakUsed)
			require.NotNil(t, res.Winner)
			if policy != "random" {
				assert.Equal(t, "X", res.Winner.ID)
			}
			assert.Equal(t, LegitimacyValid, res.Legitimacy)
		})
	}
}

func TestUnresolvedTieWithoutBreaker(t *testing.T) {
	e, _ := newTestEngine(t, func(c *Config) { c.TieBreaker = "" })
	id, err := e.Open(Topic{ID: "unresolved", Options: []Option{{ID: "X"}, {ID: "Y"}}}, []string{"a1", "a2"})
	require.NoError(t, err)
	require.NoError(t, e.Cast(id, Vote{VoterID: "a1", OptionID: "X"}))
	require.NoError(t, e.Cast(id, Vote{VoterID: "a2", OptionID: "Y"}))

	res, ok := e.Result(id)
	require.True(t, ok)
	assert.Nil(t, res.Winner)
	assert.False(t, res.TieBreakUsed)
	assert.Equal(t, LegitimacyTied, res.Legitimacy)
}

func TestClosedRoundsEvictedPastHistoryLimit(t *testing.T) {
	e, _ := newTestEngine(t, func(c *Config) { c.HistoryLimit = 2 })
	for i := 0; i < 5; i++ {
		id, err := e.Open(threeOptionTopic(fmt.Sprintf("t%d", i)), []string{"a1"})
		require.NoError(t, err)
		require.NoError(t, e.Cast(id, Vote{VoterID: "a1", OptionID: "A"}))
	}

	_, ok := e.Result("t0")
	assert.False(t, ok)
	_, err := e.Status("t0")
	assert.ErrorIs(t, err, ErrNotFound)

	res, ok := e.Result("t4")
	require.True(t, ok)
	assert.Equal(t, "A", res.Winner.ID)
	assert.Len(t, e.History(0), 2)
}
