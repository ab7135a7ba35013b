package voting

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/events"
	"github.com/hivemind-ai/hive/internal/metrics"
)

// Typed errors surfaced to callers on API misuse.
var (
	ErrInvalidOptions = errors.New("voting topic has no options")
	ErrDuplicateTopic = errors.New("voting already exists for topic")
	ErrNotFound       = errors.New("voting not found")
	ErrClosed         = errors.New("voting is closed")
	ErrIneligible     = errors.New("voter not eligible")
	ErrAlreadyVoted   = errors.New("voter already voted")
	ErrInvalidOption  = errors.New("option not part of topic")
	ErrAlreadyClosed  = errors.New("voting already closed")
)

// Config holds the tunable voting knobs.
type Config struct {
	Threshold      float64       // strict majority threshold, default 0.5
	QuorumRequired float64       // participation floor, default 0.5
	TieBreaker     string        // queen | random | status-quo | defer
	Timeout        time.Duration // deadline for open rounds
	WeightedVoting bool
	HistoryLimit   int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:      0.5,
		QuorumRequired: 0.5,
		TieBreaker:     "queen",
		Timeout:        30 * time.Second,
		HistoryLimit:   1000,
	}
}

// Engine conducts time-bounded weighted votes with quorum and tie-breaking.
// All mutation is serialized behind a single mutex; history and weights are
// owned here and observed read-only by callers.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	logger  *zap.Logger
	sink    events.Sink
	rounds  map[string]*round
	weights map[string]float64
	history []MajorityResult
	// closed round ids, oldest first; rounds beyond the history limit are
	// dropped from the rounds map
	closedIDs []string
	rng       *rand.Rand

	opened    int
	votesCast int
	tieBreaks int
	byLegit   map[Legitimacy]int
	partSum   float64
}

type round struct {
	topic       Topic
	eligible    []string
	eligibleSet map[string]struct{}
	votes       map[string]Vote
	startedAt   time.Time
	status      RoundStatus
	timer       *time.Timer
	result      MajorityResult
	done        chan struct{}
}

// NewEngine creates a voting engine publishing to sink.
func NewEngine(cfg Config, sink events.Sink, logger *zap.Logger) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 1000
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		sink:    sink,
		rounds:  make(map[string]*round),
		weights: make(map[string]float64),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		byLegit: make(map[Legitimacy]int),
	}
	sink.Publish(events.Event{
		Stream: "voting",
		Type:   events.MajorityInitialized,
		Payload: map[string]interface{}{
			"threshold": cfg.Threshold,
			"quorum":    cfg.QuorumRequired,
			"weighted":  cfg.WeightedVoting,
		},
	})
	return e
}

// SetConfig swaps the tunable knobs; applies to rounds opened afterwards.
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.Timeout <= 0 {
		cfg.Timeout = e.cfg.Timeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = e.cfg.HistoryLimit
	}
	e.cfg = cfg
}

// SetAgentWeight registers the fallback weight used for a voter when its
// vote carries none. Weights are clipped to [0,1].
func (e *Engine) SetAgentWeight(voterID string, weight float64) {
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.weights[voterID] = weight
}

// Open starts a voting round and its deadline timer, returning the voting id.
func (e *Engine) Open(topic Topic, eligibleVoters []string) (string, error) {
	if len(topic.Options) == 0 {
		return "", fmt.Errorf("%w: topic %q", ErrInvalidOptions, topic.ID)
	}
	if topic.ID == "" {
		topic.ID = uuid.New().String()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rounds[topic.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateTopic, topic.ID)
	}

	r := &round{
		topic:       topic,
		eligible:    append([]string(nil), eligibleVoters...),
		eligibleSet: make(map[string]struct{}, len(eligibleVoters)),
		votes:       make(map[string]Vote),
		startedAt:   time.Now(),
		status:      StatusOpen,
		done:        make(chan struct{}),
	}
	for _, v := range eligibleVoters {
		r.eligibleSet[v] = struct{}{}
	}

	timeout := e.cfg.Timeout
	if topic.Deadline != nil {
		if d := time.Until(*topic.Deadline); d > 0 && d < timeout {
			timeout = d
		}
	}
	id := topic.ID
	r.timer = time.AfterFunc(timeout, func() { e.expire(id) })

	e.rounds[id] = r
	e.opened++
	metrics.VotingsOpened.Inc()

	e.sink.Publish(events.Event{
		Stream: id,
		Type:   events.MajorityVotingStarted,
		Payload: map[string]interface{}{
			"topic_id": id,
			"options":  len(topic.Options),
			"eligible": len(eligibleVoters),
		},
	})
	e.logger.Debug("Voting opened",
		zap.String("topic_id", id),
		zap.Int("options", len(topic.Options)),
		zap.Int("eligible", len(eligibleVoters)),
	)
	return id, nil
}

// Cast records a vote. When the last eligible voter has voted the round
// closes automatically; the result is then available via Result or WaitClose.
func (e *Engine) Cast(votingID string, vote Vote) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[votingID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, votingID)
	}
	if r.status != StatusOpen {
		return fmt.Errorf("%w: %s", ErrClosed, votingID)
	}
	if _, ok := r.eligibleSet[vote.VoterID]; !ok {
		return fmt.Errorf("%w: %s on %s", ErrIneligible, vote.VoterID, votingID)
	}
	if _, ok := r.votes[vote.VoterID]; ok {
		return fmt.Errorf("%w: %s on %s", ErrAlreadyVoted, vote.VoterID, votingID)
	}
	if !optionExists(r.topic.Options, vote.OptionID) {
		return fmt.Errorf("%w: %s on %s", ErrInvalidOption, vote.OptionID, votingID)
	}

	if vote.Timestamp.IsZero() {
		vote.Timestamp = time.Now()
	}
	r.votes[vote.VoterID] = vote
	e.votesCast++
	metrics.VotesCast.Inc()

	e.sink.Publish(events.Event{
		Stream: votingID,
		Type:   events.MajorityVoteCast,
		Payload: map[string]interface{}{
			"topic_id":  votingID,
			"voter_id":  vote.VoterID,
			"option_id": vote.OptionID,
		},
	})

	if len(r.votes) == len(r.eligible) {
		e.finishLocked(r, false)
	}
	return nil
}

// Close tallies and closes the round. Further calls fail with AlreadyClosed.
// Closing an unknown voting returns a synthetic no-quorum "proceed" result
// rather than an error; callers downstream treat it as a non-binding outcome.
func (e *Engine) Close(votingID string) (MajorityResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[votingID]
	if !ok {
		e.logger.Warn("Close on unknown voting, returning fallback result",
			zap.String("topic_id", votingID))
		return MajorityResult{
			TopicID:       votingID,
			Stats:         map[string]OptionStats{},
			Participation: Participation{},
			Legitimacy:    LegitimacyNoQuorum,
			Timestamp:     time.Now(),
		}, nil
	}
	if r.status != StatusOpen {
		return MajorityResult{}, fmt.Errorf("%w: %s", ErrAlreadyClosed, votingID)
	}
	return e.finishLocked(r, false), nil
}

// expire closes a round whose deadline elapsed; non-voters count as
// abstentions.
func (e *Engine) expire(votingID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rounds[votingID]
	if !ok || r.status != StatusOpen {
		return
	}
	e.finishLocked(r, true)
}

// finishLocked tallies, records history and publishes the close event.
// Caller holds e.mu.
func (e *Engine) finishLocked(r *round, timedOut bool) MajorityResult {
	if r.timer != nil {
		r.timer.Stop()
	}
	if timedOut {
		r.status = StatusTimeout
	} else {
		r.status = StatusClosed
	}

	result := e.tallyLocked(r, timedOut)
	r.result = result
	close(r.done)

	e.history = append(e.history, result)
	if len(e.history) > e.cfg.HistoryLimit {
		drop := len(e.history) - e.cfg.HistoryLimit
		e.history = e.history[drop:]
	}
	e.closedIDs = append(e.closedIDs, r.topic.ID)
	for len(e.closedIDs) > e.cfg.HistoryLimit {
		delete(e.rounds, e.closedIDs[0])
		e.closedIDs = e.closedIDs[1:]
	}
	e.byLegit[result.Legitimacy]++
	e.partSum += result.Participation.Rate
	if result.TieBreakUsed {
		e.tieBreaks++
	}
	metrics.VotingsClosed.WithLabelValues(string(result.Legitimacy)).Inc()
	metrics.VotingParticipation.Observe(result.Participation.Rate)

	winnerID := ""
	if result.Winner != nil {
		winnerID = result.Winner.ID
	}
	e.sink.Publish(events.Event{
		Stream: r.topic.ID,
		Type:   events.MajorityVotingClosed,
		Payload: map[string]interface{}{
			"topic_id":       r.topic.ID,
			"winner":         winnerID,
			"legitimacy":     string(result.Legitimacy),
			"tie_break_used": result.TieBreakUsed,
			"participation":  result.Participation.Rate,
		},
	})
	e.logger.Info("Voting closed",
		zap.String("topic_id", r.topic.ID),
		zap.String("winner", winnerID),
		zap.String("legitimacy", string(result.Legitimacy)),
		zap.Bool("tie_break_used", result.TieBreakUsed),
	)
	return result
}

// Result returns the outcome of a closed round.
func (e *Engine) Result(votingID string) (MajorityResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rounds[votingID]
	if !ok || r.status == StatusOpen {
		return MajorityResult{}, false
	}
	return r.result, true
}

// WaitClose blocks until the round closes (by quorum, explicit Close or
// deadline) or ctx is done.
func (e *Engine) WaitClose(ctx context.Context, votingID string) (MajorityResult, error) {
	e.mu.Lock()
	r, ok := e.rounds[votingID]
	e.mu.Unlock()
	if !ok {
		return MajorityResult{}, fmt.Errorf("%w: %s", ErrNotFound, votingID)
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		return MajorityResult{}, ctx.Err()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.result, nil
}

// Status returns a read-only projection of a round.
func (e *Engine) Status(votingID string) (RoundState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rounds[votingID]
	if !ok {
		return RoundState{}, fmt.Errorf("%w: %s", ErrNotFound, votingID)
	}
	st := RoundState{
		Topic:     r.topic,
		Eligible:  append([]string(nil), r.eligible...),
		StartedAt: r.startedAt,
		Status:    r.status,
	}
	for _, v := range r.votes {
		st.Votes = append(st.Votes, v)
	}
	return st, nil
}

// History returns up to limit most recent results, newest last. The history
// across topics is totally ordered by close time.
func (e *Engine) History(limit int) []MajorityResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > len(e.history) {
		limit = len(e.history)
	}
	out := make([]MajorityResult, limit)
	copy(out, e.history[len(e.history)-limit:])
	return out
}

// Metrics returns engine activity counters.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := Metrics{
		RoundsOpened:  e.opened,
		RoundsClosed:  len(e.history),
		VotesCast:     e.votesCast,
		TieBreaksUsed: e.tieBreaks,
		ByLegitimacy:  make(map[Legitimacy]int, len(e.byLegit)),
	}
	for k, v := range e.byLegit {
		m.ByLegitimacy[k] = v
	}
	if len(e.history) > 0 {
		m.AvgParticipation = e.partSum / float64(len(e.history))
	}
	return m
}

func optionExists(opts []Option, id string) bool {
	for _, o := range opts {
		if o.ID == id {
			return true
		}
	}
	return false
}
