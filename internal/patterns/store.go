package patterns

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/events"
	"github.com/hivemind-ai/hive/internal/metrics"
)

// Confidence blend weights: success ratio, occurrence pressure, recency.
const (
	alphaSuccess    = 0.5
	betaOccurrence  = 0.3
	gammaRecency    = 0.2
	occurrenceScale = 10 // occurrences at which pressure saturates
	maxOutcomes     = 50 // outcomes retained per pattern
)

// Config holds pattern store knobs.
type Config struct {
	TTL                 time.Duration // prune patterns unseen for this long
	SimilarityThreshold float64       // cosine floor for Predict matches
	RecencyHalfLife     time.Duration // τ in exp(-Δt/τ)
	PruneInterval       time.Duration
	PruneConfidence     float64 // prune below this confidence
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TTL:                 90 * 24 * time.Hour,
		SimilarityThreshold: 0.7,
		RecencyHalfLife:     30 * 24 * time.Hour,
		PruneInterval:       time.Hour,
		PruneConfidence:     0.1,
	}
}

// Store is the signature-keyed memory of past decisions. A single writer
// mutates each signature under the store mutex; readers work on snapshots.
type Store struct {
	mu     sync.RWMutex
	cfg    Config
	logger *zap.Logger
	sink   events.Sink
	byKey  map[string]*Pattern

	observations int
	successes    int
	pruned       int
	lastObserved time.Time

	stopCh chan struct{}
	doneCh chan struct{}
	now    func() time.Time
}

// NewStore creates a pattern store publishing to sink.
func NewStore(cfg Config, sink events.Sink, logger *zap.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 90 * 24 * time.Hour
	}
	if cfg.RecencyHalfLife <= 0 {
		cfg.RecencyHalfLife = 30 * 24 * time.Hour
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.7
	}
	if cfg.PruneConfidence <= 0 {
		cfg.PruneConfidence = 0.1
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Store{
		cfg:    cfg,
		logger: logger,
		sink:   sink,
		byKey:  make(map[string]*Pattern),
		now:    time.Now,
	}
}

// SetConfig swaps the tunable knobs.
func (s *Store) SetConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.TTL > 0 {
		s.cfg.TTL = cfg.TTL
	}
	if cfg.SimilarityThreshold > 0 {
		s.cfg.SimilarityThreshold = cfg.SimilarityThreshold
	}
	if cfg.RecencyHalfLife > 0 {
		s.cfg.RecencyHalfLife = cfg.RecencyHalfLife
	}
}

// Observe locates or creates the pattern for decision and folds in outcome.
// Occurrences and lastSeen are monotone; confidence stays in [0,1].
func (s *Store) Observe(decision Decision, outcome Outcome, metricsBag map[string]float64) *Pattern {
	features := normalizeContext(decision.Context)
	actions := normalizeList(decision.Actions)
	conditions := normalizeList(decision.Conditions)
	kind := decision.Type
	if kind == "" {
		kind = KindDecision
	}
	key := signature(kind, features, actions, conditions)

	now := s.now()
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = now
	}
	if outcome.Selected == "" {
		outcome.Selected = decision.Selected
	}

	s.mu.Lock()
	p, ok := s.byKey[key]
	if !ok {
		p = &Pattern{
			Signature:  key,
			Kind:       kind,
			Features:   features,
			Actions:    actions,
			Conditions: conditions,
		}
		s.byKey[key] = p
	}
	p.Occurrences++
	p.LastSeen = now
	p.Outcomes = append(p.Outcomes, outcome)
	if len(p.Outcomes) > maxOutcomes {
		p.Outcomes = p.Outcomes[len(p.Outcomes)-maxOutcomes:]
	}
	p.Confidence = s.confidenceLocked(p, now)

	s.observations++
	if outcome.Success {
		s.successes++
	}
	s.lastObserved = now
	snapshot := *p
	total := len(s.byKey)
	s.mu.Unlock()

	metrics.PatternsObserved.Inc()
	metrics.PatternsActive.Set(float64(total))

	s.sink.Publish(events.Event{
		Stream: "patterns",
		Type:   events.PatternObserved,
		Payload: map[string]interface{}{
			"signature":   snapshot.Signature,
			"kind":        string(snapshot.Kind),
			"occurrences": snapshot.Occurrences,
			"confidence":  snapshot.Confidence,
			"success":     outcome.Success,
			"metrics":     metricsBag,
		},
	})
	return &snapshot
}

// confidenceLocked computes min(1, α·successRatio + β·occurrencePressure +
// γ·recencyWeight). Caller holds s.mu.
func (s *Store) confidenceLocked(p *Pattern, now time.Time) float64 {
	var successes int
	for _, o := range p.Outcomes {
		if o.Success {
			successes++
		}
	}
	successRatio := 0.0
	if len(p.Outcomes) > 0 {
		successRatio = float64(successes) / float64(len(p.Outcomes))
	}
	pressure := math.Min(float64(p.Occurrences)/occurrenceScale, 1)
	recency := s.recencyWeightLocked(p.LastSeen, now)
	return math.Min(1.0, alphaSuccess*successRatio+betaOccurrence*pressure+gammaRecency*recency)
}

func (s *Store) recencyWeightLocked(seen, now time.Time) float64 {
	dt := now.Sub(seen)
	if dt <= 0 {
		return 1
	}
	return math.Exp(-float64(dt) / float64(s.cfg.RecencyHalfLife))
}

// Get returns a snapshot of the pattern for a signature.
func (s *Store) Get(sig string) (Pattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byKey[sig]
	if !ok {
		return Pattern{}, false
	}
	return *p, true
}

// Insights returns an aggregate projection of the store.
func (s *Store) Insights() Insights {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ins := Insights{ByKind: make(map[Kind]int)}
	var confSum float64
	all := make([]Pattern, 0, len(s.byKey))
	for _, p := range s.byKey {
		ins.ByKind[p.Kind]++
		confSum += p.Confidence
		all = append(all, *p)
	}
	ins.TotalPatterns = len(all)
	if len(all) > 0 {
		ins.AvgConfidence = confSum / float64(len(all))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Confidence > all[j].Confidence })
	if len(all) > 5 {
		all = all[:5]
	}
	ins.TopPatterns = all
	return ins
}

// Progress reports how the memory is evolving.
func (s *Store) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pr := Progress{
		Observations:   s.observations,
		PatternsActive: len(s.byKey),
		PatternsPruned: s.pruned,
		LastObserved:   s.lastObserved,
	}
	if s.observations > 0 {
		pr.SuccessRate = float64(s.successes) / float64(s.observations)
	}
	return pr
}

// Prune removes patterns below the confidence floor whose lastSeen exceeds
// the TTL, returning how many were removed.
func (s *Store) Prune() int {
	now := s.now()
	s.mu.Lock()
	var removed []string
	for key, p := range s.byKey {
		p.Confidence = s.confidenceLocked(p, now)
		if p.Confidence < s.cfg.PruneConfidence && now.Sub(p.LastSeen) > s.cfg.TTL {
			delete(s.byKey, key)
			removed = append(removed, key)
		}
	}
	s.pruned += len(removed)
	total := len(s.byKey)
	s.mu.Unlock()

	if len(removed) > 0 {
		metrics.PatternsPruned.Add(float64(len(removed)))
		metrics.PatternsActive.Set(float64(total))
		s.sink.Publish(events.Event{
			Stream: "patterns",
			Type:   events.PatternPruned,
			Payload: map[string]interface{}{
				"pruned":     len(removed),
				"remaining":  total,
				"signatures": removed,
			},
		})
		s.logger.Info("Pruned stale patterns",
			zap.Int("pruned", len(removed)),
			zap.Int("remaining", total),
		)
	}
	return len(removed)
}

// StartPruner runs Prune on the configured interval until Close.
func (s *Store) StartPruner() {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stop, done := s.stopCh, s.doneCh
	interval := s.cfg.PruneInterval
	if interval <= 0 {
		interval = time.Hour
	}
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Prune()
			case <-stop:
				return
			}
		}
	}()
}

// Close stops the background pruner.
func (s *Store) Close() {
	s.mu.Lock()
	stop, done := s.stopCh, s.doneCh
	s.stopCh, s.doneCh = nil, nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}
