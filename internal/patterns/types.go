package patterns

import "time"

// Kind classifies what a pattern generalizes over.
type Kind string

const (
	KindDecision    Kind = "decision"
	KindPerformance Kind = "performance"
	KindFailure     Kind = "failure"
	KindSuccess     Kind = "success"
)

// Decision describes a context→choice mapping to be remembered.
type Decision struct {
	Type       Kind                   `json:"type"`
	Context    map[string]interface{} `json:"context"`
	Actions    []string               `json:"actions,omitempty"`
	Conditions []string               `json:"conditions,omitempty"`
	Selected   string                 `json:"selected"`
}

// Outcome records how a remembered decision turned out.
type Outcome struct {
	Success   bool      `json:"success"`
	Score     float64   `json:"score,omitempty"`
	Selected  string    `json:"selected,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Pattern is a signature-keyed memory of past decisions.
type Pattern struct {
	Signature   string    `json:"signature"`
	Kind        Kind      `json:"kind"`
	Confidence  float64   `json:"confidence"`
	Occurrences int       `json:"occurrences"`
	LastSeen    time.Time `json:"last_seen"`
	Outcomes    []Outcome `json:"outcomes"`

	// normalized signature components, kept for similarity scoring
	Features   []string `json:"features"`
	Actions    []string `json:"actions,omitempty"`
	Conditions []string `json:"conditions,omitempty"`
}

// Alternative is a non-winning candidate in a prediction.
type Alternative struct {
	Option string  `json:"option"`
	Score  float64 `json:"score"`
}

// Prediction is the outcome estimate for a new context.
type Prediction struct {
	Prediction   string        `json:"prediction"`
	Confidence   float64       `json:"confidence"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
	Reasoning    []string      `json:"reasoning,omitempty"`
}

// Recommendation suggests an action learned from similar contexts.
type Recommendation struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Support    int     `json:"support"` // occurrences backing it
}

// Insights is an aggregate read-only projection of the store.
type Insights struct {
	TotalPatterns int          `json:"total_patterns"`
	ByKind        map[Kind]int `json:"by_kind"`
	AvgConfidence float64      `json:"avg_confidence"`
	TopPatterns   []Pattern    `json:"top_patterns"`
}

// Progress summarizes how the memory is evolving.
type Progress struct {
	Observations   int       `json:"observations"`
	SuccessRate    float64   `json:"success_rate"`
	PatternsActive int       `json:"patterns_active"`
	PatternsPruned int       `json:"patterns_pruned"`
	LastObserved   time.Time `json:"last_observed"`
}
