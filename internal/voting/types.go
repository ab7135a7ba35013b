package voting

import "time"

// Option is one choice on a voting topic.
type Option struct {
	ID          string      `json:"id"`
	Value       interface{} `json:"value,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Topic is the subject of a voting round. The options set is immutable once
// the round is opened.
type Topic struct {
	ID       string                 `json:"id"`
	Question string                 `json:"question,omitempty"`
	Options  []Option               `json:"options"`
	Context  map[string]interface{} `json:"context,omitempty"`
	Deadline *time.Time             `json:"deadline,omitempty"`
}

// Vote is a single ballot. Weight and Confidence are optional; a nil Weight
// falls back to the engine's per-agent weight table (default 1).
type Vote struct {
	VoterID    string    `json:"voter_id"`
	OptionID   string    `json:"option_id"`
	Weight     *float64  `json:"weight,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// RoundStatus is the lifecycle state of an active voting round.
type RoundStatus string

const (
	StatusOpen    RoundStatus = "open"
	StatusClosed  RoundStatus = "closed"
	StatusTimeout RoundStatus = "timeout"
)

// Legitimacy labels the validity of a closed round.
type Legitimacy string

const (
	LegitimacyValid    Legitimacy = "valid"
	LegitimacyNoQuorum Legitimacy = "no-quorum"
	LegitimacyTied     Legitimacy = "tied"
	LegitimacyTimeout  Legitimacy = "timeout"
)

// OptionStats carries per-option tallies.
type OptionStats struct {
	Count         int     `json:"count"`
	Percentage    float64 `json:"percentage"`
	WeightedTotal float64 `json:"weighted_total,omitempty"`
}

// Participation summarizes turnout for a round.
type Participation struct {
	Eligible    int     `json:"eligible"`
	Actual      int     `json:"actual"`
	Rate        float64 `json:"rate"`
	QuorumMet   bool    `json:"quorum_met"`
	Abstentions int     `json:"abstentions"`
}

// MajorityResult is the outcome of a closed voting round.
type MajorityResult struct {
	TopicID          string                 `json:"topic_id"`
	Winner           *Option                `json:"winner,omitempty"`
	Stats            map[string]OptionStats `json:"stats"`
	Participation    Participation          `json:"participation"`
	Legitimacy       Legitimacy             `json:"legitimacy"`
	MajorityAchieved bool                   `json:"majority_achieved"`
	TieBreakUsed     bool                   `json:"tie_break_used"`
	Timestamp        time.Time              `json:"timestamp"`
}

// RoundState is a read-only projection of an active round.
type RoundState struct {
	Topic      Topic       `json:"topic"`
	Eligible   []string    `json:"eligible"`
	Votes      []Vote      `json:"votes"`
	StartedAt  time.Time   `json:"started_at"`
	Status     RoundStatus `json:"status"`
}

// Metrics aggregates engine activity counters.
type Metrics struct {
	RoundsOpened     int                `json:"rounds_opened"`
	RoundsClosed     int                `json:"rounds_closed"`
	VotesCast        int                `json:"votes_cast"`
	ByLegitimacy     map[Legitimacy]int `json:"by_legitimacy"`
	TieBreaksUsed    int                `json:"tie_breaks_used"`
	AvgParticipation float64            `json:"avg_participation"`
}
