package voting

import (
	"time"

	"github.com/hivemind-ai/hive/internal/events"
)

// tallyLocked computes the MajorityResult for a finished round.
// Caller holds e.mu.
func (e *Engine) tallyLocked(r *round, timedOut bool) MajorityResult {
	stats := make(map[string]OptionStats, len(r.topic.Options))
	for _, opt := range r.topic.Options {
		stats[opt.ID] = OptionStats{}
	}

	var weightSum float64
	for _, v := range r.votes {
		s := stats[v.OptionID]
		s.Count++
		w := e.voteWeightLocked(v)
		s.WeightedTotal += w
		weightSum += w
		stats[v.OptionID] = s
	}

	total := len(r.votes)
	for id, s := range stats {
		if e.cfg.WeightedVoting {
			if weightSum > 0 {
				s.Percentage = s.WeightedTotal / weightSum
			}
		} else {
			s.WeightedTotal = 0
			if total > 0 {
				s.Percentage = float64(s.Count) / float64(total)
			}
		}
		stats[id] = s
	}

	// Winner: strictly highest percentage; ties collected in option
	// declaration order so tie-breaking is deterministic.
	var topPct float64
	for _, s := range stats {
		if s.Percentage > topPct {
			topPct = s.Percentage
		}
	}
	var tied []Option
	if total > 0 {
		for _, opt := range r.topic.Options {
			if stats[opt.ID].Percentage == topPct {
				tied = append(tied, opt)
			}
		}
	}

	var winner *Option
	tieBreakUsed := false
	tieUnresolved := false
	switch {
	case len(tied) == 1:
		w := tied[0]
		winner = &w
	case len(tied) > 1:
		winner, tieBreakUsed, tieUnresolved = e.breakTieLocked(r.topic.ID, tied)
	}

	eligible := len(r.eligible)
	part := Participation{
		Eligible:    eligible,
		Actual:      total,
		Abstentions: eligible - total,
	}
	if eligible > 0 {
		part.Rate = float64(total) / float64(eligible)
		part.QuorumMet = part.Rate >= e.cfg.QuorumRequired
	}

	legitimacy := LegitimacyValid
	switch {
	case !part.QuorumMet:
		legitimacy = LegitimacyNoQuorum
	case tieUnresolved:
		legitimacy = LegitimacyTied
	case timedOut:
		legitimacy = LegitimacyTimeout
	}

	return MajorityResult{
		TopicID:          r.topic.ID,
		Winner:           winner,
		Stats:            stats,
		Participation:    part,
		Legitimacy:       legitimacy,
		MajorityAchieved: topPct > e.cfg.Threshold,
		TieBreakUsed:     tieBreakUsed,
		Timestamp:        time.Now(),
	}
}

// voteWeightLocked resolves the effective weight of a vote: explicit weight,
// then agent weight table entry, then 1.
func (e *Engine) voteWeightLocked(v Vote) float64 {
	if v.Weight != nil {
		w := *v.Weight
		if w < 0 {
			return 0
		}
		if w > 1 {
			return 1
		}
		return w
	}
	if w, ok := e.weights[v.VoterID]; ok {
		return w
	}
	return 1
}

// breakTieLocked applies the configured tie-break policy to the tied
// options (in declaration order). Returns the selected winner, whether a
// breaker was used, and whether the tie remains unresolved.
func (e *Engine) breakTieLocked(topicID string, tied []Option) (*Option, bool, bool) {
	tiedIDs := make([]string, len(tied))
	for i, o := range tied {
		tiedIDs[i] = o.ID
	}
	switch e.cfg.TieBreaker {
	case "queen":
		// The queen is notified but the first tied option is returned
		// synchronously; the handler observes, it does not override.
		e.sink.Publish(events.Event{
			Stream: topicID,
			Type:   events.MajorityTieBreak,
			Payload: map[string]interface{}{
				"topic_id": topicID,
				"tied":     tiedIDs,
				"selected": tied[0].ID,
			},
		})
		w := tied[0]
		return &w, true, false
	case "random":
		w := tied[e.rng.Intn(len(tied))]
		return &w, true, false
	case "status-quo":
		w := tied[0]
		return &w, true, false
	case "defer":
		e.sink.Publish(events.Event{
			Stream: topicID,
			Type:   events.MajorityDeferred,
			Payload: map[string]interface{}{
				"topic_id": topicID,
				"tied":     tiedIDs,
			},
		})
		w := tied[0]
		return &w, true, false
	default:
		return nil, false, true
	}
}
