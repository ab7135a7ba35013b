package patterns

import (
	"fmt"
	"sort"

	"github.com/hivemind-ai/hive/internal/events"
)

// Predict scores candidateOptions against patterns of the same kind whose
// signature similarity clears the configured floor. Outcomes are weighted by
// pattern confidence × recency.
func (s *Store) Predict(kind Kind, context map[string]interface{}, candidateOptions []string) Prediction {
	features := normalizeContext(context)
	now := s.now()

	s.mu.RLock()
	scores := make(map[string]float64, len(candidateOptions))
	for _, c := range candidateOptions {
		scores[c] = 0
	}
	var reasoning []string
	matched := 0
	for _, p := range s.byKey {
		if p.Kind != kind {
			continue
		}
		sim := cosineSimilarity(features, p.Features)
		if sim < s.cfg.SimilarityThreshold {
			continue
		}
		matched++
		for _, o := range p.Outcomes {
			if _, ok := scores[o.Selected]; !ok {
				continue
			}
			w := p.Confidence * s.recencyWeightLocked(o.Timestamp, now) * sim
			if o.Success {
				scores[o.Selected] += w
			} else {
				scores[o.Selected] -= w * 0.5
			}
		}
		reasoning = append(reasoning, fmt.Sprintf(
			"pattern %s: similarity %.2f, confidence %.2f, occurrences %d",
			p.Signature[:8], sim, p.Confidence, p.Occurrences))
	}
	s.mu.RUnlock()

	ranked := make([]Alternative, 0, len(scores))
	for opt, sc := range scores {
		ranked = append(ranked, Alternative{Option: opt, Score: sc})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Option < ranked[j].Option
	})

	pred := Prediction{Reasoning: reasoning}
	if matched == 0 || len(ranked) == 0 {
		pred.Reasoning = append(pred.Reasoning, "no similar patterns above threshold")
		return pred
	}

	pred.Prediction = ranked[0].Option
	pred.Alternatives = ranked[1:]

	// confidence: winning share of total absolute score mass
	var mass float64
	for _, a := range ranked {
		if a.Score > 0 {
			mass += a.Score
		}
	}
	if mass > 0 && ranked[0].Score > 0 {
		pred.Confidence = ranked[0].Score / mass
	}
	s.sink.Publish(events.Event{
		Stream: "patterns",
		Type:   events.PatternPredicted,
		Payload: map[string]interface{}{
			"kind":       string(kind),
			"prediction": pred.Prediction,
			"confidence": pred.Confidence,
			"matched":    matched,
		},
	})
	return pred
}

// Recommendations surfaces actions learned from contexts similar to this
// one, strongest support first.
func (s *Store) Recommendations(kind Kind, context map[string]interface{}) []Recommendation {
	features := normalizeContext(context)

	s.mu.RLock()
	byAction := make(map[string]*Recommendation)
	for _, p := range s.byKey {
		if p.Kind != kind {
			continue
		}
		sim := cosineSimilarity(features, p.Features)
		if sim < s.cfg.SimilarityThreshold {
			continue
		}
		for _, a := range p.Actions {
			rec, ok := byAction[a]
			if !ok {
				rec = &Recommendation{Action: a}
				byAction[a] = rec
			}
			rec.Support += p.Occurrences
			if c := p.Confidence * sim; c > rec.Confidence {
				rec.Confidence = c
			}
		}
	}
	s.mu.RUnlock()

	out := make([]Recommendation, 0, len(byAction))
	for _, rec := range byAction {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Action < out[j].Action
	})
	return out
}
