package agents

import (
	"context"
	"fmt"
	"strings"
)

// DefaultCapabilities returns the capability set a specialist of the given
// kind declares at swarm init.
func DefaultCapabilities(kind Kind) []Capability {
	switch kind {
	case KindCRM:
		return []Capability{
			{Name: "customer", Proficiency: 0.85},
			{Name: "contact", Proficiency: 0.8},
			{Name: "pipeline", Proficiency: 0.75},
			{Name: "retention", Proficiency: 0.7},
		}
	case KindMarketing:
		return []Capability{
			{Name: "campaign", Proficiency: 0.85},
			{Name: "email", Proficiency: 0.8},
			{Name: "content", Proficiency: 0.75},
			{Name: "audience", Proficiency: 0.7},
		}
	case KindAnalytics:
		return []Capability{
			{Name: "metrics", Proficiency: 0.85},
			{Name: "report", Proficiency: 0.8},
			{Name: "forecast", Proficiency: 0.75},
			{Name: "segment", Proficiency: 0.7},
		}
	case KindProcess:
		return []Capability{
			{Name: "workflow", Proficiency: 0.85},
			{Name: "automation", Proficiency: 0.8},
			{Name: "schedule", Proficiency: 0.75},
			{Name: "integration", Proficiency: 0.7},
		}
	default:
		return nil
	}
}

// NewSpecialist returns the built-in specialist implementation for a kind.
func NewSpecialist(kind Kind) Specialist {
	return &heuristicSpecialist{kind: kind}
}

// heuristicSpecialist is the deterministic built-in behavior behind each
// agent kind. Real deployments plug in their own Specialist; the heuristic
// keeps the swarm functional without external services.
type heuristicSpecialist struct {
	kind Kind
}

func (h *heuristicSpecialist) Analyze(ctx context.Context, topic string, topicCtx map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keywords := make([]string, 0, 4)
	for _, c := range DefaultCapabilities(h.kind) {
		if strings.Contains(strings.ToLower(topic), c.Name) {
			keywords = append(keywords, c.Name)
		}
	}
	return map[string]interface{}{
		"kind":     string(h.kind),
		"topic":    topic,
		"keywords": keywords,
		"signals":  len(topicCtx),
	}, nil
}

func (h *heuristicSpecialist) FormulateRecommendation(ctx context.Context, topic string, topicCtx map[string]interface{}, analysis map[string]interface{}) (interface{}, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	// Prefer an explicit candidate list from the context when present.
	if raw, ok := topicCtx["options"]; ok {
		if opts, ok := raw.([]string); ok && len(opts) > 0 {
			idx := 0
			if kw, _ := analysis["keywords"].([]string); len(kw) > 0 {
				idx = len(kw) % len(opts)
			}
			choice := opts[idx]
			return choice, fmt.Sprintf("%s specialist matched %v against %q", h.kind, analysis["keywords"], topic), nil
		}
	}
	rec := map[string]interface{}{
		"action": fmt.Sprintf("%s-review", h.kind),
		"topic":  topic,
	}
	return rec, fmt.Sprintf("%s specialist proposes a %s-review for %q", h.kind, h.kind, topic), nil
}

func (h *heuristicSpecialist) ExecuteTask(ctx context.Context, task Task) (TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return TaskResult{}, err
	}
	// Built-in execution is an acknowledgement; domain adapters override.
	return TaskResult{
		Success:  true,
		Accuracy: 0.8,
		Output: map[string]interface{}{
			"handled_by": string(h.kind),
			"type":       task.Type,
		},
	}, nil
}
