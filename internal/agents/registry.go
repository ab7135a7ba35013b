package agents

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrRegistryFull  = errors.New("registry at max agents")
	ErrAgentNotFound = errors.New("agent not found")
)

// Registry owns the swarm's agents. The queen reaches agents by id through
// the registry; agents never hold references back.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]*Agent
	order   []string // registration order, for deterministic iteration
	maxSize int
	logger  *zap.Logger
}

// NewRegistry creates an agent registry bounded to maxAgents.
func NewRegistry(maxAgents int, logger *zap.Logger) *Registry {
	if maxAgents <= 0 {
		maxAgents = 10
	}
	return &Registry{
		agents:  make(map[string]*Agent),
		maxSize: maxAgents,
		logger:  logger,
	}
}

// Register adds an agent to the swarm.
func (r *Registry) Register(a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.agents) >= r.maxSize {
		return fmt.Errorf("%w (%d)", ErrRegistryFull, r.maxSize)
	}
	if _, exists := r.agents[a.ID()]; exists {
		return fmt.Errorf("agent %s already registered", a.ID())
	}
	r.agents[a.ID()] = a
	r.order = append(r.order, a.ID())
	r.logger.Info("Agent registered",
		zap.String("agent_id", a.ID()),
		zap.String("name", a.Name()),
		zap.String("kind", string(a.Kind())),
	)
	return nil
}

// Get returns the agent with the given id.
func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return a, nil
}

// Remove drops an agent from the swarm.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	delete(r.agents, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns all agents in registration order.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// SelectRelevant returns online agents whose capabilities match the topic,
// strongest relevance first. Ties keep registration order.
func (r *Registry) SelectRelevant(topic string, topicCtx map[string]interface{}) []*Agent {
	type scored struct {
		agent *Agent
		score float64
		idx   int
	}
	r.mu.RLock()
	candidates := make([]scored, 0, len(r.agents))
	for i, id := range r.order {
		a := r.agents[id]
		if a.State() == StateOffline {
			continue
		}
		if s := a.RelevanceScore(topic, topicCtx); s > 0 {
			candidates = append(candidates, scored{agent: a, score: s, idx: i})
		}
	}
	r.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].idx < candidates[j].idx
	})
	out := make([]*Agent, len(candidates))
	for i, c := range candidates {
		out[i] = c.agent
	}
	return out
}
