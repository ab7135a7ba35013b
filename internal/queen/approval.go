package queen

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hivemind-ai/hive/internal/events"
	"github.com/hivemind-ai/hive/internal/metrics"
)

// escalate parks a decision for human approval and arms the deadline timer.
// A decision left unresolved past the deadline is rejected, not executed.
func (c *Coordinator) escalate(d *Decision) {
	c.mu.Lock()
	d.Status = StatusPending
	deadline := time.Now().Add(c.cfg.ApprovalDeadline)
	c.pending[d.ID] = time.AfterFunc(c.cfg.ApprovalDeadline, func() {
		_ = c.Reject(d.ID, "approval deadline expired")
	})
	pendingCount := len(c.pending)
	c.mu.Unlock()

	metrics.ApprovalsPending.Set(float64(pendingCount))
	c.sink.Publish(events.Event{
		Stream: "queen",
		Type:   events.ApprovalRequired,
		Payload: map[string]interface{}{
			"decision_id": d.ID,
			"topic":       d.Topic,
			"confidence":  d.Confidence,
			"legitimacy":  string(d.Result.Legitimacy),
			"deadline":    deadline,
		},
	})
	c.logger.Info("Decision escalated for approval",
		zap.String("decision_id", d.ID),
		zap.String("topic", d.Topic),
		zap.Float64("confidence", d.Confidence),
		zap.String("legitimacy", string(d.Result.Legitimacy)),
	)
}

// Approve releases a pending decision to execution.
func (c *Coordinator) Approve(ctx context.Context, id string) error {
	d, err := c.takePending(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	d.Status = StatusApproved
	c.mu.Unlock()
	metrics.DecisionsTotal.WithLabelValues("approved").Inc()
	c.executeDecision(ctx, d)
	return nil
}

// Reject resolves a pending decision without executing it. The rejection is
// recorded as a failed outcome so the pattern store learns from it.
func (c *Coordinator) Reject(id, reason string) error {
	d, err := c.takePending(id)
	if err != nil {
		return err
	}
	now := time.Now()
	c.mu.Lock()
	d.Status = StatusRejected
	d.Reason = reason
	d.ResolvedAt = &now
	c.mu.Unlock()

	metrics.DecisionsTotal.WithLabelValues("rejected").Inc()
	c.recordDecisionOutcome(d, false)
	c.logger.Info("Decision rejected",
		zap.String("decision_id", id),
		zap.String("reason", reason),
	)
	return nil
}

// takePending removes a decision from the pending set, stopping its deadline
// timer.
func (c *Coordinator) takePending(id string) (*Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.decisions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDecisionUnknown, id)
	}
	timer, ok := c.pending[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotPending, id)
	}
	timer.Stop()
	delete(c.pending, id)
	metrics.ApprovalsPending.Set(float64(len(c.pending)))
	return d, nil
}
