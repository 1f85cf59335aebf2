// Package feedback implements the consumer feedback pipeline: rate
// limiting, anti-fraud analysis, the immutable feedback log, and the
// running-stats update.
package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/nexora-systems/registry-central/pkg/metrics"
	"github.com/nexora-systems/registry-central/pkg/registryerr"
	"github.com/nexora-systems/registry-central/pkg/store"
)

const (
	// rateLimitWindow / rateLimitMax: a consumer may post at most 60
	// feedbacks per rolling minute, across all agents.
	rateLimitWindow = 60 * time.Second
	rateLimitMax    = 60

	// spamWindow / spamMax: more than 10 feedbacks from one consumer to one
	// agent within the hour is blocked outright (production only).
	spamWindow = time.Hour
	spamMax    = 10
)

// Store is the subset of store.Store the pipeline depends on.
type Store interface {
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	RecentFeedbackCount(ctx context.Context, consumerID string, since time.Time) (int, error)
	PairFeedbackCount(ctx context.Context, consumerID, agentID string, since time.Time) (int, error)
	PairFeedbackTotal(ctx context.Context, consumerID, agentID string) (int, error)
	AgentFeedbackTotal(ctx context.Context, agentID string) (int, error)
	AgentExtremeRatingCount(ctx context.Context, agentID string) (int, error)
	InsertFeedback(ctx context.Context, f *store.Feedback) (int64, error)
	InsertFraudDetection(ctx context.Context, f *store.FraudDetection) error
	ApplyFeedbackToStats(ctx context.Context, agentID string, success bool, latencyMs int64, rating, weight float64) error
}

// Pipeline processes feedback submissions. production gates the anti-fraud
// checks; outside production every submission passes with weight 1.
type Pipeline struct {
	store      Store
	production bool
}

// New builds a feedback Pipeline.
func New(store Store, production bool) *Pipeline {
	return &Pipeline{store: store, production: production}
}

// Request is one feedback submission from an authenticated consumer.
type Request struct {
	AgentID   string  `json:"agent_id"`
	Success   bool    `json:"success"`
	LatencyMs int64   `json:"latency_ms"`
	Rating    float64 `json:"rating"`
}

// Submit runs the pipeline for one feedback event. The steps are strictly
// ordered and must not be parallelized: the fraud checks count feedbacks
// before the insert, and the stats update runs after it.
func (p *Pipeline) Submit(ctx context.Context, consumerID string, req Request) error {
	if err := validate(req); err != nil {
		return err
	}

	since := time.Now().Add(-rateLimitWindow)
	recent, err := p.store.RecentFeedbackCount(ctx, consumerID, since)
	if err != nil {
		return registryerr.Wrap(registryerr.KindInternal, "count recent feedback", err)
	}
	if recent >= rateLimitMax {
		return registryerr.New(registryerr.KindRateLimited,
			fmt.Sprintf("more than %d feedbacks in the last minute", rateLimitMax))
	}

	agent, err := p.store.GetAgent(ctx, req.AgentID)
	if err == store.ErrNotFound {
		return registryerr.New(registryerr.KindNotFound, "agent not found: "+req.AgentID)
	}
	if err != nil {
		return registryerr.Wrap(registryerr.KindInternal, "load agent", err)
	}

	weight, err := p.analyze(ctx, consumerID, agent, req)
	if err != nil {
		return err
	}

	if _, err := p.store.InsertFeedback(ctx, &store.Feedback{
		AgentID:    req.AgentID,
		ConsumerID: consumerID,
		Success:    req.Success,
		LatencyMs:  req.LatencyMs,
		Rating:     req.Rating,
	}); err != nil {
		return registryerr.Wrap(registryerr.KindInternal, "insert feedback", err)
	}

	// The latency mean is deliberately unweighted; the anti-fraud weight
	// only modulates the rating contribution.
	if err := p.store.ApplyFeedbackToStats(ctx, req.AgentID, req.Success, req.LatencyMs, req.Rating, weight); err != nil {
		return registryerr.Wrap(registryerr.KindInternal, "update agent stats", err)
	}

	metrics.FeedbackTotal.WithLabelValues(req.AgentID, successLabel(req.Success)).Inc()
	return nil
}

func successLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func validate(req Request) error {
	var fields []string
	if req.AgentID == "" {
		fields = append(fields, "agent_id: required")
	}
	if req.LatencyMs < 0 {
		fields = append(fields, "latency_ms: must be >= 0")
	}
	if req.Rating < 0 || req.Rating > 1 {
		fields = append(fields, "rating: must be between 0.0 and 1.0")
	}
	if len(fields) > 0 {
		return registryerr.Validation(fields...)
	}
	return nil
}
