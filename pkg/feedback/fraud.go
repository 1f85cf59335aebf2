package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/nexora-systems/registry-central/pkg/metrics"
	"github.com/nexora-systems/registry-central/pkg/registryerr"
	"github.com/nexora-systems/registry-central/pkg/store"
)

const (
	selfRatingWeight = 0.1
	minWeight        = 0.1

	// ratingPatternMinFeedbacks / ratingPatternShare: with at least 10
	// feedbacks on record and more than 80% of them at an extreme rating
	// (exactly 0 or 1), the pattern is logged for audit.
	ratingPatternMinFeedbacks = 10
	ratingPatternShare        = 0.8
)

// analyze runs the anti-fraud checks and returns the combined weight for
// this feedback's rating. Outside production every check short-circuits to
// weight 1. A spam verdict aborts the submission with BLOCKED_SPAM; every
// other signal only dampens the weight or logs an audit row.
func (p *Pipeline) analyze(ctx context.Context, consumerID string, agent *store.Agent, req Request) (float64, error) {
	if !p.production {
		return 1.0, nil
	}

	selfWeight := 1.0
	if consumerID == agent.CallerID {
		selfWeight = selfRatingWeight
		p.logFraud(ctx, agent.ID, consumerID, store.FraudSelfRating, store.SeverityHigh, map[string]any{
			"rating": req.Rating,
		})
	}

	// Counting the submission in flight: with spamMax prior feedbacks in
	// the window, this one would be number spamMax+1.
	pairRecent, err := p.store.PairFeedbackCount(ctx, consumerID, agent.ID, time.Now().Add(-spamWindow))
	if err != nil {
		return 0, registryerr.Wrap(registryerr.KindInternal, "count pair feedback", err)
	}
	if pairRecent >= spamMax {
		p.logFraud(ctx, agent.ID, consumerID, store.FraudSpam, store.SeverityHigh, map[string]any{
			"feedbacks_last_hour": pairRecent,
		})
		return 0, registryerr.New(registryerr.KindBlockedSpam,
			fmt.Sprintf("more than %d feedbacks for this agent in the last hour", spamMax))
	}

	prior, err := p.store.PairFeedbackTotal(ctx, consumerID, agent.ID)
	if err != nil {
		return 0, registryerr.Wrap(registryerr.KindInternal, "count prior feedback", err)
	}
	decreasing := 1.0 / (1.0 + math.Log(1.0+float64(prior)))
	if decreasing < minWeight {
		decreasing = minWeight
	}

	if err := p.checkRatingPattern(ctx, agent.ID); err != nil {
		return 0, err
	}

	return selfWeight * decreasing, nil
}

// checkRatingPattern logs (but never blocks on) a suspicious concentration
// of extreme ratings against an agent.
func (p *Pipeline) checkRatingPattern(ctx context.Context, agentID string) error {
	total, err := p.store.AgentFeedbackTotal(ctx, agentID)
	if err != nil {
		return registryerr.Wrap(registryerr.KindInternal, "count agent feedback", err)
	}
	if total < ratingPatternMinFeedbacks {
		return nil
	}
	extreme, err := p.store.AgentExtremeRatingCount(ctx, agentID)
	if err != nil {
		return registryerr.Wrap(registryerr.KindInternal, "count extreme ratings", err)
	}
	if float64(extreme) > ratingPatternShare*float64(total) {
		p.logFraud(ctx, agentID, "", store.FraudRatingPattern, store.SeverityMedium, map[string]any{
			"total_feedbacks": total,
			"extreme_ratings": extreme,
		})
	}
	return nil
}

// logFraud appends a fraud-detection row. A failed insert is logged and
// swallowed: the audit trail must not break the feedback hot path.
func (p *Pipeline) logFraud(ctx context.Context, agentID, consumerID string, fraudType store.FraudType, severity store.FraudSeverity, details map[string]any) {
	payload, _ := json.Marshal(details)
	err := p.store.InsertFraudDetection(ctx, &store.FraudDetection{
		AgentID:    agentID,
		ConsumerID: consumerID,
		FraudType:  fraudType,
		Severity:   severity,
		Details:    payload,
	})
	if err != nil {
		fmt.Printf(`{"level":"error","msg":"fraud_log_insert_failed","agent_id":"%s","fraud_type":"%s","error":"%v"}`+"\n",
			agentID, fraudType, err)
		return
	}
	metrics.FraudDetectedTotal.WithLabelValues(string(fraudType), string(severity)).Inc()
}
