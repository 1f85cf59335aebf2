package quarantine

import (
	"context"
	"fmt"
	"time"

	"github.com/nexora-systems/registry-central/pkg/metrics"
	"github.com/nexora-systems/registry-central/pkg/registryerr"
	"github.com/nexora-systems/registry-central/pkg/store"
)

// ReviewSummary is what one auto-review sweep did.
type ReviewSummary struct {
	Scanned     int `json:"scanned"`
	Quarantined int `json:"quarantined"`
	Reactivated int `json:"reactivated"`
	Banned      int `json:"banned"`
}

// quarantineReason evaluates the active -> quarantine thresholds and
// returns the triggering condition, or "" if none fired.
func quarantineReason(m Metrics) string {
	switch {
	case m.TotalFeedbacks >= 20 && m.SuccessRate < 0.40:
		return fmt.Sprintf("Success rate %.2f below 0.40 over %d calls", m.SuccessRate, m.TotalFeedbacks)
	case m.TotalFeedbacks >= 15 && m.AvgRating < 0.3:
		return fmt.Sprintf("Average rating %.2f below 0.30 over %d calls", m.AvgRating, m.TotalFeedbacks)
	case m.TotalFeedbacks >= 10 && m.AvgLatencyMs > 30000:
		return fmt.Sprintf("Average latency %.0fms above 30000ms", m.AvgLatencyMs)
	case m.FraudPercentage > 50:
		return fmt.Sprintf("Fraud percentage %.1f above 50", m.FraudPercentage)
	}
	return ""
}

// banReason evaluates the quarantine -> banned thresholds.
func banReason(m Metrics) string {
	switch {
	case m.TotalFeedbacks >= 40 && m.SuccessRate < 0.20:
		return fmt.Sprintf("Success rate %.2f below 0.20 over %d calls", m.SuccessRate, m.TotalFeedbacks)
	case m.TotalFeedbacks >= 30 && m.AvgRating < 0.15:
		return fmt.Sprintf("Average rating %.2f below 0.15 over %d calls", m.AvgRating, m.TotalFeedbacks)
	case m.FraudPercentage > 70:
		return fmt.Sprintf("Fraud percentage %.1f above 70", m.FraudPercentage)
	case m.SelfRatingPercentage > 80:
		return fmt.Sprintf("Self-rating percentage %.1f above 80", m.SelfRatingPercentage)
	}
	return ""
}

// canReactivate evaluates the quarantine -> active recovery bar. All three
// conditions must hold.
func canReactivate(m Metrics) bool {
	return m.SuccessRate >= 0.45 && m.AvgRating >= 0.35 && m.FraudPercentage < 40
}

// AutoReview scans every agent and applies the transition its current
// status calls for. It is a no-op outside production, and idempotent when
// stats and fraud counts have not changed between runs. Designed for a
// single runner; multi-node deployments gate the call on leader election.
func (s *Service) AutoReview(ctx context.Context) (*ReviewSummary, error) {
	summary := &ReviewSummary{}
	if !s.production {
		return summary, nil
	}

	agents, err := s.store.ListAllAgents(ctx)
	if err != nil {
		return nil, registryerr.Wrap(registryerr.KindInternal, "list agents", err)
	}
	summary.Scanned = len(agents)

	byStatus := map[store.AgentStatus]float64{
		store.StatusActive:     0,
		store.StatusQuarantine: 0,
		store.StatusBanned:     0,
	}

	for _, agent := range agents {
		m, err := s.collect(ctx, agent)
		if err != nil {
			return nil, err
		}

		status := agent.Status
		switch agent.Status {
		case store.StatusActive:
			if reason := quarantineReason(m); reason != "" {
				now := time.Now().UTC()
				if err := s.store.UpdateAgentStatus(ctx, agent.ID, store.StatusQuarantine, reason, &now); err != nil {
					return nil, registryerr.Wrap(registryerr.KindInternal, "quarantine agent", err)
				}
				status = store.StatusQuarantine
				summary.Quarantined++
				metrics.QuarantineTransitionsTotal.WithLabelValues("quarantined").Inc()
				fmt.Printf(`{"level":"info","msg":"agent_quarantined","agent_id":"%s","reason":"%s"}`+"\n", agent.ID, reason)
			}
		case store.StatusQuarantine:
			if reason := banReason(m); reason != "" {
				if err := s.store.UpdateAgentStatus(ctx, agent.ID, store.StatusBanned, reason, agent.QuarantineAt); err != nil {
					return nil, registryerr.Wrap(registryerr.KindInternal, "ban agent", err)
				}
				status = store.StatusBanned
				summary.Banned++
				metrics.QuarantineTransitionsTotal.WithLabelValues("banned").Inc()
				fmt.Printf(`{"level":"info","msg":"agent_banned","agent_id":"%s","reason":"%s"}`+"\n", agent.ID, reason)
			} else if canReactivate(m) {
				if err := s.store.UpdateAgentStatus(ctx, agent.ID, store.StatusActive, "", nil); err != nil {
					return nil, registryerr.Wrap(registryerr.KindInternal, "reactivate agent", err)
				}
				status = store.StatusActive
				summary.Reactivated++
				metrics.QuarantineTransitionsTotal.WithLabelValues("reactivated").Inc()
				fmt.Printf(`{"level":"info","msg":"agent_reactivated","agent_id":"%s"}`+"\n", agent.ID)
			}
		case store.StatusBanned:
			// Terminal.
		}
		byStatus[status]++
	}

	for status, n := range byStatus {
		metrics.AgentsByStatus.WithLabelValues(string(status)).Set(n)
	}
	return summary, nil
}
