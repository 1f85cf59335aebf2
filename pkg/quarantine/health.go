// Package quarantine implements agent health reporting and the status
// state machine (active, quarantine, banned) with its periodic auto-review
// sweep.
package quarantine

import (
	"context"
	"time"

	"github.com/nexora-systems/registry-central/pkg/registryerr"
	"github.com/nexora-systems/registry-central/pkg/store"
)

// Store is the subset of store.Store the control loop depends on.
type Store interface {
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	ListAllAgents(ctx context.Context) ([]*store.Agent, error)
	GetAgentStats(ctx context.Context, agentID string) (*store.AgentStats, error)
	AgentFeedbackTotal(ctx context.Context, agentID string) (int, error)
	AgentFraudCount(ctx context.Context, agentID string) (int, error)
	AgentFraudCountByType(ctx context.Context, agentID string, fraudType store.FraudType) (int, error)
	UpdateAgentStatus(ctx context.Context, agentID string, status store.AgentStatus, reason string, quarantineAt *time.Time) error
}

// Service evaluates agent health and drives status transitions. Transitions
// only happen in production mode; development deployments report but never
// quarantine.
type Service struct {
	store      Store
	production bool
}

// New builds a quarantine Service.
func New(store Store, production bool) *Service {
	return &Service{store: store, production: production}
}

// Metrics is the numeric half of a health report.
type Metrics struct {
	SuccessRate          float64 `json:"success_rate"`
	AvgRating            float64 `json:"avg_rating"`
	AvgLatencyMs         float64 `json:"avg_latency_ms"`
	TotalFeedbacks       int64   `json:"total_feedbacks"`
	FraudDetected        int     `json:"fraud_detected"`
	FraudPercentage      float64 `json:"fraud_percentage"`
	SelfRatingPercentage float64 `json:"self_rating_percentage"`
}

// Report is the on-demand health summary for a single agent.
type Report struct {
	AgentID          string            `json:"agent_id"`
	Status           store.AgentStatus `json:"status"`
	HealthScore      float64           `json:"health_score"`
	Metrics          Metrics           `json:"metrics"`
	Warnings         []string          `json:"warnings"`
	QuarantineRisk   string            `json:"quarantine_risk"`
	QuarantineReason string            `json:"quarantine_reason,omitempty"`
	QuarantineAt     *time.Time        `json:"quarantine_at,omitempty"`
}

// Risk levels reported in Report.QuarantineRisk.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Health builds the health report for agentID, or NOT_FOUND.
func (s *Service) Health(ctx context.Context, agentID string) (*Report, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err == store.ErrNotFound {
		return nil, registryerr.New(registryerr.KindNotFound, "agent not found: "+agentID)
	}
	if err != nil {
		return nil, registryerr.Wrap(registryerr.KindInternal, "load agent", err)
	}

	m, err := s.collect(ctx, agent)
	if err != nil {
		return nil, err
	}

	report := &Report{
		AgentID:          agent.ID,
		Status:           agent.Status,
		HealthScore:      healthScore(m),
		Metrics:          m,
		Warnings:         warnings(agent, m),
		QuarantineRisk:   s.risk(agent, m),
		QuarantineReason: agent.QuarantineReason,
		QuarantineAt:     agent.QuarantineAt,
	}
	if report.Warnings == nil {
		report.Warnings = []string{}
	}
	return report, nil
}

// collect gathers the stats and fraud counters behind a report. Fraud
// percentages are 0 outside production, consistent with search scoring.
func (s *Service) collect(ctx context.Context, agent *store.Agent) (Metrics, error) {
	var m Metrics

	stats, err := s.store.GetAgentStats(ctx, agent.ID)
	if err != nil && err != store.ErrNotFound {
		return m, registryerr.Wrap(registryerr.KindInternal, "load agent stats", err)
	}
	if stats != nil {
		m.SuccessRate = stats.SuccessRate()
		m.AvgRating = stats.AvgRating
		m.AvgLatencyMs = stats.AvgLatencyMs
		m.TotalFeedbacks = stats.CallsTotal
	}

	if !s.production {
		return m, nil
	}

	m.FraudDetected, err = s.store.AgentFraudCount(ctx, agent.ID)
	if err != nil {
		return m, registryerr.Wrap(registryerr.KindInternal, "count fraud log", err)
	}
	feedbacks, err := s.store.AgentFeedbackTotal(ctx, agent.ID)
	if err != nil {
		return m, registryerr.Wrap(registryerr.KindInternal, "count feedback", err)
	}
	selfRatings, err := s.store.AgentFraudCountByType(ctx, agent.ID, store.FraudSelfRating)
	if err != nil {
		return m, registryerr.Wrap(registryerr.KindInternal, "count self ratings", err)
	}
	if feedbacks > 0 {
		m.FraudPercentage = capPct(float64(m.FraudDetected) / float64(feedbacks) * 100)
		m.SelfRatingPercentage = capPct(float64(selfRatings) / float64(feedbacks) * 100)
	}
	return m, nil
}

func capPct(v float64) float64 {
	if v > 100 {
		return 100
	}
	return v
}

// healthScore folds the metrics into a single 0..1 summary:
// 0.4*success + 0.3*rating + 0.1*(1-min(latency/10000,1)) + 0.2*(1-fraud%/100).
func healthScore(m Metrics) float64 {
	latency := m.AvgLatencyMs / 10000
	if latency > 1 {
		latency = 1
	}
	return 0.4*m.SuccessRate +
		0.3*m.AvgRating +
		0.1*(1-latency) +
		0.2*(1-m.FraudPercentage/100)
}

// risk grades how close the agent is to its next transition. Development
// deployments always report low.
func (s *Service) risk(agent *store.Agent, m Metrics) string {
	if !s.production {
		return RiskLow
	}
	switch agent.Status {
	case store.StatusQuarantine:
		if banReason(m) != "" {
			return RiskHigh
		}
		return RiskMedium
	case store.StatusBanned:
		return RiskHigh
	default:
		if quarantineReason(m) != "" {
			return RiskHigh
		}
		if len(warnings(agent, m)) > 0 {
			return RiskMedium
		}
		return RiskLow
	}
}

// warnings names conditions trending toward a transition without having
// crossed one.
func warnings(agent *store.Agent, m Metrics) []string {
	var out []string
	if m.TotalFeedbacks >= 10 && m.SuccessRate < 0.5 {
		out = append(out, "success rate trending low")
	}
	if m.TotalFeedbacks >= 10 && m.AvgRating < 0.4 {
		out = append(out, "average rating trending low")
	}
	if m.TotalFeedbacks >= 5 && m.AvgLatencyMs > 10000 {
		out = append(out, "average latency above 10s")
	}
	if m.FraudPercentage > 25 {
		out = append(out, "elevated fraud detections")
	}
	if m.SelfRatingPercentage > 40 {
		out = append(out, "elevated self-rating share")
	}
	if agent.Status == store.StatusQuarantine {
		out = append(out, "agent is quarantined")
	}
	return out
}
