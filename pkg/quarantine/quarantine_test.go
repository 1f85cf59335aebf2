package quarantine

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/nexora-systems/registry-central/pkg/registryerr"
	"github.com/nexora-systems/registry-central/pkg/store"
)

type transition struct {
	agentID string
	status  store.AgentStatus
	reason  string
}

type fakeQuarantineStore struct {
	agents      map[string]*store.Agent
	stats       map[string]*store.AgentStats
	fraudCount  map[string]int
	selfCount   map[string]int
	totals      map[string]int
	transitions []transition
}

func newFakeQuarantineStore() *fakeQuarantineStore {
	return &fakeQuarantineStore{
		agents:     map[string]*store.Agent{},
		stats:      map[string]*store.AgentStats{},
		fraudCount: map[string]int{},
		selfCount:  map[string]int{},
		totals:     map[string]int{},
	}
}

func (f *fakeQuarantineStore) GetAgent(ctx context.Context, id string) (*store.Agent, error) {
	if a, ok := f.agents[id]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeQuarantineStore) ListAllAgents(ctx context.Context) ([]*store.Agent, error) {
	var out []*store.Agent
	for _, a := range f.agents {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeQuarantineStore) GetAgentStats(ctx context.Context, agentID string) (*store.AgentStats, error) {
	if st, ok := f.stats[agentID]; ok {
		return st, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeQuarantineStore) AgentFeedbackTotal(ctx context.Context, agentID string) (int, error) {
	return f.totals[agentID], nil
}

func (f *fakeQuarantineStore) AgentFraudCount(ctx context.Context, agentID string) (int, error) {
	return f.fraudCount[agentID], nil
}

func (f *fakeQuarantineStore) AgentFraudCountByType(ctx context.Context, agentID string, fraudType store.FraudType) (int, error) {
	if fraudType == store.FraudSelfRating {
		return f.selfCount[agentID], nil
	}
	return 0, nil
}

func (f *fakeQuarantineStore) UpdateAgentStatus(ctx context.Context, agentID string, status store.AgentStatus, reason string, quarantineAt *time.Time) error {
	f.transitions = append(f.transitions, transition{agentID, status, reason})
	a := f.agents[agentID]
	a.Status = status
	a.QuarantineReason = reason
	a.QuarantineAt = quarantineAt
	return nil
}

func (f *fakeQuarantineStore) addAgent(id string, status store.AgentStatus, stats *store.AgentStats) *store.Agent {
	a := &store.Agent{ID: id, Status: status}
	f.agents[id] = a
	if stats != nil {
		stats.AgentID = id
		f.stats[id] = stats
		f.totals[id] = int(stats.CallsTotal)
	}
	return a
}

func TestHealthUnknownAgent(t *testing.T) {
	svc := New(newFakeQuarantineStore(), true)
	_, err := svc.Health(context.Background(), "agent:missing")
	re, ok := registryerr.As(err)
	if !ok || re.Kind != registryerr.KindNotFound {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestHealthScoreFormula(t *testing.T) {
	st := newFakeQuarantineStore()
	st.addAgent("agent:a", store.StatusActive, &store.AgentStats{
		CallsTotal: 10, CallsSuccess: 8, AvgRating: 0.9, AvgLatencyMs: 2000,
	})
	svc := New(st, true)

	report, err := svc.Health(context.Background(), "agent:a")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	// 0.4*0.8 + 0.3*0.9 + 0.1*(1-0.2) + 0.2*1
	want := 0.4*0.8 + 0.3*0.9 + 0.1*0.8 + 0.2*1.0
	if math.Abs(report.HealthScore-want) > 1e-9 {
		t.Errorf("health score = %v, want %v", report.HealthScore, want)
	}
	if report.Metrics.SuccessRate != 0.8 || report.Metrics.TotalFeedbacks != 10 {
		t.Errorf("metrics = %+v", report.Metrics)
	}
}

func TestHealthLatencyTermClamps(t *testing.T) {
	st := newFakeQuarantineStore()
	st.addAgent("agent:slow", store.StatusActive, &store.AgentStats{
		CallsTotal: 5, AvgLatencyMs: 50000,
	})
	svc := New(st, true)

	report, err := svc.Health(context.Background(), "agent:slow")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	// Latency term is floored at 0 once avg latency passes 10s.
	want := 0.2 * 1.0
	if math.Abs(report.HealthScore-want) > 1e-9 {
		t.Errorf("health score = %v, want %v", report.HealthScore, want)
	}
}

func TestHealthRiskLowInDevelopment(t *testing.T) {
	st := newFakeQuarantineStore()
	st.addAgent("agent:a", store.StatusActive, &store.AgentStats{
		CallsTotal: 25, CallsSuccess: 2, AvgRating: 0.1,
	})
	svc := New(st, false)

	report, err := svc.Health(context.Background(), "agent:a")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.QuarantineRisk != RiskLow {
		t.Errorf("development risk = %s, want low", report.QuarantineRisk)
	}
}

func TestHealthRiskHighWhenThresholdCrossed(t *testing.T) {
	st := newFakeQuarantineStore()
	st.addAgent("agent:a", store.StatusActive, &store.AgentStats{
		CallsTotal: 25, CallsSuccess: 5, AvgRating: 0.9,
	})
	svc := New(st, true)

	report, err := svc.Health(context.Background(), "agent:a")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.QuarantineRisk != RiskHigh {
		t.Errorf("risk = %s, want high", report.QuarantineRisk)
	}
}

func TestAutoReviewNoopInDevelopment(t *testing.T) {
	st := newFakeQuarantineStore()
	st.addAgent("agent:bad", store.StatusActive, &store.AgentStats{
		CallsTotal: 25, CallsSuccess: 2, AvgRating: 0.1,
	})
	svc := New(st, false)

	summary, err := svc.AutoReview(context.Background())
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if summary.Quarantined != 0 || len(st.transitions) != 0 {
		t.Errorf("development review mutated state: %+v", st.transitions)
	}
}

func TestAutoReviewQuarantinesLowSuccessRate(t *testing.T) {
	st := newFakeQuarantineStore()
	st.addAgent("agent:bad", store.StatusActive, &store.AgentStats{
		CallsTotal: 25, CallsSuccess: 5, AvgRating: 0.9,
	})
	svc := New(st, true)

	summary, err := svc.AutoReview(context.Background())
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if summary.Quarantined != 1 {
		t.Fatalf("quarantined = %d, want 1", summary.Quarantined)
	}
	tr := st.transitions[0]
	if tr.status != store.StatusQuarantine || !strings.Contains(tr.reason, "Success rate") {
		t.Errorf("transition = %+v, want quarantine with success-rate reason", tr)
	}
	if st.agents["agent:bad"].QuarantineAt == nil {
		t.Errorf("quarantine_at not stamped")
	}
}

func TestAutoReviewQuarantineThresholds(t *testing.T) {
	cases := []struct {
		name  string
		stats *store.AgentStats
		fraud int
		want  string
	}{
		{"low rating", &store.AgentStats{CallsTotal: 15, CallsSuccess: 15, AvgRating: 0.2}, 0, "rating"},
		{"high latency", &store.AgentStats{CallsTotal: 10, CallsSuccess: 10, AvgRating: 0.9, AvgLatencyMs: 31000}, 0, "latency"},
		{"fraud", &store.AgentStats{CallsTotal: 10, CallsSuccess: 10, AvgRating: 0.9}, 6, "Fraud"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			st := newFakeQuarantineStore()
			st.addAgent("agent:x", store.StatusActive, c.stats)
			st.fraudCount["agent:x"] = c.fraud
			svc := New(st, true)

			summary, err := svc.AutoReview(context.Background())
			if err != nil {
				t.Fatalf("review: %v", err)
			}
			if summary.Quarantined != 1 {
				t.Fatalf("quarantined = %d, want 1", summary.Quarantined)
			}
			if !strings.Contains(strings.ToLower(st.transitions[0].reason), strings.ToLower(c.want)) {
				t.Errorf("reason %q does not mention %q", st.transitions[0].reason, c.want)
			}
		})
	}
}

func TestAutoReviewHealthyAgentUntouched(t *testing.T) {
	st := newFakeQuarantineStore()
	st.addAgent("agent:ok", store.StatusActive, &store.AgentStats{
		CallsTotal: 100, CallsSuccess: 90, AvgRating: 0.8, AvgLatencyMs: 200,
	})
	svc := New(st, true)

	summary, err := svc.AutoReview(context.Background())
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if summary.Quarantined+summary.Banned+summary.Reactivated != 0 {
		t.Errorf("healthy agent transitioned: %+v", summary)
	}
}

func TestAutoReviewBansFromQuarantine(t *testing.T) {
	st := newFakeQuarantineStore()
	st.addAgent("agent:worse", store.StatusQuarantine, &store.AgentStats{
		CallsTotal: 40, CallsSuccess: 4, AvgRating: 0.5,
	})
	svc := New(st, true)

	summary, err := svc.AutoReview(context.Background())
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if summary.Banned != 1 {
		t.Fatalf("banned = %d, want 1", summary.Banned)
	}
	if st.agents["agent:worse"].Status != store.StatusBanned {
		t.Errorf("status = %s, want banned", st.agents["agent:worse"].Status)
	}
}

func TestAutoReviewBansOnSelfRatingShare(t *testing.T) {
	st := newFakeQuarantineStore()
	st.addAgent("agent:selfish", store.StatusQuarantine, &store.AgentStats{
		CallsTotal: 10, CallsSuccess: 9, AvgRating: 0.9,
	})
	st.selfCount["agent:selfish"] = 9 // 90% of feedbacks
	svc := New(st, true)

	summary, err := svc.AutoReview(context.Background())
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if summary.Banned != 1 {
		t.Fatalf("banned = %d, want 1 (self-rating share)", summary.Banned)
	}
}

func TestAutoReviewReactivates(t *testing.T) {
	st := newFakeQuarantineStore()
	st.addAgent("agent:recovered", store.StatusQuarantine, &store.AgentStats{
		CallsTotal: 20, CallsSuccess: 10, AvgRating: 0.5,
	})
	svc := New(st, true)

	summary, err := svc.AutoReview(context.Background())
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if summary.Reactivated != 1 {
		t.Fatalf("reactivated = %d, want 1", summary.Reactivated)
	}
	a := st.agents["agent:recovered"]
	if a.Status != store.StatusActive || a.QuarantineReason != "" || a.QuarantineAt != nil {
		t.Errorf("reactivated agent = %+v", a)
	}
}

func TestAutoReviewQuarantineHolds(t *testing.T) {
	// Not bad enough to ban, not good enough to reactivate.
	st := newFakeQuarantineStore()
	st.addAgent("agent:limbo", store.StatusQuarantine, &store.AgentStats{
		CallsTotal: 20, CallsSuccess: 8, AvgRating: 0.3,
	})
	svc := New(st, true)

	summary, err := svc.AutoReview(context.Background())
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if summary.Banned+summary.Reactivated != 0 || len(st.transitions) != 0 {
		t.Errorf("limbo agent transitioned: %+v", st.transitions)
	}
}

func TestAutoReviewBannedIsTerminal(t *testing.T) {
	st := newFakeQuarantineStore()
	st.addAgent("agent:gone", store.StatusBanned, &store.AgentStats{
		CallsTotal: 100, CallsSuccess: 100, AvgRating: 1.0,
	})
	svc := New(st, true)

	if _, err := svc.AutoReview(context.Background()); err != nil {
		t.Fatalf("review: %v", err)
	}
	if len(st.transitions) != 0 {
		t.Errorf("banned agent transitioned: %+v", st.transitions)
	}
}

func TestAutoReviewIdempotent(t *testing.T) {
	st := newFakeQuarantineStore()
	st.addAgent("agent:bad", store.StatusActive, &store.AgentStats{
		CallsTotal: 25, CallsSuccess: 5, AvgRating: 0.9,
	})
	svc := New(st, true)

	if _, err := svc.AutoReview(context.Background()); err != nil {
		t.Fatalf("first review: %v", err)
	}
	second, err := svc.AutoReview(context.Background())
	if err != nil {
		t.Fatalf("second review: %v", err)
	}
	// The agent is already quarantined; with unchanged stats it neither
	// re-quarantines nor bans (success rate 0.20 is not < 0.20).
	if second.Quarantined != 0 || second.Banned != 0 {
		t.Errorf("second sweep transitioned again: %+v", second)
	}
}
