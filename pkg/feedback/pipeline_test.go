package feedback

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/nexora-systems/registry-central/pkg/registryerr"
	"github.com/nexora-systems/registry-central/pkg/store"
)

type statsUpdate struct {
	agentID   string
	success   bool
	latencyMs int64
	rating    float64
	weight    float64
}

type fakeFeedbackStore struct {
	agents map[string]*store.Agent

	recentCount  int
	pairRecent   int
	pairTotal    int
	agentTotal   int
	extremeCount int

	inserted []*store.Feedback
	frauds   []*store.FraudDetection
	updates  []statsUpdate
}

func newFakeFeedbackStore() *fakeFeedbackStore {
	return &fakeFeedbackStore{agents: map[string]*store.Agent{}}
}

func (f *fakeFeedbackStore) GetAgent(ctx context.Context, id string) (*store.Agent, error) {
	if a, ok := f.agents[id]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeFeedbackStore) RecentFeedbackCount(ctx context.Context, consumerID string, since time.Time) (int, error) {
	return f.recentCount, nil
}

func (f *fakeFeedbackStore) PairFeedbackCount(ctx context.Context, consumerID, agentID string, since time.Time) (int, error) {
	return f.pairRecent, nil
}

func (f *fakeFeedbackStore) PairFeedbackTotal(ctx context.Context, consumerID, agentID string) (int, error) {
	return f.pairTotal, nil
}

func (f *fakeFeedbackStore) AgentFeedbackTotal(ctx context.Context, agentID string) (int, error) {
	return f.agentTotal, nil
}

func (f *fakeFeedbackStore) AgentExtremeRatingCount(ctx context.Context, agentID string) (int, error) {
	return f.extremeCount, nil
}

func (f *fakeFeedbackStore) InsertFeedback(ctx context.Context, fb *store.Feedback) (int64, error) {
	f.inserted = append(f.inserted, fb)
	return int64(len(f.inserted)), nil
}

func (f *fakeFeedbackStore) InsertFraudDetection(ctx context.Context, fd *store.FraudDetection) error {
	f.frauds = append(f.frauds, fd)
	return nil
}

func (f *fakeFeedbackStore) ApplyFeedbackToStats(ctx context.Context, agentID string, success bool, latencyMs int64, rating, weight float64) error {
	f.updates = append(f.updates, statsUpdate{agentID, success, latencyMs, rating, weight})
	return nil
}

func seedAgent(f *fakeFeedbackStore) *store.Agent {
	a := &store.Agent{ID: "agent:w:br", CallerID: "provider-aaaa", Status: store.StatusActive}
	f.agents[a.ID] = a
	return a
}

func validFeedback() Request {
	return Request{AgentID: "agent:w:br", Success: true, LatencyMs: 100, Rating: 1.0}
}

func kindOf(t *testing.T, err error) registryerr.Kind {
	t.Helper()
	re, ok := registryerr.As(err)
	if !ok {
		t.Fatalf("err = %v, want *registryerr.Error", err)
	}
	return re.Kind
}

func TestSubmitHappyPathDevelopment(t *testing.T) {
	st := newFakeFeedbackStore()
	seedAgent(st)
	p := New(st, false)

	if err := p.Submit(context.Background(), "consumer-1", validFeedback()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(st.inserted) != 1 {
		t.Fatalf("inserted %d feedback rows, want 1", len(st.inserted))
	}
	if len(st.updates) != 1 {
		t.Fatalf("applied %d stats updates, want 1", len(st.updates))
	}
	up := st.updates[0]
	if up.weight != 1.0 {
		t.Errorf("development weight = %v, want 1.0", up.weight)
	}
	if len(st.frauds) != 0 {
		t.Errorf("development mode logged fraud: %+v", st.frauds)
	}
}

func TestSubmitValidation(t *testing.T) {
	st := newFakeFeedbackStore()
	seedAgent(st)
	p := New(st, false)

	cases := []Request{
		{AgentID: "", Rating: 0.5},
		{AgentID: "agent:w:br", LatencyMs: -1, Rating: 0.5},
		{AgentID: "agent:w:br", Rating: 1.5},
		{AgentID: "agent:w:br", Rating: -0.1},
	}
	for _, c := range cases {
		if kind := kindOf(t, p.Submit(context.Background(), "consumer-1", c)); kind != registryerr.KindValidation {
			t.Errorf("Submit(%+v) kind = %s, want VALIDATION_ERROR", c, kind)
		}
	}
	if len(st.inserted) != 0 {
		t.Errorf("invalid feedback was persisted")
	}
}

func TestSubmitRateLimited(t *testing.T) {
	st := newFakeFeedbackStore()
	seedAgent(st)
	st.recentCount = 60
	p := New(st, false)

	if kind := kindOf(t, p.Submit(context.Background(), "consumer-1", validFeedback())); kind != registryerr.KindRateLimited {
		t.Errorf("kind = %s, want RATE_LIMITED", kind)
	}
	if len(st.inserted) != 0 {
		t.Errorf("rate-limited feedback was persisted")
	}
}

func TestSubmitUnknownAgent(t *testing.T) {
	st := newFakeFeedbackStore()
	p := New(st, false)

	req := validFeedback()
	req.AgentID = "agent:missing"
	if kind := kindOf(t, p.Submit(context.Background(), "consumer-1", req)); kind != registryerr.KindNotFound {
		t.Errorf("kind = %s, want NOT_FOUND", kind)
	}
}

func TestSelfRatingDampensWeight(t *testing.T) {
	st := newFakeFeedbackStore()
	agent := seedAgent(st)
	p := New(st, true)

	// The provider rates its own agent: weight drops to 0.1 and a
	// SELF_RATING row is logged, but the submission goes through.
	if err := p.Submit(context.Background(), agent.CallerID, validFeedback()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(st.updates) != 1 {
		t.Fatalf("stats not updated")
	}
	if got := st.updates[0].weight; math.Abs(got-0.1) > 1e-9 {
		t.Errorf("self-rating weight = %v, want 0.1", got)
	}
	if len(st.frauds) != 1 || st.frauds[0].FraudType != store.FraudSelfRating || st.frauds[0].Severity != store.SeverityHigh {
		t.Errorf("expected one SELF_RATING/HIGH row, got %+v", st.frauds)
	}
}

func TestSpamBlocksEleventhFeedback(t *testing.T) {
	st := newFakeFeedbackStore()
	seedAgent(st)
	st.pairRecent = 10 // this submission would be the 11th in the hour
	p := New(st, true)

	if kind := kindOf(t, p.Submit(context.Background(), "consumer-1", validFeedback())); kind != registryerr.KindBlockedSpam {
		t.Errorf("kind = %s, want BLOCKED_SPAM", kind)
	}
	if len(st.inserted) != 0 || len(st.updates) != 0 {
		t.Errorf("blocked feedback mutated state: %d inserts, %d updates", len(st.inserted), len(st.updates))
	}
	if len(st.frauds) != 1 || st.frauds[0].FraudType != store.FraudSpam {
		t.Errorf("expected a SPAM row, got %+v", st.frauds)
	}
}

func TestTenthFeedbackStillPasses(t *testing.T) {
	st := newFakeFeedbackStore()
	seedAgent(st)
	st.pairRecent = 9 // this submission is the 10th in the hour
	p := New(st, true)

	if err := p.Submit(context.Background(), "consumer-1", validFeedback()); err != nil {
		t.Fatalf("the 10th feedback in the window must not block: %v", err)
	}
}

func TestDecreasingWeight(t *testing.T) {
	cases := []struct {
		prior int
		want  float64
	}{
		{0, 1.0},
		{1, 1.0 / (1.0 + math.Log(2))},
		{9, 1.0 / (1.0 + math.Log(10))},
		{10000, 0.1}, // floored
	}
	for _, c := range cases {
		st := newFakeFeedbackStore()
		seedAgent(st)
		st.pairTotal = c.prior
		p := New(st, true)

		if err := p.Submit(context.Background(), "consumer-1", validFeedback()); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if got := st.updates[0].weight; math.Abs(got-c.want) > 1e-9 {
			t.Errorf("weight with %d prior feedbacks = %v, want %v", c.prior, got, c.want)
		}
	}
}

func TestRatingPatternLogsButDoesNotBlock(t *testing.T) {
	st := newFakeFeedbackStore()
	seedAgent(st)
	st.agentTotal = 10
	st.extremeCount = 9 // 90% extreme
	p := New(st, true)

	if err := p.Submit(context.Background(), "consumer-1", validFeedback()); err != nil {
		t.Fatalf("rating pattern must not block: %v", err)
	}
	found := false
	for _, fd := range st.frauds {
		if fd.FraudType == store.FraudRatingPattern && fd.Severity == store.SeverityMedium {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a RATING_PATTERN/MEDIUM row, got %+v", st.frauds)
	}
	if len(st.updates) != 1 {
		t.Errorf("stats not updated despite audit-only detection")
	}
}

func TestRatingPatternNeedsTenFeedbacks(t *testing.T) {
	st := newFakeFeedbackStore()
	seedAgent(st)
	st.agentTotal = 9
	st.extremeCount = 9
	p := New(st, true)

	if err := p.Submit(context.Background(), "consumer-1", validFeedback()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	for _, fd := range st.frauds {
		if fd.FraudType == store.FraudRatingPattern {
			t.Errorf("pattern logged below the 10-feedback floor")
		}
	}
}

func TestCombinedWeightMultiplies(t *testing.T) {
	st := newFakeFeedbackStore()
	agent := seedAgent(st)
	st.pairTotal = 1
	p := New(st, true)

	if err := p.Submit(context.Background(), agent.CallerID, validFeedback()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	want := 0.1 * (1.0 / (1.0 + math.Log(2)))
	if got := st.updates[0].weight; math.Abs(got-want) > 1e-9 {
		t.Errorf("combined weight = %v, want %v", got, want)
	}
}
