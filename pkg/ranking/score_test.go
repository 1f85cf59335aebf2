package ranking

import (
	"math"
	"testing"

	"github.com/nexora-systems/registry-central/pkg/store"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func globalWeatherAgent() *store.Agent {
	return &store.Agent{
		ID:            "agent:w:br",
		Name:          "Weather BR",
		Intents:       []string{"weather.forecast"},
		Categories:    []string{"weather"},
		Languages:     []string{"en"},
		LocationScope: "Global",
		Status:        store.StatusActive,
	}
}

func TestIntentHierarchicalBoundaries(t *testing.T) {
	cases := []struct {
		search string
		agent  string
		want   float64
	}{
		{"a.b.c", "a.b.c", 1.0},
		{"a.b.c", "a.b.d", 0.6},
		{"a.x.y", "a.p.q", 0.3},
		{"a.b.c", "z.b.c", 0.0},
	}
	for _, c := range cases {
		got := intentHierarchicalScore(c.search, []string{c.agent})
		if !almostEqual(got, c.want) {
			t.Errorf("hierarchical(%q, %q) = %v, want %v", c.search, c.agent, got, c.want)
		}
	}
}

func TestIntentScoreTakesMaxOverAgentIntents(t *testing.T) {
	got := intentHierarchicalScore("a.b.c", []string{"z.z.z", "a.b.d", "a.b.c"})
	if !almostEqual(got, 1.0) {
		t.Errorf("best over agent intents = %v, want 1.0", got)
	}
}

func TestIntentScoreNoIntentIsNeutral(t *testing.T) {
	if got := intentScore(nil, []string{"weather.forecast"}); !almostEqual(got, 0.5) {
		t.Errorf("no-intent factor = %v, want 0.5", got)
	}
}

func TestIntentTrigramCatchesNearMisses(t *testing.T) {
	// "weather.forcast" (typo) shares the "weather" token, and "forcast"
	// is trigram-close to "forecast".
	got := intentTrigramScore("weather.forcast", []string{"weather.forecast"})
	if got <= 0.4 {
		t.Errorf("trigram score for near-miss = %v, want > 0.4", got)
	}
	if got > 1.0 {
		t.Errorf("trigram score must be capped at 1.0, got %v", got)
	}
}

func TestRegisteredAgentScoresExactIntentSearch(t *testing.T) {
	// Exact intent, matching category, no stats, no fraud:
	// 0.25 + 0.5*0.20 + 0 + 0.5*0.10 + 1.0*0.10 + 0 + 1.0*0.07 + 0 + 1.0*0.04
	req := Request{Intents: []string{"weather.forecast"}, Categories: []string{"weather"}}
	b := Score(req, globalWeatherAgent(), nil, 0)
	if !almostEqual(b.Final, 0.61) {
		t.Errorf("score = %v, want 0.61", b.Final)
	}
}

func TestCategoryOnlySearchScore(t *testing.T) {
	// No intent: intent factor is the neutral 0.5, everything else as
	// above, so 0.61 - 0.25 + 0.5*0.25 = 0.485.
	req := Request{Categories: []string{"weather"}}
	b := Score(req, globalWeatherAgent(), nil, 0)
	if !almostEqual(b.Final, 0.485) {
		t.Errorf("score = %v, want 0.485", b.Final)
	}
}

func TestPerfectStatsRaiseScore(t *testing.T) {
	req := Request{Intents: []string{"weather.forecast"}, Categories: []string{"weather"}}
	stats := &store.AgentStats{CallsTotal: 3, CallsSuccess: 3, AvgLatencyMs: 100, AvgRating: 1.0}
	b := Score(req, globalWeatherAgent(), stats, 0)
	// 0.61 + 1.0*0.14 + 1.0*0.09 + 1.0*0.03
	if !almostEqual(b.Final, 0.87) {
		t.Errorf("score = %v, want 0.87", b.Final)
	}
	if !almostEqual(b.Success, 1.0) || !almostEqual(b.Rating, 1.0) || !almostEqual(b.Latency, 1.0) {
		t.Errorf("stat factors = %v/%v/%v, want all 1.0", b.Success, b.Rating, b.Latency)
	}
}

func TestZeroCallsZeroStatFactors(t *testing.T) {
	req := Request{Intents: []string{"weather.forecast"}, Categories: []string{"weather"}}
	stats := &store.AgentStats{CallsTotal: 0}
	b := Score(req, globalWeatherAgent(), stats, 0)
	if b.Success != 0 || b.Rating != 0 || b.Latency != 0 {
		t.Errorf("factors with calls_total=0 = %v/%v/%v, want zeros", b.Success, b.Rating, b.Latency)
	}
}

func TestQuarantinePenalty(t *testing.T) {
	req := Request{Categories: []string{"weather"}}
	agent := globalWeatherAgent()
	agent.Status = store.StatusQuarantine

	b := Score(req, agent, nil, 0)
	if !almostEqual(b.Final, b.Raw-0.3) {
		t.Errorf("quarantined final = %v, want raw %v - 0.3", b.Final, b.Raw)
	}
}

func TestQuarantinePenaltyClampsAtZero(t *testing.T) {
	req := Request{Intents: []string{"x.y.z"}, Categories: []string{"unrelated"}, Description: "nothing in common"}
	agent := globalWeatherAgent()
	agent.Status = store.StatusQuarantine

	b := Score(req, agent, nil, 0)
	if b.Final < 0 {
		t.Errorf("final score must clamp at 0, got %v", b.Final)
	}
}

func TestFraudPercentageLowersScore(t *testing.T) {
	req := Request{Intents: []string{"weather.forecast"}, Categories: []string{"weather"}}
	clean := Score(req, globalWeatherAgent(), nil, 0)
	dirty := Score(req, globalWeatherAgent(), nil, 50)
	if !almostEqual(clean.Final-dirty.Final, 0.5*0.04) {
		t.Errorf("50%% fraud should cost 0.02, got %v", clean.Final-dirty.Final)
	}
}

func TestLatencyBuckets(t *testing.T) {
	cases := []struct {
		latency float64
		want    float64
	}{
		{100, 1.0},
		{500, 1.0},
		{501, 0.7},
		{1500, 0.7},
		{2000, 0.4},
		{3001, 0.2},
	}
	for _, c := range cases {
		stats := &store.AgentStats{CallsTotal: 1, AvgLatencyMs: c.latency}
		if got := latencyScore(stats); !almostEqual(got, c.want) {
			t.Errorf("latencyScore(%vms) = %v, want %v", c.latency, got, c.want)
		}
	}
}

func TestGeoScore(t *testing.T) {
	cases := []struct {
		name     string
		location string
		agent    string
		want     float64
	}{
		{"no request location", "", "Global", 0.5},
		{"no agent location", "Berlin", "", 0.5},
		{"global agent with location", "Berlin", "Global", 0.3},
		{"city match", "são paulo", "São Paulo, SP, Brazil", 1.0},
		{"state match", "SP", "São Paulo, SP, Brazil", 0.6},
		{"country match", "Brazil", "São Paulo, SP, Brazil", 0.3},
		{"no match floors at 0.2", "Tokyo", "São Paulo, SP, Brazil", 0.2},
		{"slash separators", "lisbon", "Lisbon/Portugal", 1.0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := geoScore(c.location, c.agent); !almostEqual(got, c.want) {
				t.Errorf("geoScore(%q, %q) = %v, want %v", c.location, c.agent, got, c.want)
			}
		})
	}
}

func TestDescriptionScore(t *testing.T) {
	agent := globalWeatherAgent()
	agent.Description = "Accurate hourly weather forecasts and storm alerts"
	agent.Tags = []string{"meteorology"}

	if got := descriptionScore("", agent); !almostEqual(got, 0.5) {
		t.Errorf("empty description = %v, want 0.5", got)
	}
	if got := descriptionScore("weather forecasts", agent); !almostEqual(got, 1.0) {
		t.Errorf("full overlap = %v, want 1.0", got)
	}
	if got := descriptionScore("quantum finance", agent); got != 0 {
		t.Errorf("zero overlap = %v, want 0", got)
	}
	// Overlap denominator caps at 10 request tokens.
	long := "weather forecasts alpha beta gamma delta epsilon zeta theta iota kappa lambda"
	if got := descriptionScore(long, agent); !almostEqual(got, 2.0/10.0) {
		t.Errorf("capped denominator = %v, want 0.2", got)
	}
}

func TestListSimilarity(t *testing.T) {
	if got := listSimilarity(nil, []string{"weather"}); !almostEqual(got, 1.0) {
		t.Errorf("empty search list = %v, want 1.0", got)
	}
	if got := listSimilarity([]string{"weather"}, nil); got != 0 {
		t.Errorf("empty agent list = %v, want 0", got)
	}
	if got := listSimilarity([]string{"weather"}, []string{"weather"}); !almostEqual(got, 1.0) {
		t.Errorf("exact = %v, want 1.0", got)
	}
	// Containment counts as a match.
	if got := listSimilarity([]string{"forecast"}, []string{"weather-forecasting"}); !almostEqual(got, 1.0) {
		t.Errorf("containment = %v, want 1.0", got)
	}
	if got := listSimilarity([]string{"aa", "bb"}, []string{"weather"}); !almostEqual(got, 0.5) {
		t.Errorf("untokenizable search list = %v, want 0.5", got)
	}
}
