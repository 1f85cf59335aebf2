package ranking

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/nexora-systems/registry-central/pkg/auth"
	"github.com/nexora-systems/registry-central/pkg/registryerr"
	"github.com/nexora-systems/registry-central/pkg/store"
)

// fallbackFuzzyLimit is the limit used for the fuzzy-match tier (step 3)
// when the caller's requested limit is unset.
const fallbackFuzzyLimit = 50

// Result counts default to 10 and are clamped to 10.
const (
	defaultLimit = 10
	maxLimit     = 10
)

// SearchStore is the subset of store.Store the search engine depends on.
type SearchStore interface {
	SearchByIntentsCategoriesLanguage(ctx context.Context, intents, categories []string, language string) ([]*store.Agent, error)
	SearchByIntentLanguage(ctx context.Context, intents []string, language string) ([]*store.Agent, error)
	FuzzySearchByIntent(ctx context.Context, intent string, limit int) ([]*store.Agent, error)
	ListAllAgents(ctx context.Context) ([]*store.Agent, error)
	GetAgentStats(ctx context.Context, agentID string) (*store.AgentStats, error)
	AgentFraudCount(ctx context.Context, agentID string) (int, error)
	AgentFeedbackTotal(ctx context.Context, agentID string) (int, error)
	GetCallerByID(ctx context.Context, callerID string) (*store.Caller, error)
}

// KeyMinter mints execution keys for surviving search results.
type KeyMinter interface {
	MintExecutionKey(consumerCallerID, agentID string, providerCaller *store.Caller) (auth.ExecutionKey, error)
}

// Engine runs the candidate-set pipeline and scoring function.
type Engine struct {
	store      SearchStore
	keys       KeyMinter
	production bool
	debug      bool
}

// New builds a search Engine. production gates whether fraud_percentage is
// computed (it is always 0 outside production). debug enables per-agent
// score-breakdown logging via SEARCH_DEBUG.
func New(store SearchStore, keys KeyMinter, production, debug bool) *Engine {
	return &Engine{store: store, keys: keys, production: production, debug: debug}
}

// Result is one ranked, execution-key-bearing search hit.
type Result struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Endpoint      string          `json:"endpoint"`
	Description   string          `json:"description"`
	CallerID      string          `json:"caller_id"`
	Tags          []string        `json:"tags"`
	Intents       []string        `json:"intents"`
	Tasks         []string        `json:"tasks"`
	Categories    []string        `json:"categories"`
	LocationScope string          `json:"location_scope"`
	Score         float64         `json:"score"`
	InputSchema   json.RawMessage `json:"input_schema,omitempty"`
	ExecutionKey  string          `json:"execution_key"`
	KeyExpiresAt  string          `json:"key_expires_at"`
}

// DebugEntry is one row of a SEARCH_DEBUG score breakdown, exported for
// the API layer to log.
type DebugEntry struct {
	AgentID   string
	Breakdown Breakdown
}

// Search runs the full candidate-set pipeline and returns ranked results
// with minted execution keys.
func (e *Engine) Search(ctx context.Context, consumerCallerID string, req Request) ([]Result, []DebugEntry, error) {
	if len(req.Categories) == 0 {
		return nil, nil, registryerr.Validation("categories: at least one required")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	candidates, err := e.candidateSet(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	var scored []struct {
		agent *store.Agent
		score Breakdown
	}
	var debug []DebugEntry

	for _, agent := range candidates {
		if agent.Status == store.StatusBanned {
			continue
		}

		stats, err := e.store.GetAgentStats(ctx, agent.ID)
		if err != nil && err != store.ErrNotFound {
			return nil, nil, registryerr.Wrap(registryerr.KindInternal, "load agent stats", err)
		}
		if err == store.ErrNotFound {
			stats = nil
		}

		fraudPct, err := e.fraudPercentage(ctx, agent.ID)
		if err != nil {
			return nil, nil, err
		}

		breakdown := Score(req, agent, stats, fraudPct)
		if e.debug {
			debug = append(debug, DebugEntry{AgentID: agent.ID, Breakdown: breakdown})
		}

		if breakdown.Final < minScore {
			continue
		}
		if req.Location != "" && breakdown.Geo < minGeoScore && !isGlobal(agent.LocationScope) {
			continue
		}

		scored = append(scored, struct {
			agent *store.Agent
			score Breakdown
		}{agent, breakdown})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score.Final > scored[j].score.Final
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	results := make([]Result, 0, len(scored))
	for _, sc := range scored {
		result, err := e.toResult(ctx, consumerCallerID, sc.agent, sc.score)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, result)
	}
	return results, debug, nil
}

func isGlobal(locationScope string) bool {
	return locationScope == "Global"
}

// candidateSet implements steps 1-4 of the pipeline: filter, fallback,
// fuzzy, and finally fetch-all.
func (e *Engine) candidateSet(ctx context.Context, req Request) ([]*store.Agent, error) {
	agents, err := e.store.SearchByIntentsCategoriesLanguage(ctx, req.Intents, req.Categories, req.Language)
	if err != nil {
		return nil, registryerr.Wrap(registryerr.KindInternal, "search agents", err)
	}
	if len(agents) > 0 {
		return agents, nil
	}

	// The intent-only and fuzzy tiers only make sense when an intent was
	// requested; the fetch-all tier runs either way.
	if len(req.Intents) > 0 {
		agents, err = e.store.SearchByIntentLanguage(ctx, req.Intents, req.Language)
		if err != nil {
			return nil, registryerr.Wrap(registryerr.KindInternal, "search agents by intent", err)
		}
		if len(agents) > 0 {
			return agents, nil
		}

		limit := req.Limit
		if limit <= 0 {
			limit = fallbackFuzzyLimit
		}
		agents, err = e.store.FuzzySearchByIntent(ctx, req.Intents[0], limit)
		if err != nil {
			return nil, registryerr.Wrap(registryerr.KindInternal, "fuzzy search agents", err)
		}
		if len(agents) > 0 {
			return agents, nil
		}
	}

	agents, err = e.store.ListAllAgents(ctx)
	if err != nil {
		return nil, registryerr.Wrap(registryerr.KindInternal, "list all agents", err)
	}
	return agents, nil
}

// fraudPercentage returns 0 outside production mode.
func (e *Engine) fraudPercentage(ctx context.Context, agentID string) (float64, error) {
	if !e.production {
		return 0, nil
	}
	fraudCount, err := e.store.AgentFraudCount(ctx, agentID)
	if err != nil {
		return 0, registryerr.Wrap(registryerr.KindInternal, "count fraud log", err)
	}
	total, err := e.store.AgentFeedbackTotal(ctx, agentID)
	if err != nil {
		return 0, registryerr.Wrap(registryerr.KindInternal, "count feedback", err)
	}
	if total == 0 {
		return 0, nil
	}
	pct := float64(fraudCount) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

func (e *Engine) toResult(ctx context.Context, consumerCallerID string, agent *store.Agent, score Breakdown) (Result, error) {
	var provider *store.Caller
	if p, err := e.store.GetCallerByID(ctx, agent.CallerID); err == nil {
		provider = p
	}

	key, err := e.keys.MintExecutionKey(consumerCallerID, agent.ID, provider)
	if err != nil {
		return Result{}, err
	}

	return Result{
		ID:            agent.ID,
		Name:          agent.Name,
		Endpoint:      agent.Endpoint,
		Description:   agent.Description,
		CallerID:      agent.CallerID,
		Tags:          agent.Tags,
		Intents:       agent.Intents,
		Tasks:         agent.Tasks,
		Categories:    agent.Categories,
		LocationScope: agent.LocationScope,
		Score:         roundTo2(score.Final),
		InputSchema:   agent.InputSchema,
		ExecutionKey:  key.Key,
		KeyExpiresAt:  key.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	}, nil
}

func roundTo2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
