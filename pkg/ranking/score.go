// Package ranking implements the agent search engine: the candidate-set
// pipeline and the nine-factor weighted scoring function.
package ranking

import (
	"strings"

	"github.com/nexora-systems/registry-central/pkg/store"
)

// Factor weights. They sum to 1.02 by design; do not renormalize --
// pinned score expectations downstream assume the stated weights.
const (
	weightIntent      = 0.25
	weightGeo         = 0.20
	weightSuccess     = 0.14
	weightDescription = 0.10
	weightCategory    = 0.10
	weightRating      = 0.09
	weightTag         = 0.07
	weightLatency     = 0.03
	weightFraud       = 0.04

	quarantinePenalty = 0.3
	minScore          = 0.4
	minGeoScore       = 0.3
)

// Request is a consumer search request.
type Request struct {
	Intents     []string
	Categories  []string
	Tags        []string
	Location    string
	Language    string
	Description string
	Limit       int
}

// Breakdown holds the per-factor scores behind a final result, surfaced via
// SEARCH_DEBUG logging.
type Breakdown struct {
	Intent      float64
	Geo         float64
	Success     float64
	Description float64
	Category    float64
	Rating      float64
	Tag         float64
	Latency     float64
	Fraud       float64
	Raw         float64 // weighted sum before any quarantine penalty
	Final       float64 // after quarantine penalty and clamping
}

// Score computes the weighted score for agent given req, its stats (nil if
// none recorded), and its fraud percentage (0 unless production mode).
func Score(req Request, agent *store.Agent, stats *store.AgentStats, fraudPercentage float64) Breakdown {
	b := Breakdown{
		Intent:      intentScore(req.Intents, agent.Intents),
		Geo:         geoScore(req.Location, agent.LocationScope),
		Success:     successScore(stats),
		Description: descriptionScore(req.Description, agent),
		Category:    listSimilarity(req.Categories, agent.Categories),
		Rating:      ratingScore(stats),
		Tag:         listSimilarity(req.Tags, agent.Tags),
		Latency:     latencyScore(stats),
		Fraud:       1 - fraudPercentage/100,
	}

	b.Raw = b.Intent*weightIntent +
		b.Geo*weightGeo +
		b.Success*weightSuccess +
		b.Description*weightDescription +
		b.Category*weightCategory +
		b.Rating*weightRating +
		b.Tag*weightTag +
		b.Latency*weightLatency +
		b.Fraud*weightFraud

	b.Final = b.Raw
	if agent.Status == store.StatusQuarantine {
		b.Final -= quarantinePenalty
	}
	if b.Final < 0 {
		b.Final = 0
	}
	return b
}

// intentScore is the best, over every requested intent, of
// max(hierarchical, 0.85*trigram) against the agent's intents. If no intent
// was requested, the factor defaults to a neutral 0.5.
func intentScore(searchIntents, agentIntents []string) float64 {
	if len(searchIntents) == 0 {
		return 0.5
	}
	best := 0.0
	for _, si := range searchIntents {
		h := intentHierarchicalScore(si, agentIntents)
		tg := intentTrigramScore(si, agentIntents)
		candidate := h
		if bonus := 0.85 * tg; bonus > candidate {
			candidate = bonus
		}
		if candidate > best {
			best = candidate
		}
	}
	return best
}

// intentHierarchicalScore tokenizes by "." and takes the maximum, over
// agent intents, of: exact match 1.0, shared first two tokens 0.6, shared
// first token 0.3, else 0.0.
func intentHierarchicalScore(searchIntent string, agentIntents []string) float64 {
	searchTokens := tokenizeDotted(strings.ToLower(searchIntent))
	best := 0.0
	for _, ai := range agentIntents {
		agentTokens := tokenizeDotted(strings.ToLower(ai))
		score := hierarchicalPair(searchTokens, agentTokens)
		if score > best {
			best = score
		}
	}
	return best
}

func hierarchicalPair(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if strings.Join(a, ".") == strings.Join(b, ".") {
		return 1.0
	}
	if len(a) >= 2 && len(b) >= 2 && a[0] == b[0] && a[1] == b[1] {
		return 0.6
	}
	if a[0] == b[0] {
		return 0.3
	}
	return 0
}

// intentTrigramScore computes, for the best agent intent, the Jaccard
// similarity of word tokens plus a capped character-trigram bonus.
func intentTrigramScore(searchIntent string, agentIntents []string) float64 {
	searchTokens := tokenizeIntentWords(searchIntent)
	searchSet := toSet(searchTokens)

	best := 0.0
	for _, ai := range agentIntents {
		agentTokens := tokenizeIntentWords(ai)
		agentSet := toSet(agentTokens)

		score := jaccard(searchSet, agentSet)
		score += 0.3 * bestCharTrigramSimilarity(searchTokens, agentTokens)
		if score > 1.0 {
			score = 1.0
		}
		if score > best {
			best = score
		}
	}
	return best
}

// bestCharTrigramSimilarity returns the best pairwise character-trigram
// Jaccard similarity between a distinct search token and a distinct agent
// token.
func bestCharTrigramSimilarity(searchTokens, agentTokens []string) float64 {
	best := 0.0
	for _, st := range searchTokens {
		stTri := charTrigrams(st)
		for _, at := range agentTokens {
			if st == at {
				continue
			}
			sim := jaccard(stTri, charTrigrams(at))
			if sim > best {
				best = sim
			}
		}
	}
	return best
}

// descriptionScore: 0.5 if no request description; else min(1, overlap /
// min(requestTokenCount, 10)), 0 if overlap is 0.
func descriptionScore(requestDescription string, agent *store.Agent) float64 {
	if strings.TrimSpace(requestDescription) == "" {
		return 0.5
	}
	searchTokens := tokenizeText(requestDescription)
	if len(searchTokens) == 0 {
		return 0.5
	}

	agentTokens := tokenizeText(agent.Description)
	agentTokens = append(agentTokens, flattenTokenize(agent.Tags)...)
	agentTokens = append(agentTokens, flattenTokenize(agent.Categories)...)
	agentSet := toSet(agentTokens)

	overlap := 0
	for _, t := range searchTokens {
		if _, ok := agentSet[t]; ok {
			overlap++
		}
	}
	if overlap == 0 {
		return 0
	}
	denom := len(searchTokens)
	if denom > 10 {
		denom = 10
	}
	score := float64(overlap) / float64(denom)
	if score > 1 {
		score = 1
	}
	return score
}

func flattenTokenize(items []string) []string {
	var out []string
	for _, it := range items {
		out = append(out, tokenizeText(it)...)
	}
	return out
}

// listSimilarity is used for both the category and tag factors: 1.0 if
// searchList is empty, 0.0 if agentList is empty (and searchList is not),
// else matches/|search tokens| where a search token matches if any agent
// token equals, contains, or is contained by it. If tokenizing searchList
// yields no tokens, defaults to 0.5.
func listSimilarity(searchList, agentList []string) float64 {
	if len(searchList) == 0 {
		return 1.0
	}
	if len(agentList) == 0 {
		return 0.0
	}

	searchTokens := flattenTokenize(searchList)
	agentTokens := flattenTokenize(agentList)
	if len(searchTokens) == 0 {
		return 0.5
	}

	matches := 0
	for _, st := range searchTokens {
		for _, at := range agentTokens {
			if st == at || strings.Contains(st, at) || strings.Contains(at, st) {
				matches++
				break
			}
		}
	}
	return float64(matches) / float64(len(searchTokens))
}

// geoScore scores the location match. An absent request location always
// falls through to the neutral 0.5, even for a Global agent; a Global agent
// scores 0.3 against any concrete requested location.
func geoScore(requestedLocation, agentLocationScope string) float64 {
	agentLocationScope = strings.TrimSpace(agentLocationScope)
	requestedLocation = strings.TrimSpace(requestedLocation)

	if requestedLocation == "" {
		return 0.5
	}
	if agentLocationScope == "" {
		return 0.5
	}
	if strings.EqualFold(agentLocationScope, "Global") {
		return 0.3
	}

	agentParts := splitLocation(agentLocationScope)
	searchParts := splitLocation(requestedLocation)

	best := 0.2
	for _, variant := range searchParts {
		if score := matchLocationParts(variant, agentParts); score > best {
			best = score
		}
	}
	return best
}

// splitLocation splits on "," or "/", lowercases and trims each part.
func splitLocation(loc string) []string {
	loc = strings.ReplaceAll(loc, "/", ",")
	raw := strings.Split(loc, ",")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// matchLocationParts scores a single requested location token against the
// agent's [city, state?, ..., country] parts: city match -> 1.0, state
// match (equal or containment) -> 0.6, country match (equal or containment)
// -> 0.3, else 0.
func matchLocationParts(searchPart string, agentParts []string) float64 {
	if len(agentParts) == 0 {
		return 0
	}
	city := agentParts[0]
	country := agentParts[len(agentParts)-1]
	states := agentParts[1 : len(agentParts)-1]
	if len(agentParts) == 1 {
		states = nil
		country = agentParts[0]
	}

	if searchPart == city {
		return 1.0
	}
	for _, st := range states {
		if containsEither(searchPart, st) {
			return 0.6
		}
	}
	if containsEither(searchPart, country) {
		return 0.3
	}
	return 0
}

func containsEither(a, b string) bool {
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

// successScore is calls_success/calls_total, 0 with no stats or no calls.
func successScore(stats *store.AgentStats) float64 {
	if stats == nil || stats.CallsTotal == 0 {
		return 0
	}
	return float64(stats.CallsSuccess) / float64(stats.CallsTotal)
}

// ratingScore is the agent's running avg_rating; 0 with no stats or no
// calls recorded yet.
func ratingScore(stats *store.AgentStats) float64 {
	if stats == nil || stats.CallsTotal == 0 {
		return 0
	}
	return stats.AvgRating
}

// latencyScore buckets avg_latency_ms: <=500ms -> 1.0, <=1500ms -> 0.7,
// <=3000ms -> 0.4, else 0.2; 0 with no stats or no calls recorded yet.
func latencyScore(stats *store.AgentStats) float64 {
	if stats == nil || stats.CallsTotal == 0 {
		return 0
	}
	switch {
	case stats.AvgLatencyMs <= 500:
		return 1.0
	case stats.AvgLatencyMs <= 1500:
		return 0.7
	case stats.AvgLatencyMs <= 3000:
		return 0.4
	default:
		return 0.2
	}
}
