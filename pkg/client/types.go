package client

import (
	"encoding/json"
	"time"
)

// TokenOptions carries the identity headers sent with a token request.
type TokenOptions struct {
	// ClientID is sent as x-client-id so the registry can pin the caller
	// to a stable identity across IPs.
	ClientID string
	// ProviderSecret is required when requesting a provider token; it is
	// the signing secret the registry stores encrypted and uses to mint
	// execution keys on the provider's behalf.
	ProviderSecret string
}

// Session is an issued bearer token.
type Session struct {
	Token     string `json:"token"`
	ExpiresIn string `json:"expires_in"`
	TokenType string `json:"token_type"`
}

// Agent is the registration payload.
type Agent struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Endpoint      string          `json:"endpoint"`
	Description   string          `json:"description"`
	Intents       []string        `json:"intents"`
	Tasks         []string        `json:"tasks,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	Categories    []string        `json:"categories"`
	LocationScope string          `json:"location_scope,omitempty"`
	Languages     []string        `json:"languages"`
	Version       string          `json:"version,omitempty"`
	InputSchema   json.RawMessage `json:"input_schema,omitempty"`
	Meta          json.RawMessage `json:"meta,omitempty"`
}

// SearchQuery selects and ranks agents.
type SearchQuery struct {
	Intent      []string `json:"intent,omitempty"`
	Categories  []string `json:"categories"`
	Tags        []string `json:"tags,omitempty"`
	Location    string   `json:"location,omitempty"`
	Language    string   `json:"language,omitempty"`
	Description string   `json:"description,omitempty"`
	Limit       int      `json:"limit,omitempty"`
}

// SearchResult is one ranked agent with its execution credential.
type SearchResult struct {
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

// Feedback is a post-execution report.
type Feedback struct {
	AgentID   string  `json:"agent_id"`
	Success   bool    `json:"success"`
	LatencyMs int64   `json:"latency_ms"`
	Rating    float64 `json:"rating"`
}

// HealthReport mirrors the registry's per-agent health response.
type HealthReport struct {
	AgentID     string  `json:"agent_id"`
	Status      string  `json:"status"`
	HealthScore float64 `json:"health_score"`
	Metrics     struct {
		SuccessRate          float64 `json:"success_rate"`
		AvgRating            float64 `json:"avg_rating"`
		AvgLatencyMs         float64 `json:"avg_latency_ms"`
		TotalFeedbacks       int64   `json:"total_feedbacks"`
		FraudDetected        int     `json:"fraud_detected"`
		FraudPercentage      float64 `json:"fraud_percentage"`
		SelfRatingPercentage float64 `json:"self_rating_percentage"`
	} `json:"metrics"`
	Warnings         []string   `json:"warnings"`
	QuarantineRisk   string     `json:"quarantine_risk"`
	QuarantineReason string     `json:"quarantine_reason,omitempty"`
	QuarantineAt     *time.Time `json:"quarantine_at,omitempty"`
}

// AgentSummary is one row of the operator agent overview.
type AgentSummary struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Status           string  `json:"status"`
	QuarantineReason string  `json:"quarantine_reason,omitempty"`
	CallsTotal       int64   `json:"calls_total"`
	SuccessRate      float64 `json:"success_rate"`
	AvgRating        float64 `json:"avg_rating"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
}

// Leader reports the current auto-review leader.
type Leader struct {
	HolderID string `json:"holder_id"`
	IsSelf   bool   `json:"is_self"`
	Elected  bool   `json:"elected"`
}

// Status is the liveness response.
type Status struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}
