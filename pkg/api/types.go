package api

import (
	"encoding/json"
	"fmt"

	"github.com/nexora-systems/registry-central/pkg/ranking"
	"github.com/nexora-systems/registry-central/pkg/registration"
)

// TokenRequest is the body of POST /auth/token. The caller's identity is
// derived from headers, not the body.
type TokenRequest struct {
	Type string `json:"type"` // "consumer" or "provider"
}

// TokenResponse carries a freshly issued session token.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn string `json:"expires_in"`
	TokenType string `json:"token_type"`
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Endpoint      string          `json:"endpoint"`
	Description   string          `json:"description"`
	Intents       []string        `json:"intents"`
	Tasks         []string        `json:"tasks"`
	Tags          []string        `json:"tags"`
	Categories    []string        `json:"categories"`
	LocationScope string          `json:"location_scope"`
	Languages     []string        `json:"languages"`
	Version       string          `json:"version"`
	InputSchema   json.RawMessage `json:"input_schema,omitempty"`
	Meta          json.RawMessage `json:"meta,omitempty"`
}

func (r RegisterRequest) toRegistration() registration.Request {
	return registration.Request{
		ID:            r.ID,
		Name:          r.Name,
		Endpoint:      r.Endpoint,
		Description:   r.Description,
		Intents:       r.Intents,
		Tasks:         r.Tasks,
		Tags:          r.Tags,
		Categories:    r.Categories,
		LocationScope: r.LocationScope,
		Languages:     r.Languages,
		Version:       r.Version,
		InputSchema:   r.InputSchema,
		Meta:          r.Meta,
	}
}

// RegisterResponse echoes the agent id and the provider's current bearer so
// the provider can store it for auditing.
type RegisterResponse struct {
	ID       string `json:"id"`
	JWTToken string `json:"jwt_token"`
}

// SearchRequest is the body of POST /search. Intent accepts either a single
// string or an array of strings.
type SearchRequest struct {
	Intent      IntentList `json:"intent,omitempty"`
	Categories  []string   `json:"categories"`
	Tags        []string   `json:"tags,omitempty"`
	Location    string     `json:"location,omitempty"`
	Language    string     `json:"language,omitempty"`
	Description string     `json:"description,omitempty"`
	Limit       int        `json:"limit,omitempty"`
}

func (r SearchRequest) toRanking() ranking.Request {
	return ranking.Request{
		Intents:     r.Intent,
		Categories:  r.Categories,
		Tags:        r.Tags,
		Location:    r.Location,
		Language:    r.Language,
		Description: r.Description,
		Limit:       r.Limit,
	}
}

// IntentList unmarshals from either "a.b.c" or ["a.b.c", "d.e.f"].
type IntentList []string

func (l *IntentList) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		if single == "" {
			*l = nil
		} else {
			*l = IntentList{single}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("intent must be a string or an array of strings: %w", err)
	}
	*l = IntentList(many)
	return nil
}

// FeedbackResponse is the body of a successful POST /feedback.
type FeedbackResponse struct {
	Success bool `json:"success"`
}

// LivenessResponse is the body of GET /health.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// LeaderResponse reports the current auto-review leader for operators.
type LeaderResponse struct {
	HolderID string `json:"holder_id"`
	IsSelf   bool   `json:"is_self"`
	Elected  bool   `json:"elected"`
}

// AgentSummary is one row of the operator agent listing.
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

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}
