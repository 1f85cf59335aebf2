package store

import (
	"context"
	"encoding/json"
	"time"
)

// AgentStatus is the lifecycle state of an advertised agent.
type AgentStatus string

const (
	StatusActive     AgentStatus = "active"
	StatusQuarantine AgentStatus = "quarantine"
	StatusBanned     AgentStatus = "banned"
)

// CallerType distinguishes the two identity roles the registry serves.
type CallerType string

const (
	CallerConsumer CallerType = "consumer"
	CallerProvider CallerType = "provider"
)

// FraudType enumerates the anti-abuse signals the feedback pipeline logs.
type FraudType string

const (
	FraudSelfRating          FraudType = "SELF_RATING"
	FraudSpam                FraudType = "SPAM"
	FraudRatingPattern       FraudType = "RATING_PATTERN"
	FraudLatencyInconsistent FraudType = "LATENCY_INCONSISTENT"
)

// FraudSeverity ranks how serious a fraud-detection entry is.
type FraudSeverity string

const (
	SeverityLow      FraudSeverity = "LOW"
	SeverityMedium   FraudSeverity = "MEDIUM"
	SeverityHigh     FraudSeverity = "HIGH"
	SeverityCritical FraudSeverity = "CRITICAL"
)

// Agent is the advertised service record.
type Agent struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Endpoint         string          `json:"endpoint"`
	Description      string          `json:"description"`
	Intents          []string        `json:"intents"`
	Tasks            []string        `json:"tasks"`
	Tags             []string        `json:"tags"`
	Categories       []string        `json:"categories"`
	LocationScope    string          `json:"location_scope"`
	Languages        []string        `json:"languages"`
	Version          string          `json:"version"`
	InputSchema      json.RawMessage `json:"input_schema,omitempty"`
	Meta             json.RawMessage `json:"meta,omitempty"`
	CallerID         string          `json:"caller_id"`
	Status           AgentStatus     `json:"status"`
	QuarantineReason string          `json:"quarantine_reason,omitempty"`
	QuarantineAt     *time.Time      `json:"quarantine_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// AgentStats holds the running counters/means the feedback pipeline
// maintains. One row per agent, created empty at registration, and never
// reset.
type AgentStats struct {
	AgentID        string    `json:"agent_id"`
	CallsTotal     int64     `json:"calls_total"`
	CallsSuccess   int64     `json:"calls_success"`
	AvgLatencyMs   float64   `json:"avg_latency_ms"`
	AvgRating      float64   `json:"avg_rating"`
	LastFeedbackAt time.Time `json:"last_feedback_at"`
}

// SuccessRate returns calls_success/calls_total, 0 if no calls recorded.
func (s AgentStats) SuccessRate() float64 {
	if s.CallsTotal == 0 {
		return 0
	}
	return float64(s.CallsSuccess) / float64(s.CallsTotal)
}

// Caller is a consumer or provider identity.
type Caller struct {
	CallerID       string     `json:"caller_id"`
	Type           CallerType `json:"type"`
	Identifier     string     `json:"identifier"`
	JWTToken       string     `json:"-"` // consumer: hash of last issued token; provider: encrypted secret
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Feedback is an immutable event posted by a consumer after execution.
type Feedback struct {
	ID         int64     `json:"id"`
	AgentID    string    `json:"agent_id"`
	ConsumerID string    `json:"consumer_id"`
	Success    bool      `json:"success"`
	LatencyMs  int64     `json:"latency_ms"`
	Rating     float64   `json:"rating"`
	CreatedAt  time.Time `json:"created_at"`
}

// FraudDetection is an immutable anti-abuse log entry, retained 30 days.
type FraudDetection struct {
	ID         int64           `json:"id"`
	AgentID    string          `json:"agent_id"`
	ConsumerID string          `json:"consumer_id,omitempty"`
	FraudType  FraudType       `json:"fraud_type"`
	Severity   FraudSeverity   `json:"severity"`
	Details    json.RawMessage `json:"details,omitempty"`
	DetectedAt time.Time       `json:"detected_at"`
}

// FraudLogFilter selects fraud-detection rows for a report export.
type FraudLogFilter struct {
	AgentID string
	From    time.Time
	To      time.Time
}

// FeedbackLogFilter selects feedback rows for a report export.
type FeedbackLogFilter struct {
	AgentID string
	From    time.Time
	To      time.Time
}

// Lease represents a distributed lock or leadership claim, used by the
// quarantine control loop's leader election so the daily sweep runs on
// exactly one node.
type Lease struct {
	Name      string    `json:"name"`
	HolderID  string    `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LeaseStore defines the interface for acquiring and renewing leases.
type LeaseStore interface {
	// Acquire tries to acquire the lease. Returns true if successful.
	// If the lease is already held by holderID, it renews it.
	Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error)

	// Renew updates the expiry of an existing lease held by holderID.
	// Returns error if the lease is lost or stolen.
	Renew(ctx context.Context, name, holderID string, ttl time.Duration) error

	// Release releases the lease if held by holderID.
	Release(ctx context.Context, name, holderID string) error

	// Get returns the current lease state.
	Get(ctx context.Context, name string) (*Lease, error)
}
