// Package client is a small Go client for the registry HTTP API, used by
// the admin console and the MCP bridge.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client talks to a registry instance.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	backoff  BackoffStrategy
	retries  int
}

// NewClient creates a registry client. endpoint defaults to
// "http://127.0.0.1:3000" if empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:3000"
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		backoff: DefaultBackoff(),
		retries: 3,
	}
}

// SetToken sets the bearer session token sent on authenticated calls.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token requests a session token for callerType ("consumer" or
// "provider") and remembers it for subsequent calls.
func (c *Client) Token(ctx context.Context, callerType string, opts TokenOptions) (Session, error) {
	body, _ := json.Marshal(map[string]string{"type": callerType})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.ClientID != "" {
		req.Header.Set("x-client-id", opts.ClientID)
	}
	if opts.ProviderSecret != "" {
		req.Header.Set("x-provider-secret", opts.ProviderSecret)
	}

	var session Session
	if err := c.do(req, &session); err != nil {
		return Session{}, err
	}
	c.token = session.Token
	return session, nil
}

// Register registers (or overwrites) an agent under the provider session.
func (c *Client) Register(ctx context.Context, agent Agent) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.postJSON(ctx, "/register", agent, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Search ranks agents for query under the consumer session.
func (c *Client) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	var results []SearchResult
	if err := c.postJSON(ctx, "/search", query, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// SubmitFeedback posts a post-execution report under the consumer session.
func (c *Client) SubmitFeedback(ctx context.Context, fb Feedback) error {
	var resp struct {
		Success bool `json:"success"`
	}
	return c.postJSON(ctx, "/feedback", fb, &resp)
}

// AgentHealth fetches the public health report for agentID.
func (c *Client) AgentHealth(ctx context.Context, agentID string) (HealthReport, error) {
	var report HealthReport
	path := "/agents/" + url.PathEscape(agentID) + "/health"
	if err := c.getJSON(ctx, path, &report); err != nil {
		return HealthReport{}, err
	}
	return report, nil
}

// ListAgents fetches the operator agent overview.
func (c *Client) ListAgents(ctx context.Context) ([]AgentSummary, error) {
	var agents []AgentSummary
	if err := c.getJSON(ctx, "/v1/agents", &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// ClusterLeader reports which node currently runs the auto-review sweep.
func (c *Client) ClusterLeader(ctx context.Context) (Leader, error) {
	var leader Leader
	if err := c.getJSON(ctx, "/v1/cluster/leader", &leader); err != nil {
		return Leader{}, err
	}
	return leader, nil
}

// Ping checks registry liveness.
func (c *Client) Ping(ctx context.Context) (Status, error) {
	var status Status
	if err := c.getJSON(ctx, "/health", &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// getJSON performs a GET with retries: reads are idempotent, so transient
// failures back off and try again.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff.Next(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
		if err != nil {
			return err
		}
		lastErr = c.do(req, out)
		if lastErr == nil {
			return nil
		}
		// Client-side errors won't improve on retry.
		if apiErr, ok := lastErr.(*APIError); ok && apiErr.Status < 500 {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &APIError{Status: resp.StatusCode, Message: body.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// APIError is a non-2xx registry response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("registry error: status %d", e.Status)
	}
	return fmt.Sprintf("registry error: %s (status %d)", e.Message, e.Status)
}
