// Package mcp adapts the registry to the Model Context Protocol so an LLM
// orchestrator can discover agents, submit feedback, and read health
// reports over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nexora-systems/registry-central/pkg/client"
)

// Server bridges MCP tool calls onto the registry HTTP API.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client

	mu       sync.Mutex
	hasToken bool
	clientID string
}

// NewServer creates a new MCP server instance pointed at apiURL. clientID
// is sent as x-client-id so the bridge keeps a stable consumer identity.
func NewServer(apiURL, clientID string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"registry-central",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL),
		clientID:  clientID,
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// ensureSession lazily acquires a consumer session token, once.
func (s *Server) ensureSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasToken {
		return nil
	}
	_, err := s.apiClient.Token(ctx, "consumer", client.TokenOptions{ClientID: s.clientID})
	if err != nil {
		return fmt.Errorf("failed to acquire consumer session: %w", err)
	}
	s.hasToken = true
	return nil
}

// --- Resources ---

func (s *Server) registerResources() {
	// registry://agents
	s.mcpServer.AddResource(mcp.NewResource(
		"registry://agents",
		"Registered Agents",
		mcp.WithResourceDescription("All registered agents with status and running statistics"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadAgents)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"search_agents",
		mcp.WithDescription("Search the registry for agents matching an intent and categories. Returns ranked agents with short-lived execution keys."),
		mcp.WithString("intent", mcp.Description("Dotted capability string, e.g. 'food.restaurant.search'")),
		mcp.WithString("categories", mcp.Required(), mcp.Description("Comma-separated category list, e.g. 'food,restaurants'")),
		mcp.WithString("location", mcp.Description("Requested location, e.g. 'São Paulo, SP, Brazil'")),
		mcp.WithString("language", mcp.Description("Preferred language tag, e.g. 'pt-BR'")),
		mcp.WithString("description", mcp.Description("Free-text description of the task")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 10)")),
	), s.handleSearchAgents)

	s.mcpServer.AddTool(mcp.NewTool(
		"submit_feedback",
		mcp.WithDescription("Report the outcome of an agent execution back to the registry."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("The agent that was executed")),
		mcp.WithBoolean("success", mcp.Required(), mcp.Description("Whether the execution succeeded")),
		mcp.WithNumber("latency_ms", mcp.Required(), mcp.Description("Observed end-to-end latency in milliseconds")),
		mcp.WithNumber("rating", mcp.Required(), mcp.Description("Quality rating between 0.0 and 1.0")),
	), s.handleSubmitFeedback)

	s.mcpServer.AddTool(mcp.NewTool(
		"agent_health",
		mcp.WithDescription("Fetch the health report for an agent: health score, metrics, warnings, quarantine risk."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("The agent to inspect")),
	), s.handleAgentHealth)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"registry-aware",
		mcp.WithPromptDescription("Provides context about registry concepts (agents, intents, execution keys, feedback)"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadAgents(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	agents, err := s.apiClient.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agents: %w", err)
	}

	data, err := json.MarshalIndent(agents, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agents: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleSearchAgents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.ensureSession(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	query := client.SearchQuery{
		Categories:  splitList(mcp.ParseString(request, "categories", "")),
		Location:    mcp.ParseString(request, "location", ""),
		Language:    mcp.ParseString(request, "language", ""),
		Description: mcp.ParseString(request, "description", ""),
		Limit:       int(mcp.ParseFloat64(request, "limit", 0)),
	}
	if intent := mcp.ParseString(request, "intent", ""); intent != "" {
		query.Intent = []string{intent}
	}

	results, err := s.apiClient.Search(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleSubmitFeedback(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.ensureSession(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	fb := client.Feedback{
		AgentID:   mcp.ParseString(request, "agent_id", ""),
		Success:   mcp.ParseBoolean(request, "success", false),
		LatencyMs: int64(mcp.ParseFloat64(request, "latency_ms", 0)),
		Rating:    mcp.ParseFloat64(request, "rating", 0),
	}
	if err := s.apiClient.SubmitFeedback(ctx, fb); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("feedback rejected: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Feedback recorded for %s", fb.AgentID)), nil
}

func (s *Server) handleAgentHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := mcp.ParseString(request, "agent_id", "")
	report, err := s.apiClient.AgentHealth(ctx, agentID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("health lookup failed: %v", err)), nil
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal report: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "registry-aware" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are interacting with Registry Central, a discovery-and-trust
registry for network service agents.

Concepts:
- Agent: A self-registered HTTP service advertising intents, categories, tags,
  languages, and a geographic scope.
- Intent: A dotted capability string (e.g. 'food.restaurant.search').
- Execution key: A 5-minute bearer credential returned with each search result.
  Present it to the agent's /execute endpoint; it is verified by the provider,
  not the registry.
- Feedback: After executing an agent, report success, latency, and a 0..1
  rating with 'submit_feedback'. Feedback drives ranking and quarantine.

To find an agent, call 'search_agents' with the user's intent and categories.
Prefer higher-scored results. Always submit feedback after execution so the
registry can rank honestly.
`

	return mcp.NewGetPromptResult(
		"registry-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
