// Package api is the registry's HTTP surface: it maps inbound requests to
// the identity, registration, search, feedback, and quarantine components,
// applying bearer authentication and role checks.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexora-systems/registry-central/pkg/auth"
	"github.com/nexora-systems/registry-central/pkg/feedback"
	"github.com/nexora-systems/registry-central/pkg/metrics"
	"github.com/nexora-systems/registry-central/pkg/quarantine"
	"github.com/nexora-systems/registry-central/pkg/ranking"
	"github.com/nexora-systems/registry-central/pkg/registration"
	"github.com/nexora-systems/registry-central/pkg/registryerr"
	"github.com/nexora-systems/registry-central/pkg/reports"
	"github.com/nexora-systems/registry-central/pkg/store"
)

// Interfaces for dependencies to enable mocking

type IdentityService interface {
	ResolveCaller(ctx context.Context, callerType store.CallerType, identifier string) (*store.Caller, error)
	IssueSessionToken(ctx context.Context, caller *store.Caller, providerSecret string) (string, time.Time, error)
	Verify(rawToken string) (auth.Claims, error)
}

type Registrar interface {
	Register(ctx context.Context, providerCallerID string, req registration.Request) (string, error)
}

type Searcher interface {
	Search(ctx context.Context, consumerCallerID string, req ranking.Request) ([]ranking.Result, []ranking.DebugEntry, error)
}

type FeedbackPipeline interface {
	Submit(ctx context.Context, consumerID string, req feedback.Request) error
}

type HealthReporter interface {
	Health(ctx context.Context, agentID string) (*quarantine.Report, error)
}

type AgentLister interface {
	ListAllAgents(ctx context.Context) ([]*store.Agent, error)
	GetAgentStats(ctx context.Context, agentID string) (*store.AgentStats, error)
}

type ElectionManagerInterface interface {
	IsLeader() bool
	GetLeader(ctx context.Context) (string, bool, error)
}

// Config carries the server's knobs.
type Config struct {
	Addr           string
	TrustProxy     bool
	RequestTimeout time.Duration
}

// Server encapsulates the HTTP API server.
type Server struct {
	identity IdentityService
	register Registrar
	search   Searcher
	feedback FeedbackPipeline
	health   HealthReporter
	agents   AgentLister
	reports  reports.Store
	election ElectionManagerInterface

	trustProxy     bool
	requestTimeout time.Duration
	server         *http.Server
}

// NewServer wires the registry components behind the HTTP routes.
func NewServer(cfg Config, identity IdentityService, registrar Registrar, searcher Searcher, fb FeedbackPipeline, health HealthReporter, agents AgentLister, reportStore reports.Store) *Server {
	s := &Server{
		identity:       identity,
		register:       registrar,
		search:         searcher,
		feedback:       fb,
		health:         health,
		agents:         agents,
		reports:        reportStore,
		trustProxy:     cfg.TrustProxy,
		requestTimeout: cfg.RequestTimeout,
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = 10 * time.Second
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleLiveness)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/auth/token", s.handleToken)
	mux.HandleFunc("/register", s.withAuth(store.CallerProvider, s.handleRegister))
	mux.HandleFunc("/search", s.withAuth(store.CallerConsumer, s.handleSearch))
	mux.HandleFunc("/feedback", s.withAuth(store.CallerConsumer, s.handleFeedback))
	mux.HandleFunc("/agents/", s.handleAgentHealth)
	mux.HandleFunc("/reports", s.handleReports)
	mux.HandleFunc("/v1/agents", s.handleAgentList)
	mux.HandleFunc("/v1/cluster/leader", s.handleClusterLeader)

	handler := withLogging(withRecovery(withSecureHeaders(s.withTimeout(mux))))

	addr := cfg.Addr
	if addr == "" {
		addr = ":3000"
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	return s
}

// SetElectionManager wires the leader election manager, reported at
// /v1/cluster/leader.
func (s *Server) SetElectionManager(em ElectionManagerInterface) {
	s.election = em
}

// Start runs the HTTP server (blocking).
func (s *Server) Start() error {
	fmt.Printf(`{"level":"info","msg":"server_starting","addr":"%s"}`+"\n", s.server.Addr)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	fmt.Println(`{"level":"info","msg":"server_stopping"}`)
	return s.server.Shutdown(ctx)
}

// handleToken issues a session token. No bearer auth: the caller's identity
// is derived from headers alone.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, registryerr.New(registryerr.KindValidation, "invalid JSON body"))
		return
	}

	callerType := store.CallerType(req.Type)
	if callerType != store.CallerConsumer && callerType != store.CallerProvider {
		writeError(w, r, registryerr.New(registryerr.KindValidation, `type must be "consumer" or "provider"`))
		return
	}

	identity := auth.RequestIdentity{
		ClientID: r.Header.Get("x-client-id"),
		ClientIP: s.clientIP(r),
	}
	caller, err := s.identity.ResolveCaller(r.Context(), callerType, identity.Identifier())
	if err != nil {
		writeError(w, r, err)
		return
	}

	providerSecret := r.Header.Get("x-provider-secret")
	token, _, err := s.identity.IssueSessionToken(r.Context(), caller, providerSecret)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresIn: "24h",
		TokenType: "Bearer",
	})
}

// clientIP resolves the peer address, honouring X-Forwarded-For only when
// the deployment fronts the registry with a trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	forwarded := ""
	if s.trustProxy {
		forwarded = r.Header.Get("x-forwarded-for")
	}
	return auth.ResolveClientIP(forwarded, r.RemoteAddr)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, registryerr.New(registryerr.KindValidation, "invalid JSON body"))
		return
	}

	claims := claimsFrom(r.Context())
	id, err := s.register.Register(r.Context(), claims.CallerID, req.toRegistration())
	if err != nil {
		writeError(w, r, err)
		return
	}

	fmt.Printf(`{"level":"info","msg":"agent_registered","trace_id":"%s","agent_id":"%s","caller_id":"%s"}`+"\n",
		getTraceID(r.Context()), id, claims.CallerID)
	writeJSON(w, http.StatusOK, RegisterResponse{ID: id, JWTToken: bearerFrom(r.Context())})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, registryerr.New(registryerr.KindValidation, "invalid JSON body"))
		return
	}

	claims := claimsFrom(r.Context())
	start := time.Now()
	results, debug, err := s.search.Search(r.Context(), claims.CallerID, req.toRanking())
	if err != nil {
		writeError(w, r, err)
		return
	}
	metrics.SearchDurationSeconds.Observe(time.Since(start).Seconds())
	metrics.SearchResults.Observe(float64(len(results)))

	for _, d := range debug {
		b := d.Breakdown
		fmt.Printf(`{"level":"debug","msg":"search_score","trace_id":"%s","agent_id":"%s","intent":%.3f,"geo":%.3f,"success":%.3f,"description":%.3f,"category":%.3f,"rating":%.3f,"tag":%.3f,"latency":%.3f,"fraud":%.3f,"final":%.3f}`+"\n",
			getTraceID(r.Context()), d.AgentID, b.Intent, b.Geo, b.Success, b.Description, b.Category, b.Rating, b.Tag, b.Latency, b.Fraud, b.Final)
	}

	if results == nil {
		results = []ranking.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req feedback.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, registryerr.New(registryerr.KindValidation, "invalid JSON body"))
		return
	}

	claims := claimsFrom(r.Context())
	if err := s.feedback.Submit(r.Context(), claims.CallerID, req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FeedbackResponse{Success: true})
}

// handleAgentHealth serves GET /agents/{id}/health, public.
func (s *Server) handleAgentHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/agents/")
	agentID, ok := strings.CutSuffix(rest, "/health")
	if !ok || agentID == "" || strings.Contains(agentID, "/") {
		http.NotFound(w, r)
		return
	}

	report, err := s.health.Health(r.Context(), agentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleAgentList serves the operator agent overview consumed by the
// admin console.
func (s *Server) handleAgentList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	agents, err := s.agents.ListAllAgents(r.Context())
	if err != nil {
		writeError(w, r, registryerr.Wrap(registryerr.KindInternal, "list agents", err))
		return
	}

	out := make([]AgentSummary, 0, len(agents))
	for _, a := range agents {
		summary := AgentSummary{
			ID:               a.ID,
			Name:             a.Name,
			Status:           string(a.Status),
			QuarantineReason: a.QuarantineReason,
		}
		if stats, err := s.agents.GetAgentStats(r.Context(), a.ID); err == nil {
			summary.CallsTotal = stats.CallsTotal
			summary.SuccessRate = stats.SuccessRate()
			summary.AvgRating = stats.AvgRating
			summary.AvgLatencyMs = stats.AvgLatencyMs
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleReports streams a CSV export of the feedback or fraud-detection
// log.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	reportType := reports.ReportType(q.Get("type"))
	if reportType == "" {
		writeError(w, r, registryerr.New(registryerr.KindValidation, "missing report type"))
		return
	}

	to := time.Now()
	if toStr := q.Get("to"); toStr != "" {
		var err error
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeError(w, r, registryerr.New(registryerr.KindValidation, "to must be RFC3339"))
			return
		}
	}
	from := to.Add(-24 * time.Hour)
	if fromStr := q.Get("from"); fromStr != "" {
		var err error
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeError(w, r, registryerr.New(registryerr.KindValidation, "from must be RFC3339"))
			return
		}
	}

	gen, err := reports.NewGenerator(reportType, s.reports)
	if err != nil {
		writeError(w, r, registryerr.New(registryerr.KindValidation, err.Error()))
		return
	}

	reader, err := gen.Generate(r.Context(), reports.Params{
		From:    from,
		To:      to,
		AgentID: q.Get("agent_id"),
	})
	if err != nil {
		writeError(w, r, registryerr.Wrap(registryerr.KindInternal, "generate report", err))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=report_%s_%d.csv", reportType, time.Now().Unix()))
	if _, err := io.Copy(w, reader); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_stream_report","trace_id":"%s","error":"%v"}`+"\n",
			getTraceID(r.Context()), err)
	}
}

// handleClusterLeader reports who currently runs the auto-review sweep.
func (s *Server) handleClusterLeader(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if s.election == nil {
		writeJSON(w, http.StatusOK, LeaderResponse{HolderID: "self", IsSelf: true, Elected: true})
		return
	}
	holder, ok, err := s.election.GetLeader(r.Context())
	if err != nil {
		writeError(w, r, registryerr.Wrap(registryerr.KindInternal, "get leader", err))
		return
	}
	writeJSON(w, http.StatusOK, LeaderResponse{HolderID: holder, IsSelf: s.election.IsLeader(), Elected: ok})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	w.Write([]byte(`{"error":"method not allowed"}`))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_encode_response","error":"%v"}`+"\n", err)
	}
}

// writeError maps any error onto the uniform {error} body. Infrastructural
// failures are logged with request context and surfaced generically; a
// request whose deadline fired is logged as TIMEOUT and maps to a 504.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		fmt.Printf(`{"level":"error","msg":"request_failed","trace_id":"%s","path":"%s","kind":"%s","error":"%v"}`+"\n",
			getTraceID(r.Context()), r.URL.Path, registryerr.KindTimeout, err)
		writeJSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: "request timed out"})
		return
	}

	re, ok := registryerr.As(err)
	if !ok {
		re = registryerr.Internal(err)
	}
	if re.Kind == registryerr.KindInternal || re.Kind == registryerr.KindTimeout {
		fmt.Printf(`{"level":"error","msg":"request_failed","trace_id":"%s","path":"%s","kind":"%s","error":"%v"}`+"\n",
			getTraceID(r.Context()), r.URL.Path, re.Kind, err)
	}

	body := ErrorResponse{Error: re.Message, Fields: re.Fields}
	if re.Kind == registryerr.KindInternal {
		body.Error = "internal error"
	}
	writeJSON(w, re.Status(), body)
}
