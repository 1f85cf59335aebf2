package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nexora-systems/registry-central/pkg/auth"
	"github.com/nexora-systems/registry-central/pkg/metrics"
	"github.com/nexora-systems/registry-central/pkg/registryerr"
	"github.com/nexora-systems/registry-central/pkg/store"
)

// Context keys
type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	claimsKey  contextKey = "claims"
	bearerKey  contextKey = "bearer"
)

// withAuth extracts and verifies the Bearer session token and enforces the
// allowed caller type. Missing token -> 401, bad token -> 403, wrong role
// -> 403. The verified claims and the raw bearer are stashed on the request
// context for the handler.
func (s *Server) withAuth(allowed store.CallerType, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, r, registryerr.New(registryerr.KindAuthRequired, "missing bearer token"))
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, r, registryerr.New(registryerr.KindAuthRequired, "malformed Authorization header"))
			return
		}

		claims, err := s.identity.Verify(token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if claims.Type != allowed {
			writeError(w, r, registryerr.New(registryerr.KindForbidden,
				fmt.Sprintf("operation requires a %s token", allowed)))
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		ctx = context.WithValue(ctx, bearerKey, token)
		next(w, r.WithContext(ctx))
	}
}

func claimsFrom(ctx context.Context) auth.Claims {
	if c, ok := ctx.Value(claimsKey).(auth.Claims); ok {
		return c
	}
	return auth.Claims{}
}

func bearerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(bearerKey).(string); ok {
		return t
	}
	return ""
}

// withTimeout bounds every request with the configured deadline; database
// calls inherit it through the request context and a fired deadline
// surfaces as a 504.
func (s *Server) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Middleware: Panic Recovery
func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				fmt.Printf(`{"level":"error","msg":"panic_recovered","error":"%v","path":"%s"}`+"\n", err, r.URL.Path)
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Middleware: Request Logging
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = generateTraceID()
		}
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		r = r.WithContext(ctx)

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(ww.status)).Inc()
		fmt.Printf(`{"level":"info","msg":"http_request","trace_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`+"\n",
			traceID, r.Method, r.URL.Path, ww.status, duration.Milliseconds())
	})
}

// Middleware: Secure Headers
func withSecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func generateTraceID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func getTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// statusWriter captures the HTTP status code for logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
