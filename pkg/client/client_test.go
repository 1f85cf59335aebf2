package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastClient(endpoint string) *Client {
	c := NewClient(endpoint)
	c.backoff = &ExponentialBackoff{Base: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2.0}
	return c
}

func TestTokenStoresBearer(t *testing.T) {
	var gotClientID, gotSecret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/token" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotClientID = r.Header.Get("x-client-id")
		gotSecret = r.Header.Get("x-provider-secret")
		json.NewEncoder(w).Encode(Session{Token: "abc123", ExpiresIn: "24h", TokenType: "Bearer"})
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	session, err := c.Token(context.Background(), "provider", TokenOptions{ClientID: "me", ProviderSecret: "sek"})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if session.Token != "abc123" || gotClientID != "me" || gotSecret != "sek" {
		t.Errorf("session = %+v, headers %q/%q", session, gotClientID, gotSecret)
	}
	if c.token != "abc123" {
		t.Errorf("client did not remember the token")
	}
}

func TestSearchSendsBearerAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		json.NewEncoder(w).Encode([]SearchResult{{ID: "agent:w:br", Score: 0.61, ExecutionKey: "k"}})
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	c.SetToken("tok")
	results, err := c.Search(context.Background(), SearchQuery{Categories: []string{"weather"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "agent:w:br" {
		t.Errorf("results = %+v", results)
	}
}

func TestErrorBodySurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"more than 60 feedbacks in the last minute"}`))
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	err := c.SubmitFeedback(context.Background(), Feedback{AgentID: "agent:w:br"})
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Status != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want *APIError 429", err)
	}
}

func TestGetRetriesOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(Status{Status: "ok"})
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	status, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if status.Status != "ok" || atomic.LoadInt32(&calls) != 3 {
		t.Errorf("status = %+v after %d calls", status, calls)
	}
}

func TestGetDoesNotRetryClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"agent not found"}`))
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	if _, err := c.AgentHealth(context.Background(), "agent:missing"); err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("404 retried %d times", calls)
	}
}
