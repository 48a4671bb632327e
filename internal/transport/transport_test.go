package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/meshguard-go/internal/domain"
	"github.com/xela07ax/meshguard-go/internal/infra"
)

func TestSendSetsAgentHeaders(t *testing.T) {
	var got http.Header
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(Options{BaseURL: srv.URL + "/", AgentToken: "agent-123", TraceID: "trace-1"})
	resp, err := tr.Send(context.Background(), &Request{Method: http.MethodPost, Path: infra.PathCheck, Body: []byte(`{"action":"read:contacts"}`)})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if got.Get(infra.HeaderAuthorization) != "Bearer agent-123" {
		t.Errorf("unexpected authorization %q", got.Get(infra.HeaderAuthorization))
	}
	if got.Get(infra.HeaderTraceID) != "trace-1" {
		t.Errorf("unexpected trace id %q", got.Get(infra.HeaderTraceID))
	}
	if got.Get("Content-Type") != "application/json" {
		t.Errorf("unexpected content type %q", got.Get("Content-Type"))
	}
	if got.Get(infra.HeaderAdminToken) != "" {
		t.Error("agent call must not carry the admin token")
	}
	if gotBody != `{"action":"read:contacts"}` {
		t.Errorf("unexpected body %q", gotBody)
	}
	if tr.BaseURL() != srv.URL {
		t.Errorf("expected trailing slash stripped, got %q", tr.BaseURL())
	}
}

func TestSendAdminHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	tr := NewHTTPTransport(Options{BaseURL: srv.URL, AgentToken: "agent-123", AdminToken: "admin-xyz"})
	if _, err := tr.Send(context.Background(), &Request{Method: http.MethodGet, Path: infra.PathAgents, Admin: true}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Get(infra.HeaderAdminToken) != "admin-xyz" {
		t.Errorf("unexpected admin token %q", got.Get(infra.HeaderAdminToken))
	}
	if got.Get(infra.HeaderAuthorization) != "" {
		t.Error("admin call must not carry the agent token")
	}
	if got.Get(infra.HeaderTraceID) == "" {
		t.Error("expected generated trace id")
	}
}

func TestSendAdminWithoutTokenFailsFast(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(Options{BaseURL: srv.URL, AgentToken: "agent-123"})
	_, err := tr.Send(context.Background(), &Request{Method: http.MethodGet, Path: infra.PathAgents, Admin: true})

	var auth *domain.AuthenticationError
	if !errors.As(err, &auth) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Error("no request must reach the gateway")
	}
}

func TestSendTraceIDFromContext(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(infra.HeaderTraceID)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(Options{BaseURL: srv.URL, TraceID: "client-trace"})
	ctx := WithTraceID(context.Background(), "call-trace")
	if _, err := tr.Send(ctx, &Request{Method: http.MethodGet, Path: infra.PathHealth}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got != "call-trace" {
		t.Errorf("expected per-call trace id, got %q", got)
	}
}

func TestSendForwardsCustomHeadersAndQuery(t *testing.T) {
	var gotHeader, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Custom")
		gotQuery = r.URL.RawQuery
	}))
	defer srv.Close()

	tr := NewHTTPTransport(Options{BaseURL: srv.URL})
	req := &Request{
		Method: http.MethodGet,
		Path:   infra.PathAudit,
		Query:  map[string][]string{"limit": {"5"}},
		Header: http.Header{"X-Custom": {"yes"}},
	}
	if _, err := tr.Send(context.Background(), req); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotHeader != "yes" {
		t.Errorf("custom header lost: %q", gotHeader)
	}
	if gotQuery != "limit=5" {
		t.Errorf("unexpected query %q", gotQuery)
	}
}

func TestSendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := tr.Send(context.Background(), &Request{Method: http.MethodGet, Path: infra.PathHealth})

	var timeout *domain.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %T: %v", err, err)
	}
	if !domain.IsRetryable(err) {
		t.Error("timeout must be retryable")
	}
}

func TestSendConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	tr := NewHTTPTransport(Options{BaseURL: url, Timeout: time.Second})
	_, err := tr.Send(context.Background(), &Request{Method: http.MethodGet, Path: infra.PathHealth})

	var conn *domain.ConnectionError
	if !errors.As(err, &conn) {
		t.Fatalf("expected ConnectionError, got %T: %v", err, err)
	}
}

func TestSendCanceledByCaller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := NewHTTPTransport(Options{BaseURL: srv.URL})
	_, err := tr.Send(ctx, &Request{Method: http.MethodGet, Path: infra.PathHealth})

	var base *domain.MeshGuardError
	if !errors.As(err, &base) {
		t.Fatalf("expected MeshGuardError, got %v", err)
	}
	if base.Retryable {
		t.Error("caller cancellation must not be retryable")
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("expected context.Canceled in chain")
	}
}

func signToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := domain.AgentClaims{
		AgentID: "agent-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestSendExpiredAgentTokenFailsFast(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(Options{BaseURL: srv.URL, AgentToken: signToken(t, time.Now().Add(-time.Hour))})
	_, err := tr.Send(context.Background(), &Request{Method: http.MethodPost, Path: infra.PathCheck, Body: []byte(`{}`)})

	var auth *domain.AuthenticationError
	if !errors.As(err, &auth) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Error("expired token must not reach the gateway")
	}
}

func TestSendNoAuthSkipsCredentials(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// Просроченный токен не мешает health
	tr := NewHTTPTransport(Options{BaseURL: srv.URL, AgentToken: signToken(t, time.Now().Add(-time.Hour)), AdminToken: "admin"})
	resp, err := tr.Send(context.Background(), &Request{Method: http.MethodGet, Path: infra.PathHealth, NoAuth: true})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if got.Get(infra.HeaderAuthorization) != "" || got.Get(infra.HeaderAdminToken) != "" {
		t.Errorf("unauthenticated call must carry no credentials: %v", got)
	}
	if got.Get(infra.HeaderTraceID) == "" {
		t.Error("trace id is sent on every call")
	}
}

func TestInspectToken(t *testing.T) {
	claims, ok := InspectToken(signToken(t, time.Now().Add(time.Hour)))
	if !ok {
		t.Fatal("expected JWT to be parsed")
	}
	if claims.AgentID != "agent-1" {
		t.Errorf("unexpected agent id %q", claims.AgentID)
	}

	if _, ok := InspectToken("opaque-token"); ok {
		t.Error("opaque token must not parse")
	}
	if !tokenExpiry("opaque-token").IsZero() {
		t.Error("opaque token has no expiry")
	}
}

func TestEndpointLabel(t *testing.T) {
	cases := map[string]string{
		"/proxy/check":        "/proxy/check",
		"/proxy/api/contacts": "/proxy/*",
		"/admin/agents/a-1":   "/admin/agents/{id}",
		"/admin/agents":       "/admin/agents",
		"":                    "unknown",
	}
	for in, want := range cases {
		if got := endpointLabel(in); got != want {
			t.Errorf("endpointLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
