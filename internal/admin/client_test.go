package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/xela07ax/meshguard-go/internal/domain"
	"github.com/xela07ax/meshguard-go/internal/infra"
	"github.com/xela07ax/meshguard-go/internal/transport"
)

type captured struct {
	method     string
	path       string
	query      string
	adminToken string
	body       map[string]any
}

type fakeAdmin struct {
	mu   sync.Mutex
	last captured
	hits int32
}

func (f *fakeAdmin) lastReq() captured {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func newFake(t *testing.T, status int, body string) (*fakeAdmin, string) {
	t.Helper()
	f := &fakeAdmin{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.hits, 1)
		raw, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(raw, &m)
		f.mu.Lock()
		f.last = captured{
			method:     r.Method,
			path:       r.URL.Path,
			query:      r.URL.RawQuery,
			adminToken: r.Header.Get(infra.HeaderAdminToken),
			body:       m,
		}
		f.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return f, srv.URL
}

func newAdmin(url, adminToken string) *Client {
	tr := transport.NewHTTPTransport(transport.Options{BaseURL: url, AgentToken: "agent", AdminToken: adminToken})
	return New(tr, tr.HasAdminToken(), nil)
}

func TestAdminWithoutTokenFailsFast(t *testing.T) {
	f, url := newFake(t, http.StatusOK, `{}`)
	c := newAdmin(url, "")
	ctx := context.Background()

	calls := map[string]func() error{
		"ListAgents":   func() error { _, err := c.ListAgents(ctx); return err },
		"CreateAgent":  func() error { _, err := c.CreateAgent(ctx, domain.AgentSpec{Name: "bot"}); return err },
		"RevokeAgent":  func() error { return c.RevokeAgent(ctx, "agent-1") },
		"ListPolicies": func() error { _, err := c.ListPolicies(ctx); return err },
		"GetAuditLog":  func() error { _, err := c.GetAuditLog(ctx, domain.AuditQuery{}); return err },
	}
	for name, call := range calls {
		var auth *domain.AuthenticationError
		if err := call(); !errors.As(err, &auth) {
			t.Errorf("%s: expected AuthenticationError, got %v", name, err)
		} else if auth.Message != "Admin token required for this operation" {
			t.Errorf("%s: unexpected message %q", name, auth.Message)
		}
	}
	if atomic.LoadInt32(&f.hits) != 0 {
		t.Errorf("no request must be sent without an admin token, got %d", atomic.LoadInt32(&f.hits))
	}
}

func TestAdminRejectedTokenIsAuthError(t *testing.T) {
	_, url := newFake(t, http.StatusUnauthorized, `{"error": "Invalid admin token"}`)
	_, err := newAdmin(url, "wrong").ListAgents(context.Background())
	var auth *domain.AuthenticationError
	if !errors.As(err, &auth) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}
}

func TestListAgents(t *testing.T) {
	f, url := newFake(t, http.StatusOK, `{"agents": [
		{"id": "agent-1", "name": "first", "trustTier": "verified", "tags": ["a"]},
		{"id": "agent-2", "name": "second", "trustTier": "trusted", "tags": []}
	]}`)
	agents, err := newAdmin(url, "admin-token").ListAgents(context.Background())
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 2 || agents[0].Name != "first" || agents[1].TrustTier != domain.TierTrusted {
		t.Errorf("unexpected agents %+v", agents)
	}
	req := f.lastReq()
	if req.method != http.MethodGet || req.path != "/admin/agents" || req.adminToken != "admin-token" {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestCreateAgentDefaults(t *testing.T) {
	f, url := newFake(t, http.StatusCreated, `{"id": "agent-new", "name": "new-agent", "trustTier": "verified", "tags": [], "token": "new-token"}`)
	created, err := newAdmin(url, "admin-token").CreateAgent(context.Background(), domain.AgentSpec{Name: "new-agent"})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if created.ID != "agent-new" || created.Token != "new-token" {
		t.Errorf("unexpected agent %+v", created)
	}

	body := f.lastReq().body
	if body["name"] != "new-agent" || body["trustTier"] != "verified" {
		t.Errorf("unexpected request body %v", body)
	}
	if tags, ok := body["tags"].([]any); !ok || len(tags) != 0 {
		t.Errorf("tags must be sent as an empty list, got %#v", body["tags"])
	}
}

func TestCreateAgentCustomTier(t *testing.T) {
	f, url := newFake(t, http.StatusCreated, `{"agent": {"id": "a", "name": "p", "trustTier": "privileged", "tags": ["ops"]}, "token": "t"}`)
	created, err := newAdmin(url, "admin-token").CreateAgent(context.Background(), domain.AgentSpec{
		Name: "p", TrustTier: domain.TierPrivileged, Tags: []string{"ops"},
	})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if created.TrustTier != domain.TierPrivileged || created.Token != "t" {
		t.Errorf("unexpected agent %+v", created)
	}
	if f.lastReq().body["trustTier"] != "privileged" {
		t.Errorf("unexpected request body %v", f.lastReq().body)
	}
}

func TestCreateAgentEmptyName(t *testing.T) {
	f, url := newFake(t, http.StatusCreated, `{}`)
	if _, err := newAdmin(url, "admin-token").CreateAgent(context.Background(), domain.AgentSpec{}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if atomic.LoadInt32(&f.hits) != 0 {
		t.Error("invalid spec must not reach the gateway")
	}
}

func TestRevokeAgent(t *testing.T) {
	f, url := newFake(t, http.StatusNoContent, "")
	if err := newAdmin(url, "admin-token").RevokeAgent(context.Background(), "agent-123"); err != nil {
		t.Fatalf("RevokeAgent: %v", err)
	}
	req := f.lastReq()
	if req.method != http.MethodDelete || req.path != "/admin/agents/agent-123" {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestRevokeAgentNotFound(t *testing.T) {
	_, url := newFake(t, http.StatusNotFound, `{"error": "Agent not found"}`)
	err := newAdmin(url, "admin-token").RevokeAgent(context.Background(), "missing")
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestListPolicies(t *testing.T) {
	_, url := newFake(t, http.StatusOK, `{"policies": [{"id": "policy-1", "name": "default", "rules": []}]}`)
	policies, err := newAdmin(url, "admin-token").ListPolicies(context.Background())
	if err != nil {
		t.Fatalf("ListPolicies: %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "default" {
		t.Errorf("unexpected policies %+v", policies)
	}
}

func TestGetAuditLogQuery(t *testing.T) {
	f, url := newFake(t, http.StatusOK, `{"entries": [
		{"id": "e1", "action": "read:contacts", "decision": "deny", "timestamp": "2024-01-01T00:00:00Z"},
		{"id": "e2", "action": "write:email", "decision": "deny", "timestamp": "2024-01-01T00:01:00Z"},
		{"id": "e3", "action": "write:email", "decision": "deny", "timestamp": "2024-01-01T00:02:00Z"}
	]}`)
	entries, err := newAdmin(url, "admin-token").GetAuditLog(context.Background(), domain.AuditQuery{Limit: 2, Decision: domain.EffectDeny})
	if err != nil {
		t.Fatalf("GetAuditLog: %v", err)
	}
	if q := f.lastReq().query; q != "decision=deny&limit=2" {
		t.Errorf("unexpected query %q", q)
	}
	if len(entries) != 2 || entries[0].ID != "e3" {
		t.Errorf("expected newest-first truncation, got %+v", entries)
	}
}

func TestGetAuditLogNoParams(t *testing.T) {
	f, url := newFake(t, http.StatusOK, `{"entries": []}`)
	if _, err := newAdmin(url, "admin-token").GetAuditLog(context.Background(), domain.AuditQuery{}); err != nil {
		t.Fatalf("GetAuditLog: %v", err)
	}
	if q := f.lastReq().query; q != "" {
		t.Errorf("expected no query parameters, got %q", q)
	}
}

func TestGetAuditLogInvalidFilter(t *testing.T) {
	_, url := newFake(t, http.StatusOK, `{"entries": []}`)
	if _, err := newAdmin(url, "admin-token").GetAuditLog(context.Background(), domain.AuditQuery{Decision: "maybe"}); err == nil {
		t.Fatal("expected error for invalid decision filter")
	}
}
