package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/xela07ax/meshguard-go/internal/domain"
	"github.com/xela07ax/meshguard-go/internal/gatewaymock"
	"gopkg.in/yaml.v3"
)

const adminToken = "admin-secret"

type fixture struct {
	gw  *gatewaymock.Server
	url string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	for _, k := range []string{
		"MESHGUARD_CONFIG", "MESHGUARD_GATEWAY_URL", "GATEWAY_URL",
		"MESHGUARD_AGENT_TOKEN", "AGENT_TOKEN", "MESHGUARD_ADMIN_TOKEN", "ADMIN_TOKEN",
	} {
		t.Setenv(k, "")
	}
	color.NoColor = true

	gw, err := gatewaymock.New(gatewaymock.Config{AdminToken: adminToken})
	if err != nil {
		t.Fatalf("gatewaymock.New: %v", err)
	}
	hs := httptest.NewServer(gw)
	t.Cleanup(hs.Close)
	return &fixture{gw: gw, url: hs.URL}
}

// run выполняет команду и возвращает stdout
func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--gateway", f.url, "--no-color"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (f *fixture) agentToken(t *testing.T, tier domain.TrustTier) string {
	t.Helper()
	a, err := f.gw.RegisterAgent(domain.AgentSpec{Name: "cli-agent", TrustTier: tier})
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	return a.Token
}

func TestCheckText(t *testing.T) {
	f := newFixture(t)
	token := f.agentToken(t, domain.TierVerified)

	out, err := f.run(t, "--agent-token", token, "check", "read:contacts")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "ALLOW  read:contacts") || !strings.Contains(out, "policy: default") {
		t.Errorf("unexpected output:\n%s", out)
	}

	// Отказ в check: не ошибка
	out, err = f.run(t, "--agent-token", token, "check", "delete:database")
	if err != nil || !strings.Contains(out, "DENY  delete:database") || !strings.Contains(out, "reason: tier too low") {
		t.Errorf("unexpected output %v:\n%s", err, out)
	}
}

func TestEnforceExitCode(t *testing.T) {
	f := newFixture(t)
	token := f.agentToken(t, domain.TierVerified)

	out, err := f.run(t, "--agent-token", token, "-o", "json", "enforce", "delete:database")
	if ExitCode(err) != 2 {
		t.Fatalf("expected exit code 2, got %d (%v)", ExitCode(err), err)
	}
	var d domain.PolicyDecision
	if jerr := json.Unmarshal([]byte(out), &d); jerr != nil {
		t.Fatalf("decision must still be printed as JSON: %v\n%s", jerr, out)
	}
	if d.Allowed || d.Policy != "db-protect" {
		t.Errorf("unexpected decision %+v", d)
	}

	if _, err := f.run(t, "--agent-token", token, "enforce", "read:contacts"); err != nil {
		t.Errorf("allowed enforce must succeed: %v", err)
	}
}

func TestCheckWithoutTokenFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "check", "read:contacts")
	var auth *domain.AuthenticationError
	if !errors.As(err, &auth) || ExitCode(err) != 1 {
		t.Fatalf("expected AuthenticationError with exit code 1, got %v", err)
	}
}

func TestAgentsLifecycle(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "--admin-token", adminToken, "-o", "json", "agents", "create", "helper", "--tier", "trusted", "--tag", "jira", "--tag", "ops")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var created domain.CreatedAgent
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if created.Token == "" || created.TrustTier != domain.TierTrusted || len(created.Tags) != 2 {
		t.Fatalf("unexpected agent %+v", created)
	}

	out, err = f.run(t, "--admin-token", adminToken, "agents", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, created.ID) || !strings.Contains(out, "jira,ops") || strings.Contains(out, created.Token) {
		t.Errorf("unexpected listing:\n%s", out)
	}

	if _, err := f.run(t, "--admin-token", adminToken, "agents", "revoke", created.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	_, err = f.run(t, "--admin-token", adminToken, "agents", "revoke", created.ID)
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestAdminCommandsRequireToken(t *testing.T) {
	f := newFixture(t)
	for _, args := range [][]string{{"agents", "list"}, {"policies", "list"}, {"audit"}} {
		_, err := f.run(t, args...)
		var auth *domain.AuthenticationError
		if !errors.As(err, &auth) {
			t.Errorf("%v: expected AuthenticationError, got %v", args, err)
		}
	}
}

func TestPoliciesYAML(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "--admin-token", adminToken, "-o", "yaml", "policies", "list")
	if err != nil {
		t.Fatalf("policies: %v", err)
	}
	var policies []map[string]any
	if err := yaml.Unmarshal([]byte(out), &policies); err != nil {
		t.Fatalf("decode yaml: %v\n%s", err, out)
	}
	if len(policies) != 2 || policies[0]["name"] != "db-protect" {
		t.Errorf("unexpected policies %v", policies)
	}
}

func TestAuditFilter(t *testing.T) {
	f := newFixture(t)
	token := f.agentToken(t, domain.TierVerified)
	for _, action := range []string{"read:a", "delete:b", "read:c"} {
		if _, err := f.run(t, "--agent-token", token, "check", action); err != nil {
			t.Fatalf("check %s: %v", action, err)
		}
	}

	out, err := f.run(t, "--admin-token", adminToken, "-o", "json", "audit", "--decision", "DENY")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	var entries []domain.AuditEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(entries) != 1 || entries[0].Action != "delete:b" {
		t.Errorf("unexpected entries %+v", entries)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(out, "HEALTHY") || !strings.Contains(out, f.url) {
		t.Errorf("unexpected output %q", out)
	}
}

func TestTokenInspect(t *testing.T) {
	f := newFixture(t)
	token := f.agentToken(t, domain.TierPrivileged)

	out, err := f.run(t, "token", "inspect", token)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.Contains(out, "tier:   privileged") || !strings.Contains(out, "expiry: never") {
		t.Errorf("unexpected output:\n%s", out)
	}

	if _, err := f.run(t, "token", "inspect", "opaque-token"); err == nil {
		t.Error("expected error for non-JWT token")
	}
	if _, err := f.run(t, "token", "inspect"); err == nil {
		t.Error("expected error without a token")
	}
}

func TestUnknownOutputFormat(t *testing.T) {
	f := newFixture(t)
	if _, err := f.run(t, "-o", "xml", "health"); err == nil {
		t.Fatal("expected error for unknown output format")
	}
}
