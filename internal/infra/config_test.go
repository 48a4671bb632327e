package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MESHGUARD_GATEWAY_URL", "GATEWAY_URL",
		"MESHGUARD_AGENT_TOKEN", "AGENT_TOKEN",
		"MESHGUARD_ADMIN_TOKEN", "ADMIN_TOKEN",
		EnvConfigFile,
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Gateway.URL != DefaultGatewayURL {
		t.Errorf("expected default gateway URL, got %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", cfg.Gateway.Timeout)
	}
	if cfg.Transport.RetryIdempotent {
		t.Error("idempotent retry must be off by default")
	}
	if cfg.Cache.Enabled {
		t.Error("decision cache must be off by default")
	}
	if cfg.Transport.CBEnabled {
		t.Error("circuit breaker must be off by default")
	}
	if cfg.Redis.Channel != RedisChanPolicyUpdate {
		t.Errorf("unexpected redis channel %q", cfg.Redis.Channel)
	}
}

func TestLoadConfigFromPrefixedEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("MESHGUARD_GATEWAY_URL", "https://env.meshguard.app/")
	t.Setenv("MESHGUARD_AGENT_TOKEN", "env-agent-token")
	t.Setenv("MESHGUARD_ADMIN_TOKEN", "env-admin-token")
	t.Setenv("MESHGUARD_TRANSPORT_RETRY_IDEMPOTENT", "true")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Gateway.URL != "https://env.meshguard.app" {
		t.Errorf("expected trailing slash stripped, got %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.AgentToken != "env-agent-token" {
		t.Errorf("unexpected agent token %q", cfg.Gateway.AgentToken)
	}
	if cfg.Gateway.AdminToken != "env-admin-token" {
		t.Errorf("unexpected admin token %q", cfg.Gateway.AdminToken)
	}
	if !cfg.Transport.RetryIdempotent {
		t.Error("expected retry_idempotent from env")
	}
}

func TestLoadConfigShortEnvNames(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGENT_TOKEN", "short-agent")
	t.Setenv("GATEWAY_URL", "https://short.meshguard.app")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Gateway.AgentToken != "short-agent" {
		t.Errorf("unexpected agent token %q", cfg.Gateway.AgentToken)
	}
	if cfg.Gateway.URL != "https://short.meshguard.app" {
		t.Errorf("unexpected gateway URL %q", cfg.Gateway.URL)
	}
}

func TestLoadConfigPrefixedWinsOverShort(t *testing.T) {
	clearEnv(t)
	t.Setenv("MESHGUARD_AGENT_TOKEN", "prefixed")
	t.Setenv("AGENT_TOKEN", "short")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Gateway.AgentToken != "prefixed" {
		t.Errorf("expected prefixed env to win, got %q", cfg.Gateway.AgentToken)
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "meshguard.yaml")
	content := `
gateway:
  url: https://file.meshguard.app
  timeout: 5s
cache:
  enabled: true
  ttl: 1m
logger:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Gateway.URL != "https://file.meshguard.app" {
		t.Errorf("unexpected URL %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.Timeout != 5*time.Second {
		t.Errorf("unexpected timeout %v", cfg.Gateway.Timeout)
	}
	if !cfg.Cache.Enabled || cfg.Cache.TTL != time.Minute {
		t.Errorf("unexpected cache config %+v", cfg.Cache)
	}

	// ENV перекрывает файл
	t.Setenv("MESHGUARD_GATEWAY_URL", "https://env.meshguard.app")
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Gateway.URL != "https://env.meshguard.app" {
		t.Errorf("expected env to override file, got %q", cfg.Gateway.URL)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger(LoggerConfig{Level: "none"}); err != nil {
		t.Fatalf("none level: %v", err)
	}
	if _, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"}); err != nil {
		t.Fatalf("debug console: %v", err)
	}
	if _, err := NewLogger(LoggerConfig{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := NewLogger(LoggerConfig{Level: "info", Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
