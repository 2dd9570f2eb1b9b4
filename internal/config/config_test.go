package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/coachctl/internal/config"
)

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	t.Setenv("COACHCTL_HOME", t.TempDir())

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "ws://127.0.0.1:8000/ws/coach" {
		t.Fatalf("unexpected default server url %q", cfg.ServerURL)
	}
	if cfg.Mode != config.ModeAudit {
		t.Fatalf("default mode must be audit, got %q", cfg.Mode)
	}
}

func TestLoad_ReadsFileAndNormalizes(t *testing.T) {
	home := t.TempDir()
	t.Setenv("COACHCTL_HOME", home)

	content := "server_url: ' wss://coach.example.com/ws '\nmode: CHAT\nlog_level: debug\ntimeline:\n  file: /tmp/timeline.jsonl\n"
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "wss://coach.example.com/ws" {
		t.Fatalf("server url not trimmed: %q", cfg.ServerURL)
	}
	if cfg.Mode != config.ModeChat {
		t.Fatalf("mode must normalize to chat, got %q", cfg.Mode)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level not read: %q", cfg.LogLevel)
	}
	if cfg.Timeline.File != "/tmp/timeline.jsonl" {
		t.Fatalf("timeline file not read: %q", cfg.Timeline.File)
	}
}

func TestLoad_UnknownModeFallsBackToAudit(t *testing.T) {
	home := t.TempDir()
	t.Setenv("COACHCTL_HOME", home)
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("mode: banana\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != config.ModeAudit {
		t.Fatalf("unknown mode must fall back to audit, got %q", cfg.Mode)
	}
}

func TestLoad_CorruptFileErrors(t *testing.T) {
	home := t.TempDir()
	t.Setenv("COACHCTL_HOME", home)
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("mode: [broken"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := config.Load(); err == nil {
		t.Fatalf("expected error for corrupt config")
	}
}

func TestBearerToken_ResolutionOrder(t *testing.T) {
	home := t.TempDir()
	t.Setenv("COACHCTL_HOME", home)
	t.Setenv("COACHCTL_TOKEN", "")

	tokenFile := filepath.Join(home, "token.txt")
	if err := os.WriteFile(tokenFile, []byte("file-token\n"), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}

	cfg := config.Config{Token: "inline-token", TokenFile: tokenFile, HomeDir: home}

	tok, err := cfg.BearerToken()
	if err != nil {
		t.Fatalf("bearer token: %v", err)
	}
	if tok != "inline-token" {
		t.Fatalf("inline token must beat the file, got %q", tok)
	}

	cfg.Token = ""
	tok, err = cfg.BearerToken()
	if err != nil {
		t.Fatalf("bearer token: %v", err)
	}
	if tok != "file-token" {
		t.Fatalf("file token must be trimmed, got %q", tok)
	}

	t.Setenv("COACHCTL_TOKEN", "env-token")
	tok, err = cfg.BearerToken()
	if err != nil {
		t.Fatalf("bearer token: %v", err)
	}
	if tok != "env-token" {
		t.Fatalf("env token must beat everything, got %q", tok)
	}
}

func TestBearerToken_MissingEverywhere(t *testing.T) {
	t.Setenv("COACHCTL_TOKEN", "")
	cfg := config.Config{}
	if _, err := cfg.BearerToken(); err == nil {
		t.Fatalf("expected error with no token configured")
	}
}

func TestSaveThenLoad_RoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("COACHCTL_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.ServerURL = "wss://other.example.com/ws"
	cfg.Mode = config.ModeChat
	if err := config.Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := config.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.ServerURL != cfg.ServerURL || got.Mode != config.ModeChat {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestPolicyPath_UnderHome(t *testing.T) {
	cfg := config.Config{HomeDir: "/srv/coachctl"}
	if got := cfg.PolicyPath(); got != "/srv/coachctl/policy.yaml" {
		t.Fatalf("unexpected policy path %q", got)
	}
}
