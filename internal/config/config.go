// Package config loads the console configuration from the coachctl home
// directory (~/.coachctl or $COACHCTL_HOME).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/coachctl/internal/otel"
	"github.com/basket/coachctl/internal/policy"
)

// Mode selects the console variant.
const (
	ModeChat  = "chat"
	ModeAudit = "audit"
)

// TimelineConfig configures the persistent timeline sinks. Empty paths
// disable a sink; the in-memory timeline always runs.
type TimelineConfig struct {
	File       string `yaml:"file"`
	SQLitePath string `yaml:"sqlite_path"`
}

type Config struct {
	// ServerURL is the websocket endpoint of the agent backend.
	ServerURL string `yaml:"server_url"`

	// Token is the bearer token; TokenFile reads it from a file instead.
	// COACHCTL_TOKEN overrides both.
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`

	// Mode is "audit" (approval gates surfaced) or "chat".
	Mode string `yaml:"mode"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	Timeline  TimelineConfig `yaml:"timeline"`
	Telemetry otel.Config    `yaml:"telemetry"`

	// HomeDir is resolved at load time, never read from the file.
	HomeDir string `yaml:"-"`
}

func defaultConfig() Config {
	return Config{
		ServerURL: "ws://127.0.0.1:8000/ws/coach",
		Mode:      ModeAudit,
	}
}

// HomeDir resolves the coachctl home directory.
func HomeDir() string {
	if override := os.Getenv("COACHCTL_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".coachctl"
	}
	return filepath.Join(home, ".coachctl")
}

// PolicyPath is the fixed location of the persisted approval policy.
func (c Config) PolicyPath() string {
	return filepath.Join(c.HomeDir, policy.FileName)
}

// Load reads config.yaml from the coachctl home, creating the directory on
// first use. A missing file yields the defaults.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create coachctl home: %w", err)
	}

	path := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	normalize(&cfg)
	return cfg, nil
}

// Save writes the config atomically to the coachctl home.
func Save(cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := filepath.Join(cfg.HomeDir, "config.yaml")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// BearerToken resolves the session token: COACHCTL_TOKEN, then the inline
// token, then the token file.
func (c Config) BearerToken() (string, error) {
	if tok := strings.TrimSpace(os.Getenv("COACHCTL_TOKEN")); tok != "" {
		return tok, nil
	}
	if tok := strings.TrimSpace(c.Token); tok != "" {
		return tok, nil
	}
	if c.TokenFile != "" {
		data, err := os.ReadFile(c.TokenFile)
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		if tok := strings.TrimSpace(string(data)); tok != "" {
			return tok, nil
		}
	}
	return "", fmt.Errorf("no bearer token configured (set COACHCTL_TOKEN, token, or token_file)")
}

func normalize(cfg *Config) {
	cfg.ServerURL = strings.TrimSpace(cfg.ServerURL)
	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultConfig().ServerURL
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case ModeChat:
		cfg.Mode = ModeChat
	default:
		cfg.Mode = ModeAudit
	}
}
