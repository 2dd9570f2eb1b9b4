// Package policy holds the operator's auto-approval switches: one boolean
// per decision point (staged run, tool calls, assistant response). All three
// default to auto-approve. The policy persists to a yaml file under the
// coachctl home and survives reconnects, but is never synchronized anywhere.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileName is the fixed storage key for the persisted policy.
const FileName = "policy.yaml"

// Approval is the serializable policy data. The json tags match the
// auditPolicy object forwarded to the backend on each run envelope.
type Approval struct {
	AutoApproveStage     bool `yaml:"auto_approve_stage" json:"autoApproveStage"`
	AutoApproveToolCalls bool `yaml:"auto_approve_tool_calls" json:"autoApproveToolCalls"`
	AutoApproveAssistant bool `yaml:"auto_approve_assistant" json:"autoApproveAssistant"`
}

func Default() Approval {
	return Approval{
		AutoApproveStage:     true,
		AutoApproveToolCalls: true,
		AutoApproveAssistant: true,
	}
}

// AllowAll reports whether every decision point is auto-approved.
func (a Approval) AllowAll() bool {
	return a.AutoApproveStage && a.AutoApproveToolCalls && a.AutoApproveAssistant
}

// Load reads the persisted policy. A missing or empty file yields the
// default. A corrupt file also yields the default, together with the parse
// error so the caller can log it; a bad policy file must not keep the
// console from starting.
func Load(path string) (Approval, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Default(), fmt.Errorf("read policy: %w", err)
	}
	if len(data) == 0 {
		return Default(), nil
	}
	var raw struct {
		AutoApproveStage     *bool `yaml:"auto_approve_stage"`
		AutoApproveToolCalls *bool `yaml:"auto_approve_tool_calls"`
		AutoApproveAssistant *bool `yaml:"auto_approve_assistant"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Default(), fmt.Errorf("parse policy: %w", err)
	}
	// Absent switches stay at their auto-approve default.
	p := Default()
	if raw.AutoApproveStage != nil {
		p.AutoApproveStage = *raw.AutoApproveStage
	}
	if raw.AutoApproveToolCalls != nil {
		p.AutoApproveToolCalls = *raw.AutoApproveToolCalls
	}
	if raw.AutoApproveAssistant != nil {
		p.AutoApproveAssistant = *raw.AutoApproveAssistant
	}
	return p, nil
}

// Save writes the policy atomically (tmp file + rename).
func Save(path string, p Approval) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create policy dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write policy: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename policy: %w", err)
	}
	return nil
}

// Source yields the policy snapshot consulted for each event. The state
// machine reads a fresh snapshot per event, never a cached one.
type Source interface {
	Snapshot() Approval
}

// Static is a fixed policy, used by the plain (non-audit) console where
// every decision point is always auto-approved.
type Static Approval

func (s Static) Snapshot() Approval { return Approval(s) }

// Live wraps an Approval with thread-safe mutation and persistence.
type Live struct {
	mu   sync.RWMutex
	data Approval
	path string // file path for persistence; empty = no persistence
}

// NewLive creates a Live policy from an initial snapshot.
// path may be empty for tests or ephemeral use.
func NewLive(initial Approval, path string) *Live {
	return &Live{data: initial, path: path}
}

func (l *Live) Snapshot() Approval {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.data
}

// Set replaces the policy and persists it. The new policy takes effect for
// the next event evaluated, including ones already in flight.
func (l *Live) Set(next Approval) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data = next
	if l.path == "" {
		return nil
	}
	return Save(l.path, next)
}

// ReloadFromFile re-reads the persisted policy, e.g. after an external edit
// was noticed by the watcher. A corrupt file retains the current policy.
func (l *Live) ReloadFromFile() error {
	if l.path == "" {
		return nil
	}
	next, err := Load(l.path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.data = next
	l.mu.Unlock()
	return nil
}
