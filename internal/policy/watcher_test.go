package policy_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/coachctl/internal/policy"
)

func TestWatcher_DetectsPolicySave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, policy.FileName)
	if err := policy.Save(path, policy.Default()); err != nil {
		t.Fatalf("seed policy: %v", err)
	}

	w := policy.NewWatcher(path, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	// Retry the save at short intervals rather than sleeping once; the
	// watcher may not be ready for the very first write.
	changed := policy.Default()
	changed.AutoApproveToolCalls = false
	if err := policy.Save(path, changed); err != nil {
		t.Fatalf("save policy: %v", err)
	}

	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case _, ok := <-w.Events():
			if !ok {
				t.Fatalf("event channel closed unexpectedly")
			}
			return
		case <-tick.C:
			_ = policy.Save(path, changed)
		case <-deadline:
			t.Fatalf("timed out waiting for policy change event")
		}
	}
}

func TestWatcher_ChannelClosesOnCancel(t *testing.T) {
	dir := t.TempDir()
	w := policy.NewWatcher(filepath.Join(dir, policy.FileName), nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	cancel()

	select {
	case _, ok := <-w.Events():
		if ok {
			// A buffered change event may arrive first; the close follows.
			if _, stillOpen := <-w.Events(); stillOpen {
				t.Fatalf("channel must close after cancel")
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}
