// Package timeline keeps the ordered audit trail of every protocol event
// observed on a connection. Entries are appended in arrival order and never
// reordered or dropped; the in-memory view resets when a new connection
// opens, while the optional file and database sinks keep accumulating.
package timeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Entry is one observed event. Timestamp is a human-readable local
// wall-clock time, matching how the timeline is displayed.
type Entry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	Summary   string `json:"summary,omitempty"`
}

// Recorder appends entries to an in-memory timeline and mirrors them to any
// configured sinks. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	file    *os.File
	db      *sql.DB
	now     func() time.Time
}

func New() *Recorder {
	return &Recorder{now: time.Now}
}

// SetClock overrides the wall clock, for tests.
func (r *Recorder) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// OpenFile attaches a JSONL append sink at path.
func (r *Recorder) OpenFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create timeline dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open timeline file: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		_ = r.file.Close()
	}
	r.file = f
	return nil
}

// SetDB attaches a database sink for timeline table writes.
func (r *Recorder) SetDB(db *sql.DB) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.db = db
}

// Record appends one entry with a locally generated id and timestamp.
func (r *Recorder) Record(eventType, summary string) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := Entry{
		ID:        uuid.NewString(),
		Timestamp: r.now().Format("15:04:05"),
		EventType: eventType,
		Summary:   summary,
	}
	r.entries = append(r.entries, e)

	if r.file != nil {
		if b, err := json.Marshal(e); err == nil {
			_, _ = r.file.Write(append(b, '\n'))
		}
	}
	if r.db != nil {
		_, _ = r.db.ExecContext(context.Background(), `
			INSERT INTO timeline (id, ts, event_type, summary)
			VALUES (?, ?, ?, ?);
		`, e.ID, e.Timestamp, e.EventType, e.Summary)
	}
	return e
}

// Entries returns a copy of the in-memory timeline in arrival order.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len reports the number of in-memory entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reset clears the in-memory timeline for a fresh connection. Sinks are
// untouched; the persisted trail spans connections.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// Close releases the sinks owned by the recorder. The db sink is attached,
// not owned, and stays open.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// OpenDB opens (and migrates) the sqlite timeline database at path, ready
// to pass to SetDB.
func OpenDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := fmt.Sprintf("%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, err = db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS timeline (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL,
			ts         TEXT NOT NULL,
			event_type TEXT NOT NULL,
			summary    TEXT
		);
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init timeline schema: %w", err)
	}
	return db, nil
}
