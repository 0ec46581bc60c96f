// Package audit records claim-service attempts for operational forensics.
// Recording is best effort; an audit failure never fails the operation.
package audit

import (
	"context"
	"sync"
	"time"
)

// Entry is one claim/undo/promote attempt and its outcome.
type Entry struct {
	RideID  string
	Action  string
	Actor   string
	Outcome string // ok, validation, not_found, conflict, transport
	Detail  string
	At      time.Time
}

type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Nop discards entries; used when no audit backend is configured.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

// Memory keeps entries in process. Test double and local-run default.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
