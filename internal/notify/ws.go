package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/normalize"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/store"
)

var ErrNoSession = errors.New("no ws session")

// WSSession is one connected driver. Writes are serialized per connection.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds driver sessions keyed by normalized email.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	log      *slog.Logger
}

func NewWSRegistry(log *slog.Logger) *WSRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string]*WSSession), log: log}
}

func (r *WSRegistry) Add(driver string, conn *websocket.Conn) {
	driver = normalize.Email(driver)
	r.mu.Lock()
	if old, ok := r.sessions[driver]; ok {
		_ = old.conn.Close()
	} else {
		observability.WSSessions.Inc()
	}
	r.sessions[driver] = &WSSession{conn: conn}
	r.mu.Unlock()
}

func (r *WSRegistry) Remove(driver string) {
	driver = normalize.Email(driver)
	r.mu.Lock()
	if s, ok := r.sessions[driver]; ok {
		_ = s.conn.Close()
		delete(r.sessions, driver)
		observability.WSSessions.Dec()
	}
	r.mu.Unlock()
}

// Notify pushes a ride event to the claiming driver's session, if any.
func (r *WSRegistry) Notify(ctx context.Context, event models.RideEvent) error {
	r.mu.RLock()
	s, ok := r.sessions[normalize.Email(event.Driver)]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.send(event); err != nil {
		r.log.Warn("ws send failed", "driver", event.Driver, "error", err)
		return err
	}
	return nil
}

type snapshotMsg struct {
	Type       string       `json:"type"`
	Collection string       `json:"collection"`
	Rides      []models.Ride `json:"rides"`
}

// Broadcast fans a normalized collection snapshot out to every session.
// Dead sessions are pruned as they fail.
func (r *WSRegistry) Broadcast(collection string, docs []store.Document) {
	msg := snapshotMsg{Type: "snapshot", Collection: collection, Rides: normalize.Rides(docs)}
	r.mu.Lock()
	defer r.mu.Unlock()
	for driver, s := range r.sessions {
		if err := s.send(msg); err != nil {
			_ = s.conn.Close()
			delete(r.sessions, driver)
			observability.WSSessions.Dec()
		}
	}
}
