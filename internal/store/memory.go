// Package store provides persistence backends for the session manager.
//
// MemoryStore is the default, process-local backend; the postgres subpackage
// offers a durable alternative behind the same [session.Store] interface.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mandivoice/mandivoice/internal/session"
)

// MemoryStore is an in-memory [session.Store]. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
	messages map[string][]session.Message
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]session.Session),
		messages: make(map[string][]session.Message),
	}
}

// SaveSession implements [session.Store].
func (s *MemoryStore) SaveSession(_ context.Context, sess session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

// SaveMessage implements [session.Store].
func (s *MemoryStore) SaveMessage(_ context.Context, m session.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.SessionID] = append(s.messages[m.SessionID], m)
	return nil
}

// UpdateSessionStatus implements [session.Store].
func (s *MemoryStore) UpdateSessionStatus(_ context.Context, sessionID string, status session.Status, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("memory store: session %s not found", sessionID)
	}
	sess.Status = status
	sess.EndedAt = endedAt
	s.sessions[sessionID] = sess
	return nil
}

// Session returns the stored snapshot for sessionID.
func (s *MemoryStore) Session(sessionID string) (session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

// Messages returns the stored messages for sessionID in insertion order.
func (s *MemoryStore) Messages(sessionID string) []session.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	out := make([]session.Message, len(msgs))
	copy(out, msgs)
	return out
}

var _ session.Store = (*MemoryStore)(nil)
