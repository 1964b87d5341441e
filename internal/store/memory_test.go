package store

import (
	"context"
	"testing"
	"time"

	"github.com/mandivoice/mandivoice/internal/session"
	"github.com/mandivoice/mandivoice/pkg/voice"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	sess := session.Session{
		ID:           "s-1",
		Owner:        "farmer-1",
		Participants: []string{"farmer-1", "buyer-1"},
		Commodity:    "tomato",
		Status:       session.StatusActive,
		CreatedAt:    time.Now(),
	}
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, ok := s.Session("s-1")
	if !ok {
		t.Fatal("session not found after save")
	}
	if got.Owner != "farmer-1" || got.Commodity != "tomato" {
		t.Errorf("session = %+v", got)
	}

	for i, text := range []string{"first", "second", "third"} {
		msg := session.Message{
			ID:         string(rune('a' + i)),
			SessionID:  "s-1",
			SenderID:   "farmer-1",
			Text:       text,
			Language:   voice.Hindi,
			ReceivedAt: time.Now(),
		}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	msgs := s.Messages("s-1")
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	if msgs[0].Text != "first" || msgs[2].Text != "third" {
		t.Errorf("messages out of order: %v, %v", msgs[0].Text, msgs[2].Text)
	}
	if got := len(s.Messages("other")); got != 0 {
		t.Errorf("messages leaked across sessions: %d", got)
	}
}

func TestMemoryStore_UpdateSessionStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.UpdateSessionStatus(ctx, "missing", session.StatusCompleted, time.Now()); err == nil {
		t.Error("expected error for unknown session")
	}

	sess := session.Session{ID: "s-1", Owner: "farmer-1", Status: session.StatusActive}
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	ended := time.Now()
	if err := s.UpdateSessionStatus(ctx, "s-1", session.StatusCompleted, ended); err != nil {
		t.Fatalf("UpdateSessionStatus: %v", err)
	}
	got, _ := s.Session("s-1")
	if got.Status != session.StatusCompleted || !got.EndedAt.Equal(ended) {
		t.Errorf("session = %+v, want completed at %v", got, ended)
	}
}
