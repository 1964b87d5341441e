package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mandivoice/mandivoice/internal/event"
	"github.com/mandivoice/mandivoice/internal/health"
	"github.com/mandivoice/mandivoice/pkg/fault"
	"github.com/mandivoice/mandivoice/pkg/voice"
)

func openSession(t *testing.T, m *Manager, owner, counterparty string) string {
	t.Helper()
	id, err := m.OpenSession(context.Background(), owner, []string{counterparty}, "tomato")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	return id
}

func TestOpenSession_CapEnforcement(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	var ids []string
	for i := 0; i < DefaultMaxConcurrent; i++ {
		ids = append(ids, openSession(t, m, "farmer-1", fmt.Sprintf("buyer-%d", i)))
	}

	_, err := m.OpenSession(ctx, "farmer-1", []string{"buyer-6"}, "onion")
	if !errors.Is(err, ErrCapExceeded) {
		t.Fatalf("6th open: err = %v, want ErrCapExceeded", err)
	}
	if fault.KindOf(err) != fault.KindCapacity {
		t.Errorf("error kind = %v, want capacity", fault.KindOf(err))
	}

	if err := m.EndSession(ctx, "farmer-1", ids[0], StatusCompleted); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, err := m.OpenSession(ctx, "farmer-1", []string{"buyer-6"}, "onion"); err != nil {
		t.Fatalf("open after freeing a slot: %v", err)
	}
}

func TestOpenSession_CapIsPerOwner(t *testing.T) {
	m := NewManager()
	for i := 0; i < DefaultMaxConcurrent; i++ {
		openSession(t, m, "farmer-1", fmt.Sprintf("buyer-%d", i))
	}
	// A different owner is unaffected.
	openSession(t, m, "farmer-2", "buyer-0")
}

func TestOpenSession_Validation(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	if _, err := m.OpenSession(ctx, "", []string{"buyer-1"}, ""); !fault.IsValidation(err) {
		t.Errorf("empty owner: err = %v, want validation", err)
	}
	if _, err := m.OpenSession(ctx, "farmer-1", nil, ""); !fault.IsValidation(err) {
		t.Errorf("no participants: err = %v, want validation", err)
	}
}

func TestSwitchTo_UpdatesForegroundAndEmitsEvent(t *testing.T) {
	sink := event.NewChanSink(8)
	m := NewManager(WithSink(sink))
	first := openSession(t, m, "farmer-1", "buyer-1")
	second := openSession(t, m, "farmer-1", "buyer-2")

	ev, err := m.SwitchTo("farmer-1", first)
	if err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	if ev.PreviousSessionID != "" || ev.NewSessionID != first {
		t.Errorf("event = %+v, want first switch from empty", ev)
	}

	ev, err = m.SwitchTo("farmer-1", second)
	if err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	if ev.PreviousSessionID != first || ev.NewSessionID != second {
		t.Errorf("event previous/new = %s/%s, want %s/%s",
			ev.PreviousSessionID, ev.NewSessionID, first, second)
	}
	if ev.Counterparty != "buyer-2" || ev.Commodity != "tomato" {
		t.Errorf("event counterparty/commodity = %s/%s", ev.Counterparty, ev.Commodity)
	}

	fg, ok := m.Foreground("farmer-1")
	if !ok || fg.ID != second {
		t.Errorf("foreground = %v/%v, want %s", fg.ID, ok, second)
	}
	if got := len(sink.Events()); got != 2 {
		t.Errorf("emitted events = %d, want 2", got)
	}
}

func TestSwitchTo_NotFound(t *testing.T) {
	m := NewManager()
	id := openSession(t, m, "farmer-1", "buyer-1")

	if _, err := m.SwitchTo("farmer-1", "no-such-session"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id: err = %v, want ErrNotFound", err)
	}
	if _, err := m.SwitchTo("farmer-2", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("other owner: err = %v, want ErrNotFound", err)
	}

	if err := m.EndSession(context.Background(), "farmer-1", id, StatusAbandoned); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, err := m.SwitchTo("farmer-1", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("ended session: err = %v, want ErrNotFound", err)
	}
}

func TestSwitchTo_CounterpartyCanSwitch(t *testing.T) {
	sink := event.NewChanSink(8)
	m := NewManager(WithSink(sink))
	ctx := context.Background()
	id := openSession(t, m, "farmer-1", "trader-1")
	if _, err := m.SwitchTo("farmer-1", id); err != nil {
		t.Fatalf("creator SwitchTo: %v", err)
	}
	drainEvents(sink)

	// The trader participates in the session without having created it.
	ev, err := m.SwitchTo("trader-1", id)
	if err != nil {
		t.Fatalf("participant SwitchTo: %v", err)
	}
	if ev.Owner != "trader-1" || ev.NewSessionID != id {
		t.Errorf("event = %+v, want trader-1 switching to %s", ev, id)
	}
	if ev.Counterparty != "farmer-1" {
		t.Errorf("event counterparty = %s, want farmer-1", ev.Counterparty)
	}

	// Each user keeps an independent foreground pointer.
	fg, ok := m.Foreground("trader-1")
	if !ok || fg.ID != id {
		t.Fatalf("trader foreground = %v/%v, want %s", fg.ID, ok, id)
	}
	fg, ok = m.Foreground("farmer-1")
	if !ok || fg.ID != id {
		t.Errorf("farmer foreground = %v/%v, want %s", fg.ID, ok, id)
	}

	// The trader's outbound messages land in the shared session log.
	if _, err := m.Append(ctx, "trader-1", "20 rupaye", voice.Hindi); err != nil {
		t.Fatalf("participant Append: %v", err)
	}
	msgs, err := m.Context(id)
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if len(msgs) != 1 || msgs[0].SenderID != "trader-1" {
		t.Errorf("messages = %+v, want one from trader-1", msgs)
	}
}

func TestParticipantAccess_GetAndEnd(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	id := openSession(t, m, "farmer-1", "trader-1")

	s, err := m.Get("trader-1", id)
	if err != nil {
		t.Fatalf("participant Get: %v", err)
	}
	if s.Owner != "farmer-1" || s.Counterparty() != "trader-1" {
		t.Errorf("session = %+v", s)
	}
	if _, err := m.Get("stranger", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("non-participant Get: err = %v, want ErrNotFound", err)
	}

	if _, err := m.SwitchTo("trader-1", id); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	if err := m.EndSession(ctx, "trader-1", id, StatusCompleted); err != nil {
		t.Fatalf("participant EndSession: %v", err)
	}
	if _, ok := m.Foreground("trader-1"); ok {
		t.Error("trader foreground survived ending the session")
	}
	s, err = m.Get("farmer-1", id)
	if err != nil {
		t.Fatalf("Get after end: %v", err)
	}
	if s.Status != StatusCompleted {
		t.Errorf("status = %v, want completed", s.Status)
	}
}

func TestAppend_RequiresForeground(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	id := openSession(t, m, "farmer-1", "buyer-1")

	if _, err := m.Append(ctx, "farmer-1", "hello", voice.Hindi); !errors.Is(err, ErrNoForeground) {
		t.Fatalf("append before switch: err = %v, want ErrNoForeground", err)
	}

	if _, err := m.SwitchTo("farmer-1", id); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	msg, err := m.Append(ctx, "farmer-1", "hello", voice.Hindi)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if msg.SessionID != id || msg.SenderID != "farmer-1" || msg.Language != voice.Hindi {
		t.Errorf("message = %+v", msg)
	}
	if msg.ID == "" || msg.ReceivedAt.IsZero() {
		t.Errorf("message missing id or timestamp: %+v", msg)
	}
}

func TestAppend_RejectsEndedForeground(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	id := openSession(t, m, "farmer-1", "buyer-1")
	if _, err := m.SwitchTo("farmer-1", id); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	if err := m.EndSession(ctx, "farmer-1", id, StatusCompleted); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	// Ending the foreground session clears the pointer.
	if _, err := m.Append(ctx, "farmer-1", "hello", voice.Hindi); !errors.Is(err, ErrNoForeground) {
		t.Errorf("err = %v, want ErrNoForeground", err)
	}
}

func TestAppendInbound_AlertOnlyForNonForeground(t *testing.T) {
	sink := event.NewChanSink(8)
	m := NewManager(WithSink(sink))
	ctx := context.Background()
	fg := openSession(t, m, "farmer-1", "buyer-1")
	bg := openSession(t, m, "farmer-1", "buyer-2")
	if _, err := m.SwitchTo("farmer-1", fg); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	drainEvents(sink)

	if _, err := m.AppendInbound(ctx, fg, "buyer-1", "namaste", voice.Hindi); err != nil {
		t.Fatalf("AppendInbound foreground: %v", err)
	}
	if got := len(sink.Events()); got != 0 {
		t.Errorf("foreground inbound emitted %d events, want 0", got)
	}

	if _, err := m.AppendInbound(ctx, bg, "buyer-2", "rate?", voice.Hindi); err != nil {
		t.Fatalf("AppendInbound background: %v", err)
	}
	alerts := drainAlerts(sink)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Owner != "farmer-1" || a.SessionID != bg || a.Counterparty != "buyer-2" {
		t.Errorf("alert = %+v", a)
	}
}

func TestAppendInbound_AlertDedupedUntilSwitch(t *testing.T) {
	sink := event.NewChanSink(8)
	m := NewManager(WithSink(sink))
	ctx := context.Background()
	fg := openSession(t, m, "farmer-1", "buyer-1")
	bg := openSession(t, m, "farmer-1", "buyer-2")
	if _, err := m.SwitchTo("farmer-1", fg); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	drainEvents(sink)

	for i := 0; i < 3; i++ {
		if _, err := m.AppendInbound(ctx, bg, "buyer-2", "ping", voice.Hindi); err != nil {
			t.Fatalf("AppendInbound: %v", err)
		}
	}
	if got := len(drainAlerts(sink)); got != 1 {
		t.Fatalf("alerts after repeated inbound = %d, want 1 (deduped)", got)
	}

	// Switching to the session re-arms the alert.
	if _, err := m.SwitchTo("farmer-1", bg); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	if _, err := m.SwitchTo("farmer-1", fg); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	drainEvents(sink)

	if _, err := m.AppendInbound(ctx, bg, "buyer-2", "still there?", voice.Hindi); err != nil {
		t.Fatalf("AppendInbound: %v", err)
	}
	if got := len(drainAlerts(sink)); got != 1 {
		t.Errorf("alerts after switch = %d, want 1 (re-armed)", got)
	}
}

func TestAppendInbound_Errors(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	id := openSession(t, m, "farmer-1", "buyer-1")

	if _, err := m.AppendInbound(ctx, "no-such", "buyer-1", "hi", voice.Hindi); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown session: err = %v, want ErrNotFound", err)
	}

	if err := m.EndSession(ctx, "farmer-1", id, StatusCompleted); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, err := m.AppendInbound(ctx, id, "buyer-1", "hi", voice.Hindi); !errors.Is(err, ErrInactiveSession) {
		t.Errorf("ended session: err = %v, want ErrInactiveSession", err)
	}
}

func TestEndSession_IdempotentOnSameStatus(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	id := openSession(t, m, "farmer-1", "buyer-1")

	if err := m.EndSession(ctx, "farmer-1", id, StatusCompleted); err != nil {
		t.Fatalf("first end: %v", err)
	}
	if err := m.EndSession(ctx, "farmer-1", id, StatusCompleted); err != nil {
		t.Fatalf("repeated end with same status: %v", err)
	}
	if err := m.EndSession(ctx, "farmer-1", id, StatusAbandoned); !errors.Is(err, ErrTerminalChange) {
		t.Errorf("changing terminal status: err = %v, want ErrTerminalChange", err)
	}

	s, err := m.Get("farmer-1", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Status != StatusCompleted || s.EndedAt.IsZero() {
		t.Errorf("session = %+v, want completed with end time", s)
	}
}

func TestEndSession_Errors(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	id := openSession(t, m, "farmer-1", "buyer-1")

	if err := m.EndSession(ctx, "farmer-1", id, StatusActive); !fault.IsValidation(err) {
		t.Errorf("non-terminal status: err = %v, want validation", err)
	}
	if err := m.EndSession(ctx, "farmer-1", "no-such", StatusCompleted); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown session: err = %v, want ErrNotFound", err)
	}
	if err := m.EndSession(ctx, "farmer-2", id, StatusCompleted); !errors.Is(err, ErrNotFound) {
		t.Errorf("other owner: err = %v, want ErrNotFound", err)
	}
}

func TestContext_IsolationAndOrder(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	a := openSession(t, m, "farmer-1", "buyer-1")
	b := openSession(t, m, "farmer-1", "buyer-2")

	if _, err := m.SwitchTo("farmer-1", a); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.Append(ctx, "farmer-1", fmt.Sprintf("a-%d", i), voice.Hindi); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if _, err := m.AppendInbound(ctx, b, "buyer-2", fmt.Sprintf("b-%d", i), voice.Telugu); err != nil {
			t.Fatalf("AppendInbound: %v", err)
		}
	}

	msgsA, err := m.Context(a)
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if len(msgsA) != 3 {
		t.Fatalf("session a messages = %d, want 3", len(msgsA))
	}
	for i, msg := range msgsA {
		if want := fmt.Sprintf("a-%d", i); msg.Text != want {
			t.Errorf("message %d = %q, want %q", i, msg.Text, want)
		}
		if msg.SessionID != a {
			t.Errorf("message %d leaked from session %s", i, msg.SessionID)
		}
	}

	msgsB, err := m.Context(b)
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if len(msgsB) != 3 {
		t.Fatalf("session b messages = %d, want 3", len(msgsB))
	}
	for i, msg := range msgsB {
		if want := fmt.Sprintf("b-%d", i); msg.Text != want {
			t.Errorf("message %d = %q, want %q", i, msg.Text, want)
		}
	}
}

func TestManager_ConcurrentOwnersIndependent(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		owner := fmt.Sprintf("farmer-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := m.OpenSession(ctx, owner, []string{"buyer-1"}, "tomato")
			if err != nil {
				t.Errorf("OpenSession(%s): %v", owner, err)
				return
			}
			if _, err := m.SwitchTo(owner, id); err != nil {
				t.Errorf("SwitchTo(%s): %v", owner, err)
				return
			}
			for j := 0; j < 20; j++ {
				if _, err := m.Append(ctx, owner, fmt.Sprintf("m-%d", j), voice.Hindi); err != nil {
					t.Errorf("Append(%s): %v", owner, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		owner := fmt.Sprintf("farmer-%d", i)
		sessions := m.Sessions(owner)
		if len(sessions) != 1 {
			t.Fatalf("%s sessions = %d, want 1", owner, len(sessions))
		}
		if got := sessions[0].MessageCount; got != 20 {
			t.Errorf("%s message count = %d, want 20", owner, got)
		}
	}
}

// recordingStore captures persistence calls and optionally fails them.
type recordingStore struct {
	mu       sync.Mutex
	sessions []Session
	messages []Message
	statuses []Status
	err      error
}

func (s *recordingStore) SaveSession(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sessions = append(s.sessions, sess)
	return nil
}

func (s *recordingStore) SaveMessage(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, m)
	return nil
}

func (s *recordingStore) UpdateSessionStatus(_ context.Context, _ string, status Status, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.statuses = append(s.statuses, status)
	return nil
}

func TestManager_PersistsThroughStore(t *testing.T) {
	store := &recordingStore{}
	hc := health.NewController()
	m := NewManager(WithStore(store), WithHealth(hc))
	ctx := context.Background()

	id := openSession(t, m, "farmer-1", "buyer-1")
	if _, err := m.SwitchTo("farmer-1", id); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	if _, err := m.Append(ctx, "farmer-1", "hello", voice.Hindi); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := m.EndSession(ctx, "farmer-1", id, StatusCompleted); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	if len(store.sessions) != 1 || len(store.messages) != 1 || len(store.statuses) != 1 {
		t.Errorf("store calls = %d/%d/%d, want 1/1/1",
			len(store.sessions), len(store.messages), len(store.statuses))
	}
	if got := hc.Status(health.Database); got != health.StatusHealthy {
		t.Errorf("database status = %v, want healthy", got)
	}
}

func TestManager_StoreFailureDoesNotBreakInMemoryState(t *testing.T) {
	store := &recordingStore{err: errors.New("connection refused")}
	hc := health.NewController()
	m := NewManager(WithStore(store), WithHealth(hc))
	ctx := context.Background()

	id, err := m.OpenSession(ctx, "farmer-1", []string{"buyer-1"}, "tomato")
	if err != nil {
		t.Fatalf("OpenSession must succeed despite store failure: %v", err)
	}
	if _, err := m.Get("farmer-1", id); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := hc.Status(health.Database); got != health.StatusDegraded {
		t.Errorf("database status = %v, want degraded after store failure", got)
	}
}

func drainEvents(s *event.ChanSink) {
	for len(s.Events()) > 0 {
		<-s.Events()
	}
}

func drainAlerts(s *event.ChanSink) []event.InactiveAlert {
	var out []event.InactiveAlert
	for len(s.Events()) > 0 {
		if a, ok := (<-s.Events()).(event.InactiveAlert); ok {
			out = append(out, a)
		}
	}
	return out
}
