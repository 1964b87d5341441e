package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mandivoice/mandivoice/internal/event"
	"github.com/mandivoice/mandivoice/internal/health"
	"github.com/mandivoice/mandivoice/internal/observe"
	"github.com/mandivoice/mandivoice/pkg/fault"
	"github.com/mandivoice/mandivoice/pkg/voice"
)

// Store persists sessions and messages. The manager treats persistence as
// best-effort: store failures are logged and recorded against the Database
// service kind, but never break the in-memory invariants.
type Store interface {
	SaveSession(ctx context.Context, s Session) error
	SaveMessage(ctx context.Context, m Message) error
	UpdateSessionStatus(ctx context.Context, sessionID string, status Status, endedAt time.Time) error
}

// state is the live, mutable record behind one session. Guarded by the
// owning user's ownerState.mu.
type state struct {
	id           string
	owner        string
	participants []string
	commodity    string
	status       Status
	createdAt    time.Time
	endedAt      time.Time
	messages     []Message
}

// involves reports whether user takes part in the session. The participant
// list is immutable after creation and always contains the creating owner.
func (st *state) involves(user string) bool {
	for _, p := range st.participants {
		if p == user {
			return true
		}
	}
	return false
}

// snapshot copies the state into a caller-safe Session.
func (st *state) snapshot() Session {
	parts := make([]string, len(st.participants))
	copy(parts, st.participants)
	return Session{
		ID:           st.id,
		Owner:        st.owner,
		Participants: parts,
		Commodity:    st.commodity,
		Status:       st.status,
		CreatedAt:    st.createdAt,
		EndedAt:      st.endedAt,
		MessageCount: len(st.messages),
	}
}

// ownerState groups everything serialized per owner: their sessions, the
// foreground pointer, and the inactive-alert dedupe set.
type ownerState struct {
	mu         sync.Mutex
	sessions   map[string]*state
	foreground string

	// alerted tracks, per session, the counterparties already alerted since
	// the owner last switched to that session.
	alerted map[string]map[string]bool
}

// Manager enforces the per-owner session cap and owns all session and message
// containers. All methods are safe for concurrent use; operations on the same
// owner are serialized, distinct owners proceed independently.
//
// Lock order is always Manager.mu before ownerState.mu. A session's mutable
// fields are guarded by its creating owner's ownerState.mu; methods touching
// both a session and the calling user's foreground take the two ownerState
// locks sequentially, never nested.
type Manager struct {
	maxConcurrent int
	sink          event.Sink
	store         Store
	health        *health.Controller
	metrics       *observe.Metrics
	now           func() time.Time
	newID         func() string

	mu     sync.RWMutex
	owners map[string]*ownerState
	index  map[string]*state
}

// ManagerOption is a functional option for configuring a Manager.
type ManagerOption func(*Manager)

// WithMaxConcurrent overrides the Active-session cap per owner. Default 5.
func WithMaxConcurrent(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxConcurrent = n
		}
	}
}

// WithSink directs switch and inactive-alert events to sink.
func WithSink(sink event.Sink) ManagerOption {
	return func(m *Manager) {
		if sink != nil {
			m.sink = sink
		}
	}
}

// WithStore enables best-effort persistence of sessions and messages.
func WithStore(s Store) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithHealth records store outcomes against the Database service kind.
func WithHealth(hc *health.Controller) ManagerOption {
	return func(m *Manager) { m.health = hc }
}

// WithMetrics enables the active-sessions gauge.
func WithMetrics(om *observe.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = om }
}

// NewManager creates a session Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		maxConcurrent: DefaultMaxConcurrent,
		sink:          event.Discard,
		now:           time.Now,
		newID:         uuid.NewString,
		owners:        make(map[string]*ownerState),
		index:         make(map[string]*state),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// OpenSession creates a new Active session for owner with the given
// participants and optional commodity. It fails with a capacity fault wrapping
// [ErrCapExceeded] when the owner already holds the maximum number of Active
// sessions. Opening a session does not change the foreground pointer; callers
// switch explicitly.
func (m *Manager) OpenSession(ctx context.Context, owner string, participants []string, commodity string) (string, error) {
	if owner == "" {
		return "", fault.Newf(fault.KindValidation, "session owner must not be empty")
	}
	participants = withOwner(owner, participants)
	if len(participants) < 2 {
		return "", fault.Newf(fault.KindValidation, "session needs at least two participants")
	}

	m.mu.Lock()
	os := m.ownerLocked(owner)
	os.mu.Lock()

	active := 0
	for _, st := range os.sessions {
		if st.status == StatusActive {
			active++
		}
	}
	if active >= m.maxConcurrent {
		os.mu.Unlock()
		m.mu.Unlock()
		return "", fault.New(fault.KindCapacity,
			fmt.Errorf("owner %s already has %d active sessions: %w", owner, active, ErrCapExceeded))
	}

	st := &state{
		id:           m.newID(),
		owner:        owner,
		participants: participants,
		commodity:    commodity,
		status:       StatusActive,
		createdAt:    m.now(),
	}
	os.sessions[st.id] = st
	m.index[st.id] = st
	snap := st.snapshot()

	os.mu.Unlock()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("session opened",
		"session_id", snap.ID, "owner", owner, "counterparty", snap.Counterparty(), "commodity", commodity)
	m.persist(ctx, "save session", func(ctx context.Context) error {
		return m.store.SaveSession(ctx, snap)
	})
	return snap.ID, nil
}

// SwitchTo makes sessionID the owner's foreground session and returns the
// emitted switch event. It returns [ErrNotFound] when the session does not
// exist, is not Active, or owner is not one of its participants. Switching by
// the session's creator clears the pending inactive-alert dedupe for that
// session.
//
// Foreground pointers are per user: a counterparty switching to a session
// they participate in never disturbs the creator's foreground.
func (m *Manager) SwitchTo(owner, sessionID string) (event.Switch, error) {
	gos, st, err := m.resolve(owner, sessionID)
	if err != nil {
		return event.Switch{}, err
	}

	if st.status != StatusActive {
		gos.mu.Unlock()
		return event.Switch{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	counterparty := counterpartyFor(owner, st.participants)
	commodity := st.commodity
	messageCount := len(st.messages)
	if owner == st.owner {
		delete(gos.alerted, sessionID)
	}
	gos.mu.Unlock()

	m.mu.Lock()
	cos := m.ownerLocked(owner)
	m.mu.Unlock()

	cos.mu.Lock()
	ev := event.Switch{
		Owner:             owner,
		PreviousSessionID: cos.foreground,
		NewSessionID:      sessionID,
		Counterparty:      counterparty,
		Commodity:         commodity,
		MessageCount:      messageCount,
	}
	cos.foreground = sessionID
	cos.mu.Unlock()

	m.sink.Emit(ev)
	return ev, nil
}

// Append adds an outbound message from owner to their foreground session.
// It returns [ErrNoForeground] when no foreground session is set and
// [ErrInactiveSession] when the foreground session is no longer Active.
func (m *Manager) Append(ctx context.Context, owner, text string, lang voice.LanguageTag) (Message, error) {
	m.mu.RLock()
	cos, ok := m.owners[owner]
	m.mu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("owner %s: %w", owner, ErrNoForeground)
	}

	cos.mu.Lock()
	foreground := cos.foreground
	cos.mu.Unlock()
	if foreground == "" {
		return Message{}, fmt.Errorf("owner %s: %w", owner, ErrNoForeground)
	}

	// The foreground session may have been created by a counterparty, so it
	// is guarded by that user's lock, not the appender's.
	m.mu.RLock()
	st, ok := m.index[foreground]
	var gos *ownerState
	if ok {
		gos = m.owners[st.owner]
	}
	m.mu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("session %s: %w", foreground, ErrNotFound)
	}

	gos.mu.Lock()
	if st.status != StatusActive {
		gos.mu.Unlock()
		return Message{}, fmt.Errorf("session %s: %w", st.id, ErrInactiveSession)
	}
	msg := m.appendLocked(st, owner, text, lang)
	gos.mu.Unlock()

	m.persist(ctx, "save message", func(ctx context.Context) error {
		return m.store.SaveMessage(ctx, msg)
	})
	return msg, nil
}

// AppendInbound adds a message from a counterparty to the identified session,
// foreground or not. When the session is not its owner's foreground, one
// inactive-conversation alert is emitted per counterparty, deduped until the
// owner switches back to the session.
func (m *Manager) AppendInbound(ctx context.Context, sessionID, sender, text string, lang voice.LanguageTag) (Message, error) {
	m.mu.RLock()
	st, ok := m.index[sessionID]
	var os *ownerState
	if ok {
		os = m.owners[st.owner]
	}
	m.mu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	os.mu.Lock()
	if st.status != StatusActive {
		os.mu.Unlock()
		return Message{}, fmt.Errorf("session %s: %w", sessionID, ErrInactiveSession)
	}
	msg := m.appendLocked(st, sender, text, lang)

	var alert *event.InactiveAlert
	if os.foreground != sessionID {
		if os.alerted == nil {
			os.alerted = make(map[string]map[string]bool)
		}
		seen := os.alerted[sessionID]
		if seen == nil {
			seen = make(map[string]bool)
			os.alerted[sessionID] = seen
		}
		if !seen[sender] {
			seen[sender] = true
			alert = &event.InactiveAlert{
				Owner:        st.owner,
				SessionID:    sessionID,
				Counterparty: sender,
			}
		}
	}
	os.mu.Unlock()

	if alert != nil {
		m.sink.Emit(*alert)
	}
	m.persist(ctx, "save message", func(ctx context.Context) error {
		return m.store.SaveMessage(ctx, msg)
	})
	return msg, nil
}

// EndSession transitions sessionID to the given terminal status. Ending a
// session already in that status is a no-op returning nil; ending with a
// different terminal status returns [ErrTerminalChange].
func (m *Manager) EndSession(ctx context.Context, owner, sessionID string, final Status) error {
	if !final.Terminal() {
		return fault.Newf(fault.KindValidation, "final status %s is not terminal", final)
	}
	gos, st, err := m.resolve(owner, sessionID)
	if err != nil {
		return err
	}

	if st.status == final {
		gos.mu.Unlock()
		return nil
	}
	if st.status.Terminal() {
		got, want := st.status, final
		gos.mu.Unlock()
		return fmt.Errorf("session %s is %s, cannot become %s: %w", sessionID, got, want, ErrTerminalChange)
	}

	st.status = final
	st.endedAt = m.now()
	endedAt := st.endedAt
	creator := st.owner
	if gos.foreground == sessionID {
		gos.foreground = ""
	}
	delete(gos.alerted, sessionID)
	gos.mu.Unlock()

	// A participant ending the session also loses it as their foreground.
	if owner != creator {
		m.mu.RLock()
		cos := m.owners[owner]
		m.mu.RUnlock()
		if cos != nil {
			cos.mu.Lock()
			if cos.foreground == sessionID {
				cos.foreground = ""
			}
			cos.mu.Unlock()
		}
	}

	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
	slog.Info("session ended", "session_id", sessionID, "owner", owner, "status", final)
	m.persist(ctx, "update session status", func(ctx context.Context) error {
		return m.store.UpdateSessionStatus(ctx, sessionID, final, endedAt)
	})
	return nil
}

// Context returns the session's messages in insertion order. The returned
// slice is a copy; messages from other sessions never appear.
func (m *Manager) Context(sessionID string) ([]Message, error) {
	m.mu.RLock()
	st, ok := m.index[sessionID]
	var os *ownerState
	if ok {
		os = m.owners[st.owner]
	}
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	os.mu.Lock()
	defer os.mu.Unlock()
	out := make([]Message, len(st.messages))
	copy(out, st.messages)
	return out, nil
}

// Get returns a snapshot of one session owner created or participates in.
func (m *Manager) Get(owner, sessionID string) (Session, error) {
	os, st, err := m.resolve(owner, sessionID)
	if err != nil {
		return Session{}, err
	}
	defer os.mu.Unlock()
	return st.snapshot(), nil
}

// Sessions returns snapshots of all of owner's sessions, terminal ones
// included, in unspecified order.
func (m *Manager) Sessions(owner string) []Session {
	m.mu.RLock()
	os, ok := m.owners[owner]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	os.mu.Lock()
	defer os.mu.Unlock()
	out := make([]Session, 0, len(os.sessions))
	for _, st := range os.sessions {
		out = append(out, st.snapshot())
	}
	return out
}

// Foreground returns the owner's current foreground session, if any.
func (m *Manager) Foreground(owner string) (Session, bool) {
	m.mu.RLock()
	cos, ok := m.owners[owner]
	m.mu.RUnlock()
	if !ok {
		return Session{}, false
	}

	cos.mu.Lock()
	foreground := cos.foreground
	cos.mu.Unlock()
	if foreground == "" {
		return Session{}, false
	}

	m.mu.RLock()
	st, ok := m.index[foreground]
	m.mu.RUnlock()
	if !ok {
		return Session{}, false
	}

	gos := m.guardFor(st)
	gos.mu.Lock()
	defer gos.mu.Unlock()
	return st.snapshot(), true
}

// ownerLocked returns the ownerState for owner, creating it if needed.
// Caller holds m.mu for writing.
func (m *Manager) ownerLocked(owner string) *ownerState {
	os, ok := m.owners[owner]
	if !ok {
		os = &ownerState{sessions: make(map[string]*state)}
		m.owners[owner] = os
	}
	return os
}

// resolve looks up a session by id, requiring user to be one of its
// participants, and returns it with its guarding lock (the creating owner's
// ownerState.mu) held. On success the caller must release os.mu.
func (m *Manager) resolve(user, sessionID string) (*ownerState, *state, error) {
	m.mu.RLock()
	st, ok := m.index[sessionID]
	var os *ownerState
	if ok {
		os = m.owners[st.owner]
	}
	m.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	os.mu.Lock()
	if !st.involves(user) {
		os.mu.Unlock()
		return nil, nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return os, st, nil
}

// guardFor returns the ownerState whose lock protects st's mutable fields.
func (m *Manager) guardFor(st *state) *ownerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owners[st.owner]
}

// counterpartyFor returns the first participant other than user, so switch
// events name the other side of the dialog from the caller's perspective.
func counterpartyFor(user string, participants []string) string {
	for _, p := range participants {
		if p != user {
			return p
		}
	}
	return ""
}

// appendLocked builds and appends a message. Caller holds the owner's lock.
func (m *Manager) appendLocked(st *state, sender, text string, lang voice.LanguageTag) Message {
	msg := Message{
		ID:         m.newID(),
		SessionID:  st.id,
		SenderID:   sender,
		Text:       text,
		Language:   lang,
		ReceivedAt: m.now(),
	}
	st.messages = append(st.messages, msg)
	return msg
}

// persist runs one best-effort store operation and records its outcome
// against the Database service kind.
func (m *Manager) persist(ctx context.Context, op string, fn func(context.Context) error) {
	if m.store == nil {
		return
	}
	if err := fn(ctx); err != nil {
		slog.Warn("session persistence failed", "op", op, "error", err)
		if m.health != nil {
			m.health.RecordFailure(health.Database, err)
		}
		return
	}
	if m.health != nil {
		m.health.RecordSuccess(health.Database)
	}
}

// withOwner ensures owner is among the participants.
func withOwner(owner string, participants []string) []string {
	for _, p := range participants {
		if p == owner {
			return participants
		}
	}
	return append([]string{owner}, participants...)
}
