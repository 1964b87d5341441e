// Package session multiplexes concurrent negotiation dialogs per user.
//
// Each owner holds up to a fixed number of Active sessions, one of which may
// be the foreground session receiving their outbound messages. Message logs
// are append-only and strictly isolated per session. Inbound messages landing
// in a non-foreground session raise an inactive-conversation alert, deduped
// per counterparty until the owner switches to that session.
package session

import (
	"errors"
	"time"

	"github.com/mandivoice/mandivoice/pkg/voice"
)

// DefaultMaxConcurrent is the default cap on Active sessions per owner.
const DefaultMaxConcurrent = 5

// Status is the lifecycle state of a session. A session transitions from
// Active to exactly one terminal status, once.
type Status int

const (
	StatusActive Status = iota
	StatusCompleted
	StatusAbandoned
)

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Session is a read-only snapshot of one negotiation dialog. The live state
// is owned by the [Manager]; snapshots never alias it.
type Session struct {
	ID           string
	Owner        string
	Participants []string
	Commodity    string
	Status       Status
	CreatedAt    time.Time
	EndedAt      time.Time
	MessageCount int
}

// Counterparty returns the first participant other than the owner, or "" for
// a degenerate participant list.
func (s Session) Counterparty() string {
	for _, p := range s.Participants {
		if p != s.Owner {
			return p
		}
	}
	return ""
}

// Message is one immutable entry in a session's log. The manager never
// inspects Text; it only indexes by SessionID.
type Message struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	SenderID   string            `json:"sender_id"`
	Text       string            `json:"text"`
	Language   voice.LanguageTag `json:"language"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Sentinel errors returned by [Manager] operations. Wrap-aware callers use
// errors.Is.
var (
	// ErrCapExceeded is returned by OpenSession when the owner already holds
	// the maximum number of Active sessions.
	ErrCapExceeded = errors.New("concurrent session cap exceeded")

	// ErrNotFound is returned when a session id does not resolve to an open
	// session the caller owns or participates in.
	ErrNotFound = errors.New("session not found")

	// ErrNoForeground is returned by Append when the owner has no foreground
	// session.
	ErrNoForeground = errors.New("no foreground session")

	// ErrInactiveSession is returned when appending to a session that is not
	// Active.
	ErrInactiveSession = errors.New("session is not active")

	// ErrTerminalChange is returned by EndSession when the session already
	// ended with a different terminal status.
	ErrTerminalChange = errors.New("session already ended with a different status")
)
