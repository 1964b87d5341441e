// Package fault defines the error taxonomy shared by the MandiVoice core.
//
// Errors are classified by Kind, not by concrete type: the pipeline retries
// transient errors, records service errors against the health controller, and
// surfaces validation, cancellation, capacity, and critical errors to the
// caller untouched. Classification survives wrapping — use [KindOf] on any
// error in a chain that contains a fault [*Error].
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for retry, health-accounting, and surfacing
// decisions.
type Kind int

const (
	// KindUnknown is the zero value for errors that carry no classification.
	KindUnknown Kind = iota

	// KindValidation marks malformed input: empty audio, unsupported target
	// language. Never retried; no health impact.
	KindValidation

	// KindTransient marks timeouts, connection failures, and upstream
	// 5xx-equivalents. Retried; escalates to KindService on exhaustion.
	KindTransient

	// KindService marks a permanent adapter failure or exhausted retries.
	// Recorded against the health controller; may trigger a fallback.
	KindService

	// KindCancelled marks a caller-initiated abort. No retry, no health impact.
	KindCancelled

	// KindCapacity marks a session cap overflow. Surfaced to the caller.
	KindCapacity

	// KindCritical marks a critical service becoming unavailable.
	KindCritical
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindService:
		return "service"
	case KindCancelled:
		return "cancelled"
	case KindCapacity:
		return "capacity"
	case KindCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Error is a classified error. It wraps an underlying cause and optionally
// names the pipeline stage that produced it.
type Error struct {
	// Kind is the taxonomy classification.
	Kind Kind

	// Stage optionally names the pipeline stage that produced the error
	// (e.g., "transcribe"). Empty outside the pipeline.
	Stage string

	// Err is the underlying cause. Never nil.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause so errors.Is and errors.As see through
// the classification.
func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind. Returns nil when err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Newf wraps a formatted error with the given kind.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// AtStage wraps err with a kind and the pipeline stage that produced it.
func AtStage(kind Kind, stage string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// KindOf returns the classification of err. Context cancellation and deadline
// errors classify as KindCancelled and KindTransient respectively even without
// an explicit fault wrapper; everything else unclassified is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

// IsTransient reports whether err should be retried. Deadline expiry counts as
// transient; explicit classifications win over the context sentinels.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsCancelled reports whether err represents a caller-initiated abort.
func IsCancelled(err error) bool { return KindOf(err) == KindCancelled }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
