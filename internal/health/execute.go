package health

import (
	"context"
	"fmt"

	"github.com/mandivoice/mandivoice/pkg/fault"
)

// Execute runs primary under health accounting for kind, dispatching to the
// registered fallback when the primary is bypassed or fails. It is a
// package-level function because Go does not support method-level type
// parameters.
//
// Dispatch rules:
//
//  1. When kind is already unavailable, the primary is skipped entirely and
//     the fallback is invoked (an error if none is registered).
//  2. Otherwise the primary runs. Success records a success for kind and
//     returns the result. Failure records a failure; if auto-fallback is
//     enabled and a handler is registered, the handler's result (or its error,
//     verbatim) is returned, else the original error surfaces.
//
// Cancelled and validation errors are exempt from health accounting and never
// trigger a fallback: the caller aborted or sent bad input; the service did
// not misbehave.
//
// args carry the original call inputs (audio clip, text, language) so a
// fallback can substitute for the primary; they are forwarded verbatim to
// [Fallback.Invoke].
//
// viaFallback reports whether the returned result came from the fallback
// handler rather than the primary.
func Execute[T any](ctx context.Context, c *Controller, kind ServiceKind, primary func(ctx context.Context) (T, error), args ...any) (result T, viaFallback bool, err error) {
	var zero T

	if c.Status(kind) == StatusUnavailable {
		out, fbErr := c.invokeFallback(ctx, kind, args...)
		if fbErr != nil {
			return zero, true, fbErr
		}
		typed, ok := out.(T)
		if !ok {
			return zero, true, fmt.Errorf("%w: service %s: got %T", errFallbackType, kind, out)
		}
		return typed, true, nil
	}

	result, err = primary(ctx)
	if err == nil {
		c.RecordSuccess(kind)
		return result, false, nil
	}

	switch fault.KindOf(err) {
	case fault.KindCancelled, fault.KindValidation:
		return zero, false, err
	}

	c.RecordFailure(kind, err)

	if c.autoFallbackEnabled() {
		if _, ok := c.fallback(kind); ok {
			out, fbErr := c.invokeFallback(ctx, kind, args...)
			if fbErr != nil {
				// Handler errors propagate verbatim.
				return zero, true, fbErr
			}
			typed, ok := out.(T)
			if !ok {
				return zero, true, fmt.Errorf("%w: service %s: got %T", errFallbackType, kind, out)
			}
			return typed, true, nil
		}
	}
	return zero, false, err
}
