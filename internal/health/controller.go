// Package health tracks per-service availability and drives graceful
// degradation for the voice interaction core.
//
// The central type is [Controller]: a per-[ServiceKind] state machine
// (healthy → degraded → unavailable) fed by recorded successes and failures,
// combined with a fallback handler registry. [Execute] wraps a primary
// operation so that its outcome is accounted for and a registered fallback is
// invoked when the primary is unavailable or fails.
//
// The controller is a plain value constructed at startup and passed explicitly
// to the orchestrator and the autoscaler; there is no process-wide mutable
// state. All methods are safe for concurrent use.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mandivoice/mandivoice/internal/event"
	"github.com/mandivoice/mandivoice/pkg/fault"
)

// defaultMaxFailures is how many consecutive failures flip a kind from
// degraded to unavailable.
const defaultMaxFailures = 3

// Fallback is a secondary handler invoked when the primary for a service kind
// is unavailable or fails with auto-fallback enabled.
type Fallback interface {
	// Invoke produces a replacement result for the failed primary operation.
	Invoke(ctx context.Context, args ...any) (any, error)
}

// FallbackFunc adapts a plain function to the [Fallback] interface.
type FallbackFunc func(ctx context.Context, args ...any) (any, error)

// Invoke implements [Fallback].
func (f FallbackFunc) Invoke(ctx context.Context, args ...any) (any, error) {
	return f(ctx, args...)
}

// fallbackEntry pairs a registered handler with its human-readable semantic.
type fallbackEntry struct {
	description string
	handler     Fallback
}

// serviceState is the mutable per-kind record. Guarded by Controller.mu.
type serviceState struct {
	status    Status
	failures  int
	lastError error
	lastCheck time.Time
}

// ServiceHealth is a consistent read-only snapshot of one kind's state.
type ServiceHealth struct {
	Kind                ServiceKind
	Status              Status
	ConsecutiveFailures int
	LastError           error
	LastCheck           time.Time
	FallbackAvailable   bool
}

// Controller owns the service health map and the fallback registry.
type Controller struct {
	maxFailures  int
	autoFallback bool
	critical     map[ServiceKind]bool
	sink         event.Sink
	now          func() time.Time

	mu        sync.RWMutex
	states    map[ServiceKind]*serviceState
	fallbacks map[ServiceKind]fallbackEntry
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithMaxFailures overrides how many consecutive failures mark a kind
// unavailable. Default is 3.
func WithMaxFailures(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxFailures = n
		}
	}
}

// WithAutoFallback controls whether [Execute] invokes a registered fallback
// immediately after a primary failure. Enabled by default.
func WithAutoFallback(enabled bool) Option {
	return func(c *Controller) { c.autoFallback = enabled }
}

// WithCriticalServices replaces the critical set. A critical kind entering
// the unavailable state elevates the system aggregate to critical. Default
// critical set: {Database}.
func WithCriticalServices(kinds ...ServiceKind) Option {
	return func(c *Controller) {
		c.critical = make(map[ServiceKind]bool, len(kinds))
		for _, k := range kinds {
			c.critical[k] = true
		}
	}
}

// WithEventSink directs status-change and critical events to sink.
func WithEventSink(sink event.Sink) Option {
	return func(c *Controller) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// NewController creates a Controller with every recognised service kind
// bootstrapped in the healthy state.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		maxFailures:  defaultMaxFailures,
		autoFallback: true,
		critical:     map[ServiceKind]bool{Database: true},
		sink:         event.Discard,
		now:          time.Now,
		states:       make(map[ServiceKind]*serviceState, len(AllServiceKinds)),
		fallbacks:    make(map[ServiceKind]fallbackEntry),
	}
	for _, o := range opts {
		o(c)
	}
	for _, k := range AllServiceKinds {
		c.states[k] = &serviceState{status: StatusHealthy}
	}
	return c
}

// RecordFailure increments the consecutive-failure counter for kind and
// transitions it to degraded, or to unavailable once the threshold is reached.
func (c *Controller) RecordFailure(kind ServiceKind, err error) {
	c.mu.Lock()
	st := c.states[kind]
	st.failures++
	st.lastError = err
	st.lastCheck = c.now()

	old := st.status
	if st.failures >= c.maxFailures {
		st.status = StatusUnavailable
	} else {
		st.status = StatusDegraded
	}
	next := st.status
	failures := st.failures
	critical := next == StatusUnavailable && c.critical[kind]
	c.mu.Unlock()

	if next != old {
		slog.Warn("service status changed",
			"service", kind, "old", old, "new", next, "failures", failures, "error", err)
		c.sink.Emit(event.ServiceStatusChanged{
			Service: kind.String(), Old: old.String(), New: next.String(),
		})
	}
	if critical {
		c.sink.Emit(event.Critical{Service: kind.String()})
	}
}

// RecordSuccess resets kind to the healthy state and clears its failure
// history.
func (c *Controller) RecordSuccess(kind ServiceKind) {
	c.mu.Lock()
	st := c.states[kind]
	old := st.status
	st.failures = 0
	st.lastError = nil
	st.lastCheck = c.now()
	st.status = StatusHealthy
	c.mu.Unlock()

	if old != StatusHealthy {
		slog.Info("service recovered", "service", kind, "old", old)
		c.sink.Emit(event.ServiceStatusChanged{
			Service: kind.String(), Old: old.String(), New: StatusHealthy.String(),
		})
	}
}

// Reset returns kind to its initial state: healthy, zero failures, no error
// sample. Unlike RecordSuccess it does not stamp a check time.
func (c *Controller) Reset(kind ServiceKind) {
	c.mu.Lock()
	old := c.states[kind].status
	c.states[kind] = &serviceState{status: StatusHealthy}
	c.mu.Unlock()

	if old != StatusHealthy {
		c.sink.Emit(event.ServiceStatusChanged{
			Service: kind.String(), Old: old.String(), New: StatusHealthy.String(),
		})
	}
	slog.Info("service health manually reset", "service", kind)
}

// Status returns the current availability state of kind.
func (c *Controller) Status(kind ServiceKind) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.states[kind].status
}

// IsAvailable reports whether kind can serve requests: healthy or degraded,
// but not unavailable.
func (c *Controller) IsAvailable(kind ServiceKind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.states[kind].status != StatusUnavailable
}

// Health returns a consistent snapshot of kind's full state.
func (c *Controller) Health(kind ServiceKind) ServiceHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.states[kind]
	_, hasFB := c.fallbacks[kind]
	return ServiceHealth{
		Kind:                kind,
		Status:              st.status,
		ConsecutiveFailures: st.failures,
		LastError:           st.lastError,
		LastCheck:           st.lastCheck,
		FallbackAvailable:   hasFB,
	}
}

// RegisterFallback installs handler as the fallback for kind. description is
// the free-form semantic of what the fallback provides (e.g., "cached price
// table"). Only the most recently registered handler is active.
func (c *Controller) RegisterFallback(kind ServiceKind, description string, handler Fallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallbacks[kind] = fallbackEntry{description: description, handler: handler}
}

// HasFallback reports whether a fallback handler is registered for kind.
func (c *Controller) HasFallback(kind ServiceKind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.fallbacks[kind]
	return ok
}

// FallbackDescription returns the registered fallback semantic for kind, or
// "" when none is registered.
func (c *Controller) FallbackDescription(kind ServiceKind) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fallbacks[kind].description
}

// fallback returns the registered handler for kind.
func (c *Controller) fallback(kind ServiceKind) (Fallback, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.fallbacks[kind]
	return e.handler, ok
}

// autoFallbackEnabled reports the auto-fallback policy.
func (c *Controller) autoFallbackEnabled() bool { return c.autoFallback }

// SystemHealth returns the aggregate view: critical when any critical kind is
// unavailable, degraded when any kind is non-healthy, healthy otherwise.
func (c *Controller) SystemHealth() SystemHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	agg := SystemHealthy
	for kind, st := range c.states {
		if st.status == StatusUnavailable && c.critical[kind] {
			return SystemCritical
		}
		if st.status != StatusHealthy {
			agg = SystemDegraded
		}
	}
	return agg
}

// AvailableFeatures derives the user-visible feature map from current service
// availability. A feature is available when its backing service is healthy or
// degraded.
func (c *Controller) AvailableFeatures() map[Feature]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	features := make(map[Feature]bool, len(featureServices))
	for feature, kind := range featureServices {
		features[feature] = c.states[kind].status != StatusUnavailable
	}
	return features
}

// invokeFallback runs the registered handler for kind, converting a missing
// registration into a service error.
func (c *Controller) invokeFallback(ctx context.Context, kind ServiceKind, args ...any) (any, error) {
	handler, ok := c.fallback(kind)
	if !ok {
		return nil, fault.Newf(fault.KindService,
			"service %s unavailable and no fallback registered", kind)
	}
	slog.Debug("invoking fallback", "service", kind, "semantic", c.FallbackDescription(kind))
	return handler.Invoke(ctx, args...)
}

// ErrFallbackTypeMismatch is wrapped into the error returned by [Execute]
// when a fallback handler yields a value of an unexpected type.
var errFallbackType = fmt.Errorf("fallback returned unexpected result type")
