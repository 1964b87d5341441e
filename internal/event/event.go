// Package event defines the outbound event kinds emitted by the voice
// interaction core and the Sink abstraction through which they are delivered.
//
// Delivery is best-effort by contract: sinks must never block the emitting
// goroutine. Implementations that cannot keep up drop events (and count the
// drops) rather than applying backpressure to the voice path.
package event

import (
	"encoding/json"
	"time"
)

// Kind names an event type on the wire.
type Kind string

const (
	KindLatencyAlert         Kind = "latency_alert"
	KindInactiveAlert        Kind = "inactive_alert"
	KindSwitch               Kind = "session_switch"
	KindServiceStatusChanged Kind = "service_status_changed"
	KindScalingExecuted      Kind = "scaling_executed"
	KindCritical             Kind = "critical_service"
)

// Event is implemented by every outbound event payload.
type Event interface {
	// EventKind returns the wire name of the event type.
	EventKind() Kind
}

// LatencyAlert reports a pipeline stage or total that exceeded its latency
// budget. The response itself still succeeds; the alert is advisory.
type LatencyAlert struct {
	// Service names the pipeline stage (or "pipeline" for the total budget).
	Service string `json:"service"`

	// Measured is the observed latency in milliseconds.
	MeasuredMS int64 `json:"measured_ms"`

	// Threshold is the budget that was exceeded, in milliseconds.
	ThresholdMS int64 `json:"threshold_ms"`
}

func (LatencyAlert) EventKind() Kind { return KindLatencyAlert }

// InactiveAlert notifies a session owner that a message arrived in a
// conversation that is not their foreground session.
type InactiveAlert struct {
	Owner        string `json:"owner"`
	SessionID    string `json:"session_id"`
	Counterparty string `json:"counterparty"`
}

func (InactiveAlert) EventKind() Kind { return KindInactiveAlert }

// Switch records a foreground-session change for one owner.
type Switch struct {
	Owner             string `json:"owner"`
	PreviousSessionID string `json:"previous_session_id,omitempty"`
	NewSessionID      string `json:"new_session_id"`
	Counterparty      string `json:"counterparty"`
	Commodity         string `json:"commodity,omitempty"`
	MessageCount      int    `json:"message_count"`
}

func (Switch) EventKind() Kind { return KindSwitch }

// ServiceStatusChanged records a health state transition for one service kind.
type ServiceStatusChanged struct {
	Service string `json:"service"`
	Old     string `json:"old"`
	New     string `json:"new"`
}

func (ServiceStatusChanged) EventKind() Kind { return KindServiceStatusChanged }

// ScalingExecuted records a completed worker-pool scaling action.
type ScalingExecuted struct {
	Action string `json:"action"`
	From   int    `json:"from"`
	To     int    `json:"to"`
	Reason string `json:"reason"`
}

func (ScalingExecuted) EventKind() Kind { return KindScalingExecuted }

// Critical reports a critical service entering the Unavailable state. The
// autoscaler surfaces it but never acts on it — scaling does not repair data
// loss.
type Critical struct {
	Service string `json:"service"`
}

func (Critical) EventKind() Kind { return KindCritical }

// Envelope is the wire form of an event: kind, emission time, and payload.
type Envelope struct {
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`
	Data Event     `json:"data"`
}

// Marshal wraps ev in an [Envelope] stamped with now and encodes it as JSON.
func Marshal(ev Event, now time.Time) ([]byte, error) {
	return json.Marshal(Envelope{Kind: ev.EventKind(), Time: now, Data: ev})
}
