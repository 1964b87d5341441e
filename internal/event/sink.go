package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Sink receives outbound events. Emit must never block; implementations drop
// events they cannot deliver promptly. All implementations in this package are
// safe for concurrent use.
type Sink interface {
	Emit(ev Event)
}

// Discard is a Sink that drops everything. Useful as a default so emitting
// code never needs a nil check.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Event) {}

// LogSink writes every event to slog at Info level (Warn for critical
// events). It is the default sink wired at startup.
type LogSink struct{}

// Emit implements [Sink].
func (LogSink) Emit(ev Event) {
	switch e := ev.(type) {
	case Critical:
		slog.Warn("critical service unavailable", "service", e.Service)
	case LatencyAlert:
		slog.Warn("latency budget exceeded",
			"service", e.Service, "measured_ms", e.MeasuredMS, "threshold_ms", e.ThresholdMS)
	case ServiceStatusChanged:
		slog.Info("service status changed", "service", e.Service, "old", e.Old, "new", e.New)
	case ScalingExecuted:
		slog.Info("scaling action executed", "action", e.Action, "from", e.From, "to", e.To, "reason", e.Reason)
	case Switch:
		slog.Info("session switched",
			"owner", e.Owner, "previous", e.PreviousSessionID, "new", e.NewSessionID,
			"counterparty", e.Counterparty, "messages", e.MessageCount)
	case InactiveAlert:
		slog.Info("inactive conversation alert",
			"owner", e.Owner, "session_id", e.SessionID, "counterparty", e.Counterparty)
	default:
		slog.Info("event", "kind", ev.EventKind())
	}
}

// ChanSink buffers events on a channel for a consumer (tests, the WebSocket
// broadcaster). When the buffer is full the event is dropped and the drop
// counter incremented.
type ChanSink struct {
	ch      chan Event
	dropped atomic.Int64
}

// NewChanSink creates a ChanSink with the given buffer depth.
func NewChanSink(buf int) *ChanSink {
	if buf <= 0 {
		buf = 64
	}
	return &ChanSink{ch: make(chan Event, buf)}
}

// Emit implements [Sink]. Full buffers drop the event.
func (s *ChanSink) Emit(ev Event) {
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the receive side of the buffer.
func (s *ChanSink) Events() <-chan Event { return s.ch }

// Dropped returns how many events were discarded due to a full buffer.
func (s *ChanSink) Dropped() int64 { return s.dropped.Load() }

// Fanout delivers each event to every registered sink in order.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewFanout creates a Fanout over the given sinks.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	f.sinks = append(f.sinks, sinks...)
	return f
}

// Add registers an additional sink.
func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

// Emit implements [Sink].
func (f *Fanout) Emit(ev Event) {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()
	for _, s := range sinks {
		s.Emit(ev)
	}
}
