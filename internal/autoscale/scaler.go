package autoscale

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mandivoice/mandivoice/internal/event"
	"github.com/mandivoice/mandivoice/internal/health"
	"github.com/mandivoice/mandivoice/internal/observe"
)

// Scaler is the autoscaling control loop. One Scaler runs per process; its
// only mutable state is the timestamp of the last executed scaling action.
type Scaler struct {
	cfg     Config
	hooks   Hooks
	health  *health.Controller
	sink    event.Sink
	metrics *observe.Metrics
	now     func() time.Time

	mu         sync.RWMutex
	lastAction time.Time
}

// ScalerOption is a functional option for configuring a Scaler.
type ScalerOption func(*Scaler)

// WithHealth lets the loop surface (but never act on) critical system health.
func WithHealth(hc *health.Controller) ScalerOption {
	return func(s *Scaler) { s.health = hc }
}

// WithSink directs scaling events to sink.
func WithSink(sink event.Sink) ScalerOption {
	return func(s *Scaler) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithMetrics enables the scaling-actions counter and worker-instances gauge.
func WithMetrics(m *observe.Metrics) ScalerOption {
	return func(s *Scaler) { s.metrics = m }
}

// NewScaler creates a Scaler over the given hooks.
func NewScaler(cfg Config, hooks Hooks, opts ...ScalerOption) (*Scaler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scaler{
		cfg:   cfg,
		hooks: hooks,
		sink:  event.Discard,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// LastAction returns the timestamp of the last executed scaling action, zero
// when none has been executed yet.
func (s *Scaler) LastAction() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAction
}

// Evaluate samples metrics, discovers the pool, and produces one scaling
// decision without executing it.
func (s *Scaler) Evaluate(ctx context.Context) (Decision, error) {
	metrics, err := s.hooks.GetHostMetrics(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("autoscale: sample host metrics: %w", err)
	}
	instances, err := s.hooks.DiscoverInstances(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("autoscale: discover instances: %w", err)
	}

	now := s.now()
	current := len(instances)
	load := metrics.Load()
	d := Decision{
		Action:  ActionNoOp,
		Current: current,
		Target:  current,
		Metrics: metrics,
		MadeAt:  now,
	}

	if last := s.LastAction(); !last.IsZero() && now.Sub(last) < s.cfg.Cooldown {
		d.Reason = fmt.Sprintf("in cooldown until %s",
			last.Add(s.cfg.Cooldown).Format(time.RFC3339))
		return d, nil
	}

	switch {
	case load >= s.cfg.ScaleUpThreshold && current < s.cfg.MaxInstances:
		d.Action = ActionUp
		d.Target = current + 1
		d.Reason = fmt.Sprintf("load %.2f at or above %.2f", load, s.cfg.ScaleUpThreshold)
	case load <= s.cfg.ScaleDownThreshold && current > s.cfg.MinInstances:
		d.Action = ActionDown
		d.Target = current - 1
		d.Reason = fmt.Sprintf("load %.2f at or below %.2f", load, s.cfg.ScaleDownThreshold)
	default:
		d.Reason = fmt.Sprintf("load %.2f within thresholds or pool at bounds", load)
	}
	return d, nil
}

// Tick runs one full loop iteration: evaluate, then execute a non-NoOp
// decision. Hook failures leave the last-action timestamp untouched so the
// next tick can retry.
func (s *Scaler) Tick(ctx context.Context) (Decision, error) {
	if s.health != nil && s.health.SystemHealth() == health.SystemCritical {
		// Surfaced only. Scaling does not repair a critical service.
		slog.Warn("system health critical during autoscale tick")
	}

	d, err := s.Evaluate(ctx)
	if err != nil {
		return Decision{}, err
	}
	if d.Action == ActionNoOp {
		slog.Debug("autoscale noop", "reason", d.Reason, "current", d.Current, "load", d.Metrics.Load())
		return d, nil
	}

	if err := s.execute(ctx, d); err != nil {
		return d, err
	}

	s.mu.Lock()
	s.lastAction = d.MadeAt
	s.mu.Unlock()

	slog.Info("scaling action executed",
		"action", d.Action, "from", d.Current, "to", d.Target, "reason", d.Reason)
	s.sink.Emit(event.ScalingExecuted{
		Action: d.Action.String(), From: d.Current, To: d.Target, Reason: d.Reason,
	})
	if s.metrics != nil {
		s.metrics.RecordScalingAction(ctx, d.Action.String())
		s.metrics.WorkerInstances.Add(ctx, int64(d.Target-d.Current))
	}
	return d, nil
}

// execute performs the start/stop and router-reload hook sequence for one
// non-NoOp decision.
func (s *Scaler) execute(ctx context.Context, d Decision) error {
	instances, err := s.hooks.DiscoverInstances(ctx)
	if err != nil {
		return fmt.Errorf("autoscale: rediscover instances: %w", err)
	}

	switch d.Action {
	case ActionUp:
		id := nextInstanceID(instances)
		if err := s.hooks.StartInstance(ctx, id); err != nil {
			return fmt.Errorf("autoscale: start instance %s: %w", id, err)
		}
		if err := s.hooks.CheckBackendHealth(ctx, id); err != nil {
			return fmt.Errorf("autoscale: backend health check for %s: %w", id, err)
		}
	case ActionDown:
		if len(instances) == 0 {
			return fmt.Errorf("autoscale: no instances to stop")
		}
		id := instances[len(instances)-1]
		if err := s.hooks.StopInstance(ctx, id); err != nil {
			return fmt.Errorf("autoscale: stop instance %s: %w", id, err)
		}
	}

	if err := s.hooks.ReloadRouter(ctx); err != nil {
		return fmt.Errorf("autoscale: reload router: %w", err)
	}
	return nil
}

// Run executes Tick on the configured interval until ctx is cancelled. Tick
// errors are logged and do not stop the loop.
func (s *Scaler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	slog.Info("autoscaler started",
		"check_interval", s.cfg.CheckInterval, "cooldown", s.cfg.Cooldown,
		"min", s.cfg.MinInstances, "max", s.cfg.MaxInstances)

	for {
		select {
		case <-ctx.Done():
			slog.Info("autoscaler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				slog.Error("autoscale tick failed", "error", err)
			}
		}
	}
}

// nextInstanceID picks a worker id not present in the current pool.
func nextInstanceID(instances []string) string {
	taken := make(map[string]bool, len(instances))
	for _, id := range instances {
		taken[id] = true
	}
	for n := 1; ; n++ {
		id := fmt.Sprintf("worker-%d", n)
		if !taken[id] {
			return id
		}
	}
}
