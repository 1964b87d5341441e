package autoscale

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mandivoice/mandivoice/internal/event"
)

// mockHooks is an in-memory Hooks implementation recording every call.
type mockHooks struct {
	mu        sync.Mutex
	metrics   HostMetrics
	instances []string

	started      []string
	stopped      []string
	healthChecks []string
	reloads      int

	metricsErr error
	startErr   error
	stopErr    error
	reloadErr  error
	healthErr  error
}

func (h *mockHooks) GetHostMetrics(context.Context) (HostMetrics, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.metricsErr != nil {
		return HostMetrics{}, h.metricsErr
	}
	return h.metrics, nil
}

func (h *mockHooks) DiscoverInstances(context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.instances))
	copy(out, h.instances)
	return out, nil
}

func (h *mockHooks) StartInstance(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startErr != nil {
		return h.startErr
	}
	h.started = append(h.started, id)
	h.instances = append(h.instances, id)
	return nil
}

func (h *mockHooks) StopInstance(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopErr != nil {
		return h.stopErr
	}
	h.stopped = append(h.stopped, id)
	for i, cur := range h.instances {
		if cur == id {
			h.instances = append(h.instances[:i], h.instances[i+1:]...)
			break
		}
	}
	return nil
}

func (h *mockHooks) ReloadRouter(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reloadErr != nil {
		return h.reloadErr
	}
	h.reloads++
	return nil
}

func (h *mockHooks) CheckBackendHealth(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.healthErr != nil {
		return h.healthErr
	}
	h.healthChecks = append(h.healthChecks, id)
	return nil
}

func instanceIDs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("worker-%d", i+1)
	}
	return out
}

func newTestScaler(t *testing.T, hooks *mockHooks, opts ...ScalerOption) *Scaler {
	t.Helper()
	s, err := NewScaler(DefaultConfig(), hooks, opts...)
	if err != nil {
		t.Fatalf("NewScaler: %v", err)
	}
	return s
}

func TestHostMetrics_Load(t *testing.T) {
	tests := []struct {
		cpu, mem float64
		want     float64
	}{
		{0, 0, 0},
		{1, 1, 1},
		{0.5, 0.5, 0.5},
		{0.8, 0.3, 0.65},
		{2, 2, 1},    // clamped high
		{-1, -1, 0},  // clamped low
		{1, 0, 0.7},  // cpu weight
		{0, 1, 0.3},  // memory weight
	}
	for _, tc := range tests {
		m := HostMetrics{CPUFraction: tc.cpu, MemoryFraction: tc.mem}
		if got := m.Load(); got != tc.want {
			t.Errorf("Load(cpu=%.1f, mem=%.1f) = %.3f, want %.3f", tc.cpu, tc.mem, got, tc.want)
		}
	}
}

func TestEvaluate_ScaleUpAtExactThreshold(t *testing.T) {
	// Load = 0.7*0.8 + 0.3*0.8 = 0.80 exactly; the threshold is inclusive.
	hooks := &mockHooks{
		metrics:   HostMetrics{CPUFraction: 0.80, MemoryFraction: 0.80},
		instances: instanceIDs(2),
	}
	s := newTestScaler(t, hooks)

	d, err := s.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Action != ActionUp || d.Target != 3 {
		t.Errorf("decision = %s target %d, want up target 3", d.Action, d.Target)
	}
}

func TestEvaluate_ScaleDownAtExactThreshold(t *testing.T) {
	hooks := &mockHooks{
		metrics:   HostMetrics{CPUFraction: 0.30, MemoryFraction: 0.30},
		instances: instanceIDs(3),
	}
	s := newTestScaler(t, hooks)

	d, err := s.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Action != ActionDown || d.Target != 2 {
		t.Errorf("decision = %s target %d, want down target 2", d.Action, d.Target)
	}
}

func TestEvaluate_HysteresisGap(t *testing.T) {
	hooks := &mockHooks{
		metrics:   HostMetrics{CPUFraction: 0.5, MemoryFraction: 0.5},
		instances: instanceIDs(1),
	}
	s := newTestScaler(t, hooks)

	d, err := s.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Action != ActionNoOp {
		t.Errorf("decision at 50%% load = %s, want noop", d.Action)
	}
}

func TestEvaluate_PoolBounds(t *testing.T) {
	t.Run("at max no scale up", func(t *testing.T) {
		hooks := &mockHooks{
			metrics:   HostMetrics{CPUFraction: 0.95, MemoryFraction: 0.95},
			instances: instanceIDs(DefaultMaxInstances),
		}
		s := newTestScaler(t, hooks)
		d, err := s.Evaluate(context.Background())
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if d.Action != ActionNoOp {
			t.Errorf("decision = %s, want noop at max instances", d.Action)
		}
	})

	t.Run("at min no scale down", func(t *testing.T) {
		hooks := &mockHooks{
			metrics:   HostMetrics{CPUFraction: 0.05, MemoryFraction: 0.05},
			instances: instanceIDs(DefaultMinInstances),
		}
		s := newTestScaler(t, hooks)
		d, err := s.Evaluate(context.Background())
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if d.Action != ActionNoOp {
			t.Errorf("decision = %s, want noop at min instances", d.Action)
		}
	})
}

func TestTick_CooldownSuppressesAction(t *testing.T) {
	hooks := &mockHooks{
		metrics:   HostMetrics{CPUFraction: 0.95, MemoryFraction: 0.95},
		instances: instanceIDs(2),
	}
	s := newTestScaler(t, hooks)

	now := time.Now()
	s.now = func() time.Time { return now }
	s.lastAction = now.Add(-60 * time.Second)

	d, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if d.Action != ActionNoOp {
		t.Errorf("decision = %s, want noop in cooldown", d.Action)
	}
	if !strings.Contains(d.Reason, "cooldown") {
		t.Errorf("reason = %q, want it to name the cooldown", d.Reason)
	}
	if len(hooks.started) != 0 {
		t.Errorf("StartInstance called %d times during cooldown, want 0", len(hooks.started))
	}
	if got := s.LastAction(); !got.Equal(now.Add(-60 * time.Second)) {
		t.Errorf("lastAction changed during noop: %v", got)
	}
}

func TestTick_ScaleUpExecutesHookSequence(t *testing.T) {
	sink := event.NewChanSink(8)
	hooks := &mockHooks{
		metrics:   HostMetrics{CPUFraction: 0.9, MemoryFraction: 0.9},
		instances: instanceIDs(2),
	}
	s := newTestScaler(t, hooks, WithSink(sink))
	now := time.Now()
	s.now = func() time.Time { return now }

	d, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if d.Action != ActionUp {
		t.Fatalf("action = %s, want up", d.Action)
	}

	if len(hooks.started) != 1 || hooks.started[0] != "worker-3" {
		t.Errorf("started = %v, want [worker-3]", hooks.started)
	}
	if len(hooks.healthChecks) != 1 || hooks.healthChecks[0] != "worker-3" {
		t.Errorf("health checks = %v, want [worker-3]", hooks.healthChecks)
	}
	if hooks.reloads != 1 {
		t.Errorf("router reloads = %d, want 1", hooks.reloads)
	}
	if !s.LastAction().Equal(now) {
		t.Errorf("lastAction = %v, want %v", s.LastAction(), now)
	}

	select {
	case ev := <-sink.Events():
		scaled, ok := ev.(event.ScalingExecuted)
		if !ok {
			t.Fatalf("event = %T, want ScalingExecuted", ev)
		}
		if scaled.Action != "up" || scaled.From != 2 || scaled.To != 3 {
			t.Errorf("event = %+v", scaled)
		}
	default:
		t.Error("no ScalingExecuted event emitted")
	}
}

func TestTick_ScaleDownStopsLastInstance(t *testing.T) {
	hooks := &mockHooks{
		metrics:   HostMetrics{CPUFraction: 0.1, MemoryFraction: 0.1},
		instances: instanceIDs(3),
	}
	s := newTestScaler(t, hooks)

	d, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if d.Action != ActionDown {
		t.Fatalf("action = %s, want down", d.Action)
	}
	if len(hooks.stopped) != 1 || hooks.stopped[0] != "worker-3" {
		t.Errorf("stopped = %v, want [worker-3]", hooks.stopped)
	}
	if hooks.reloads != 1 {
		t.Errorf("router reloads = %d, want 1", hooks.reloads)
	}
}

func TestTick_HookFailureKeepsLastActionForRetry(t *testing.T) {
	hooks := &mockHooks{
		metrics:   HostMetrics{CPUFraction: 0.9, MemoryFraction: 0.9},
		instances: instanceIDs(2),
		startErr:  errors.New("provisioning failed"),
	}
	s := newTestScaler(t, hooks)

	if _, err := s.Tick(context.Background()); err == nil {
		t.Fatal("expected error from failed StartInstance")
	}
	if !s.LastAction().IsZero() {
		t.Errorf("lastAction = %v, want zero after hook failure", s.LastAction())
	}

	// The next tick retries and succeeds.
	hooks.mu.Lock()
	hooks.startErr = nil
	hooks.mu.Unlock()
	d, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("retry tick: %v", err)
	}
	if d.Action != ActionUp || s.LastAction().IsZero() {
		t.Errorf("retry: action = %s, lastAction = %v", d.Action, s.LastAction())
	}
}

func TestTick_RouterReloadFailureKeepsLastAction(t *testing.T) {
	hooks := &mockHooks{
		metrics:   HostMetrics{CPUFraction: 0.1, MemoryFraction: 0.1},
		instances: instanceIDs(3),
		reloadErr: errors.New("router unreachable"),
	}
	s := newTestScaler(t, hooks)

	if _, err := s.Tick(context.Background()); err == nil {
		t.Fatal("expected error from failed ReloadRouter")
	}
	if !s.LastAction().IsZero() {
		t.Errorf("lastAction = %v, want zero", s.LastAction())
	}
}

func TestTick_ConsecutiveActionsRespectCooldown(t *testing.T) {
	hooks := &mockHooks{
		metrics:   HostMetrics{CPUFraction: 0.9, MemoryFraction: 0.9},
		instances: instanceIDs(1),
	}
	s := newTestScaler(t, hooks)
	now := time.Now()
	s.now = func() time.Time { return now }

	if d, err := s.Tick(context.Background()); err != nil || d.Action != ActionUp {
		t.Fatalf("first tick: %v %v", d.Action, err)
	}

	// Still inside cooldown.
	now = now.Add(DefaultCooldown - time.Second)
	d, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if d.Action != ActionNoOp {
		t.Errorf("second tick action = %s, want noop", d.Action)
	}

	// Cooldown elapsed.
	now = now.Add(2 * time.Second)
	d, err = s.Tick(context.Background())
	if err != nil {
		t.Fatalf("third tick: %v", err)
	}
	if d.Action != ActionUp {
		t.Errorf("third tick action = %s, want up", d.Action)
	}
}

func TestEvaluate_MetricsErrorSurfaces(t *testing.T) {
	hooks := &mockHooks{metricsErr: errors.New("prometheus down")}
	s := newTestScaler(t, hooks)

	if _, err := s.Evaluate(context.Background()); err == nil {
		t.Fatal("expected error when metrics sampling fails")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero min", func(c *Config) { c.MinInstances = 0 }},
		{"max below min", func(c *Config) { c.MaxInstances = 0 }},
		{"inverted thresholds", func(c *Config) { c.ScaleUpThreshold = 0.2 }},
		{"threshold above one", func(c *Config) { c.ScaleUpThreshold = 1.5 }},
		{"zero cooldown", func(c *Config) { c.Cooldown = 0 }},
		{"zero interval", func(c *Config) { c.CheckInterval = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MANDIVOICE_AUTOSCALE_MIN_INSTANCES", "2")
	t.Setenv("MANDIVOICE_AUTOSCALE_MAX_INSTANCES", "8")
	t.Setenv("MANDIVOICE_AUTOSCALE_COOLDOWN", "120")
	t.Setenv("MANDIVOICE_AUTOSCALE_PROMETHEUS_URL", "http://prom:9090")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.MinInstances != 2 || cfg.MaxInstances != 8 {
		t.Errorf("instances = %d/%d, want 2/8", cfg.MinInstances, cfg.MaxInstances)
	}
	if cfg.Cooldown != 120*time.Second {
		t.Errorf("cooldown = %v, want 2m", cfg.Cooldown)
	}
	if cfg.PrometheusURL != "http://prom:9090" {
		t.Errorf("prometheus url = %q", cfg.PrometheusURL)
	}
	// Unset keys keep defaults.
	if cfg.ScaleUpThreshold != DefaultScaleUpThreshold {
		t.Errorf("scale up threshold = %v, want default", cfg.ScaleUpThreshold)
	}
}

func TestConfigFromEnv_BadValue(t *testing.T) {
	t.Setenv("MANDIVOICE_AUTOSCALE_MIN_INSTANCES", "many")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatal("expected error for non-numeric value")
	}
}
