// Package autoscale implements the worker-pool autoscaling control loop.
//
// A single [Scaler] samples host load on a fixed interval, decides between
// scaling up, scaling down, or doing nothing, and executes decisions through
// external [Hooks]. Cooldown hysteresis guarantees a minimum interval between
// consecutive executed actions; the threshold gap guarantees an instance
// oscillating around moderate load never flaps.
package autoscale

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Action is the outcome of one scaling decision.
type Action int

const (
	ActionNoOp Action = iota
	ActionUp
	ActionDown
)

// String returns the lower-case name of the action.
func (a Action) String() string {
	switch a {
	case ActionUp:
		return "up"
	case ActionDown:
		return "down"
	default:
		return "noop"
	}
}

// HostMetrics is one instantaneous sample of host resource usage. All
// fractions are in [0, 1].
type HostMetrics struct {
	CPUFraction    float64
	MemoryFraction float64
	DiskFraction   float64
	OpenConns      int
	SampledAt      time.Time
}

// Load is the scalar scaling signal: 0.7·cpu + 0.3·memory, clamped to [0, 1].
func (m HostMetrics) Load() float64 {
	load := 0.7*m.CPUFraction + 0.3*m.MemoryFraction
	if load < 0 {
		return 0
	}
	if load > 1 {
		return 1
	}
	return load
}

// Decision is the result of one loop tick, produced before execution.
type Decision struct {
	Action  Action
	Current int
	Target  int
	Reason  string
	Metrics HostMetrics
	MadeAt  time.Time
}

// MetricsSource samples host metrics. The production implementation is
// [PrometheusMetricsSource]; tests supply fixed samples.
type MetricsSource interface {
	GetHostMetrics(ctx context.Context) (HostMetrics, error)
}

// Hooks is the external surface the scaler acts through. Implementations talk
// to whatever runs the worker pool (systemd units, containers, cloud
// instances); the scaler itself never touches workers directly.
type Hooks interface {
	MetricsSource

	// DiscoverInstances returns the ids of the currently running workers.
	DiscoverInstances(ctx context.Context) ([]string, error)

	// StartInstance launches a new worker under the given id.
	StartInstance(ctx context.Context, id string) error

	// StopInstance terminates the worker with the given id.
	StopInstance(ctx context.Context, id string) error

	// ReloadRouter refreshes the request router after pool membership changed.
	ReloadRouter(ctx context.Context) error

	// CheckBackendHealth verifies a freshly started worker accepts traffic.
	CheckBackendHealth(ctx context.Context, id string) error
}

// Defaults for [Config].
const (
	DefaultMinInstances       = 1
	DefaultMaxInstances       = 5
	DefaultScaleUpThreshold   = 0.80
	DefaultScaleDownThreshold = 0.30
	DefaultCooldown           = 300 * time.Second
	DefaultCheckInterval      = 60 * time.Second
)

// Config tunes the scaling loop.
type Config struct {
	MinInstances       int           `yaml:"min_instances"`
	MaxInstances       int           `yaml:"max_instances"`
	ScaleUpThreshold   float64       `yaml:"scale_up_threshold"`
	ScaleDownThreshold float64       `yaml:"scale_down_threshold"`
	Cooldown           time.Duration `yaml:"cooldown"`
	CheckInterval      time.Duration `yaml:"check_interval"`
	PrometheusURL      string        `yaml:"prometheus_url"`
}

// DefaultConfig returns the design-default scaling configuration.
func DefaultConfig() Config {
	return Config{
		MinInstances:       DefaultMinInstances,
		MaxInstances:       DefaultMaxInstances,
		ScaleUpThreshold:   DefaultScaleUpThreshold,
		ScaleDownThreshold: DefaultScaleDownThreshold,
		Cooldown:           DefaultCooldown,
		CheckInterval:      DefaultCheckInterval,
	}
}

// Validate checks internal consistency of the configuration.
func (c Config) Validate() error {
	if c.MinInstances < 1 {
		return fmt.Errorf("autoscale config: min_instances must be at least 1, got %d", c.MinInstances)
	}
	if c.MaxInstances < c.MinInstances {
		return fmt.Errorf("autoscale config: max_instances %d below min_instances %d",
			c.MaxInstances, c.MinInstances)
	}
	if c.ScaleUpThreshold <= c.ScaleDownThreshold {
		return fmt.Errorf("autoscale config: scale_up_threshold %.2f must exceed scale_down_threshold %.2f",
			c.ScaleUpThreshold, c.ScaleDownThreshold)
	}
	if c.ScaleUpThreshold > 1 || c.ScaleDownThreshold < 0 {
		return fmt.Errorf("autoscale config: thresholds must lie in [0, 1]")
	}
	if c.Cooldown <= 0 || c.CheckInterval <= 0 {
		return fmt.Errorf("autoscale config: cooldown and check_interval must be positive")
	}
	return nil
}

// ConfigFromEnv builds a Config from MANDIVOICE_AUTOSCALE_* environment
// variables, falling back to defaults for unset keys. Durations are given in
// seconds.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	var err error

	if cfg.MinInstances, err = envInt("MANDIVOICE_AUTOSCALE_MIN_INSTANCES", cfg.MinInstances); err != nil {
		return Config{}, err
	}
	if cfg.MaxInstances, err = envInt("MANDIVOICE_AUTOSCALE_MAX_INSTANCES", cfg.MaxInstances); err != nil {
		return Config{}, err
	}
	if cfg.ScaleUpThreshold, err = envFloat("MANDIVOICE_AUTOSCALE_SCALE_UP_THRESHOLD", cfg.ScaleUpThreshold); err != nil {
		return Config{}, err
	}
	if cfg.ScaleDownThreshold, err = envFloat("MANDIVOICE_AUTOSCALE_SCALE_DOWN_THRESHOLD", cfg.ScaleDownThreshold); err != nil {
		return Config{}, err
	}
	if cfg.Cooldown, err = envSeconds("MANDIVOICE_AUTOSCALE_COOLDOWN", cfg.Cooldown); err != nil {
		return Config{}, err
	}
	if cfg.CheckInterval, err = envSeconds("MANDIVOICE_AUTOSCALE_CHECK_INTERVAL", cfg.CheckInterval); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("MANDIVOICE_AUTOSCALE_PROMETHEUS_URL"); v != "" {
		cfg.PrometheusURL = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("autoscale config: %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("autoscale config: %s: %w", key, err)
	}
	return f, nil
}

func envSeconds(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("autoscale config: %s: %w", key, err)
	}
	return time.Duration(secs) * time.Second, nil
}
