package autoscale

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ExecHooks implements [Hooks] by shelling out to operator-supplied commands.
// This matches the common deployment where workers are systemd template units
// or containers and the router is reloaded via its CLI, e.g.:
//
//	discover: ["sh", "-c", "systemctl list-units 'mandivoice-worker@*' --state=running --plain --no-legend | cut -d. -f1 | cut -d@ -f2"]
//	start:    ["systemctl", "start"]
//	stop:     ["systemctl", "stop"]
//	reload:   ["systemctl", "reload", "haproxy"]
//	health:   ["curl", "-sf"]
//
// Start, stop, and health commands receive the instance id appended as their
// final argument. Discover must print one instance id per line.
//
// Host metrics come from the embedded [MetricsSource], typically a
// [PrometheusMetricsSource].
type ExecHooks struct {
	Source MetricsSource

	Discover []string
	Start    []string
	Stop     []string
	Reload   []string

	// Health is optional; when empty, CheckBackendHealth always succeeds.
	Health []string
}

var _ Hooks = (*ExecHooks)(nil)

// Validate checks that all required commands are present.
func (h *ExecHooks) Validate() error {
	var errs []error
	if h.Source == nil {
		errs = append(errs, errors.New("exec hooks: metrics source is required"))
	}
	for _, c := range []struct {
		name string
		cmd  []string
	}{
		{"discover", h.Discover},
		{"start", h.Start},
		{"stop", h.Stop},
		{"reload", h.Reload},
	} {
		if len(c.cmd) == 0 {
			errs = append(errs, fmt.Errorf("exec hooks: %s command is required", c.name))
		}
	}
	return errors.Join(errs...)
}

// GetHostMetrics delegates to the configured metrics source.
func (h *ExecHooks) GetHostMetrics(ctx context.Context) (HostMetrics, error) {
	return h.Source.GetHostMetrics(ctx)
}

// DiscoverInstances runs the discover command and parses one instance id per
// output line. Blank lines are skipped.
func (h *ExecHooks) DiscoverInstances(ctx context.Context) ([]string, error) {
	out, err := h.run(ctx, h.Discover)
	if err != nil {
		return nil, fmt.Errorf("discover instances: %w", err)
	}

	var ids []string
	for _, line := range strings.Split(out, "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// StartInstance runs the start command with the instance id appended.
func (h *ExecHooks) StartInstance(ctx context.Context, id string) error {
	if _, err := h.run(ctx, append(h.Start, id)); err != nil {
		return fmt.Errorf("start instance %s: %w", id, err)
	}
	return nil
}

// StopInstance runs the stop command with the instance id appended.
func (h *ExecHooks) StopInstance(ctx context.Context, id string) error {
	if _, err := h.run(ctx, append(h.Stop, id)); err != nil {
		return fmt.Errorf("stop instance %s: %w", id, err)
	}
	return nil
}

// ReloadRouter runs the reload command.
func (h *ExecHooks) ReloadRouter(ctx context.Context) error {
	if _, err := h.run(ctx, h.Reload); err != nil {
		return fmt.Errorf("reload router: %w", err)
	}
	return nil
}

// CheckBackendHealth runs the health command with the instance id appended.
// A missing health command means no check is performed.
func (h *ExecHooks) CheckBackendHealth(ctx context.Context, id string) error {
	if len(h.Health) == 0 {
		return nil
	}
	if _, err := h.run(ctx, append(h.Health, id)); err != nil {
		return fmt.Errorf("health check %s: %w", id, err)
	}
	return nil
}

// run executes one command, returning its stdout. On failure the error
// includes trailing stderr output to make operator mistakes visible in logs.
func (h *ExecHooks) run(ctx context.Context, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return "", fmt.Errorf("%s: %w", argv[0], err)
	}
	return stdout.String(), nil
}
