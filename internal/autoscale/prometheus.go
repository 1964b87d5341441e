package autoscale

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// Default PromQL expressions for host-level resource fractions, matching the
// standard node_exporter metric names.
const (
	defaultCPUQuery = `1 - avg(rate(node_cpu_seconds_total{mode="idle"}[5m]))`
	defaultMemQuery = `1 - (node_memory_MemAvailable_bytes / node_memory_MemTotal_bytes)`
	defaultDiskQuery = `1 - (node_filesystem_avail_bytes{mountpoint="/"} / node_filesystem_size_bytes{mountpoint="/"})`
)

// PrometheusMetricsSource samples [HostMetrics] from a Prometheus server. It
// implements [MetricsSource] and is meant to be embedded in a full [Hooks]
// implementation.
type PrometheusMetricsSource struct {
	api       promv1.API
	cpuQuery  string
	memQuery  string
	diskQuery string
}

// PrometheusOption is a functional option for configuring a
// PrometheusMetricsSource.
type PrometheusOption func(*PrometheusMetricsSource)

// WithCPUQuery overrides the PromQL expression for the CPU fraction.
func WithCPUQuery(q string) PrometheusOption {
	return func(p *PrometheusMetricsSource) { p.cpuQuery = q }
}

// WithMemoryQuery overrides the PromQL expression for the memory fraction.
func WithMemoryQuery(q string) PrometheusOption {
	return func(p *PrometheusMetricsSource) { p.memQuery = q }
}

// WithDiskQuery overrides the PromQL expression for the disk fraction.
func WithDiskQuery(q string) PrometheusOption {
	return func(p *PrometheusMetricsSource) { p.diskQuery = q }
}

// NewPrometheusMetricsSource creates a metrics source querying the Prometheus
// server at baseURL.
func NewPrometheusMetricsSource(baseURL string, opts ...PrometheusOption) (*PrometheusMetricsSource, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("autoscale: prometheus url must not be empty")
	}
	client, err := api.NewClient(api.Config{Address: baseURL})
	if err != nil {
		return nil, fmt.Errorf("autoscale: prometheus client: %w", err)
	}
	p := &PrometheusMetricsSource{
		api:       promv1.NewAPI(client),
		cpuQuery:  defaultCPUQuery,
		memQuery:  defaultMemQuery,
		diskQuery: defaultDiskQuery,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// GetHostMetrics implements [MetricsSource]. The disk query is best-effort: a
// failure there leaves DiskFraction zero, since only CPU and memory feed the
// load signal.
func (p *PrometheusMetricsSource) GetHostMetrics(ctx context.Context) (HostMetrics, error) {
	now := time.Now()

	cpu, err := p.scalar(ctx, p.cpuQuery, now)
	if err != nil {
		return HostMetrics{}, fmt.Errorf("autoscale: cpu query: %w", err)
	}
	mem, err := p.scalar(ctx, p.memQuery, now)
	if err != nil {
		return HostMetrics{}, fmt.Errorf("autoscale: memory query: %w", err)
	}
	disk, _ := p.scalar(ctx, p.diskQuery, now)

	return HostMetrics{
		CPUFraction:    cpu,
		MemoryFraction: mem,
		DiskFraction:   disk,
		SampledAt:      now,
	}, nil
}

// scalar evaluates a PromQL expression and returns the first sample value.
func (p *PrometheusMetricsSource) scalar(ctx context.Context, query string, ts time.Time) (float64, error) {
	result, warnings, err := p.api.Query(ctx, query, ts)
	if err != nil {
		return 0, err
	}
	_ = warnings

	switch v := result.(type) {
	case model.Vector:
		if len(v) == 0 {
			return 0, fmt.Errorf("query %q returned no samples", query)
		}
		return float64(v[0].Value), nil
	case *model.Scalar:
		return float64(v.Value), nil
	default:
		return 0, fmt.Errorf("query %q returned unexpected type %s", query, result.Type())
	}
}
