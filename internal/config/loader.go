package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"speech": {"bhashini"},
	"llm":    {"openai", "anthropic", "gemini", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("speech", cfg.Providers.Speech.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	// Provider availability
	if cfg.Providers.Speech.Name == "" {
		slog.Warn("no speech provider configured; the voice pipeline will not be available")
	} else if cfg.Providers.Speech.BaseURL == "" {
		errs = append(errs, errors.New("providers.speech.base_url is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; negotiation suggestions will not be available")
	} else if cfg.Providers.LLM.Model == "" {
		errs = append(errs, errors.New("providers.llm.model is required"))
	}

	// Pipeline budgets
	for _, b := range []struct {
		name string
		d    Duration
	}{
		{"pipeline.detect_budget", cfg.Pipeline.DetectBudget},
		{"pipeline.transcribe_budget", cfg.Pipeline.TranscribeBudget},
		{"pipeline.translate_budget", cfg.Pipeline.TranslateBudget},
		{"pipeline.synthesize_budget", cfg.Pipeline.SynthesizeBudget},
		{"pipeline.total_budget", cfg.Pipeline.TotalBudget},
		{"pipeline.retry_base_delay", cfg.Pipeline.RetryBaseDelay},
	} {
		if b.d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", b.name))
		}
	}
	budgets := cfg.Pipeline.Budgets()
	if budgets.Total < budgets.Detect || budgets.Total < budgets.Transcribe ||
		budgets.Total < budgets.Translate || budgets.Total < budgets.Synthesize {
		slog.Warn("pipeline total budget is below a single stage budget; every utterance will raise a latency alert",
			"total", budgets.Total,
		)
	}

	// Session
	if cfg.Session.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("session.max_concurrent %d must not be negative", cfg.Session.MaxConcurrent))
	}

	// Store availability
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; sessions will not survive a restart")
	}

	// Autoscaler
	if cfg.Autoscale.Enabled {
		if err := cfg.Autoscale.ScalerConfig().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("autoscale: %w", err))
		}
		if cfg.Autoscale.PrometheusURL == "" {
			errs = append(errs, errors.New("autoscale.prometheus_url is required when autoscale is enabled"))
		}
		for _, c := range []struct {
			name string
			cmd  []string
		}{
			{"discover_command", cfg.Autoscale.DiscoverCommand},
			{"start_command", cfg.Autoscale.StartCommand},
			{"stop_command", cfg.Autoscale.StopCommand},
			{"reload_command", cfg.Autoscale.ReloadCommand},
		} {
			if len(c.cmd) == 0 {
				errs = append(errs, fmt.Errorf("autoscale.%s is required when autoscale is enabled", c.name))
			}
		}
	}

	// Events
	if cfg.Events.Buffer < 0 {
		errs = append(errs, fmt.Errorf("events.buffer %d must not be negative", cfg.Events.Buffer))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
