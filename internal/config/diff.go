package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// everything else sets RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged is true when budgets, retry pacing, or the partial
	// response default changed. The orchestrator picks these up per request.
	PipelineChanged bool

	// AutoscaleChanged is true when thresholds, bounds, or timing of the
	// autoscaler changed. The scaler applies them on its next tick.
	AutoscaleChanged bool

	// RestartRequired is true when a change cannot be applied live:
	// listen address, TLS, providers, store DSN, or event surfaces.
	RestartRequired bool
}

// Changed reports whether the diff records any difference at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PipelineChanged || d.AutoscaleChanged || d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Pipeline != new.Pipeline {
		d.PipelineChanged = true
	}

	if !reflect.DeepEqual(old.Autoscale, new.Autoscale) {
		d.AutoscaleChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) ||
		!providersEqual(old.Providers, new.Providers) ||
		old.Store != new.Store ||
		old.Session != new.Session ||
		old.Events != new.Events {
		d.RestartRequired = true
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.Speech, b.Speech) && entryEqual(a.LLM, b.LLM)
}

func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && reflect.DeepEqual(a.Options, b.Options)
}
