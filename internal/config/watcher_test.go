package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const watcherYAMLv1 = "server:\n  listen_addr: \":8080\"\n  log_level: info\n"
const watcherYAMLv2 = "server:\n  listen_addr: \":8080\"\n  log_level: debug\n"

func newWatcherFixture(t *testing.T) (path string, changes chan ConfigDiff, w *Watcher) {
	t.Helper()

	path = filepath.Join(t.TempDir(), "mandivoice.yaml")
	if err := os.WriteFile(path, []byte(watcherYAMLv1), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	changes = make(chan ConfigDiff, 8)
	w, err := NewWatcher(path, func(old, new *Config) {
		changes <- Diff(old, new)
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, changes, w
}

func rewrite(t *testing.T, path, content string) {
	t.Helper()
	// Leave room between writes so the mtime comparison sees a change even
	// on filesystems with coarse timestamp granularity.
	time.Sleep(20 * time.Millisecond)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
}

func waitForChange(t *testing.T, changes chan ConfigDiff) ConfigDiff {
	t.Helper()
	select {
	case d := <-changes:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
		return ConfigDiff{}
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	_, _, w := newWatcherFixture(t)

	if got := w.Current().Server.LogLevel; got != LogInfo {
		t.Errorf("initial log level = %q, want info", got)
	}
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mandivoice.yaml")
	if err := os.WriteFile(path, []byte("server:\n  log_level: loud\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path, changes, w := newWatcherFixture(t)

	rewrite(t, path, watcherYAMLv2)

	d := waitForChange(t, changes)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Errorf("diff = %+v, want log level change to debug", d)
	}
	if got := w.Current().Server.LogLevel; got != LogDebug {
		t.Errorf("current log level = %q, want debug", got)
	}
}

func TestWatcher_KeepsOldConfigOnInvalidEdit(t *testing.T) {
	path, changes, w := newWatcherFixture(t)

	rewrite(t, path, "server:\n  log_level: loud\n")

	// Give the poller a few cycles to observe the broken file.
	time.Sleep(100 * time.Millisecond)

	select {
	case d := <-changes:
		t.Fatalf("unexpected reload %+v for invalid config", d)
	default:
	}
	if got := w.Current().Server.LogLevel; got != LogInfo {
		t.Errorf("current log level = %q, want the previous valid config", got)
	}
}

func TestWatcher_IgnoresTouchWithoutContentChange(t *testing.T) {
	path, changes, _ := newWatcherFixture(t)

	rewrite(t, path, watcherYAMLv1)

	time.Sleep(100 * time.Millisecond)
	select {
	case d := <-changes:
		t.Fatalf("unexpected reload %+v for identical content", d)
	default:
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	_, _, w := newWatcherFixture(t)
	w.Stop()
	w.Stop()
}
