package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NodeName != "citadel" {
		t.Fatalf("expected default node name, got %q", cfg.NodeName)
	}
}

func TestLoadParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "citadel.toml")
	content := `
node_name = "bbs1"
[[listeners]]
network = "unix"
address = "/var/run/citadel.socket"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NodeName != "bbs1" {
		t.Fatalf("expected bbs1, got %q", cfg.NodeName)
	}
	if len(cfg.Listeners) != 1 || cfg.Listeners[0].Network != "unix" {
		t.Fatalf("unexpected listeners: %+v", cfg.Listeners)
	}
}

func TestValidateRejectsEmptyListeners(t *testing.T) {
	cfg := Default()
	cfg.Listeners = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for no listeners")
	}
}

func TestWatcherPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "citadel.toml")
	if err := os.WriteFile(path, []byte(`node_name = "first"`), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if got := w.Get().NodeName; got != "first" {
		t.Fatalf("expected first, got %q", got)
	}

	if err := os.WriteFile(path, []byte(`node_name = "second"`), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Get().NodeName == "second" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("watcher did not pick up change, got %q", w.Get().NodeName)
}
