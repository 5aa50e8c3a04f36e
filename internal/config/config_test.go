package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	mgr := NewManager()
	if err := mgr.Load(""); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := mgr.Get()
	if cfg.Port != 4020 || cfg.BindAddr != "127.0.0.1" || cfg.IsHQ {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"port": 9000, "isHQ": true}`), 0644); err != nil {
		t.Fatal(err)
	}
	mgr := NewManager()
	if err := mgr.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := mgr.Get()
	if cfg.Port != 9000 || !cfg.IsHQ {
		t.Errorf("file values not applied: %+v", cfg)
	}
	// Untouched fields still fall back to defaults.
	if cfg.ScrollbackRows != 2000 {
		t.Errorf("expected default ScrollbackRows, got %d", cfg.ScrollbackRows)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("port: 9001\nbindAddr: 0.0.0.0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	mgr := NewManager()
	if err := mgr.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := mgr.Get()
	if cfg.Port != 9001 || cfg.BindAddr != "0.0.0.0" {
		t.Errorf("yaml values not applied: %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"port": 9000}`), 0644)

	t.Setenv("VT_PORT", "9500")
	mgr := NewManager()
	if err := mgr.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := mgr.Get().Port; got != 9500 {
		t.Errorf("expected env override to win, got port %d", got)
	}
}

func TestSaveRoundtripsByExtension(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, name)

			mgr := NewManager()
			if err := mgr.Load(path); err != nil {
				t.Fatalf("Load: %v", err)
			}
			mgr.file.Port = 4242
			if err := mgr.Save(path); err != nil {
				t.Fatalf("Save: %v", err)
			}

			reloaded := NewManager()
			if err := reloaded.Load(path); err != nil {
				t.Fatalf("reload: %v", err)
			}
			if got := reloaded.Get().Port; got != 4242 {
				t.Errorf("expected roundtripped port 4242, got %d", got)
			}
		})
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	mgr := NewManager()
	if err := mgr.Load(filepath.Join(t.TempDir(), "does-not-exist.json")); err != nil {
		t.Fatalf("missing config file should not error: %v", err)
	}
}
