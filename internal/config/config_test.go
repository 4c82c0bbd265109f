package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Server.SocketURL = "wss://rt.example.test"
	cfg.Reconnect.MaxDelay = Duration{45 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Server.SocketURL != "wss://rt.example.test" {
		t.Errorf("SocketURL = %q, want wss://rt.example.test", loaded.Server.SocketURL)
	}
	if loaded.Reconnect.MaxDelay.Duration != 45*time.Second {
		t.Errorf("MaxDelay = %v, want 45s", loaded.Reconnect.MaxDelay)
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "default_session = \"main\"\n\n[timeouts]\nack = \"3s\"\n\n[log]\nlevel = \"debug\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Timeouts.Ack.Duration != 3*time.Second {
		t.Errorf("Ack = %v, want 3s", cfg.Timeouts.Ack)
	}
	if cfg.Timeouts.Connect.Duration != 20*time.Second {
		t.Errorf("Connect = %v, want default 20s", cfg.Timeouts.Connect)
	}
	if cfg.Reconnect.MaxAttempts != 10 {
		t.Errorf("MaxAttempts = %d, want default 10", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Stderr {
		t.Errorf("Log = %+v, want debug level with default stderr", cfg.Log)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[reconnect]\ninitial_delay = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid duration")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadOrDefaultMissing(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Reconnect.Jitter != 0.5 {
		t.Errorf("Jitter = %v, want 0.5", cfg.Reconnect.Jitter)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
