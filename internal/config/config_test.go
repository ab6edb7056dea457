package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TAVERN_API_BASE_URL", "")
	t.Setenv("TAVERN_STORAGE", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.API.BaseURL != "http://localhost:8080/api" {
		t.Fatalf("unexpected base url: %s", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 30*time.Second {
		t.Fatalf("unexpected timeout: %s", cfg.API.Timeout)
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Fatalf("unexpected driver: %s", cfg.Storage.Driver)
	}
	if filepath.Base(cfg.Storage.Path) != "profile.db" {
		t.Fatalf("unexpected storage path: %s", cfg.Storage.Path)
	}
	if cfg.Shell.Addr != "127.0.0.1:5173" {
		t.Fatalf("unexpected shell addr: %s", cfg.Shell.Addr)
	}
	if cfg.Voice.Enabled() {
		t.Fatal("voice device should be disabled by default")
	}
}

func TestLoadTrimsBaseURL(t *testing.T) {
	t.Setenv("TAVERN_API_BASE_URL", " https://tavern.example.com/api/ ")
	t.Setenv("TAVERN_STORAGE", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.API.BaseURL != "https://tavern.example.com/api" {
		t.Fatalf("unexpected base url: %s", cfg.API.BaseURL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"base url": {"TAVERN_API_BASE_URL", "not a url"},
		"driver":   {"TAVERN_STORAGE", "postgres"},
		"port":     {"PORT", "80 80"},
		"timeout":  {"TAVERN_API_TIMEOUT", "soon"},
	}

	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("TAVERN_STORAGE", "memory")
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", kv[0], kv[1])
			}
		})
	}
}

func TestShellAddrAcceptsHostPort(t *testing.T) {
	t.Setenv("TAVERN_STORAGE", "memory")
	t.Setenv("PORT", ":9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if !strings.HasSuffix(cfg.Shell.Addr, ":9000") {
		t.Fatalf("unexpected shell addr: %s", cfg.Shell.Addr)
	}
}
