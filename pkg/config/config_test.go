package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
server:
  address: "127.0.0.1"
  port: 9000
  db_path: "/tmp/relay-db"
logging:
  level: "debug"
hub:
  send_buffer: 128
  rps: 10
  burst: 20
limits:
  max_body_len: 4096
retention:
  enabled: true
  cron: "0 3 * * *"
  max_age: "720h"
  batch_size: 100
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "chatrelay.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadParsesAllSections(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
	if cfg.Server.DBPath != "/tmp/relay-db" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Hub.SendBuffer != 128 || cfg.Hub.RPS != 10 || cfg.Hub.Burst != 20 {
		t.Fatalf("hub section not parsed: %+v", cfg.Hub)
	}
	if cfg.Limits.MaxBodyLen != 4096 {
		t.Fatalf("limits section not parsed: %+v", cfg.Limits)
	}
	if !cfg.Retention.Enabled || cfg.Retention.MaxAge.Duration() != 720*time.Hour {
		t.Fatalf("retention section not parsed: %+v", cfg.Retention)
	}
}

func TestAddrDefaultsPort(t *testing.T) {
	var cfg Config
	if cfg.Addr() != ":8090" {
		t.Fatalf("expected default :8090, got %q", cfg.Addr())
	}
}

func TestDurationAcceptsNumericSeconds(t *testing.T) {
	cfg, err := Load(writeConfig(t, "retention:\n  max_age: 90\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Retention.MaxAge.Duration() != 90*time.Second {
		t.Fatalf("expected 90s, got %v", cfg.Retention.MaxAge.Duration())
	}
}

func TestLoadEffectiveEnvOverrides(t *testing.T) {
	t.Setenv("CHATRELAY_SERVER_PORT", "9100")
	t.Setenv("CHATRELAY_DB_PATH", "/tmp/env-db")

	eff, err := LoadEffective(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load effective: %v", err)
	}
	if eff.Addr != "127.0.0.1:9100" {
		t.Fatalf("env port override lost: %q", eff.Addr)
	}
	if eff.DBPath != "/tmp/env-db" {
		t.Fatalf("env db override lost: %q", eff.DBPath)
	}
	if eff.Source != "config, env" {
		t.Fatalf("unexpected source %q", eff.Source)
	}
}

func TestLoadEffectiveMissingFileIsNotFatal(t *testing.T) {
	eff, err := LoadEffective(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file must not fail: %v", err)
	}
	if eff.Addr != ":8090" {
		t.Fatalf("expected defaults, got %q", eff.Addr)
	}
}
