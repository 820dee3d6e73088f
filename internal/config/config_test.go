package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
engine:
  default_status:
    text: Available
  retry_max: 2
  history_retention: 720h
ticker:
  enabled: true
  tick_every: 30s
storage:
  driver: sqlite
  path: ./presenced.db
  busy_timeout: 5s
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging section wrong: %+v", cfg.Logging)
	}
	if cfg.Engine.DefaultStatus.Text != "Available" || cfg.Engine.RetryMax != 2 {
		t.Fatalf("engine section wrong: %+v", cfg.Engine)
	}
	if !cfg.Ticker.Enabled || cfg.Ticker.TickEvery != "30s" {
		t.Fatalf("ticker section wrong: %+v", cfg.Ticker)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage section wrong: %+v", cfg.Storage)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "engine": {"default_status": {"text": "Available"}},
  "ticker": {"enabled": true}
}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
logging:
  level: info
  consle: true
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("typo'd key must be rejected")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"ticker":{"enabled":true}}{"extra":1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("trailing JSON must be rejected")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"30s", 30 * time.Second, false},
		{" 1m ", time.Minute, false},
		{"-5s", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseDurationField("test.field", tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %v, want %v", tc.raw, got, tc.want)
		}
	}

	if d, err := ParseDurationOrDefault("test.field", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default not applied: %v %v", d, err)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Ticker:  TickerConfig{Enabled: true, TickEvery: "1m"},
	}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug", Console: true},
		Ticker:  TickerConfig{Enabled: true, TickEvery: "30s"},
		Storage: &StorageConfig{Driver: "sqlite", Path: "./db"},
	}

	changed, _ := SummarizeChange(oldCfg, newCfg)
	want := []string{"logging", "storage", "ticker"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", "ticker:\n  enabled: true\n")
	m := NewManager(path)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	default:
		t.Fatal("no config delivered")
	}

	// A full buffer drops the oldest, never blocks.
	stale := &Config{}
	fresh := &Config{Ticker: TickerConfig{Enabled: true}}
	m.publish(stale)
	m.publish(fresh)
	select {
	case got := <-ch:
		if got != fresh {
			t.Fatal("expected the newest config after overflow")
		}
	default:
		t.Fatal("no config delivered after overflow")
	}
}
