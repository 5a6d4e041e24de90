package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  chat_id: -1001234567890
  moderator_ids: [111, 222]
  log_chat_id: -1009876543210
  poll_timeout: 10s
storage:
  driver: sqlite
  path: /var/lib/streambot/grants.db
  busy_timeout: 5s
video:
  default_duration: 1h
  max_duration: 168h
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
  telegram:
    enabled: true
    min_level: warn
    rate_per_sec: 1
debug:
  enabled: true
  address: 127.0.0.1:6060
maintenance:
  gc_interval: "@every 10m"
  audit_schedule: "30 4 * * *"
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram.ChatID != -1001234567890 {
		t.Fatalf("chat_id = %d", cfg.Telegram.ChatID)
	}
	if len(cfg.Telegram.ModeratorIDs) != 2 || cfg.Telegram.ModeratorIDs[1] != 222 {
		t.Fatalf("moderator_ids = %v", cfg.Telegram.ModeratorIDs)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
	if cfg.Video.DefaultDuration != "1h" {
		t.Fatalf("default_duration = %q", cfg.Video.DefaultDuration)
	}
	if !cfg.Logging.Telegram.Enabled || cfg.Logging.Telegram.MinLevel != "warn" {
		t.Fatalf("logging.telegram = %+v", cfg.Logging.Telegram)
	}
	if cfg.Maintenance.GCInterval != "@every 10m" {
		t.Fatalf("gc_interval = %q", cfg.Maintenance.GCInterval)
	}
}

func TestParseJSON(t *testing.T) {
	body := `{"telegram": {"token": "t", "chat_id": 5}}`
	m := NewManager(writeConfig(t, "config.json", body))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram.ChatID != 5 {
		t.Fatalf("chat_id = %d", cfg.Telegram.ChatID)
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	body := sampleYAML + "\nnot_a_real_section:\n  x: 1\n"
	m := NewManager(writeConfig(t, "config.yaml", body))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", `{}{}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestLoadCommitsAndGetReturns(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	loaded, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := m.Get(); got != loaded {
		t.Fatal("Get did not return the committed config")
	}
}

func TestSubscribePublish(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	next := strings.Replace(sampleYAML, "level: debug", "level: info", 1)
	cfg2 := &Config{}
	{
		m2 := NewManager(writeConfig(t, "config.yaml", next))
		var err error
		cfg2, err = m2.Parse()
		if err != nil {
			t.Fatalf("parse second config: %v", err)
		}
	}
	m.commit(cfg2)
	m.publish(cfg2)

	select {
	case got := <-ch:
		if got.Logging.Level != "info" {
			t.Fatalf("published level = %q, want info", got.Logging.Level)
		}
	default:
		t.Fatal("no config published")
	}
}
