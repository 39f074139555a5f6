package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./recibod.db
  busy_timeout: 5s
dispatch:
  tick_interval: 5m
  window_minutes: 2
  default_offset_minutes: -240
  module_slots:
    loans: "08:00"
    products: "08:05"
    rentals: "08:10"
  daily_slot: "09:00"
delivery:
  mode: push
  url: https://push.example.com/v1/multicast
  batch_size: 500
admin:
  enabled: true
  addr: 127.0.0.1:8787
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", sampleYAML)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "./recibod.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Dispatch.DefaultOffsetMinutes != -240 {
		t.Fatalf("offset = %d", cfg.Dispatch.DefaultOffsetMinutes)
	}
	if cfg.Dispatch.ModuleSlots["products"] != "08:05" {
		t.Fatalf("module slots = %v", cfg.Dispatch.ModuleSlots)
	}
	// Defaults fill what the file omits.
	if len(cfg.Dispatch.DueDateFields) == 0 || cfg.Dispatch.DueDateFields[0] != "fechaVencimiento" {
		t.Fatalf("due date fields = %v", cfg.Dispatch.DueDateFields)
	}
	if cfg.Dispatch.Title != "Mi Recibo" {
		t.Fatalf("title = %q", cfg.Dispatch.Title)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
storage:
  driver: sqlite
  path: ./x.db
  flux_capacitor: true
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestLoadValidates(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, yaml string
	}{
		{"missing driver", `logging: {console: true}`},
		{"bad driver", `storage: {driver: mongodb}`},
		{"push without url", "storage: {driver: sqlite, path: ./x.db}\ndelivery: {mode: push}"},
		{"bad slot", "storage: {driver: sqlite, path: ./x.db}\ndispatch: {daily_slot: \"25:00\"}"},
		{"bad duration", "storage: {driver: sqlite, path: ./x.db, busy_timeout: soon}"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", tt.yaml)
			if _, err := NewManager(path).Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDefaultsAreValid(t *testing.T) {
	t.Parallel()
	cfg := Config{Storage: StorageConfig{Driver: "sqlite", Path: "./x.db"}}.WithDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Delivery.Mode != "log" {
		t.Fatalf("delivery mode = %q", cfg.Delivery.Mode)
	}
}
