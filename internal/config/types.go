package config

import (
	"fmt"
	"strings"
	"time"

	"recibod/internal/clock"
)

// Config is the whole daemon configuration. YAML files are coerced to JSON
// before decoding, so the same strict decoder serves both formats.
type Config struct {
	Logging  LoggingConfig  `json:"logging,omitempty"`
	Storage  StorageConfig  `json:"storage"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`
	Delivery DeliveryConfig `json:"delivery,omitempty"`
	Admin    AdminConfig    `json:"admin,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console,omitempty"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig selects and configures the store driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./recibod.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`         // sqlite
	DSN         string `json:"dsn,omitempty"`          // postgres
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DispatchConfig tunes slot detection and classification.
//
// All slots are local-time "HH:MM" labels; tick_interval is a Go duration
// string and must be tighter than twice the slot window or slots become
// unreachable.
type DispatchConfig struct {
	TickInterval         string              `json:"tick_interval,omitempty"`
	WindowMinutes        int                 `json:"window_minutes,omitempty"`
	Workers              int                 `json:"workers,omitempty"`
	DefaultOffsetMinutes int                 `json:"default_offset_minutes,omitempty"`
	Title                string              `json:"title,omitempty"`
	DailySlot            string              `json:"daily_slot,omitempty"`
	ModuleSlots          map[string]string   `json:"module_slots,omitempty"`
	DueDateFields        []string            `json:"due_date_fields,omitempty"`
	ModuleKeywords       map[string][]string `json:"module_keywords,omitempty"`
}

// DeliveryConfig selects the delivery backend.
type DeliveryConfig struct {
	Mode       string `json:"mode,omitempty"` // "push" or "log"
	URL        string `json:"url,omitempty"`
	Token      string `json:"token,omitempty"` // do not log
	BatchSize  int    `json:"batch_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	Timeout    string `json:"timeout,omitempty"` // Go duration string
}

// AdminConfig controls the local admin HTTP surface.
//
// Security note: prefer binding to localhost. If you bind to a non-loopback
// address, set a token.
type AdminConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8787"
	Token   string `json:"token,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}

// WithDefaults returns a copy with the product defaults filled in. The slot
// layout, keyword sets, and due-date field order mirror the upstream app's
// Spanish-language documents; all are overridable.
func (c Config) WithDefaults() Config {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if !c.Logging.Console && !c.Logging.File.Enabled {
		c.Logging.Console = true
	}

	d := &c.Dispatch
	if d.TickInterval == "" {
		d.TickInterval = "5m"
	}
	if d.WindowMinutes == 0 {
		d.WindowMinutes = 2
	}
	if d.Workers == 0 {
		d.Workers = 4
	}
	if d.Title == "" {
		d.Title = "Mi Recibo"
	}
	if d.DailySlot == "" {
		d.DailySlot = "09:00"
	}
	if len(d.ModuleSlots) == 0 {
		d.ModuleSlots = map[string]string{
			"loans":    "08:00",
			"products": "08:05",
			"rentals":  "08:10",
		}
	}
	if len(d.DueDateFields) == 0 {
		d.DueDateFields = []string{"fechaVencimiento", "fecha_vencimiento", "vencimiento", "dueDate"}
	}
	if len(d.ModuleKeywords) == 0 {
		d.ModuleKeywords = map[string][]string{
			"loans":    {"prestamo", "préstamo"},
			"products": {"producto"},
			"rentals":  {"alquiler", "renta"},
		}
	}

	if c.Delivery.Mode == "" {
		c.Delivery.Mode = "log"
	}
	return c
}

// Validate rejects configs that cannot be wired. Called on load and before
// committing a watched reload.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "sqlite", "sqlite3", "postgres", "pgx":
	case "":
		return fmt.Errorf("storage.driver is required")
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}

	switch c.Delivery.Mode {
	case "", "log":
	case "push":
		if strings.TrimSpace(c.Delivery.URL) == "" {
			return fmt.Errorf("delivery.url is required when delivery.mode is push")
		}
	default:
		return fmt.Errorf("delivery.mode: unknown mode %q", c.Delivery.Mode)
	}

	if c.Dispatch.DailySlot != "" {
		if _, err := clock.ParseHHMM(c.Dispatch.DailySlot); err != nil {
			return fmt.Errorf("dispatch.daily_slot: %w", err)
		}
	}
	for mod, slot := range c.Dispatch.ModuleSlots {
		if _, err := clock.ParseHHMM(slot); err != nil {
			return fmt.Errorf("dispatch.module_slots.%s: %w", mod, err)
		}
	}
	for _, field := range []struct{ path, raw string }{
		{"dispatch.tick_interval", c.Dispatch.TickInterval},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"delivery.timeout", c.Delivery.Timeout},
	} {
		if _, err := ParseDurationField(field.path, field.raw); err != nil {
			return err
		}
	}
	return nil
}

// ParseDurationField parses a Go duration string from the config, with the
// field path used in error messages. Empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault falls back to def for empty/zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
