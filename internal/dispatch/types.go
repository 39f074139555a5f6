package dispatch

import (
	"errors"
	"time"

	"recibod/internal/domain"
)

// Config tunes the per-tick dispatch run.
type Config struct {
	// WindowMinutes is the ± band around a slot label within which a tick
	// may fire it. The external tick cadence must be tighter than twice
	// this window or slots become unreachable.
	WindowMinutes int
	// Workers caps concurrent per-user processing inside a tick.
	Workers int
	// DefaultOffsetMinutes is used when a profile has no usable UTC offset.
	DefaultOffsetMinutes int
	// Title is the notification title for every message.
	Title string
	// DailySlot is the local-time label of the general message, e.g. "09:00".
	DailySlot string
	// ModuleSlots maps each obligation module to its local-time label.
	ModuleSlots map[domain.Module]string
}

func (c Config) withDefaults() Config {
	if c.WindowMinutes <= 0 {
		c.WindowMinutes = 2
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Title == "" {
		c.Title = "Mi Recibo"
	}
	return c
}

// Reason explains the outcome of one slot evaluation. Everything except
// "sent" and "error" is a deliberate no-op.
type Reason string

const (
	ReasonSent       Reason = "sent"
	ReasonLocked     Reason = "locked"
	ReasonNoDue      Reason = "no-due"
	ReasonNoTemplate Reason = "no-template"
	ReasonNoTokens   Reason = "no-tokens"
	ReasonDryRun     Reason = "dryrun"
	ReasonError      Reason = "error"
)

// SlotResult reports one (user, scope) evaluation.
type SlotResult struct {
	UID      string `json:"uid"`
	Scope    string `json:"scope"`
	Slot     string `json:"slot"`
	Category string `json:"category,omitempty"`
	Reason   Reason `json:"reason"`
	Sent     int    `json:"sent"`
	Failed   int    `json:"failed"`
	Error    string `json:"error,omitempty"`
}

func (r SlotResult) fail(err error) SlotResult {
	r.Reason = ReasonError
	r.Error = err.Error()
	return r
}

// TickReport summarizes one dispatcher invocation.
type TickReport struct {
	RunID    string        `json:"run_id"`
	Users    int           `json:"users"`
	Sent     int           `json:"sent"`
	Failed   int           `json:"failed"`
	Results  []SlotResult  `json:"results,omitempty"`
	Duration time.Duration `json:"duration"`
}

var (
	ErrUnknownUser = errors.New("unknown user")
	ErrUnknownSlot = errors.New("unknown slot label")
)
