// Package domain holds the notification-scheduling domain model: users,
// obligations, due categories, slot locks, and the rules that map a user's
// outstanding obligations to at most one message per slot per local day.
package domain

import (
	"strings"
	"time"
)

// Module is a logical grouping of obligations. Each module is classified
// independently and owns its own slot, lock scope, and template set.
type Module string

const (
	ModuleLoans    Module = "loans"
	ModuleProducts Module = "products"
	ModuleRentals  Module = "rentals"
)

// DailyScope is the lock scope of the general daily message. It is not a
// module; the daily send does not depend on due state.
const DailyScope = "daily"

// User is a read-only projection of the external profile system.
type User struct {
	UID           string
	Tokens        []string
	OffsetMinutes *int // nil when the profile has no usable offset
}

// Offset returns the user's UTC offset in minutes, or fallback when the
// profile carries none.
func (u User) Offset(fallback int) int {
	if u.OffsetMinutes == nil {
		return fallback
	}
	return *u.OffsetMinutes
}

// DedupedTokens returns the user's delivery tokens with blanks and
// duplicates removed, preserving first-seen order.
func (u User) DedupedTokens() []string {
	seen := make(map[string]struct{}, len(u.Tokens))
	out := make([]string, 0, len(u.Tokens))
	for _, t := range u.Tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Obligation is one outstanding record of a user. Category is free text
// written by the upstream app; Attrs carries the raw document fields,
// including the alternately-named due-date fields.
type Obligation struct {
	ID               string
	Category         string
	RemainingBalance float64
	Attrs            map[string]any
}

// Settled reports whether the obligation carries no outstanding balance.
// Settled obligations are never classified.
func (o Obligation) Settled() bool { return o.RemainingBalance <= 0 }

// SlotLock marks "already sent today" for one (user, scope). Writing it only
// after a delivery reported at least one success keeps a failed day retryable
// within the slot window.
type SlotLock struct {
	LocalDay  int       // YYYYMMDD at last successful send
	Slot      string    // local time label, e.g. "08:00"
	Source    string    // logical job that wrote the lock
	UpdatedAt time.Time
}

// Held reports whether the lock blocks sends for the given local day.
func (l SlotLock) Held(localDay int) bool { return l.LocalDay == localDay }
