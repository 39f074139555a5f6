// Package lock enforces at-most-one successful dispatch per (user, scope,
// local day) on top of persisted slot-lock state.
//
// Grants are check-then-write, not an atomic compare-and-set: the external
// tick is a single serialized invocation and no two workers ever process the
// same user in one tick, so the narrow race window between check and write is
// accepted in exchange for per-user per-scope granularity.
package lock

import (
	"context"
	"time"

	"recibod/internal/domain"
	"recibod/internal/store"
	"recibod/pkg/logx"
)

type Manager struct {
	store store.Store
	log   logx.Logger
}

func NewManager(st store.Store, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{store: st, log: log}
}

// Held reports whether a dispatch for (uid, scope) is blocked because a lock
// already records localDay as sent.
func (m *Manager) Held(ctx context.Context, uid, scope string, localDay int) (bool, error) {
	lk, ok, err := m.store.GetLock(ctx, uid, scope)
	if err != nil {
		return false, err
	}
	return ok && lk.Held(localDay), nil
}

// Acquire records a successful send for (uid, scope). It must be called only
// after the delivery reported at least one success; a lock written for a day
// with nothing delivered would silently eat that day.
func (m *Manager) Acquire(ctx context.Context, uid, scope string, localDay int, slot, source string) error {
	return m.store.PutLock(ctx, uid, scope, domain.SlotLock{
		LocalDay:  localDay,
		Slot:      slot,
		Source:    source,
		UpdatedAt: time.Now(),
	})
}
