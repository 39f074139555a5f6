// Package storetest provides an in-memory Store for tests.
package storetest

import (
	"context"
	"sync"

	"recibod/internal/domain"
)

// DueWrite records one SetDueDate call.
type DueWrite struct {
	UID, ObligationID, Field, Value string
}

// Mem is a thread-safe in-memory store. The zero value is not usable; use New.
// Errors can be injected per operation name ("ListUsers", "Obligations",
// "TemplateSet", "GetLock", "PutLock", "SetDueDate").
type Mem struct {
	mu sync.Mutex

	Users []domain.User
	Obs   map[string][]domain.Obligation
	Docs  map[string]map[string][]string
	Locks map[[2]string]domain.SlotLock

	DueWrites []DueWrite
	PutCalls  int

	Errs map[string]error
}

func New() *Mem {
	return &Mem{
		Obs:   map[string][]domain.Obligation{},
		Docs:  map[string]map[string][]string{},
		Locks: map[[2]string]domain.SlotLock{},
		Errs:  map[string]error{},
	}
}

func (m *Mem) fail(op string) error {
	return m.Errs[op]
}

func (m *Mem) ListUsers(ctx context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListUsers"); err != nil {
		return nil, err
	}
	return append([]domain.User(nil), m.Users...), nil
}

func (m *Mem) Obligations(ctx context.Context, uid string) ([]domain.Obligation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("Obligations"); err != nil {
		return nil, err
	}
	return append([]domain.Obligation(nil), m.Obs[uid]...), nil
}

func (m *Mem) TemplateSet(ctx context.Context, doc string) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("TemplateSet"); err != nil {
		return nil, err
	}
	set := map[string][]string{}
	for k, v := range m.Docs[doc] {
		set[k] = append([]string(nil), v...)
	}
	return set, nil
}

func (m *Mem) GetLock(ctx context.Context, uid, scope string) (domain.SlotLock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetLock"); err != nil {
		return domain.SlotLock{}, false, err
	}
	lk, ok := m.Locks[[2]string{uid, scope}]
	return lk, ok, nil
}

func (m *Mem) PutLock(ctx context.Context, uid, scope string, lock domain.SlotLock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutCalls++
	if err := m.fail("PutLock"); err != nil {
		return err
	}
	m.Locks[[2]string{uid, scope}] = lock
	return nil
}

func (m *Mem) SetDueDate(ctx context.Context, uid, obligationID, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SetDueDate"); err != nil {
		return err
	}
	m.DueWrites = append(m.DueWrites, DueWrite{UID: uid, ObligationID: obligationID, Field: field, Value: value})
	return nil
}

func (m *Mem) Close() error { return nil }

// Lock returns the stored lock for (uid, scope), if any.
func (m *Mem) Lock(uid, scope string) (domain.SlotLock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk, ok := m.Locks[[2]string{uid, scope}]
	return lk, ok
}

// DueWriteCount returns the number of recorded SetDueDate calls.
func (m *Mem) DueWriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.DueWrites)
}
