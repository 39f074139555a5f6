package store

import (
	"context"
	"errors"
	"time"

	"recibod/internal/domain"
)

var ErrDisabled = errors.New("store disabled")

// Config configures the document/lock store.
//
// Driver values:
//   - "sqlite": SQLite database file (pure Go driver)
//   - "postgres": PostgreSQL via pgx connection pool
type Config struct {
	Driver      string
	Path        string        // sqlite only
	DSN         string        // postgres only
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API the dispatcher runs against. Users, their
// obligations, and the template sets are owned by external systems; the core
// reads them and writes only slot locks and opportunistic due-date back-fills.
type Store interface {
	// ListUsers enumerates every user with tokens and UTC offset.
	ListUsers(ctx context.Context) ([]domain.User, error)

	// Obligations returns all obligations of one user, module filtering is
	// done by the classifier.
	Obligations(ctx context.Context, uid string) ([]domain.Obligation, error)

	// TemplateSet reads one template document: category key -> ordered
	// message list. A missing document yields an empty set, not an error.
	TemplateSet(ctx context.Context, doc string) (map[string][]string, error)

	// GetLock reads the slot lock for (uid, scope). ok is false when no
	// lock has ever been written for that scope.
	GetLock(ctx context.Context, uid, scope string) (domain.SlotLock, bool, error)

	// PutLock upserts the slot lock for (uid, scope). Other scopes of the
	// same user are untouched.
	PutLock(ctx context.Context, uid, scope string, lock domain.SlotLock) error

	// SetDueDate back-fills a due-date field into an obligation's raw
	// attributes. Used outside the critical path for records observed
	// without any resolvable due date.
	SetDueDate(ctx context.Context, uid, obligationID, field, value string) error

	Close() error
}
