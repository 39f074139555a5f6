package store

import (
	"context"
	"errors"
	"strings"

	"recibod/pkg/logx"
)

// Open initializes the configured store. The handle is created once at
// process start and shared for the process lifetime.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "pgx":
		return openPostgres(ctx, cfg, log)
	case "", "none":
		return nil, ErrDisabled
	default:
		return nil, errors.New("unknown store driver: " + cfg.Driver)
	}
}
