package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"recibod/internal/domain"
	"recibod/pkg/logx"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    uid            TEXT PRIMARY KEY,
    tokens         JSONB NOT NULL DEFAULT '[]'::jsonb,
    offset_minutes INTEGER
);
CREATE TABLE IF NOT EXISTS obligations (
    uid               TEXT NOT NULL,
    id                TEXT NOT NULL,
    category          TEXT NOT NULL DEFAULT '',
    remaining_balance DOUBLE PRECISION NOT NULL DEFAULT 0,
    attrs             JSONB NOT NULL DEFAULT '{}'::jsonb,
    PRIMARY KEY (uid, id)
);
CREATE TABLE IF NOT EXISTS templates (
    doc      TEXT NOT NULL,
    field    TEXT NOT NULL,
    messages JSONB NOT NULL DEFAULT '[]'::jsonb,
    PRIMARY KEY (doc, field)
);
CREATE TABLE IF NOT EXISTS slot_locks (
    uid        TEXT NOT NULL,
    scope      TEXT NOT NULL,
    local_day  INTEGER NOT NULL,
    slot       TEXT NOT NULL DEFAULT '',
    source     TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (uid, scope)
);
`

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT uid, tokens, offset_minutes FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		var (
			u      domain.User
			tokens []byte
			offset *int
		)
		if err := rows.Scan(&u.UID, &tokens, &offset); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(tokens, &u.Tokens); err != nil {
			s.log.Warn("postgres: bad tokens json, skipping tokens", logx.String("uid", u.UID), logx.Err(err))
		}
		u.OffsetMinutes = offset
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *postgresStore) Obligations(ctx context.Context, uid string) ([]domain.Obligation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, category, remaining_balance, attrs FROM obligations WHERE uid = $1`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Obligation
	for rows.Next() {
		var (
			ob    domain.Obligation
			attrs []byte
		)
		if err := rows.Scan(&ob.ID, &ob.Category, &ob.RemainingBalance, &attrs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(attrs, &ob.Attrs); err != nil {
			s.log.Warn("postgres: bad attrs json", logx.String("uid", uid), logx.String("obligation", ob.ID), logx.Err(err))
		}
		out = append(out, ob)
	}
	return out, rows.Err()
}

func (s *postgresStore) TemplateSet(ctx context.Context, doc string) (map[string][]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT field, messages FROM templates WHERE doc = $1`, doc)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := map[string][]string{}
	for rows.Next() {
		var (
			field string
			raw   []byte
		)
		if err := rows.Scan(&field, &raw); err != nil {
			return nil, err
		}
		var messages []string
		if err := json.Unmarshal(raw, &messages); err != nil {
			s.log.Warn("postgres: bad template json", logx.String("doc", doc), logx.String("field", field), logx.Err(err))
			continue
		}
		set[field] = messages
	}
	return set, rows.Err()
}

func (s *postgresStore) GetLock(ctx context.Context, uid, scope string) (domain.SlotLock, bool, error) {
	var lock domain.SlotLock
	err := s.pool.QueryRow(ctx,
		`SELECT local_day, slot, source, updated_at FROM slot_locks WHERE uid = $1 AND scope = $2`,
		uid, scope,
	).Scan(&lock.LocalDay, &lock.Slot, &lock.Source, &lock.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SlotLock{}, false, nil
	}
	if err != nil {
		return domain.SlotLock{}, false, err
	}
	return lock, true, nil
}

func (s *postgresStore) PutLock(ctx context.Context, uid, scope string, lock domain.SlotLock) error {
	if lock.UpdatedAt.IsZero() {
		lock.UpdatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO slot_locks(uid, scope, local_day, slot, source, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (uid, scope) DO UPDATE SET
		   local_day=EXCLUDED.local_day, slot=EXCLUDED.slot,
		   source=EXCLUDED.source, updated_at=EXCLUDED.updated_at`,
		uid, scope, lock.LocalDay, lock.Slot, lock.Source, lock.UpdatedAt,
	)
	return err
}

func (s *postgresStore) SetDueDate(ctx context.Context, uid, obligationID, field, value string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE obligations
		 SET attrs = jsonb_set(COALESCE(attrs, '{}'::jsonb), ARRAY[$3], to_jsonb($4::text), true)
		 WHERE uid = $1 AND id = $2`,
		uid, obligationID, field, value,
	)
	return err
}
