package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"recibod/internal/domain"
	"recibod/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uid, tokens, offset_minutes FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		var (
			u      domain.User
			tokens string
			offset sql.NullInt64
		)
		if err := rows.Scan(&u.UID, &tokens, &offset); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tokens), &u.Tokens); err != nil {
			s.log.Warn("sqlite: bad tokens json, skipping tokens", logx.String("uid", u.UID), logx.Err(err))
		}
		if offset.Valid {
			v := int(offset.Int64)
			u.OffsetMinutes = &v
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Obligations(ctx context.Context, uid string) ([]domain.Obligation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category, remaining_balance, attrs FROM obligations WHERE uid = ?`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Obligation
	for rows.Next() {
		var (
			ob    domain.Obligation
			attrs string
		)
		if err := rows.Scan(&ob.ID, &ob.Category, &ob.RemainingBalance, &attrs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attrs), &ob.Attrs); err != nil {
			s.log.Warn("sqlite: bad attrs json", logx.String("uid", uid), logx.String("obligation", ob.ID), logx.Err(err))
		}
		out = append(out, ob)
	}
	return out, rows.Err()
}

func (s *sqliteStore) TemplateSet(ctx context.Context, doc string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, messages FROM templates WHERE doc = ?`, doc)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := map[string][]string{}
	for rows.Next() {
		var field, raw string
		if err := rows.Scan(&field, &raw); err != nil {
			return nil, err
		}
		var messages []string
		if err := json.Unmarshal([]byte(raw), &messages); err != nil {
			s.log.Warn("sqlite: bad template json", logx.String("doc", doc), logx.String("field", field), logx.Err(err))
			continue
		}
		set[field] = messages
	}
	return set, rows.Err()
}

func (s *sqliteStore) GetLock(ctx context.Context, uid, scope string) (domain.SlotLock, bool, error) {
	var (
		lock      domain.SlotLock
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT local_day, slot, source, updated_at FROM slot_locks WHERE uid = ? AND scope = ?`,
		uid, scope,
	).Scan(&lock.LocalDay, &lock.Slot, &lock.Source, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SlotLock{}, false, nil
	}
	if err != nil {
		return domain.SlotLock{}, false, err
	}
	lock.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return lock, true, nil
}

func (s *sqliteStore) PutLock(ctx context.Context, uid, scope string, lock domain.SlotLock) error {
	if lock.UpdatedAt.IsZero() {
		lock.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO slot_locks(uid, scope, local_day, slot, source, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(uid, scope) DO UPDATE SET
		   local_day=excluded.local_day, slot=excluded.slot,
		   source=excluded.source, updated_at=excluded.updated_at`,
		uid, scope, lock.LocalDay, lock.Slot, lock.Source, lock.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) SetDueDate(ctx context.Context, uid, obligationID, field, value string) error {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT attrs FROM obligations WHERE uid = ? AND id = ?`, uid, obligationID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	attrs := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		attrs = map[string]any{}
	}
	attrs[field] = value
	b, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE obligations SET attrs = ? WHERE uid = ? AND id = ?`,
		string(b), uid, obligationID,
	)
	return err
}
