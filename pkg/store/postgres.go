/*
Copyright 2026 The DocFusion Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStateStore is a StateStore backed by a single table:
//
//	CREATE TABLE state_entries (
//		key         TEXT PRIMARY KEY,
//		value       BYTEA NOT NULL,
//		expires_at  TIMESTAMPTZ
//	);
//
// It is the durable backend for deployments that already run Postgres
// for other bookkeeping and don't want a second stateful dependency.
type PostgresStateStore struct {
	db *sqlx.DB
}

func NewPostgresStateStore(db *sqlx.DB) *PostgresStateStore {
	return &PostgresStateStore{db: db}
}

type stateRow struct {
	Value     []byte       `db:"value"`
	ExpiresAt sql.NullTime `db:"expires_at"`
}

func (s *PostgresStateStore) Get(ctx context.Context, key string) ([]byte, error) {
	var row stateRow
	err := s.db.GetContext(ctx, &row, `SELECT value, expires_at FROM state_entries WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if row.ExpiresAt.Valid && row.ExpiresAt.Time.Before(time.Now()) {
		return nil, ErrNotFound
	}
	return row.Value, nil
}

func (s *PostgresStateStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expiresAt := expiryFor(ttl)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state_entries (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = $2, expires_at = $3
	`, key, value, expiresAt)
	return err
}

// CAS relies on row-level locking (SELECT ... FOR UPDATE) inside a
// transaction rather than a stored procedure, matching the rest of
// this codebase's preference for explicit Go control flow over
// database-side logic.
func (s *PostgresStateStore) CAS(ctx context.Context, key string, expected, newValue []byte, ttl time.Duration) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var row stateRow
	err = tx.GetContext(ctx, &row, `SELECT value, expires_at FROM state_entries WHERE key = $1 FOR UPDATE`, key)
	present := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if present && row.ExpiresAt.Valid && row.ExpiresAt.Time.Before(time.Now()) {
		present = false
	}

	switch {
	case expected == nil && present:
		return ErrCASConflict
	case expected != nil && !present:
		return ErrCASConflict
	case expected != nil && present && string(row.Value) != string(expected):
		return ErrCASConflict
	}

	expiresAt := expiryFor(ttl)
	if present {
		if _, err := tx.ExecContext(ctx, `UPDATE state_entries SET value = $2, expires_at = $3 WHERE key = $1`, key, newValue, expiresAt); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `INSERT INTO state_entries (key, value, expires_at) VALUES ($1, $2, $3)`, key, newValue, expiresAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *PostgresStateStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM state_entries WHERE key = $1`, key)
	return err
}

func (s *PostgresStateStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.SelectContext(ctx, &keys, `
		SELECT key FROM state_entries
		WHERE key LIKE $1 AND (expires_at IS NULL OR expires_at > now())
	`, escapeLikePrefix(prefix)+"%")
	return keys, err
}

func expiryFor(ttl time.Duration) sql.NullTime {
	if ttl <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: time.Now().Add(ttl), Valid: true}
}

// escapeLikePrefix escapes LIKE metacharacters so a key prefix
// containing '%' or '_' (neither of which occur in our own key
// helpers, but callers aren't restricted to them) is matched literally.
func escapeLikePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix)
}
