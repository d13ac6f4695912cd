// Package postgres stores profiles in PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dataprof/internal/store"
	"dataprof/pkg/profile"
)

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

func init() {
	store.Register("postgres", New)
}

// New creates a connection pool for cfg.DSN. The pool connects lazily, so
// a bad DSN surfaces on the first query rather than here.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, buildCreateSQL()); err != nil {
		return fmt.Errorf("postgres: create profiles table: %w", err)
	}
	if _, err := s.pool.Exec(ctx, buildIndexSQL()); err != nil {
		return fmt.Errorf("postgres: create profiles index: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, p *profile.DatasetProfile) (int64, error) {
	blob, err := p.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("postgres: encode profile: %w", err)
	}

	var dataTS *time.Time
	if ts := p.DataTimestamp(); !ts.IsZero() {
		dataTS = &ts
	}

	var id int64
	err = s.pool.QueryRow(ctx, buildInsertSQL(),
		p.Name(), p.SessionID(), p.SessionTimestamp(), dataTS,
		int64(p.RowCount()), blob).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert profile: %w", err)
	}
	return id, nil
}

func (s *Store) Load(ctx context.Context, id int64) (*profile.DatasetProfile, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx, buildSelectEnvelopeSQL(), id).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: profile id=%d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load profile id=%d: %w", id, err)
	}
	return profile.Decode(blob)
}

func (s *Store) List(ctx context.Context, name string) ([]store.Entry, error) {
	q, args := buildListSQL(name)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list profiles: %w", err)
	}
	defer rows.Close()

	var out []store.Entry
	for rows.Next() {
		var (
			e        store.Entry
			dataTS   *time.Time
			rowCount int64
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.SessionID, &e.SessionTimestamp, &dataTS, &rowCount, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SessionTimestamp = e.SessionTimestamp.UTC()
		if dataTS != nil {
			e.DataTimestamp = dataTS.UTC()
		}
		e.RowCount = uint64(rowCount)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func buildCreateSQL() string {
	return `CREATE TABLE IF NOT EXISTS profiles (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  session_id TEXT NOT NULL,
  session_timestamp TIMESTAMPTZ NOT NULL,
  data_timestamp TIMESTAMPTZ,
  row_count BIGINT NOT NULL,
  envelope BYTEA NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`
}

func buildIndexSQL() string {
	return `CREATE INDEX IF NOT EXISTS profiles_name_idx ON profiles (name);`
}

// buildInsertSQL leaves created_at to its DEFAULT so the database clock is
// the single source of listing order.
func buildInsertSQL() string {
	return `INSERT INTO profiles (name, session_id, session_timestamp, data_timestamp, row_count, envelope)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id;`
}

func buildSelectEnvelopeSQL() string {
	return `SELECT envelope FROM profiles WHERE id = $1;`
}

func buildListSQL(name string) (string, []any) {
	q := `SELECT id, name, session_id, session_timestamp, data_timestamp, row_count, created_at FROM profiles`
	var args []any
	if name != "" {
		q += ` WHERE name = $1`
		args = append(args, name)
	}
	q += ` ORDER BY created_at DESC, id DESC;`
	return q, args
}
