// Package sqlite stores profiles in a local SQLite file via
// modernc.org/sqlite (no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"dataprof/internal/store"
	"dataprof/pkg/profile"
)

// Store implements store.Store on a SQLite database.
//
// Timestamps are stored as INTEGER unix milliseconds, matching the
// envelope's own resolution, so a saved header round-trips exactly.
type Store struct {
	db *sql.DB
}

func init() {
	store.Register("sqlite", New)
}

// New opens (creating if needed) the SQLite database at cfg.DSN and
// verifies connectivity. WAL journaling and a busy timeout are applied
// through DSN pragmas so concurrent writers sharing one file queue
// instead of failing with SQLITE_BUSY.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	db, err := sql.Open("sqlite", applyPragmas(cfg.DSN))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, buildCreateSQL()); err != nil {
		return fmt.Errorf("sqlite: create profiles table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, buildIndexSQL()); err != nil {
		return fmt.Errorf("sqlite: create profiles index: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, p *profile.DatasetProfile) (int64, error) {
	blob, err := p.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("sqlite: encode profile: %w", err)
	}

	var dataMS sql.NullInt64
	if ts := p.DataTimestamp(); !ts.IsZero() {
		dataMS = sql.NullInt64{Int64: ts.UnixMilli(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, buildInsertSQL(),
		p.Name(), p.SessionID(), p.SessionTimestamp().UnixMilli(), dataMS,
		int64(p.RowCount()), blob, time.Now().UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert profile: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) Load(ctx context.Context, id int64) (*profile.DatasetProfile, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, buildSelectEnvelopeSQL(), id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: profile id=%d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load profile id=%d: %w", id, err)
	}
	return profile.Decode(blob)
}

func (s *Store) List(ctx context.Context, name string) ([]store.Entry, error) {
	q, args := buildListSQL(name)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list profiles: %w", err)
	}
	defer rows.Close()

	var out []store.Entry
	for rows.Next() {
		var (
			e         store.Entry
			sessionMS int64
			dataMS    sql.NullInt64
			rowCount  int64
			createdMS int64
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.SessionID, &sessionMS, &dataMS, &rowCount, &createdMS); err != nil {
			return nil, err
		}
		e.SessionTimestamp = time.UnixMilli(sessionMS).UTC()
		if dataMS.Valid {
			e.DataTimestamp = time.UnixMilli(dataMS.Int64).UTC()
		}
		e.RowCount = uint64(rowCount)
		e.CreatedAt = time.UnixMilli(createdMS).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// applyPragmas appends the WAL and busy_timeout pragmas unless the DSN
// already configures its own pragmas.
func applyPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func buildCreateSQL() string {
	return `CREATE TABLE IF NOT EXISTS profiles (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  session_id TEXT NOT NULL,
  session_timestamp INTEGER NOT NULL,
  data_timestamp INTEGER,
  row_count INTEGER NOT NULL,
  envelope BLOB NOT NULL,
  created_at INTEGER NOT NULL
);`
}

func buildIndexSQL() string {
	return `CREATE INDEX IF NOT EXISTS profiles_name_idx ON profiles (name);`
}

func buildInsertSQL() string {
	return `INSERT INTO profiles (name, session_id, session_timestamp, data_timestamp, row_count, envelope, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?);`
}

func buildSelectEnvelopeSQL() string {
	return `SELECT envelope FROM profiles WHERE id = ?;`
}

// buildListSQL returns the header query and its args. An empty name lists
// every profile; ordering is newest first with id as the tie-break so
// same-millisecond saves stay deterministic.
func buildListSQL(name string) (string, []any) {
	q := `SELECT id, name, session_id, session_timestamp, data_timestamp, row_count, created_at FROM profiles`
	var args []any
	if name != "" {
		q += ` WHERE name = ?`
		args = append(args, name)
	}
	q += ` ORDER BY created_at DESC, id DESC;`
	return q, args
}
