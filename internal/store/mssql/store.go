// Package mssql stores profiles in Microsoft SQL Server.
//
// Note on driver registration: this package intentionally does NOT
// blank-import a SQL Server driver. The application must register the
// "sqlserver" driver with database/sql before opening this store.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dataprof/internal/store"
	"dataprof/pkg/profile"
)

// Store implements store.Store for SQL Server. It runs against the small
// dbConn interface rather than *sql.DB directly so tests can inject a
// fake connection.
type Store struct {
	db dbConn
}

func init() {
	store.Register("mssql", New)
}

// New opens a SQL Server connection for cfg.DSN and verifies
// connectivity.
//
// Errors:
//   - sql.Open fails when no "sqlserver" driver is registered.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// One profile insert per run; a small pool is plenty.
	raw.SetMaxOpenConns(4)
	raw.SetMaxIdleConns(4)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Store{db: &sqlDB{db: raw}}, nil
}

func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, buildCreateSQL()); err != nil {
		return fmt.Errorf("mssql: create profiles table: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, p *profile.DatasetProfile) (int64, error) {
	blob, err := p.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("mssql: encode profile: %w", err)
	}

	var dataTS any
	if ts := p.DataTimestamp(); !ts.IsZero() {
		dataTS = ts
	}

	var id int64
	err = s.db.QueryRowContext(ctx, buildInsertSQL(),
		p.Name(), p.SessionID(), p.SessionTimestamp(), dataTS,
		int64(p.RowCount()), blob).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("mssql: insert profile: %w", err)
	}
	return id, nil
}

func (s *Store) Load(ctx context.Context, id int64) (*profile.DatasetProfile, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, buildSelectEnvelopeSQL(), id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mssql: profile id=%d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("mssql: load profile id=%d: %w", id, err)
	}
	return profile.Decode(blob)
}

func (s *Store) List(ctx context.Context, name string) ([]store.Entry, error) {
	q, args := buildListSQL(name)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("mssql: list profiles: %w", err)
	}
	defer rows.Close()

	var out []store.Entry
	for rows.Next() {
		var (
			e        store.Entry
			dataTS   sql.NullTime
			rowCount int64
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.SessionID, &e.SessionTimestamp, &dataTS, &rowCount, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SessionTimestamp = e.SessionTimestamp.UTC()
		if dataTS.Valid {
			e.DataTimestamp = dataTS.Time.UTC()
		}
		e.RowCount = uint64(rowCount)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// buildCreateSQL guards the whole batch with OBJECT_ID so repeated runs
// are no-ops; SQL Server has no CREATE TABLE IF NOT EXISTS.
func buildCreateSQL() string {
	return `IF OBJECT_ID(N'profiles', N'U') IS NULL
BEGIN
  CREATE TABLE profiles (
    id BIGINT IDENTITY(1,1) PRIMARY KEY,
    name NVARCHAR(256) NOT NULL,
    session_id NVARCHAR(64) NOT NULL,
    session_timestamp DATETIMEOFFSET NOT NULL,
    data_timestamp DATETIMEOFFSET NULL,
    row_count BIGINT NOT NULL,
    envelope VARBINARY(MAX) NOT NULL,
    created_at DATETIMEOFFSET NOT NULL DEFAULT SYSDATETIMEOFFSET()
  );
  CREATE INDEX profiles_name_idx ON profiles (name);
END;`
}

// buildInsertSQL returns the assigned identity through OUTPUT INSERTED,
// the SQL Server equivalent of RETURNING.
func buildInsertSQL() string {
	return `INSERT INTO profiles (name, session_id, session_timestamp, data_timestamp, row_count, envelope)
OUTPUT INSERTED.id
VALUES (@p1, @p2, @p3, @p4, @p5, @p6);`
}

func buildSelectEnvelopeSQL() string {
	return `SELECT envelope FROM profiles WHERE id = @p1;`
}

func buildListSQL(name string) (string, []any) {
	q := `SELECT id, name, session_id, session_timestamp, data_timestamp, row_count, created_at FROM profiles`
	var args []any
	if name != "" {
		q += ` WHERE name = @p1`
		args = append(args, name)
	}
	q += ` ORDER BY created_at DESC, id DESC;`
	return q, args
}

// dbConn is the narrow slice of *sql.DB the store uses, kept as an
// interface for testability.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	Close() error
}

// rowScanner is a narrow adapter over *sql.Row.Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *sqlDB) Close() error { return s.db.Close() }
