package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/schema"
)

// SQL is a Store over database/sql speaking the SQLite dialect. It serves
// libSQL/Turso servers (driver "libsql") and plain SQLite files (driver
// "sqlite3"), which share the same upsert syntax.
type SQL struct {
	conn *sql.DB
}

// OpenSQL opens a SQL store. driverName is "libsql" or "sqlite3"; dsn is
// passed to the driver unchanged (e.g. "libsql://db.turso.io?authToken=..."
// or "file:/tmp/remote.db").
func OpenSQL(ctx context.Context, driverName, dsn string) (*SQL, error) {
	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", driverName, err)
	}

	s := &SQL{conn: conn}
	if err := s.InitSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an already opened database. The schema is not created.
func NewSQL(conn *sql.DB) *SQL {
	return &SQL{conn: conn}
}

// InitSchema creates the record tables if they don't exist. This is
// idempotent.
func (s *SQL) InitSchema(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS daily_progress (
		user_id TEXT NOT NULL,
		day TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, day)
	);

	CREATE INDEX IF NOT EXISTS idx_daily_progress_day ON daily_progress(day);
	`
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return classifySQL("init", fmt.Errorf("failed to initialize schema: %w", err))
	}
	return nil
}

// Upsert implements Store.Upsert.
func (s *SQL) Upsert(ctx context.Context, kind schema.Kind, key schema.NaturalKey, payload []byte) error {
	if err := checkWrite(kind, key, payload); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var err error
	switch kind {
	case schema.KindProfile:
		_, err = s.conn.ExecContext(ctx, `
		INSERT INTO profiles (user_id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
		`, key.UserID, string(payload), now)
	case schema.KindProgress:
		_, err = s.conn.ExecContext(ctx, `
		INSERT INTO daily_progress (user_id, day, payload, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, day) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
		`, key.UserID, key.Date, string(payload), now)
	}
	if err != nil {
		return classifySQL("upsert", fmt.Errorf("failed to upsert %s %s: %w", kind, key, err))
	}
	return nil
}

// Get implements Store.Get.
func (s *SQL) Get(ctx context.Context, kind schema.Kind, key schema.NaturalKey) ([]byte, error) {
	if err := checkRead(kind, key); err != nil {
		return nil, err
	}

	var row *sql.Row
	switch kind {
	case schema.KindProfile:
		row = s.conn.QueryRowContext(ctx, `SELECT payload FROM profiles WHERE user_id = ?`, key.UserID)
	default:
		row = s.conn.QueryRowContext(ctx, `SELECT payload FROM daily_progress WHERE user_id = ? AND day = ?`, key.UserID, key.Date)
	}

	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifySQL("get", fmt.Errorf("failed to read %s %s: %w", kind, key, err))
	}
	return []byte(payload), nil
}

// Ping implements Store.Ping.
func (s *SQL) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return classifySQL("ping", err)
	}
	return nil
}

// Close implements Store.Close.
func (s *SQL) Close() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

// CountDays returns the number of day records stored for userID.
func (s *SQL) CountDays(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM daily_progress WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count days: %w", err)
	}
	return n, nil
}

// classifySQL maps SQLite result codes onto failure kinds. Constraint, type
// and size errors are permanent; busy/locked/IO and unknown errors (including
// libSQL transport errors) are transient.
func classifySQL(op string, err error) error {
	if kind, ok := classifyCommon(err); ok {
		return &Error{Op: op, Kind: kind, Err: err}
	}
	switch {
	case errors.Is(err, sqlite3.CONSTRAINT),
		errors.Is(err, sqlite3.MISMATCH),
		errors.Is(err, sqlite3.TOOBIG),
		errors.Is(err, sqlite3.RANGE):
		return PermanentError(op, err)
	}
	return TransientError(op, err)
}
