package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/schema"
)

// PostgresConfig configures the Postgres pool.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// SimpleProtocol is required behind PgBouncer in transaction mode.
	SimpleProtocol bool
	// ApplicationName is reported to the server.
	ApplicationName string
}

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool and creates the record tables if needed.
// The pool is lazy: an unreachable server fails at first use, not here,
// unless schema creation is attempted and fails.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.SimpleProtocol {
		pcfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	if cfg.ApplicationName != "" {
		pcfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pcfg.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// InitSchema creates the record tables if they don't exist.
func (p *Postgres) InitSchema(ctx context.Context) error {
	const ddl = `
create table if not exists profiles (
	user_id text primary key,
	payload jsonb not null,
	updated_at timestamptz not null default now()
);

create table if not exists daily_progress (
	user_id text not null,
	day date not null,
	payload jsonb not null,
	updated_at timestamptz not null default now(),
	primary key (user_id, day)
);
`
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return classifyPostgres("init", fmt.Errorf("failed to initialize schema: %w", err))
	}
	return nil
}

// Upsert implements Store.Upsert.
func (p *Postgres) Upsert(ctx context.Context, kind schema.Kind, key schema.NaturalKey, payload []byte) error {
	if err := checkWrite(kind, key, payload); err != nil {
		return err
	}

	var err error
	switch kind {
	case schema.KindProfile:
		const q = `
insert into profiles (user_id, payload, updated_at) values ($1, $2, now())
on conflict (user_id) do update set
	payload = excluded.payload,
	updated_at = excluded.updated_at
`
		_, err = p.pool.Exec(ctx, q, key.UserID, payload)
	case schema.KindProgress:
		const q = `
insert into daily_progress (user_id, day, payload, updated_at) values ($1, $2::date, $3, now())
on conflict (user_id, day) do update set
	payload = excluded.payload,
	updated_at = excluded.updated_at
`
		_, err = p.pool.Exec(ctx, q, key.UserID, key.Date, payload)
	}
	if err != nil {
		return classifyPostgres("upsert", fmt.Errorf("failed to upsert %s %s: %w", kind, key, err))
	}
	return nil
}

// Get implements Store.Get.
func (p *Postgres) Get(ctx context.Context, kind schema.Kind, key schema.NaturalKey) ([]byte, error) {
	if err := checkRead(kind, key); err != nil {
		return nil, err
	}

	var row pgx.Row
	switch kind {
	case schema.KindProfile:
		row = p.pool.QueryRow(ctx, `select payload from profiles where user_id = $1`, key.UserID)
	default:
		row = p.pool.QueryRow(ctx, `select payload from daily_progress where user_id = $1 and day = $2::date`, key.UserID, key.Date)
	}

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyPostgres("get", fmt.Errorf("failed to read %s %s: %w", kind, key, err))
	}
	return payload, nil
}

// Ping implements Store.Ping.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return classifyPostgres("ping", err)
	}
	return nil
}

// Close implements Store.Close.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// classifyPostgres maps SQLSTATE classes onto failure kinds.
//
//	22 data exception, 23 integrity constraint, 42 syntax/access -> permanent
//	everything else (08 connection, 40 rollback, 53 resources, 57 operator) -> transient
func classifyPostgres(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &Error{Op: op, Kind: sqlStateKind(pgErr.Code), Err: err}
	}
	if kind, ok := classifyCommon(err); ok {
		return &Error{Op: op, Kind: kind, Err: err}
	}
	// Connect errors, timeouts and anything pgx can't place are retried.
	return TransientError(op, err)
}

func sqlStateKind(code string) FailureKind {
	if len(code) < 2 {
		return Transient
	}
	switch code[:2] {
	case "22", "23", "42":
		return Permanent
	}
	return Transient
}
