package remote

import (
	"context"
	"fmt"
	"strings"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverLibSQL   = "libsql"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
	DriverNone     = "none"
)

// Options configures Open beyond driver and DSN.
type Options struct {
	MaxConns        int32
	ApplicationName string
}

// Open creates the Store named by driver. DriverNone returns (nil, nil):
// the caller runs without a remote and every write stays queued.
//
// Example:
//
//	store, err := remote.Open(ctx, "postgres", "postgres://localhost/cutburn", remote.Options{MaxConns: 4})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(ctx context.Context, driver, dsn string, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres, "pg", "pgx":
		if dsn == "" {
			return nil, fmt.Errorf("postgres driver requires a dsn")
		}
		pg, err := OpenPostgres(ctx, PostgresConfig{
			DSN:             dsn,
			MaxConns:        opts.MaxConns,
			ApplicationName: opts.ApplicationName,
		})
		if err != nil {
			return nil, err
		}
		return pg, nil
	case DriverLibSQL, "turso":
		if dsn == "" {
			return nil, fmt.Errorf("libsql driver requires a dsn")
		}
		return openSQL(ctx, "libsql", dsn)
	case DriverSQLite, "sqlite3":
		if dsn == "" {
			return nil, fmt.Errorf("sqlite driver requires a dsn")
		}
		if !strings.HasPrefix(dsn, "file:") {
			dsn = "file:" + dsn
		}
		return openSQL(ctx, "sqlite3", dsn)
	case DriverMemory:
		return NewMemory(), nil
	case DriverNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown remote driver %q", driver)
	}
}

func openSQL(ctx context.Context, driverName, dsn string) (Store, error) {
	s, err := OpenSQL(ctx, driverName, dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}
