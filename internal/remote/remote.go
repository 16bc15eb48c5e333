// Package remote is the client boundary to the durable remote store.
//
// A Store upserts full records keyed by their natural key and reads them back
// by the same key. Conflicts are last-writer-wins: the last upsert applied for
// a key is the stored value, with no field merge and no version vectors, so
// replaying the same write twice is observably a no-op.
//
// Every failure is reported as *Error carrying a FailureKind. Transient
// failures (network, timeouts, unavailable server) are worth retrying;
// permanent failures (malformed payload, constraint or type errors) will
// fail the same way forever and are dead-lettered by the sync engine.
//
// Backends:
//   - Postgres: jackc/pgx connection pool
//   - SQL: database/sql over libSQL/Turso or SQLite
//   - Memory: in-process store for tests and offline development
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/schema"
)

// Store is the remote upsert/read boundary.
type Store interface {
	// Upsert writes payload as the record for (kind, key), replacing any
	// previous value.
	Upsert(ctx context.Context, kind schema.Kind, key schema.NaturalKey, payload []byte) error

	// Get returns the stored payload for (kind, key) or ErrNotFound.
	Get(ctx context.Context, kind schema.Kind, key schema.NaturalKey) ([]byte, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("record not found")

// FailureKind distinguishes retryable from non-retryable failures.
type FailureKind int

const (
	// Transient failures may succeed on retry.
	Transient FailureKind = iota
	// Permanent failures will fail the same way on every retry.
	Permanent
)

// String returns a human-readable representation of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a classified remote failure.
type Error struct {
	Op   string
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TransientError wraps err as a transient failure of op.
func TransientError(op string, err error) error {
	return &Error{Op: op, Kind: Transient, Err: err}
}

// PermanentError wraps err as a permanent failure of op.
func PermanentError(op string, err error) error {
	return &Error{Op: op, Kind: Permanent, Err: err}
}

// KindOf returns the failure kind of err. Unclassified errors are transient:
// the safe default is to keep data and retry.
func KindOf(err error) FailureKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return Transient
}

// IsPermanent reports whether err is a permanent failure.
func IsPermanent(err error) bool {
	return err != nil && KindOf(err) == Permanent
}

// classifyCommon handles failures that look the same on every backend.
// The second result is false when the backend must decide.
func classifyCommon(err error) (FailureKind, bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Transient, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient, true
	}
	return Transient, false
}

// checkWrite validates a write before it reaches a backend. Failures are
// permanent: the same payload will never become valid.
func checkWrite(kind schema.Kind, key schema.NaturalKey, payload []byte) error {
	if err := key.ValidateFor(kind); err != nil {
		return PermanentError("upsert", fmt.Errorf("invalid key %s: %w", key, err))
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return PermanentError("upsert", fmt.Errorf("malformed payload for %s %s", kind, key))
	}
	return nil
}

// checkRead validates a point read's key.
func checkRead(kind schema.Kind, key schema.NaturalKey) error {
	if err := key.ValidateFor(kind); err != nil {
		return PermanentError("get", fmt.Errorf("invalid key %s: %w", key, err))
	}
	return nil
}
