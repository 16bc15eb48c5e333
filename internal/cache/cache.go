// Package cache provides the durable local key-value store for cutburn.
//
// The cache is the source of truth for "last known state" while the remote
// store is unreachable, so it must survive process restarts. It is an
// embedded SQLite database (ncruces/go-sqlite3, no cgo) running in WAL mode.
//
// Layout: one kv table keyed by namespaced strings.
//   - profile:{userID}             serialized schema.UserProfile
//   - progress:{userID}:{date}     serialized schema.DailyProgress
//   - pendingQueue:{userID}        serialized pending sync items
//   - deadLetter:{userID}          serialized rejected sync items
//
// Read or decode failures are logged and reported as absent; callers supply
// defaults.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/schema"
)

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("cache is closed")

// Cache wraps the SQLite connection backing the local store.
type Cache struct {
	mu     sync.RWMutex
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// db returns the open connection or ErrClosed.
func (c *Cache) db() (*sql.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil, ErrClosed
	}
	return c.conn, nil
}

// Open opens (creating if needed) the cache database at path and initializes
// its schema.
//
// The caller MUST call Close() when done so the WAL is checkpointed.
//
// Example:
//
//	c, err := cache.Open(filepath.Join(dataDir, "cache.db"), nil)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
func Open(path string, logger *log.Logger) (*Cache, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache: %w", err)
	}

	// A single writer keeps the pragmas below on one connection and
	// serializes writes in-process.
	conn.SetMaxOpenConns(1)

	c := &Cache{conn: conn, path: path, logger: logger}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := c.initSchema(context.Background()); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

func (c *Cache) initSchema(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	conn, err := c.db()
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (c *Cache) Path() string {
	return c.path
}

// Close checkpoints the WAL and closes the database.
// Closing twice is a no-op.
func (c *Cache) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	if _, err := conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		c.logger.Printf("WARNING: failed to checkpoint WAL: %v", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache: %w", err)
	}
	return nil
}

// Get returns the value stored under key. The second result is false when
// the key is absent or cannot be read.
func (c *Cache) Get(key string) ([]byte, bool) {
	conn, err := c.db()
	if err != nil {
		c.logger.Printf("WARNING: failed to read %s, treating as absent: %v", key, err)
		return nil, false
	}
	var value []byte
	err = conn.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		c.logger.Printf("WARNING: failed to read %s, treating as absent: %v", key, err)
		return nil, false
	}
	return value, true
}

// Set stores value under key, overwriting any previous value.
func (c *Cache) Set(key string, value []byte) error {
	const query = `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	conn, err := c.db()
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if _, err := conn.Exec(query, key, value, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// GetJSON decodes the value under key into v. It returns false when the key
// is absent or the stored value does not decode; v is left untouched then.
func (c *Cache) GetJSON(key string, v any) bool {
	data, ok := c.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Printf("WARNING: corrupt value at %s, treating as absent: %v", key, err)
		return false
	}
	return true
}

// SetJSON encodes v and stores it under key.
func (c *Cache) SetJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return c.Set(key, data)
}

// Delete removes key. Deleting an absent key is not an error.
func (c *Cache) Delete(key string) error {
	conn, err := c.db()
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	if _, err := conn.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix and returns how many
// were removed.
func (c *Cache) DeletePrefix(prefix string) (int, error) {
	conn, err := c.db()
	if err != nil {
		return 0, fmt.Errorf("failed to delete prefix %s: %w", prefix, err)
	}
	res, err := conn.Exec(`DELETE FROM kv WHERE substr(key, 1, ?) = ?`, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to delete prefix %s: %w", prefix, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted rows: %w", err)
	}
	return int(n), nil
}

// Keys returns every key starting with prefix in ascending order.
func (c *Cache) Keys(prefix string) ([]string, error) {
	conn, err := c.db()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	rows, err := conn.Query(`SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key ASC`, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keys: %w", err)
	}
	return keys, nil
}

// Count returns the number of keys starting with prefix.
func (c *Cache) Count(prefix string) (int, error) {
	conn, err := c.db()
	if err != nil {
		return 0, fmt.Errorf("failed to count keys: %w", err)
	}
	var n int
	err = conn.QueryRow(`SELECT COUNT(*) FROM kv WHERE substr(key, 1, ?) = ?`, utf8.RuneCountInString(prefix), prefix).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count keys: %w", err)
	}
	return n, nil
}

// ProfileKey is the cache key of a user's profile.
func ProfileKey(userID string) string {
	return "profile:" + userID
}

// ProgressKey is the cache key of a user's record for date.
func ProgressKey(userID, date string) string {
	return "progress:" + userID + ":" + date
}

// ProgressPrefix is the key prefix shared by all of a user's day records.
func ProgressPrefix(userID string) string {
	return "progress:" + userID + ":"
}

// DateFromProgressKey extracts the date from a key built by ProgressKey.
// Keys whose remainder is not a calendar day do not belong to userID.
func DateFromProgressKey(userID, key string) (string, bool) {
	prefix := ProgressPrefix(userID)
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	date := strings.TrimPrefix(key, prefix)
	if _, err := schema.ParseDate(date); err != nil {
		return "", false
	}
	return date, true
}

// PendingQueueKey is the cache key of a user's pending sync queue.
func PendingQueueKey(userID string) string {
	return "pendingQueue:" + userID
}

// DeadLetterKey is the cache key of a user's rejected sync items.
func DeadLetterKey(userID string) string {
	return "deadLetter:" + userID
}

// UserKeys lists every cache key owned by userID.
func UserKeys(userID string) []string {
	return []string{ProfileKey(userID), PendingQueueKey(userID), DeadLetterKey(userID)}
}
