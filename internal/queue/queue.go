// Package queue implements the persisted list of writes that have not yet
// reached the remote store.
//
// The queue is stored as one serialized list per user in the local cache
// (pendingQueue:{userID}); items rejected with a permanent failure move to a
// second list (deadLetter:{userID}). Both lists survive restarts.
//
// Reads are safe from any goroutine. Mutations are expected from a single
// writer (the sync engine's worker), which drains the queue as one ordered
// pass.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/cache"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/schema"
)

// Item is a pending sync item: one full-record write waiting for the remote.
type Item struct {
	ID         string            `json:"id"`
	Kind       schema.Kind       `json:"kind"`
	Key        schema.NaturalKey `json:"key"`
	Payload    json.RawMessage   `json:"payload"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	Attempts   int               `json:"attempts,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
}

// NewItem builds an item for a record write, stamping it with a fresh ID.
func NewItem(kind schema.Kind, key schema.NaturalKey, payload []byte) Item {
	return Item{
		ID:         uuid.NewString(),
		Kind:       kind,
		Key:        key,
		Payload:    json.RawMessage(payload),
		EnqueuedAt: time.Now().UTC(),
	}
}

// sameTarget reports whether the item writes the given record.
func (it Item) sameTarget(kind schema.Kind, key schema.NaturalKey) bool {
	return it.Kind == kind && it.Key == key
}

type target struct {
	kind schema.Kind
	key  schema.NaturalKey
}

func (it Item) target() target {
	return target{it.Kind, it.Key}
}

// Result is the outcome an apply function reports for one item.
type Result int

const (
	// Applied means the remote accepted the item; it is removed.
	Applied Result = iota
	// Retain means the item failed transiently; it stays queued.
	Retain
	// Reject means the item failed permanently; it moves to the dead-letter list.
	Reject
)

// String returns a human-readable representation of the result.
func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case Retain:
		return "retain"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// ApplyFunc replays one item against the remote store. A non-nil error is
// recorded on retained and rejected items.
type ApplyFunc func(ctx context.Context, item Item) (Result, error)

// DrainReport summarizes one drain pass.
type DrainReport struct {
	Applied  int `json:"applied"`
	Retained int `json:"retained"`
	Rejected int `json:"rejected"`
	// Blocked counts items retained without an attempt because an earlier
	// item for the same record was retained in this pass.
	Blocked int `json:"blocked"`
}

// Queue is a user's persisted pending queue.
type Queue struct {
	cache   *cache.Cache
	userID  string
	logger  *log.Logger
	mu      sync.Mutex
	items   []Item
	dead    []Item
	pending string
	deadKey string
}

// Open loads the user's queue from the cache. A missing or corrupt list is
// treated as empty.
func Open(c *cache.Cache, userID string, logger *log.Logger) (*Queue, error) {
	if c == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if err := schema.ValidateUserID(userID); err != nil {
		return nil, fmt.Errorf("invalid user: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}

	q := &Queue{
		cache:   c,
		userID:  userID,
		logger:  logger,
		pending: cache.PendingQueueKey(userID),
		deadKey: cache.DeadLetterKey(userID),
	}

	if !c.GetJSON(q.pending, &q.items) {
		q.items = nil
	}
	if !c.GetJSON(q.deadKey, &q.dead) {
		q.dead = nil
	}

	if len(q.items) > 0 || len(q.dead) > 0 {
		q.logger.Printf("Loaded queue for %s: pending=%d dead=%d", userID, len(q.items), len(q.dead))
	}
	return q, nil
}

// Enqueue appends item and persists the queue.
func (q *Queue) Enqueue(item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}

	next := append(cloneItems(q.items), item)
	if err := q.cache.SetJSON(q.pending, next); err != nil {
		return fmt.Errorf("failed to persist pending queue: %w", err)
	}
	q.items = next
	return nil
}

// DrainAll walks the queue once in order, calling apply for each item.
//
// Applied items are removed, retained items keep their relative order and
// rejected items move to the dead-letter list. Dead letters older than an
// applied write for the same record are dropped. Once an item is retained for
// a record, later items for the same record are retained without being
// applied. The pass stops early, retaining the rest, if ctx is cancelled.
//
// The lock is not held while apply runs; items enqueued during the pass are
// kept after the retained ones.
func (q *Queue) DrainAll(ctx context.Context, apply ApplyFunc) (DrainReport, error) {
	q.mu.Lock()
	snapshot := cloneItems(q.items)
	q.mu.Unlock()

	var report DrainReport
	if len(snapshot) == 0 {
		return report, nil
	}

	blocked := make(map[target]bool)
	applied := make(map[target]time.Time)

	remaining := make([]Item, 0, len(snapshot))
	var rejected []Item

	for _, item := range snapshot {
		t := item.target()
		if ctx.Err() != nil || blocked[t] {
			remaining = append(remaining, item)
			report.Blocked++
			continue
		}

		result, err := apply(ctx, item)
		switch result {
		case Applied:
			report.Applied++
			if item.EnqueuedAt.After(applied[t]) {
				applied[t] = item.EnqueuedAt
			}
		case Reject:
			item.Attempts++
			item.LastError = errString(err)
			rejected = append(rejected, item)
			report.Rejected++
			q.logger.Printf("WARNING: Rejected %s %s: %v", item.Kind, item.Key, err)
		default:
			item.Attempts++
			item.LastError = errString(err)
			remaining = append(remaining, item)
			blocked[t] = true
			report.Retained++
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) > len(snapshot) {
		remaining = append(remaining, q.items[len(snapshot):]...)
	}
	dead := supersede(append(cloneItems(q.dead), rejected...), applied)

	if err := q.persist(remaining, dead); err != nil {
		return report, err
	}
	return report, nil
}

// supersede drops dead letters older than a write that has since reached the
// remote. Each item carries the full record, so replaying them would roll
// the remote back.
func supersede(dead []Item, applied map[target]time.Time) []Item {
	if len(applied) == 0 || len(dead) == 0 {
		return dead
	}
	kept := dead[:0:0]
	for _, it := range dead {
		if at, ok := applied[it.target()]; ok && it.EnqueuedAt.Before(at) {
			continue
		}
		kept = append(kept, it)
	}
	return kept
}

// persist writes both lists and, on success, adopts them as current state.
func (q *Queue) persist(items, dead []Item) error {
	if err := q.cache.SetJSON(q.pending, items); err != nil {
		return fmt.Errorf("failed to persist pending queue: %w", err)
	}
	if err := q.cache.SetJSON(q.deadKey, dead); err != nil {
		return fmt.Errorf("failed to persist dead letters: %w", err)
	}
	q.items = items
	q.dead = dead
	return nil
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the pending items in queue order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneItems(q.items)
}

// HasKey reports whether any pending item writes the given record.
func (q *Queue) HasKey(kind schema.Kind, key schema.NaturalKey) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.sameTarget(kind, key) {
			return true
		}
	}
	return false
}

// DeadLetters returns a copy of the rejected items.
func (q *Queue) DeadLetters() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneItems(q.dead)
}

// Reject records item directly as a dead letter. It is used when a write
// fails permanently before it was ever queued.
func (q *Queue) Reject(item Item, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item.Attempts++
	item.LastError = errString(cause)
	dead := append(cloneItems(q.dead), item)
	if err := q.cache.SetJSON(q.deadKey, dead); err != nil {
		return fmt.Errorf("failed to persist dead letters: %w", err)
	}
	q.dead = dead
	q.logger.Printf("WARNING: Rejected %s %s: %v", item.Kind, item.Key, cause)
	return nil
}

// UserID returns the queue's owner.
func (q *Queue) UserID() string {
	return q.userID
}

// Supersede drops dead letters for the record that were enqueued before at,
// the enqueue time of a write the remote has accepted. It returns how many
// were dropped.
func (q *Queue) Supersede(kind schema.Kind, key schema.NaturalKey, at time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	dead := supersede(q.dead, map[target]time.Time{{kind, key}: at})
	n := len(q.dead) - len(dead)
	if n == 0 {
		return 0, nil
	}
	if err := q.cache.SetJSON(q.deadKey, dead); err != nil {
		return 0, fmt.Errorf("failed to persist dead letters: %w", err)
	}
	q.dead = dead
	return n, nil
}

// Requeue moves dead letters back to the end of the pending queue, oldest
// first, and returns how many were moved.
//
// Only the newest dead letter per record is replayed, and only when no
// pending write for that record was enqueued after it. The others are
// dropped since a later full-record write already supersedes them.
func (q *Queue) Requeue() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.dead) == 0 {
		return 0, nil
	}

	latest := make(map[target]time.Time)
	note := func(it Item) {
		if it.EnqueuedAt.After(latest[it.target()]) {
			latest[it.target()] = it.EnqueuedAt
		}
	}
	for _, it := range q.items {
		note(it)
	}
	for _, it := range q.dead {
		note(it)
	}

	var moved []Item
	for _, it := range q.dead {
		if it.EnqueuedAt.Before(latest[it.target()]) {
			continue
		}
		// A pending write with the same timestamp still wins.
		if q.pendingAt(it.target(), it.EnqueuedAt) {
			continue
		}
		moved = append(moved, it)
	}
	sort.SliceStable(moved, func(i, j int) bool {
		return moved[i].EnqueuedAt.Before(moved[j].EnqueuedAt)
	})

	if dropped := len(q.dead) - len(moved); dropped > 0 {
		q.logger.Printf("Dropped %d superseded dead letters", dropped)
	}

	items := append(cloneItems(q.items), moved...)
	if err := q.persist(items, nil); err != nil {
		return 0, err
	}
	return len(moved), nil
}

// pendingAt reports whether a pending item for t was enqueued at exactly at.
func (q *Queue) pendingAt(t target, at time.Time) bool {
	for _, it := range q.items {
		if it.target() == t && it.EnqueuedAt.Equal(at) {
			return true
		}
	}
	return false
}

// Clear drops every pending item and dead letter, e.g. at logout.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.cache.Delete(q.pending); err != nil {
		return fmt.Errorf("failed to clear pending queue: %w", err)
	}
	if err := q.cache.Delete(q.deadKey); err != nil {
		return fmt.Errorf("failed to clear dead letters: %w", err)
	}
	q.items = nil
	q.dead = nil
	return nil
}

func cloneItems(items []Item) []Item {
	if len(items) == 0 {
		return nil
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
