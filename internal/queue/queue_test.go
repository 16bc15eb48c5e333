package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/cache"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/schema"
)

var discard = log.New(io.Discard, "", 0)

// setupTestQueue opens a cache and a queue for user u-1.
func setupTestQueue(t *testing.T) (*Queue, *cache.Cache, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := cache.Open(path, discard)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	q, err := Open(c, "u-1", discard)
	if err != nil {
		t.Fatalf("failed to open queue: %v", err)
	}
	return q, c, path
}

// dayItem builds a progress item for date carrying the given water value.
func dayItem(date string, water int) Item {
	payload := fmt.Sprintf(`{"user_id":"u-1","date":%q,"water_ml":%d}`, date, water)
	return NewItem(schema.KindProgress, schema.ProgressKey("u-1", date), []byte(payload))
}

func mustEnqueue(t *testing.T, q *Queue, items ...Item) {
	t.Helper()
	for _, it := range items {
		if err := q.Enqueue(it); err != nil {
			t.Fatalf("Enqueue() failed: %v", err)
		}
	}
}

func TestEnqueue_PersistsAcrossReopen(t *testing.T) {
	q, c, _ := setupTestQueue(t)
	mustEnqueue(t, q, dayItem("2024-06-01", 500), dayItem("2024-06-02", 250))

	reopened, err := Open(c, "u-1", discard)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	items := reopened.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 items after reopen, got %d", len(items))
	}
	if items[0].Key.Date != "2024-06-01" || items[1].Key.Date != "2024-06-02" {
		t.Errorf("order not preserved: %s, %s", items[0].Key, items[1].Key)
	}
	if items[0].ID == "" || items[0].EnqueuedAt.IsZero() {
		t.Errorf("item not stamped: %+v", items[0])
	}
}

func TestOpen_CorruptQueueIsEmpty(t *testing.T) {
	_, c, _ := setupTestQueue(t)
	if err := c.Set(cache.PendingQueueKey("u-2"), []byte("[{broken")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	q, err := Open(c, "u-2", discard)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("corrupt queue loaded %d items", q.Len())
	}
}

func TestDrainAll_PartialFailureRetains(t *testing.T) {
	q, _, _ := setupTestQueue(t)
	a := dayItem("2024-06-01", 500)
	b := dayItem("2024-06-02", 700)
	mustEnqueue(t, q, a, b)

	report, err := q.DrainAll(context.Background(), func(ctx context.Context, it Item) (Result, error) {
		if it.ID == a.ID {
			return Retain, errors.New("connection reset")
		}
		return Applied, nil
	})
	if err != nil {
		t.Fatalf("DrainAll() failed: %v", err)
	}

	if report.Applied != 1 || report.Retained != 1 {
		t.Errorf("report = %+v", report)
	}
	items := q.Items()
	if len(items) != 1 || items[0].ID != a.ID {
		t.Fatalf("expected only A to remain, got %+v", items)
	}
	if items[0].Attempts != 1 || items[0].LastError != "connection reset" {
		t.Errorf("retry metadata not recorded: %+v", items[0])
	}
}

func TestDrainAll_RetainsOrderAndBlocksSameKey(t *testing.T) {
	q, _, _ := setupTestQueue(t)
	first := dayItem("2024-06-01", 500)
	other := dayItem("2024-06-02", 100)
	second := dayItem("2024-06-01", 1000)
	mustEnqueue(t, q, first, other, second)

	var applied []string
	report, err := q.DrainAll(context.Background(), func(ctx context.Context, it Item) (Result, error) {
		if it.ID == first.ID {
			return Retain, errors.New("timeout")
		}
		applied = append(applied, it.ID)
		return Applied, nil
	})
	if err != nil {
		t.Fatalf("DrainAll() failed: %v", err)
	}

	if len(applied) != 1 || applied[0] != other.ID {
		t.Errorf("applied = %v, want only the other day", applied)
	}
	if report.Blocked != 1 {
		t.Errorf("Blocked = %d, want 1", report.Blocked)
	}
	items := q.Items()
	if len(items) != 2 || items[0].ID != first.ID || items[1].ID != second.ID {
		t.Errorf("remaining order wrong: %+v", items)
	}
	if items[1].Attempts != 0 {
		t.Errorf("blocked item was counted as attempted")
	}
}

func TestDrainAll_RejectMovesToDeadLetter(t *testing.T) {
	q, c, _ := setupTestQueue(t)
	bad := dayItem("2024-06-01", 500)
	mustEnqueue(t, q, bad)

	_, err := q.DrainAll(context.Background(), func(ctx context.Context, it Item) (Result, error) {
		return Reject, errors.New("malformed payload")
	})
	if err != nil {
		t.Fatalf("DrainAll() failed: %v", err)
	}

	if q.Len() != 0 {
		t.Errorf("rejected item still pending")
	}
	dead := q.DeadLetters()
	if len(dead) != 1 || dead[0].ID != bad.ID {
		t.Fatalf("dead letters = %+v", dead)
	}

	reopened, err := Open(c, "u-1", discard)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if len(reopened.DeadLetters()) != 1 {
		t.Error("dead letter not persisted")
	}

	n, err := reopened.Requeue()
	if err != nil {
		t.Fatalf("Requeue() failed: %v", err)
	}
	if n != 1 || reopened.Len() != 1 || len(reopened.DeadLetters()) != 0 {
		t.Errorf("Requeue() = %d, pending=%d dead=%d", n, reopened.Len(), len(reopened.DeadLetters()))
	}
}

func TestDrainAll_CancelledContextRetainsEverything(t *testing.T) {
	q, _, _ := setupTestQueue(t)
	mustEnqueue(t, q, dayItem("2024-06-01", 1), dayItem("2024-06-02", 2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := q.DrainAll(ctx, func(ctx context.Context, it Item) (Result, error) {
		calls++
		return Applied, nil
	})
	if err != nil {
		t.Fatalf("DrainAll() failed: %v", err)
	}
	if calls != 0 || q.Len() != 2 {
		t.Errorf("calls=%d pending=%d, want 0 and 2", calls, q.Len())
	}
}

func TestHasKeyAndClear(t *testing.T) {
	q, _, _ := setupTestQueue(t)
	mustEnqueue(t, q, dayItem("2024-06-01", 500))

	if !q.HasKey(schema.KindProgress, schema.ProgressKey("u-1", "2024-06-01")) {
		t.Error("HasKey() = false for queued record")
	}
	if q.HasKey(schema.KindProfile, schema.ProfileKey("u-1")) {
		t.Error("HasKey() = true for profile")
	}

	if err := q.Clear(); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after Clear", q.Len())
	}
}

// stamped returns it with EnqueuedAt set to base plus offset.
func stamped(it Item, base time.Time, offset time.Duration) Item {
	it.EnqueuedAt = base.Add(offset)
	return it
}

func TestRequeue_SkipsSupersededDeadLetters(t *testing.T) {
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		dead      []Item
		pending   []Item
		wantMoved []int // water values moved back, in order
		wantQueue int
	}{
		{
			name:      "newer pending write wins",
			dead:      []Item{stamped(dayItem("2024-06-01", 500), base, 0)},
			pending:   []Item{stamped(dayItem("2024-06-01", 1000), base, time.Second)},
			wantQueue: 1,
		},
		{
			name:      "older pending write is overwritten by the replay",
			dead:      []Item{stamped(dayItem("2024-06-01", 500), base, time.Second)},
			pending:   []Item{stamped(dayItem("2024-06-01", 250), base, 0)},
			wantMoved: []int{500},
			wantQueue: 2,
		},
		{
			name: "only the newest dead letter per record",
			dead: []Item{
				stamped(dayItem("2024-06-01", 900), base, 2*time.Second),
				stamped(dayItem("2024-06-01", 500), base, 0),
				stamped(dayItem("2024-06-02", 100), base, time.Second),
			},
			wantMoved: []int{100, 900},
			wantQueue: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _, _ := setupTestQueue(t)
			for _, it := range tt.dead {
				if err := q.Reject(it, errors.New("rejected")); err != nil {
					t.Fatalf("Reject() failed: %v", err)
				}
			}
			mustEnqueue(t, q, tt.pending...)

			n, err := q.Requeue()
			if err != nil {
				t.Fatalf("Requeue() failed: %v", err)
			}
			if n != len(tt.wantMoved) {
				t.Errorf("Requeue() = %d, want %d", n, len(tt.wantMoved))
			}
			if len(q.DeadLetters()) != 0 {
				t.Errorf("dead letters left: %+v", q.DeadLetters())
			}

			items := q.Items()
			if len(items) != tt.wantQueue {
				t.Fatalf("pending = %d, want %d", len(items), tt.wantQueue)
			}
			moved := items[len(tt.pending):]
			for i, water := range tt.wantMoved {
				want := fmt.Sprintf(`"water_ml":%d}`, water)
				if !strings.HasSuffix(string(moved[i].Payload), want) {
					t.Errorf("moved[%d] = %s, want %s", i, moved[i].Payload, want)
				}
			}
		})
	}
}

func TestDrainAll_AppliedWriteDropsOlderDeadLetter(t *testing.T) {
	q, _, _ := setupTestQueue(t)
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	if err := q.Reject(stamped(dayItem("2024-06-01", 500), base, 0), errors.New("rejected")); err != nil {
		t.Fatalf("Reject() failed: %v", err)
	}
	if err := q.Reject(stamped(dayItem("2024-06-02", 100), base, 0), errors.New("rejected")); err != nil {
		t.Fatalf("Reject() failed: %v", err)
	}
	mustEnqueue(t, q, stamped(dayItem("2024-06-01", 1000), base, time.Second))

	if _, err := q.DrainAll(context.Background(), func(ctx context.Context, it Item) (Result, error) {
		return Applied, nil
	}); err != nil {
		t.Fatalf("DrainAll() failed: %v", err)
	}

	dead := q.DeadLetters()
	if len(dead) != 1 || dead[0].Key != schema.ProgressKey("u-1", "2024-06-02") {
		t.Errorf("dead letters = %+v, want only the 2024-06-02 write", dead)
	}
}

func TestSupersede(t *testing.T) {
	q, c, _ := setupTestQueue(t)
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	key := schema.ProgressKey("u-1", "2024-06-01")

	if err := q.Reject(stamped(dayItem("2024-06-01", 500), base, 0), errors.New("rejected")); err != nil {
		t.Fatalf("Reject() failed: %v", err)
	}

	if n, err := q.Supersede(schema.KindProgress, key, base); err != nil || n != 0 {
		t.Errorf("Supersede(same time) = %d, %v; want 0", n, err)
	}
	if n, err := q.Supersede(schema.KindProgress, key, base.Add(time.Second)); err != nil || n != 1 {
		t.Errorf("Supersede(later) = %d, %v; want 1", n, err)
	}

	reopened, err := Open(c, "u-1", discard)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if len(reopened.DeadLetters()) != 0 {
		t.Error("superseded dead letter was not persisted as dropped")
	}
}
