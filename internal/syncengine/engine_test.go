package syncengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/cache"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/connectivity"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/queue"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/remote"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/schema"
)

var discard = log.New(io.Discard, "", 0)

type fixture struct {
	cache   *cache.Cache
	store   *remote.Memory
	monitor *connectivity.Monitor
	engine  *Engine
}

// setupEngine starts an engine over a temp cache and an in-memory remote.
func setupEngine(t *testing.T, online bool, backoff time.Duration) *fixture {
	t.Helper()

	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), discard)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	f := &fixture{
		cache:   c,
		store:   remote.NewMemory(),
		monitor: connectivity.New(online, discard),
	}
	f.engine = startEngine(t, f, backoff)
	return f
}

func startEngine(t *testing.T, f *fixture, backoff time.Duration) *Engine {
	t.Helper()

	backoffMax := 50 * time.Millisecond
	if backoff > backoffMax {
		backoffMax = backoff
	}
	cfg := &Config{
		BackoffBase:    backoff,
		BackoffMax:     backoffMax,
		AttemptTimeout: time.Second,
		Logger:         discard,
	}
	e, err := NewWithConfig("u-1", f.cache, f.store, f.monitor, cfg)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { e.Stop() })
	return e
}

func dayItem(date string, water int) queue.Item {
	payload := fmt.Sprintf(`{"user_id":"u-1","date":%q,"water_ml":%d}`, date, water)
	return queue.NewItem(schema.KindProgress, schema.ProgressKey("u-1", date), []byte(payload))
}

func mustSync(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
}

func remoteWater(t *testing.T, m *remote.Memory, date string) string {
	t.Helper()
	got, err := m.Get(context.Background(), schema.KindProgress, schema.ProgressKey("u-1", date))
	if err != nil {
		t.Fatalf("remote Get(%s) failed: %v", date, err)
	}
	return string(got)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmit_OnlineWritesImmediately(t *testing.T) {
	f := setupEngine(t, true, 0)

	f.engine.Submit(dayItem("2024-06-01", 500))
	mustSync(t, f.engine)

	if f.store.Upserts() != 1 {
		t.Errorf("Upserts() = %d, want 1", f.store.Upserts())
	}
	st := f.engine.Status()
	if st.Pending != 0 || st.LastSync.IsZero() || st.LastError != "" {
		t.Errorf("Status() = %+v", st)
	}
}

func TestSubmit_OfflineQueuesWithoutRemoteCalls(t *testing.T) {
	f := setupEngine(t, false, 0)

	f.engine.Submit(dayItem("2024-06-01", 500))
	f.engine.Submit(dayItem("2024-06-02", 250))
	mustSync(t, f.engine)

	if f.store.Upserts() != 0 {
		t.Errorf("remote called %d times while offline", f.store.Upserts())
	}
	if n := len(f.engine.Pending()); n != 2 {
		t.Errorf("pending = %d, want 2", n)
	}
}

func TestTransitionOnline_DrainsQueue(t *testing.T) {
	f := setupEngine(t, false, 0)

	// Offline edits of the same day: 500 then 1000.
	f.engine.Submit(dayItem("2024-06-01", 500))
	f.engine.Submit(dayItem("2024-06-01", 1000))
	mustSync(t, f.engine)

	f.monitor.Set(true)
	mustSync(t, f.engine)

	if got := remoteWater(t, f.store, "2024-06-01"); got != `{"user_id":"u-1","date":"2024-06-01","water_ml":1000}` {
		t.Errorf("remote = %s, want the 1000 ml record", got)
	}
	if n := len(f.engine.Pending()); n != 0 {
		t.Errorf("pending = %d after drain", n)
	}
	if f.store.Count(schema.KindProgress) != 1 {
		t.Errorf("remote has %d day records, want 1", f.store.Count(schema.KindProgress))
	}
}

func TestSubmit_SameKeyPendingIsQueuedBehind(t *testing.T) {
	f := setupEngine(t, true, 0)

	// The remote drops out without the monitor noticing.
	f.store.SetDown(true)
	f.engine.Submit(dayItem("2024-06-01", 500))
	mustSync(t, f.engine)

	f.store.SetDown(false)
	f.engine.Submit(dayItem("2024-06-01", 1000))
	f.engine.Submit(dayItem("2024-06-02", 100))
	mustSync(t, f.engine)

	// Only the other day may go straight through.
	if f.store.Upserts() != 1 {
		t.Fatalf("Upserts() = %d, want 1", f.store.Upserts())
	}
	if n := len(f.engine.Pending()); n != 2 {
		t.Fatalf("pending = %d, want 2", n)
	}

	report, err := f.engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if report.Applied != 2 {
		t.Errorf("report = %+v", report)
	}
	if got := remoteWater(t, f.store, "2024-06-01"); got != `{"user_id":"u-1","date":"2024-06-01","water_ml":1000}` {
		t.Errorf("remote = %s, later write must win", got)
	}
}

func TestSubmit_PermanentFailureIsDeadLettered(t *testing.T) {
	f := setupEngine(t, true, 0)
	f.store.SetFailFunc(func(kind schema.Kind, key schema.NaturalKey, payload []byte) error {
		return remote.PermanentError("upsert", errors.New("check constraint violated"))
	})

	var mu sync.Mutex
	var events []EventType
	f.engine.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev.Type)
		mu.Unlock()
	})

	f.engine.Submit(dayItem("2024-06-01", 500))
	mustSync(t, f.engine)

	if n := len(f.engine.Pending()); n != 0 {
		t.Errorf("pending = %d, permanent failures must not be retried", n)
	}
	dead := f.engine.DeadLetters()
	if len(dead) != 1 || dead[0].LastError == "" {
		t.Fatalf("dead letters = %+v", dead)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 || events[len(events)-1] != EventDeadLetter {
		t.Errorf("events = %v, want a dead_letter event", events)
	}
}

func TestRequeue_RetriesDeadLetters(t *testing.T) {
	f := setupEngine(t, true, 0)
	f.store.SetFailFunc(func(schema.Kind, schema.NaturalKey, []byte) error {
		return remote.PermanentError("upsert", errors.New("rejected"))
	})
	f.engine.Submit(dayItem("2024-06-01", 500))
	mustSync(t, f.engine)

	f.store.SetFailFunc(nil)
	n, err := f.engine.Requeue(context.Background())
	if err != nil {
		t.Fatalf("Requeue() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Requeue() = %d, want 1", n)
	}
	if f.store.Upserts() != 1 || len(f.engine.DeadLetters()) != 0 || len(f.engine.Pending()) != 0 {
		t.Errorf("upserts=%d dead=%d pending=%d", f.store.Upserts(), len(f.engine.DeadLetters()), len(f.engine.Pending()))
	}
}

func TestRequeue_SkipsWriteSupersededByLaterApply(t *testing.T) {
	f := setupEngine(t, true, 0)
	f.store.SetFailFunc(func(kind schema.Kind, key schema.NaturalKey, payload []byte) error {
		if strings.Contains(string(payload), `"water_ml":500`) {
			return remote.PermanentError("upsert", errors.New("rejected"))
		}
		return nil
	})

	f.engine.Submit(dayItem("2024-06-01", 500))
	mustSync(t, f.engine)
	f.engine.Submit(dayItem("2024-06-01", 1000))
	mustSync(t, f.engine)

	f.store.SetFailFunc(nil)
	n, err := f.engine.Requeue(context.Background())
	if err != nil {
		t.Fatalf("Requeue() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Requeue() = %d, want 0", n)
	}
	if got := remoteWater(t, f.store, "2024-06-01"); got != `{"user_id":"u-1","date":"2024-06-01","water_ml":1000}` {
		t.Errorf("remote = %s, the older rejected write must not be replayed", got)
	}
	if len(f.engine.DeadLetters()) != 0 || len(f.engine.Pending()) != 0 {
		t.Errorf("dead=%d pending=%d", len(f.engine.DeadLetters()), len(f.engine.Pending()))
	}
}

func TestTransientFailure_RetriesWithBackoff(t *testing.T) {
	f := setupEngine(t, true, 5*time.Millisecond)

	var mu sync.Mutex
	failures := 3
	f.store.SetFailFunc(func(schema.Kind, schema.NaturalKey, []byte) error {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return errors.New("connection reset by peer")
		}
		return nil
	})

	f.engine.Submit(dayItem("2024-06-01", 500))

	waitFor(t, "retry to apply the write", func() bool {
		return f.store.Upserts() == 1
	})
	waitFor(t, "queue to empty", func() bool {
		return len(f.engine.Pending()) == 0
	})
	if st := f.engine.Status(); !st.NextRetry.IsZero() {
		t.Errorf("NextRetry = %v after success", st.NextRetry)
	}
}

func TestTransientFailure_NoRetryWhenBackoffDisabled(t *testing.T) {
	f := setupEngine(t, true, 0)
	f.store.SetDown(true)

	f.engine.Submit(dayItem("2024-06-01", 500))
	mustSync(t, f.engine)
	f.store.SetDown(false)

	time.Sleep(30 * time.Millisecond)
	mustSync(t, f.engine)
	if f.store.Upserts() != 0 || len(f.engine.Pending()) != 1 {
		t.Fatalf("upserts=%d pending=%d, want the write to wait for a transition", f.store.Upserts(), len(f.engine.Pending()))
	}

	f.monitor.Set(false)
	f.monitor.Set(true)
	mustSync(t, f.engine)
	if f.store.Upserts() != 1 {
		t.Errorf("Upserts() = %d after reconnect, want 1", f.store.Upserts())
	}
}

func TestTransitionOffline_DoesNotDrain(t *testing.T) {
	f := setupEngine(t, true, 0)

	f.store.SetDown(true)
	f.engine.Submit(dayItem("2024-06-01", 500))
	mustSync(t, f.engine)
	f.store.SetDown(false)

	f.monitor.Set(false)
	mustSync(t, f.engine)

	if f.store.Upserts() != 0 {
		t.Errorf("Upserts() = %d after going offline, want 0", f.store.Upserts())
	}
	if n := len(f.engine.Pending()); n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
}

func TestTransitionOffline_CancelsScheduledRetry(t *testing.T) {
	f := setupEngine(t, true, time.Hour)

	f.store.SetDown(true)
	f.engine.Submit(dayItem("2024-06-01", 500))
	mustSync(t, f.engine)

	if f.engine.Status().NextRetry.IsZero() {
		t.Fatal("NextRetry is zero, want a scheduled retry")
	}

	f.monitor.Set(false)
	mustSync(t, f.engine)

	if st := f.engine.Status(); !st.NextRetry.IsZero() {
		t.Errorf("NextRetry = %v after going offline, want zero", st.NextRetry)
	}
	armed, err := call(context.Background(), f.engine, func() (bool, error) {
		return f.engine.retryTimer != nil, nil
	})
	if err != nil {
		t.Fatalf("call() failed: %v", err)
	}
	if armed {
		t.Error("retry timer still armed while offline")
	}
}

func TestStop_PersistsSubmittedWrites(t *testing.T) {
	f := setupEngine(t, false, 0)

	for i := 1; i <= 5; i++ {
		f.engine.Submit(dayItem(fmt.Sprintf("2024-06-%02d", i), i*100))
	}
	if err := f.engine.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	// A new session over the same cache drains the leftovers on start.
	f.monitor.Set(true)
	next := startEngine(t, f, 0)
	mustSync(t, next)

	if f.store.Count(schema.KindProgress) != 5 {
		t.Errorf("remote has %d records, want 5", f.store.Count(schema.KindProgress))
	}
	if n := len(next.Pending()); n != 0 {
		t.Errorf("pending = %d", n)
	}
}

func TestNotRunning(t *testing.T) {
	f := setupEngine(t, true, 0)
	if err := f.engine.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	if _, err := f.engine.Drain(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Drain() error = %v, want ErrNotRunning", err)
	}

	f.engine.Submit(dayItem("2024-06-01", 500))
	if n := len(f.engine.Pending()); n != 1 {
		t.Errorf("pending = %d, a stopped engine must still queue", n)
	}
	if f.engine.Status().Running {
		t.Error("Status().Running = true after Stop")
	}
}

func TestClear(t *testing.T) {
	f := setupEngine(t, false, 0)
	f.engine.Submit(dayItem("2024-06-01", 500))

	if err := f.engine.Clear(context.Background()); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if n := len(f.engine.Pending()); n != 0 {
		t.Errorf("pending = %d after Clear", n)
	}
}

func TestFetch(t *testing.T) {
	f := setupEngine(t, true, 0)
	f.engine.Submit(dayItem("2024-06-01", 750))

	got, err := f.engine.Fetch(context.Background(), schema.KindProgress, schema.ProgressKey("u-1", "2024-06-01"))
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if string(got) != `{"user_id":"u-1","date":"2024-06-01","water_ml":750}` {
		t.Errorf("Fetch() = %s", got)
	}
}

func TestNoRemote_KeepsEverythingQueued(t *testing.T) {
	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), discard)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	defer c.Close()

	e, err := NewWithConfig("u-1", c, nil, connectivity.New(true, discard), &Config{Logger: discard})
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer e.Stop()

	e.Submit(dayItem("2024-06-01", 500))
	mustSync(t, e)

	if n := len(e.Pending()); n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
	if _, err := e.Drain(context.Background()); !errors.Is(err, ErrNoRemote) {
		t.Errorf("Drain() error = %v, want ErrNoRemote", err)
	}
}

func TestEvents_Connectivity(t *testing.T) {
	f := setupEngine(t, false, 0)

	var mu sync.Mutex
	var got []Event
	f.engine.Subscribe(func(ev Event) {
		if ev.Type == EventConnectivity {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		}
	})

	f.monitor.Set(true)
	f.monitor.Set(true)
	f.monitor.Set(false)
	mustSync(t, f.engine)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("connectivity events = %d, want 2", len(got))
	}
}

func TestEvents_ConnectivityCarriesTransitionState(t *testing.T) {
	f := setupEngine(t, false, 0)

	var mu sync.Mutex
	var states []bool
	f.engine.Subscribe(func(ev Event) {
		if ev.Type == EventConnectivity {
			mu.Lock()
			states = append(states, ev.Online)
			mu.Unlock()
		}
	})

	// Hold the worker so both transitions are handled after the monitor has
	// settled on offline.
	busy := make(chan struct{})
	release := make(chan struct{})
	go call(context.Background(), f.engine, func() (struct{}, error) {
		close(busy)
		<-release
		return struct{}{}, nil
	})
	<-busy

	f.monitor.Set(true)
	f.monitor.Set(false)
	close(release)
	mustSync(t, f.engine)

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || !states[0] || states[1] {
		t.Errorf("connectivity states = %v, want [true false]", states)
	}
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{100, time.Second},
		{-1, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := Backoff(base, max, tt.attempt); got != tt.want {
				t.Errorf("Backoff() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := Backoff(0, max, 3); got != 0 {
		t.Errorf("Backoff(0) = %v, want 0", got)
	}
	if got := Backoff(time.Second, 0, 200); got <= 0 {
		t.Errorf("uncapped Backoff overflowed: %v", got)
	}
}
