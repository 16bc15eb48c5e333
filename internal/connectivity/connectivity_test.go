package connectivity

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var discard = log.New(io.Discard, "", 0)

func TestSet_NotifiesOncePerTransition(t *testing.T) {
	m := New(false, discard)

	var got []bool
	m.Subscribe(func(tr Transition) { got = append(got, tr.Online) })

	for _, v := range []bool{false, true, true, true, false, false, true} {
		m.Set(v)
	}

	want := []bool{true, false, true}
	if len(got) != len(want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d = %v, want %v", i, got[i], want[i])
		}
	}
	if !m.Online() {
		t.Error("Online() = false after final Set(true)")
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	m := New(true, discard)

	var a, b int
	unsubA := m.Subscribe(func(Transition) { a++ })
	m.Subscribe(func(Transition) { b++ })

	m.Set(false)
	unsubA()
	unsubA()
	m.Set(true)

	if a != 1 || b != 2 {
		t.Errorf("a=%d b=%d, want 1 and 2", a, b)
	}
}

func TestSet_SubscriberMayReadState(t *testing.T) {
	m := New(false, discard)

	var seen bool
	m.Subscribe(func(tr Transition) { seen = m.Online() })
	m.Set(true)

	if !seen {
		t.Error("subscriber observed stale state")
	}
}

func TestSet_ConcurrentSettersSerializeNotifications(t *testing.T) {
	m := New(false, discard)

	var inFlight, overlaps int32
	m.Subscribe(func(Transition) {
		if atomic.AddInt32(&inFlight, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Set(i%2 == 0)
		}(i)
	}
	wg.Wait()

	if overlaps != 0 {
		t.Errorf("%d notifications overlapped", overlaps)
	}
}

func TestProber_ProbeOnce(t *testing.T) {
	m := New(true, discard)
	var fail atomic.Bool
	p := &Prober{
		Monitor: m,
		Check: func(ctx context.Context) error {
			if fail.Load() {
				return errors.New("dial tcp: connection refused")
			}
			return nil
		},
		Timeout: time.Second,
	}

	fail.Store(true)
	if p.ProbeOnce(context.Background()) || m.Online() {
		t.Error("failed probe did not go offline")
	}
	fail.Store(false)
	if !p.ProbeOnce(context.Background()) || !m.Online() {
		t.Error("successful probe did not go online")
	}
}

func TestProber_RunStopsOnCancel(t *testing.T) {
	m := New(false, discard)
	var calls atomic.Int32
	p := &Prober{
		Monitor:  m,
		Check:    func(ctx context.Context) error { calls.Add(1); return nil },
		Interval: 5 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if !m.Online() {
		t.Error("Online() = false after successful probes")
	}
}
