// Package connectivity tracks whether the remote store is reachable.
//
// A Monitor holds the current online/offline state and notifies subscribers
// exactly once per transition. The state can be driven by the host platform
// (Set) or by a Prober that periodically checks the remote store.
package connectivity

import (
	"log"
	"os"
	"sync"
	"time"
)

// Transition describes a change of connectivity state.
type Transition struct {
	Online bool
	At     time.Time
}

// String returns "online" or "offline".
func (t Transition) String() string {
	return stateName(t.Online)
}

func stateName(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

// Monitor holds the current connectivity state.
type Monitor struct {
	mu     sync.Mutex
	online bool
	since  time.Time
	subs   map[int]func(Transition)
	nextID int

	// notifyMu serializes Set so subscribers observe transitions in order.
	notifyMu sync.Mutex

	logger *log.Logger
}

// New creates a Monitor in the given initial state. A nil logger logs to
// stderr.
func New(initial bool, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	return &Monitor{
		online: initial,
		since:  time.Now(),
		subs:   make(map[int]func(Transition)),
		logger: logger,
	}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Since returns when the current state was entered.
func (m *Monitor) Since() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.since
}

// Set records the observed state. Subscribers are called synchronously, in
// subscription order, only when the state actually changes. Subscribers
// must not call Set.
func (m *Monitor) Set(online bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.since = time.Now()
	tr := Transition{Online: online, At: m.since}
	subs := m.snapshot()
	m.mu.Unlock()

	m.logger.Printf("Connectivity changed: %s", tr)
	for _, fn := range subs {
		fn(tr)
	}
}

// Subscribe registers fn for future transitions. The returned function
// removes the subscription.
func (m *Monitor) Subscribe(fn func(Transition)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// snapshot returns subscribers ordered by registration. Caller holds mu.
func (m *Monitor) snapshot() []func(Transition) {
	fns := make([]func(Transition), 0, len(m.subs))
	for id := 0; id < m.nextID; id++ {
		if fn, ok := m.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}
