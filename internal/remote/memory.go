package remote

import (
	"context"
	"errors"
	"sync"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/schema"
)

// ErrUnreachable is the transient error a Memory store returns while down.
var ErrUnreachable = errors.New("remote store unreachable")

// FailFunc lets tests inject a failure for a specific write. Returning nil
// lets the write through.
type FailFunc func(kind schema.Kind, key schema.NaturalKey, payload []byte) error

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	records map[schema.Kind]map[schema.NaturalKey][]byte
	down    bool
	fail    FailFunc
	upserts int
}

// NewMemory creates an empty, reachable store.
func NewMemory() *Memory {
	return &Memory{records: make(map[schema.Kind]map[schema.NaturalKey][]byte)}
}

// SetDown simulates losing (true) or regaining (false) the network.
func (m *Memory) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// SetFailFunc installs a write failure hook; nil removes it.
func (m *Memory) SetFailFunc(fn FailFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

// Upsert implements Store.Upsert.
func (m *Memory) Upsert(ctx context.Context, kind schema.Kind, key schema.NaturalKey, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return TransientError("upsert", err)
	}
	if err := checkWrite(kind, key, payload); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.down {
		return TransientError("upsert", ErrUnreachable)
	}
	if m.fail != nil {
		if err := m.fail(kind, key, payload); err != nil {
			var re *Error
			if errors.As(err, &re) {
				return err
			}
			return TransientError("upsert", err)
		}
	}

	byKey, ok := m.records[kind]
	if !ok {
		byKey = make(map[schema.NaturalKey][]byte)
		m.records[kind] = byKey
	}
	byKey[key] = append([]byte(nil), payload...)
	m.upserts++
	return nil
}

// Get implements Store.Get.
func (m *Memory) Get(ctx context.Context, kind schema.Kind, key schema.NaturalKey) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, TransientError("get", err)
	}
	if err := checkRead(kind, key); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.down {
		return nil, TransientError("get", ErrUnreachable)
	}
	v, ok := m.records[kind][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Ping implements Store.Ping.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return TransientError("ping", ErrUnreachable)
	}
	return nil
}

// Close implements Store.Close.
func (m *Memory) Close() error {
	return nil
}

// Count returns the number of stored records of kind.
func (m *Memory) Count(kind schema.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[kind])
}

// Upserts returns the number of successful upserts so far.
func (m *Memory) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}
