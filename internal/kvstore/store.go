// Package kvstore is the local key/value cache shared by every component of
// a folio process. Values are advisory: the backend record stays the source
// of truth, and concurrent writers simply race (last observed write wins).
package kvstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/kalambet/folio/internal/events"
)

// Change describes a write observed by a Store. Origin identifies the store
// instance that performed the write; it is empty when the write came from
// outside the process.
type Change struct {
	Key    string
	Value  string
	Origin string
}

// Store is the local cache abstraction the resolver depends on.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	// Subscribe registers fn for every observed change and returns a function
	// that removes it.
	Subscribe(fn func(Change)) (unsubscribe func())
}

// Memory is a process-local Store.
type Memory struct {
	origin string
	bus    *events.Bus[Change]

	mu   sync.RWMutex
	data map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		origin: uuid.New().String(),
		bus:    events.NewBus[Change](),
		data:   make(map[string]string),
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set stores value and notifies subscribers when the value actually changed.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	prev, existed := m.data[key]
	m.data[key] = value
	m.mu.Unlock()

	if !existed || prev != value {
		m.bus.Publish(Change{Key: key, Value: value, Origin: m.origin})
	}
	return nil
}

func (m *Memory) Subscribe(fn func(Change)) func() {
	return m.bus.Subscribe(fn)
}

// Origin returns the id stamped on changes written through m.
func (m *Memory) Origin() string { return m.origin }
