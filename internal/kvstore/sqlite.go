package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/folio/internal/events"
	"github.com/kalambet/folio/internal/storage"
)

// EntryStore defines the storage operations Durable needs.
// Implemented by storage.Store.
type EntryStore interface {
	PutCacheEntry(e storage.CacheEntry) (bool, error)
	GetCacheEntry(key string) (storage.CacheEntry, error)
}

// Durable is a Store persisted in SQLite so cached preferences survive
// restarts. Conflicting writes to one key resolve by write time.
type Durable struct {
	db     EntryStore
	origin string
	now    func() time.Time
	bus    *events.Bus[Change]
}

// NewDurable wraps db.
func NewDurable(db EntryStore) *Durable {
	return &Durable{
		db:     db,
		origin: uuid.New().String(),
		now:    time.Now,
		bus:    events.NewBus[Change](),
	}
}

func (d *Durable) Get(_ context.Context, key string) (string, bool, error) {
	e, err := d.db.GetCacheEntry(key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading cache key %q: %w", key, err)
	}
	return e.Value, true, nil
}

func (d *Durable) Set(_ context.Context, key, value string) error {
	applied, err := d.db.PutCacheEntry(storage.CacheEntry{
		Key:       key,
		Value:     value,
		Origin:    d.origin,
		UpdatedAt: d.now(),
	})
	if err != nil {
		return fmt.Errorf("writing cache key %q: %w", key, err)
	}
	if applied {
		d.bus.Publish(Change{Key: key, Value: value, Origin: d.origin})
	}
	return nil
}

func (d *Durable) Subscribe(fn func(Change)) func() {
	return d.bus.Subscribe(fn)
}
