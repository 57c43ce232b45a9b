package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CacheEntry is one row of the local key/value cache.
type CacheEntry struct {
	Key       string    `json:"key" yaml:"key"`
	Value     string    `json:"value" yaml:"value"`
	Origin    string    `json:"origin" yaml:"origin"` // id of the writer, empty when unknown
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}
