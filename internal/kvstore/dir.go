package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/kalambet/folio/internal/events"
)

// Dir is a Store keeping one file per key in a directory. Writes made by
// other processes sharing the directory are picked up through fsnotify and
// published to subscribers with an empty Origin, which is how a running
// server notices `folio template set --local` from the CLI.
type Dir struct {
	dir     string
	origin  string
	bus     *events.Bus[Change]
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu   sync.Mutex
	seen map[string]string
	once sync.Once
}

// OpenDir creates dir if needed and starts watching it.
func OpenDir(dir string) (*Dir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	d := &Dir{
		dir:     dir,
		origin:  uuid.New().String(),
		bus:     events.NewBus[Change](),
		watcher: w,
		logger:  slog.Default(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		seen:    make(map[string]string),
	}
	go d.run()
	return d, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (d *Dir) Close() error {
	var err error
	d.once.Do(func() {
		close(d.stopCh)
		<-d.doneCh
		err = d.watcher.Close()
	})
	return err
}

func (d *Dir) Get(_ context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(d.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading cache key %q: %w", key, err)
	}
	return string(data), true, nil
}

// Set writes value atomically (temp file + rename) and publishes the change.
func (d *Dir) Set(_ context.Context, key, value string) error {
	tmp, err := os.CreateTemp(d.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("writing cache key %q: %w", key, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing cache key %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing cache key %q: %w", key, err)
	}

	d.mu.Lock()
	prev, existed := d.seen[key]
	d.seen[key] = value
	d.mu.Unlock()

	if err := os.Rename(tmpPath, d.path(key)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing cache key %q: %w", key, err)
	}

	if !existed || prev != value {
		d.bus.Publish(Change{Key: key, Value: value, Origin: d.origin})
	}
	return nil
}

func (d *Dir) Subscribe(fn func(Change)) func() {
	return d.bus.Subscribe(fn)
}

func (d *Dir) path(key string) string {
	return filepath.Join(d.dir, url.PathEscape(key))
}

func (d *Dir) run() {
	defer close(d.doneCh)
	for {
		select {
		case <-d.stopCh:
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handleEvent(event)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("cache directory watcher error", "dir", d.dir, "error", err)
		}
	}
}

func (d *Dir) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return
	}
	key, err := url.PathUnescape(name)
	if err != nil {
		return
	}
	data, err := os.ReadFile(event.Name)
	if err != nil {
		// Replaced or removed between the event and the read.
		return
	}
	value := string(data)

	d.mu.Lock()
	prev, existed := d.seen[key]
	if existed && prev == value {
		d.mu.Unlock()
		return
	}
	d.seen[key] = value
	d.mu.Unlock()

	d.logger.Debug("cache key changed externally", "key", key)
	d.bus.Publish(Change{Key: key, Value: value})
}
