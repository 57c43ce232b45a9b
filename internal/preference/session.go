package preference

import (
	"context"
	"sync"

	"github.com/kalambet/folio/internal/kvstore"
)

// Session is a mounted resolver: it holds the current identifier for one
// request and keeps it up to date as the local cache changes or Changed
// signals arrive. Close must be called to release its subscriptions.
type Session struct {
	r        *Resolver
	req      Request
	onChange func(string)

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// deliverMu serializes onChange calls so Close can wait for one in flight.
	deliverMu sync.Mutex

	watched map[string]bool // set before subscribing, read-only after

	mu      sync.Mutex
	current string
	closed  bool
	unsubs  []func()
}

// Open mounts a Session for req. The locally cached identifier is applied
// synchronously; when a subject is known the backend is consulted in the
// background and its answer supersedes the interim value. A session opened
// with an override stays on it. onChange, if non-nil, is called with each new
// identifier, never after Close returns, and must not call Close itself.
func (r *Resolver) Open(ctx context.Context, req Request, onChange func(string)) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		r:        r,
		req:      req,
		onChange: onChange,
		cancel:   cancel,
	}
	pinned := clean(req.Override) != ""
	if !pinned {
		s.follow()
	}
	if pinned || req.Subject == "" {
		s.apply(r.Resolve(ctx, req))
		return s
	}

	s.apply(r.resolveLocal(ctx, req))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.apply(r.Resolve(ctx, req))
	}()
	return s
}

// follow subscribes to the cache keys and signals that can change the
// session's identifier. Sessions pinned by an override follow nothing.
func (s *Session) follow() {
	keys := lookupKeys(s.req.Client, GlobalKey)
	if s.req.Subject != "" {
		keys = append(keys, lookupKeys(s.req.Client, SubjectKey(s.req.Subject))...)
	}
	s.watched = make(map[string]bool, len(keys))
	for _, k := range keys {
		s.watched[k] = true
	}
	s.unsubs = append(s.unsubs,
		s.r.store.Subscribe(s.onStoreChange),
		s.r.signals.Subscribe(s.onSignal),
	)
}

// Current returns the identifier most recently applied.
func (s *Session) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close unsubscribes, abandons the background lookup and waits for any
// in-flight onChange call to finish. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	s.cancel()
	s.wg.Wait()

	s.deliverMu.Lock()
	s.deliverMu.Unlock()
}

func (s *Session) onStoreChange(c kvstore.Change) {
	if s.watched[c.Key] {
		s.apply(clean(c.Value))
	}
}

func (s *Session) onSignal(c Changed) {
	if c.Subject != "" && c.Subject != s.req.Subject {
		return
	}
	if c.Subject == "" && s.req.Subject != "" {
		// Untargeted signal: persist under this session's subject too.
		s.r.write(context.Background(), SubjectKey(s.req.Subject), c.Template)
	}
	s.apply(c.Template)
}

func (s *Session) apply(id string) {
	if id == "" {
		return
	}
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.closed || id == s.current {
		s.mu.Unlock()
		return
	}
	s.current = id
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(id)
	}
}
