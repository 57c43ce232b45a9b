// Package preference decides which template identifier applies to a
// visitor/profile pair.
//
// Resolution never fails. Sources are consulted in this order:
//  1. an explicit request override,
//  2. the backend's persisted preference for the subject (read concurrently
//     with the subject's local cache entry; the backend wins when it answers),
//  3. the subject's local cache entry,
//  4. the global local cache entry,
//  5. the configured default identifier.
//
// Local cache entries live in a shared namespace and, for requests that carry
// a client id, in that client's private namespace. Overrides are written only
// to the requester's namespace so one visitor's preview never reaches
// another visitor's page.
package preference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/folio/internal/events"
	"github.com/kalambet/folio/internal/gateway"
	"github.com/kalambet/folio/internal/kvstore"
)

const (
	// GlobalKey is the local cache key used when no subject is known.
	GlobalKey = "selectedTemplate"
	// DefaultTemplate is used when nothing else yields an identifier.
	DefaultTemplate = "default"

	subjectKeyPrefix = GlobalKey + "_"
)

var (
	// ErrEmptyTemplate is returned by Select for a blank identifier.
	ErrEmptyTemplate = errors.New("template identifier is empty")
	// ErrInvalidTemplate is returned by Select for an identifier that is not
	// shaped like a registry key.
	ErrInvalidTemplate = errors.New("template identifier is invalid")
)

const maxIDLength = 64

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ValidID reports whether id is shaped like a template identifier: lowercase
// ASCII letters, digits and hyphens, starting with a letter or digit. Shape is
// all that is checked; unregistered identifiers are valid.
func ValidID(id string) bool {
	return len(id) <= maxIDLength && idPattern.MatchString(id)
}

// clean trims id and returns it, or "" when it is not a valid identifier.
func clean(id string) string {
	id = strings.TrimSpace(id)
	if !ValidID(id) {
		return ""
	}
	return id
}

// SubjectKey returns the shared local cache key holding username's preference.
func SubjectKey(username string) string {
	return subjectKeyPrefix + username
}

// ClientKey scopes key to one client's private namespace.
func ClientKey(client, key string) string {
	return "client:" + client + "/" + key
}

func cacheKey(subject string) string {
	if subject == "" {
		return GlobalKey
	}
	return SubjectKey(subject)
}

// scoped returns key in client's namespace, or key itself without a client.
func scoped(client, key string) string {
	if client == "" {
		return key
	}
	return ClientKey(client, key)
}

// lookupKeys lists the keys consulted for key, most specific first.
func lookupKeys(client, key string) []string {
	if client == "" {
		return []string{key}
	}
	return []string{ClientKey(client, key), key}
}

// Viewer is the authenticated visitor, if any.
type Viewer struct {
	Username string
	Session  string // backend session token
}

// Request describes one resolution.
type Request struct {
	Override string // e.g. the ?template= query parameter
	Subject  string // username whose profile is displayed
	Viewer   Viewer
	// Client identifies one browser; its overrides stay in its own cache
	// namespace. Empty means the shared namespace.
	Client string
}

// Changed is the in-process "preference changed" signal.
type Changed struct {
	Subject  string // empty applies to every session
	Template string
}

// Resolver resolves template identifiers. Safe for concurrent use.
type Resolver struct {
	store    kvstore.Store
	gateway  gateway.Gateway
	fallback string
	signals  *events.Bus[Changed]
	logger   *slog.Logger
}

// NewResolver creates a Resolver. An empty fallback means DefaultTemplate.
func NewResolver(store kvstore.Store, gw gateway.Gateway, fallback string) *Resolver {
	if strings.TrimSpace(fallback) == "" {
		fallback = DefaultTemplate
	}
	return &Resolver{
		store:    store,
		gateway:  gw,
		fallback: fallback,
		signals:  events.NewBus[Changed](),
		logger:   slog.Default(),
	}
}

// Resolve returns exactly one template identifier for req.
func (r *Resolver) Resolve(ctx context.Context, req Request) string {
	if id := clean(req.Override); id != "" {
		r.write(ctx, scoped(req.Client, cacheKey(req.Subject)), id)
		return id
	}
	if req.Subject == "" {
		return r.global(ctx, req.Client)
	}

	keys := lookupKeys(req.Client, SubjectKey(req.Subject))
	cached := make([]string, len(keys))
	var remote string
	var g errgroup.Group
	g.Go(func() error {
		for i, k := range keys {
			cached[i] = r.read(ctx, k)
		}
		return nil
	})
	g.Go(func() error {
		remote = r.fetchRemote(ctx, req)
		return nil
	})
	g.Wait()

	if remote != "" {
		// Refresh the shared entry, and the client's own entry only when a
		// preview left one there.
		for i, k := range keys {
			shared := i == len(keys)-1
			if cached[i] != remote && (shared || cached[i] != "") {
				r.write(ctx, k, remote)
			}
		}
		return remote
	}
	for _, v := range cached {
		if v != "" {
			return v
		}
	}
	return r.global(ctx, req.Client)
}

// resolveLocal is Resolve without the backend: override, subject cache,
// global cache, default. Sessions render it while the backend is consulted.
func (r *Resolver) resolveLocal(ctx context.Context, req Request) string {
	if id := clean(req.Override); id != "" {
		return id
	}
	if req.Subject != "" {
		if v := r.first(ctx, lookupKeys(req.Client, SubjectKey(req.Subject))); v != "" {
			return v
		}
	}
	return r.global(ctx, req.Client)
}

// Select persists id as the viewer's template and announces the change. Unlike
// Resolve, backend failures are returned: this is the owner's explicit action.
func (r *Resolver) Select(ctx context.Context, viewer Viewer, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmptyTemplate
	}
	if !ValidID(id) {
		return ErrInvalidTemplate
	}
	ctx = gateway.WithSession(ctx, viewer.Session)
	if err := r.gateway.UpdateSelectedTemplate(ctx, id); err != nil {
		return fmt.Errorf("updating selected template: %w", err)
	}
	r.Announce(ctx, Changed{Subject: viewer.Username, Template: id})
	return nil
}

// Announce writes c to the shared local cache and publishes it to mounted
// sessions. Invalid identifiers are dropped.
func (r *Resolver) Announce(ctx context.Context, c Changed) {
	c.Template = clean(c.Template)
	if c.Template == "" {
		return
	}
	r.write(ctx, cacheKey(c.Subject), c.Template)
	r.signals.Publish(c)
}

func (r *Resolver) fetchRemote(ctx context.Context, req Request) string {
	ctx = gateway.WithSession(ctx, req.Viewer.Session)

	var (
		id  string
		err error
	)
	if req.Viewer.Username != "" && req.Viewer.Username == req.Subject {
		rec, e := r.gateway.GetCurrentProfile(ctx)
		id, err = rec.SelectedTemplate(), e
	} else {
		rec, e := r.gateway.GetProfileByUsername(ctx, req.Subject)
		id, err = rec.SelectedTemplate(), e
	}
	if err != nil {
		r.logger.Debug("backend preference lookup failed, using local cache",
			"subject", req.Subject, "error", err)
		return ""
	}
	return clean(id)
}

func (r *Resolver) global(ctx context.Context, client string) string {
	if v := r.first(ctx, lookupKeys(client, GlobalKey)); v != "" {
		return v
	}
	return r.fallback
}

func (r *Resolver) first(ctx context.Context, keys []string) string {
	for _, k := range keys {
		if v := r.read(ctx, k); v != "" {
			return v
		}
	}
	return ""
}

func (r *Resolver) read(ctx context.Context, key string) string {
	v, ok, err := r.store.Get(ctx, key)
	if err != nil {
		r.logger.Warn("reading local template cache", "key", key, "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return clean(v)
}

func (r *Resolver) write(ctx context.Context, key, id string) {
	if err := r.store.Set(ctx, key, id); err != nil {
		r.logger.Warn("writing local template cache", "key", key, "error", err)
	}
}
