// Package gateway wraps the remote profile backend. It is the only part of
// folio that performs network I/O against that backend.
package gateway

import (
	"context"

	"github.com/kalambet/folio/internal/profile"
)

// Gateway is the set of backend operations the resolver and page handlers
// depend on. Implemented by *Client and *Cached.
type Gateway interface {
	// GetCurrentProfile returns the record owned by the session in ctx.
	// Fails with ErrUnauthorized when ctx carries no valid session.
	GetCurrentProfile(ctx context.Context) (profile.Record, error)
	// GetProfileByUsername is the public lookup. Fails with ErrNotFound.
	GetProfileByUsername(ctx context.Context, username string) (profile.Record, error)
	// UpdateSelectedTemplate persists id against the session's own record.
	UpdateSelectedTemplate(ctx context.Context, id string) error
}

type sessionKey struct{}

// WithSession returns a context carrying the viewer's backend session token.
func WithSession(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, token)
}

// SessionFrom extracts the session token stored by WithSession.
func SessionFrom(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(sessionKey{}).(string)
	return token, ok && token != ""
}
