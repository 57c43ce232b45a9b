package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/folio/internal/gateway"
)

const (
	clientCookie = "folio_client"
	clientMaxAge = 365 * 24 * 60 * 60
)

type clientKey struct{}

// Client gives each browser a stable id in the folio_client cookie, issuing
// one when it is missing or malformed. The id namespaces that browser's
// template previews in the local cache.
func Client(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(clientCookie); err == nil {
			if u, err := uuid.Parse(c.Value); err == nil {
				id = u.String()
			}
		}
		if id == "" {
			id = uuid.New().String()
			http.SetCookie(w, &http.Cookie{
				Name:     clientCookie,
				Value:    id,
				Path:     "/",
				MaxAge:   clientMaxAge,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKey{}, id)))
	})
}

func clientFrom(ctx context.Context) string {
	id, _ := ctx.Value(clientKey{}).(string)
	return id
}

// Session copies an optional "Authorization: Bearer <token>" header into the
// request context as the viewer's backend session. Requests without one pass
// through anonymously.
func Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if strings.HasPrefix(auth, prefix) {
			if token := strings.TrimSpace(auth[len(prefix):]); token != "" {
				r = r.WithContext(gateway.WithSession(r.Context(), token))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSession rejects requests that Session left anonymous.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := gateway.SessionFrom(r.Context()); !ok {
			httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
