package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/kalambet/folio/internal/gateway"
	"github.com/kalambet/folio/internal/preference"
	"github.com/kalambet/folio/internal/profile"
	"github.com/kalambet/folio/internal/templates"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds the collaborators of the HTTP surface.
type Deps struct {
	Resolver *preference.Resolver
	Gateway  gateway.Gateway
	Renderer *templates.Renderer // optional; defaults to the embedded layouts
	// Heartbeat is the SSE keep-alive interval; zero means 15s.
	Heartbeat time.Duration
}

// NewHandler returns the folio HTTP API and page routes.
func NewHandler(deps Deps) http.Handler {
	if deps.Renderer == nil {
		deps.Renderer = templates.DefaultRenderer()
	}
	if deps.Heartbeat <= 0 {
		deps.Heartbeat = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestID, middleware.Recoverer, Client, Session)

	r.Get("/health", handleHealth)

	r.Get("/u/{username}", handlePage(deps))
	r.Get("/u/{username}/events", handleEvents(deps))

	r.Route("/api", func(r chi.Router) {
		r.Get("/templates", handleListTemplates)
		r.Get("/resolve", handleResolve(deps))
		r.Get("/profiles/{username}/normalized", handleNormalized(deps))
		r.With(RequireSession).Put("/preference", handlePutPreference(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// requestID tags each request with an X-Request-ID and logs it at debug.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

// viewer identifies the authenticated visitor. A session the backend rejects
// yields an anonymous viewer that still carries the token.
func (d Deps) viewer(ctx context.Context) preference.Viewer {
	token, ok := gateway.SessionFrom(ctx)
	if !ok {
		return preference.Viewer{}
	}
	rec, err := d.Gateway.GetCurrentProfile(ctx)
	if err != nil {
		slog.Debug("resolving viewer", "error", err)
		return preference.Viewer{Session: token}
	}
	return preference.Viewer{Username: rec.Username(), Session: token}
}

// subjectRecord fetches the displayed profile, using the owner lookup when
// the viewer is looking at their own page.
func (d Deps) subjectRecord(ctx context.Context, viewer preference.Viewer, username string) (profile.Record, error) {
	if viewer.Username != "" && viewer.Username == username {
		return d.Gateway.GetCurrentProfile(ctx)
	}
	return d.Gateway.GetProfileByUsername(ctx, username)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
