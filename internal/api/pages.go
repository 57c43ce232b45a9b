package api

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/folio/internal/normalize"
	"github.com/kalambet/folio/internal/preference"
	"github.com/kalambet/folio/internal/templates"
)

// handlePage renders a profile with its resolved template. Backend failures
// never fail the page: a missing or unreachable profile renders the empty
// state with HTTP 200.
func handlePage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		username := chi.URLParam(r, "username")
		override := r.URL.Query().Get("template")

		viewer := deps.viewer(ctx)
		id := deps.Resolver.Resolve(ctx, preference.Request{
			Override: override,
			Subject:  username,
			Viewer:   viewer,
			Client:   clientFrom(ctx),
		})
		target := templates.Dispatch(id)

		rec, err := deps.subjectRecord(ctx, viewer, username)
		if err != nil {
			slog.Debug("profile unavailable, rendering empty state", "username", username, "error", err)
		}

		view := templates.View{
			Profile:   normalize.Normalize(rec, target.Category),
			Available: err == nil && rec != nil,
			EventsURL: eventsURL(username, override),
		}

		var buf bytes.Buffer
		if err := deps.Renderer.Render(&buf, target, view); err != nil {
			slog.Error("rendering page", "username", username, "template", id, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to render page")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Folio-Template", id)
		w.Write(buf.Bytes())
	}
}

// writeEvent writes one server-sent event. Each line of data gets its own
// data field so embedded newlines cannot start a new event.
func writeEvent(w io.Writer, event, data string) {
	var b strings.Builder
	b.WriteString("event: " + event + "\n")
	for _, line := range strings.Split(strings.ReplaceAll(data, "\r", ""), "\n") {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteString("\n")
	io.WriteString(w, b.String())
}

func eventsURL(username, override string) string {
	u := "/u/" + url.PathEscape(username) + "/events"
	if override = strings.TrimSpace(override); preference.ValidID(override) {
		u += "?template=" + url.QueryEscape(override)
	}
	return u
}

// handleEvents streams the subject's template identifier as server-sent
// events: the current value first, then every change until the client goes
// away.
func handleEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}
		ctx := r.Context()

		// Holds at most the latest undelivered identifier.
		updates := make(chan string, 1)
		push := func(id string) {
			for {
				select {
				case updates <- id:
					return
				default:
				}
				select {
				case <-updates:
				default:
				}
			}
		}

		sess := deps.Resolver.Open(ctx, preference.Request{
			Override: r.URL.Query().Get("template"),
			Subject:  chi.URLParam(r, "username"),
			Viewer:   deps.viewer(ctx),
			Client:   clientFrom(ctx),
		}, push)
		defer sess.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		heartbeat := time.NewTicker(deps.Heartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case id := <-updates:
				writeEvent(w, "template", id)
				flusher.Flush()
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
