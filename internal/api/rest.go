package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/folio/internal/gateway"
	"github.com/kalambet/folio/internal/normalize"
	"github.com/kalambet/folio/internal/preference"
	"github.com/kalambet/folio/internal/templates"
)

// TemplateInfo is one row of GET /api/templates.
type TemplateInfo struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Layout   string `json:"layout"`
	Category string `json:"category"`
	Family   string `json:"family"`
}

// ListTemplates describes every registered identifier.
func ListTemplates() []TemplateInfo {
	ids := templates.Identifiers()
	out := make([]TemplateInfo, len(ids))
	for i, id := range ids {
		t := templates.Dispatch(id)
		out[i] = TemplateInfo{
			ID:       id,
			Title:    t.Title,
			Layout:   string(t.Layout),
			Category: t.Category,
			Family:   string(t.Family()),
		}
	}
	return out
}

func handleListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ListTemplates())
}

type resolveResponse struct {
	Template    string `json:"template"`
	Layout      string `json:"layout"`
	Placeholder bool   `json:"placeholder"`
}

func handleResolve(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		q := r.URL.Query()
		id := deps.Resolver.Resolve(ctx, preference.Request{
			Override: q.Get("template"),
			Subject:  q.Get("subject"),
			Viewer:   deps.viewer(ctx),
			Client:   clientFrom(ctx),
		})
		t := templates.Dispatch(id)
		writeJSON(w, http.StatusOK, resolveResponse{
			Template:    id,
			Layout:      string(t.Layout),
			Placeholder: t.Placeholder,
		})
	}
}

// handleNormalized returns the normalized schema for a profile. Without a
// category hint the subject's resolved template supplies one.
func handleNormalized(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		username := chi.URLParam(r, "username")
		viewer := deps.viewer(ctx)

		rec, err := deps.subjectRecord(ctx, viewer, username)
		if err != nil {
			writeGatewayError(w, err)
			return
		}

		category := r.URL.Query().Get("category")
		if category == "" {
			id := deps.Resolver.Resolve(ctx, preference.Request{Subject: username, Viewer: viewer, Client: clientFrom(ctx)})
			category = templates.Dispatch(id).Category
		}
		writeJSON(w, http.StatusOK, normalize.Normalize(rec, category))
	}
}

type preferenceRequest struct {
	Template string `json:"template"`
}

func handlePutPreference(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req preferenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		ctx := r.Context()
		viewer := deps.viewer(ctx)
		if viewer.Username == "" {
			httpError(w, http.StatusUnauthorized, "authentication_error", "session is not valid for any profile")
			return
		}

		if err := deps.Resolver.Select(ctx, viewer, req.Template); err != nil {
			switch {
			case errors.Is(err, preference.ErrEmptyTemplate):
				httpError(w, http.StatusBadRequest, "invalid_request_error", "template is required")
				return
			case errors.Is(err, preference.ErrInvalidTemplate):
				httpError(w, http.StatusBadRequest, "invalid_request_error", "template must be lowercase letters, digits and hyphens")
				return
			}
			writeGatewayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"template": strings.TrimSpace(req.Template)})
	}
}

func writeGatewayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "profile not found")
	case errors.Is(err, gateway.ErrUnauthorized):
		httpError(w, http.StatusUnauthorized, "authentication_error", "backend rejected the session")
	default:
		httpError(w, http.StatusBadGateway, "api_error", "profile backend error: %v", err)
	}
}
