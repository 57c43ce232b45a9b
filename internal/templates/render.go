package templates

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"sync"

	"github.com/flosch/pongo2/v6"

	"github.com/kalambet/folio/internal/normalize"
	"github.com/kalambet/folio/internal/profile"
)

//go:embed layouts/*.html
var layoutFS embed.FS

// View is everything a layout needs.
type View struct {
	Profile normalize.Schema
	// Available is false when the backend had no record for the subject; the
	// layout then shows the "no profile data available yet" state.
	Available bool
	// EventsURL, when set, is the SSE endpoint the page listens on for
	// template changes.
	EventsURL string
}

// Line is one collection entry flattened for display.
type Line struct {
	Heading     string
	Detail      string
	Description string
}

// Section is a titled list of lines.
type Section struct {
	Name  string
	Lines []Line
}

type sectionSpec struct {
	name string
	pick func(s normalize.Schema) []any
}

func concat(lists ...[]any) []any {
	var out []any
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

var layoutSections = map[Layout][]sectionSpec{
	LayoutClassic: {
		{"Experience", func(s normalize.Schema) []any { return s.Experience }},
		{"Education", func(s normalize.Schema) []any { return s.Education }},
		{"Projects", func(s normalize.Schema) []any { return s.Projects }},
		{"Achievements", func(s normalize.Schema) []any { return s.Achievements }},
		{"Certifications", func(s normalize.Schema) []any { return s.Certifications }},
	},
	LayoutMedical: {
		{"Clinical Experience", func(s normalize.Schema) []any { return concat(s.MedicalExperience, s.Experience) }},
		{"Education", func(s normalize.Schema) []any { return s.Education }},
		{"Publications", func(s normalize.Schema) []any { return s.Publications }},
		{"Conferences", func(s normalize.Schema) []any { return s.Conferences }},
		{"Achievements", func(s normalize.Schema) []any { return s.Achievements }},
	},
	LayoutEngineering: {
		{"Engineering Experience", func(s normalize.Schema) []any { return concat(s.EngineeringExperience, s.Experience) }},
		{"Projects", func(s normalize.Schema) []any { return s.Projects }},
		{"Internships", func(s normalize.Schema) []any { return s.Internships }},
		{"Education", func(s normalize.Schema) []any { return s.Education }},
		{"Certifications", func(s normalize.Schema) []any { return s.Certifications }},
	},
	LayoutDeveloper: {
		{"Projects", func(s normalize.Schema) []any { return s.Projects }},
		{"Experience", func(s normalize.Schema) []any { return s.Experience }},
		{"Education", func(s normalize.Schema) []any { return s.Education }},
		{"Achievements", func(s normalize.Schema) []any { return s.Achievements }},
	},
}

// Renderer executes layouts from the embedded template set.
type Renderer struct {
	set *pongo2.TemplateSet

	mu        sync.RWMutex
	templates map[Layout]*pongo2.Template
}

// NewRenderer loads layouts from fsys, or the embedded layouts when nil.
func NewRenderer(fsys fs.FS) *Renderer {
	if fsys == nil {
		sub, err := fs.Sub(layoutFS, "layouts")
		if err != nil {
			panic(err) // embedded path is fixed
		}
		fsys = sub
	}
	return &Renderer{
		set:       pongo2.NewSet("folio", pongo2.NewFSLoader(fsys)),
		templates: make(map[Layout]*pongo2.Template),
	}
}

var (
	defaultRendererOnce sync.Once
	defaultRenderer     *Renderer
)

// DefaultRenderer returns the shared renderer over the embedded layouts.
func DefaultRenderer() *Renderer {
	defaultRendererOnce.Do(func() {
		defaultRenderer = NewRenderer(nil)
	})
	return defaultRenderer
}

// Render writes t's layout for v to w using the embedded layouts.
func (t Target) Render(w io.Writer, v View) error {
	return DefaultRenderer().Render(w, t, v)
}

// Render writes t's layout for v to w.
func (r *Renderer) Render(w io.Writer, t Target, v View) error {
	tmpl, err := r.template(t.Layout)
	if err != nil {
		return err
	}

	ctx := pongo2.Context{
		"target":     t,
		"profile":    v.Profile,
		"available":  v.Available,
		"events_url": v.EventsURL,
		"sections":   sections(t.Layout, v.Profile),
		"skills":     lines(v.Profile.Skills),
		"languages":  lines(v.Profile.Languages),
		"interests":  lines(v.Profile.Interests),
	}
	if err := tmpl.ExecuteWriter(ctx, w); err != nil {
		return fmt.Errorf("rendering layout %q: %w", t.Layout, err)
	}
	return nil
}

func (r *Renderer) template(layout Layout) (*pongo2.Template, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[layout]
	r.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	tmpl, err := r.set.FromFile(string(layout) + ".html")
	if err != nil {
		return nil, fmt.Errorf("loading layout %q: %w", layout, err)
	}
	r.mu.Lock()
	r.templates[layout] = tmpl
	r.mu.Unlock()
	return tmpl, nil
}

// sections returns the layout's non-empty sections.
func sections(layout Layout, s normalize.Schema) []Section {
	var out []Section
	for _, spec := range layoutSections[layout] {
		if l := lines(spec.pick(s)); len(l) > 0 {
			out = append(out, Section{Name: spec.name, Lines: l})
		}
	}
	return out
}

// lines flattens entries that are strings or objects; anything else is
// skipped.
func lines(entries []any) []Line {
	out := make([]Line, 0, len(entries))
	for _, e := range entries {
		if s, ok := e.(string); ok {
			if l, ok := profile.Text(s); ok {
				out = append(out, Line{Heading: l})
			}
			continue
		}
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		rec := profile.Record(m)
		l := Line{
			Heading:     rec.String("title", "name", "position", "role", "degree"),
			Detail:      rec.String("company", "organization", "institution", "hospital", "issuer", "duration", "year"),
			Description: rec.String("description"),
		}
		if l.Heading == "" && l.Detail == "" && l.Description == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}
