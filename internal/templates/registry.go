// Package templates maps template identifiers onto render targets.
package templates

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kalambet/folio/internal/normalize"
)

// Layout names a pongo2 template under layouts/.
type Layout string

const (
	LayoutClassic     Layout = "classic"
	LayoutMedical     Layout = "medical"
	LayoutEngineering Layout = "engineering"
	LayoutDeveloper   Layout = "developer"
	LayoutComingSoon  Layout = "coming-soon"
)

// Entry is one registered identifier. Category is the hint handed to
// normalize.Normalize.
type Entry struct {
	Layout   Layout `json:"layout"`
	Category string `json:"category"`
}

// Family is the normalize family of the entry's category.
func (e Entry) Family() normalize.Family {
	return normalize.FamilyOf(e.Category)
}

// registry is the complete set of identifiers. Adding a template is adding a
// line here.
var registry = map[string]Entry{
	"default":      {LayoutClassic, ""},
	"classic":      {LayoutClassic, ""},
	"modern":       {LayoutClassic, ""},
	"minimal":      {LayoutClassic, ""},
	"professional": {LayoutClassic, ""},
	"creative":     {LayoutClassic, ""},

	"medical":            {LayoutMedical, "medical"},
	"cardiologist":       {LayoutMedical, "cardiologist"},
	"dentist":            {LayoutMedical, "dentist"},
	"pediatrician":       {LayoutMedical, "pediatrician"},
	"dermatologist":      {LayoutMedical, "dermatologist"},
	"neurologist":        {LayoutMedical, "neurologist"},
	"orthopedic-surgeon": {LayoutMedical, "orthopedic-surgeon"},
	"psychiatrist":       {LayoutMedical, "psychiatrist"},
	"gynecologist":       {LayoutMedical, "gynecologist"},
	"ophthalmologist":    {LayoutMedical, "ophthalmologist"},
	"general-physician":  {LayoutMedical, "general-physician"},
	"radiologist":        {LayoutMedical, "radiologist"},
	"surgeon":            {LayoutMedical, "surgeon"},
	"nurse":              {LayoutMedical, "nurse"},

	"engineering":               {LayoutEngineering, "engineering"},
	"civil-engineer":            {LayoutEngineering, "civil-engineer"},
	"mechanical-engineer":       {LayoutEngineering, "mechanical-engineer"},
	"electrical-engineer":       {LayoutEngineering, "electrical-engineer"},
	"chemical-engineer":         {LayoutEngineering, "chemical-engineer"},
	"computer-science-engineer": {LayoutEngineering, "computer-science-engineer"},
	"software-engineer":         {LayoutEngineering, "computer-science-engineer"},

	"developer":            {LayoutDeveloper, "developer"},
	"frontend-developer":   {LayoutDeveloper, "frontend-developer"},
	"backend-developer":    {LayoutDeveloper, "backend-developer"},
	"full-stack-developer": {LayoutDeveloper, "full-stack-developer"},
	"data-scientist":       {LayoutDeveloper, "data-scientist"},
	"devops-engineer":      {LayoutDeveloper, "devops-engineer"},
	"mobile-developer":     {LayoutDeveloper, "mobile-developer"},
}

// Target is the result of Dispatch.
type Target struct {
	ID    string `json:"id"`
	Entry
	// Title is the human-readable identifier.
	Title string `json:"title"`
	// Placeholder is set for identifiers absent from the registry.
	Placeholder bool `json:"placeholder"`
}

// Lookup returns the registered entry for id.
func Lookup(id string) (Entry, bool) {
	e, ok := registry[id]
	return e, ok
}

// Dispatch never fails: unknown identifiers get the coming-soon placeholder.
func Dispatch(id string) Target {
	if e, ok := registry[id]; ok {
		return Target{ID: id, Entry: e, Title: Humanize(id)}
	}
	return Target{
		ID:          id,
		Entry:       Entry{Layout: LayoutComingSoon, Category: id},
		Title:       Humanize(id),
		Placeholder: true,
	}
}

// Identifiers returns every registered identifier, sorted.
func Identifiers() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Humanize splits id on hyphens and capitalizes each token:
// "orthopedic-surgeon" becomes "Orthopedic Surgeon". An id with no words
// becomes "Template".
func Humanize(id string) string {
	tokens := strings.Split(id, "-")
	words := tokens[:0]
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(tok)
		words = append(words, string(unicode.ToUpper(r))+tok[size:])
	}
	if len(words) == 0 {
		return "Template"
	}
	return strings.Join(words, " ")
}
