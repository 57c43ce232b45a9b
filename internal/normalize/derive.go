package normalize

import (
	"sort"
	"strings"

	"github.com/kalambet/folio/internal/profile"
)

// certificationNames extracts labels from string or {name|title} entries,
// skipping anything else.
func certificationNames(entries []any) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if name, ok := profile.Text(e, "name", "title"); ok {
			names = append(names, name)
		}
	}
	return names
}

func primarySpecialization(raw profile.Record, certs []string) string {
	if title := strings.TrimSpace(raw.String("professionalTitle")); title != "" {
		return title
	}
	if m := matching(certs, "medicine", "medical", "doctor"); len(m) > 0 {
		return m[0]
	}
	return FallbackSpecialization
}

// matching returns, in order, every name containing one of tokens
// case-insensitively.
func matching(names []string, tokens ...string) []string {
	out := []string{}
	for _, n := range names {
		lower := strings.ToLower(n)
		for _, tok := range tokens {
			if strings.Contains(lower, tok) {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

func memberships(entries []any) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if label, ok := profile.Text(e, "name"); ok {
			out = append(out, label)
			continue
		}
		out = append(out, UnknownMembership)
	}
	return out
}

// socialLinks accepts either an object of platform -> url or an array of
// {platform, url} objects.
func socialLinks(v any) []SocialLink {
	out := []SocialLink{}
	switch links := v.(type) {
	case map[string]any:
		platforms := make([]string, 0, len(links))
		for p := range links {
			platforms = append(platforms, p)
		}
		sort.Strings(platforms)
		for _, p := range platforms {
			if url, ok := links[p].(string); ok && strings.TrimSpace(url) != "" {
				out = append(out, SocialLink{Platform: p, URL: url})
			}
		}
	case []any:
		for _, e := range links {
			m, ok := e.(map[string]any)
			if !ok || !hasNonBlankString(m) {
				continue
			}
			rec := profile.Record(m)
			out = append(out, SocialLink{
				Platform: rec.String("platform", "name"),
				URL:      rec.String("url", "link", "href"),
			})
		}
	}
	return out
}

func hasNonBlankString(m map[string]any) bool {
	for _, v := range m {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return true
		}
	}
	return false
}
