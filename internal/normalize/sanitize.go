package normalize

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	bioPolicyOnce sync.Once
	bioPolicy     *bluemonday.Policy
)

// SanitizeBio strips anything but user-generated-content markup from a bio.
// Returns "" when nothing survives.
func SanitizeBio(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return strings.TrimSpace(bioSanitizer().Sanitize(trimmed))
}

func bioSanitizer() *bluemonday.Policy {
	bioPolicyOnce.Do(func() {
		policy := bluemonday.UGCPolicy()
		policy.RequireNoFollowOnLinks(true)
		policy.AddTargetBlankToFullyQualifiedLinks(true)
		bioPolicy = policy
	})
	return bioPolicy
}
