package identity

import (
	"regexp"
	"sort"
	"strings"
)

// MaxTenantIDLen bounds tenant identifiers.
const MaxTenantIDLen = 64

var tenantRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// NormalizeUsername performs case-insensitive canonicalization.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeTenant canonicalizes a tenant id and reports whether it is well formed.
func NormalizeTenant(s string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(s))
	if t == "" || len(t) > MaxTenantIDLen || !tenantRe.MatchString(t) {
		return "", false
	}
	return t, true
}

func normalizeRoles(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
