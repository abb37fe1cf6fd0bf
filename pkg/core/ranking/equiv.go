package ranking

import (
	"sort"
	"strings"
)

// Equivalences maps a canonical affiliation spelling to the variants that
// should be treated as the same institute or lab.
type Equivalences map[string][]string

// Canonical returns the canonical spelling for variant. Matching is
// case-insensitive against each canonical key and against every listed
// variant; an unmatched value passes through trimmed but otherwise
// unchanged. Canonicalizing an already-canonical value is a no-op.
func (e Equivalences) Canonical(variant string) string {
	lower := strings.ToLower(variant)
	for _, key := range e.sortedKeys() {
		if lower == strings.ToLower(key) {
			return key
		}
		for _, spelling := range e[key] {
			if lower == strings.ToLower(spelling) {
				return key
			}
		}
	}
	return strings.TrimSpace(variant)
}

// Add records further variants for a canonical spelling.
func (e Equivalences) Add(key string, variants ...string) {
	e[key] = append(e[key], variants...)
}

// sortedKeys fixes the match order so a variant listed under two keys
// always resolves the same way.
func (e Equivalences) sortedKeys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
