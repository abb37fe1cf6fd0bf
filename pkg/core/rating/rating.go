// Package rating maps free-text skill labels to numeric scores via
// per-category lookup tables.
package rating

import (
	"fmt"
	"sort"
	"strings"
)

// Table maps a canonical skill label to its numeric score.
// One table exists per rating category (e.g. programming, open_source).
type Table map[string]float64

// Values returns every score in the table, sorted ascending.
// Used by the bounds analyzer to enumerate a variable's full domain.
func (t Table) Values() []float64 {
	values := make([]float64, 0, len(t))
	for _, v := range t {
		values = append(values, v)
	}
	sort.Float64s(values)
	return values
}

// SortedKeys returns the table's labels in lexical order.
func (t Table) SortedKeys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MissingRatingError indicates a label had no entry in its category's table.
// The caller may supply a value for Key and retry.
type MissingRatingError struct {
	Category string
	Key      string
}

func (e *MissingRatingError) Error() string {
	return fmt.Sprintf("%s not rated for %q", e.Category, e.Key)
}

// CanonicalKey reduces a raw label to its lookup key: anything from the
// first '(' onward and the first '/' onward is dropped, then surrounding
// whitespace is trimmed. No case folding happens here; callers normalize
// case before lookup when their category requires it.
func CanonicalKey(label string) string {
	if i := strings.Index(label, "("); i >= 0 {
		label = label[:i]
	}
	if i := strings.Index(label, "/"); i >= 0 {
		label = label[:i]
	}
	return strings.TrimSpace(label)
}

// Resolve looks up the canonical form of label in table. A missing key
// returns a *MissingRatingError carrying the category and canonical key.
func Resolve(category string, table Table, label string) (float64, error) {
	key := CanonicalKey(label)
	value, ok := table[key]
	if !ok {
		return 0, &MissingRatingError{Category: category, Key: key}
	}
	return value, nil
}

// ResolveOr is Resolve with a fallback value for missing keys.
func ResolveOr(category string, table Table, label string, fallback float64) float64 {
	value, err := Resolve(category, table, label)
	if err != nil {
		return fallback
	}
	return value
}
