package rbac

import (
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeName folds s for case-insensitive uniqueness checks on role
// names, usernames and emails. Both stores index on this key, so "Straße" and
// "STRASSE" collide everywhere. A Caser is stateful, so one is built per call.
func NormalizeName(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// SameName reports whether a and b are equal after folding.
func SameName(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}
