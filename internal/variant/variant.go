// Package variant canonicalizes flavor-combination names so that the same
// pair of flavors always compares and displays identically.
package variant

import (
	"sort"
	"strings"
)

const (
	// MixPrefix marks a combination of two or more flavors.
	MixPrefix = "Mix "
	// Separator joins flavors inside a combination name.
	Separator = " Dan "

	legacySeparator = "Dengan"
	separatorWord   = "Dan"
)

// Normalize returns the canonical form of a stored or typed variant name.
//
// Legacy "Dengan" is rewritten to "Dan". A name containing " Dan " gets the
// "Mix " prefix, and the flavors of a prefixed name are sorted ascending.
// Only the exact token " Dan " starts a combination, so a single flavor whose
// name merely contains "Dan" is returned as is. Inside a combination every
// standalone "Dan" word separates flavors, runs of spaces collapse and empty
// flavors are dropped, which keeps Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) string {
	if raw == "" {
		return raw
	}
	s := strings.TrimSpace(strings.ReplaceAll(raw, legacySeparator, separatorWord))
	if strings.Contains(s, Separator) && !strings.HasPrefix(s, MixPrefix) {
		s = MixPrefix + s
	}
	if !strings.HasPrefix(s, MixPrefix) {
		return s
	}
	parts := flavors(strings.TrimPrefix(s, MixPrefix))
	if len(parts) == 0 {
		return strings.TrimSpace(MixPrefix)
	}
	sort.Strings(parts)
	return MixPrefix + strings.Join(parts, Separator)
}

// flavors splits the body of a combination on its "Dan" words.
func flavors(body string) []string {
	var parts, words []string
	flush := func() {
		if len(words) > 0 {
			parts = append(parts, strings.Join(words, " "))
			words = words[:0]
		}
	}
	for _, w := range strings.Fields(body) {
		if w == separatorWord {
			flush()
			continue
		}
		words = append(words, w)
	}
	flush()
	return parts
}

// Pack turns the checked flavors of one form row into a variant name. Names
// are trimmed and blanks skipped; the result equals Normalize applied to the
// unsorted concatenation.
func Pack(names []string) string {
	var picked []string
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			picked = append(picked, n)
		}
	}
	switch len(picked) {
	case 0:
		return ""
	case 1:
		return Normalize(picked[0])
	}
	return Normalize(MixPrefix + strings.Join(picked, Separator))
}
