// Package nameindex maintains and queries the approximate-match index over
// firm display names.
package nameindex

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultProjectionLen bounds the normalized projection so trigram match cost
// stays flat regardless of how long registry names get.
const DefaultProjectionLen = 60

// stripMarks removes combining marks after NFD decomposition, folding
// Romanian diacritics (ș, ț, ă, â, î) onto their ASCII bases.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize produces the searchable projection of a firm display name:
// diacritics folded, lowercased, whitespace collapsed, truncated to maxLen
// runes. maxLen <= 0 means DefaultProjectionLen.
func Normalize(name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultProjectionLen
	}

	folded, _, err := transform.String(stripMarks, name)
	if err != nil {
		// Transform only fails on malformed UTF-8; fall back to the raw name.
		folded = name
	}
	folded = strings.ToLower(folded)

	fields := strings.Fields(folded)
	out := strings.Join(fields, " ")

	r := []rune(out)
	if len(r) > maxLen {
		out = strings.TrimSpace(string(r[:maxLen]))
	}
	return out
}

// isDigits reports whether s is a non-empty run of ASCII digits, i.e. a raw
// registration code rather than a name fragment.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
