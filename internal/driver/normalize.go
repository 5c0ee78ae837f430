package driver

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizeText implements the text-normalization rules spec §4.5 applies
// before blocking-key derivation and dedup comparison: lowercase, strip
// diacritics, drop punctuation/control characters, collapse whitespace.
// NormalizeText is the exported form of the spec §4.5/§8 normalize()
// operation (idempotent: normalizeText(normalizeText(s)) == normalizeText(s)),
// used both for blocking-key derivation and by internal/dedup's pairwise
// title/author comparison.
func NormalizeText(s string) string {
	return normalizeText(s)
}

func normalizeText(s string) string {
	s = strings.ToLower(s)

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if stripped, _, err := transform.String(t, s); err == nil {
		s = stripped
	}

	var b strings.Builder
	b.Grow(len(s))
	lastWasSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastWasSpace = false
		case unicode.IsSpace(r):
			if !lastWasSpace {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		default:
			// punctuation and control characters are dropped outright
		}
	}

	return strings.TrimSpace(b.String())
}

// TitleKey derives the title blocking key of spec §4.5: concatenate leading
// words of the (unnormalized) title until either 3 words longer than 3
// characters have been seen, or 25 significant characters have accumulated,
// then normalize the result (lowercase, strip diacritics/punctuation,
// collapse whitespace).
func TitleKey(title string) string {
	words := strings.Fields(title)
	longWords := 0
	significant := 0
	var prefix []string

	for _, w := range words {
		prefix = append(prefix, w)
		significant += len(w)
		if len(w) > 3 {
			longWords++
		}
		if longWords >= 3 || significant >= 25 {
			break
		}
	}

	return normalizeText(strings.Join(prefix, " "))
}
