package dedup

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/KDK-Alli/RecordManager/internal/driver"
)

const (
	// titleCompareChars bounds the Levenshtein comparison to the first N
	// normalized characters of each title (spec §4.6).
	titleCompareChars = 255
	titleMaxDistancePct = 10
	authorMaxDistancePct = 20
	maxYearDiff = 1
	maxPageCountDiff = 10
)

// Match reports whether a and b describe the same resource, per spec §4.6's
// pairwise match rules. An ISBN intersection short-circuits to a match.
func Match(a, b Features) bool {
	if a.Format != b.Format {
		return false
	}

	if sharedISBN(a.ISBNs, b.ISBNs) {
		return true
	}
	if len(a.ISBNs) > 0 && len(b.ISBNs) > 0 {
		// Both sets non-empty but no shared ISBN - mismatch.
		return false
	}

	if len(a.ISSNs) > 0 && len(b.ISSNs) > 0 && !intersects(a.ISSNs, b.ISSNs) {
		return false
	}

	if a.HasYear && b.HasYear && abs(a.Year-b.Year) > maxYearDiff {
		return false
	}

	if a.HasPageCount && b.HasPageCount && abs(a.PageCount-b.PageCount) > maxPageCountDiff {
		return false
	}

	if a.SeriesISSN != "" && b.SeriesISSN != "" && a.SeriesISSN != b.SeriesISSN {
		return false
	}
	if a.SeriesNumbering != "" && b.SeriesNumbering != "" && a.SeriesNumbering != b.SeriesNumbering {
		return false
	}

	if a.TitleFiling == "" || b.TitleFiling == "" {
		return false
	}
	if !titlesMatch(a.TitleFiling, b.TitleFiling) {
		return false
	}

	return authorsCompatible(a.Author, b.Author)
}

func sharedISBN(a, b []string) bool {
	return intersects(a, b)
}

// matchedField classifies which blocking signal accounted for a successful
// Match, for the dedup_matches_total metric.
func matchedField(a, b Features) string {
	if sharedISBN(a.ISBNs, b.ISBNs) {
		return "isbn"
	}
	return "title"
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func titlesMatch(a, b string) bool {
	na := driver.NormalizeText(a)
	nb := driver.NormalizeText(b)
	na = truncate(na, titleCompareChars)
	nb = truncate(nb, titleCompareChars)
	if na == "" || nb == "" {
		return false
	}
	return scaledDistancePct(na, nb) < titleMaxDistancePct
}

// authorsCompatible accepts either a surname+initial match (e.g. "Doe, J."
// vs "Doe, John") or a scaled Levenshtein distance within 20%.
func authorsCompatible(a, b string) bool {
	if a == "" || b == "" {
		return true // absent authors don't disqualify a match on their own
	}
	if surnameInitialMatch(a, b) {
		return true
	}
	na := driver.NormalizeText(a)
	nb := driver.NormalizeText(b)
	if na == "" || nb == "" {
		return true
	}
	return scaledDistancePct(na, nb) <= authorMaxDistancePct
}

func surnameInitialMatch(a, b string) bool {
	sa, ia := surnameAndInitial(a)
	sb, ib := surnameAndInitial(b)
	if sa == "" || sb == "" {
		return false
	}
	if sa != sb {
		return false
	}
	if ia == "" || ib == "" {
		return true
	}
	return ia == ib
}

// surnameAndInitial parses "Surname, Given[ Middle]" into a normalized
// surname and the given name's first initial.
func surnameAndInitial(name string) (surname, initial string) {
	parts := strings.SplitN(name, ",", 2)
	surname = driver.NormalizeText(strings.TrimSpace(parts[0]))
	if len(parts) < 2 {
		return surname, ""
	}
	given := strings.TrimSpace(parts[1])
	given = strings.TrimPrefix(given, ".")
	given = strings.TrimSpace(given)
	if given == "" {
		return surname, ""
	}
	r := []rune(driver.NormalizeText(given))
	if len(r) == 0 {
		return surname, ""
	}
	return surname, string(r[0])
}

func scaledDistancePct(a, b string) int {
	if a == "" && b == "" {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	return dist * 100 / maxLen
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
