package dedup

import "testing"

func TestMatchISBNShortCircuit(t *testing.T) {
	a := Features{Format: "dc", TitleFiling: "Totally Different Title One", ISBNs: []string{"9780201038019"}}
	b := Features{Format: "dc", TitleFiling: "Something Else Entirely Two", ISBNs: []string{"9780201038019"}}
	if !Match(a, b) {
		t.Error("expected ISBN intersection to short-circuit to a match despite differing titles")
	}
}

func TestMatchRejectsISBNMismatchWhenBothPresent(t *testing.T) {
	a := Features{Format: "dc", TitleFiling: "Same Title Here", ISBNs: []string{"9780201038019"}}
	b := Features{Format: "dc", TitleFiling: "Same Title Here", ISBNs: []string{"9999999999991"}}
	if Match(a, b) {
		t.Error("expected mismatched non-empty ISBN sets to reject the match")
	}
}

func TestMatchTitleAndYear(t *testing.T) {
	a := Features{Format: "dc", TitleFiling: "The Art of Computer Programming", Year: 1997, HasYear: true}
	b := Features{Format: "dc", TitleFiling: "Art of Computer Programming", Year: 1997, HasYear: true}
	if !Match(a, b) {
		t.Error("expected near-identical titles with matching years to match")
	}
}

func TestMatchRejectsFormatMismatch(t *testing.T) {
	a := Features{Format: "dc", TitleFiling: "Same Title"}
	b := Features{Format: "marc", TitleFiling: "Same Title"}
	if Match(a, b) {
		t.Error("expected differing formats to reject the match")
	}
}

func TestMatchRejectsYearFarApart(t *testing.T) {
	a := Features{Format: "dc", TitleFiling: "Same Title Here", Year: 1990, HasYear: true}
	b := Features{Format: "dc", TitleFiling: "Same Title Here", Year: 2000, HasYear: true}
	if Match(a, b) {
		t.Error("expected years more than 1 apart to reject the match")
	}
}

func TestAuthorsCompatibleSurnameInitial(t *testing.T) {
	if !authorsCompatible("Doe, John", "Doe, J.") {
		t.Error("expected surname+initial match to be compatible")
	}
}

func TestAuthorsIncompatibleDifferentSurname(t *testing.T) {
	if authorsCompatible("Doe, John", "Smith, John") {
		t.Error("expected different surnames to be incompatible")
	}
}
