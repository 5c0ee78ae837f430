package mapper

import (
	"strings"
	"testing"
)

func TestParseMappingMalformedLine(t *testing.T) {
	_, err := ParseMapping(strings.NewReader("not-a-valid-line"), TypeNormal)
	if err == nil {
		t.Fatal("expected ErrMalformedMapping")
	}
}

func TestNormalMappingDefaultFallback(t *testing.T) {
	m, err := ParseMapping(strings.NewReader("fre = French\neng = English\n##default = Unknown\n"), TypeNormal)
	if err != nil {
		t.Fatalf("ParseMapping: %v", err)
	}

	result, ok := m.applyOne("fre", -1)
	if !ok || result[0] != "French" {
		t.Errorf("applyOne(fre) = %v, %v", result, ok)
	}

	result, ok = m.applyOne("ger", -1)
	if !ok || result[0] != "Unknown" {
		t.Errorf("applyOne(ger) = %v, %v, want default Unknown", result, ok)
	}
}

func TestNormalMappingListKey(t *testing.T) {
	m, err := ParseMapping(strings.NewReader("1[] = Journal\n1[] = Serial\n"), TypeNormal)
	if err != nil {
		t.Fatalf("ParseMapping: %v", err)
	}
	result, ok := m.applyOne("1", -1)
	if !ok || len(result) != 2 || result[0] != "Journal" || result[1] != "Serial" {
		t.Errorf("applyOne(1) = %v, %v", result, ok)
	}
}

func TestRegexpMappingFirstMatchWins(t *testing.T) {
	m, err := ParseMapping(strings.NewReader(`^Book.*$ = Book
^.*Journal.*$ = Serial
`), TypeRegexp)
	if err != nil {
		t.Fatalf("ParseMapping: %v", err)
	}
	// "Book Journal" matches both patterns; only the first one applies.
	result, ok := m.applyOne("Book Journal", -1)
	if !ok || len(result) != 1 || result[0] != "Book" {
		t.Errorf("applyOne = %v, %v", result, ok)
	}
}

func TestRegexpMultiAllMatchesContribute(t *testing.T) {
	m, err := ParseMapping(strings.NewReader(`Fiction = fic
Mystery = mys
`), TypeRegexpMulti)
	if err != nil {
		t.Fatalf("ParseMapping: %v", err)
	}
	result, ok := m.applyOne("Fiction/Mystery", -1)
	if !ok || len(result) != 2 {
		t.Errorf("applyOne = %v, %v, want two contributions", result, ok)
	}
}

func TestEmptyValueUsesEmptyFallback(t *testing.T) {
	m, err := ParseMapping(strings.NewReader("##empty = (unknown)\n"), TypeNormal)
	if err != nil {
		t.Fatalf("ParseMapping: %v", err)
	}
	result, ok := m.applyOne("", -1)
	if !ok || result[0] != "(unknown)" {
		t.Errorf("applyOne(\"\") = %v, %v", result, ok)
	}
}

func TestMapValuesArrayDedup(t *testing.T) {
	m, err := ParseMapping(strings.NewReader("fre = French\neng = French\n"), TypeNormal)
	if err != nil {
		t.Fatalf("ParseMapping: %v", err)
	}
	mapper := &Mapper{
		fields:   FieldConfig{"language": {{Filename: "lang.map", Type: TypeNormal}}},
		mappings: map[string]*Mapping{"lang.map": m},
	}

	out, err := mapper.MapValues(map[string][]string{"language": {"fre", "eng"}})
	if err != nil {
		t.Fatalf("MapValues: %v", err)
	}
	if got := out["language"]; len(got) != 1 || got[0] != "French" {
		t.Errorf("MapValues dedup = %v, want [French]", got)
	}
}

func TestMapHierarchicalTruncatesOnUnmappedLevel(t *testing.T) {
	m, err := ParseMapping(strings.NewReader("0:Fiction = Fiction\n1:Mystery = Mystery\n"), TypeNormal)
	if err != nil {
		t.Fatalf("ParseMapping: %v", err)
	}
	mapper := &Mapper{
		fields:   FieldConfig{"classification": {{Filename: "class.map", Type: TypeNormal}}},
		mappings: map[string]*Mapping{"class.map": m},
	}

	got, err := mapper.MapHierarchical("classification", []string{"Fiction", "Mystery", "Cozy"})
	if err != nil {
		t.Fatalf("MapHierarchical: %v", err)
	}
	want := []string{"Fiction", "Fiction/Mystery"}
	if len(got) != len(want) {
		t.Fatalf("MapHierarchical() = %v, want %v (Cozy has no mapping, truncates)", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MapHierarchical()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMapHierarchicalCumulativePrefixesScenario4(t *testing.T) {
	m, err := ParseMapping(strings.NewReader("0:A1 = A\n1:2 = 2\n"), TypeNormal)
	if err != nil {
		t.Fatalf("ParseMapping: %v", err)
	}
	mapper := &Mapper{
		fields:   FieldConfig{"building": {{Filename: "building.map", Type: TypeNormal}}},
		mappings: map[string]*Mapping{"building.map": m},
	}

	got, err := mapper.MapHierarchical("building", strings.Split("A1/2", "/"))
	if err != nil {
		t.Fatalf("MapHierarchical: %v", err)
	}
	want := []string{"A", "A/2"}
	if len(got) != len(want) {
		t.Fatalf("MapHierarchical() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MapHierarchical()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
