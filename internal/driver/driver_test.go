package driver

import (
	"strings"
	"testing"
)

const sampleDC = `<record>
  <identifier>123</identifier>
  <title>The Great Gatsby</title>
  <creator>Fitzgerald, F. Scott</creator>
  <identifier>978-3-16-148410-0</identifier>
  <type>Book</type>
  <date>1925</date>
</record>`

func TestNewUnsupportedFormat(t *testing.T) {
	_, err := New("unknown-format", []byte(sampleDC), "oai:1", "src1")
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestDCDriverExtraction(t *testing.T) {
	d, err := New("dc", []byte(sampleDC), "oai:1", "src1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := d.ID(); got != "123" {
		t.Errorf("ID() = %q, want 123", got)
	}
	if got := d.GetTitle(false); got != "The Great Gatsby" {
		t.Errorf("GetTitle(false) = %q", got)
	}
	if got := d.GetTitle(true); got != "Great Gatsby" {
		t.Errorf("GetTitle(true) = %q, want filing form with article stripped", got)
	}
	if got := d.GetMainAuthor(); got != "Fitzgerald, F. Scott" {
		t.Errorf("GetMainAuthor() = %q", got)
	}
	if got := d.GetPublicationYear(); got != "1925" {
		t.Errorf("GetPublicationYear() = %q", got)
	}
	if got := d.GetFormat(); got != "Book" {
		t.Errorf("GetFormat() = %q", got)
	}

	isbns := d.GetISBNs()
	if len(isbns) != 1 || !strings.Contains(isbns[0], "316148410") {
		t.Errorf("GetISBNs() = %v", isbns)
	}
}

func TestGenericDriverEmptyFields(t *testing.T) {
	d, err := New("marc", []byte(`<record></record>`), "oai:empty", "src1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := d.ID(); got != "oai:empty" {
		t.Errorf("ID() fallback to oaiId = %q, want oai:empty", got)
	}
	if got := d.GetHostRecordID(); got != "" {
		t.Errorf("GetHostRecordID() = %q, want empty", got)
	}
}

func TestMergeComponentPartsOrdersBySuffix(t *testing.T) {
	host, err := New("dc", []byte(`<record><identifier>host</identifier></record>`), "oai:host", "src1")
	if err != nil {
		t.Fatalf("New host: %v", err)
	}

	c2, _ := New("dc", []byte(`<record><identifier>host.2</identifier><title>Part Two</title></record>`), "oai:2", "src1")
	c1, _ := New("dc", []byte(`<record><identifier>host.1</identifier><title>Part One</title></record>`), "oai:1", "src1")

	merged := host.MergeComponentParts([]Driver{c2, c1})
	if merged != 2 {
		t.Fatalf("MergeComponentParts() = %d, want 2", merged)
	}

	solr := host.ToSolrArray()
	_ = solr // host's own fields unaffected; component titles are stored separately

	titles := host.(*genericDriver).doc.GetAll("component_title")
	if len(titles) != 2 || titles[0] != "Part One" || titles[1] != "Part Two" {
		t.Errorf("component_title = %v, want [Part One Part Two] (ordered by id suffix)", titles)
	}
}

func TestNormalizeTextStripsDiacriticsAndPunctuation(t *testing.T) {
	got := normalizeText("Café du Monde, Inc.")
	want := "cafe du monde inc"
	if got != want {
		t.Errorf("normalizeText() = %q, want %q", got, want)
	}
}

func TestTitleKeyStopsAtThreeLongWords(t *testing.T) {
	// "Abcd"(4, long #1) "Efgh"(4, long #2) "Ijkl"(4, long #3): only 12
	// characters have accumulated, so the key stops because three words
	// longer than 3 characters have been seen, not because of the 25-char rule.
	got := TitleKey("Abcd Efgh Ijkl Mnop Qrst")
	want := TitleKey("Abcd Efgh Ijkl")
	if got != want {
		t.Errorf("TitleKey() = %q, want %q", got, want)
	}
}

func TestTitleKeyStopsAtSignificantCharacterCount(t *testing.T) {
	// "Ab"(2) "Cd"(2) "Ef"(2) "Ghijklmnopqrstuvwxyz"(20): 26 characters with
	// only one long word, so the key stops on the 25-character rule.
	got := TitleKey("Ab Cd Ef Ghijklmnopqrstuvwxyz Tail Words")
	if len(got) == 0 {
		t.Fatal("TitleKey() returned empty string")
	}
	if want := TitleKey("Ab Cd Ef Ghijklmnopqrstuvwxyz"); got != want {
		t.Errorf("TitleKey() = %q, want %q", got, want)
	}
}
