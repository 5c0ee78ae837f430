package solr

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KDK-Alli/RecordManager/internal/mapper"
	"github.com/KDK-Alli/RecordManager/internal/store"
)

const sampleDCXML = `<record>
  <identifier>123</identifier>
  <title>The Great Gatsby</title>
  <creator>Fitzgerald, F. Scott</creator>
  <type>Book</type>
  <date>1925</date>
</record>`

func TestBuildDocumentSetsStandardFields(t *testing.T) {
	rec := &store.Record{ID: "src1.123", SourceID: "src1", Format: "dc", OAIID: "oai:123", OriginalData: sampleDCXML}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	doc, err := BuildDocument(rec, nil, SourceDefaults{Institution: "MyInst", Collection: "MyColl"}, now)
	if err != nil {
		t.Fatalf("BuildDocument: %v", err)
	}
	if doc["id"] != "src1.123" {
		t.Errorf("id = %v", doc["id"])
	}
	if doc["institution"] != "MyInst" || doc["collection"] != "MyColl" {
		t.Errorf("institution/collection defaults not applied: %v / %v", doc["institution"], doc["collection"])
	}
	if doc["recordtype"] != "solr" {
		t.Errorf("recordtype = %v", doc["recordtype"])
	}
	if doc["last_indexed"] != now.Format(time.RFC3339) {
		t.Errorf("last_indexed = %v", doc["last_indexed"])
	}
	// BuildDocument keeps empty fields; mapAndEnrich drops them after the
	// Field Mapper has had a chance to apply ##empty/##emptyarray defaults.
	if v, ok := doc["issn"]; !ok || !isEmptyField(v) {
		t.Errorf("issn = %v, want an empty value left for mapAndEnrich", doc["issn"])
	}
	dropEmptyFields(doc)
	if _, ok := doc["issn"]; ok {
		t.Errorf("empty issn field should have been dropped, got %v", doc["issn"])
	}
}

func TestExplodeBuildingHierarchy(t *testing.T) {
	got := explodeBuildingHierarchy("Inst", []string{"A", "A/2"})
	want := []string{"0/Inst", "1/Inst/A", "2/Inst/A/2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBuildGroupDocumentUnionsAndMarksMerged(t *testing.T) {
	docs := []map[string]any{
		{"isbn": []string{"111"}, "title": "A"},
		{"isbn": []string{"222"}, "title": "B"},
	}
	now := time.Now()
	combined := BuildGroupDocument("group1", docs, SourceDefaults{}, now)

	isbns, _ := combined["isbn"].([]string)
	if len(isbns) != 2 {
		t.Fatalf("expected union of 2 isbns, got %v", isbns)
	}
	if combined["merged_boolean"] != true {
		t.Error("expected merged_boolean=true")
	}
	if combined["id"] != "group1" {
		t.Errorf("id = %v", combined["id"])
	}
}

func TestApplyFieldMapperRewritesValues(t *testing.T) {
	dir := t.TempDir()
	mapFile := filepath.Join(dir, "format.map")
	if err := os.WriteFile(mapFile, []byte("Book = Books\n"), 0o644); err != nil {
		t.Fatalf("write mapping file: %v", err)
	}

	m, err := mapper.Load(dir, mapper.FieldConfig{
		"format": {{Filename: "format.map", Type: mapper.TypeNormal}},
	})
	if err != nil {
		t.Fatalf("mapper.Load: %v", err)
	}

	doc := map[string]any{"format": "Book"}
	if err := ApplyFieldMapper(doc, m); err != nil {
		t.Fatalf("ApplyFieldMapper: %v", err)
	}
	if doc["format"] != "Books" {
		t.Errorf("format = %v, want Books", doc["format"])
	}
}
