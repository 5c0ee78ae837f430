package ingest

import "testing"

func TestNormalizeISBNPromotesISBN10(t *testing.T) {
	got := NormalizeISBN("0-201-03801-3")
	want := "9780201038019"
	if got != want {
		t.Errorf("NormalizeISBN(0-201-03801-3) = %q, want %q", got, want)
	}
}

func TestNormalizeISBNRecomputesISBN13Checksum(t *testing.T) {
	got := NormalizeISBN("9780201038019")
	if got != "9780201038019" {
		t.Errorf("NormalizeISBN(9780201038019) = %q, want unchanged valid ISBN-13", got)
	}
}

func TestNormalizeISBNPassesThroughNonISBN(t *testing.T) {
	got := NormalizeISBN("not-an-isbn")
	if got != "not-an-isbn" {
		t.Errorf("NormalizeISBN(not-an-isbn) = %q, want unchanged", got)
	}
}
