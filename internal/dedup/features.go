package dedup

import (
	"strconv"

	"github.com/KDK-Alli/RecordManager/internal/driver"
	"github.com/KDK-Alli/RecordManager/internal/ingest"
	"github.com/KDK-Alli/RecordManager/internal/store"
)

// Features is the subset of driver-extracted fields the pairwise matcher
// needs (spec §4.6), captured once per record so repeated comparisons don't
// re-run driver extraction.
type Features struct {
	ID              string
	SourceID        string
	Format          string
	Title           string
	TitleFiling     string
	Author          string
	ISBNs           []string
	ISSNs           []string
	Year            int
	HasYear         bool
	PageCount       int
	HasPageCount    bool
	SeriesISSN      string
	SeriesNumbering string
}

// ExtractFeatures builds Features for a stored Record by reconstructing its
// driver from whichever payload is most current.
func ExtractFeatures(rec *store.Record) (Features, error) {
	payload := rec.NormalizedData
	if payload == "" {
		payload = rec.OriginalData
	}
	d, err := driver.New(rec.Format, []byte(payload), rec.OAIID, rec.SourceID)
	if err != nil {
		return Features{}, err
	}

	f := Features{
		ID:              rec.ID,
		SourceID:        rec.SourceID,
		Format:          d.GetFormat(),
		Title:           d.GetTitle(false),
		TitleFiling:     d.GetTitle(true),
		Author:          d.GetMainAuthor(),
		SeriesISSN:      d.GetSeriesISSN(),
		SeriesNumbering: d.GetSeriesNumbering(),
	}

	for _, raw := range d.GetISBNs() {
		f.ISBNs = append(f.ISBNs, ingest.NormalizeISBN(raw))
	}
	f.ISSNs = d.GetISSNs()

	if year, err := strconv.Atoi(d.GetPublicationYear()); err == nil {
		f.Year = year
		f.HasYear = true
	}
	if pages, err := strconv.Atoi(d.GetPageCount()); err == nil {
		f.PageCount = pages
		f.HasPageCount = true
	}

	return f, nil
}
