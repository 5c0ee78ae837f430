package driver

// marcDriver handles MARC21/XML-derived records. MARC's tag/subfield
// grammar is out of scope (spec §1); this driver reads the subset of fields
// the ingestion/dedup pipeline needs, addressed here by the tag names a MARC
// harvester is expected to flatten them to before handing the document to
// this package (e.g. "245a" for title, "100a" for main entry author).
var marcSpec = fieldSpec{
	id:              "001",
	title:           "245a",
	titleFiling:     "245a",
	author:          "100a",
	isbn:            "020a",
	issn:            "022a",
	format:          "leader",
	formatDefault:   "Book",
	year:            "008",
	pageCount:       "300a",
	seriesISSN:      "490x",
	seriesNumbering: "490v",
	hostRecordID:    "773w",
	linkingID:       "001",
}

func newMARCDriver(doc *Document, oaiID, sourceID string) (Driver, error) {
	return newGenericDriver("marc", marcSpec, doc, oaiID, sourceID), nil
}
