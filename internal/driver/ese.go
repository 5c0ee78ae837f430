package driver

// eseDriver handles ESE (Europeana Semantic Elements) records, a
// Dublin-Core-derived schema with an additional europeana-prefixed field
// set. Only the subset this pipeline needs is addressed here.
var eseSpec = fieldSpec{
	id:              "identifier",
	title:           "title",
	author:          "creator",
	isbn:            "identifier",
	issn:            "identifier",
	format:          "type",
	formatDefault:   "Other",
	year:            "date",
	pageCount:       "",
	seriesISSN:      "isPartOf",
	seriesNumbering: "isPartOf",
	hostRecordID:    "isPartOf",
}

func newESEDriver(doc *Document, oaiID, sourceID string) (Driver, error) {
	return newGenericDriver("ese", eseSpec, doc, oaiID, sourceID), nil
}
