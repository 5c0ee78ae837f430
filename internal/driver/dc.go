package driver

// dcDriver handles simple Dublin Core records (OAI-PMH's oai_dc metadata
// prefix), addressing fields by their unqualified DC element names.
var dcSpec = fieldSpec{
	id:              "identifier",
	title:           "title",
	author:          "creator",
	isbn:            "identifier",
	issn:            "identifier",
	format:          "type",
	formatDefault:   "Other",
	year:            "date",
	pageCount:       "extent",
	seriesISSN:      "relation",
	seriesNumbering: "relation",
	hostRecordID:    "relation",
}

func newDCDriver(doc *Document, oaiID, sourceID string) (Driver, error) {
	return newGenericDriver("dc", dcSpec, doc, oaiID, sourceID), nil
}
