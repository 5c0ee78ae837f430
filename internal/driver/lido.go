package driver

// lidoDriver handles LIDO (museum object) records. LIDO's nested
// descriptive-metadata schema is out of scope; this driver reads the subset
// of fields a harvester is expected to flatten under these tag names.
var lidoSpec = fieldSpec{
	id:              "lidoRecID",
	title:           "titleSet",
	author:          "actorInRole",
	isbn:            "",
	issn:            "",
	format:          "objectWorkType",
	formatDefault:   "Object",
	year:            "displayDate",
	pageCount:       "",
	seriesISSN:      "",
	seriesNumbering: "",
	hostRecordID:    "relatedWorkID",
}

func newLIDODriver(doc *Document, oaiID, sourceID string) (Driver, error) {
	return newGenericDriver("lido", lidoSpec, doc, oaiID, sourceID), nil
}
