package driver

// forwardDriver handles "Forward" metadata (Finnish broadcast archive
// format), commonly harvested via SFX/MetaLib full-set sources.
var forwardSpec = fieldSpec{
	id:              "ID",
	title:           "Title",
	author:          "Director",
	isbn:            "",
	issn:            "",
	format:          "ProgramType",
	formatDefault:   "Video",
	year:            "BroadcastDate",
	pageCount:       "Duration",
	seriesISSN:      "",
	seriesNumbering: "EpisodeNumber",
	hostRecordID:    "SeriesID",
}

func newForwardDriver(doc *Document, oaiID, sourceID string) (Driver, error) {
	return newGenericDriver("forward", forwardSpec, doc, oaiID, sourceID), nil
}
