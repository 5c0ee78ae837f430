// Package driver implements the Record Driver interface of spec §4.2: a
// small set of format-specific operations (id, serialize, normalize, and the
// dedup/index feature extractors) that the rest of the pipeline calls without
// caring which metadata format a record arrived in.
//
// Real XML/MARC parsing is explicitly out of scope (spec §1: "format-specific
// XML/MARC parsers ... treated as collaborators with contracts"). Drivers
// here operate over Document, a generic parsed-field bag populated by a
// minimal, format-agnostic XML reader — the driver's job is to know which
// field names mean what for its format, not to implement that format's full
// grammar.
package driver

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned by New when no driver is registered for
// the requested format (spec §4.2).
var ErrUnsupportedFormat = errors.New("driver: unsupported format")

// Driver extracts identity, storage, and index information from one parsed
// metadata document. Every operation is pure over the document it was built
// from.
type Driver interface {
	// Format returns the driver's format name, e.g. "marc", "dc".
	Format() string

	// ID returns the record's local identifier. May be empty, in which case
	// callers fall back to the harvester-supplied oai_id (spec §4.2).
	ID() string

	// Serialize returns the canonical payload to persist in the Record
	// Store's original_data column.
	Serialize() (string, error)

	// Normalize performs in-place, format-specific cleanup (e.g. trimming
	// empty subfields, canonicalizing whitespace) and returns the resulting
	// driver. Returns the same instance; present as a return value so
	// callers can chain it immediately after construction.
	Normalize() Driver

	// GetHostRecordID returns the identifier of this record's host record,
	// or "" if this record is not a component part.
	GetHostRecordID() string

	// GetLinkingID returns the identifier other records use to reference
	// this one (often equal to ID(), but not required to be).
	GetLinkingID() string

	GetTitle(forFiling bool) string
	GetMainAuthor() string
	GetISBNs() []string
	GetISSNs() []string
	GetFormat() string
	GetPublicationYear() string
	GetPageCount() string
	GetSeriesISSN() string
	GetSeriesNumbering() string

	// ToSolrArray returns the keyed document fields to index. Multi-valued
	// fields are represented as []string in iteration order.
	ToSolrArray() map[string]any

	// MergeComponentParts folds the given component-part drivers into this
	// host document and returns the count merged.
	MergeComponentParts(components []Driver) int
}

// Orderer is an optional extension a driver may implement to supply its own
// component-part ordering instead of the numeric-suffix-of-id heuristic
// MergeComponentParts otherwise falls back to (spec §9 Open Question,
// resolved in SPEC_FULL.md's Supplemented Features).
type Orderer interface {
	// Order returns a value components are sorted by ascending before
	// merging. Drivers that don't implement Orderer get suffix-based
	// ordering instead.
	Order() int
}

// Factory constructs a Driver over one parsed document for a given format,
// oaiId, and sourceId (spec §4.2's "pure over (format, data, oaiId,
// sourceId) input").
type Factory func(doc *Document, oaiID, sourceID string) (Driver, error)

var registry = map[string]Factory{
	"marc":    newMARCDriver,
	"dc":      newDCDriver,
	"lido":    newLIDODriver,
	"ese":     newESEDriver,
	"forward": newForwardDriver,
}

// New parses raw and constructs the driver registered for format.
func New(format string, raw []byte, oaiID, sourceID string) (Driver, error) {
	factory, ok := registry[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	doc, err := ParseDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("driver: parse %s document: %w", format, err)
	}
	return factory(doc, oaiID, sourceID)
}
