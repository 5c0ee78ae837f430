package driver

import (
	"regexp"
	"strconv"
	"strings"
)

// fieldSpec names the Document tags a generic driver reads for each
// extracted feature. Each concrete format (marc.go, dc.go, lido.go, ese.go,
// forward.go) supplies its own fieldSpec; the extraction logic itself is
// shared, since spec §1 keeps real format grammars (MARC tag/subfield
// structure, LIDO's nested XML schema, ...) out of scope and only asks the
// driver layer to expose the §4.2 feature set uniformly.
type fieldSpec struct {
	id              string
	title           string
	titleFiling     string // falls back to title when empty
	author          string
	isbn            string
	issn            string
	format          string
	formatDefault   string
	year            string
	pageCount       string
	seriesISSN      string
	seriesNumbering string
	hostRecordID    string
	linkingID       string // falls back to id when empty
}

// genericDriver implements Driver by reading named tags out of a Document
// according to its fieldSpec. It is the shared implementation behind every
// concrete format driver in this package.
type genericDriver struct {
	format   string
	spec     fieldSpec
	doc      *Document
	oaiID    string
	sourceID string
}

func newGenericDriver(format string, spec fieldSpec, doc *Document, oaiID, sourceID string) Driver {
	return &genericDriver{format: format, spec: spec, doc: doc, oaiID: oaiID, sourceID: sourceID}
}

func (d *genericDriver) Format() string { return d.format }

func (d *genericDriver) ID() string {
	if id := d.doc.Get(d.spec.id); id != "" {
		return id
	}
	return d.oaiID
}

func (d *genericDriver) Serialize() (string, error) {
	return string(d.doc.Raw), nil
}

func (d *genericDriver) Normalize() Driver {
	for tag, els := range d.doc.Elements {
		for i := range els {
			els[i].Text = normalizeWhitespace(els[i].Text)
		}
		d.doc.Elements[tag] = els
	}
	return d
}

func (d *genericDriver) GetHostRecordID() string {
	if d.spec.hostRecordID == "" {
		return ""
	}
	return d.doc.Get(d.spec.hostRecordID)
}

func (d *genericDriver) GetLinkingID() string {
	if d.spec.linkingID != "" {
		if v := d.doc.Get(d.spec.linkingID); v != "" {
			return v
		}
	}
	return d.ID()
}

func (d *genericDriver) GetTitle(forFiling bool) string {
	if forFiling && d.spec.titleFiling != "" {
		if v := d.doc.Get(d.spec.titleFiling); v != "" {
			return stripFilingArticle(v)
		}
	}
	title := d.doc.Get(d.spec.title)
	if forFiling {
		return stripFilingArticle(title)
	}
	return title
}

func (d *genericDriver) GetMainAuthor() string {
	return d.doc.Get(d.spec.author)
}

func (d *genericDriver) GetISBNs() []string {
	return dedupStrings(extractDigitISBNs(d.doc.GetAll(d.spec.isbn)))
}

func (d *genericDriver) GetISSNs() []string {
	return dedupStrings(d.doc.GetAll(d.spec.issn))
}

func (d *genericDriver) GetFormat() string {
	if v := d.doc.Get(d.spec.format); v != "" {
		return v
	}
	return d.spec.formatDefault
}

func (d *genericDriver) GetPublicationYear() string {
	v := d.doc.Get(d.spec.year)
	return extractYear(v)
}

func (d *genericDriver) GetPageCount() string {
	v := d.doc.Get(d.spec.pageCount)
	return extractPageCount(v)
}

func (d *genericDriver) GetSeriesISSN() string {
	return d.doc.Get(d.spec.seriesISSN)
}

func (d *genericDriver) GetSeriesNumbering() string {
	return d.doc.Get(d.spec.seriesNumbering)
}

func (d *genericDriver) ToSolrArray() map[string]any {
	out := map[string]any{
		"id":               d.ID(),
		"record_format":    d.format,
		"title":            d.GetTitle(false),
		"title_sort":       d.GetTitle(true),
		"author":           d.GetMainAuthor(),
		"isbn":             d.GetISBNs(),
		"issn":             d.GetISSNs(),
		"format":           d.GetFormat(),
		"publish_year":     d.GetPublicationYear(),
		"page_count":       d.GetPageCount(),
		"series_issn":      d.GetSeriesISSN(),
		"series_numbering": d.GetSeriesNumbering(),
	}
	if host := d.GetHostRecordID(); host != "" {
		out["host_record_id"] = host
	}
	return out
}

func (d *genericDriver) MergeComponentParts(components []Driver) int {
	if len(components) == 0 {
		return 0
	}
	sorted := orderComponents(d.ID(), components)

	titles := make([]string, 0, len(sorted))
	authors := make([]string, 0, len(sorted))
	for _, c := range sorted {
		if t := c.GetTitle(false); t != "" {
			titles = append(titles, t)
		}
		if a := c.GetMainAuthor(); a != "" {
			authors = append(authors, a)
		}
	}
	d.doc.Elements["component_title"] = stringsToElements(titles)
	d.doc.Elements["component_author"] = stringsToElements(authors)
	return len(sorted)
}

// orderComponents sorts component-part drivers by their Orderer
// implementation when present, otherwise by the trailing numeric suffix of
// their own id (spec §9, resolved in SPEC_FULL.md). hostID is not used.
func orderComponents(hostID string, components []Driver) []Driver {
	sorted := make([]Driver, len(components))
	copy(sorted, components)

	key := func(c Driver) int {
		if orderer, ok := c.(Orderer); ok {
			return orderer.Order()
		}
		return numericSuffix(c.ID())
	}

	for i := 1; i < len(sorted); i++ {
		j := i
		for j > 0 && key(sorted[j-1]) > key(sorted[j]) {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
			j--
		}
	}
	return sorted
}

var suffixRe = regexp.MustCompile(`(\d+)$`)

func numericSuffix(id string) int {
	m := suffixRe.FindString(id)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

func stringsToElements(vals []string) []Element {
	out := make([]Element, len(vals))
	for i, v := range vals {
		out[i] = Element{Text: v}
	}
	return out
}

var wsRe = regexp.MustCompile(`\s+`)

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}

var filingArticles = []string{"the ", "a ", "an "}

func stripFilingArticle(title string) string {
	lower := strings.ToLower(strings.TrimSpace(title))
	for _, article := range filingArticles {
		if strings.HasPrefix(lower, article) {
			return strings.TrimSpace(title[len(article):])
		}
	}
	return title
}

var nonDigitRe = regexp.MustCompile(`[^0-9Xx]`)

func extractDigitISBNs(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		cleaned := nonDigitRe.ReplaceAllString(r, "")
		if len(cleaned) == 10 || len(cleaned) == 13 {
			out = append(out, cleaned)
		}
	}
	return out
}

var yearRe = regexp.MustCompile(`\d{4}`)

func extractYear(raw string) string {
	return yearRe.FindString(raw)
}

var digitsRe = regexp.MustCompile(`\d+`)

func extractPageCount(raw string) string {
	return digitsRe.FindString(raw)
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
