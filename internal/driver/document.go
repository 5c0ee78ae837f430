package driver

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Document is the generic parsed form every driver operates over: a flat
// multimap from XML local element name to the ordered text content and
// attribute values found under that element, plus the original raw bytes for
// Serialize. It is deliberately format-agnostic — it knows nothing about
// MARC fields/subfields or Dublin Core semantics, only "this tag occurred
// with this text and these attributes", leaving format interpretation to
// each driver.
type Document struct {
	Raw      []byte
	Root     string
	Elements map[string][]Element
}

// Element is one occurrence of a tag in the source document.
type Element struct {
	Text  string
	Attrs map[string]string
}

// Get returns the text of the first occurrence of tag, or "" if absent.
func (d *Document) Get(tag string) string {
	if els := d.Elements[tag]; len(els) > 0 {
		return els[0].Text
	}
	return ""
}

// GetAll returns the text of every occurrence of tag, in document order.
// Occurrences with empty text are left out.
func (d *Document) GetAll(tag string) []string {
	els := d.Elements[tag]
	out := make([]string, 0, len(els))
	for _, el := range els {
		if el.Text != "" {
			out = append(out, el.Text)
		}
	}
	return out
}

// GetAttr returns the named attribute of the first occurrence of tag.
func (d *Document) GetAttr(tag, attr string) string {
	if els := d.Elements[tag]; len(els) > 0 {
		return els[0].Attrs[attr]
	}
	return ""
}

// ParseDocument walks raw as XML, collecting every element's text content
// and attributes into a Document. Malformed XML is tolerated up to the point
// of failure: io.EOF / io.ErrUnexpectedEOF from a truncated document yields
// whatever was parsed so far rather than an error, since harvested payloads
// occasionally arrive truncated and the dedup/ingest pipeline still wants
// best-effort fields out of them.
func ParseDocument(raw []byte) (*Document, error) {
	doc := &Document{Raw: raw, Elements: make(map[string][]Element)}

	decoder := xml.NewDecoder(bytes.NewReader(raw))
	decoder.Strict = false

	var stack []string
	var textBuf strings.Builder
	var pendingAttrs map[string]string

	flush := func() {
		if len(stack) == 0 {
			return
		}
		tag := stack[len(stack)-1]
		text := strings.TrimSpace(textBuf.String())
		doc.Elements[tag] = append(doc.Elements[tag], Element{Text: text, Attrs: pendingAttrs})
		textBuf.Reset()
	}

	for {
		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			if doc.Root != "" {
				break
			}
			return nil, fmt.Errorf("driver: xml decode: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if doc.Root == "" {
				doc.Root = t.Name.Local
			}
			attrs := make(map[string]string, len(t.Attr))
			for _, a := range t.Attr {
				attrs[a.Name.Local] = a.Value
			}
			pendingAttrs = attrs
			stack = append(stack, t.Name.Local)
			textBuf.Reset()
		case xml.CharData:
			textBuf.Write(t)
		case xml.EndElement:
			flush()
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	return doc, nil
}
