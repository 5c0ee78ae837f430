package mapper

import (
	"fmt"
	"os"
	"path/filepath"
)

// MappingRef names one entry in a field's ordered mapping-file list.
type MappingRef struct {
	Filename string
	Type     Type
}

// FieldConfig is the per-source configuration of spec §4.3: field name ->
// ordered list of mapping file references.
type FieldConfig map[string][]MappingRef

// Mapper applies a source's FieldConfig to parsed documents. Mapping files
// are loaded once and cached by filename so multiple fields referencing the
// same file (or repeated calls to MapValues) don't re-parse it.
type Mapper struct {
	fields   FieldConfig
	mappings map[string]*Mapping
}

// Load parses every mapping file referenced by cfg, resolving relative
// filenames under dir, and returns a ready-to-use Mapper.
func Load(dir string, cfg FieldConfig) (*Mapper, error) {
	m := &Mapper{
		fields:   cfg,
		mappings: make(map[string]*Mapping),
	}

	for field, refs := range cfg {
		for _, ref := range refs {
			if _, ok := m.mappings[ref.Filename]; ok {
				continue
			}
			path := ref.Filename
			if !filepath.IsAbs(path) {
				path = filepath.Join(dir, path)
			}
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("mapper: load field %q mapping %q: %w", field, ref.Filename, err)
			}
			parsed, err := ParseMapping(f, ref.Type)
			closeErr := f.Close()
			if err != nil {
				return nil, fmt.Errorf("mapper: parse field %q mapping %q: %w", field, ref.Filename, err)
			}
			if closeErr != nil {
				return nil, fmt.Errorf("mapper: close field %q mapping %q: %w", field, ref.Filename, closeErr)
			}
			m.mappings[ref.Filename] = parsed
		}
	}
	return m, nil
}

// hierarchySep joins mapped hierarchy levels in the output (spec §4.3).
const hierarchySep = "/"

// MapValues applies the configured field mappings to doc, a generic field
// name -> ordered value-list document (e.g. driver.Document.Elements
// flattened to []string, or a hierarchical level sequence for fields that
// represent one). Only fields present in both the Mapper's config and doc
// are mapped; every other field of doc is copied to the result unchanged.
func (m *Mapper) MapValues(doc map[string][]string) (map[string][]string, error) {
	out := make(map[string][]string, len(doc))
	for field, values := range doc {
		refs, configured := m.fields[field]
		if !configured {
			out[field] = values
			continue
		}

		mapped := values
		for _, ref := range refs {
			mapping, ok := m.mappings[ref.Filename]
			if !ok {
				return nil, fmt.Errorf("mapper: field %q references unloaded mapping %q", field, ref.Filename)
			}
			mapped = applyToValues(mapping, mapped)
		}
		out[field] = mapped
	}
	return out, nil
}

// MapHierarchical maps an ordered sequence of hierarchy levels through a
// single mapping, per spec §4.3: each level is looked up independently
// (level-specific "index:value" entries take priority over a plain "value"
// entry), an empty or unmapped level truncates the hierarchy, and the
// result is the cumulative-prefix multivalue spec §8 scenario 4 describes:
// levels ["A1","2"] mapped to "A","2" yield ["A","A/2"], not a single
// joined string.
func (m *Mapper) MapHierarchical(field string, levels []string) ([]string, error) {
	refs, configured := m.fields[field]
	if !configured || len(refs) == 0 {
		return cumulativePrefixes(levels), nil
	}
	mapping, ok := m.mappings[refs[0].Filename]
	if !ok {
		return nil, fmt.Errorf("mapper: field %q references unloaded mapping %q", field, refs[0].Filename)
	}

	var mappedLevels []string
	for i, level := range levels {
		result, ok := mapping.applyOne(level, i)
		if !ok || len(result) == 0 || result[0] == "" {
			break
		}
		mappedLevels = append(mappedLevels, result[0])
	}
	return cumulativePrefixes(mappedLevels), nil
}

// cumulativePrefixes turns ["A","2"] into ["A","A/2"]: the path through
// each level up to and including it.
func cumulativePrefixes(levels []string) []string {
	if len(levels) == 0 {
		return nil
	}
	out := make([]string, len(levels))
	cur := levels[0]
	out[0] = cur
	for i := 1; i < len(levels); i++ {
		cur = cur + hierarchySep + levels[i]
		out[i] = cur
	}
	return out
}

// applyToValues maps every element of values through mapping, de-duplicating
// the combined result while preserving first-seen order (spec §4.3: "Array
// values map element-wise and are de-duplicated preserving first-seen
// order").
func applyToValues(mapping *Mapping, values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	add := func(v string) {
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	if len(values) == 0 {
		if result, ok := mapping.applyOne("", -1); ok {
			for _, v := range result {
				add(v)
			}
		}
		return out
	}

	for _, v := range values {
		result, ok := mapping.applyOne(v, -1)
		if !ok {
			add(v)
			continue
		}
		for _, r := range result {
			add(r)
		}
	}
	return out
}
