package solr

import (
	"fmt"
	"strings"
	"time"

	"github.com/KDK-Alli/RecordManager/internal/driver"
	"github.com/KDK-Alli/RecordManager/internal/mapper"
	"github.com/KDK-Alli/RecordManager/internal/store"
)

// buildingField is the one hierarchical field this repo maps (spec §4.3,
// §8 scenario 4). Its raw values are handled by applyBuildingHierarchy
// instead of the generic element-wise ApplyFieldMapper pass.
const buildingField = "building"

// SourceDefaults carries the per-source document defaults spec §4.7 step 3
// sets on every document: default institution/collection, and the fields
// controlling component-part folding and building-hierarchy explosion.
type SourceDefaults struct {
	Institution                string
	Collection                 string
	ComponentPartsField        string // not read: BuildDocument folds every component part it is given
	BuildingHierarchy          bool
	PrependParentTitleWithUnitID bool
}

// buildDriver constructs a Driver over a record's best-available payload
// (normalized if present, else original — spec §4.5 step 4's space
// optimization means NormalizedData can be empty even though normalization
// ran).
func buildDriver(rec *store.Record) (driver.Driver, error) {
	data := rec.NormalizedData
	if data == "" {
		data = rec.OriginalData
	}
	d, err := driver.New(rec.Format, []byte(data), rec.OAIID, rec.SourceID)
	if err != nil {
		return nil, fmt.Errorf("solr: build driver for %s: %w", rec.ID, err)
	}
	return d, nil
}

// BuildDocument implements spec §4.7 step 3's per-plain-record path: build
// the driver's document, fold in component parts if this record is a host,
// apply standard fields. Field Mapper and enrichment are applied by the
// caller (pipeline.go), since they need config this function doesn't carry.
func BuildDocument(rec *store.Record, components []driver.Driver, defaults SourceDefaults, now time.Time) (map[string]any, error) {
	d, err := buildDriver(rec)
	if err != nil {
		return nil, err
	}
	if len(components) > 0 {
		d.MergeComponentParts(components)
	}

	doc := d.ToSolrArray()
	setStandardFields(doc, rec.ID, defaults, now)
	return doc, nil
}

// BuildGroupDocument implements spec §4.7 step 3's live-Group path: load
// every member record's document and combine them — union of multi-valued
// fields, first-non-empty for single-valued — prefixed by the Group id,
// with merged_boolean=true.
func BuildGroupDocument(groupID string, memberDocs []map[string]any, defaults SourceDefaults, now time.Time) map[string]any {
	combined := map[string]any{}
	for _, doc := range memberDocs {
		for field, value := range doc {
			switch v := value.(type) {
			case []string:
				existing, _ := combined[field].([]string)
				combined[field] = unionStrings(existing, v)
			default:
				if _, ok := combined[field]; !ok {
					combined[field] = value
				}
			}
		}
	}
	combined["merged_boolean"] = true
	setStandardFields(combined, groupID, defaults, now)
	return combined
}

func setStandardFields(doc map[string]any, id string, defaults SourceDefaults, now time.Time) {
	doc["id"] = id
	if _, ok := doc["first_indexed"]; !ok {
		doc["first_indexed"] = now.UTC().Format(time.RFC3339)
	}
	doc["last_indexed"] = now.UTC().Format(time.RFC3339)
	if _, ok := doc["recordtype"]; !ok {
		doc["recordtype"] = "solr"
	}
	if isEmptyField(doc["institution"]) && defaults.Institution != "" {
		doc["institution"] = defaults.Institution
	}
	if isEmptyField(doc["collection"]) && defaults.Collection != "" {
		doc["collection"] = defaults.Collection
	}
}

// explodeBuildingHierarchy implements spec §8 scenario 4's building
// expansion: a mapped hierarchical value like ["A", "A/2"] becomes
// ["0/Inst", "1/Inst/A", "2/Inst/A/2"].
func explodeBuildingHierarchy(institution string, levels []string) []string {
	out := make([]string, 0, len(levels)+1)
	out = append(out, fmt.Sprintf("0/%s", institution))
	for i, level := range levels {
		out = append(out, fmt.Sprintf("%d/%s/%s", i+1, institution, level))
	}
	return out
}

// applyBuildingHierarchy implements spec §4.3's hierarchical mapping for
// the building field together with spec §4.7's hierarchy explosion (spec
// §8 scenario 4): each raw value is split on "/" into the levels it
// encodes, mapped level-by-level through the Field Mapper (level-specific
// entries take priority, an unmapped level truncates), unioned across
// every raw value, then exploded into the "N/institution/..." sequence.
func applyBuildingHierarchy(doc map[string]any, m *mapper.Mapper, institution string) error {
	raw, ok := asStringSlice(doc[buildingField])
	if !ok || len(raw) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var mapped []string
	for _, value := range raw {
		levels := strings.Split(value, "/")
		var cumulative []string
		if m != nil {
			var err error
			cumulative, err = m.MapHierarchical(buildingField, levels)
			if err != nil {
				return fmt.Errorf("solr: map building hierarchy: %w", err)
			}
		} else {
			cumulative = cumulativePrefixes(levels)
		}
		for _, v := range cumulative {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			mapped = append(mapped, v)
		}
	}

	doc[buildingField] = explodeBuildingHierarchy(institution, mapped)
	return nil
}

// asStringSlice normalizes a document field's value (either already a
// []string, or a bare string) to a slice for level splitting.
func asStringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, len(t) > 0
	case string:
		return []string{t}, t != ""
	default:
		return nil, false
	}
}

// cumulativePrefixes turns ["A","2"] into ["A","A/2"], the same
// cumulative-prefix join mapper.Mapper.MapHierarchical does, used here
// when no Field Mapper is configured so raw levels still explode.
func cumulativePrefixes(levels []string) []string {
	if len(levels) == 0 {
		return nil
	}
	out := make([]string, len(levels))
	cur := levels[0]
	out[0] = cur
	for i := 1; i < len(levels); i++ {
		cur = cur + "/" + levels[i]
		out[i] = cur
	}
	return out
}

func unionStrings(existing, next []string) []string {
	seen := make(map[string]struct{}, len(existing))
	out := append([]string{}, existing...)
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	for _, v := range next {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func isEmptyField(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	default:
		return false
	}
}

func dropEmptyFields(doc map[string]any) {
	for field, value := range doc {
		if isEmptyField(value) {
			delete(doc, field)
		}
	}
}

// ApplyFieldMapper applies spec §4.3's Field Mapper to every configured
// field of doc except those named in skip, in place. Hierarchical fields
// (building) are excluded by the caller and mapped through
// applyBuildingHierarchy instead, since they need per-level lookups
// MapValues's element-wise application can't express.
func ApplyFieldMapper(doc map[string]any, m *mapper.Mapper, skip ...string) error {
	if m == nil {
		return nil
	}
	skipSet := make(map[string]struct{}, len(skip))
	for _, f := range skip {
		skipSet[f] = struct{}{}
	}
	asStrings := make(map[string][]string, len(doc))
	for field, value := range doc {
		if _, excluded := skipSet[field]; excluded {
			continue
		}
		switch v := value.(type) {
		case []string:
			asStrings[field] = v
		case string:
			asStrings[field] = []string{v}
		}
	}

	mapped, err := m.MapValues(asStrings)
	if err != nil {
		return fmt.Errorf("solr: apply field mapper: %w", err)
	}

	for field, values := range mapped {
		if orig, ok := doc[field]; ok {
			if _, wasString := orig.(string); wasString && len(values) == 1 {
				doc[field] = values[0]
				continue
			}
		}
		doc[field] = values
	}
	return nil
}
