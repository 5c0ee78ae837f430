package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/KDK-Alli/RecordManager/internal/mapper"
)

// DataSource describes one harvested source, one [section] per source in
// datasources.ini, per spec.md §6.
type DataSource struct {
	ID     string
	URL    string
	Format string
	// Institution overrides Site.Institution for this source's documents.
	Institution string
	// Type is the harvester driver: "oai-pmh", "sierra", "sfx", "metalib",
	// "metalib_export", or "file" for bulk-file import sources.
	Type string
	// IDPrefix overrides the default "{sourceId}" record-id prefix.
	IDPrefix string

	RecordXPath         string
	OAIIDXPath          string
	ComponentParts      string
	Dedup               bool
	PreTransformation   string
	Normalization       string
	SolrTransformation  string
	RecordSplitter      string
	IndexMergedParts    bool
	NonInheritedFields  []string
	PrependParentTitleWithUnitID bool
	KeepMissingHierarchyMembers  bool
	// Deletions selects the deletion-reconciliation strategy for sources
	// whose harvest protocol does not report deletes natively: "ListIdentifiers"
	// or "full-reharvest". Empty means the protocol reports deletes itself
	// (OAI-PMH/Sierra) and no reconciliation pass is needed.
	Deletions string
	// DeletionsMinInterval gates how often deletion reconciliation may run,
	// in days, in either Deletions mode (§4.4).
	DeletionsMinInterval int

	DriverParams map[string]string
	// FieldMappings maps a Solr field name to its ordered list of mapping
	// files (spec §4.3), parsed lazily by internal/mapper when the pipeline
	// needs it. Each entry in datasources.ini is "filename[:type]", comma
	// separated for fields with more than one mapping file; type defaults
	// to mapper.TypeNormal.
	FieldMappings mapper.FieldConfig

	// ExcludedFromHarvestAll is not set by LoadDataSources or by the CLI;
	// harvest's --exclude flag filters the source id list directly.
	ExcludedFromHarvestAll bool
}

// LoadDataSources parses datasources.ini. Each section is one source; the
// section name is the source id.
func LoadDataSources(path string) (map[string]*DataSource, error) {
	f, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to load %s: %w", path, err)
	}

	sources := make(map[string]*DataSource)

	for _, sec := range f.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}

		ds := &DataSource{
			ID:                 sec.Name(),
			URL:                sec.Key("url").String(),
			Format:             sec.Key("format").String(),
			Institution:        sec.Key("institution").String(),
			Type:               sec.Key("type").MustString("oai-pmh"),
			IDPrefix:           sec.Key("idPrefix").MustString(sec.Name()),
			RecordXPath:        sec.Key("recordXPath").String(),
			OAIIDXPath:         sec.Key("oaiIDXPath").String(),
			ComponentParts:     sec.Key("componentParts").String(),
			Dedup:              sec.Key("dedup").MustBool(false),
			PreTransformation:  sec.Key("preTransformation").String(),
			Normalization:      sec.Key("normalization").String(),
			SolrTransformation: sec.Key("solrTransformation").String(),
			RecordSplitter:     sec.Key("recordSplitter").String(),
			IndexMergedParts:   sec.Key("indexMergedParts").MustBool(false),
			NonInheritedFields: sec.Key("non_inherited_fields").Strings(","),
			PrependParentTitleWithUnitID: sec.Key("prepend_parent_title_with_unitid").MustBool(false),
			KeepMissingHierarchyMembers:  sec.Key("keepMissingHierarchyMembers").MustBool(false),
			Deletions:            sec.Key("deletions").String(),
			DeletionsMinInterval: sec.Key("deletions_min_interval_days").MustInt(1),
			DriverParams:         map[string]string{},
			FieldMappings:        mapper.FieldConfig{},
		}

		for _, key := range sec.Keys() {
			name := key.Name()
			switch {
			case len(name) > len("_mapping") && name[len(name)-len("_mapping"):] == "_mapping":
				field := name[:len(name)-len("_mapping")]
				ds.FieldMappings[field] = parseMappingRefs(key.String())
			case len(name) > len("driverParam.") && name[:len("driverParam.")] == "driverParam.":
				ds.DriverParams[name[len("driverParam."):]] = key.String()
			}
		}

		sources[ds.ID] = ds
	}

	return sources, nil
}

// parseMappingRefs parses a "{field}_mapping" value into its ordered list of
// mapping files (spec §4.3): a comma-separated list of "filename" or
// "filename:type" entries, type one of normal/regexp/regexp-multi and
// defaulting to normal when omitted.
func parseMappingRefs(value string) []mapper.MappingRef {
	parts := strings.Split(value, ",")
	refs := make([]mapper.MappingRef, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		filename, typ, found := strings.Cut(part, ":")
		filename = strings.TrimSpace(filename)
		ref := mapper.MappingRef{Filename: filename, Type: mapper.TypeNormal}
		if found {
			ref.Type = mapper.Type(strings.TrimSpace(typ))
		}
		refs = append(refs, ref)
	}
	return refs
}
