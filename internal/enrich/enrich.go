// Package enrich implements spec §4.8: per-document enrichment, which the
// Solr pipeline invokes after Field Mapper application and before the
// building hierarchy is exploded and empty fields are dropped. Enrichers may
// mutate the Solr document in place (e.g. adding authority-derived fields
// looked up by URI). The pipeline passes an empty sourceID and a nil driver,
// so enrichers work from doc alone.
package enrich

import (
	"context"

	"github.com/KDK-Alli/RecordManager/internal/driver"
)

// Enricher mutates doc using fields extracted by d for a record of
// sourceID. Implementations that only apply to certain sources/formats
// should no-op rather than error when they don't apply.
type Enricher interface {
	Enrich(ctx context.Context, sourceID string, d driver.Driver, doc map[string]any) error
}

// Chain runs a fixed list of Enrichers in order, stopping at the first
// error (spec §4.8: "on non-ignored non-404 errors, fail the enrichment").
type Chain []Enricher

func (c Chain) Enrich(ctx context.Context, sourceID string, d driver.Driver, doc map[string]any) error {
	for _, e := range c {
		if err := e.Enrich(ctx, sourceID, d, doc); err != nil {
			return err
		}
	}
	return nil
}
