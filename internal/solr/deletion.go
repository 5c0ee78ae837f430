package solr

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/KDK-Alli/RecordManager/internal/store"
)

// DeleteDataSource implements spec's "deleteDataSource(sourceId)": a Solr
// delete-by-query for every document the source contributed, plus, when
// dedup merging is enabled for it, a pre-pass that rewrites every live Group
// the source participated in so the removed members are dropped from the
// merged document rather than left dangling.
func (p *Pipeline) DeleteDataSource(ctx context.Context, sourceID, idPrefix string, mergingEnabled bool) error {
	if idPrefix == "" {
		idPrefix = sourceID
	}

	if mergingEnabled {
		if err := p.rewriteGroupsAfterSourceRemoval(ctx, sourceID); err != nil {
			return fmt.Errorf("solr: delete data source %s: rewrite merged groups: %w", sourceID, err)
		}
	}

	query := fmt.Sprintf("id:%s.*", idPrefix)
	if err := p.client.DeleteByQuery(ctx, query); err != nil {
		return fmt.Errorf("solr: delete data source %s: %w", sourceID, err)
	}
	return nil
}

// rewriteGroupsAfterSourceRemoval finds every live Group with a member from
// sourceID and re-pushes its merged document built from the group's
// remaining members (or deletes the group document if none remain).
func (p *Pipeline) rewriteGroupsAfterSourceRemoval(ctx context.Context, sourceID string) error {
	now := p.db.Now()
	defaults := SourceDefaults{Institution: p.Site.Institution, Collection: p.Site.Collection, BuildingHierarchy: p.Solr.BuildingHierarchy}

	falseVal := false
	affected := map[string]struct{}{}
	err := p.records.Iterate(ctx, store.RecordFilter{SourceID: sourceID, Deleted: &falseVal}, store.IterateOptions{}, func(page []store.Record) error {
		for _, rec := range page {
			if rec.DedupID != "" {
				affected[rec.DedupID] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for groupID := range affected {
		group, err := p.groups.Get(ctx, groupID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return fmt.Errorf("load group %s: %w", groupID, err)
		}

		doc, isDelete, err := p.buildGroupDocumentExcluding(ctx, group, sourceID, defaults, now)
		if err != nil {
			return fmt.Errorf("rebuild group %s: %w", groupID, err)
		}
		if isDelete {
			if err := p.client.DeleteByID(ctx, groupID); err != nil {
				return fmt.Errorf("delete emptied group %s: %w", groupID, err)
			}
			continue
		}
		if err := p.mapAndEnrich(ctx, doc, defaults); err != nil {
			return fmt.Errorf("rebuild group %s: %w", groupID, err)
		}
		if err := p.client.Add(ctx, []map[string]any{doc}); err != nil {
			return fmt.Errorf("push rebuilt group %s: %w", groupID, err)
		}
	}

	if len(affected) > 0 {
		if err := p.client.Commit(ctx); err != nil {
			return fmt.Errorf("commit rebuilt groups: %w", err)
		}
		p.log.Info("rewrote merged groups ahead of data source deletion", zap.String("source_id", sourceID), zap.Int("groups", len(affected)))
	}
	return nil
}
