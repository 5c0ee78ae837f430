package harvest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KDK-Alli/RecordManager/internal/store"
)

// DeletionMode selects the reconciliation strategy for sources whose
// protocol doesn't report deletes natively (spec §4.4, datasources.ini's
// `deletions` key).
type DeletionMode string

const (
	DeletionModeNone            DeletionMode = ""
	DeletionModeListIdentifiers DeletionMode = "ListIdentifiers"
	DeletionModeFullReharvest   DeletionMode = "full-reharvest"
)

// ReconcileDeletions runs the deletion sweep appropriate to mode, gated by
// minIntervalDays against the source's "Last Deletion Processing Time"
// state entry. threshold is the timestamp captured before the harvest that
// just completed started running (used by full-reharvest mode); fetched is
// the number of records that harvest run fetched — a full-reharvest sweep
// is skipped when fetched is zero, treated as a likely upstream error
// (spec §4.4).
func (h *Harvester) ReconcileDeletions(ctx context.Context, sourceID string, mode DeletionMode, minIntervalDays int, lister IdentifierLister, threshold time.Time, fetched int) (int, error) {
	if mode == DeletionModeNone {
		return 0, nil
	}

	key := store.StateKeyLastDeletionPoll + sourceID
	if raw, ok, err := h.state.Get(ctx, key); err != nil {
		return 0, fmt.Errorf("harvest: load last deletion poll: %w", err)
	} else if ok {
		last, err := time.Parse(time.RFC3339, raw)
		if err == nil && h.db.Now().Sub(last) < time.Duration(minIntervalDays)*24*time.Hour {
			return 0, nil
		}
	}

	var (
		deleted int
		err     error
	)
	switch mode {
	case DeletionModeListIdentifiers:
		deleted, err = h.reconcileListIdentifiers(ctx, sourceID, lister)
	case DeletionModeFullReharvest:
		if fetched == 0 {
			h.log.Warn("full-reharvest returned zero records, skipping deletion sweep", zap.String("source_id", sourceID))
			return 0, nil
		}
		deleted, err = h.reconcileFullReharvest(ctx, sourceID, threshold)
	default:
		return 0, fmt.Errorf("harvest: unknown deletion mode %q", mode)
	}
	if err != nil {
		return deleted, err
	}

	if err := h.state.Set(ctx, key, h.db.Now().Format(time.RFC3339)); err != nil {
		return deleted, fmt.Errorf("harvest: commit last deletion poll: %w", err)
	}
	return deleted, nil
}

// reconcileListIdentifiers implements spec §4.4's ListIdentifiers mode:
// clear Mark on every live record of the source, set Mark on every id the
// listing reports, then soft-delete whatever is left unmarked.
func (h *Harvester) reconcileListIdentifiers(ctx context.Context, sourceID string, lister IdentifierLister) (int, error) {
	if lister == nil {
		return 0, fmt.Errorf("harvest: source %q configured for ListIdentifiers but its fetcher does not support it", sourceID)
	}

	falseVal := false
	if _, err := h.records.UpdateMany(ctx, store.RecordFilter{SourceID: sourceID, Deleted: &falseVal}, map[string]any{"mark": false}); err != nil {
		return 0, fmt.Errorf("harvest: clear marks: %w", err)
	}

	ids, err := lister.ListIdentifiers(ctx, time.Time{}, h.db.Now())
	if err != nil {
		return 0, fmt.Errorf("harvest: list identifiers: %w", err)
	}

	const batchSize = 500
	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := h.records.MarkSeen(ctx, sourceID, ids[i:end]); err != nil {
			return 0, fmt.Errorf("harvest: mark seen: %w", err)
		}
	}

	unmarked := false
	n, err := h.records.UpdateMany(ctx, store.RecordFilter{SourceID: sourceID, Deleted: &falseVal, Mark: &unmarked}, map[string]any{
		"deleted":       true,
		"update_needed": false,
		"updated":       h.db.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("harvest: mark unmarked deleted: %w", err)
	}
	h.log.Info("ListIdentifiers deletion sweep complete", zap.String("source_id", sourceID), zap.Int64("deleted", n))
	return int(n), nil
}

// reconcileFullReharvest implements spec §4.4's full-reharvest mode: any
// non-deleted record of the source updated before threshold (captured
// before the harvest that just completed started fetching) is marked
// deleted.
func (h *Harvester) reconcileFullReharvest(ctx context.Context, sourceID string, threshold time.Time) (int, error) {
	before := h.db.ToUnix(threshold)
	falseVal := false
	recs, err := h.records.Find(ctx, store.RecordFilter{SourceID: sourceID, Deleted: &falseVal}, store.IterateOptions{})
	if err != nil {
		return 0, fmt.Errorf("harvest: full-reharvest: list records: %w", err)
	}

	deleted := 0
	for _, rec := range recs {
		if h.db.ToUnix(rec.Updated) >= before {
			continue
		}
		if err := h.records.Update(ctx, rec.ID, map[string]any{
			"deleted":       true,
			"update_needed": false,
			"updated":       h.db.Now(),
		}); err != nil {
			return deleted, fmt.Errorf("harvest: full-reharvest: mark deleted %s: %w", rec.ID, err)
		}
		deleted++
	}
	h.log.Info("full-reharvest deletion sweep complete", zap.String("source_id", sourceID), zap.Int("deleted", deleted))
	return deleted, nil
}
