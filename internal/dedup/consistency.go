package dedup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/KDK-Alli/RecordManager/internal/metrics"
	"github.com/KDK-Alli/RecordManager/internal/store"
)

// RepairEntry is one correction applied by CheckConsistency, forming the
// repair log spec §4.6 describes.
type RepairEntry struct {
	GroupID string
	Action  string // "removed_stale_member", "cleared_orphan_dedup_id", "group_deleted"
	Detail  string
}

// CheckConsistency walks every non-deleted Dedup Group and verifies the
// invariants of spec §3/§4.6: every id in G.ids must reference an existing,
// non-deleted record whose dedup_id == G. Violations are repaired in place
// and returned as a log; this never fails the run (spec §7:
// InvariantViolation is "logged and repaired; never fatal").
func (e *Engine) CheckConsistency(ctx context.Context, opts store.IterateOptions) ([]RepairEntry, error) {
	var log []RepairEntry

	err := e.groups.IterateNonDeleted(ctx, opts, func(page []store.DedupGroup) error {
		for i := range page {
			group := page[i]
			entries, err := e.repairGroup(ctx, &group)
			if err != nil {
				e.log.Error("consistency check failed for group", zap.String("group_id", group.ID), zap.Error(err))
				continue
			}
			log = append(log, entries...)
		}
		return nil
	})
	return log, err
}

func (e *Engine) repairGroup(ctx context.Context, group *store.DedupGroup) ([]RepairEntry, error) {
	var entries []RepairEntry
	changed := false

	valid := make([]string, 0, len(group.MemberIDs()))
	for _, id := range group.MemberIDs() {
		rec, err := e.records.Get(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			entries = append(entries, RepairEntry{GroupID: group.ID, Action: "removed_stale_member", Detail: fmt.Sprintf("%s no longer exists", id)})
			changed = true
			metrics.DedupConsistencyViolationsTotal.Inc()
			continue
		case err != nil:
			return entries, err
		}
		if rec.Deleted {
			entries = append(entries, RepairEntry{GroupID: group.ID, Action: "removed_stale_member", Detail: fmt.Sprintf("%s is deleted", id)})
			changed = true
			metrics.DedupConsistencyViolationsTotal.Inc()
			continue
		}
		if rec.DedupID != group.ID {
			entries = append(entries, RepairEntry{GroupID: group.ID, Action: "removed_stale_member", Detail: fmt.Sprintf("%s points to group %q instead", id, rec.DedupID)})
			changed = true
			metrics.DedupConsistencyViolationsTotal.Inc()
			continue
		}
		valid = append(valid, id)
	}

	if changed {
		group.SetMemberIDs(valid)
		group.Updated = e.db.Now()
	}

	distinctSources, err := e.distinctSources(ctx, valid)
	if err != nil {
		return entries, err
	}
	if distinctSources < 2 && !group.Deleted {
		group.Deleted = true
		changed = true
		metrics.DedupGroupsTotal.Dec()
		metrics.DedupConsistencyViolationsTotal.Inc()
		entries = append(entries, RepairEntry{GroupID: group.ID, Action: "group_deleted", Detail: "fewer than two distinct source_ids remain"})
		for _, id := range valid {
			if err := e.records.Update(ctx, id, map[string]any{"dedup_id": "", "update_needed": true}); err != nil {
				return entries, err
			}
			entries = append(entries, RepairEntry{GroupID: group.ID, Action: "cleared_orphan_dedup_id", Detail: id})
		}
	}

	if changed {
		if err := e.groups.Save(ctx, group); err != nil {
			return entries, err
		}
	}

	// Orphan check: records referencing this group from outside its member
	// set shouldn't happen under normal operation but are repaired anyway.
	orphans, err := e.records.Find(ctx, store.RecordFilter{DedupID: group.ID}, store.IterateOptions{})
	if err != nil {
		return entries, err
	}
	members := make(map[string]struct{}, len(valid))
	for _, id := range valid {
		members[id] = struct{}{}
	}
	for _, rec := range orphans {
		if _, ok := members[rec.ID]; ok {
			continue
		}
		if err := e.records.Update(ctx, rec.ID, map[string]any{"dedup_id": "", "update_needed": true}); err != nil {
			return entries, err
		}
		metrics.DedupConsistencyViolationsTotal.Inc()
		entries = append(entries, RepairEntry{GroupID: group.ID, Action: "cleared_orphan_dedup_id", Detail: rec.ID})
	}

	return entries, nil
}
