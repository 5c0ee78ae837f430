// Package dedup implements the Dedup Engine of spec §4.6: candidate
// generation via blocking keys, pairwise matching, equivalence-class
// (Dedup Group) maintenance, a background consistency check, and
// component-part co-dedup.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/KDK-Alli/RecordManager/internal/driver"
	"github.com/KDK-Alli/RecordManager/internal/metrics"
	"github.com/KDK-Alli/RecordManager/internal/store"
)

// Config tunes the candidate-search caps of spec §4.6.
type Config struct {
	// CandidateCap is the max candidates a single blocking key may return
	// before it is treated as "too many" and skipped for the rest of the
	// pass. Defaults to 1000.
	CandidateCap int
	// TooManyLRUSize bounds the per-pass "too many" key skip-set. Defaults
	// to 20000.
	TooManyLRUSize int
}

// Engine implements the dedup pass.
type Engine struct {
	records store.RecordRepository
	groups  store.DedupGroupRepository
	db      *store.DB
	log     *zap.Logger

	candidateCap int
	tooMany      *lru.Cache[string, struct{}]
}

// NewEngine constructs a dedup Engine.
func NewEngine(records store.RecordRepository, groups store.DedupGroupRepository, db *store.DB, log *zap.Logger, cfg Config) (*Engine, error) {
	cap := cfg.CandidateCap
	if cap <= 0 {
		cap = 1000
	}
	lruSize := cfg.TooManyLRUSize
	if lruSize <= 0 {
		lruSize = 20000
	}
	tooMany, err := lru.New[string, struct{}](lruSize)
	if err != nil {
		return nil, fmt.Errorf("dedup: create too-many cache: %w", err)
	}
	return &Engine{
		records:      records,
		groups:       groups,
		db:           db,
		log:          log.Named("dedup"),
		candidateCap: cap,
		tooMany:      tooMany,
	}, nil
}

// ProcessDirty runs the dedup pass over every record with update_needed =
// true, non-deleted, non-component, in sourceIDs with dedup enabled.
func (e *Engine) ProcessDirty(ctx context.Context, sourceIDs map[string]bool, opts store.IterateOptions) (int, error) {
	// The "too many" skip set is per pass.
	e.tooMany.Purge()
	updateNeeded := true
	processed := 0

	err := e.records.Iterate(ctx, store.RecordFilter{
		UpdateNeeded:      &updateNeeded,
		HostRecordIDEmpty: true,
	}, opts, func(page []store.Record) error {
		for i := range page {
			rec := page[i]
			if rec.Deleted || !sourceIDs[rec.SourceID] {
				continue
			}
			if err := e.ProcessRecord(ctx, &rec); err != nil {
				e.log.Error("dedup failed for record", zap.String("id", rec.ID), zap.Error(err))
				continue
			}
			processed++
		}
		return nil
	})
	return processed, err
}

// ProcessRecord runs candidate generation, pairwise matching, and group
// maintenance for one dirty record (spec §4.6).
func (e *Engine) ProcessRecord(ctx context.Context, rec *store.Record) error {
	features, err := ExtractFeatures(rec)
	if err != nil {
		return fmt.Errorf("extract features: %w", err)
	}

	candidates, err := e.findCandidates(ctx, rec)
	if err != nil {
		return fmt.Errorf("find candidates: %w", err)
	}

	for _, candidate := range candidates {
		if candidate.ID == rec.ID {
			continue
		}
		candidateFeatures, err := ExtractFeatures(&candidate)
		if err != nil {
			e.log.Warn("skipping candidate with unextractable features", zap.String("id", candidate.ID), zap.Error(err))
			continue
		}
		if !Match(features, candidateFeatures) {
			continue
		}
		metrics.DedupMatchesTotal.WithLabelValues(matchedField(features, candidateFeatures)).Inc()
		matched, err := e.merge(ctx, rec, &candidate)
		if err != nil {
			return fmt.Errorf("merge %s with %s: %w", rec.ID, candidate.ID, err)
		}
		if matched {
			return nil
		}
	}

	// No match: clear any prior group membership and mark clean.
	if rec.DedupID != "" {
		if err := e.detach(ctx, rec); err != nil {
			return fmt.Errorf("detach stale group membership: %w", err)
		}
	}
	return e.records.Update(ctx, rec.ID, map[string]any{"update_needed": false})
}

// findCandidates queries blocking keys in priority order (ISBN first, then
// title), honoring the per-pass "too many" skip set.
func (e *Engine) findCandidates(ctx context.Context, rec *store.Record) ([]store.Record, error) {
	var out []store.Record
	seen := make(map[string]struct{})

	add := func(recs []store.Record) {
		for _, r := range recs {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}

	for _, key := range store.DecodeKeySet(rec.ISBNKeys) {
		recs, err := e.candidatesForKey(ctx, rec, store.RecordFilter{ISBNKey: key})
		if err != nil {
			return nil, err
		}
		add(recs)
	}
	for _, key := range store.DecodeKeySet(rec.TitleKeys) {
		recs, err := e.candidatesForKey(ctx, rec, store.RecordFilter{TitleKey: key})
		if err != nil {
			return nil, err
		}
		add(recs)
	}

	return out, nil
}

func (e *Engine) candidatesForKey(ctx context.Context, rec *store.Record, filter store.RecordFilter) ([]store.Record, error) {
	cacheKey := filter.ISBNKey + "\x00" + filter.TitleKey
	if _, tooMany := e.tooMany.Get(cacheKey); tooMany {
		return nil, nil
	}

	filter.ExcludeSourceID = rec.SourceID
	filter.HostRecordIDEmpty = true
	deleted := false
	filter.Deleted = &deleted

	recs, err := e.records.Find(ctx, filter, store.IterateOptions{PageSize: e.candidateCap + 1})
	if err != nil {
		return nil, err
	}
	if len(recs) > e.candidateCap {
		e.tooMany.Add(cacheKey, struct{}{})
		e.log.Warn("blocking key produced too many candidates, skipping for this pass",
			zap.String("isbn_key", filter.ISBNKey), zap.String("title_key", filter.TitleKey), zap.Int("count", len(recs)))
		return nil, nil
	}
	return recs, nil
}

// merge implements spec §4.6's Group-maintenance "Merge" rule. It returns
// false (without error) if C's existing group already contains another
// record from R's source, meaning the search should continue to the next
// candidate.
func (e *Engine) merge(ctx context.Context, r, c *store.Record) (bool, error) {
	if c.DedupID != "" {
		group, err := e.groups.Get(ctx, c.DedupID)
		if errors.Is(err, store.ErrNotFound) {
			group = nil
		} else if err != nil {
			return false, err
		}
		if group != nil {
			conflict, err := e.groupHasSource(ctx, group, r.SourceID, r.ID)
			if err != nil {
				return false, err
			}
			if conflict {
				return false, nil
			}
			group.AddMember(r.ID)
			group.Changed = true
			group.Updated = e.db.Now()
			if err := e.groups.Save(ctx, group); err != nil {
				return false, err
			}
			return true, e.finalizeMerge(ctx, r, c, group.ID)
		}
	}

	group := &store.DedupGroup{ID: newGroupID(), Updated: e.db.Now(), Changed: true}
	group.SetMemberIDs([]string{r.ID, c.ID})
	if err := e.groups.Save(ctx, group); err != nil {
		return false, err
	}
	metrics.DedupGroupsTotal.Inc()
	return true, e.finalizeMerge(ctx, r, c, group.ID)
}

func (e *Engine) groupHasSource(ctx context.Context, group *store.DedupGroup, sourceID, excludeID string) (bool, error) {
	for _, id := range group.MemberIDs() {
		if id == excludeID {
			continue
		}
		member, err := e.records.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if member.SourceID == sourceID {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) finalizeMerge(ctx context.Context, r, c *store.Record, groupID string) error {
	if err := e.records.Update(ctx, r.ID, map[string]any{"dedup_id": groupID, "update_needed": false}); err != nil {
		return err
	}
	if c.DedupID != groupID || c.UpdateNeeded {
		if err := e.records.Update(ctx, c.ID, map[string]any{"dedup_id": groupID, "update_needed": false}); err != nil {
			return err
		}
	}
	return e.coDedupComponentParts(ctx, r, c, groupID)
}

// detach implements spec §4.6's "Split/detach" rule for a record whose
// previously-assigned group no longer fits.
func (e *Engine) detach(ctx context.Context, rec *store.Record) error {
	group, err := e.groups.Get(ctx, rec.DedupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	wasDeleted := group.Deleted
	group.RemoveMember(rec.ID)
	group.Updated = e.db.Now()

	remaining := group.MemberIDs()
	distinctSources, err := e.distinctSources(ctx, remaining)
	if err != nil {
		return err
	}
	if distinctSources < 2 {
		group.Deleted = true
	}
	if group.Deleted && !wasDeleted {
		metrics.DedupGroupsTotal.Dec()
	}
	if err := e.groups.Save(ctx, group); err != nil {
		return err
	}
	for _, id := range remaining {
		set := map[string]any{"update_needed": true}
		if group.Deleted {
			set["dedup_id"] = ""
		}
		if err := e.records.Update(ctx, id, set); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) distinctSources(ctx context.Context, ids []string) (int, error) {
	sources := make(map[string]struct{})
	for _, id := range ids {
		rec, err := e.records.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		sources[rec.SourceID] = struct{}{}
	}
	return len(sources), nil
}

// coDedupComponentParts implements spec §4.6's component-part co-dedup: when
// host r is merged with host c, their component parts are matched in stable
// order and grouped only if the full sequences align.
func (e *Engine) coDedupComponentParts(ctx context.Context, r, c *store.Record, groupID string) error {
	rComponents, err := e.componentsOf(ctx, r.ID)
	if err != nil {
		return err
	}
	cComponents, err := e.componentsOf(ctx, c.ID)
	if err != nil {
		return err
	}
	if len(rComponents) == 0 || len(cComponents) == 0 || len(rComponents) != len(cComponents) {
		return nil // partial alignment leaves component parts unduplicated
	}

	rOrdered := orderBySuffix(rComponents)
	cOrdered := orderBySuffix(cComponents)

	for i := range rOrdered {
		rf, err := ExtractFeatures(&rOrdered[i])
		if err != nil {
			return err
		}
		cf, err := ExtractFeatures(&cOrdered[i])
		if err != nil {
			return err
		}
		if !Match(rf, cf) {
			return nil // sequences don't align pairwise; leave ungrouped
		}
	}

	for i := range rOrdered {
		if _, err := e.merge(ctx, &rOrdered[i], &cOrdered[i]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) componentsOf(ctx context.Context, hostID string) ([]store.Record, error) {
	deleted := false
	return e.records.Find(ctx, store.RecordFilter{HostRecordID: hostID, Deleted: &deleted}, store.IterateOptions{})
}

// orderBySuffix orders component-part records for co-dedup alignment (spec
// §4.6, §9). A component's driver.Orderer implementation, if any, takes
// priority over the numeric-suffix-of-id heuristic.
func orderBySuffix(recs []store.Record) []store.Record {
	sorted := make([]store.Record, len(recs))
	copy(sorted, recs)

	key := func(rec store.Record) int {
		payload := rec.NormalizedData
		if payload == "" {
			payload = rec.OriginalData
		}
		d, err := driver.New(rec.Format, []byte(payload), rec.OAIID, rec.SourceID)
		if err != nil {
			return numericSuffix(rec.ID)
		}
		if orderer, ok := d.(driver.Orderer); ok {
			return orderer.Order()
		}
		return numericSuffix(rec.ID)
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

func numericSuffix(id string) int {
	n := 0
	multiplier := 1
	i := len(id) - 1
	found := false
	for i >= 0 && id[i] >= '0' && id[i] <= '9' {
		n += int(id[i]-'0') * multiplier
		multiplier *= 10
		found = true
		i--
	}
	if !found {
		return 0
	}
	return n
}

func newGroupID() string {
	return uuid.NewString()
}
