// Package ingest implements the storeRecord entry point of spec §4.5:
// splitting, driver normalization, upsert, and blocking-key maintenance for
// incoming harvested or imported payloads.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KDK-Alli/RecordManager/internal/driver"
	"github.com/KDK-Alli/RecordManager/internal/metrics"
	"github.com/KDK-Alli/RecordManager/internal/store"
)

// ErrEmptyID is returned when neither the driver nor the harvester produced
// an identifier for a payload (spec §4.5 step 5, §7).
var ErrEmptyID = errors.New("ingest: empty id")

// Splitter divides one harvested payload into zero or more sub-payloads
// (spec §4.5 step 2: "a record splitter ... XSLT stylesheet or a named
// plugin"). Real XSLT execution is out of scope (spec §1); callers that need
// it supply their own Splitter implementation.
type Splitter interface {
	Split(payload []byte) ([][]byte, error)
}

// PreTransformer applies a source's optional pre-transformation to a
// sub-payload before a driver is constructed from it (spec §4.5 step 4).
type PreTransformer interface {
	Transform(payload []byte) ([]byte, error)
}

// SourceConfig carries the per-source settings storeRecord needs.
type SourceConfig struct {
	ID                          string
	IDPrefix                    string
	Format                      string
	DedupEnabled                bool
	Splitter                    Splitter
	PreTransform                PreTransformer
	KeepMissingHierarchyMembers bool
}

// Ingester implements storeRecord against a Record Store.
type Ingester struct {
	records store.RecordRepository
	dedup   store.DedupGroupRepository
	db      *store.DB
	log     *zap.Logger
}

// New returns an Ingester backed by the given repositories.
func New(records store.RecordRepository, dedup store.DedupGroupRepository, db *store.DB, log *zap.Logger) *Ingester {
	return &Ingester{records: records, dedup: dedup, db: db, log: log.Named("ingest")}
}

// StoreRecord implements spec §4.5's storeRecord(sourceId, oaiId, deleted,
// payload) entry point, returning the number of records affected.
func (ig *Ingester) StoreRecord(ctx context.Context, cfg SourceConfig, oaiID string, deleted bool, payload []byte) (int, error) {
	// Step 1: deletion by oai_id short-circuits everything else.
	if deleted && oaiID != "" {
		n, err := ig.deleteByOAIID(ctx, cfg.ID, oaiID)
		if err != nil {
			metrics.IngestErrorsTotal.WithLabelValues(cfg.ID).Inc()
			return n, err
		}
		metrics.IngestRecordsStoredTotal.WithLabelValues(cfg.ID).Add(float64(n))
		return n, nil
	}

	// Step 2: optional splitter.
	payloads, err := ig.split(cfg, payload)
	if err != nil {
		metrics.IngestErrorsTotal.WithLabelValues(cfg.ID).Inc()
		return 0, fmt.Errorf("ingest: split: %w", err)
	}

	// Step 3: capture startTime before writing any sub-record, used to
	// tombstone vanished hierarchy members in step 8.
	startTime := ig.db.Now()

	var mainID string
	affected := 0
	for i, sub := range payloads {
		id, err := ig.storeOne(ctx, cfg, oaiID, sub, mainID, startTime)
		if err != nil {
			metrics.IngestErrorsTotal.WithLabelValues(cfg.ID).Inc()
			return affected, fmt.Errorf("ingest: sub-payload %d: %w", i, err)
		}
		if i == 0 {
			mainID = id
		}
		affected++
		metrics.IngestRecordsStoredTotal.WithLabelValues(cfg.ID).Inc()
	}

	if len(payloads) > 1 && !cfg.KeepMissingHierarchyMembers {
		if err := ig.tombstoneVanishedMembers(ctx, mainID, startTime); err != nil {
			return affected, fmt.Errorf("ingest: tombstone vanished members: %w", err)
		}
	}

	return affected, nil
}

func (ig *Ingester) split(cfg SourceConfig, payload []byte) ([][]byte, error) {
	if cfg.Splitter == nil {
		return [][]byte{payload}, nil
	}
	return cfg.Splitter.Split(payload)
}

func (ig *Ingester) deleteByOAIID(ctx context.Context, sourceID, oaiID string) (int, error) {
	recs, err := ig.records.Find(ctx, store.RecordFilter{SourceID: sourceID, OAIID: oaiID}, store.IterateOptions{})
	if err != nil {
		return 0, fmt.Errorf("ingest: find records to delete: %w", err)
	}

	count := 0
	for _, rec := range recs {
		if rec.DedupID != "" {
			if err := ig.detachFromGroup(ctx, &rec); err != nil {
				return count, fmt.Errorf("ingest: detach %s: %w", rec.ID, err)
			}
		}
		set := map[string]any{
			"deleted":       true,
			"update_needed": false,
			"dedup_id":      "",
			"updated":       ig.db.Now(),
		}
		if err := ig.records.Update(ctx, rec.ID, set); err != nil {
			return count, fmt.Errorf("ingest: mark deleted %s: %w", rec.ID, err)
		}
		count++
	}
	return count, nil
}

// detachFromGroup implements the Group-maintenance "split/detach" rule of
// spec §4.6 when a member record is deleted out from under its group.
func (ig *Ingester) detachFromGroup(ctx context.Context, rec *store.Record) error {
	group, err := ig.dedup.Get(ctx, rec.DedupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	group.RemoveMember(rec.ID)
	group.Updated = ig.db.Now()

	distinctSources, err := ig.distinctSourcesInGroup(ctx, group)
	if err != nil {
		return err
	}
	if distinctSources < 2 {
		group.Deleted = true
	}
	if err := ig.dedup.Save(ctx, group); err != nil {
		return err
	}

	for _, memberID := range group.MemberIDs() {
		if memberID == rec.ID {
			continue
		}
		set := map[string]any{"update_needed": true}
		if group.Deleted {
			set["dedup_id"] = ""
		}
		if err := ig.records.Update(ctx, memberID, set); err != nil {
			return err
		}
	}
	return nil
}

func (ig *Ingester) distinctSourcesInGroup(ctx context.Context, group *store.DedupGroup) (int, error) {
	sources := make(map[string]struct{})
	for _, id := range group.MemberIDs() {
		rec, err := ig.records.Get(ctx, id)
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

func (ig *Ingester) storeOne(ctx context.Context, cfg SourceConfig, oaiID string, payload []byte, mainID string, startTime time.Time) (string, error) {
	if cfg.PreTransform != nil {
		transformed, err := cfg.PreTransform.Transform(payload)
		if err != nil {
			return "", fmt.Errorf("pre-transform: %w", err)
		}
		payload = transformed
	}

	unnormalized, err := driver.New(cfg.Format, payload, oaiID, cfg.ID)
	if err != nil {
		return "", err
	}
	originalData, err := unnormalized.Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize original: %w", err)
	}

	normalized, err := driver.New(cfg.Format, payload, oaiID, cfg.ID)
	if err != nil {
		return "", err
	}
	normalized.Normalize()
	normalizedData, err := normalized.Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize normalized: %w", err)
	}
	if normalizedData == originalData {
		normalizedData = "" // space optimization, spec §4.5 step 4
	}

	localID := normalized.ID()
	if localID == "" {
		localID = oaiID
	}
	if localID == "" {
		return "", ErrEmptyID
	}
	id := cfg.IDPrefix + "." + localID

	now := ig.db.Now()
	existing, err := ig.records.Get(ctx, id)
	isNew := errors.Is(err, store.ErrNotFound)
	if err != nil && !isNew {
		return "", fmt.Errorf("lookup existing record: %w", err)
	}

	// host_record_id holds the host's record id, in the same
	// "{prefix}.{localId}" form as id, since that is what the host is
	// marked dirty by below and what component parts are looked up by.
	hostID := normalized.GetHostRecordID()
	if hostID != "" {
		hostID = cfg.IDPrefix + "." + hostID
	}

	rec := &store.Record{
		ID:             id,
		SourceID:       cfg.ID,
		OAIID:          oaiID,
		Format:         cfg.Format,
		OriginalData:   originalData,
		NormalizedData: normalizedData,
		LinkingID:      normalized.GetLinkingID(),
		HostRecordID:   hostID,
		Updated:        now,
		Date:           now,
	}
	if isNew {
		rec.Created = now
	} else {
		rec.Created = existing.Created
		rec.DedupID = existing.DedupID
	}
	if mainID != "" {
		rec.MainID = mainID
	}

	changed := isNew || existing.NormalizedData != normalizedData || existing.OriginalData != originalData

	ig.wireDedupFields(rec, normalized, existing, isNew, changed, cfg.DedupEnabled)

	if err := ig.records.Save(ctx, rec); err != nil {
		return "", fmt.Errorf("save record: %w", err)
	}

	if rec.HostRecordID != "" {
		// Per spec §9's resolution of the "$hostId vs $hostID" ambiguity:
		// always mark the host dirty rather than guessing a narrower rule.
		if err := ig.records.Update(ctx, rec.HostRecordID, map[string]any{"update_needed": true}); err != nil {
			ig.log.Warn("failed to mark host dirty", zap.String("host_id", rec.HostRecordID), zap.Error(err))
		}
	}

	return id, nil
}

// wireDedupFields implements spec §4.5 step 7.
func (ig *Ingester) wireDedupFields(rec *store.Record, d driver.Driver, existing *store.Record, isNew, changed, dedupEnabled bool) {
	isComponentPart := rec.HostRecordID != ""

	if !dedupEnabled || isComponentPart {
		rec.TitleKeys = ""
		rec.ISBNKeys = ""
		rec.IDKeys = ""
		rec.DedupID = ""
		rec.UpdateNeeded = false
		return
	}

	titleKey := driver.TitleKey(d.GetTitle(true))
	isbnKeys := make([]string, 0, len(d.GetISBNs()))
	for _, raw := range d.GetISBNs() {
		isbnKeys = append(isbnKeys, NormalizeISBN(raw))
	}

	newTitleKeys := store.EncodeKeySet(nonEmpty(titleKey))
	newISBNKeys := store.EncodeKeySet(isbnKeys)

	keysChanged := isNew || existing.TitleKeys != newTitleKeys || existing.ISBNKeys != newISBNKeys

	rec.TitleKeys = newTitleKeys
	rec.ISBNKeys = newISBNKeys
	rec.UpdateNeeded = keysChanged || changed
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// tombstoneVanishedMembers implements spec §4.5 step 8: after a multi-part
// ingest, soft-delete any record sharing mainID that wasn't touched by this
// run (updated < startTime).
func (ig *Ingester) tombstoneVanishedMembers(ctx context.Context, mainID string, startTime time.Time) error {
	if mainID == "" {
		return nil
	}
	before := ig.db.ToUnix(startTime)
	recs, err := ig.records.Find(ctx, store.RecordFilter{MainID: mainID}, store.IterateOptions{})
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if ig.db.ToUnix(rec.Updated) >= before {
			continue
		}
		if err := ig.records.Update(ctx, rec.ID, map[string]any{
			"deleted":       true,
			"update_needed": false,
			"updated":       ig.db.Now(),
		}); err != nil {
			return err
		}
	}
	return nil
}
