package solr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/KDK-Alli/RecordManager/internal/config"
	"github.com/KDK-Alli/RecordManager/internal/driver"
	"github.com/KDK-Alli/RecordManager/internal/enrich"
	"github.com/KDK-Alli/RecordManager/internal/mapper"
	"github.com/KDK-Alli/RecordManager/internal/metrics"
	"github.com/KDK-Alli/RecordManager/internal/notify"
	"github.com/KDK-Alli/RecordManager/internal/store"
)

// RunOptions carries the `updatesolr` manage verb's parameters (spec §4.7,
// §6). Compare, when non-empty, is the file diffs are written to instead of
// posting; DumpPrefix, when non-empty, is the path prefix batches are
// written under instead of posting.
type RunOptions struct {
	SourceID   string
	FromDate   *time.Time
	SingleID   string
	NoCommit   bool
	Compare    string
	DumpPrefix string
}

// Pipeline implements the Merge & Solr Update Pipeline (spec §4.7).
type Pipeline struct {
	records  store.RecordRepository
	groups   store.DedupGroupRepository
	queues   store.QueueRepository
	state    store.StateRepository
	db       *store.DB
	client   *Client
	mapper   *mapper.Mapper
	enricher enrich.Enricher
	notifier notify.Notifier
	log      *zap.Logger

	Solr config.Solr
	Site config.Site
}

// New builds a Pipeline wired to the given repositories and endpoint.
func New(records store.RecordRepository, groups store.DedupGroupRepository, queues store.QueueRepository, state store.StateRepository, db *store.DB, client *Client, m *mapper.Mapper, enricher enrich.Enricher, notifier notify.Notifier, log *zap.Logger, solrCfg config.Solr, site config.Site) *Pipeline {
	return &Pipeline{
		records: records, groups: groups, queues: queues, state: state, db: db,
		client: client, mapper: m, enricher: enricher, notifier: notifier,
		log: log.Named("solr"), Solr: solrCfg, Site: site,
	}
}

// Run executes one pass of the pipeline for a single source or all sources
// (opts.SourceID == "" means all), implementing spec §4.7 steps 1-5.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) error {
	sourceLabel := opts.SourceID
	if sourceLabel == "" {
		sourceLabel = "(all)"
	}

	fromDate, err := p.resolveFromDate(ctx, opts)
	if err != nil {
		return err
	}
	preScanTimestamp := p.db.Now()

	queueName, err := p.buildOrReuseQueue(ctx, opts, fromDate)
	if err != nil {
		metrics.SolrUpdateRunsTotal.WithLabelValues(sourceLabel, "failed").Inc()
		if notifyErr := p.notifier.SolrUpdateFailed(ctx, "(build)", err); notifyErr != nil {
			p.log.Warn("failed to notify operator of solr update failure", zap.Error(notifyErr))
		}
		return err
	}

	if err := p.deliver(ctx, sourceLabel, queueName, opts); err != nil {
		metrics.SolrUpdateRunsTotal.WithLabelValues(sourceLabel, "failed").Inc()
		if notifyErr := p.notifier.SolrUpdateFailed(ctx, queueName, err); notifyErr != nil {
			p.log.Warn("failed to notify operator of solr update failure", zap.Error(notifyErr))
		}
		return err
	}

	// Step 5: only on clean completion is the checkpoint advanced.
	if opts.SourceID != "" && opts.Compare == "" && opts.DumpPrefix == "" {
		if err := p.state.Set(ctx, store.StateKeyLastIndexUpdate+opts.SourceID, preScanTimestamp.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("solr: commit last index update: %w", err)
		}
	}
	metrics.SolrUpdateRunsTotal.WithLabelValues(sourceLabel, "ok").Inc()
	return nil
}

func (p *Pipeline) resolveFromDate(ctx context.Context, opts RunOptions) (time.Time, error) {
	if opts.FromDate != nil {
		return *opts.FromDate, nil
	}
	if opts.SourceID == "" {
		return time.Time{}, nil
	}
	raw, ok, err := p.state.Get(ctx, store.StateKeyLastIndexUpdate+opts.SourceID)
	if err != nil {
		return time.Time{}, fmt.Errorf("solr: load last index update: %w", err)
	}
	if !ok {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("solr: parse last index update %q: %w", raw, err)
	}
	return t, nil
}

// buildOrReuseQueue implements spec §4.7 steps 1-2.
func (p *Pipeline) buildOrReuseQueue(ctx context.Context, opts RunOptions, fromDate time.Time) (string, error) {
	paramHash := store.QueueParamHash(opts.SourceID, fromDate.Format(time.RFC3339), opts.DumpPrefix, false)
	now := p.db.Now()

	if existing, err := p.queues.FindReusable(ctx, paramHash, now); err == nil {
		p.log.Info("reusing finalized queue from a previous run", zap.String("queue", existing.Name))
		metrics.QueueReuseTotal.Inc()
		return existing.Name, nil
	}

	tmpName := fmt.Sprintf("tmp_mr_record_%s_%d", paramHash, now.UnixNano())
	lastRecordTime := now
	if _, err := p.queues.NewQueue(ctx, tmpName, paramHash, fromDate, lastRecordTime); err != nil {
		return "", fmt.Errorf("solr: create queue: %w", err)
	}

	falseVal := false
	filter := store.RecordFilter{SourceID: opts.SourceID, UpdateNeeded: &falseVal}
	if opts.SingleID != "" {
		filter.MainID = opts.SingleID
	}
	if !fromDate.IsZero() {
		ms := p.db.ToUnix(fromDate)
		filter.UpdatedSince = &ms
	}

	if err := p.records.Iterate(ctx, filter, store.IterateOptions{}, func(page []store.Record) error {
		ids := make([]string, 0, len(page))
		for _, rec := range page {
			canonical := rec.ID
			if rec.DedupID != "" {
				canonical = rec.DedupID
			}
			ids = append(ids, canonical)
		}
		return p.queues.AddItems(ctx, tmpName, ids)
	}); err != nil {
		_ = p.queues.Drop(ctx, tmpName)
		return "", fmt.Errorf("solr: scan records: %w", err)
	}

	if !fromDate.IsZero() {
		groupIDs, err := p.groups.UpdatedSince(ctx, p.db.ToUnix(fromDate))
		if err != nil {
			_ = p.queues.Drop(ctx, tmpName)
			return "", fmt.Errorf("solr: scan updated groups: %w", err)
		}
		if err := p.queues.AddItems(ctx, tmpName, groupIDs); err != nil {
			_ = p.queues.Drop(ctx, tmpName)
			return "", fmt.Errorf("solr: enqueue updated groups: %w", err)
		}
	}

	finalName := fmt.Sprintf("mr_record_%s_%s_%s", paramHash, fromDate.Format("20060102150405"), lastRecordTime.Format("20060102150405"))
	if err := p.queues.Finalize(ctx, tmpName, finalName); err != nil {
		return "", fmt.Errorf("solr: finalize queue: %w", err)
	}
	return finalName, nil
}

// deliver implements spec §4.7 steps 3-4: iterate the queue, build each
// document, batch and flush.
func (p *Pipeline) deliver(ctx context.Context, sourceLabel, queueName string, opts RunOptions) error {
	defaults := SourceDefaults{
		Institution:       p.Site.Institution,
		Collection:        p.Site.Collection,
		BuildingHierarchy: p.Solr.BuildingHierarchy,
	}

	maxRecords := p.Solr.MaxUpdateRecords
	if maxRecords <= 0 {
		maxRecords = 5000
	}
	maxSize := p.Solr.MaxUpdateSize
	if maxSize <= 0 {
		maxSize = 1 << 20
	}
	commitInterval := p.Solr.MaxCommitInterval
	if commitInterval <= 0 {
		commitInterval = 50000
	}

	var (
		batch       []map[string]any
		batchSize   int64
		sinceCommit int
		afterID     string
		dumpBatch   int
	)

	var compareOut *json.Encoder
	if opts.Compare != "" {
		f, err := os.Create(opts.Compare)
		if err != nil {
			return fmt.Errorf("solr: create compare output %s: %w", opts.Compare, err)
		}
		defer f.Close()
		compareOut = json.NewEncoder(f)
	}

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if opts.DumpPrefix != "" {
			if err := writeDumpBatch(opts.DumpPrefix, dumpBatch, batch); err != nil {
				return err
			}
			dumpBatch++
			batch = batch[:0]
			batchSize = 0
			return nil
		}
		batchTimer := metrics.NewTimer()
		if err := p.client.Add(ctx, batch); err != nil {
			return fmt.Errorf("solr: add batch: %w", err)
		}
		batchTimer.ObserveDuration(metrics.SolrBatchDuration)
		metrics.SolrDocumentsIndexedTotal.WithLabelValues(sourceLabel).Add(float64(len(batch)))
		sinceCommit += len(batch)
		batch = batch[:0]
		batchSize = 0
		if !opts.NoCommit && sinceCommit >= commitInterval {
			if err := p.client.Commit(ctx); err != nil {
				return fmt.Errorf("solr: periodic commit: %w", err)
			}
			sinceCommit = 0
		}
		return nil
	}

	now := p.db.Now()
	for {
		ids, err := p.queues.Items(ctx, queueName, afterID, 500)
		if err != nil {
			return fmt.Errorf("solr: read queue: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		afterID = ids[len(ids)-1]

		for _, id := range ids {
			doc, isDelete, err := p.buildCanonicalDocument(ctx, id, defaults, now)
			if err != nil {
				return err
			}
			if isDelete {
				// Compare/dump modes only inspect candidate documents; a
				// delete has nothing to diff or dump, so it is reported
				// the same in both modes: skipped, never sent to Solr.
				if opts.Compare != "" || opts.DumpPrefix != "" {
					continue
				}
				if err := p.client.DeleteByID(ctx, id); err != nil {
					return fmt.Errorf("solr: delete %s: %w", id, err)
				}
				metrics.SolrDocumentsDeletedTotal.WithLabelValues(sourceLabel).Inc()
				continue
			}
			if doc == nil {
				continue
			}
			if err := p.mapAndEnrich(ctx, doc, defaults); err != nil {
				return err
			}

			if compareOut != nil {
				if err := p.compareDocument(ctx, id, doc, compareOut); err != nil {
					return err
				}
				continue
			}

			batch = append(batch, doc)
			batchSize += estimateSize(doc)
			if len(batch) >= maxRecords || batchSize >= maxSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if !opts.NoCommit && opts.Compare == "" && opts.DumpPrefix == "" {
		if err := p.client.Commit(ctx); err != nil {
			return fmt.Errorf("solr: final commit: %w", err)
		}
	}
	return nil
}

// compareDocument implements `compare` mode (spec §4.7): fetch the
// currently-indexed document for id and write only the fields that differ
// to out, instead of posting doc to Solr.
func (p *Pipeline) compareDocument(ctx context.Context, id string, doc map[string]any, out *json.Encoder) error {
	existing, existed, err := p.client.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("solr: compare: fetch %s: %w", id, err)
	}
	diff := diffDocument(doc, existing, existed)
	if len(diff) == 0 {
		return nil
	}
	return out.Encode(map[string]any{"id": id, "diff": diff})
}

// diffDocument returns the fields of built that are new or changed relative
// to existing, plus a nil entry for every field existing had that built
// doesn't. When existed is false the whole document is new.
func diffDocument(built, existing map[string]any, existed bool) map[string]any {
	if !existed {
		return built
	}
	diff := map[string]any{}
	for k, v := range built {
		if ev, ok := existing[k]; !ok || !valuesEqual(v, ev) {
			diff[k] = v
		}
	}
	for k := range existing {
		if _, ok := built[k]; !ok {
			diff[k] = nil
		}
	}
	return diff
}

func valuesEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

// writeDumpBatch implements `dumpPrefix` mode (spec §4.7): write one batch
// of documents as a JSON array file instead of posting it to Solr.
func writeDumpBatch(prefix string, index int, batch []map[string]any) error {
	path := fmt.Sprintf("%s%d.json", prefix, index)
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("solr: marshal dump batch %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("solr: write dump batch %s: %w", path, err)
	}
	return nil
}

// PreviewDocument builds the Solr document a full updatesolr pass would
// produce for id, without writing it anywhere, for `manage --func=preview`
// (spec §6). ok is false when id resolves to a delete or doesn't exist.
func (p *Pipeline) PreviewDocument(ctx context.Context, id string, defaults SourceDefaults) (map[string]any, bool, error) {
	doc, isDelete, err := p.buildCanonicalDocument(ctx, id, defaults, p.db.Now())
	if err != nil {
		return nil, false, err
	}
	if isDelete || doc == nil {
		return nil, false, nil
	}
	if err := p.mapAndEnrich(ctx, doc, defaults); err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// buildCanonicalDocument resolves one queued canonical id to either a
// delete (group/record fully gone) or a document to index.
func (p *Pipeline) buildCanonicalDocument(ctx context.Context, id string, defaults SourceDefaults, now time.Time) (map[string]any, bool, error) {
	if group, err := p.groups.Get(ctx, id); err == nil {
		return p.buildGroupDocument(ctx, group, defaults, now)
	}

	rec, err := p.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("solr: load record %s: %w", id, err)
	}
	if rec.Deleted {
		return nil, true, nil
	}

	components, err := p.loadComponents(ctx, rec.ID)
	if err != nil {
		return nil, false, err
	}

	doc, err := BuildDocument(rec, components, defaults, now)
	if err != nil {
		return nil, false, err
	}
	return doc, false, nil
}

func (p *Pipeline) buildGroupDocument(ctx context.Context, group *store.DedupGroup, defaults SourceDefaults, now time.Time) (map[string]any, bool, error) {
	if group.Deleted {
		return nil, true, nil
	}

	var memberDocs []map[string]any
	allDeleted := true
	for _, memberID := range group.MemberIDs() {
		rec, err := p.records.Get(ctx, memberID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, false, fmt.Errorf("solr: load group member %s: %w", memberID, err)
		}
		if rec.Deleted {
			continue
		}
		allDeleted = false
		components, err := p.loadComponents(ctx, rec.ID)
		if err != nil {
			return nil, false, err
		}
		doc, err := BuildDocument(rec, components, defaults, now)
		if err != nil {
			return nil, false, err
		}
		memberDocs = append(memberDocs, doc)
	}
	if allDeleted || len(memberDocs) == 0 {
		return nil, true, nil
	}
	return BuildGroupDocument(group.ID, memberDocs, defaults, now), false, nil
}

// buildGroupDocumentExcluding rebuilds a Group's merged document skipping
// any member from excludeSourceID, used by DeleteDataSource to drop a
// source's contribution from merged documents ahead of removing its rows.
func (p *Pipeline) buildGroupDocumentExcluding(ctx context.Context, group *store.DedupGroup, excludeSourceID string, defaults SourceDefaults, now time.Time) (map[string]any, bool, error) {
	if group.Deleted {
		return nil, true, nil
	}

	var memberDocs []map[string]any
	for _, memberID := range group.MemberIDs() {
		rec, err := p.records.Get(ctx, memberID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, false, fmt.Errorf("solr: load group member %s: %w", memberID, err)
		}
		if rec.Deleted || rec.SourceID == excludeSourceID {
			continue
		}
		components, err := p.loadComponents(ctx, rec.ID)
		if err != nil {
			return nil, false, err
		}
		doc, err := BuildDocument(rec, components, defaults, now)
		if err != nil {
			return nil, false, err
		}
		memberDocs = append(memberDocs, doc)
	}
	if len(memberDocs) == 0 {
		return nil, true, nil
	}
	return BuildGroupDocument(group.ID, memberDocs, defaults, now), false, nil
}

func (p *Pipeline) loadComponents(ctx context.Context, hostID string) ([]driver.Driver, error) {
	falseVal := false
	recs, err := p.records.Find(ctx, store.RecordFilter{HostRecordID: hostID, Deleted: &falseVal}, store.IterateOptions{})
	if err != nil {
		return nil, fmt.Errorf("solr: load component parts of %s: %w", hostID, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	drivers := make([]driver.Driver, 0, len(recs))
	for i := range recs {
		d, err := buildDriver(&recs[i])
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, d)
	}
	return drivers, nil
}

// mapAndEnrich implements spec §4.7 step 3's final clause in order: apply
// the Field Mapper, apply enrichment, explode the building hierarchy (if
// enabled for this source), then drop empty values.
func (p *Pipeline) mapAndEnrich(ctx context.Context, doc map[string]any, defaults SourceDefaults) error {
	var skip []string
	if defaults.BuildingHierarchy {
		skip = append(skip, buildingField)
	}
	if err := ApplyFieldMapper(doc, p.mapper, skip...); err != nil {
		return err
	}
	if p.enricher != nil {
		if err := p.enricher.Enrich(ctx, "", nil, doc); err != nil {
			return fmt.Errorf("solr: enrich: %w", err)
		}
	}
	if defaults.BuildingHierarchy {
		if err := applyBuildingHierarchy(doc, p.mapper, defaults.Institution); err != nil {
			return err
		}
	}
	dropEmptyFields(doc)
	return nil
}

func estimateSize(doc map[string]any) int64 {
	size := int64(0)
	for k, v := range doc {
		size += int64(len(k))
		switch t := v.(type) {
		case string:
			size += int64(len(t))
		case []string:
			for _, s := range t {
				size += int64(len(s))
			}
		default:
			size += 8
		}
	}
	return size
}
