// Package harvest implements the Harvester state machine of spec §4.4: one
// instance per data source, fetching new/changed/deleted records from an
// OAI-PMH or Sierra endpoint incrementally, or diffing a full-set source
// (SFX/MetaLib) against the Record Store, and reconciling deletions for
// protocols that don't report them natively.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KDK-Alli/RecordManager/internal/ingest"
	"github.com/KDK-Alli/RecordManager/internal/metrics"
	"github.com/KDK-Alli/RecordManager/internal/notify"
	"github.com/KDK-Alli/RecordManager/internal/store"
)

// State is the harvester's logical state, spec §4.4: "IDLE -> FETCHING ->
// PAUSED(token) -> FETCHING -> DONE | FAILED". It is reported in Result and
// logged, not persisted as its own column — the durable facts are the
// "Last Harvest Date {source}" state entry and, while paused, the
// resumption-token state entry.
type State string

const (
	StateIdle     State = "IDLE"
	StateFetching State = "FETCHING"
	StatePaused   State = "PAUSED"
	StateDone     State = "DONE"
	StateFailed   State = "FAILED"
)

// ErrResumptionTokenExpired is returned by a Fetcher when the endpoint no
// longer recognizes a resumption token. Spec §4.4: "tokens may expire and
// this is reported to the operator but not retried."
var ErrResumptionTokenExpired = errors.New("harvest: resumption token expired")

// Triple is one yielded harvest unit: spec §4.4's "(oai_id, deleted,
// payload) triples".
type Triple struct {
	OAIID   string
	Deleted bool
	Payload []byte
}

// Page is one page of an incremental fetch: zero or more triples plus a
// resumption token for continuation (empty means the window is exhausted).
type Page struct {
	Records         []Triple
	ResumptionToken string
}

// Fetcher is implemented by incremental harvest protocols (oai-pmh, sierra).
type Fetcher interface {
	Fetch(ctx context.Context, from, until time.Time, resumptionToken string) (Page, error)
}

// IdentifierLister is implemented by Fetchers whose protocol can also list
// bare identifiers without metadata, for the ListIdentifiers deletion
// reconciliation mode (spec §4.4).
type IdentifierLister interface {
	ListIdentifiers(ctx context.Context, from, until time.Time) ([]string, error)
}

// FullSetFetcher is implemented by full-set protocols (sfx, metalib,
// metalib_export): one complete snapshot, keyed by id.
type FullSetFetcher interface {
	FetchAll(ctx context.Context) (map[string][]byte, error)
}

// Result summarizes one RunIncremental/RunFullSet call. StartedAt is the
// timestamp captured before fetching began — callers pass it to
// ReconcileDeletions as the full-reharvest threshold.
type Result struct {
	State          State
	RecordsFetched int
	RecordsStored  int
	Deleted        int
	StartedAt      time.Time
}

// Harvester drives storeRecord for one source's fetched payloads and
// maintains the "Last Harvest Date"/resumption-token state entries.
type Harvester struct {
	ingester *ingest.Ingester
	records  store.RecordRepository
	state    store.StateRepository
	db       *store.DB
	notifier notify.Notifier
	log      *zap.Logger

	// SafetyOffset is subtracted from "now" when computing the default
	// until bound, and from the persisted last-harvest-date when computing
	// the default from bound, so records written to the source just before
	// the previous run's until timestamp aren't missed (spec §4.4).
	SafetyOffset time.Duration
}

// New returns a Harvester wired to the given repositories.
func New(ingester *ingest.Ingester, records store.RecordRepository, state store.StateRepository, db *store.DB, notifier notify.Notifier, log *zap.Logger) *Harvester {
	return &Harvester{
		ingester: ingester,
		records:  records,
		state:    state,
		db:       db,
		notifier: notifier,
		log:      log.Named("harvest"),
	}
}

func resumptionStateKey(sourceID string) string {
	return "Resumption Token " + sourceID
}

// RunOptions carries the per-invocation overrides of the CLI's `harvest`
// command (spec §6): `--from`, `--until`, `--resumption`.
type RunOptions struct {
	From            *time.Time
	Until           *time.Time
	ResumptionToken string
}

// RunIncremental implements the incremental OAI-PMH/Sierra state machine.
// ingestCfg.ID must equal sourceID.
func (h *Harvester) RunIncremental(ctx context.Context, sourceID string, fetcher Fetcher, ingestCfg ingest.SourceConfig, opts RunOptions) (Result, error) {
	from, err := h.resolveFrom(ctx, sourceID, opts.From)
	if err != nil {
		return Result{State: StateFailed}, err
	}
	until := h.resolveUntil(opts.Until)

	resumption := opts.ResumptionToken
	if resumption == "" {
		if persisted, ok, err := h.state.Get(ctx, resumptionStateKey(sourceID)); err != nil {
			return Result{State: StateFailed}, fmt.Errorf("harvest: load resumption token: %w", err)
		} else if ok {
			resumption = persisted
		}
	}

	result := Result{State: StateFetching, StartedAt: h.db.Now()}
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.HarvestDuration, sourceID)
		metrics.HarvestRunsTotal.WithLabelValues(sourceID, string(result.State)).Inc()
	}()

	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		page, err := fetcher.Fetch(ctx, from, until, resumption)
		if err != nil {
			if errors.Is(err, ErrResumptionTokenExpired) {
				h.log.Warn("resumption token expired, harvest left paused", zap.String("source_id", sourceID), zap.String("token", resumption))
				if notifyErr := h.notifier.ResumptionTokenExpired(ctx, sourceID, resumption); notifyErr != nil {
					h.log.Warn("failed to notify operator of expired token", zap.Error(notifyErr))
				}
				_ = h.state.Delete(ctx, resumptionStateKey(sourceID))
				result.State = StatePaused
				return result, err
			}
			h.log.Error("harvest fetch failed", zap.String("source_id", sourceID), zap.Error(err))
			if notifyErr := h.notifier.HarvestFailed(ctx, sourceID, err); notifyErr != nil {
				h.log.Warn("failed to notify operator of harvest failure", zap.Error(notifyErr))
			}
			result.State = StateFailed
			return result, err
		}

		result.RecordsFetched += len(page.Records)
		metrics.HarvestRecordsFetchedTotal.WithLabelValues(sourceID).Add(float64(len(page.Records)))
		for _, triple := range page.Records {
			n, err := h.ingester.StoreRecord(ctx, ingestCfg, triple.OAIID, triple.Deleted, triple.Payload)
			if err != nil {
				h.log.Error("store record failed", zap.String("source_id", sourceID), zap.String("oai_id", triple.OAIID), zap.Error(err))
				continue
			}
			result.RecordsStored += n
			if triple.Deleted {
				result.Deleted++
				metrics.HarvestDeletionsTotal.WithLabelValues(sourceID).Inc()
			}
		}

		if page.ResumptionToken == "" {
			break
		}
		resumption = page.ResumptionToken
		if err := h.state.Set(ctx, resumptionStateKey(sourceID), resumption); err != nil {
			return result, fmt.Errorf("harvest: persist resumption token: %w", err)
		}
	}

	// Completed cleanly: commit "from" forward and drop any stale
	// resumption token, per spec §4.4's "on successful completion, from is
	// committed back; on failure, state is not advanced."
	if err := h.state.Set(ctx, store.StateKeyLastHarvestDate+sourceID, until.Format(time.RFC3339)); err != nil {
		return result, fmt.Errorf("harvest: commit last harvest date: %w", err)
	}
	_ = h.state.Delete(ctx, resumptionStateKey(sourceID))

	result.State = StateDone
	return result, nil
}

func (h *Harvester) resolveFrom(ctx context.Context, sourceID string, override *time.Time) (time.Time, error) {
	if override != nil {
		return *override, nil
	}
	raw, ok, err := h.state.Get(ctx, store.StateKeyLastHarvestDate+sourceID)
	if err != nil {
		return time.Time{}, fmt.Errorf("harvest: load last harvest date: %w", err)
	}
	if !ok {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("harvest: parse last harvest date %q: %w", raw, err)
	}
	return t.Add(-h.SafetyOffset), nil
}

func (h *Harvester) resolveUntil(override *time.Time) time.Time {
	if override != nil {
		return *override
	}
	return h.db.Now().Add(-h.SafetyOffset)
}

// RunFullSet implements spec §4.4's full-set source harvest: fetch the
// complete set, key by id, diff against the store (added, changed,
// unchanged, deleted), and store/soft-delete accordingly.
func (h *Harvester) RunFullSet(ctx context.Context, sourceID string, fetcher FullSetFetcher, ingestCfg ingest.SourceConfig) (Result, error) {
	startedAt := h.db.Now()
	timer := metrics.NewTimer()
	result := Result{State: StateFailed, StartedAt: startedAt}
	defer func() {
		timer.ObserveDurationVec(metrics.HarvestDuration, sourceID)
		metrics.HarvestRunsTotal.WithLabelValues(sourceID, string(result.State)).Inc()
	}()

	snapshot, err := fetcher.FetchAll(ctx)
	if err != nil {
		h.log.Error("full-set fetch failed", zap.String("source_id", sourceID), zap.Error(err))
		if notifyErr := h.notifier.HarvestFailed(ctx, sourceID, err); notifyErr != nil {
			h.log.Warn("failed to notify operator of harvest failure", zap.Error(notifyErr))
		}
		return result, err
	}
	result.RecordsFetched = len(snapshot)
	result.State = StateFetching
	metrics.HarvestRecordsFetchedTotal.WithLabelValues(sourceID).Add(float64(len(snapshot)))

	existing, err := h.records.Find(ctx, store.RecordFilter{SourceID: sourceID, Deleted: boolPtr(false)}, store.IterateOptions{})
	if err != nil {
		return result, fmt.Errorf("harvest: full-set: list existing: %w", err)
	}
	byOAIID := make(map[string]store.Record, len(existing))
	for _, rec := range existing {
		byOAIID[rec.OAIID] = rec
	}

	for oaiID, payload := range snapshot {
		prior, had := byOAIID[oaiID]
		delete(byOAIID, oaiID)
		if had && prior.OriginalData == string(payload) {
			continue // unchanged
		}
		n, err := h.ingester.StoreRecord(ctx, ingestCfg, oaiID, false, payload)
		if err != nil {
			h.log.Error("full-set store record failed", zap.String("source_id", sourceID), zap.String("oai_id", oaiID), zap.Error(err))
			continue
		}
		result.RecordsStored += n
	}

	// Anything left in byOAIID was not present in this snapshot: deleted.
	for _, rec := range byOAIID {
		n, err := h.ingester.StoreRecord(ctx, ingestCfg, rec.OAIID, true, nil)
		if err != nil {
			h.log.Error("full-set delete failed", zap.String("source_id", sourceID), zap.String("oai_id", rec.OAIID), zap.Error(err))
			continue
		}
		result.Deleted += n
		metrics.HarvestDeletionsTotal.WithLabelValues(sourceID).Inc()
	}

	if err := h.state.Set(ctx, store.StateKeyLastHarvestDate+sourceID, h.db.Now().Format(time.RFC3339)); err != nil {
		return result, fmt.Errorf("harvest: full-set: commit last harvest date: %w", err)
	}
	result.State = StateDone
	return result, nil
}

func boolPtr(b bool) *bool { return &b }
