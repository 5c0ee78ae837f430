package solr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/KDK-Alli/RecordManager/internal/config"
	"github.com/KDK-Alli/RecordManager/internal/store"
)

// fakeRecords is a minimal in-memory RecordRepository sufficient to drive
// the Merge & Solr Update Pipeline in tests.
type fakeRecords struct {
	mu   sync.Mutex
	recs map[string]store.Record
}

func newFakeRecords() *fakeRecords { return &fakeRecords{recs: map[string]store.Record{}} }

func (f *fakeRecords) put(r store.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[r.ID] = r
}

func (f *fakeRecords) Get(ctx context.Context, id string) (*store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (f *fakeRecords) Find(ctx context.Context, filter store.RecordFilter, opts store.IterateOptions) ([]store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Record
	for _, r := range f.recs {
		if filter.SourceID != "" && r.SourceID != filter.SourceID {
			continue
		}
		if filter.HostRecordID != "" && r.HostRecordID != filter.HostRecordID {
			continue
		}
		if filter.Deleted != nil && r.Deleted != *filter.Deleted {
			continue
		}
		if filter.UpdateNeeded != nil && r.UpdateNeeded != *filter.UpdateNeeded {
			continue
		}
		if filter.UpdatedSince != nil && r.Updated.Before(store.UnixMilliToTime(*filter.UpdatedSince)) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRecords) Iterate(ctx context.Context, filter store.RecordFilter, opts store.IterateOptions, fn func([]store.Record) error) error {
	recs, _ := f.Find(ctx, filter, opts)
	if len(recs) == 0 {
		return nil
	}
	return fn(recs)
}

func (f *fakeRecords) Save(ctx context.Context, r *store.Record) error { f.put(*r); return nil }
func (f *fakeRecords) Update(ctx context.Context, id string, set map[string]any) error {
	return nil
}
func (f *fakeRecords) UpdateMany(ctx context.Context, filter store.RecordFilter, set map[string]any) (int64, error) {
	return 0, nil
}
func (f *fakeRecords) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeRecords) CountBySource(ctx context.Context, sourceID string) (int64, error) {
	return 0, nil
}
func (f *fakeRecords) MarkSeen(ctx context.Context, sourceID string, oaiIDs []string) error {
	return nil
}

// fakeGroups is a minimal DedupGroupRepository.
type fakeGroups struct {
	groups map[string]store.DedupGroup
}

func newFakeGroups() *fakeGroups { return &fakeGroups{groups: map[string]store.DedupGroup{}} }

func (f *fakeGroups) Get(ctx context.Context, id string) (*store.DedupGroup, error) {
	g, ok := f.groups[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &g, nil
}
func (f *fakeGroups) Save(ctx context.Context, g *store.DedupGroup) error {
	f.groups[g.ID] = *g
	return nil
}
func (f *fakeGroups) Delete(ctx context.Context, id string) error { delete(f.groups, id); return nil }
func (f *fakeGroups) IterateNonDeleted(ctx context.Context, opts store.IterateOptions, fn func([]store.DedupGroup) error) error {
	return nil
}
func (f *fakeGroups) UpdatedSince(ctx context.Context, sinceMillis int64) ([]string, error) {
	return nil, nil
}

// fakeQueues is a minimal in-memory QueueRepository.
type fakeQueues struct {
	items map[string][]string
}

func newFakeQueues() *fakeQueues { return &fakeQueues{items: map[string][]string{}} }

func (f *fakeQueues) FindReusable(ctx context.Context, paramHash string, now time.Time) (*store.Queue, error) {
	return nil, store.ErrNotFound
}
func (f *fakeQueues) NewQueue(ctx context.Context, tmpName, paramHash string, fromDate, lastRecordTime time.Time) (*store.Queue, error) {
	f.items[tmpName] = nil
	return &store.Queue{Name: tmpName}, nil
}
func (f *fakeQueues) AddItems(ctx context.Context, queueName string, recordIDs []string) error {
	f.items[queueName] = append(f.items[queueName], recordIDs...)
	return nil
}
func (f *fakeQueues) Items(ctx context.Context, queueName string, afterRecordID string, limit int) ([]string, error) {
	all := f.items[queueName]
	var out []string
	started := afterRecordID == ""
	for _, id := range all {
		if !started {
			if id == afterRecordID {
				started = true
			}
			continue
		}
		out = append(out, id)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
func (f *fakeQueues) Finalize(ctx context.Context, tmpName, finalName string) error {
	f.items[finalName] = f.items[tmpName]
	delete(f.items, tmpName)
	return nil
}
func (f *fakeQueues) Drop(ctx context.Context, queueName string) error {
	delete(f.items, queueName)
	return nil
}
func (f *fakeQueues) CleanupOld(ctx context.Context, now time.Time) (int, error) { return 0, nil }

// fakeState is a minimal in-memory StateRepository.
type fakeState struct{ kv map[string]string }

func newFakeState() *fakeState { return &fakeState{kv: map[string]string{}} }

func (f *fakeState) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.kv[key]
	return v, ok, nil
}
func (f *fakeState) Set(ctx context.Context, key, value string) error {
	f.kv[key] = value
	return nil
}
func (f *fakeState) Delete(ctx context.Context, key string) error { delete(f.kv, key); return nil }

// fakeNotifier never actually sends anything.
type fakeNotifier struct{}

func (fakeNotifier) ResumptionTokenExpired(ctx context.Context, sourceID, token string) error {
	return nil
}
func (fakeNotifier) HarvestFailed(ctx context.Context, sourceID string, cause error) error {
	return nil
}
func (fakeNotifier) InvariantViolationRepaired(ctx context.Context, groupCount int, entries []string) error {
	return nil
}
func (fakeNotifier) SolrUpdateFailed(ctx context.Context, queueName string, cause error) error {
	return nil
}

func TestPipelineRunAddsNewRecordsAndCommits(t *testing.T) {
	var mu sync.Mutex
	var addedIDs []string
	commits := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		mu.Lock()
		defer mu.Unlock()
		switch v := body.(type) {
		case []any:
			for _, d := range v {
				doc := d.(map[string]any)
				addedIDs = append(addedIDs, doc["id"].(string))
			}
		case map[string]any:
			if _, ok := v["commit"]; ok {
				commits++
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	records := newFakeRecords()
	records.put(store.Record{ID: "src1.1", SourceID: "src1", Format: "dc", OAIID: "oai:1", OriginalData: sampleDCXML, Updated: time.Now()})

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 0
	httpClient.Logger = nil

	client := NewClient(httpClient, srv.URL, "", "")
	db := &store.DB{}

	p := New(records, newFakeGroups(), newFakeQueues(), newFakeState(), db, client, nil, nil, fakeNotifier{}, zap.NewNop(), config.Solr{}, config.Site{Institution: "Inst"})

	if err := p.Run(context.Background(), RunOptions{SourceID: "src1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(addedIDs) != 1 || addedIDs[0] != "src1.1" {
		t.Errorf("addedIDs = %v, want [src1.1]", addedIDs)
	}
	if commits == 0 {
		t.Error("expected a final commit")
	}
}
