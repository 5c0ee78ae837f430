package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/KDK-Alli/RecordManager/internal/store"
)

type fakeURICache struct {
	entries map[string]*store.URICacheEntry
}

func newFakeURICache() *fakeURICache {
	return &fakeURICache{entries: map[string]*store.URICacheEntry{}}
}

func (f *fakeURICache) Get(ctx context.Context, id string) (*store.URICacheEntry, error) {
	if e, ok := f.entries[id]; ok {
		return e, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeURICache) Put(ctx context.Context, entry *store.URICacheEntry) error {
	f.entries[entry.ID] = entry
	return nil
}

func (f *fakeURICache) Fresh(ctx context.Context, id string, ttl time.Duration, now time.Time) (*store.URICacheEntry, bool, error) {
	e, err := f.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e, now.Sub(e.Timestamp) <= ttl, nil
}

func TestAuthorityEnricherResolvesAndCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"preferredLabel":"Tolkien, J. R. R."}`))
	}))
	defer srv.Close()

	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil

	cache := newFakeURICache()
	e := &AuthorityEnricher{
		Client:          client,
		BaseURL:         srv.URL,
		Cache:           cache,
		CacheExpiration: time.Hour,
		SourceField:     "author_uri_str_mv",
		TargetField:     "author_facet",
	}

	doc := map[string]any{"author_uri_str_mv": []string{"/authority/1"}}
	if err := e.Enrich(context.Background(), "src1", nil, doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	labels, ok := doc["author_facet"].([]string)
	if !ok || len(labels) != 1 || labels[0] != "Tolkien, J. R. R." {
		t.Fatalf("unexpected author_facet: %v", doc["author_facet"])
	}

	// Second call should be served from cache, not hit the HTTP endpoint again.
	doc2 := map[string]any{"author_uri_str_mv": []string{"/authority/1"}}
	if err := e.Enrich(context.Background(), "src1", nil, doc2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 HTTP call (second served from cache), got %d", calls)
	}
}

func TestAuthorityEnricherSkipsWhenFieldAbsent(t *testing.T) {
	e := &AuthorityEnricher{SourceField: "author_uri_str_mv", TargetField: "author_facet"}
	doc := map[string]any{}
	if err := e.Enrich(context.Background(), "src1", nil, doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := doc["author_facet"]; ok {
		t.Error("expected no target field to be set")
	}
}
