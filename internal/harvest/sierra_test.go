package harvest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSierraFetcherPaginatesUntilTotalExhausted(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		offset := r.URL.Query().Get("offset")
		w.Header().Set("Content-Type", "application/json")
		if offset == "0" {
			w.Write([]byte(`{"total":2,"entries":[{"id":"1","updatedDate":"2024-01-01","deletedDate":"","marc":{}}]}`))
		} else {
			w.Write([]byte(`{"total":2,"entries":[{"id":"2","updatedDate":"2024-01-02","deletedDate":"2024-01-03","marc":{}}]}`))
		}
	}))
	defer srv.Close()

	f := &SierraFetcher{Client: newTestClient(), BaseURL: srv.URL, APIKey: "key", PageSize: 1}

	page1, err := f.Fetch(context.Background(), timeZero, timeZero, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page1.Records) != 1 || page1.Records[0].OAIID != "1" || page1.Records[0].Deleted {
		t.Fatalf("unexpected page1: %+v", page1)
	}
	if page1.ResumptionToken != "1" {
		t.Fatalf("expected resumption token \"1\", got %q", page1.ResumptionToken)
	}

	page2, err := f.Fetch(context.Background(), timeZero, timeZero, page1.ResumptionToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page2.Records) != 1 || page2.Records[0].OAIID != "2" || !page2.Records[0].Deleted {
		t.Fatalf("unexpected page2: %+v", page2)
	}
	if page2.ResumptionToken != "" {
		t.Fatalf("expected no further resumption token, got %q", page2.ResumptionToken)
	}
	if calls != 2 {
		t.Fatalf("expected 2 HTTP calls, got %d", calls)
	}
}
