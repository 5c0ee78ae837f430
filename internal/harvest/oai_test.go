package harvest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

var timeZero time.Time

func newTestClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 0
	c.Logger = nil
	return c
}

func TestOAIPMHFetcherParsesRecordsAndResumptionToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(`<?xml version="1.0"?>
<OAI-PMH>
  <ListRecords>
    <record>
      <header><identifier>oai:example:1</identifier><datestamp>2024-01-01</datestamp></header>
      <metadata><dc><title>One</title></dc></metadata>
    </record>
    <record>
      <header status="deleted"><identifier>oai:example:2</identifier><datestamp>2024-01-02</datestamp></header>
    </record>
    <resumptionToken>abc123</resumptionToken>
  </ListRecords>
</OAI-PMH>`))
	}))
	defer srv.Close()

	f := &OAIPMHFetcher{Client: newTestClient(), BaseURL: srv.URL, MetadataPrefix: "oai_dc"}
	page, err := f.Fetch(context.Background(), timeZero, timeZero, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(page.Records))
	}
	if page.Records[0].OAIID != "oai:example:1" || page.Records[0].Deleted {
		t.Errorf("unexpected first record: %+v", page.Records[0])
	}
	if !page.Records[1].Deleted {
		t.Error("expected second record to be marked deleted")
	}
	if page.ResumptionToken != "abc123" {
		t.Errorf("expected resumption token abc123, got %q", page.ResumptionToken)
	}
}

func TestOAIPMHFetcherBadResumptionTokenIsExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<OAI-PMH><error code="badResumptionToken">token expired</error></OAI-PMH>`))
	}))
	defer srv.Close()

	f := &OAIPMHFetcher{Client: newTestClient(), BaseURL: srv.URL, MetadataPrefix: "oai_dc"}
	_, err := f.Fetch(context.Background(), timeZero, timeZero, "stale-token")
	if !errors.Is(err, ErrResumptionTokenExpired) {
		t.Fatalf("expected ErrResumptionTokenExpired, got %v", err)
	}
}

func TestOAIPMHFetcherListIdentifiersSkipsDeletedAndIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<OAI-PMH><ListIdentifiers>
			<header><identifier>a</identifier><datestamp>2024-01-01</datestamp></header>
			<header status="deleted"><identifier>b</identifier><datestamp>2024-01-01</datestamp></header>
			<header><identifier>c</identifier><datestamp>2024-01-01</datestamp></header>
		</ListIdentifiers></OAI-PMH>`))
	}))
	defer srv.Close()

	f := &OAIPMHFetcher{Client: newTestClient(), BaseURL: srv.URL, MetadataPrefix: "oai_dc", IgnoredIDs: map[string]bool{"c": true}}
	ids, err := f.ListIdentifiers(context.Background(), timeZero, timeZero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("expected only [a], got %v", ids)
	}
}
