package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/KDK-Alli/RecordManager/internal/driver"
	"github.com/KDK-Alli/RecordManager/internal/store"
)

// authorityRecord is the minimal shape expected back from the authority
// lookup endpoint.
type authorityRecord struct {
	PreferredLabel string `json:"preferredLabel"`
}

// AuthorityEnricher implements spec §4.8's "common pattern": resolve a
// linked-data URI already present on the document (e.g. a subject or
// author identifier the driver extracted) to a preferred label, via a
// URI-cache-backed HTTP lookup.
type AuthorityEnricher struct {
	Client          *retryablehttp.Client
	BaseURL         string
	Cache           store.URICacheRepository
	CacheExpiration time.Duration
	// SourceField names the document field holding candidate URIs
	// ([]string); TargetField is set to the resolved labels, replacing any
	// value already there.
	SourceField string
	TargetField string
	Now         func() time.Time
}

// Enrich implements Enricher.
func (e *AuthorityEnricher) Enrich(ctx context.Context, sourceID string, d driver.Driver, doc map[string]any) error {
	raw, ok := doc[e.SourceField]
	if !ok {
		return nil
	}
	uris, ok := raw.([]string)
	if !ok || len(uris) == 0 {
		return nil
	}

	var labels []string
	for _, uri := range uris {
		label, err := e.resolve(ctx, uri)
		if err != nil {
			return fmt.Errorf("enrich: authority: resolve %q: %w", uri, err)
		}
		if label != "" {
			labels = append(labels, label)
		}
	}
	if len(labels) > 0 {
		doc[e.TargetField] = labels
	}
	return nil
}

func (e *AuthorityEnricher) resolve(ctx context.Context, uri string) (string, error) {
	now := e.Now
	if now == nil {
		now = time.Now
	}

	if entry, fresh, err := e.Cache.Fresh(ctx, uri, e.CacheExpiration, now()); err != nil {
		return "", err
	} else if fresh {
		var rec authorityRecord
		if err := json.Unmarshal([]byte(entry.Body), &rec); err != nil {
			return "", fmt.Errorf("parse cached authority body: %w", err)
		}
		return rec.PreferredLabel, nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, e.BaseURL+uri, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := e.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Spec §4.8: non-retryable 404s are tolerated, not a hard failure.
		return "", nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("authority endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	var rec authorityRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return "", fmt.Errorf("parse authority body: %w", err)
	}

	if err := e.Cache.Put(ctx, &store.URICacheEntry{ID: uri, Timestamp: now(), URL: e.BaseURL + uri, Body: string(body)}); err != nil {
		// A failed cache write is dropped without being reported: the label
		// was already resolved successfully, so the lookup still succeeds.
		return rec.PreferredLabel, nil
	}

	return rec.PreferredLabel, nil
}
