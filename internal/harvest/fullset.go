package harvest

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// MetaLibFetcher implements FullSetFetcher for MetaLib/MetaLib-export and
// SFX sources (spec §4.4's "Full-set sources"): a single export endpoint
// returns every currently active record, one <record> per resource, keyed
// by its id attribute. A <record> without an id attribute is skipped; child
// elements are not consulted for the id.
type MetaLibFetcher struct {
	Client  *retryablehttp.Client
	BaseURL string
}

type metalibExport struct {
	XMLName xml.Name          `xml:"export"`
	Records []metalibRecord   `xml:"record"`
}

type metalibRecord struct {
	ID  string `xml:"id,attr"`
	Raw []byte `xml:",innerxml"`
}

// FetchAll implements FullSetFetcher.
func (f *MetaLibFetcher) FetchAll(ctx context.Context) (map[string][]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("harvest: metalib: build request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("harvest: metalib: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("harvest: metalib: read body: %w", err)
	}

	var export metalibExport
	if err := xml.Unmarshal(body, &export); err != nil {
		return nil, fmt.Errorf("harvest: metalib: parse response: %w", err)
	}

	snapshot := make(map[string][]byte, len(export.Records))
	for _, rec := range export.Records {
		id := rec.ID
		if id == "" {
			continue
		}
		snapshot[id] = rec.Raw
	}
	return snapshot, nil
}
