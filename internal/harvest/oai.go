package harvest

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// OAIPMHFetcher implements Fetcher/IdentifierLister against a real OAI-PMH
// 2.0 endpoint (the harvest transport envelope, distinct from the
// bibliographic metadata format carried inside it — spec §1 keeps the
// latter's parsers out of scope, not the protocol itself).
type OAIPMHFetcher struct {
	Client       *retryablehttp.Client
	BaseURL      string
	MetadataPrefix string
	Set          string
	IgnoredIDs   map[string]bool
}

type oaiEnvelope struct {
	XMLName xml.Name `xml:"OAI-PMH"`
	Error   *struct {
		Code string `xml:"code,attr"`
		Text string `xml:",chardata"`
	} `xml:"error"`
	ListRecords *struct {
		Records         []oaiRecord      `xml:"record"`
		ResumptionToken *oaiResumption `xml:"resumptionToken"`
	} `xml:"ListRecords"`
	ListIdentifiers *struct {
		Headers         []oaiHeader      `xml:"header"`
		ResumptionToken *oaiResumption `xml:"resumptionToken"`
	} `xml:"ListIdentifiers"`
}

type oaiRecord struct {
	Header   oaiHeader `xml:"header"`
	Metadata struct {
		Raw []byte `xml:",innerxml"`
	} `xml:"metadata"`
}

type oaiHeader struct {
	Status     string `xml:"status,attr"`
	Identifier string `xml:"identifier"`
	Datestamp  string `xml:"datestamp"`
}

type oaiResumption struct {
	Token string `xml:",chardata"`
}

// Fetch implements Fetcher. A non-empty resumptionToken takes precedence
// over from/until per the OAI-PMH spec (only one or the other may be sent).
func (f *OAIPMHFetcher) Fetch(ctx context.Context, from, until time.Time, resumptionToken string) (Page, error) {
	values := url.Values{}
	values.Set("verb", "ListRecords")
	if resumptionToken != "" {
		values.Set("resumptionToken", resumptionToken)
	} else {
		values.Set("metadataPrefix", f.MetadataPrefix)
		if f.Set != "" {
			values.Set("set", f.Set)
		}
		if !from.IsZero() {
			values.Set("from", from.UTC().Format(time.RFC3339))
		}
		if !until.IsZero() {
			values.Set("until", until.UTC().Format(time.RFC3339))
		}
	}

	env, err := f.request(ctx, values)
	if err != nil {
		return Page{}, err
	}
	if env.Error != nil {
		if env.Error.Code == "badResumptionToken" {
			return Page{}, fmt.Errorf("%w: %s", ErrResumptionTokenExpired, env.Error.Text)
		}
		return Page{}, fmt.Errorf("harvest: oai-pmh: %s: %s", env.Error.Code, env.Error.Text)
	}
	if env.ListRecords == nil {
		return Page{}, nil
	}

	page := Page{}
	for _, rec := range env.ListRecords.Records {
		if f.IgnoredIDs[rec.Header.Identifier] {
			continue
		}
		page.Records = append(page.Records, Triple{
			OAIID:   rec.Header.Identifier,
			Deleted: rec.Header.Status == "deleted",
			Payload: rec.Metadata.Raw,
		})
	}
	if env.ListRecords.ResumptionToken != nil {
		page.ResumptionToken = strings.TrimSpace(env.ListRecords.ResumptionToken.Token)
	}
	return page, nil
}

// ListIdentifiers implements IdentifierLister for the ListIdentifiers
// deletion reconciliation mode (spec §4.4).
func (f *OAIPMHFetcher) ListIdentifiers(ctx context.Context, from, until time.Time) ([]string, error) {
	var ids []string
	token := ""
	for {
		values := url.Values{}
		values.Set("verb", "ListIdentifiers")
		if token != "" {
			values.Set("resumptionToken", token)
		} else {
			values.Set("metadataPrefix", f.MetadataPrefix)
			if f.Set != "" {
				values.Set("set", f.Set)
			}
			if !from.IsZero() {
				values.Set("from", from.UTC().Format(time.RFC3339))
			}
			if !until.IsZero() {
				values.Set("until", until.UTC().Format(time.RFC3339))
			}
		}

		env, err := f.request(ctx, values)
		if err != nil {
			return ids, err
		}
		if env.Error != nil {
			return ids, fmt.Errorf("harvest: oai-pmh: %s: %s", env.Error.Code, env.Error.Text)
		}
		if env.ListIdentifiers == nil {
			return ids, nil
		}
		for _, h := range env.ListIdentifiers.Headers {
			if h.Status == "deleted" || f.IgnoredIDs[h.Identifier] {
				continue
			}
			ids = append(ids, h.Identifier)
		}
		if env.ListIdentifiers.ResumptionToken == nil || strings.TrimSpace(env.ListIdentifiers.ResumptionToken.Token) == "" {
			return ids, nil
		}
		token = strings.TrimSpace(env.ListIdentifiers.ResumptionToken.Token)
	}
}

func (f *OAIPMHFetcher) request(ctx context.Context, values url.Values) (*oaiEnvelope, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("harvest: oai-pmh: build request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("harvest: oai-pmh: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("harvest: oai-pmh: read body: %w", err)
	}

	var env oaiEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("harvest: oai-pmh: parse response: %w", err)
	}
	return &env, nil
}
