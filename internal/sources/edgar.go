// edgar.go implements the regulatory filings adapter: the recent-filings
// RSS poll and the paginated historical full-text search.
//
// EDGAR requires a descriptive User-Agent and enforces strict request
// spacing, so every call goes through the shared per-host gate. CIKs are
// zero-padded to 10 digits and accession numbers keep their dashed form —
// the accession number is the globally unique source id for filing
// documents.
package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"market-intel/internal/config"
)

// FilingRecord is one normalized filing discovery.
type FilingRecord struct {
	AccessionNumber string // dashed form, e.g. 0001318605-26-000010
	FormType        string
	CIK             string // zero-padded to 10 digits
	CompanyName     string
	Title           string
	Summary         string
	FiledAt         time.Time
	DocumentURL     string
}

// EdgarClient fetches regulatory filings.
type EdgarClient struct {
	http      *resty.Client
	gate      *Gate
	userAgent string
	log       zerolog.Logger
}

// NewEdgarClient creates the filings adapter. The gate must be shared with
// any other adapter targeting the same host.
func NewEdgarClient(cfg config.SourceConfig, userAgent string, gate *Gate, log zerolog.Logger) *EdgarClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent)

	return &EdgarClient{
		http:      client,
		gate:      gate,
		userAgent: userAgent,
		log:       log.With().Str("component", "edgar").Logger(),
	}
}

// rssFeed mirrors the subset of the Atom feed we consume.
type rssFeed struct {
	Entries []rssEntry `xml:"entry"`
}

type rssEntry struct {
	Title   string `xml:"title"`
	Summary string `xml:"summary"`
	Updated string `xml:"updated"`
	Link    struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
	ID string `xml:"id"` // urn:tag:sec.gov,2008:accession-number=0001318605-26-000010
}

// RecentFilings polls the RSS feed for the latest filings of the given
// form types (empty means all forms).
func (c *EdgarClient) RecentFilings(ctx context.Context, formTypes []string, count int) ([]FilingRecord, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return nil, err
	}
	if count <= 0 || count > 100 {
		count = 100
	}

	params := map[string]string{
		"action": "getcompany",
		"type":   strings.Join(formTypes, ","),
		"count":  strconv.Itoa(count),
		"output": "atom",
	}
	if len(formTypes) == 0 {
		delete(params, "type")
	}

	resp, err := do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			Get("/cgi-bin/browse-edgar")
	})
	if err != nil {
		return nil, fmt.Errorf("fetch rss: %w", err)
	}

	var feed rssFeed
	if err := xml.Unmarshal(resp.Body(), &feed); err != nil {
		return nil, fmt.Errorf("parse rss: %w", err)
	}

	records := make([]FilingRecord, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		rec, ok := normalizeEntry(e)
		if !ok {
			c.log.Debug().Str("id", e.ID).Msg("skipping rss entry without accession number")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// searchHit mirrors one full-text search result row.
type searchHit struct {
	ID     string `json:"_id"` // accession:file form
	Source struct {
		CIKs        []string `json:"ciks"`
		DisplayName []string `json:"display_names"`
		FormType    string   `json:"file_type"`
		FileDate    string   `json:"file_date"`
	} `json:"_source"`
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
}

const searchPageSize = 100

// Search returns a lazy page sequence over the historical full-text search
// for a query, newest first, plus the server-reported total.
func (c *EdgarClient) Search(query string, formType string) Pager[FilingRecord] {
	return NewPager(searchPageSize, func(ctx context.Context, offset int) ([]FilingRecord, int, error) {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, 0, err
		}

		var page searchResponse
		params := map[string]string{
			"q":    query,
			"from": strconv.Itoa(offset),
		}
		if formType != "" {
			params["forms"] = formType
		}
		_, err := do(ctx, func() (*resty.Response, error) {
			return c.http.R().
				SetContext(ctx).
				SetQueryParams(params).
				SetResult(&page).
				Get("/efts/LATEST/search-index")
		})
		if err != nil {
			return nil, 0, err
		}

		records := make([]FilingRecord, 0, len(page.Hits.Hits))
		for _, h := range page.Hits.Hits {
			accession := strings.SplitN(h.ID, ":", 2)[0]
			if accession == "" {
				continue
			}
			rec := FilingRecord{
				AccessionNumber: accession,
				FormType:        h.Source.FormType,
				DocumentURL:     c.filingURL(firstOr(h.Source.CIKs, ""), accession),
			}
			if len(h.Source.CIKs) > 0 {
				rec.CIK = PadCIK(h.Source.CIKs[0])
			}
			if len(h.Source.DisplayName) > 0 {
				rec.CompanyName = h.Source.DisplayName[0]
				rec.Title = h.Source.FormType + " — " + rec.CompanyName
			}
			if h.Source.FileDate != "" {
				if d, err := time.Parse("2006-01-02", h.Source.FileDate); err == nil {
					rec.FiledAt = d.UTC()
				}
			}
			records = append(records, rec)
		}
		return records, page.Hits.Total.Value, nil
	})
}

// normalizeEntry extracts a FilingRecord from an RSS entry. The accession
// number is pulled from the entry id tail.
func normalizeEntry(e rssEntry) (FilingRecord, bool) {
	const marker = "accession-number="
	i := strings.LastIndex(e.ID, marker)
	if i < 0 {
		return FilingRecord{}, false
	}
	accession := e.ID[i+len(marker):]
	if accession == "" {
		return FilingRecord{}, false
	}

	rec := FilingRecord{
		AccessionNumber: accession,
		Title:           strings.TrimSpace(e.Title),
		Summary:         strings.TrimSpace(e.Summary),
		DocumentURL:     e.Link.Href,
	}
	// Titles look like "10-K - ACME CORP (0001318605) (Filer)"
	if parts := strings.SplitN(e.Title, " - ", 2); len(parts) == 2 {
		rec.FormType = strings.TrimSpace(parts[0])
		name := parts[1]
		if j := strings.Index(name, "("); j > 0 {
			cik := name[j+1:]
			if k := strings.Index(cik, ")"); k > 0 {
				rec.CIK = PadCIK(cik[:k])
			}
			name = name[:j]
		}
		rec.CompanyName = strings.TrimSpace(name)
	}
	if e.Updated != "" {
		if ts, err := time.Parse(time.RFC3339, e.Updated); err == nil {
			rec.FiledAt = ts.UTC()
		}
	}
	return rec, true
}

func (c *EdgarClient) filingURL(cik, accession string) string {
	compact := strings.ReplaceAll(accession, "-", "")
	return fmt.Sprintf("%s/Archives/edgar/data/%s/%s/%s-index.htm",
		c.http.BaseURL, strings.TrimLeft(cik, "0"), compact, accession)
}

// PadCIK zero-pads a CIK to the canonical 10-digit form.
func PadCIK(cik string) string {
	cik = strings.TrimSpace(cik)
	if len(cik) >= 10 {
		return cik
	}
	return strings.Repeat("0", 10-len(cik)) + cik
}

func firstOr(s []string, fallback string) string {
	if len(s) > 0 {
		return s[0]
	}
	return fallback
}
