// news.go implements the news API adapter: paginated article fetch with
// related-ticker extraction. The upstream article id is the globally unique
// source id for news documents.
package sources

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"market-intel/internal/config"
)

// NewsRecord is one normalized article.
type NewsRecord struct {
	ArticleID      string // stable upstream id, the source id
	Title          string
	Summary        string
	URL            string
	Publisher      string
	PublishedAt    time.Time
	RelatedTickers []string // upper-cased
}

// NewsClient fetches news articles.
type NewsClient struct {
	http *resty.Client
	gate *Gate
	log  zerolog.Logger
}

// NewNewsClient creates the news adapter.
func NewNewsClient(cfg config.SourceConfig, gate *Gate, log zerolog.Logger) *NewsClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-Api-Key", cfg.APIKey)
	}

	return &NewsClient{
		http: client,
		gate: gate,
		log:  log.With().Str("component", "news").Logger(),
	}
}

type rawArticle struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Publisher   string   `json:"publisher"`
	PublishedAt string   `json:"publishedUtc"`
	Tickers     []string `json:"tickers"`
}

type newsResponse struct {
	Results []rawArticle `json:"results"`
	Count   int          `json:"count"`
}

const newsPageSize = 50

// Articles returns a lazy page sequence over articles published since a
// given time, newest first.
func (c *NewsClient) Articles(since time.Time) Pager[NewsRecord] {
	return NewPager(newsPageSize, func(ctx context.Context, offset int) ([]NewsRecord, int, error) {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, 0, err
		}

		var page newsResponse
		_, err := do(ctx, func() (*resty.Response, error) {
			return c.http.R().
				SetContext(ctx).
				SetQueryParams(map[string]string{
					"published_utc.gte": since.UTC().Format(time.RFC3339),
					"limit":             strconv.Itoa(newsPageSize),
					"offset":            strconv.Itoa(offset),
					"order":             "desc",
				}).
				SetResult(&page).
				Get("/v2/reference/news")
		})
		if err != nil {
			return nil, 0, err
		}

		records := make([]NewsRecord, 0, len(page.Results))
		for _, a := range page.Results {
			rec := NewsRecord{
				ArticleID: a.ID,
				Title:     strings.TrimSpace(a.Title),
				Summary:   strings.TrimSpace(a.Description),
				URL:       a.URL,
				Publisher: a.Publisher,
			}
			if a.PublishedAt != "" {
				if ts, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
					rec.PublishedAt = ts.UTC()
				}
			}
			for _, t := range a.Tickers {
				t = strings.ToUpper(strings.TrimSpace(t))
				if t != "" {
					rec.RelatedTickers = append(rec.RelatedTickers, t)
				}
			}
			records = append(records, rec)
		}
		return records, page.Count, nil
	})
}
