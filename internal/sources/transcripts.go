// transcripts.go implements the earnings transcripts adapter. Transcripts
// are fetched per (symbol, year, quarter); a 404 means the call simply has
// no transcript yet and maps to ErrTranscriptNotFound.
package sources

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"market-intel/internal/config"
)

// ErrTranscriptNotFound reports that no transcript exists for the requested
// call. Treated as a domain outcome, not a failure.
var ErrTranscriptNotFound = errors.New("transcript not found")

// TranscriptRecord is one normalized earnings-call transcript.
type TranscriptRecord struct {
	Symbol   string
	Year     int
	Quarter  int
	HeldAt   time.Time
	Content  string // full raw transcript text with speaker labels
	SourceID string // symbol:year:quarter
	URL      string
}

// TranscriptsClient fetches earnings transcripts.
type TranscriptsClient struct {
	http *resty.Client
	gate *Gate
	log  zerolog.Logger
}

// NewTranscriptsClient creates the transcripts adapter.
func NewTranscriptsClient(cfg config.SourceConfig, gate *Gate, log zerolog.Logger) *TranscriptsClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetQueryParam("apikey", cfg.APIKey)
	}

	return &TranscriptsClient{
		http: client,
		gate: gate,
		log:  log.With().Str("component", "transcripts").Logger(),
	}
}

type rawTranscript struct {
	Symbol  string `json:"symbol"`
	Year    int    `json:"year"`
	Quarter int    `json:"quarter"`
	Date    string `json:"date"`
	Content string `json:"content"`
}

// Fetch retrieves one transcript. Returns ErrTranscriptNotFound when the
// upstream has none for the requested call.
func (c *TranscriptsClient) Fetch(ctx context.Context, symbol string, year, quarter int) (TranscriptRecord, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return TranscriptRecord{}, err
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var rows []rawTranscript
	_, err := do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"symbol":  symbol,
				"year":    strconv.Itoa(year),
				"quarter": strconv.Itoa(quarter),
			}).
			SetResult(&rows).
			Get("/earning_call_transcript")
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TranscriptRecord{}, ErrTranscriptNotFound
		}
		return TranscriptRecord{}, err
	}
	if len(rows) == 0 || strings.TrimSpace(rows[0].Content) == "" {
		return TranscriptRecord{}, ErrTranscriptNotFound
	}

	raw := rows[0]
	rec := TranscriptRecord{
		Symbol:   symbol,
		Year:     raw.Year,
		Quarter:  raw.Quarter,
		Content:  raw.Content,
		SourceID: fmt.Sprintf("%s:%d:%d", symbol, raw.Year, raw.Quarter),
	}
	if raw.Date != "" {
		if ts, err := time.Parse("2006-01-02 15:04:05", raw.Date); err == nil {
			rec.HeldAt = ts.UTC()
		} else if d, err := time.Parse("2006-01-02", raw.Date); err == nil {
			rec.HeldAt = d.UTC()
		}
	}
	return rec, nil
}
