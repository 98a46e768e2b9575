// discovery.go inserts candidate documents into the lifecycle (→ PENDING).
//
// Three workers discover documents: the filings worker (RSS poll), the news
// worker (article feed) and the transcripts worker (per-instrument call
// lookup). Before insert, each worker ensures the associated instrument
// exists — creating a minimal placeholder when not — and links the document
// using exact symbol match, identifier match, or a keyword scan over
// title+summary+related-tickers. Inserts dedupe on source id, so
// re-discovering a document is a no-op.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-intel/internal/sources"
	"market-intel/internal/storage"
	"market-intel/pkg/types"
)

// stopWords excludes common short words from the symbol keyword scan: a
// headline containing "ALL" is not about Allstate.
var stopWords = map[string]bool{
	"A": true, "ALL": true, "AN": true, "ARE": true, "AT": true, "BE": true,
	"BY": true, "CEO": true, "CFO": true, "DD": true, "EPS": true, "ETF": true,
	"FOR": true, "GO": true, "HAS": true, "IT": true, "NEW": true, "NOW": true,
	"ON": true, "ONE": true, "OR": true, "OUT": true, "SEC": true, "SO": true,
	"TWO": true, "UP": true, "US": true, "WAY": true, "WHO": true, "YOU": true,
}

// InstrumentStore is the slice of the instrument repository discovery uses.
type InstrumentStore interface {
	GetBySymbol(ctx context.Context, symbol string) (*types.Instrument, error)
	GetByIdentifier(ctx context.Context, idType types.IdentifierType, value string) (*types.Instrument, error)
	EnsureBySymbol(ctx context.Context, symbol string, instType types.InstrumentType) (*types.Instrument, error)
	SetIdentifier(ctx context.Context, id string, idType types.IdentifierType, value string) error
	ListByType(ctx context.Context, instType types.InstrumentType) ([]types.Instrument, error)
}

// DiscoveryStore is the slice of the document repository discovery writes.
type DiscoveryStore interface {
	BatchInsert(ctx context.Context, docs []types.Document) (int, error)
	GetBySourceID(ctx context.Context, sourceID string) (*types.Document, error)
	Link(ctx context.Context, link types.DocumentInstrument) error
}

// WatermarkStore tracks per-source discovery progress.
type WatermarkStore interface {
	Get(ctx context.Context, source string) (string, error)
	Set(ctx context.Context, source, mark string) error
}

// FilingSource is the regulatory filings adapter surface discovery needs.
type FilingSource interface {
	RecentFilings(ctx context.Context, formTypes []string, count int) ([]sources.FilingRecord, error)
}

// NewsSource is the news adapter surface discovery needs.
type NewsSource interface {
	Articles(since time.Time) sources.Pager[sources.NewsRecord]
}

// TranscriptSource is the transcripts adapter surface discovery needs.
type TranscriptSource interface {
	Fetch(ctx context.Context, symbol string, year, quarter int) (sources.TranscriptRecord, error)
}

// watchedForms are the filing types the pipeline ingests.
var watchedForms = []string{"10-K", "10-Q", "8-K", "S-1", "S-3", "424B5", "N-CEN"}

// Discovery runs the document discovery workers.
type Discovery struct {
	docs        DiscoveryStore
	instruments InstrumentStore
	watermarks  WatermarkStore
	filings     FilingSource
	news        NewsSource
	transcripts TranscriptSource
	log         zerolog.Logger
}

// NewDiscovery creates the discovery workers. Source adapters a deployment
// does not enable may be nil; the matching Run method becomes a no-op.
func NewDiscovery(docs DiscoveryStore, instruments InstrumentStore, watermarks WatermarkStore,
	filings FilingSource, news NewsSource, transcripts TranscriptSource, log zerolog.Logger) *Discovery {
	return &Discovery{
		docs:        docs,
		instruments: instruments,
		watermarks:  watermarks,
		filings:     filings,
		news:        news,
		transcripts: transcripts,
		log:         log.With().Str("component", "discovery").Logger(),
	}
}

// RunFilings polls the filings RSS feed and inserts new filings.
func (d *Discovery) RunFilings(ctx context.Context) error {
	if d.filings == nil {
		return nil
	}

	records, err := d.filings.RecentFilings(ctx, watchedForms, 100)
	if err != nil {
		return fmt.Errorf("poll filings: %w", err)
	}

	inserted := 0
	for _, rec := range records {
		docType := types.DocTypeFiling
		if strings.HasSuffix(rec.FormType, "/A") {
			docType = types.DocTypeFilingVariant
		}

		doc := types.Document{
			Type:        docType,
			SourceID:    rec.AccessionNumber,
			SourceURL:   rec.DocumentURL,
			Title:       rec.Title,
			Summary:     rec.Summary,
			Publisher:   "sec-edgar",
			PublishedAt: rec.FiledAt,
		}
		n, err := d.docs.BatchInsert(ctx, []types.Document{doc})
		if err != nil {
			d.log.Error().Err(err).Str("accession", rec.AccessionNumber).Msg("insert filing")
			continue
		}
		if n == 0 {
			continue // already known
		}
		inserted++

		stored, err := d.docs.GetBySourceID(ctx, rec.AccessionNumber)
		if err != nil {
			d.log.Error().Err(err).Str("accession", rec.AccessionNumber).Msg("reload filing")
			continue
		}
		d.linkFiling(ctx, stored, rec)
	}

	if inserted > 0 {
		d.log.Info().Int("inserted", inserted).Msg("filings discovered")
	}
	return nil
}

// linkFiling resolves the filer to an instrument via its CIK, creating a
// placeholder when the filer has never been seen.
func (d *Discovery) linkFiling(ctx context.Context, doc *types.Document, rec sources.FilingRecord) {
	if rec.CIK == "" {
		return
	}

	inst, err := d.instruments.GetByIdentifier(ctx, types.IdentifierCIK, rec.CIK)
	if errors.Is(err, storage.ErrNoRows) {
		placeholder := "CIK" + strings.TrimLeft(rec.CIK, "0")
		inst, err = d.instruments.EnsureBySymbol(ctx, placeholder, types.InstrumentEquity)
		if err == nil {
			if idErr := d.instruments.SetIdentifier(ctx, inst.ID, types.IdentifierCIK, rec.CIK); idErr != nil {
				d.log.Error().Err(idErr).Str("cik", rec.CIK).Msg("set identifier")
			}
		}
	}
	if err != nil {
		d.log.Error().Err(err).Str("cik", rec.CIK).Msg("resolve filer")
		return
	}

	link := types.DocumentInstrument{
		DocumentID:   doc.ID,
		InstrumentID: inst.ID,
		Relevance:    1.0,
		Method:       types.MatchCIK,
	}
	if err := d.docs.Link(ctx, link); err != nil {
		d.log.Error().Err(err).Str("document", doc.ID).Msg("link filing")
	}
}

// RunNews pulls articles published since the stored watermark and inserts
// them with instrument links.
func (d *Discovery) RunNews(ctx context.Context) error {
	if d.news == nil {
		return nil
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if mark, err := d.watermarks.Get(ctx, "news"); err == nil && mark != "" {
		if ts, err := time.Parse(time.RFC3339, mark); err == nil {
			since = ts
		}
	}

	symbols, err := d.knownSymbols(ctx)
	if err != nil {
		return err
	}

	pager := d.news.Articles(since)
	newest := since
	inserted := 0

	for {
		batch, ok, err := pager.Next(ctx)
		if err != nil {
			return fmt.Errorf("fetch articles: %w", err)
		}
		if !ok {
			break
		}

		for _, rec := range batch {
			if rec.PublishedAt.After(newest) {
				newest = rec.PublishedAt
			}

			doc := types.Document{
				Type:        types.DocTypeNews,
				SourceID:    rec.ArticleID,
				SourceURL:   rec.URL,
				Title:       rec.Title,
				Summary:     rec.Summary,
				Publisher:   rec.Publisher,
				PublishedAt: rec.PublishedAt,
			}
			n, err := d.docs.BatchInsert(ctx, []types.Document{doc})
			if err != nil {
				d.log.Error().Err(err).Str("article", rec.ArticleID).Msg("insert article")
				continue
			}
			if n == 0 {
				continue
			}
			inserted++

			stored, err := d.docs.GetBySourceID(ctx, rec.ArticleID)
			if err != nil {
				continue
			}
			d.linkArticle(ctx, stored, rec, symbols)
		}
	}

	if err := d.watermarks.Set(ctx, "news", newest.Format(time.RFC3339)); err != nil {
		d.log.Error().Err(err).Msg("save news watermark")
	}
	if inserted > 0 {
		d.log.Info().Int("inserted", inserted).Msg("articles discovered")
	}
	return nil
}

var wordRe = regexp.MustCompile(`\b[A-Z]{1,6}\b`)

// linkArticle links an article to instruments: related tickers are exact
// matches, and a keyword scan over title+summary catches symbols the feed
// did not tag. The stop list keeps common words out.
func (d *Discovery) linkArticle(ctx context.Context, doc *types.Document, rec sources.NewsRecord, symbols map[string]string) {
	linked := make(map[string]bool)

	for _, ticker := range rec.RelatedTickers {
		inst, err := d.instruments.EnsureBySymbol(ctx, ticker, types.InstrumentEquity)
		if err != nil {
			d.log.Error().Err(err).Str("ticker", ticker).Msg("ensure instrument")
			continue
		}
		if linked[inst.ID] {
			continue
		}
		linked[inst.ID] = true
		if err := d.docs.Link(ctx, types.DocumentInstrument{
			DocumentID:   doc.ID,
			InstrumentID: inst.ID,
			Relevance:    1.0,
			Method:       types.MatchExactSymbol,
		}); err != nil {
			d.log.Error().Err(err).Str("document", doc.ID).Msg("link article")
		}
	}

	scan := strings.ToUpper(doc.Title + " " + doc.Summary)
	for _, token := range wordRe.FindAllString(scan, -1) {
		if stopWords[token] {
			continue
		}
		instID, known := symbols[token]
		if !known || linked[instID] {
			continue
		}
		linked[instID] = true
		if err := d.docs.Link(ctx, types.DocumentInstrument{
			DocumentID:   doc.ID,
			InstrumentID: instID,
			Relevance:    0.6,
			Method:       types.MatchKeyword,
		}); err != nil {
			d.log.Error().Err(err).Str("document", doc.ID).Msg("link article")
		}
	}
}

// knownSymbols returns symbol → instrument id for the keyword scan.
func (d *Discovery) knownSymbols(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	for _, t := range []types.InstrumentType{types.InstrumentEquity, types.InstrumentETF} {
		list, err := d.instruments.ListByType(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("list instruments: %w", err)
		}
		for _, inst := range list {
			if !stopWords[inst.Symbol] {
				out[inst.Symbol] = inst.ID
			}
		}
	}
	return out, nil
}

// RunTranscripts looks for the most recent earnings call of every active
// equity. Transcript content arrives inline: the record's text is stashed
// on the document and the downloader stage picks it up without a fetch.
func (d *Discovery) RunTranscripts(ctx context.Context) error {
	if d.transcripts == nil {
		return nil
	}

	instruments, err := d.instruments.ListByType(ctx, types.InstrumentEquity)
	if err != nil {
		return fmt.Errorf("list equities: %w", err)
	}

	year, quarter := previousQuarter(time.Now().UTC())
	inserted := 0

	for _, inst := range instruments {
		if strings.HasPrefix(inst.Symbol, "CIK") {
			continue // placeholder without a real ticker
		}

		rec, err := d.transcripts.Fetch(ctx, inst.Symbol, year, quarter)
		if errors.Is(err, sources.ErrTranscriptNotFound) {
			continue
		}
		if err != nil {
			d.log.Warn().Err(err).Str("symbol", inst.Symbol).Msg("fetch transcript")
			continue
		}

		doc := types.Document{
			Type:        types.DocTypeTranscript,
			SourceID:    rec.SourceID,
			Title:       fmt.Sprintf("%s Q%d %d earnings call", rec.Symbol, rec.Quarter, rec.Year),
			Summary:     rec.Content,
			Publisher:   "earnings-transcripts",
			PublishedAt: rec.HeldAt,
		}
		n, err := d.docs.BatchInsert(ctx, []types.Document{doc})
		if err != nil {
			d.log.Error().Err(err).Str("symbol", inst.Symbol).Msg("insert transcript")
			continue
		}
		if n == 0 {
			continue
		}
		inserted++

		stored, err := d.docs.GetBySourceID(ctx, rec.SourceID)
		if err != nil {
			continue
		}
		if err := d.docs.Link(ctx, types.DocumentInstrument{
			DocumentID:   stored.ID,
			InstrumentID: inst.ID,
			Relevance:    1.0,
			Method:       types.MatchExactSymbol,
		}); err != nil {
			d.log.Error().Err(err).Str("document", stored.ID).Msg("link transcript")
		}
	}

	if inserted > 0 {
		d.log.Info().Int("inserted", inserted).Msg("transcripts discovered")
	}
	return nil
}

// previousQuarter returns the calendar quarter before the one containing t.
func previousQuarter(t time.Time) (year, quarter int) {
	q := (int(t.Month())-1)/3 + 1
	if q == 1 {
		return t.Year() - 1, 4
	}
	return t.Year(), q - 1
}
