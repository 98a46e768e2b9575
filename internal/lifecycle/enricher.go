// enricher.go advances documents PARSED → ENRICHED.
//
// For each parsed document the fact extractors scan the stored content.
// Every surviving extraction is persisted as a typed fact with evidence
// snippets; when confidence and keyword density clear the configured
// minimums, a signal is upserted for each linked instrument, keyed on
// (instrument, signalType) so re-running enrichment never duplicates.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"market-intel/internal/config"
	"market-intel/internal/extract"
	"market-intel/internal/storage"
	"market-intel/pkg/types"
)

// SignalStore is the slice of the signal repository the enricher writes.
type SignalStore interface {
	Upsert(ctx context.Context, s *types.Signal) error
}

// Enricher runs the extraction stage.
type Enricher struct {
	docs       DocumentStore
	signals    SignalStore
	extractors []*extract.Extractor
	cfg        config.SignalsConfig
	batchSize  int
	log        zerolog.Logger
}

// NewEnricher creates the extraction stage with the full extractor set.
func NewEnricher(docs DocumentStore, signals SignalStore, cfg config.SignalsConfig, batchSize int, log zerolog.Logger) *Enricher {
	return &Enricher{
		docs:       docs,
		signals:    signals,
		extractors: extract.All(),
		cfg:        cfg,
		batchSize:  batchSize,
		log:        log.With().Str("component", "enricher").Logger(),
	}
}

// Run processes up to batchSize parsed documents.
func (e *Enricher) Run(ctx context.Context) error {
	docs, err := e.docs.FindByStatusAndType(ctx, types.DocParsed, "", e.batchSize)
	if err != nil {
		return fmt.Errorf("find parsed: %w", err)
	}

	for i := range docs {
		doc := &docs[i]
		if err := e.enrich(ctx, doc); err != nil {
			e.log.Warn().Err(err).Str("document", doc.ID).Msg("enrich failed")
			if failErr := e.docs.Fail(ctx, doc.ID, err.Error()); failErr != nil {
				e.log.Error().Err(failErr).Str("document", doc.ID).Msg("record failure")
			}
		}
	}
	return nil
}

func (e *Enricher) enrich(ctx context.Context, doc *types.Document) error {
	content, err := e.docs.GetContent(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("load content: %w", err)
	}

	links, err := e.docs.LinkedInstruments(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("load links: %w", err)
	}

	for _, ex := range e.extractors {
		result := ex.Extract(content.FullText, content.Sections, doc.Type)
		if result == nil {
			continue
		}

		payload, err := json.Marshal(result.Numerics)
		if err != nil {
			return fmt.Errorf("encode numerics: %w", err)
		}

		fact := &types.Fact{
			DocumentID: doc.ID,
			Type:       result.Fact,
			Payload:    payload,
			Snippets:   result.Snippets,
			Confidence: result.Confidence,
		}
		if err := e.docs.SaveFact(ctx, fact); err != nil {
			return fmt.Errorf("save fact: %w", err)
		}

		if result.Confidence < e.cfg.MinConfidence || result.Density < e.cfg.MinDensity {
			continue
		}

		evidence, err := json.Marshal([]map[string]any{{
			"factId":     fact.ID,
			"documentId": doc.ID,
			"sourceId":   doc.SourceID,
			"factType":   result.Fact,
			"matches":    result.Matches,
		}})
		if err != nil {
			return fmt.Errorf("encode evidence: %w", err)
		}

		now := time.Now().UTC()
		for _, link := range links {
			sig := &types.Signal{
				InstrumentID: link.InstrumentID,
				Type:         result.Signal,
				Severity:     result.Severity,
				Score:        result.Score,
				Confidence:   result.Confidence,
				Reason:       result.Reason,
				Evidence:     evidence,
				ComputedAt:   now,
				ExpiresAt:    now.Add(e.cfg.Expiry),
			}
			if err := e.signals.Upsert(ctx, sig); err != nil {
				return fmt.Errorf("upsert signal: %w", err)
			}
		}
	}

	return e.docs.Transition(ctx, doc.ID, types.DocParsed, types.DocEnriched, storage.DocumentUpdate{})
}
