// parser.go advances documents DOWNLOADED → PARSED.
//
// The parser re-reads the stored blob and extracts document-type-specific
// sub-sections: form item blocks for filings, XBRL-style holdings blocks
// for ETF filings, and the prepared-remarks / Q&A split for transcripts.
// The full text, the sections map and the word count are persisted as the
// document's 1-to-1 DocumentContent.
package lifecycle

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-intel/internal/blob"
	"market-intel/internal/storage"
	"market-intel/pkg/types"
)

// Section labels used across the pipeline. Extractors key snippet tags off
// these.
const (
	SectionPreparedRemarks = "PREPARED_REMARKS"
	SectionQA              = "QA"
	SectionHoldings        = "HOLDINGS"
)

var (
	// Form item markers: "Item 1.", "ITEM 7A.", "Item 2.02" and similar.
	formItemRe = regexp.MustCompile(`(?mi)^\s*item\s+(\d+[A-Za-z]?(?:\.\d+)?)[.:\s]`)

	// XBRL/XML holding blocks survive text cleaning as bracketed runs.
	holdingsRe = regexp.MustCompile(`(?is)<(?:invstOrSec|holding)\b.*?</(?:invstOrSec|holding)>`)

	// The Q&A turn of an earnings call, as transcribers label it.
	qaMarkerRe = regexp.MustCompile(`(?i)(?:question[- ]and[- ]answer|q&a)\s*(?:session|period|portion)?`)
)

// Parser runs the parse stage.
type Parser struct {
	docs      DocumentStore
	blobs     blob.Store
	batchSize int
	log       zerolog.Logger
}

// NewParser creates the parse stage.
func NewParser(docs DocumentStore, blobs blob.Store, batchSize int, log zerolog.Logger) *Parser {
	return &Parser{
		docs:      docs,
		blobs:     blobs,
		batchSize: batchSize,
		log:       log.With().Str("component", "parser").Logger(),
	}
}

// Run processes up to batchSize downloaded documents.
func (p *Parser) Run(ctx context.Context) error {
	docs, err := p.docs.FindByStatusAndType(ctx, types.DocDownloaded, "", p.batchSize)
	if err != nil {
		return fmt.Errorf("find downloaded: %w", err)
	}

	for i := range docs {
		doc := &docs[i]
		if err := p.parse(ctx, doc); err != nil {
			p.log.Warn().Err(err).Str("document", doc.ID).Msg("parse failed")
			if failErr := p.docs.Fail(ctx, doc.ID, err.Error()); failErr != nil {
				p.log.Error().Err(failErr).Str("document", doc.ID).Msg("record failure")
			}
		}
	}
	return nil
}

func (p *Parser) parse(ctx context.Context, doc *types.Document) error {
	if doc.StoragePath == nil {
		return fmt.Errorf("downloaded document has no storage path")
	}

	data, err := p.blobs.Get(ctx, *doc.StoragePath)
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}
	text := string(data)

	sections := ExtractSections(doc.Type, text)

	content := &types.DocumentContent{
		DocumentID: doc.ID,
		FullText:   text,
		Sections:   sections,
		WordCount:  WordCount(text),
	}
	if err := p.docs.SaveContent(ctx, content); err != nil {
		return fmt.Errorf("save content: %w", err)
	}

	now := time.Now().UTC()
	err = p.docs.Transition(ctx, doc.ID, types.DocDownloaded, types.DocParsed, storage.DocumentUpdate{
		ParsedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("mark parsed: %w", err)
	}
	return nil
}

// ExtractSections pulls the type-specific sub-sections out of cleaned text.
func ExtractSections(docType types.DocumentType, text string) map[string]string {
	sections := make(map[string]string)

	switch docType {
	case types.DocTypeFiling, types.DocTypeFilingVariant:
		for label, body := range splitFormItems(text) {
			sections[label] = body
		}
		if blocks := holdingsRe.FindAllString(text, -1); len(blocks) > 0 {
			sections[SectionHoldings] = strings.Join(blocks, "\n")
		}

	case types.DocTypeTranscript:
		prepared, qa := SplitTranscript(text)
		if prepared != "" {
			sections[SectionPreparedRemarks] = prepared
		}
		if qa != "" {
			sections[SectionQA] = qa
		}
	}

	return sections
}

// splitFormItems slices a filing at its item markers. The text between two
// markers belongs to the first marker's item.
func splitFormItems(text string) map[string]string {
	matches := formItemRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	items := make(map[string]string, len(matches))
	for i, m := range matches {
		label := "ITEM_" + strings.ToUpper(text[m[2]:m[3]])
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := strings.TrimSpace(text[m[1]:end])
		// Later duplicates (tables of contents repeat markers) keep the
		// longest body.
		if prev, ok := items[label]; !ok || len(body) > len(prev) {
			items[label] = body
		}
	}
	return items
}

// SplitTranscript divides a transcript at the Q&A marker. Everything before
// the marker is prepared remarks; without a marker the whole text is
// prepared remarks.
func SplitTranscript(text string) (prepared, qa string) {
	loc := qaMarkerRe.FindStringIndex(text)
	if loc == nil {
		return text, ""
	}
	return strings.TrimSpace(text[:loc[0]]), strings.TrimSpace(text[loc[0]:])
}
