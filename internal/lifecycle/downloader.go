// downloader.go advances documents PENDING → DOWNLOADING → DOWNLOADED.
//
// For each pending document: fetch the raw bytes from sourceUrl with a
// browser-like User-Agent, extract clean text, reject artifacts under 50
// characters, hash the cleaned text with SHA-256, write the blob under
// {publisher-slug}/{sourceId}, then record storagePath, contentHash and
// downloadedAt on the DOWNLOADED transition. Any per-document failure moves
// only that document to FAILED.
package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"market-intel/internal/blob"
	"market-intel/internal/storage"
	"market-intel/pkg/types"
)

const minTextLength = 50

// DocumentStore is the slice of the document repository the lifecycle
// stages share.
type DocumentStore interface {
	FindByStatusAndType(ctx context.Context, status types.DocumentStatus, docType types.DocumentType, limit int) ([]types.Document, error)
	Transition(ctx context.Context, id string, expected, next types.DocumentStatus, set storage.DocumentUpdate) error
	Fail(ctx context.Context, id string, message string) error
	SaveContent(ctx context.Context, content *types.DocumentContent) error
	GetContent(ctx context.Context, documentID string) (*types.DocumentContent, error)
	LinkedInstruments(ctx context.Context, documentID string) ([]types.DocumentInstrument, error)
	SaveFact(ctx context.Context, fact *types.Fact) error
}

// Downloader runs the download stage.
type Downloader struct {
	docs      DocumentStore
	blobs     blob.Store
	http      *resty.Client
	batchSize int
	log       zerolog.Logger
}

// NewDownloader creates the download stage. The user agent should look like
// a browser — several publishers reject obvious bots.
func NewDownloader(docs DocumentStore, blobs blob.Store, userAgent string, batchSize int, log zerolog.Logger) *Downloader {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetHeader("User-Agent", userAgent)

	return &Downloader{
		docs:      docs,
		blobs:     blobs,
		http:      client,
		batchSize: batchSize,
		log:       log.With().Str("component", "downloader").Logger(),
	}
}

// Run processes up to batchSize pending documents. One bad document never
// poisons the batch.
func (d *Downloader) Run(ctx context.Context) error {
	docs, err := d.docs.FindByStatusAndType(ctx, types.DocPending, "", d.batchSize)
	if err != nil {
		return fmt.Errorf("find pending: %w", err)
	}

	for i := range docs {
		doc := &docs[i]
		if err := d.download(ctx, doc); err != nil {
			d.log.Warn().Err(err).Str("document", doc.ID).Str("source", doc.SourceID).Msg("download failed")
			if failErr := d.docs.Fail(ctx, doc.ID, err.Error()); failErr != nil {
				d.log.Error().Err(failErr).Str("document", doc.ID).Msg("record failure")
			}
		}
	}
	return nil
}

func (d *Downloader) download(ctx context.Context, doc *types.Document) error {
	if err := d.docs.Transition(ctx, doc.ID, types.DocPending, types.DocDownloading, storage.DocumentUpdate{}); err != nil {
		return fmt.Errorf("claim document: %w", err)
	}

	var text string
	if doc.SourceURL != "" {
		resp, err := d.http.R().SetContext(ctx).Get(doc.SourceURL)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", doc.SourceURL, err)
		}
		if resp.StatusCode() >= 400 {
			return fmt.Errorf("fetch %s: status %d", doc.SourceURL, resp.StatusCode())
		}
		text = CleanText(string(resp.Body()))
	} else {
		// Transcript-style documents arrive with inline content stashed in
		// the summary at discovery time.
		text = CleanText(doc.Summary)
	}

	if len(text) < minTextLength {
		return fmt.Errorf("extracted text too short: %d chars", len(text))
	}

	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])
	key := blob.Key(doc.Publisher, doc.SourceID)

	if err := d.blobs.Put(ctx, key, []byte(text)); err != nil {
		return fmt.Errorf("store blob: %w", err)
	}

	now := time.Now().UTC()
	err := d.docs.Transition(ctx, doc.ID, types.DocDownloading, types.DocDownloaded, storage.DocumentUpdate{
		StoragePath:  &key,
		ContentHash:  &hash,
		DownloadedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("mark downloaded: %w", err)
	}

	d.log.Debug().Str("document", doc.ID).Str("path", key).Msg("downloaded")
	return nil
}
