package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"market-intel/pkg/types"
)

// ErrStaleTransition reports a lifecycle update whose expected current
// status no longer matched — another worker advanced or failed the
// document first.
var ErrStaleTransition = errors.New("storage: document status changed concurrently")

// DocumentRepo persists documents, their parsed contents, facts and
// instrument links. Lifecycle transitions are guarded updates: the write
// succeeds only when the row still carries the expected current status, so
// transitions stay monotonic under concurrency.
type DocumentRepo struct {
	db *DB
}

// NewDocumentRepo creates the repository.
func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// BatchInsert inserts candidate documents, skipping rows whose source_id
// already exists. Returns the number actually inserted — the dedup law:
// ingesting the same discovery twice yields 1 then 0.
func (r *DocumentRepo) BatchInsert(ctx context.Context, docs []types.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, d := range docs {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, type, source_id, source_url, title, summary,
			                       publisher, published_at, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (source_id) DO NOTHING`,
			d.ID, d.Type, d.SourceID, d.SourceURL, d.Title, d.Summary,
			d.Publisher, d.PublishedAt, types.DocPending)
		if err != nil {
			return 0, fmt.Errorf("insert document %s: %w", d.SourceID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// Get returns one document by id.
func (r *DocumentRepo) Get(ctx context.Context, id string) (*types.Document, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var doc types.Document
	err := r.db.GetContext(ctx, &doc, `SELECT * FROM documents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// GetBySourceID returns one document by its deduplication key.
func (r *DocumentRepo) GetBySourceID(ctx context.Context, sourceID string) (*types.Document, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var doc types.Document
	err := r.db.GetContext(ctx, &doc, `SELECT * FROM documents WHERE source_id = $1`, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get document by source id: %w", err)
	}
	return &doc, nil
}

// FindByStatusAndType returns up to limit documents in a lifecycle state,
// oldest first, optionally filtered by document type ("" means any).
func (r *DocumentRepo) FindByStatusAndType(ctx context.Context, status types.DocumentStatus, docType types.DocumentType, limit int) ([]types.Document, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var docs []types.Document
	var err error
	if docType == "" {
		err = r.db.SelectContext(ctx, &docs, `
			SELECT * FROM documents WHERE status = $1
			ORDER BY created_at LIMIT $2`, status, limit)
	} else {
		err = r.db.SelectContext(ctx, &docs, `
			SELECT * FROM documents WHERE status = $1 AND type = $2
			ORDER BY created_at LIMIT $3`, status, docType, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	return docs, nil
}

// Transition moves a document from expected to next, applying the given
// column updates atomically with the status change. Returns
// ErrStaleTransition when the row no longer carries expected.
func (r *DocumentRepo) Transition(ctx context.Context, id string, expected, next types.DocumentStatus, set DocumentUpdate) error {
	if !expected.CanTransition(next) {
		return fmt.Errorf("illegal transition %s → %s", expected, next)
	}

	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE documents SET
			status        = $3,
			storage_path  = COALESCE($4, storage_path),
			content_hash  = COALESCE($5, content_hash),
			error_message = COALESCE($6, error_message),
			downloaded_at = COALESCE($7, downloaded_at),
			parsed_at     = COALESCE($8, parsed_at)
		WHERE id = $1 AND status = $2`,
		id, expected, next,
		set.StoragePath, set.ContentHash, set.ErrorMessage,
		set.DownloadedAt, set.ParsedAt)
	if err != nil {
		return fmt.Errorf("transition document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleTransition
	}
	return nil
}

// Fail moves a document to FAILED from whatever state it is in, recording
// the error message. FAILED is reachable from every non-terminal state.
func (r *DocumentRepo) Fail(ctx context.Context, id string, message string) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE documents SET status = $2, error_message = $3
		WHERE id = $1 AND status <> $2`,
		id, types.DocFailed, message)
	if err != nil {
		return fmt.Errorf("fail document: %w", err)
	}
	return nil
}

// DocumentUpdate carries the nullable columns a transition may set.
type DocumentUpdate struct {
	StoragePath  *string
	ContentHash  *string
	ErrorMessage *string
	DownloadedAt *time.Time
	ParsedAt     *time.Time
}

// SaveContent upserts the 1-to-1 parsed content of a document.
func (r *DocumentRepo) SaveContent(ctx context.Context, content *types.DocumentContent) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	sections, err := json.Marshal(content.Sections)
	if err != nil {
		return fmt.Errorf("encode sections: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO document_contents (document_id, full_text, sections, word_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id) DO UPDATE SET
			full_text = EXCLUDED.full_text,
			sections = EXCLUDED.sections,
			word_count = EXCLUDED.word_count`,
		content.DocumentID, content.FullText, sections, content.WordCount)
	if err != nil {
		return fmt.Errorf("save content: %w", err)
	}
	return nil
}

// GetContent returns the parsed content of a document.
func (r *DocumentRepo) GetContent(ctx context.Context, documentID string) (*types.DocumentContent, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var row struct {
		types.DocumentContent
		SectionsJSON []byte `db:"sections"`
	}
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM document_contents WHERE document_id = $1`, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get content: %w", err)
	}

	content := row.DocumentContent
	if len(row.SectionsJSON) > 0 {
		if err := json.Unmarshal(row.SectionsJSON, &content.Sections); err != nil {
			return nil, fmt.Errorf("decode sections: %w", err)
		}
	}
	return &content, nil
}

// Link upserts a document → instrument link with its relevance and match
// method.
func (r *DocumentRepo) Link(ctx context.Context, link types.DocumentInstrument) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO document_instruments (document_id, instrument_id, relevance, method)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id, instrument_id) DO UPDATE SET
			relevance = GREATEST(EXCLUDED.relevance, document_instruments.relevance)`,
		link.DocumentID, link.InstrumentID, link.Relevance, link.Method)
	if err != nil {
		return fmt.Errorf("link document: %w", err)
	}
	return nil
}

// LinkedInstruments returns the instrument ids linked to a document.
func (r *DocumentRepo) LinkedInstruments(ctx context.Context, documentID string) ([]types.DocumentInstrument, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var out []types.DocumentInstrument
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM document_instruments WHERE document_id = $1 ORDER BY relevance DESC`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("linked instruments: %w", err)
	}
	return out, nil
}

// SaveFact inserts one extracted fact.
func (r *DocumentRepo) SaveFact(ctx context.Context, fact *types.Fact) error {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	snippets, err := json.Marshal(fact.Snippets)
	if err != nil {
		return fmt.Errorf("encode snippets: %w", err)
	}
	payload := fact.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO document_facts (id, document_id, type, payload, snippets, confidence)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		fact.ID, fact.DocumentID, fact.Type, payload, snippets, fact.Confidence)
	if err != nil {
		return fmt.Errorf("save fact: %w", err)
	}
	return nil
}

// FactsByDocument returns the facts extracted from one document.
func (r *DocumentRepo) FactsByDocument(ctx context.Context, documentID string) ([]types.Fact, error) {
	ctx, cancel := r.db.ctx(ctx)
	defer cancel()

	var rows []struct {
		types.Fact
		SnippetsJSON []byte `db:"snippets"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM document_facts WHERE document_id = $1 ORDER BY created_at`, documentID)
	if err != nil {
		return nil, fmt.Errorf("facts by document: %w", err)
	}

	out := make([]types.Fact, 0, len(rows))
	for i := range rows {
		f := rows[i].Fact
		if len(rows[i].SnippetsJSON) > 0 {
			if err := json.Unmarshal(rows[i].SnippetsJSON, &f.Snippets); err != nil {
				return nil, fmt.Errorf("decode snippets: %w", err)
			}
		}
		out = append(out, f)
	}
	return out, nil
}
