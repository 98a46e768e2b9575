package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"market-intel/internal/blob"
	"market-intel/internal/config"
	"market-intel/internal/storage"
	"market-intel/pkg/types"
)

// memDocStore is an in-memory DocumentStore/DiscoveryStore with the same
// dedup-on-sourceID and guarded-transition semantics as the repository.
type memDocStore struct {
	mu       sync.Mutex
	docs     map[string]*types.Document // by id
	bySource map[string]string          // sourceID → id
	contents map[string]*types.DocumentContent
	links    map[string][]types.DocumentInstrument
	facts    []types.Fact
}

func newMemDocStore() *memDocStore {
	return &memDocStore{
		docs:     make(map[string]*types.Document),
		bySource: make(map[string]string),
		contents: make(map[string]*types.DocumentContent),
		links:    make(map[string][]types.DocumentInstrument),
	}
}

func (m *memDocStore) BatchInsert(_ context.Context, docs []types.Document) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, d := range docs {
		if _, dup := m.bySource[d.SourceID]; dup {
			continue
		}
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		d.Status = types.DocPending
		copied := d
		m.docs[d.ID] = &copied
		m.bySource[d.SourceID] = d.ID
		inserted++
	}
	return inserted, nil
}

func (m *memDocStore) GetBySourceID(_ context.Context, sourceID string) (*types.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySource[sourceID]
	if !ok {
		return nil, storage.ErrNoRows
	}
	copied := *m.docs[id]
	return &copied, nil
}

func (m *memDocStore) FindByStatusAndType(_ context.Context, status types.DocumentStatus, docType types.DocumentType, limit int) ([]types.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.Document
	for _, d := range m.docs {
		if d.Status != status {
			continue
		}
		if docType != "" && d.Type != docType {
			continue
		}
		out = append(out, *d)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memDocStore) Transition(_ context.Context, id string, expected, next types.DocumentStatus, set storage.DocumentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[id]
	if !ok || d.Status != expected {
		return storage.ErrStaleTransition
	}
	if !expected.CanTransition(next) {
		return storage.ErrStaleTransition
	}
	d.Status = next
	if set.StoragePath != nil {
		d.StoragePath = set.StoragePath
	}
	if set.ContentHash != nil {
		d.ContentHash = set.ContentHash
	}
	if set.ErrorMessage != nil {
		d.ErrorMessage = set.ErrorMessage
	}
	if set.DownloadedAt != nil {
		d.DownloadedAt = set.DownloadedAt
	}
	if set.ParsedAt != nil {
		d.ParsedAt = set.ParsedAt
	}
	return nil
}

func (m *memDocStore) Fail(_ context.Context, id string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.docs[id]; ok && d.Status != types.DocFailed {
		d.Status = types.DocFailed
		d.ErrorMessage = &message
	}
	return nil
}

func (m *memDocStore) SaveContent(_ context.Context, content *types.DocumentContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *content
	m.contents[content.DocumentID] = &copied
	return nil
}

func (m *memDocStore) GetContent(_ context.Context, documentID string) (*types.DocumentContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contents[documentID]
	if !ok {
		return nil, storage.ErrNoRows
	}
	copied := *c
	return &copied, nil
}

func (m *memDocStore) Link(_ context.Context, link types.DocumentInstrument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[link.DocumentID] = append(m.links[link.DocumentID], link)
	return nil
}

func (m *memDocStore) LinkedInstruments(_ context.Context, documentID string) ([]types.DocumentInstrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.DocumentInstrument(nil), m.links[documentID]...), nil
}

func (m *memDocStore) SaveFact(_ context.Context, fact *types.Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	m.facts = append(m.facts, *fact)
	return nil
}

type memSignalStore struct {
	mu      sync.Mutex
	signals map[string]types.Signal // instrumentID|type
}

func newMemSignalStore() *memSignalStore {
	return &memSignalStore{signals: make(map[string]types.Signal)}
}

func (m *memSignalStore) Upsert(_ context.Context, s *types.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals[s.InstrumentID+"|"+string(s.Type)] = *s
	return nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

// The discovery dedup law: inserting the same accession twice yields 1 then
// 0, and one row exists for the source id.
func TestBatchInsertDeduplicates(t *testing.T) {
	t.Parallel()
	store := newMemDocStore()
	ctx := context.Background()

	doc := types.Document{
		Type:     types.DocTypeFiling,
		SourceID: "0001318605-26-000010",
	}

	n, err := store.BatchInsert(ctx, []types.Document{doc})
	if err != nil || n != 1 {
		t.Fatalf("first insert = %d, %v; want 1", n, err)
	}
	n, err = store.BatchInsert(ctx, []types.Document{doc})
	if err != nil || n != 0 {
		t.Fatalf("second insert = %d, %v; want 0", n, err)
	}
	if len(store.docs) != 1 {
		t.Errorf("rows = %d, want 1", len(store.docs))
	}
}

// The lifecycle happy path: a PENDING news document whose URL serves enough
// keyword-dense text ends ENRICHED, with the SHA-256 of the cleaned text on
// the row and a signal upserted for the linked instrument.
func TestLifecycleHappyPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	body := "<html><body><p>" +
		strings.Repeat("The company announced layoffs and a workforce reduction affecting 1,200 employees. ", 8) +
		"</p></body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	store := newMemDocStore()
	signalStore := newMemSignalStore()
	blobs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}

	n, err := store.BatchInsert(ctx, []types.Document{{
		Type:      types.DocTypeNews,
		SourceID:  "article-1",
		SourceURL: srv.URL,
		Publisher: "Test Wire",
	}})
	if err != nil || n != 1 {
		t.Fatalf("insert = %d, %v", n, err)
	}
	doc, err := store.GetBySourceID(ctx, "article-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if err := store.Link(ctx, types.DocumentInstrument{
		DocumentID: doc.ID, InstrumentID: "inst-1", Relevance: 1, Method: types.MatchExactSymbol,
	}); err != nil {
		t.Fatalf("link: %v", err)
	}

	sigCfg := config.SignalsConfig{
		MinConfidence: 0.4,
		MinDensity:    0.5,
		Expiry:        90 * 24 * time.Hour,
	}

	downloader := NewDownloader(store, blobs, "test-agent", 10, testLogger())
	parser := NewParser(store, blobs, 10, testLogger())
	enricher := NewEnricher(store, signalStore, sigCfg, 10, testLogger())

	if err := downloader.Run(ctx); err != nil {
		t.Fatalf("download: %v", err)
	}
	if err := parser.Run(ctx); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := enricher.Run(ctx); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	final, err := store.GetBySourceID(ctx, "article-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if final.Status != types.DocEnriched {
		t.Fatalf("status = %s (error %v), want ENRICHED", final.Status, final.ErrorMessage)
	}
	if final.StoragePath == nil || final.ContentHash == nil || final.DownloadedAt == nil {
		t.Fatal("DOWNLOADED columns not recorded")
	}

	// The content hash is the SHA-256 of the cleaned text in the blob.
	stored, err := blobs.Get(ctx, *final.StoragePath)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	sum := sha256.Sum256(stored)
	if hex.EncodeToString(sum[:]) != *final.ContentHash {
		t.Error("content hash does not match stored text")
	}
	if !strings.HasPrefix(*final.StoragePath, "test-wire/") {
		t.Errorf("storage path = %q, want publisher slug prefix", *final.StoragePath)
	}

	if len(store.facts) == 0 {
		t.Error("no facts persisted")
	}
	if _, ok := signalStore.signals["inst-1|"+string(types.SignalLayoffs)]; !ok {
		t.Errorf("no layoffs signal for linked instrument; have %v", signalKeys(signalStore))
	}

	// Re-running enrichment on an ENRICHED document is a no-op for signals
	// (there is nothing left in PARSED), so no duplicates appear.
	before := len(signalStore.signals)
	if err := enricher.Run(ctx); err != nil {
		t.Fatalf("re-enrich: %v", err)
	}
	if len(signalStore.signals) != before {
		t.Error("re-run duplicated signals")
	}
}

// A document whose source serves too little text fails alone, recording the
// error, and never reaches DOWNLOADED.
func TestShortTextFailsDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<p>too short</p>"))
	}))
	defer srv.Close()

	store := newMemDocStore()
	blobs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}

	if _, err := store.BatchInsert(ctx, []types.Document{{
		Type: types.DocTypeNews, SourceID: "short-1", SourceURL: srv.URL, Publisher: "wire",
	}}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	downloader := NewDownloader(store, blobs, "test-agent", 10, testLogger())
	if err := downloader.Run(ctx); err != nil {
		t.Fatalf("download: %v", err)
	}

	doc, _ := store.GetBySourceID(ctx, "short-1")
	if doc.Status != types.DocFailed {
		t.Errorf("status = %s, want FAILED", doc.Status)
	}
	if doc.ErrorMessage == nil || !strings.Contains(*doc.ErrorMessage, "too short") {
		t.Errorf("errorMessage = %v", doc.ErrorMessage)
	}
}

func signalKeys(s *memSignalStore) []string {
	out := make([]string, 0, len(s.signals))
	for k := range s.signals {
		out = append(out, k)
	}
	return out
}
