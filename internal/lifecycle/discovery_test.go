package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"market-intel/internal/sources"
	"market-intel/internal/storage"
	"market-intel/pkg/types"
)

type memInstrumentStore struct {
	mu          sync.Mutex
	bySymbol    map[string]*types.Instrument
	identifiers map[string]string // "TYPE:value" → instrument id
}

func newMemInstrumentStore() *memInstrumentStore {
	return &memInstrumentStore{
		bySymbol:    make(map[string]*types.Instrument),
		identifiers: make(map[string]string),
	}
}

func (m *memInstrumentStore) add(symbol string, instType types.InstrumentType) *types.Instrument {
	inst := &types.Instrument{ID: uuid.NewString(), Symbol: symbol, Type: instType, Status: types.InstrumentActive}
	m.bySymbol[symbol] = inst
	return inst
}

func (m *memInstrumentStore) GetBySymbol(_ context.Context, symbol string) (*types.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.bySymbol[symbol]; ok {
		return inst, nil
	}
	return nil, storage.ErrNoRows
}

func (m *memInstrumentStore) GetByIdentifier(_ context.Context, idType types.IdentifierType, value string) (*types.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.identifiers[string(idType)+":"+value]
	if !ok {
		return nil, storage.ErrNoRows
	}
	for _, inst := range m.bySymbol {
		if inst.ID == id {
			return inst, nil
		}
	}
	return nil, storage.ErrNoRows
}

func (m *memInstrumentStore) EnsureBySymbol(_ context.Context, symbol string, instType types.InstrumentType) (*types.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.bySymbol[symbol]; ok {
		return inst, nil
	}
	return m.add(symbol, instType), nil
}

func (m *memInstrumentStore) SetIdentifier(_ context.Context, id string, idType types.IdentifierType, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identifiers[string(idType)+":"+value] = id
	return nil
}

func (m *memInstrumentStore) ListByType(_ context.Context, instType types.InstrumentType) ([]types.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Instrument
	for _, inst := range m.bySymbol {
		if inst.Type == instType {
			out = append(out, *inst)
		}
	}
	return out, nil
}

type memWatermarks struct {
	marks map[string]string
}

func (m *memWatermarks) Get(_ context.Context, source string) (string, error) {
	return m.marks[source], nil
}
func (m *memWatermarks) Set(_ context.Context, source, mark string) error {
	m.marks[source] = mark
	return nil
}

type fakeNews struct {
	articles []sources.NewsRecord
}

func (f *fakeNews) Articles(time.Time) sources.Pager[sources.NewsRecord] {
	return sources.NewPager(50, func(_ context.Context, offset int) ([]sources.NewsRecord, int, error) {
		if offset > 0 {
			return nil, len(f.articles), nil
		}
		return f.articles, len(f.articles), nil
	})
}

type fakeFilings struct {
	records []sources.FilingRecord
}

func (f *fakeFilings) RecentFilings(context.Context, []string, int) ([]sources.FilingRecord, error) {
	return f.records, nil
}

func TestNewsLinksExactAndKeyword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	docs := newMemDocStore()
	instruments := newMemInstrumentStore()
	acme := instruments.add("ACME", types.InstrumentEquity)
	instruments.add("ALL", types.InstrumentEquity) // stop-listed symbol

	news := &fakeNews{articles: []sources.NewsRecord{{
		ArticleID:      "a1",
		Title:          "ACME cuts outlook; ALL eyes on sector",
		Summary:        "TSLA mentioned in passing.",
		URL:            "https://example.com/a1",
		Publisher:      "wire",
		PublishedAt:    time.Now().UTC(),
		RelatedTickers: []string{"TSLA"},
	}}}

	d := NewDiscovery(docs, instruments, &memWatermarks{marks: map[string]string{}},
		nil, news, nil, testLogger())

	if err := d.RunNews(ctx); err != nil {
		t.Fatalf("RunNews: %v", err)
	}

	doc, err := docs.GetBySourceID(ctx, "a1")
	if err != nil {
		t.Fatalf("article not inserted: %v", err)
	}

	links, _ := docs.LinkedInstruments(ctx, doc.ID)
	byInst := map[string]types.DocumentInstrument{}
	for _, l := range links {
		byInst[l.InstrumentID] = l
	}

	// TSLA via related tickers (creating a placeholder instrument).
	tsla, err := instruments.GetBySymbol(ctx, "TSLA")
	if err != nil {
		t.Fatal("related ticker did not create an instrument")
	}
	if l, ok := byInst[tsla.ID]; !ok || l.Method != types.MatchExactSymbol || l.Relevance != 1.0 {
		t.Errorf("TSLA link = %+v", byInst[tsla.ID])
	}

	// ACME via keyword scan of the title.
	if l, ok := byInst[acme.ID]; !ok || l.Method != types.MatchKeyword {
		t.Errorf("ACME link = %+v", byInst[acme.ID])
	}

	// "ALL" is stop-listed and never linked by keyword.
	all, _ := instruments.GetBySymbol(ctx, "ALL")
	if _, ok := byInst[all.ID]; ok {
		t.Error("stop-listed symbol linked by keyword scan")
	}
}

func TestNewsRediscoveryIsNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	docs := newMemDocStore()
	instruments := newMemInstrumentStore()
	news := &fakeNews{articles: []sources.NewsRecord{{
		ArticleID:   "a1",
		Title:       "headline",
		PublishedAt: time.Now().UTC(),
	}}}

	d := NewDiscovery(docs, instruments, &memWatermarks{marks: map[string]string{}},
		nil, news, nil, testLogger())

	if err := d.RunNews(ctx); err != nil {
		t.Fatalf("first RunNews: %v", err)
	}
	if err := d.RunNews(ctx); err != nil {
		t.Fatalf("second RunNews: %v", err)
	}

	if len(docs.docs) != 1 {
		t.Errorf("documents = %d, want 1 after rediscovery", len(docs.docs))
	}
}

func TestFilingsCreatePlaceholderByCIK(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	docs := newMemDocStore()
	instruments := newMemInstrumentStore()
	filings := &fakeFilings{records: []sources.FilingRecord{{
		AccessionNumber: "0001318605-26-000010",
		FormType:        "8-K",
		CIK:             "0001318605",
		CompanyName:     "Acme Corp",
		Title:           "8-K - Acme Corp",
		FiledAt:         time.Now().UTC(),
		DocumentURL:     "https://example.com/filing",
	}}}

	d := NewDiscovery(docs, instruments, &memWatermarks{marks: map[string]string{}},
		filings, nil, nil, testLogger())

	if err := d.RunFilings(ctx); err != nil {
		t.Fatalf("RunFilings: %v", err)
	}

	doc, err := docs.GetBySourceID(ctx, "0001318605-26-000010")
	if err != nil {
		t.Fatalf("filing not inserted: %v", err)
	}

	links, _ := docs.LinkedInstruments(ctx, doc.ID)
	if len(links) != 1 || links[0].Method != types.MatchCIK {
		t.Fatalf("links = %+v, want one CIK link", links)
	}

	// The placeholder resolves by CIK on the next pass, so re-running does
	// not create another instrument.
	inst, err := instruments.GetByIdentifier(ctx, types.IdentifierCIK, "0001318605")
	if err != nil {
		t.Fatal("placeholder instrument has no CIK identifier")
	}
	if links[0].InstrumentID != inst.ID {
		t.Error("link does not reference the placeholder instrument")
	}
}
