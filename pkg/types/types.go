// Package types defines the shared domain model for the market intelligence
// backend: instruments and their identifiers, prediction markets, documents
// moving through the ingestion lifecycle, extracted facts, computed signals,
// ETF metrics, and the OHLCV candle shape served to the terminal.
//
// Prices, sizes and NAV values coming from external sources are carried as
// decimal strings end-to-end and only parsed (shopspring/decimal) inside
// comparators and aggregators, so no precision is lost in transit.
package types

import "time"

// InstrumentType classifies a tradable entity.
type InstrumentType string

const (
	InstrumentEquity InstrumentType = "EQUITY"
	InstrumentETF    InstrumentType = "ETF"
	InstrumentOption InstrumentType = "OPTION"
)

// InstrumentStatus tracks soft activation. Instruments are never deleted.
type InstrumentStatus string

const (
	InstrumentActive   InstrumentStatus = "ACTIVE"
	InstrumentInactive InstrumentStatus = "INACTIVE"
)

// IdentifierType is an issuer identifier scheme. Each type is unique per
// instrument.
type IdentifierType string

const (
	IdentifierCIK    IdentifierType = "CIK"
	IdentifierCUSIP  IdentifierType = "CUSIP"
	IdentifierISIN   IdentifierType = "ISIN"
	IdentifierFIGI   IdentifierType = "FIGI"
	IdentifierTicker IdentifierType = "TICKER"
)

// Instrument is a tradable entity (equity, ETF, option). Created on first
// observation, updated by enrichment, soft-deactivated — never deleted.
type Instrument struct {
	ID        string           `db:"id" json:"id"`
	Type      InstrumentType   `db:"type" json:"type"`
	Symbol    string           `db:"symbol" json:"symbol"`
	Name      string           `db:"name" json:"name"`
	Exchange  string           `db:"exchange" json:"exchange"`
	Status    InstrumentStatus `db:"status" json:"status"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time        `db:"updated_at" json:"updatedAt"`
}

// Identifier maps an identifier scheme to its value for one instrument.
type Identifier struct {
	InstrumentID string         `db:"instrument_id" json:"instrumentId"`
	Type         IdentifierType `db:"type" json:"type"`
	Value        string         `db:"value" json:"value"`
}

// Outcome is a prediction-market side. Labels are canonicalized to upper
// case at the adapter boundary.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Market is a prediction market. The outcome → token map is immutable once
// set; Active=false implies no new stream subscriptions.
type Market struct {
	ConditionID      string    `db:"condition_id" json:"conditionId"`
	Question         string    `db:"question" json:"question"`
	Slug             string    `db:"slug" json:"slug"`
	Outcomes         []string  `db:"-" json:"outcomes"`
	TokenIDs         []string  `db:"-" json:"tokenIds"` // index-aligned with Outcomes
	EndDate          time.Time `db:"end_date" json:"endDate"`
	Active           bool      `db:"active" json:"active"`
	Closed           bool      `db:"closed" json:"closed"`
	Liquidity        string    `db:"liquidity" json:"liquidity"`
	Volume24h        string    `db:"volume_24h" json:"volume24h"`
	LastYesPrice     string    `db:"last_yes_price" json:"lastYesPrice"`
	LastNoPrice      string    `db:"last_no_price" json:"lastNoPrice"`
	LastUpdatedBlock int64     `db:"last_updated_block" json:"lastUpdatedBlock"`
	IndexedAt        time.Time `db:"indexed_at" json:"indexedAt"`
}

// TokenID returns the token id for an outcome, or "" if unmapped.
func (m *Market) TokenID(outcome Outcome) string {
	for i, label := range m.Outcomes {
		if Outcome(label) == outcome && i < len(m.TokenIDs) {
			return m.TokenIDs[i]
		}
	}
	return ""
}

// DocumentStatus is the lifecycle state of a document. Transitions are
// monotonic along PENDING → DOWNLOADING → DOWNLOADED → PARSED → ENRICHED;
// any state may transition to FAILED.
type DocumentStatus string

const (
	DocPending     DocumentStatus = "PENDING"
	DocDownloading DocumentStatus = "DOWNLOADING"
	DocDownloaded  DocumentStatus = "DOWNLOADED"
	DocParsed      DocumentStatus = "PARSED"
	DocEnriched    DocumentStatus = "ENRICHED"
	DocFailed      DocumentStatus = "FAILED"
)

// rank orders lifecycle states for the monotonicity check.
var statusRank = map[DocumentStatus]int{
	DocPending:     0,
	DocDownloading: 1,
	DocDownloaded:  2,
	DocParsed:      3,
	DocEnriched:    4,
}

// CanTransition reports whether moving from to next is a legal lifecycle
// step. FAILED is reachable from every state and is terminal.
func (s DocumentStatus) CanTransition(next DocumentStatus) bool {
	if s == DocFailed {
		return false
	}
	if next == DocFailed {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to == from+1
}

// DocumentType classifies the source of a document.
type DocumentType string

const (
	DocTypeFiling        DocumentType = "SEC_FILING"
	DocTypeFilingVariant DocumentType = "SEC_FILING_AMENDED"
	DocTypeTranscript    DocumentType = "EARNINGS_TRANSCRIPT"
	DocTypeNews          DocumentType = "NEWS_ARTICLE"
)

// Document is an opaque artifact moving through the ingestion lifecycle.
// SourceID is globally unique and is the deduplication key. StoragePath and
// ContentHash are set when the document reaches DOWNLOADED.
type Document struct {
	ID           string         `db:"id" json:"id"`
	Type         DocumentType   `db:"type" json:"type"`
	SourceID     string         `db:"source_id" json:"sourceId"`
	SourceURL    string         `db:"source_url" json:"sourceUrl"`
	Title        string         `db:"title" json:"title"`
	Summary      string         `db:"summary" json:"summary"`
	Publisher    string         `db:"publisher" json:"publisher"`
	PublishedAt  time.Time      `db:"published_at" json:"publishedAt"`
	Status       DocumentStatus `db:"status" json:"status"`
	StoragePath  *string        `db:"storage_path" json:"storagePath,omitempty"`
	ContentHash  *string        `db:"content_hash" json:"contentHash,omitempty"`
	ErrorMessage *string        `db:"error_message" json:"errorMessage,omitempty"`
	DownloadedAt *time.Time     `db:"downloaded_at" json:"downloadedAt,omitempty"`
	ParsedAt     *time.Time     `db:"parsed_at" json:"parsedAt,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
}

// MatchMethod tags how a document was linked to an instrument.
type MatchMethod string

const (
	MatchExactSymbol MatchMethod = "EXACT_SYMBOL"
	MatchKeyword     MatchMethod = "KEYWORD_SCAN"
	MatchCIK         MatchMethod = "CIK"
)

// DocumentInstrument links a document to an instrument with a relevance
// score in [0,1].
type DocumentInstrument struct {
	DocumentID   string      `db:"document_id" json:"documentId"`
	InstrumentID string      `db:"instrument_id" json:"instrumentId"`
	Relevance    float64     `db:"relevance" json:"relevance"`
	Method       MatchMethod `db:"method" json:"method"`
}

// DocumentContent is the 1-to-1 parsed text of a document. Sections maps a
// section label (form item, holdings block, PREPARED_REMARKS, QA) to its
// extracted text.
type DocumentContent struct {
	DocumentID string            `db:"document_id" json:"documentId"`
	FullText   string            `db:"full_text" json:"fullText"`
	Sections   map[string]string `db:"-" json:"sections"`
	WordCount  int               `db:"word_count" json:"wordCount"`
}

// FactType identifies a deterministic extraction rule family.
type FactType string

const (
	FactDilution       FactType = "DILUTION_RISK"
	FactGoingConcern   FactType = "GOING_CONCERN"
	FactLiquidity      FactType = "LIQUIDITY_STRESS"
	FactToxicFinancing FactType = "TOXIC_FINANCING"
	FactLayoffs        FactType = "LAYOFFS"
	FactGuidanceCut    FactType = "GUIDANCE_CUT"
)

// Snippet is a ±75-char evidence window around a keyword match, tagged with
// the section it fell in and the nearest preceding speaker label when the
// document is a transcript.
type Snippet struct {
	Text    string `json:"text"`
	Section string `json:"section,omitempty"`
	Speaker string `json:"speaker,omitempty"`
	Offset  int    `json:"offset"`
}

// Fact is a typed extraction from a document with evidence.
type Fact struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"documentId"`
	Type       FactType  `db:"type" json:"type"`
	Payload    []byte    `db:"payload" json:"payload"` // JSON quantitative fields
	Snippets   []Snippet `db:"-" json:"snippets"`
	Confidence float64   `db:"confidence" json:"confidence"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// Severity buckets a signal's urgency.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityFor derives severity from a 0–100 score and a 0–1 confidence.
// The same ladder is applied everywhere so severity is always reproducible
// from (score, confidence).
func SeverityFor(score, confidence float64) Severity {
	weighted := score * confidence
	switch {
	case weighted >= 70:
		return SeverityCritical
	case weighted >= 45:
		return SeverityHigh
	case weighted >= 20:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SignalType identifies a risk signal family.
type SignalType string

const (
	SignalDilution        SignalType = "DILUTION_RISK"
	SignalGoingConcern    SignalType = "GOING_CONCERN"
	SignalLiquidity       SignalType = "LIQUIDITY_STRESS"
	SignalToxicFinancing  SignalType = "TOXIC_FINANCING"
	SignalLayoffs         SignalType = "LAYOFFS"
	SignalGuidanceCut     SignalType = "GUIDANCE_CUT"
	SignalAPConcentration SignalType = "AP_CONCENTRATION"
	SignalFlowShock       SignalType = "FLOW_SHOCK"
	SignalTrackingStress  SignalType = "TRACKING_STRESS"
	SignalPeerMove        SignalType = "PEER_PRICE_MOVEMENT"
	SignalPeerImpact      SignalType = "PEER_IMPACT"
)

// Signal is a typed, scored, time-bounded assertion about an instrument's
// risk state. (InstrumentID, Type) is upsert-unique; expired signals are
// excluded from active queries.
type Signal struct {
	ID           string     `db:"id" json:"id"`
	InstrumentID string     `db:"instrument_id" json:"instrumentId"`
	Type         SignalType `db:"type" json:"type"`
	Severity     Severity   `db:"severity" json:"severity"`
	Score        float64    `db:"score" json:"score"`           // [0,100]
	Confidence   float64    `db:"confidence" json:"confidence"` // [0,1]
	Reason       string     `db:"reason" json:"reason"`
	Evidence     []byte     `db:"evidence" json:"evidence"` // JSON evidence objects
	ComputedAt   time.Time  `db:"computed_at" json:"computedAt"`
	ExpiresAt    time.Time  `db:"expires_at" json:"expiresAt"`
}

// EtfMetric is one row of an ETF time series. Nullable inputs are preserved
// as pointers; computations skip rows with missing required inputs rather
// than defaulting to zero. Unique on (InstrumentID, AsOfDate, SourceType).
type EtfMetric struct {
	InstrumentID    string    `db:"instrument_id" json:"instrumentId"`
	AsOfDate        time.Time `db:"as_of_date" json:"asOfDate"`
	SourceType      string    `db:"source_type" json:"sourceType"`
	NAV             *string   `db:"nav" json:"nav,omitempty"`
	MarketPrice     *string   `db:"market_price" json:"marketPrice,omitempty"`
	PremiumDiscount *float64  `db:"premium_discount" json:"premiumDiscount,omitempty"`
	FlowUnits       *float64  `db:"flow_units" json:"flowUnits,omitempty"`
	SharesOut       *float64  `db:"shares_out" json:"sharesOut,omitempty"`
}

// EtfApDetail is one authorized participant's share of an ETF's
// create/redeem activity on a given date.
type EtfApDetail struct {
	InstrumentID string    `db:"instrument_id" json:"instrumentId"`
	AsOfDate     time.Time `db:"as_of_date" json:"asOfDate"`
	APName       string    `db:"ap_name" json:"apName"`
	SharePct     float64   `db:"share_pct" json:"sharePct"` // [0,100]
}

// CompetitorLink relates two instruments with a relationship confidence.
type CompetitorLink struct {
	InstrumentID string  `db:"instrument_id" json:"instrumentId"`
	CompetitorID string  `db:"competitor_id" json:"competitorId"`
	Confidence   float64 `db:"confidence" json:"confidence"`
}

// BackfillStatus tracks one-shot historical trade ingestion per market.
type BackfillStatus string

const (
	BackfillInProgress BackfillStatus = "in_progress"
	BackfillCompleted  BackfillStatus = "completed"
	BackfillFailed     BackfillStatus = "failed"
)

// Backfill records the outcome of a historical trade backfill.
type Backfill struct {
	ConditionID       string         `db:"condition_id" json:"conditionId"`
	Status            BackfillStatus `db:"status" json:"status"`
	TradeEventsCount  int            `db:"trade_events_count" json:"tradeEventsCount"`
	EarliestTimestamp *time.Time     `db:"earliest_timestamp" json:"earliestTimestamp,omitempty"`
	LatestTimestamp   *time.Time     `db:"latest_timestamp" json:"latestTimestamp,omitempty"`
	ErrorMessage      *string        `db:"error_message" json:"errorMessage,omitempty"`
	StartedAt         time.Time      `db:"started_at" json:"startedAt"`
	FinishedAt        *time.Time     `db:"finished_at" json:"finishedAt,omitempty"`
}

// SyncWatermark records per-source incremental sync progress.
type SyncWatermark struct {
	Source    string    `db:"source" json:"source"`
	Watermark string    `db:"watermark" json:"watermark"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
