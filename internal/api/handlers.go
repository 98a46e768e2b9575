package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"market-intel/internal/auth"
	"market-intel/internal/cache"
	"market-intel/internal/candles"
	"market-intel/internal/positions"
	"market-intel/internal/storage"
	"market-intel/internal/stream"
	"market-intel/internal/trades"
	"market-intel/pkg/types"
)

// MarketReader is the market repository slice handlers read.
type MarketReader interface {
	Get(ctx context.Context, conditionID string) (*types.Market, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]types.Market, int, error)
}

// InstrumentReader resolves instruments for candle/signal queries.
type InstrumentReader interface {
	Get(ctx context.Context, id string) (*types.Instrument, error)
}

// SignalReader serves active signals.
type SignalReader interface {
	Active(ctx context.Context, instrumentID string) ([]types.Signal, error)
}

// SnapshotReader is the persisted-snapshot fallback for depth queries.
type SnapshotReader interface {
	GetSnapshot(ctx context.Context, conditionID string, outcome types.Outcome) (*types.OrderbookSnapshot, error)
}

// Handlers implements the HTTP endpoints.
type Handlers struct {
	markets     MarketReader
	instruments InstrumentReader
	signals     SignalReader
	snapshots   SnapshotReader
	stream      *stream.Service
	candles     *candles.Service
	positions   *positions.Service
	auth        *auth.Service
	preparer    *trades.Preparer
	caches      *cache.Caches
	log         zerolog.Logger
}

// NewHandlers wires the handler set.
func NewHandlers(markets MarketReader, instruments InstrumentReader, signals SignalReader,
	snapshots SnapshotReader, streamSvc *stream.Service, candleSvc *candles.Service,
	positionSvc *positions.Service, authSvc *auth.Service, preparer *trades.Preparer,
	caches *cache.Caches, log zerolog.Logger) *Handlers {
	return &Handlers{
		markets:     markets,
		instruments: instruments,
		signals:     signals,
		snapshots:   snapshots,
		stream:      streamSvc,
		candles:     candleSvc,
		positions:   positionSvc,
		auth:        authSvc,
		preparer:    preparer,
		caches:      caches,
		log:         log.With().Str("component", "handlers").Logger(),
	}
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListMarkets serves GET /markets?active&limit&offset.
func (h *Handlers) ListMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	activeOnly := q.Get("active") == "true"
	limit := intParam(q.Get("limit"), 50, 1, 500)
	offset := intParam(q.Get("offset"), 0, 0, 1<<30)

	markets, total, err := h.markets.List(r.Context(), activeOnly, limit, offset)
	if err != nil {
		h.serverError(w, err, "list markets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markets": markets,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetMarket serves GET /markets/{id}.
func (h *Handlers) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if m, ok := h.caches.Market(id); ok {
		writeJSON(w, http.StatusOK, m)
		return
	}

	m, err := h.markets.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNoRows) {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}
	if err != nil {
		h.serverError(w, err, "get market")
		return
	}

	h.caches.PutMarket(m)
	writeJSON(w, http.StatusOK, m)
}

// GetOrderbook serves GET /markets/{id}/orderbook?outcome. Live state wins;
// the persisted snapshot is the fallback when the pair is not streamed.
func (h *Handlers) GetOrderbook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	outcome, ok := parseOutcome(r.URL.Query().Get("outcome"))
	if !ok {
		writeError(w, http.StatusBadRequest, "outcome must be YES or NO")
		return
	}

	if book := h.stream.Book(id, outcome); book != nil {
		bids, asks := book.Levels()
		writeJSON(w, http.StatusOK, map[string]any{
			"conditionId": id,
			"outcome":     outcome,
			"bids":        bids,
			"asks":        asks,
			"updatedAt":   book.LastUpdated(),
		})
		return
	}

	if snap, ok := h.caches.Book(id, outcome); ok {
		writeJSON(w, http.StatusOK, snap)
		return
	}

	snap, err := h.snapshots.GetSnapshot(r.Context(), id, outcome)
	if errors.Is(err, storage.ErrNoRows) {
		writeError(w, http.StatusNotFound, "no order book for market")
		return
	}
	if err != nil {
		h.serverError(w, err, "get snapshot")
		return
	}
	h.caches.PutBook(snap)
	writeJSON(w, http.StatusOK, snap)
}

// GetMarketCandles serves GET /markets/{id}/candles?outcome&interval&from&to&limit.
func (h *Handlers) GetMarketCandles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	outcome, ok := parseOutcome(q.Get("outcome"))
	if !ok {
		writeError(w, http.StatusBadRequest, "outcome must be YES or NO")
		return
	}
	interval := types.Interval(q.Get("interval"))
	if _, ok := interval.Duration(); !ok {
		writeError(w, http.StatusBadRequest, "invalid interval")
		return
	}
	from, to, err := parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := intParam(q.Get("limit"), 0, 0, 10000)

	if _, err := h.markets.Get(r.Context(), id); errors.Is(err, storage.ErrNoRows) {
		writeError(w, http.StatusNotFound, "market not found")
		return
	} else if err != nil {
		h.serverError(w, err, "get market")
		return
	}

	bars, err := h.candles.MarketCandles(r.Context(), id, outcome, interval, from, to, limit)
	if err != nil {
		h.serverError(w, err, "aggregate candles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candles": bars})
}

// GetInstrumentCandles serves GET /instruments/{id}/candles?interval&from&to.
func (h *Handlers) GetInstrumentCandles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	interval := types.Interval(q.Get("interval"))
	if _, ok := interval.Duration(); !ok {
		writeError(w, http.StatusBadRequest, "invalid interval")
		return
	}
	from, to, err := parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inst, err := h.instruments.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNoRows) {
		writeError(w, http.StatusNotFound, "instrument not found")
		return
	}
	if err != nil {
		h.serverError(w, err, "get instrument")
		return
	}

	bars, err := h.candles.InstrumentCandles(r.Context(), inst.ID, inst.Symbol, interval, from, to)
	if err != nil {
		h.serverError(w, err, "instrument candles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candles": bars})
}

// GetInstrumentSignals serves GET /instruments/{id}/signals.
func (h *Handlers) GetInstrumentSignals(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.instruments.Get(r.Context(), id); errors.Is(err, storage.ErrNoRows) {
		writeError(w, http.StatusNotFound, "instrument not found")
		return
	} else if err != nil {
		h.serverError(w, err, "get instrument")
		return
	}

	sigs, err := h.signals.Active(r.Context(), id)
	if err != nil {
		h.serverError(w, err, "active signals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": sigs})
}

// GetNonce serves GET /auth/nonce?wallet=0x….
func (h *Handlers) GetNonce(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	challenge, err := h.auth.IssueNonce(r.Context(), wallet)
	if errors.Is(err, auth.ErrInvalidWallet) {
		writeError(w, http.StatusBadRequest, "wallet must match ^0x[0-9a-fA-F]{40}$")
		return
	}
	if err != nil {
		h.serverError(w, err, "issue nonce")
		return
	}
	writeJSON(w, http.StatusOK, challenge)
}

type walletKey struct{}

// RequireWallet authenticates protected endpoints: the caller presents
// X-Wallet, X-Nonce and X-Signature headers carrying an EIP-712 signature
// over a previously issued nonce. Nonces are single-use.
func (h *Handlers) RequireWallet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet := r.Header.Get("X-Wallet")
		nonce := r.Header.Get("X-Nonce")
		signature := r.Header.Get("X-Signature")

		if wallet == "" || nonce == "" || signature == "" {
			writeError(w, http.StatusUnauthorized, "missing auth headers")
			return
		}

		err := h.auth.Verify(r.Context(), wallet, nonce, signature)
		switch {
		case errors.Is(err, auth.ErrInvalidWallet):
			writeError(w, http.StatusBadRequest, "invalid wallet address")
			return
		case errors.Is(err, auth.ErrNonceInvalid), errors.Is(err, auth.ErrBadSignature):
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		case err != nil:
			h.serverError(w, err, "verify signature")
			return
		}

		ctx := context.WithValue(r.Context(), walletKey{}, strings.ToLower(wallet))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPositions serves GET /positions/{wallet} (protected). The path wallet
// must be the authenticated wallet.
func (h *Handlers) GetPositions(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	if !auth.ValidWallet(wallet) {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}
	authed, _ := r.Context().Value(walletKey{}).(string)
	if !strings.EqualFold(wallet, authed) {
		writeError(w, http.StatusForbidden, "wallet mismatch")
		return
	}

	pos, err := h.positions.ForWallet(r.Context(), wallet)
	if err != nil {
		h.serverError(w, err, "aggregate positions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallet": strings.ToLower(wallet), "positions": pos})
}

// PrepareTrade serves POST /trades/prepare (protected).
func (h *Handlers) PrepareTrade(w http.ResponseWriter, r *http.Request) {
	var req trades.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	authed, _ := r.Context().Value(walletKey{}).(string)
	if !strings.EqualFold(req.Wallet, authed) {
		writeError(w, http.StatusForbidden, "wallet mismatch")
		return
	}
	outcome, ok := parseOutcome(string(req.Outcome))
	if !ok {
		writeError(w, http.StatusBadRequest, "outcome must be YES or NO")
		return
	}
	req.Outcome = outcome

	m, err := h.markets.Get(r.Context(), req.ConditionID)
	if errors.Is(err, storage.ErrNoRows) {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}
	if err != nil {
		h.serverError(w, err, "get market")
		return
	}

	token := m.TokenID(outcome)
	if token == "" {
		writeError(w, http.StatusBadRequest, "market has no token for outcome")
		return
	}

	book := h.stream.Book(req.ConditionID, outcome)
	var view trades.BookView
	if book != nil {
		view = book
	}

	unsigned, err := h.preparer.Prepare(req, view, token)
	switch {
	case errors.Is(err, trades.ErrNoBook):
		writeError(w, http.StatusConflict, "no live order book for market")
		return
	case errors.Is(err, trades.ErrInsufficientLiquidity):
		writeError(w, http.StatusUnprocessableEntity, "insufficient liquidity for requested size")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, unsigned)
}

func (h *Handlers) serverError(w http.ResponseWriter, err error, op string) {
	h.log.Error().Err(err).Str("op", op).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseOutcome canonicalizes the outcome parameter; absent defaults to YES.
func parseOutcome(s string) (types.Outcome, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "YES":
		return types.OutcomeYes, true
	case "NO":
		return types.OutcomeNo, true
	}
	return "", false
}

func intParam(s string, def, min, max int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < min {
		return def
	}
	if v > max {
		return max
	}
	return v
}

// parseRange parses from/to as epoch millis.
func parseRange(fromStr, toStr string) (time.Time, time.Time, error) {
	if fromStr == "" || toStr == "" {
		return time.Time{}, time.Time{}, errors.New("from and to are required (epoch millis)")
	}
	fromMs, err := strconv.ParseInt(fromStr, 10, 64)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid from")
	}
	toMs, err := strconv.ParseInt(toStr, 10, 64)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid to")
	}
	from := time.UnixMilli(fromMs).UTC()
	to := time.UnixMilli(toMs).UTC()
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	return from, to, nil
}
