// clobws.go implements the CLOB WebSocket feed for real-time market data.
//
// The feed subscribes by token id and receives three message kinds:
// order-book deltas (optionally framed as a full-snapshot replay with
// snapshot=start/end markers), trades, and best-bid/ask price updates.
// Messages are normalized to types.StreamMessage with the (conditionId,
// outcome) pair resolved from the subscription registry, so downstream
// consumers never see token ids.
//
// The connection auto-reconnects with exponential backoff (1s → 30s max),
// sends a heartbeat at a configured interval, and re-subscribes every
// tracked pair on reconnection. Each reconnect is announced on the
// Reconnects channel so the stream service can re-seed book state.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"market-intel/pkg/types"
)

const (
	wsReadTimeout      = 90 * time.Second // ~2 missed heartbeats triggers reconnect
	wsWriteTimeout     = 10 * time.Second
	wsMaxReconnectWait = 30 * time.Second
	wsBufferSize       = 1024
)

// Subscription identifies one (market, outcome) pair and the token id the
// upstream keys its messages by.
type Subscription struct {
	ConditionID string
	Outcome     types.Outcome
	TokenID     string
}

// MarketFeed manages the market-data WebSocket connection: lifecycle,
// subscription tracking, message normalization, and reconnection.
type MarketFeed struct {
	url       string
	heartbeat time.Duration

	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	// Track subscriptions for automatic re-subscribe on reconnect.
	subMu sync.RWMutex
	subs  map[string]Subscription // token id → pair

	msgCh       chan types.StreamMessage
	reconnectCh chan struct{}

	log zerolog.Logger
}

// NewMarketFeed creates a feed for the given WebSocket URL.
func NewMarketFeed(wsURL string, heartbeat time.Duration, log zerolog.Logger) *MarketFeed {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &MarketFeed{
		url:         wsURL,
		heartbeat:   heartbeat,
		subs:        make(map[string]Subscription),
		msgCh:       make(chan types.StreamMessage, wsBufferSize),
		reconnectCh: make(chan struct{}, 1),
		log:         log.With().Str("component", "clob_ws").Logger(),
	}
}

// Messages returns the normalized message stream. Messages for one token
// are delivered in upstream order; no ordering holds across tokens.
func (f *MarketFeed) Messages() <-chan types.StreamMessage { return f.msgCh }

// Reconnects signals each successful reconnection so consumers can re-seed
// their state from REST snapshots.
func (f *MarketFeed) Reconnects() <-chan struct{} { return f.reconnectCh }

// Run connects and maintains the connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *MarketFeed) Run(ctx context.Context) error {
	backoff := time.Second
	first := true

	for {
		err := f.connectAndRead(ctx, first)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		first = false

		f.log.Warn().Err(err).Dur("backoff", backoff).Msg("websocket disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > wsMaxReconnectWait {
			backoff = wsMaxReconnectWait
		}
	}
}

// Subscribe adds pairs to the live feed. Safe to call before Run; the
// initial subscription is sent on connect.
func (f *MarketFeed) Subscribe(pairs []Subscription) error {
	f.subMu.Lock()
	ids := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := f.subs[p.TokenID]; !ok {
			ids = append(ids, p.TokenID)
		}
		f.subs[p.TokenID] = p
	}
	f.subMu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	return f.writeJSON(wsSubscribeMsg{Operation: "subscribe", AssetIDs: ids})
}

// Unsubscribe removes pairs from the feed.
func (f *MarketFeed) Unsubscribe(pairs []Subscription) error {
	f.subMu.Lock()
	ids := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := f.subs[p.TokenID]; ok {
			ids = append(ids, p.TokenID)
			delete(f.subs, p.TokenID)
		}
	}
	f.subMu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	return f.writeJSON(wsSubscribeMsg{Operation: "unsubscribe", AssetIDs: ids})
}

// Subscribed reports whether a token is currently tracked.
func (f *MarketFeed) Subscribed(tokenID string) bool {
	f.subMu.RLock()
	defer f.subMu.RUnlock()
	_, ok := f.subs[tokenID]
	return ok
}

// Close gracefully closes the connection.
func (f *MarketFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

type wsSubscribeMsg struct {
	Operation string   `json:"operation"`
	AssetIDs  []string `json:"asset_ids"`
}

// wsRawMessage is the upstream wire shape before normalization.
type wsRawMessage struct {
	EventType string `json:"event_type"` // orderbook_update | trade | price_update
	AssetID   string `json:"asset_id"`
	Timestamp string `json:"timestamp"` // epoch millis as string

	Side     string `json:"side,omitempty"`
	Price    string `json:"price,omitempty"`
	Size     string `json:"size,omitempty"`
	Snapshot string `json:"snapshot,omitempty"` // "start" | "end" | ""

	BestBid string `json:"best_bid,omitempty"`
	BestAsk string `json:"best_ask,omitempty"`
	Mid     string `json:"mid,omitempty"`
}

func (f *MarketFeed) connectAndRead(ctx context.Context, first bool) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.log.Info().Msg("websocket connected")

	// Announce reconnects (not the first connect) so state gets re-seeded.
	if !first {
		select {
		case f.reconnectCh <- struct{}{}:
		default:
		}
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *MarketFeed) sendInitialSubscription() error {
	f.subMu.RLock()
	ids := make([]string, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	f.subMu.RUnlock()

	if len(ids) == 0 {
		return nil
	}
	return f.writeJSON(wsSubscribeMsg{Operation: "subscribe", AssetIDs: ids})
}

func (f *MarketFeed) dispatchMessage(data []byte) {
	var raw wsRawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		f.log.Debug().Str("data", string(data)).Msg("ignoring non-json ws message")
		return
	}

	f.subMu.RLock()
	sub, ok := f.subs[raw.AssetID]
	f.subMu.RUnlock()
	if !ok {
		f.log.Debug().Str("asset", raw.AssetID).Msg("message for untracked token")
		return
	}

	msg := types.StreamMessage{
		Type:        raw.EventType,
		ConditionID: sub.ConditionID,
		Outcome:     sub.Outcome,
		Timestamp:   parseEpochMillis(raw.Timestamp),
	}

	switch raw.EventType {
	case "orderbook_update":
		msg.Side = types.BookSide(raw.Side)
		msg.Price = raw.Price
		msg.Size = raw.Size
		msg.Framing = types.SnapshotFraming(raw.Snapshot)

	case "trade":
		msg.TradePrice = raw.Price
		msg.TradeSize = raw.Size
		msg.TradeSide = raw.Side

	case "price_update":
		msg.BestBid = raw.BestBid
		msg.BestAsk = raw.BestAsk
		msg.Mid = raw.Mid

	default:
		f.log.Debug().Str("type", raw.EventType).Msg("unknown ws event type")
		return
	}

	select {
	case f.msgCh <- msg:
	default:
		f.log.Warn().Str("market", sub.ConditionID).Msg("message channel full, dropping event")
	}
}

func (f *MarketFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(f.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.log.Warn().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (f *MarketFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return nil // queued; initial subscription is sent on connect
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteJSON(v)
}

func (f *MarketFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteMessage(msgType, data)
}

func parseEpochMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
