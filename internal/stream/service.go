// Package stream implements the real-time market-data service. It merges a
// REST seed snapshot with incremental WebSocket deltas into maintained
// per-(market, outcome) order-book state, persists the resulting event log,
// and fans events out on the in-process bus.
//
// The service owns all BookState instances exclusively — no other component
// mutates them. Within one (market, outcome) stream, deltas are applied in
// arrival order by the single consumer goroutine.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-intel/internal/bus"
	"market-intel/internal/config"
	"market-intel/internal/sources"
	"market-intel/pkg/types"
)

// BookSeeder fetches the REST order-book seed.
type BookSeeder interface {
	GetOrderBook(ctx context.Context, tokenID string) (*sources.BookResponse, error)
}

// Feed is the upstream WebSocket connection.
type Feed interface {
	Subscribe(pairs []sources.Subscription) error
	Unsubscribe(pairs []sources.Subscription) error
	Messages() <-chan types.StreamMessage
	Reconnects() <-chan struct{}
}

// EventStore is the slice of the event repository the stream writes to.
type EventStore interface {
	InsertOrderbookEvent(ctx context.Context, ev *types.OrderbookEvent) error
	InsertTradeEvents(ctx context.Context, events []types.TradeEvent) (int, error)
	SaveSnapshot(ctx context.Context, snap *types.OrderbookSnapshot) error
}

// MarketStore is the slice of the market repository the stream reads.
type MarketStore interface {
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]types.Market, int, error)
	SetActive(ctx context.Context, conditionID string, active bool) error
}

// Service maintains live order-book state for every subscribed market.
type Service struct {
	cfg     config.StreamConfig
	seeder  BookSeeder
	feed    Feed
	events  EventStore
	markets MarketStore
	bus     *bus.Bus
	log     zerolog.Logger

	mu    sync.RWMutex
	books map[string]*BookState // key: conditionID|outcome

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the stream service.
func New(cfg config.StreamConfig, seeder BookSeeder, feed Feed, events EventStore, markets MarketStore, b *bus.Bus, log zerolog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		seeder:  seeder,
		feed:    feed,
		events:  events,
		markets: markets,
		bus:     b,
		log:     log.With().Str("component", "stream").Logger(),
		books:   make(map[string]*BookState),
	}
}

func bookKey(conditionID string, outcome types.Outcome) string {
	return conditionID + "|" + string(outcome)
}

// Start launches the consumer goroutine.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop cancels the consumer and waits for it to drain.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-s.feed.Messages():
			if !ok {
				return
			}
			s.handleMessage(ctx, msg)

		case <-s.feed.Reconnects():
			s.log.Info().Msg("feed reconnected, re-seeding book state")
			s.reseedAll(ctx)
		}
	}
}

// RefreshSubscriptions brings the live feed in line with the active market
// catalog: every active market with a token map gets subscribed and seeded.
// The indexer calls this after each sync batch so newly discovered markets
// join the feed without waiting for the next tick.
func (s *Service) RefreshSubscriptions(ctx context.Context) error {
	markets, _, err := s.markets.List(ctx, true, 10000, 0)
	if err != nil {
		return fmt.Errorf("list active markets: %w", err)
	}

	for i := range markets {
		m := &markets[i]
		for _, outcome := range []types.Outcome{types.OutcomeYes, types.OutcomeNo} {
			token := m.TokenID(outcome)
			if token == "" {
				continue
			}
			if s.tracked(m.ConditionID, outcome) {
				continue
			}
			if err := s.subscribePair(ctx, m, outcome, token); err != nil {
				s.log.Warn().Err(err).
					Str("market", m.ConditionID).
					Str("outcome", string(outcome)).
					Msg("subscription failed")
			}
		}
	}
	return nil
}

func (s *Service) tracked(conditionID string, outcome types.Outcome) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.books[bookKey(conditionID, outcome)]
	return ok
}

// subscribePair seeds state from the REST snapshot and joins the live feed.
// A missing book (closed market) skips the subscription and, when
// configured, deactivates the market.
func (s *Service) subscribePair(ctx context.Context, m *types.Market, outcome types.Outcome, token string) error {
	book, err := s.seedPair(ctx, m.ConditionID, outcome, token)
	if err != nil {
		if errors.Is(err, sources.ErrMarketNotFound) {
			s.log.Info().Str("market", m.ConditionID).Msg("no order book upstream, skipping subscription")
			if s.cfg.DeactivateOnNoBook {
				if err := s.markets.SetActive(ctx, m.ConditionID, false); err != nil {
					s.log.Error().Err(err).Str("market", m.ConditionID).Msg("deactivate failed")
				}
			}
			return nil
		}
		return err
	}

	s.mu.Lock()
	s.books[bookKey(m.ConditionID, outcome)] = book
	s.mu.Unlock()

	return s.feed.Subscribe([]sources.Subscription{{
		ConditionID: m.ConditionID,
		Outcome:     outcome,
		TokenID:     token,
	}})
}

// seedPair fetches the REST snapshot, persists it with its TTL and emits
// the seed event.
func (s *Service) seedPair(ctx context.Context, conditionID string, outcome types.Outcome, token string) (*BookState, error) {
	resp, err := s.seeder.GetOrderBook(ctx, token)
	if err != nil {
		return nil, err
	}

	book := NewBookState(conditionID, outcome)
	if err := book.Seed(resp.Bids, resp.Asks); err != nil {
		return nil, fmt.Errorf("seed book: %w", err)
	}

	now := time.Now().UTC()
	bids, asks := book.Levels()
	snap := &types.OrderbookSnapshot{
		ConditionID: conditionID,
		Outcome:     outcome,
		Bids:        bids,
		Asks:        asks,
		CapturedAt:  now,
		ExpiresAt:   now.Add(s.cfg.SnapshotTTL),
	}
	if err := s.events.SaveSnapshot(ctx, snap); err != nil {
		s.log.Error().Err(err).Str("market", conditionID).Msg("persist snapshot failed")
	}

	s.persistQuote(ctx, book, now)
	s.bus.Publish(bus.OrderbookChannel(conditionID), "orderbook_seed", snap)
	return book, nil
}

// reseedAll re-seeds every tracked pair after a reconnect, since deltas may
// have been missed while the socket was down.
func (s *Service) reseedAll(ctx context.Context) {
	markets, _, err := s.markets.List(ctx, true, 10000, 0)
	if err != nil {
		s.log.Error().Err(err).Msg("list markets for reseed")
		return
	}

	byID := make(map[string]*types.Market, len(markets))
	for i := range markets {
		byID[markets[i].ConditionID] = &markets[i]
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.books))
	for k := range s.books {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	for _, key := range keys {
		conditionID, outcome, ok := splitBookKey(key)
		if !ok {
			continue
		}
		m, found := byID[conditionID]
		if !found {
			continue
		}
		token := m.TokenID(outcome)
		if token == "" {
			continue
		}
		book, err := s.seedPair(ctx, conditionID, outcome, token)
		if err != nil {
			s.log.Warn().Err(err).Str("market", conditionID).Msg("reseed failed")
			continue
		}
		s.mu.Lock()
		s.books[key] = book
		s.mu.Unlock()
	}
}

func splitBookKey(key string) (string, types.Outcome, bool) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '|' {
			return key[:i], types.Outcome(key[i+1:]), true
		}
	}
	return "", "", false
}

func (s *Service) handleMessage(ctx context.Context, msg types.StreamMessage) {
	switch msg.Type {
	case "orderbook_update":
		s.handleDelta(ctx, msg)
	case "trade":
		s.handleTrade(ctx, msg)
	case "price_update":
		s.bus.Publish(bus.PriceChannel(msg.ConditionID), "price_update", msg)
	default:
		s.log.Debug().Str("type", msg.Type).Msg("unhandled stream message")
	}
}

func (s *Service) handleDelta(ctx context.Context, msg types.StreamMessage) {
	s.mu.RLock()
	book := s.books[bookKey(msg.ConditionID, msg.Outcome)]
	s.mu.RUnlock()
	if book == nil {
		return
	}

	emit, err := book.ApplyDelta(msg.Side, msg.Price, msg.Size, msg.Framing)
	if err != nil {
		s.log.Error().Err(err).Str("market", msg.ConditionID).Msg("apply delta")
		return
	}
	if !emit {
		return
	}

	ev := s.persistQuote(ctx, book, msg.Timestamp)
	if ev == nil {
		return
	}
	s.bus.Publish(bus.OrderbookChannel(msg.ConditionID), "orderbook_update", ev)
	s.bus.Publish(bus.PriceChannel(msg.ConditionID), "price_update", ev)
}

// persistQuote writes an OrderbookEvent derived from the current best
// bid/ask. Returns nil when either side is empty.
func (s *Service) persistQuote(ctx context.Context, book *BookState, ts time.Time) *types.OrderbookEvent {
	bid, ask, ok := book.Best()
	if !ok {
		return nil
	}
	mid, _ := book.Mid()

	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	ev := &types.OrderbookEvent{
		ConditionID: book.conditionID,
		Outcome:     book.outcome,
		Timestamp:   ts,
		BestBid:     bid.String(),
		BestAsk:     ask.String(),
		Mid:         mid.String(),
	}
	ev.NaturalID = fmt.Sprintf("%s:%s:%d:%s:%s",
		ev.ConditionID, ev.Outcome, ts.UnixMilli(), ev.BestBid, ev.BestAsk)

	if err := s.events.InsertOrderbookEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("market", ev.ConditionID).Msg("persist orderbook event")
		return nil
	}
	return ev
}

func (s *Service) handleTrade(ctx context.Context, msg types.StreamMessage) {
	ev := types.TradeEvent{
		ConditionID: msg.ConditionID,
		Outcome:     msg.Outcome,
		Timestamp:   msg.Timestamp,
		Price:       msg.TradePrice,
		Size:        msg.TradeSize,
		Side:        msg.TradeSide,
	}
	ev.NaturalID = types.TradeNaturalID(ev.ConditionID, ev.Outcome, ev.Timestamp, ev.Price, ev.Size)

	if _, err := s.events.InsertTradeEvents(ctx, []types.TradeEvent{ev}); err != nil {
		s.log.Error().Err(err).Str("market", ev.ConditionID).Msg("persist trade event")
		return
	}
	s.bus.Publish(bus.PriceChannel(msg.ConditionID), "trade", ev)
}

// Book returns the live state for one (market, outcome), or nil when the
// pair is not tracked. Read-only access for the HTTP layer.
func (s *Service) Book(conditionID string, outcome types.Outcome) *BookState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.books[bookKey(conditionID, outcome)]
}
