// Package bus implements the in-process pub/sub fan-out for real-time
// market events. Channels follow a fixed naming scheme:
//
//	market:{conditionId}:orderbook — applied book deltas and seeds
//	market:{conditionId}:price     — price updates and trades
//
// Each channel is single-writer (the stream service) and many-reader.
// Subscribers receive messages in publish order for their channel. A
// subscriber that cannot keep up is dropped with a logged warning — the
// fan-out prefers freshness over completeness.
package bus

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

const subscriberBuffer = 256

// Event is one published message.
type Event struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Subscription is one reader's handle on a set of channels.
type Subscription struct {
	ch       chan Event
	channels map[string]bool
	mu       sync.RWMutex
}

// Events returns the subscriber's receive channel.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Matches reports whether the subscription covers a channel.
func (s *Subscription) Matches(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[channel]
}

// Add extends the subscription to more channels.
func (s *Subscription) Add(channels ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range channels {
		s.channels[c] = true
	}
}

// Remove drops channels from the subscription.
func (s *Subscription) Remove(channels ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range channels {
		delete(s.channels, c)
	}
}

// Bus broadcasts events to registered subscriptions.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]bool
	log  zerolog.Logger
}

// New creates an empty bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[*Subscription]bool),
		log:  log.With().Str("component", "bus").Logger(),
	}
}

// Subscribe registers a reader on the given channels.
func (b *Bus) Subscribe(channels ...string) *Subscription {
	sub := &Subscription{
		ch:       make(chan Event, subscriberBuffer),
		channels: make(map[string]bool, len(channels)),
	}
	sub.Add(channels...)

	b.mu.Lock()
	b.subs[sub] = true
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a reader and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if b.subs[sub] {
		delete(b.subs, sub)
		close(sub.ch)
	}
	b.mu.Unlock()
}

// Publish broadcasts an event to every matching subscriber. Subscribers
// whose buffer is full are dropped.
func (b *Bus) Publish(channel, eventType string, payload any) {
	evt := Event{Channel: channel, Type: eventType, Payload: payload}

	b.mu.RLock()
	var slow []*Subscription
	for sub := range b.subs {
		if !sub.Matches(channel) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range slow {
		b.log.Warn().Str("channel", channel).Msg("dropping slow subscriber")
		b.Unsubscribe(sub)
	}
}

// OrderbookChannel returns the book channel name for a market.
func OrderbookChannel(conditionID string) string {
	return fmt.Sprintf("market:%s:orderbook", conditionID)
}

// PriceChannel returns the price channel name for a market.
func PriceChannel(conditionID string) string {
	return fmt.Sprintf("market:%s:price", conditionID)
}
