package bus

import (
	"fmt"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestPublishReachesMatchingSubscribers(t *testing.T) {
	t.Parallel()
	b := New(testLogger())

	book := b.Subscribe(OrderbookChannel("m1"))
	price := b.Subscribe(PriceChannel("m1"))
	other := b.Subscribe(OrderbookChannel("m2"))

	b.Publish(OrderbookChannel("m1"), "orderbook_update", "payload")

	select {
	case evt := <-book.Events():
		if evt.Type != "orderbook_update" || evt.Channel != "market:m1:orderbook" {
			t.Errorf("event = %+v", evt)
		}
	default:
		t.Error("matching subscriber received nothing")
	}

	select {
	case evt := <-price.Events():
		t.Errorf("price subscriber received %+v", evt)
	default:
	}
	select {
	case evt := <-other.Events():
		t.Errorf("other-market subscriber received %+v", evt)
	default:
	}
}

func TestPublishOrderPerChannel(t *testing.T) {
	t.Parallel()
	b := New(testLogger())
	sub := b.Subscribe(PriceChannel("m1"))

	for i := 0; i < 10; i++ {
		b.Publish(PriceChannel("m1"), "trade", i)
	}

	for i := 0; i < 10; i++ {
		evt := <-sub.Events()
		if evt.Payload.(int) != i {
			t.Fatalf("event %d carries payload %v", i, evt.Payload)
		}
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	t.Parallel()
	b := New(testLogger())
	sub := b.Subscribe(PriceChannel("m1"))

	// Never read: overflow the buffer plus one to trigger the drop.
	for i := 0; i <= subscriberBuffer; i++ {
		b.Publish(PriceChannel("m1"), "trade", i)
	}

	// The subscription channel is closed once dropped.
	drained := 0
	for range sub.Events() {
		drained++
	}
	if drained != subscriberBuffer {
		t.Errorf("drained = %d, want %d buffered events before close", drained, subscriberBuffer)
	}

	// Publishing after the drop must not panic or redeliver.
	b.Publish(PriceChannel("m1"), "trade", "after")
}

func TestDynamicSubscriptionChanges(t *testing.T) {
	t.Parallel()
	b := New(testLogger())
	sub := b.Subscribe()

	b.Publish(PriceChannel("m1"), "trade", 1)
	select {
	case <-sub.Events():
		t.Error("unsubscribed channel delivered")
	default:
	}

	sub.Add(PriceChannel("m1"))
	b.Publish(PriceChannel("m1"), "trade", 2)
	if evt := <-sub.Events(); evt.Payload.(int) != 2 {
		t.Errorf("payload = %v, want 2", evt.Payload)
	}

	sub.Remove(PriceChannel("m1"))
	b.Publish(PriceChannel("m1"), "trade", 3)
	select {
	case evt := <-sub.Events():
		t.Errorf("removed channel delivered %+v", evt)
	default:
	}
}

func TestChannelNames(t *testing.T) {
	t.Parallel()

	if got := OrderbookChannel("abc"); got != "market:abc:orderbook" {
		t.Errorf("OrderbookChannel = %q", got)
	}
	if got := PriceChannel("abc"); got != "market:abc:price" {
		t.Errorf("PriceChannel = %q", got)
	}
	// The scheme is positional; nothing else parses these.
	if fmt.Sprintf("market:%s:price", "abc") != PriceChannel("abc") {
		t.Error("naming scheme drifted")
	}
}
