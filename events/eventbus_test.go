package events

import (
	"testing"
	"time"
)

func TestSubscribePublish(t *testing.T) {
	bus := NewEventBus()
	id, ch := bus.Subscribe()
	if bus.SubscriberCount() != 1 {
		t.Fatalf("subscriber count = %d", bus.SubscriberCount())
	}

	bus.Publish(NewUnitFinalized("u1", 3, 0))
	select {
	case ev := <-ch:
		fin, ok := ev.(*UnitFinalized)
		if !ok || fin.UnitID() != "u1" || fin.RoundID() != 3 || fin.Offset() != 0 {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	if !bus.Unsubscribe(id) {
		t.Fatal("unsubscribe failed")
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("subscriber count = %d after unsubscribe", bus.SubscriberCount())
	}
	if _, open := <-ch; open {
		t.Fatal("channel left open after unsubscribe")
	}
}

func TestUnsubscribeUnknown(t *testing.T) {
	bus := NewEventBus()
	if bus.Unsubscribe(SubscriberID("nope")) {
		t.Fatal("unsubscribe of unknown id reported success")
	}
}

func TestPublishFanout(t *testing.T) {
	bus := NewEventBus()
	_, ch1 := bus.Subscribe()
	_, ch2 := bus.Subscribe()

	bus.Publish(NewUnitAccepted("u1"))
	for i, ch := range []chan LedgerEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type() != EventUnitAccepted {
				t.Fatalf("subscriber %d got %s", i, ev.Type())
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d missed the event", i)
		}
	}
}

// A stalled subscriber loses events instead of blocking the publisher.
func TestPublishNeverBlocks(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe() // stalled subscriber, never drained
	_, live := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			bus.Publish(NewRoundAborted(uint64(i), "test"))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// the live subscriber still received up to its buffer capacity
	received := 0
	for {
		select {
		case <-live:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 {
		t.Fatal("healthy subscriber received nothing")
	}
}
