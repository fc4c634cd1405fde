package events

import "testing"

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(Progress)

	bus.Publish(Progress, Payload{"progress": 42.0})

	select {
	case payload := <-sub:
		if payload["progress"] != 42.0 {
			t.Fatalf("payload = %v, want progress=42.0", payload)
		}
	default:
		t.Fatalf("expected payload to be immediately available")
	}
}

func TestPublishDoesNotCrossDeliverEventTypes(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(Progress)
	bus.Publish(PhaseChange, Payload{"phaseId": "plateau"})

	select {
	case payload := <-sub:
		t.Fatalf("unexpected delivery of a different event type: %v", payload)
	default:
	}
}

func TestPublishDropsForFullSubscriberRatherThanBlocking(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(Progress)

	for i := 0; i < subscriberBuffer+5; i++ {
		bus.Publish(Progress, Payload{"i": i})
	}
	// Publish must never block even though the subscriber buffer overflowed.
	if len(sub) != subscriberBuffer {
		t.Fatalf("subscriber channel len = %d, want full at %d", len(sub), subscriberBuffer)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(Progress)
	bus.Unsubscribe(Progress, sub)

	bus.Publish(Progress, Payload{"progress": 1.0})

	_, open := <-sub
	if open {
		t.Fatalf("expected subscriber channel to be closed after Unsubscribe")
	}
}
