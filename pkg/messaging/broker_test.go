package messaging

import (
	"testing"
	"time"
)

func TestBroker(t *testing.T) {
	t.Run("test fan out", func(t *testing.T) {
		broker := NewBroker()
		subs := map[string]chan Event{
			"progress": make(chan Event, 1),
			"recorder": make(chan Event, 1),
		}
		for id, ch := range subs {
			if err := broker.Subscribe(id, ch); err != nil {
				t.Fatalf("Failed to subscribe %s: %v", id, err)
			}
		}

		ev := Event{Type: EpisodeStarted, EpisodeID: "ep-1", TaskID: 3, Timestamp: time.Now()}
		if err := broker.Publish(ev); err != nil {
			t.Fatalf("Failed to publish event: %v", err)
		}

		for id, ch := range subs {
			select {
			case received := <-ch:
				if received.EpisodeID != "ep-1" || received.Type != EpisodeStarted {
					t.Errorf("Unexpected event received by %s: %+v", id, received)
				}
			case <-time.After(time.Second):
				t.Errorf("Timeout waiting for event on %s", id)
			}
		}
	})

	t.Run("test subscription management", func(t *testing.T) {
		broker := NewBroker()
		ch := make(chan Event, 1)

		if err := broker.Subscribe("progress", ch); err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}
		if err := broker.Subscribe("progress", ch); err == nil {
			t.Error("Expected error for duplicate subscription, got nil")
		}
		if err := broker.Unsubscribe("progress"); err != nil {
			t.Fatalf("Failed to unsubscribe: %v", err)
		}
		if err := broker.Unsubscribe("progress"); err == nil {
			t.Error("Expected error for unsubscribing non-existent subscriber, got nil")
		}
		if err := broker.Publish(Event{Type: TurnRecorded}); err != nil {
			t.Errorf("Publish with no subscribers: %v", err)
		}
	})

	t.Run("test channel full behavior", func(t *testing.T) {
		broker := NewBroker()
		slow := make(chan Event, 1)
		fast := make(chan Event, 2)
		if err := broker.Subscribe("slow", slow); err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}
		if err := broker.Subscribe("fast", fast); err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}

		if err := broker.Publish(Event{Type: TurnRecorded, Turn: 1}); err != nil {
			t.Fatalf("Failed to publish first event: %v", err)
		}
		if err := broker.Publish(Event{Type: TurnRecorded, Turn: 2}); err == nil {
			t.Error("Expected error when publishing to full channel, got nil")
		}
		if len(fast) != 2 {
			t.Errorf("a full subscriber blocked delivery to others: fast has %d events", len(fast))
		}
	})
}
