package messaging

import (
	"errors"
	"fmt"
	"sync"
)

// SimpleBroker implements Broker.
// subscribers maps subscriber IDs to the channels events are delivered on.
type SimpleBroker struct {
	subscribers map[string]chan<- Event
	mu          sync.RWMutex
}

func NewBroker() *SimpleBroker {
	return &SimpleBroker{
		subscribers: make(map[string]chan<- Event),
	}
}

// Publish delivers ev to every subscriber without blocking. A subscriber
// whose channel is full misses the event and is named in the returned error;
// the others still receive it.
func (b *SimpleBroker) Publish(ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var errs []error
	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			errs = append(errs, fmt.Errorf("subscriber %s's channel is full, dropped %s", id, ev.Type))
		}
	}
	return errors.Join(errs...)
}

func (b *SimpleBroker) Subscribe(id string, ch chan<- Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; exists {
		return fmt.Errorf("subscriber %s is already subscribed", id)
	}

	b.subscribers[id] = ch
	return nil
}

func (b *SimpleBroker) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return fmt.Errorf("subscriber %s is not subscribed", id)
	}

	delete(b.subscribers, id)
	return nil
}
