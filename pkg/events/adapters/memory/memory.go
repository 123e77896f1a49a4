// Package memory is the in-process implementation of events.Bus: every
// Publish call is fanned out synchronously to every Handler subscribed on
// that topic at call time. Used by services/gateway to fan one broker
// channel subscription per output report out to every connected WebSocket
// client without each client opening its own broker subscription.
package memory

import (
	"context"
	"sync"

	"github.com/pybrook/pybrook/pkg/events"
	"github.com/pybrook/pybrook/pkg/logger"
)

type subscriber struct {
	id      int64
	handler events.Handler
}

// Bus is an in-process events.Bus.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscriber
	nextID int64
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{topics: make(map[string][]subscriber)}
}

// Publish calls every handler currently subscribed to topic, synchronously
// and in subscription order. A handler's error is logged, not returned: one
// slow or failing subscriber (e.g. a WebSocket client that went away) must
// never block or fail delivery to the others.
func (b *Bus) Publish(ctx context.Context, topic string, event events.Event) error {
	b.mu.RLock()
	subs := append([]subscriber(nil), b.topics[topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.handler(ctx, event); err != nil {
			logger.L().ErrorContext(ctx, "events subscriber failed", "topic", topic, "error", err)
		}
	}
	return nil
}

// Subscribe registers handler on topic until ctx is cancelled, at which
// point it is pruned on the bus's next lock acquisition. The gateway relies
// on this to stop delivering to a WebSocket handler once its connection's
// context ends, without a separate unsubscribe call.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler events.Handler) error {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(topic, id)
	}()
	return nil
}

func (b *Bus) remove(topic string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	for i, sub := range subs {
		if sub.id == id {
			b.topics[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = make(map[string][]subscriber)
	return nil
}
