// Package events carries compilation lifecycle events from the queue to listeners.
package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dontdude/codebox/internal/domain"
)

// subscriberBuffer is how many events a slow subscriber may fall behind before
// events are dropped for it.
const subscriberBuffer = 64

// Memory is an in-process broker. Publish never blocks on a slow subscriber.
type Memory struct {
	mu     sync.Mutex
	subs   map[chan domain.Event]struct{}
	closed bool
	log    zerolog.Logger
}

// Check if Memory implements domain.EventBroker
var _ domain.EventBroker = (*Memory)(nil)

func NewMemory(logger zerolog.Logger) *Memory {
	return &Memory{
		subs: make(map[chan domain.Event]struct{}),
		log:  logger.With().Str("component", "events").Logger(),
	}
}

func (m *Memory) Publish(_ context.Context, ev domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.log.Warn().Str("request", ev.RequestID).Msg("subscriber is lagging, event dropped")
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	ch := make(chan domain.Event, subscriberBuffer)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, nil
	}
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
		m.mu.Unlock()
	}()
	return ch, nil
}

// Close ends every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for ch := range m.subs {
		delete(m.subs, ch)
		close(ch)
	}
	return nil
}
