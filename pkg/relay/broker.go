package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aretw0/kernelctx/internal/logging"
	"github.com/aretw0/kernelctx/pkg/domain"
)

// AllContexts subscribes to the events of every context instance.
const AllContexts = "*"

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 10

// Broker is an in-process Publisher that fans events out to subscribers keyed
// by context instance ID. Slow subscribers lose events instead of blocking.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- domain.Event]struct{}
	buffer      int
	logger      *slog.Logger
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBrokerLogger sets the broker logger.
func WithBrokerLogger(logger *slog.Logger) BrokerOption {
	return func(b *Broker) {
		b.logger = logger
	}
}

// WithBufferSize sets the per-subscriber queue length.
func WithBufferSize(n int) BrokerOption {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// NewBroker creates an empty Broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		subscribers: make(map[string]map[chan<- domain.Event]struct{}),
		buffer:      DefaultBufferSize,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber for contextID, or for every instance when
// contextID is AllContexts. The returned function unsubscribes and closes the channel.
func (b *Broker) Subscribe(contextID string) (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Event, b.buffer)
	if _, ok := b.subscribers[contextID]; !ok {
		b.subscribers[contextID] = make(map[chan<- domain.Event]struct{})
	}
	b.subscribers[contextID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.subscribers[contextID]; ok {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(b.subscribers, contextID)
				}
			}
		})
	}
}

// Publish implements ports.Publisher. It never fails.
func (b *Broker) Publish(ctx context.Context, evt domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliver(evt.ContextID, evt)
	if evt.ContextID != AllContexts {
		b.deliver(AllContexts, evt)
	}
	return nil
}

func (b *Broker) deliver(key string, evt domain.Event) {
	for ch := range b.subscribers[key] {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("subscriber buffer full, dropping event", "context_id", evt.ContextID, "msg_type", evt.Type)
		}
	}
}

// Subscribers returns the number of subscribers registered for contextID.
func (b *Broker) Subscribers(contextID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[contextID])
}
