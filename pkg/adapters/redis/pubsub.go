package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aretw0/kernelctx/internal/logging"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// DefaultEventsChannel is the pub/sub channel carrying context events.
const DefaultEventsChannel = "kernelctx:events"

// Publisher implements ports.Publisher over Redis pub/sub.
type Publisher struct {
	client  *backend.Client
	channel string
}

// NewPublisher creates a publisher on channel (DefaultEventsChannel when empty).
func NewPublisher(client *backend.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	return &Publisher{client: client, channel: channel}
}

// Publish encodes evt as JSON and publishes it.
func (p *Publisher) Publish(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Subscriber forwards events received on a Redis channel to a local publisher,
// typically the in-memory broker that feeds SSE clients.
type Subscriber struct {
	client  *backend.Client
	channel string
	logger  *slog.Logger
}

// NewSubscriber creates a subscriber on channel (DefaultEventsChannel when empty).
func NewSubscriber(client *backend.Client, channel string, logger *slog.Logger) *Subscriber {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Subscriber{client: client, channel: channel, logger: logger}
}

// Forward delivers every received event to dst until ctx is done.
// It returns once the subscription is confirmed; delivery continues in the background.
func (s *Subscriber) Forward(ctx context.Context, dst ports.Publisher) error {
	sub := s.client.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					s.logger.Warn("dropping malformed event", "channel", s.channel, "err", err)
					continue
				}
				if err := dst.Publish(ctx, evt); err != nil {
					s.logger.Warn("failed to forward event", "context_id", evt.ContextID, "err", err)
				}
			}
		}
	}()
	return nil
}
