package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	redisAdapter "github.com/aretw0/kernelctx/pkg/adapters/redis"
	"github.com/aretw0/kernelctx/pkg/domain"
)

// ErrNoEventChannel is returned by TailEvents without a Redis event channel.
var ErrNoEventChannel = errors.New("tailing events requires redis.addr and redis.channel")

// EventPrinter writes one JSON event per line, optionally only those of one
// context instance.
type EventPrinter struct {
	mu        sync.Mutex
	enc       *json.Encoder
	contextID string
}

// NewEventPrinter creates a printer writing to w. An empty contextID prints
// every event.
func NewEventPrinter(w io.Writer, contextID string) *EventPrinter {
	return &EventPrinter{enc: json.NewEncoder(w), contextID: contextID}
}

// Publish implements ports.Publisher.
func (p *EventPrinter) Publish(_ context.Context, evt domain.Event) error {
	if p.contextID != "" && evt.ContextID != p.contextID {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(evt)
}

// TailEvents prints the events relayed by every server sharing the runtime's
// Redis channel until ctx is done.
func TailEvents(ctx context.Context, rt *Runtime, dst *EventPrinter) error {
	if rt.Redis() == nil || rt.Config.Redis.Channel == "" {
		return ErrNoEventChannel
	}
	sub := redisAdapter.NewSubscriber(rt.Redis(), rt.Config.Redis.Channel, rt.Logger)
	if err := sub.Forward(ctx, dst); err != nil {
		return fmt.Errorf("tail events: %w", err)
	}
	rt.Logger.Info("tailing events", "channel", rt.Config.Redis.Channel, "context_id", dst.contextID)
	<-ctx.Done()
	return nil
}
