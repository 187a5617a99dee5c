package ports

import (
	"context"

	"github.com/aretw0/kernelctx/pkg/domain"
)

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, evt domain.Event) error

func (f PublisherFunc) Publish(ctx context.Context, evt domain.Event) error {
	return f(ctx, evt)
}
