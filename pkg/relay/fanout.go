package relay

import (
	"context"
	"errors"

	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/ports"
)

// Fanout publishes every event to each of its publishers in order.
// All publishers are attempted; their errors are joined.
type Fanout []ports.Publisher

// Publish implements ports.Publisher.
func (f Fanout) Publish(ctx context.Context, evt domain.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
