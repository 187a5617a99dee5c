package ports

import (
	"context"

	"github.com/aretw0/kernelctx/pkg/domain"
)

// TemplateSource defines where code templates come from.
type TemplateSource interface {
	// Get returns the template registered under name.
	// Returns domain.ErrTemplateNotFound if there is none.
	Get(ctx context.Context, name string) (domain.Template, error)

	// List returns the names of every available template, sorted.
	List(ctx context.Context) ([]string, error)
}

// Watchable defines an interface for sources that can notify about backend changes.
// This is typically used for hot-reload of template directories.
type Watchable interface {
	// Watch returns a channel that receives the identifier of each changed resource.
	Watch(ctx context.Context) (<-chan string, error)
}
