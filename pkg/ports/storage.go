package ports

import (
	"context"

	"github.com/aretw0/kernelctx/pkg/domain"
)

// DocumentStore is a remote document storage service, addressed by resource
// kind (e.g. "models", "datasets") and identifier.
type DocumentStore interface {
	// Fetch retrieves a document. Returns domain.ErrDocumentNotFound when the
	// service reports the document absent.
	Fetch(ctx context.Context, kind, id string) (domain.Document, error)

	// Create stores a new record and returns it as created by the service.
	Create(ctx context.Context, kind string, doc domain.Document) (domain.Document, error)

	// Upload attaches file content to an existing record.
	Upload(ctx context.Context, kind, id, filename string, content []byte) error

	// DownloadURL returns a URL from which the file attached to a record can be read.
	DownloadURL(ctx context.Context, kind, id, filename string) (string, error)
}

// Credentials provides authentication for outbound calls.
// ok is false when no credentials are configured; callers then proceed unauthenticated.
type Credentials interface {
	BasicAuth() (username, password string, ok bool)
}
