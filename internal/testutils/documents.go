package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/kernelctx/pkg/domain"
)

// Upload is one recorded Documents.Upload call.
type Upload struct {
	Kind, ID, Filename string
	Content            []byte
}

// Documents is an in-memory ports.DocumentStore keyed by "kind/id".
type Documents struct {
	mu      sync.Mutex
	docs    map[string]domain.Document
	created []domain.Document
	uploads []Upload
	fetches int
	nextID  int
}

// NewDocuments creates a store seeded with docs keyed by "kind/id".
func NewDocuments(docs map[string]domain.Document) *Documents {
	if docs == nil {
		docs = map[string]domain.Document{}
	}
	return &Documents{docs: docs}
}

func (d *Documents) Fetch(ctx context.Context, kind, id string) (domain.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fetches++
	doc, ok := d.docs[kind+"/"+id]
	if !ok {
		return nil, &domain.RemoteFetchError{URL: "memory://" + kind + "/" + id, StatusCode: 404}
	}
	return doc.Clone(), nil
}

func (d *Documents) Create(ctx context.Context, kind string, doc domain.Document) (domain.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	created := doc.Clone()
	if created == nil {
		created = domain.Document{}
	}
	created["id"] = fmt.Sprintf("%s-%d", kind, d.nextID)
	d.docs[kind+"/"+created["id"].(string)] = created
	d.created = append(d.created, created.Clone())
	return created, nil
}

func (d *Documents) Upload(ctx context.Context, kind, id, filename string, content []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uploads = append(d.uploads, Upload{Kind: kind, ID: id, Filename: filename, Content: content})
	return nil
}

func (d *Documents) DownloadURL(ctx context.Context, kind, id, filename string) (string, error) {
	return fmt.Sprintf("https://storage.test/%s/%s/%s", kind, id, filename), nil
}

// Created returns the documents passed to Create, with their assigned IDs.
func (d *Documents) Created() []domain.Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.Document(nil), d.created...)
}

// Uploads returns the recorded uploads.
func (d *Documents) Uploads() []Upload {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Upload(nil), d.uploads...)
}

// Fetches counts Fetch calls.
func (d *Documents) Fetches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetches
}
