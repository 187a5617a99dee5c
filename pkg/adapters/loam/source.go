package loam

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/template"
	"github.com/aretw0/loam"
)

// Source adapts a Loam repository of markdown documents to ports.TemplateSource.
// Each document is one template: frontmatter declares the parameters and the
// body is the template text.
type Source struct {
	Repo *loam.TypedRepository[TemplateMetadata]
}

// New creates a Source over an existing typed repository.
func New(repo *loam.TypedRepository[TemplateMetadata]) *Source {
	return &Source{Repo: repo}
}

// Open initializes a read-only Loam repository rooted at dir.
func Open(dir string) (*Source, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	// Strict mode makes numeric defaults arrive as json.Number; ReadOnly keeps
	// Loam from writing into the template directory.
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(loam.NewTypedRepository[TemplateMetadata](repo)), nil
}

// Get loads the template whose name (or file name without extension) matches.
func (s *Source) Get(ctx context.Context, name string) (domain.Template, error) {
	doc, err := s.Repo.Get(ctx, name)
	if err != nil {
		id, found, listErr := s.resolve(ctx, name)
		if listErr != nil {
			return domain.Template{}, fmt.Errorf("loam get failed for %s: %w", name, err)
		}
		if !found {
			return domain.Template{}, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, name)
		}
		if doc, err = s.Repo.Get(ctx, id); err != nil {
			return domain.Template{}, fmt.Errorf("loam get failed for %s: %w", id, err)
		}
	}

	params, err := template.DecodeParams(doc.Data.Params)
	if err != nil {
		return domain.Template{}, fmt.Errorf("template %s: %w", doc.ID, err)
	}

	tpl := domain.Template{
		Name:        templateName(doc.ID, doc.Data),
		Language:    doc.Data.Language,
		Description: doc.Data.Description,
		Params:      params,
		Text:        doc.Content,
		Source:      doc.ID,
	}
	if tpl.Language == "" {
		tpl.Language = template.DefaultLanguage
	}
	return tpl, nil
}

// List returns every template name in the repository.
func (s *Source) List(ctx context.Context) ([]string, error) {
	index, err := s.index(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(index))
	for name := range index {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Watch implements ports.Watchable.
func (s *Source) Watch(ctx context.Context) (<-chan string, error) {
	events, err := s.Repo.Watch(ctx, "**/*.md")
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan string, 1)

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				select {
				case ch <- template.TrimName(evt.ID):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

// resolve finds the document ID of a template declared under a frontmatter name.
func (s *Source) resolve(ctx context.Context, name string) (string, bool, error) {
	index, err := s.index(ctx)
	if err != nil {
		return "", false, err
	}
	id, ok := index[name]
	return id, ok, nil
}

func (s *Source) index(ctx context.Context) (map[string]string, error) {
	docs, err := s.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	index := make(map[string]string, len(docs))
	for _, doc := range docs {
		name := templateName(doc.ID, doc.Data)
		if existing, ok := index[name]; ok {
			return nil, fmt.Errorf("collision detected: template '%s' is defined in both '%s' and '%s'", name, existing, doc.ID)
		}
		index[name] = doc.ID
	}
	return index, nil
}

func templateName(docID string, meta TemplateMetadata) string {
	if meta.Name != "" {
		return meta.Name
	}
	return template.TrimName(docID)
}
