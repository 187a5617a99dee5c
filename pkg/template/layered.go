package template

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/ports"
)

// Layered is a TemplateSource that looks each name up in its layers in order.
// Earlier layers override later ones.
type Layered []ports.TemplateSource

// Get returns the template from the first layer that has it.
func (l Layered) Get(ctx context.Context, name string) (domain.Template, error) {
	for _, src := range l {
		tpl, err := src.Get(ctx, name)
		if err == nil {
			return tpl, nil
		}
		if !errors.Is(err, domain.ErrTemplateNotFound) {
			return domain.Template{}, err
		}
	}
	return domain.Template{}, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, name)
}

// List returns the union of every layer's names, sorted.
func (l Layered) List(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, src := range l {
		names, err := src.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			seen[n] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Watch merges the change notifications of every watchable layer. The channel
// is closed once all layer watchers stop.
func (l Layered) Watch(ctx context.Context) (<-chan string, error) {
	var feeds []<-chan string
	for _, src := range l {
		w, ok := src.(ports.Watchable)
		if !ok {
			continue
		}
		ch, err := w.Watch(ctx)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, ch)
	}

	out := make(chan string, 1)
	var wg sync.WaitGroup
	for _, feed := range feeds {
		wg.Add(1)
		go func(feed <-chan string) {
			defer wg.Done()
			for name := range feed {
				select {
				case out <- name:
				case <-ctx.Done():
					return
				}
			}
		}(feed)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}
