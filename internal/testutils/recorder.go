package testutils

import (
	"context"
	"sync"

	"github.com/aretw0/kernelctx/pkg/domain"
)

// Recorder is a ports.Publisher that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
	Err    error
}

func (r *Recorder) Publish(ctx context.Context, evt domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, evt)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// OfType returns the recorded events whose type is msgType.
func (r *Recorder) OfType(msgType string) []domain.Event {
	var out []domain.Event
	for _, evt := range r.Events() {
		if evt.Type == msgType {
			out = append(out, evt)
		}
	}
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
