package testutils

import (
	"testing"

	"github.com/aretw0/kernelctx/pkg/contexts"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/relay"
	"github.com/aretw0/kernelctx/pkg/template"
	"github.com/stretchr/testify/require"
)

// Harness wires a context kind to recording fakes.
type Harness struct {
	Interpreter *Interpreter
	Events      *Recorder
	Data        *Documents
	HMI         *Documents
	Env         contexts.Env
}

// NewHarness builds an Env for kind with its embedded procedures, a recording
// interpreter, a recording relay and empty document stores.
func NewHarness(t *testing.T, kind contexts.Kind, responses ...Response) *Harness {
	t.Helper()
	templates, err := kind.Templates()
	require.NoError(t, err)

	h := &Harness{
		Interpreter: NewInterpreter(responses...),
		Events:      &Recorder{},
		Data:        NewDocuments(nil),
		HMI:         NewDocuments(nil),
	}
	h.Env = contexts.Env{
		ID:          "ctx-test",
		Renderer:    template.NewRenderer(templates),
		Interpreter: h.Interpreter,
		Relay: relay.New(h.Events, relay.WithFailureHandler(func(err error, _ domain.Event) {
			t.Errorf("relay failure: %v", err)
		})),
		Data: h.Data,
		HMI:  h.HMI,
	}
	return h
}

// New builds a context instance from the harness Env.
func (h *Harness) New(t *testing.T, kind contexts.Kind) contexts.Context {
	t.Helper()
	c, err := kind.New(h.Env)
	require.NoError(t, err)
	return c
}
