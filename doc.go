/*
Package kernelctx hosts domain "contexts" for an LLM-driven notebook assistant.

Each context wires a conversational agent to one scientific library (MIRA model
editing, model configuration editing, PyCIEMSS simulation, climate dataset
utilities, Mimi integrated assessment models). A context exposes agent tools
and message actions that render code templates, submit them to a notebook
kernel and relay structured responses back to the front end.

# Concept

The Host owns context instances. It resolves templates (embedded procedures,
optionally overridden from a directory), opens an interpreter session per
instance, and serialises every operation on an instance through the session
manager so the kernel sees calls in arrival order. The state of each instance
is persisted as a SessionState snapshot after every change.

The Host is transport agnostic. The HTTP adapter (pkg/adapters/http) and the
MCP adapter (pkg/adapters/mcp) expose the same operations.

# Usage

	host := kernelctx.New(
		kernelctx.WithInterpreters(func(ctx context.Context, language string) (ports.Interpreter, error) {
			return jupyter.Start(ctx, "http://localhost:8888", jupyter.WithKernelName(language))
		}),
		kernelctx.WithDataStore(storage.New("https://data.example.org")),
	)

	id, err := host.Setup(ctx, "mira_model_edit", map[string]any{"id": "sir-model"}, nil)
	if err != nil {
		log.Fatal(err)
	}

	msg := domain.Message{
		Header:  domain.NewHeader("replace_state_name", "session-1"),
		Content: map[string]any{"template_name": "infection", "old_name": "S", "new_name": "Susceptible"},
	}
	if err := host.Dispatch(ctx, id, msg); err != nil {
		log.Print(err) // already relayed to the front end as an "error" event
	}

# Events

Every response is an Event published through the relay: action responses
("<action>_response"), previews, code cells for the user to review, and
"error" events carrying the remote exception name, value and traceback.
*/
package kernelctx
