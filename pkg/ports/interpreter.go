package ports

import (
	"context"

	"github.com/aretw0/kernelctx/pkg/domain"
)

// Interpreter is a remote process that runs generated code.
// Implementations must process calls in the order they are issued.
type Interpreter interface {
	// Execute submits code for its side effects and waits until the interpreter
	// reports completion. parent is threaded through as the correlation header.
	Execute(ctx context.Context, code string, parent *domain.Header) error

	// Evaluate submits code and returns the value bound to the return slot.
	// A remote exception is returned as *domain.RemoteEvaluationError.
	Evaluate(ctx context.Context, code string, parent *domain.Header) (*domain.Evaluation, error)

	// Close releases the connection to the interpreter.
	Close() error
}
