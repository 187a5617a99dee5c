package testutils

import (
	"context"
	"strings"
	"sync"

	"github.com/aretw0/kernelctx/pkg/domain"
)

// Call is one recorded interpreter call.
type Call struct {
	Kind   domain.CallKind
	Code   string
	Parent *domain.Header
}

// Response is returned by Evaluate (or Execute, for Err) when the submitted
// code contains Match.
type Response struct {
	Match  string
	Return any
	Stdout string
	Err    error
}

// Interpreter is a ports.Interpreter that records calls and replays canned responses.
type Interpreter struct {
	mu        sync.Mutex
	calls     []Call
	responses []Response
	closed    bool
}

// NewInterpreter creates a recorder with the given responses. The first
// response whose Match is contained in the code wins.
func NewInterpreter(responses ...Response) *Interpreter {
	return &Interpreter{responses: responses}
}

// Respond appends a canned response.
func (i *Interpreter) Respond(r Response) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.responses = append(i.responses, r)
}

func (i *Interpreter) Execute(ctx context.Context, code string, parent *domain.Header) error {
	resp := i.record(domain.CallExecute, code, parent)
	return resp.Err
}

func (i *Interpreter) Evaluate(ctx context.Context, code string, parent *domain.Header) (*domain.Evaluation, error) {
	resp := i.record(domain.CallEvaluate, code, parent)
	if resp.Err != nil {
		return nil, resp.Err
	}
	return &domain.Evaluation{Return: resp.Return, Stdout: resp.Stdout}, nil
}

func (i *Interpreter) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	return nil
}

// Calls returns a copy of the recorded calls.
func (i *Interpreter) Calls() []Call {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Call(nil), i.calls...)
}

// Codes returns the code of every recorded call.
func (i *Interpreter) Codes() []string {
	calls := i.Calls()
	codes := make([]string, len(calls))
	for n, c := range calls {
		codes[n] = c.Code
	}
	return codes
}

// Override installs r ahead of every existing response.
func (i *Interpreter) Override(r Response) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.responses = append([]Response{r}, i.responses...)
}

// Reset forgets recorded calls, keeping responses.
func (i *Interpreter) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = nil
}

// Closed reports whether Close was called.
func (i *Interpreter) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

func (i *Interpreter) record(kind domain.CallKind, code string, parent *domain.Header) Response {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.calls = append(i.calls, Call{Kind: kind, Code: code, Parent: parent})
	for _, r := range i.responses {
		if strings.Contains(code, r.Match) {
			return r
		}
	}
	return Response{}
}
