package domain

import (
	"context"
	"time"
)

// CallKind tells execute and evaluate calls apart in hooks and metrics.
type CallKind string

const (
	CallExecute  CallKind = "execute"
	CallEvaluate CallKind = "evaluate"
)

// CallEvent describes one call to the remote interpreter.
type CallEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Kind      CallKind      `json:"kind"`
	Parent    *Header       `json:"parent_header,omitempty"`
	Code      string        `json:"code"`
	Duration  time.Duration `json:"duration,omitempty"`
	Err       error         `json:"-"`
}

// ActionEvent describes a context handler run.
type ActionEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Context   string    `json:"context"`
	ContextID string    `json:"context_id"`
	Action    string    `json:"action"`
	Err       error     `json:"-"`
}

// LifecycleHooks defines callbacks for observability.
type LifecycleHooks struct {
	OnCall        func(context.Context, *CallEvent)
	OnCallReturn  func(context.Context, *CallEvent)
	OnActionStart func(context.Context, *ActionEvent)
	OnActionEnd   func(context.Context, *ActionEvent)
}
