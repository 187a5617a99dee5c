package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/kernelctx/pkg/domain"
)

// Hooks returns lifecycle hooks that log every executor call and handler run.
func Hooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnCall: func(ctx context.Context, e *domain.CallEvent) {
			logger.Debug("executor call", "kind", e.Kind, "msg_id", parentID(e.Parent), "code_size", len(e.Code))
		},
		OnCallReturn: func(ctx context.Context, e *domain.CallEvent) {
			if e.Err != nil {
				logger.Warn("executor call failed", "kind", e.Kind, "msg_id", parentID(e.Parent), "duration", e.Duration, "err", e.Err)
				return
			}
			logger.Debug("executor call done", "kind", e.Kind, "msg_id", parentID(e.Parent), "duration", e.Duration)
		},
		OnActionStart: func(ctx context.Context, e *domain.ActionEvent) {
			logger.Info("action", "context", e.Context, "context_id", e.ContextID, "action", e.Action)
		},
		OnActionEnd: func(ctx context.Context, e *domain.ActionEvent) {
			if e.Err != nil {
				logger.Error("action failed", "context", e.Context, "context_id", e.ContextID, "action", e.Action, "err", e.Err)
			}
		},
	}
}

func parentID(h *domain.Header) string {
	if h == nil {
		return ""
	}
	return h.MsgID
}
