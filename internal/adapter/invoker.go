package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// previewLimit bounds payload and result previews in the audit log so that
// evidence content is never persisted wholesale through logging.
const previewLimit = 4000

// Caller is the single-argument calling convention: the operation travels
// inside the payload.
type Caller interface {
	Call(ctx context.Context, payload map[string]any) (map[string]any, error)
}

// OperationCaller is the preferred two-argument calling convention.
type OperationCaller interface {
	CallOperation(ctx context.Context, operation string, payload map[string]any) (map[string]any, error)
}

// Executor and Runner are secondary alias conventions recognized for older
// adapter families.
type Executor interface {
	Execute(ctx context.Context, operation string, payload map[string]any) (map[string]any, error)
}

type Runner interface {
	Run(ctx context.Context, payload map[string]any) (map[string]any, error)
}

// Strategy is one candidate calling convention. Attempt returns
// errShapeMismatch when the adapter does not support the convention; any
// other error is a genuine call failure.
type Strategy struct {
	Name    string
	Attempt func(ctx context.Context, adapter any, operation string, payload map[string]any) (map[string]any, error)
}

// DefaultStrategies is the fixed priority order: the two-argument call
// first, then the single-argument call with the operation folded into the
// payload, then the alias conventions.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name: "call_operation",
			Attempt: func(ctx context.Context, adapter any, operation string, payload map[string]any) (map[string]any, error) {
				c, ok := adapter.(OperationCaller)
				if !ok {
					return nil, errShapeMismatch
				}
				return c.CallOperation(ctx, operation, payload)
			},
		},
		{
			Name: "call_payload",
			Attempt: func(ctx context.Context, adapter any, operation string, payload map[string]any) (map[string]any, error) {
				c, ok := adapter.(Caller)
				if !ok {
					return nil, errShapeMismatch
				}
				return c.Call(ctx, withOperation(payload, operation))
			},
		},
		{
			Name: "execute",
			Attempt: func(ctx context.Context, adapter any, operation string, payload map[string]any) (map[string]any, error) {
				c, ok := adapter.(Executor)
				if !ok {
					return nil, errShapeMismatch
				}
				return c.Execute(ctx, operation, payload)
			},
		},
		{
			Name: "run",
			Attempt: func(ctx context.Context, adapter any, operation string, payload map[string]any) (map[string]any, error) {
				c, ok := adapter.(Runner)
				if !ok {
					return nil, errShapeMismatch
				}
				return c.Run(ctx, withOperation(payload, operation))
			},
		},
	}
}

// Invoker dispatches a named operation against an adapter whose exact
// callable shape is not known statically. Candidate conventions are tried
// in priority order; a convention the adapter does not support moves on,
// and any other failure is logged and also moves on (fail-soft). Invoke
// never panics out.
type Invoker struct {
	Logger     *slog.Logger
	Strategies []Strategy
	Now        func() time.Time
}

func NewInvoker(logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{Logger: logger, Strategies: DefaultStrategies(), Now: time.Now}
}

// Invoke calls operation on adapter with the per-family timeout applied.
// On failure the returned error is always an *Error.
func (inv *Invoker) Invoke(ctx context.Context, adapter any, operation string, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	strategies := inv.Strategies
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	var lastErr error
	for _, s := range strategies {
		start := inv.now()
		result, err := inv.attempt(ctx, s, adapter, operation, payload)
		elapsed := inv.now().Sub(start)
		if err == nil {
			inv.Logger.Info("adapter call",
				"operation", operation,
				"strategy", s.Name,
				"payload", preview(payload),
				"elapsed_ms", elapsed.Milliseconds(),
				"result", preview(result))
			return result, nil
		}
		if errors.Is(err, errShapeMismatch) {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			// A canceled parent context is the caller backing out, not the
			// per-family deadline firing.
			code := CodeTimeout
			if errors.Is(ctxErr, context.Canceled) {
				code = CodeCanceled
			}
			inv.Logger.Warn("adapter call aborted",
				"operation", operation,
				"strategy", s.Name,
				"code", code,
				"payload", preview(payload),
				"elapsed_ms", elapsed.Milliseconds())
			return nil, &Error{Code: code, Operation: operation, Detail: ctxErr.Error()}
		}
		inv.Logger.Warn("adapter call failed",
			"operation", operation,
			"strategy", s.Name,
			"payload", preview(payload),
			"elapsed_ms", elapsed.Milliseconds(),
			"err", err)
		lastErr = err
	}
	detail := ""
	if lastErr != nil {
		detail = lastErr.Error()
	}
	return nil, &Error{Code: CodeNoInvokeMethod, Operation: operation, Detail: detail}
}

// attempt wraps a single strategy so a panicking adapter degrades into an
// error instead of taking down the run.
func (inv *Invoker) attempt(ctx context.Context, s Strategy, adapter any, operation string, payload map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Code: CodeTransport, Operation: operation, Detail: "adapter panic"}
		}
	}()
	return s.Attempt(ctx, adapter, operation, payload)
}

func (inv *Invoker) now() time.Time {
	if inv.Now != nil {
		return inv.Now()
	}
	return time.Now()
}

func withOperation(payload map[string]any, operation string) map[string]any {
	merged := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		merged[k] = v
	}
	merged["operation"] = operation
	return merged
}

func preview(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "<unserializable>"
	}
	if len(b) > previewLimit {
		return string(b[:previewLimit]) + "..."
	}
	return string(b)
}
