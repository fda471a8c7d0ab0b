package adapter_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"nhaguard/internal/adapter"
)

// twoArg supports the preferred convention.
type twoArg struct {
	lastOp      string
	lastPayload map[string]any
}

func (a *twoArg) CallOperation(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	a.lastOp = operation
	a.lastPayload = payload
	return map[string]any{"echo": payload["value"]}, nil
}

// oneArg only supports the single-argument convention; the operation must
// arrive inside the payload.
type oneArg struct {
	lastPayload map[string]any
}

func (a *oneArg) Call(ctx context.Context, payload map[string]any) (map[string]any, error) {
	a.lastPayload = payload
	return map[string]any{"echo": payload["value"]}, nil
}

// flaky fails on the preferred convention but works through the alias.
type flaky struct{}

func (flaky) CallOperation(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("transport glitch")
}

func (flaky) Execute(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	return map[string]any{"via": "execute"}, nil
}

type slowAdapter struct{}

func (slowAdapter) CallOperation(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return map[string]any{}, nil
	}
}

func TestInvokeFallbackConventionParity(t *testing.T) {
	inv := adapter.NewInvoker(nil)
	payload := map[string]any{"value": "v1"}

	two := &twoArg{}
	rTwo, err := inv.Invoke(context.Background(), two, "query", payload, 0)
	if err != nil {
		t.Fatalf("two-arg invoke: %v", err)
	}
	if two.lastOp != "query" {
		t.Fatalf("operation not forwarded: %q", two.lastOp)
	}

	one := &oneArg{}
	rOne, err := inv.Invoke(context.Background(), one, "query", payload, 0)
	if err != nil {
		t.Fatalf("one-arg invoke: %v", err)
	}
	if one.lastPayload["operation"] != "query" {
		t.Fatalf("operation not folded into payload: %v", one.lastPayload)
	}
	if rTwo["echo"] != rOne["echo"] {
		t.Fatalf("convention results differ: %v vs %v", rTwo, rOne)
	}
}

func TestInvokeFailSoftMovesToAlias(t *testing.T) {
	inv := adapter.NewInvoker(nil)
	result, err := inv.Invoke(context.Background(), flaky{}, "query", nil, 0)
	if err != nil {
		t.Fatalf("expected alias fallback, got %v", err)
	}
	if result["via"] != "execute" {
		t.Fatalf("unexpected result %v", result)
	}
}

func TestInvokeNoCompatibleConvention(t *testing.T) {
	inv := adapter.NewInvoker(nil)
	_, err := inv.Invoke(context.Background(), struct{}{}, "query", nil, 0)
	if err == nil {
		t.Fatal("expected error")
	}
	ae, ok := adapter.AsError(err)
	if !ok {
		t.Fatalf("expected *adapter.Error, got %T", err)
	}
	if ae.Code != adapter.CodeNoInvokeMethod {
		t.Fatalf("code %s", ae.Code)
	}
	if ae.Operation != "query" {
		t.Fatalf("operation %s", ae.Operation)
	}
}

func TestInvokeNilAdapter(t *testing.T) {
	inv := adapter.NewInvoker(nil)
	_, err := inv.Invoke(context.Background(), nil, "query", nil, 0)
	ae, ok := adapter.AsError(err)
	if !ok || ae.Code != adapter.CodeNoInvokeMethod {
		t.Fatalf("expected no_invoke_method, got %v", err)
	}
}

func TestInvokeTimeout(t *testing.T) {
	inv := adapter.NewInvoker(nil)
	_, err := inv.Invoke(context.Background(), slowAdapter{}, "query", nil, 20*time.Millisecond)
	ae, ok := adapter.AsError(err)
	if !ok {
		t.Fatalf("expected *adapter.Error, got %v", err)
	}
	if ae.Code != adapter.CodeTimeout {
		t.Fatalf("code %s", ae.Code)
	}
}

// selfCanceling cancels its own context mid-call, like a caller backing
// out of a run.
type selfCanceling struct {
	cancel context.CancelFunc
}

func (a selfCanceling) CallOperation(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	a.cancel()
	return nil, fmt.Errorf("interrupted")
}

func TestInvokeCanceledIsNotTimeout(t *testing.T) {
	inv := adapter.NewInvoker(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := inv.Invoke(ctx, selfCanceling{cancel: cancel}, "query", nil, time.Minute)
	ae, ok := adapter.AsError(err)
	if !ok {
		t.Fatalf("expected *adapter.Error, got %v", err)
	}
	if ae.Code != adapter.CodeCanceled {
		t.Fatalf("code %s, want %s", ae.Code, adapter.CodeCanceled)
	}
}

func TestInvokeErrorIsTyped(t *testing.T) {
	inv := adapter.NewInvoker(nil)
	_, err := inv.Invoke(context.Background(), 42, "create_ticket", nil, 0)
	var ae *adapter.Error
	if !errors.As(err, &ae) {
		t.Fatalf("invoker leaked an untyped error: %v", err)
	}
}
