package adapter

import (
	"errors"
	"fmt"
)

// Error codes reported by the invoker.
const (
	CodeNoInvokeMethod = "no_invoke_method"
	CodeTimeout        = "timeout"
	CodeCanceled       = "canceled"
	CodeTransport      = "transport"
)

// Error is the structured failure of an adapter invocation. The invoker
// never lets any other failure shape escape.
type Error struct {
	Code      string `json:"code"`
	Operation string `json:"operation"`
	Detail    string `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("adapter %s: %s", e.Operation, e.Code)
	}
	return fmt.Sprintf("adapter %s: %s: %s", e.Operation, e.Code, e.Detail)
}

// AsError unwraps err into an *Error if it is one.
func AsError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// errShapeMismatch signals that a call strategy does not apply to the
// adapter at hand and the next candidate should be tried.
var errShapeMismatch = errors.New("calling convention not supported")
