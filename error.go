package acprpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error is the concrete type of errors returned from RPC calls, and also the
// JSON encoding of a JSON-RPC error object.
type Error struct {
	Code    Code            `json:"code"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error returns a human-readable description of e.
func (e *Error) Error() string { return fmt.Sprintf("[%d] %s", e.Code, e.Message) }

// ErrCode satisfies code.ErrCoder for an *Error.
func (e *Error) ErrCode() Code { return e.Code }

// WithData marshals v as JSON and returns a copy of e whose Data field holds
// the result. If v == nil or marshaling v fails, e is returned unmodified.
func (e *Error) WithData(v any) *Error {
	if v == nil {
		return e
	} else if data, err := json.Marshal(v); err == nil {
		return &Error{Code: e.Code, Message: e.Message, Data: data}
	}
	return e
}

// Errorf returns an *Error with the given code and a formatted message.
func Errorf(c Code, msg string, args ...any) *Error {
	return &Error{Code: c, Message: fmt.Sprintf(msg, args...)}
}

// ErrConnectionClosed is returned by SendRequestTo and SendNotificationTo
// once a Connection has begun shutting down. A pending call still open when
// the connection finishes resolves with an *Error of code SystemError
// carrying this error's message.
var ErrConnectionClosed = errors.New("acprpc: connection is closed")

// errEmptyMethod is reported for an outgoing message with an empty method
// name.
var errEmptyMethod = &Error{Code: InvalidRequest, Message: "empty method name"}

// errNoSuchMethod is reported when no handler in the chain claims an inbound
// request.
func errNoSuchMethod(method string) *Error {
	return &Error{Code: MethodNotFound, Message: "method not found", Data: mustJSON(method)}
}

// errDuplicateID is reported for a reused outgoing request ID.
var errDuplicateID = &Error{Code: InvalidRequest, Message: "duplicate request ID"}
