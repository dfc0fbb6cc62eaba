package acprpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/acpcore/acprpc/code"
)

// Code is an alias for code.Code, re-exported here for callers that only
// need the core error taxonomy and would rather not import the code package
// directly. See the code package for FromError and Register.
type Code = code.Code

// The standard JSON-RPC error codes, plus the implementation-defined range
// used by this runtime, aliased from the code package.
const (
	ParseError     = code.ParseError
	InvalidRequest = code.InvalidRequest
	MethodNotFound = code.MethodNotFound
	InvalidParams  = code.InvalidParams
	InternalError  = code.InternalError

	NoError          = code.NoError
	SystemError      = code.SystemError
	Cancelled        = code.Cancelled
	DeadlineExceeded = code.DeadlineExceeded
)

// UntypedMessage is the canonical on-wire form of an ACP message: a method
// name and an opaque parameter value. Any typed Message serializes to an
// UntypedMessage, and any UntypedMessage may be tested against a typed
// message's method name to attempt a parse.
//
// UntypedMessage is a plain value; it is freely clonable and comparable by
// method name, though Params is compared structurally only via DeepEqual
// since it is raw JSON.
type UntypedMessage struct {
	Method string
	Params json.RawMessage
}

// Clone returns a copy of u whose Params slice does not alias u's.
func (u UntypedMessage) Clone() UntypedMessage {
	if u.Params == nil {
		return u
	}
	cp := make(json.RawMessage, len(u.Params))
	copy(cp, u.Params)
	return UntypedMessage{Method: u.Method, Params: cp}
}

// Message is implemented by every typed ACP request and notification. The
// zero value of a Message's concrete type must be usable as the "mine but
// malformed" sentinel returned by a failed parse.
type Message interface {
	// Method reports the fixed method name for this message type.
	Method() string
}

// Requester is implemented by typed messages that expect exactly one
// response.
type Requester interface {
	Message
	acpRequest()
}

// Notifier is implemented by typed messages that are fire-and-forget.
type Notifier interface {
	Message
	acpNotification()
}

// Request is a marker type requests embed to implement Requester without
// boilerplate:
//
//	type PromptRequest struct {
//		acprpc.Request
//		SessionID string `json:"sessionId"`
//	}
type Request struct{}

func (Request) acpRequest() {}

// Notification is the notification counterpart of Request.
type Notification struct{}

func (Notification) acpNotification() {}

// ToUntyped serializes any Message to its UntypedMessage wire form.
func ToUntyped(m Message) (UntypedMessage, error) {
	params, err := json.Marshal(m)
	if err != nil {
		return UntypedMessage{}, fmt.Errorf("marshal %s params: %w", m.Method(), err)
	}
	return UntypedMessage{Method: m.Method(), Params: params}, nil
}

// ParseInto matches u against the method name of a zero-valued T and, if it
// matches, unmarshals u.Params into a fresh T. It returns (zero, false, nil)
// if u is not addressed to T, (zero, true, err) if the method matched but
// the body is malformed, and (value, true, nil) on success. The two-level
// outcome lets a handler chain distinguish "not mine" from "mine,
// rejected": once the method matches, the parse always yields a value or
// an error, never a silent decline.
func ParseInto[T Message](u UntypedMessage) (T, bool, error) {
	var zero T
	if u.Method != zero.Method() {
		return zero, false, nil
	}
	var v T
	if len(u.Params) == 0 {
		return v, true, nil
	}
	dec := json.NewDecoder(bytes.NewReader(u.Params))
	if err := dec.Decode(&v); err != nil {
		return zero, true, &Error{Code: InvalidParams, Message: "invalid parameters", Data: mustJSON(err.Error())}
	}
	return v, true, nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
