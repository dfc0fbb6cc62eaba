package acprpc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/acpcore/acprpc/code"
)

// RequestID is an opaque JSON-RPC request identifier. The zero RequestID is
// not valid on the wire; it is used internally to mark notifications, which
// carry no id at all.
type RequestID struct {
	raw json.RawMessage
}

// IsZero reports whether id is the internal "no id" marker used for
// notifications.
func (id RequestID) IsZero() bool { return len(id.raw) == 0 }

// String renders id in a form suitable for logging and map keys. It simply
// returns the raw wire bytes, so a string-typed ID keeps its surrounding
// quotes (no quotes are added or stripped).
func (id RequestID) String() string { return string(id.raw) }

// MarshalJSON implements json.Marshaler.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	id.raw = append(id.raw[:0], data...)
	return nil
}

// idCounter assigns per-connection, per-direction outgoing request IDs.
// Identifiers are never reused within a connection.
type idCounter struct {
	n atomic.Int64
}

func (c *idCounter) next() RequestID {
	n := c.n.Add(1)
	return RequestID{raw: json.RawMessage(strconv.FormatInt(n, 10))}
}

// MessageCx carries an inbound message together with the metadata a handler
// chain needs to route and respond to it: a sender Role (the connection
// engine always sets RoleUntyped, since the wire frame names no sender), the
// untyped wire form for typed parsing, and, for requests only, the one-shot
// RequestCx response capability.
type MessageCx struct {
	From    Role
	Message UntypedMessage
	Req     RequestCx // zero value if Message is a notification
}

// IsNotification reports whether the carried message is a notification
// (i.e. has no associated RequestCx).
func (m MessageCx) IsNotification() bool { return m.Req.id.IsZero() }

// RequestCx is the one-shot capability to respond to a single inbound
// request. Go has no linear types, so the "respond exactly once" rule is
// enforced at runtime: a second call to Respond, RespondError, or Forward
// panics.
type RequestCx struct {
	id   RequestID
	conn *Connection
	done *atomic.Bool
}

func newRequestCx(conn *Connection, id RequestID) RequestCx {
	return RequestCx{id: id, conn: conn, done: new(atomic.Bool)}
}

// ID returns the request identifier this capability answers.
func (r RequestCx) ID() RequestID { return r.id }

// Answered reports whether Respond, RespondError, or Forward has already
// been called for this request.
func (r RequestCx) Answered() bool { return r.done.Load() }

func (r RequestCx) claim() {
	if !r.done.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("acprpc: RequestCx for id %s used more than once", r.id))
	}
	if r.conn != nil {
		r.conn.clearCancel(r.id.String())
	}
}

// Respond sends result as a successful reply to the request, marshaling it
// as the JSON-RPC result. It panics if called more than once, or after
// Forward or RespondError have already been called for this request.
func (r RequestCx) Respond(result any) error {
	r.claim()
	return r.conn.writeResult(r.id, result)
}

// RespondError sends err as a JSON-RPC error reply. If err is not already an
// *Error, it is wrapped with the code FromError reports for it (Cancelled or
// DeadlineExceeded for context errors, SystemError for a plain error).
func (r RequestCx) RespondError(err error) error {
	r.claim()
	return r.conn.writeError(r.id, toWireError(err))
}

// Forward binds the eventual response of call one-for-one to this request:
// when call resolves, its result or error is relayed verbatim as the reply
// to the original caller. This is the primitive a proxy uses to route a
// request onward and tie the answer back without blocking on it.
func (r RequestCx) Forward(call *PendingCall) {
	r.claim()
	call.forwardTo(r)
}

// relay writes rsp as the reply to this request without going through the
// one-shot claim: Forward already claimed the capability when the binding
// was made, so the eventual delivery must not claim it a second time.
func (r RequestCx) relay(rsp *Response) {
	if rsp.Err != nil {
		r.conn.writeError(r.id, rsp.Err)
	} else {
		r.conn.writeResult(r.id, json.RawMessage(rsp.Result))
	}
}

func toWireError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Code: FromError(err), Message: err.Error()}
}

// FromError is re-exported from the code package for convenience; see
// code.FromError.
func FromError(err error) Code { return code.FromError(err) }
