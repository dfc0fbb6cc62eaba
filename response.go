package acprpc

import (
	"context"
	"encoding/json"
	"sync"
)

// Response is the wire form of a JSON-RPC response: either a result or an
// error, keyed by the id of the request it answers.
type Response struct {
	ID     RequestID       `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Err    *Error          `json:"error,omitempty"`
}

// UnmarshalResult decodes the result payload of r into v. If r carries an
// error, UnmarshalResult returns that error unmodified and leaves v alone.
func (r *Response) UnmarshalResult(v any) error {
	if r.Err != nil {
		return r.Err
	}
	if len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// PendingCall tracks one outgoing request awaiting its response. It is
// created by SendRequestTo and installed in the connection's correlation
// table under its ID until a matching Response arrives or the connection
// closes.
type PendingCall struct {
	id   RequestID
	conn *Connection

	mu       sync.Mutex
	done     chan struct{}
	closed   bool
	response *Response

	forward RequestCx
	hasFwd  bool
}

func newPendingCall(conn *Connection, id RequestID) *PendingCall {
	return &PendingCall{id: id, conn: conn, done: make(chan struct{})}
}

// ID returns the outgoing request ID this call is waiting on.
func (c *PendingCall) ID() RequestID { return c.id }

// deliver completes the call with rsp. It is safe to call at most once; the
// connection's dispatch loop guarantees this by removing the call from its
// table before delivering.
func (c *PendingCall) deliver(rsp *Response) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.response = rsp
	c.closed = true
	fwd, hasFwd := c.forward, c.hasFwd
	c.mu.Unlock()
	close(c.done)

	if hasFwd {
		fwd.relay(rsp)
	}
}

// forwardTo arranges for the eventual response to this call to be relayed
// verbatim as the reply to r. If the call has already completed, the
// forward happens immediately.
func (c *PendingCall) forwardTo(r RequestCx) {
	c.mu.Lock()
	if c.closed {
		rsp := c.response
		c.mu.Unlock()
		r.relay(rsp)
		return
	}
	c.forward, c.hasFwd = r, true
	c.mu.Unlock()
}

// Wait blocks until the call completes or ctx is done, whichever comes
// first, so callers can bound how long they wait for a peer that may never
// reply.
func (c *PendingCall) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		// Prefer a response that was delivered in the same instant the
		// context ended, so a call resolved at connection close reports its
		// ConnectionClosed error rather than the caller's cancellation.
		select {
		case <-c.done:
		default:
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	rsp := c.response
	c.mu.Unlock()
	return rsp, nil
}

// Then registers fn to run once the call completes. If it has already
// completed, fn runs synchronously before Then returns. fn runs on an
// internal goroutine otherwise and must not block.
func (c *PendingCall) Then(fn func(*Response)) {
	c.mu.Lock()
	if c.closed {
		rsp := c.response
		c.mu.Unlock()
		fn(rsp)
		return
	}
	c.mu.Unlock()
	go func() {
		<-c.done
		c.mu.Lock()
		rsp := c.response
		c.mu.Unlock()
		fn(rsp)
	}()
}
