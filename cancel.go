package acprpc

import (
	"context"
	"encoding/json"
)

// MethodRPCCancel is the well-known notification method a peer may send to
// request cancellation of one or more in-flight requests. The runtime never
// originates this notification itself; the dispatch loop only recognizes
// and acts on it when a peer sends it. It is handled directly by
// Connection.dispatchInbound rather than through the Handler chain, so an
// application chain cannot accidentally shadow it.
const MethodRPCCancel = "rpc.cancel"

// CancelNotification requests cancellation of the in-flight requests named
// by IDs. An application sends this itself; the core never originates it.
type CancelNotification struct {
	Notification
	IDs []json.RawMessage `json:"ids"`
}

// Method implements Message.
func (CancelNotification) Method() string { return MethodRPCCancel }

func (c *Connection) registerCancel(id string, cancel context.CancelFunc) {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	if c.cancels == nil {
		c.cancels = make(map[string]context.CancelFunc)
	}
	c.cancels[id] = cancel
}

// clearCancel releases the cancelable context backing an answered request.
// The request context is scoped to the request's in-flight window: once the
// one-shot RequestCx has been consumed, the registration is dropped and the
// context canceled so it does not accumulate on the connection's parent
// context for the life of a long connection.
func (c *Connection) clearCancel(id string) {
	c.cancelMu.Lock()
	cancel, ok := c.cancels[id]
	if ok {
		delete(c.cancels, id)
	}
	c.cancelMu.Unlock()
	if ok {
		cancel()
	}
}

// sweepCancels releases every request context still registered at shutdown:
// claimed-but-never-answered requests, and requests whose Responder job was
// still queued when the connection ended.
func (c *Connection) sweepCancels() {
	c.cancelMu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.cancelMu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// cancelRequest cancels the context backing the in-flight request named by
// id, if one is still registered, and reports whether it found one.
func (c *Connection) cancelRequest(id string) bool {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	cancel, ok := c.cancels[id]
	if ok {
		cancel()
		delete(c.cancels, id)
	}
	return ok
}

func (c *Connection) handleCancelNotification(params json.RawMessage) {
	var note CancelNotification
	if len(params) > 0 {
		if err := json.Unmarshal(params, &note); err != nil {
			c.log.logf("acprpc: malformed %s params: %v", MethodRPCCancel, err)
			return
		}
	}
	for _, raw := range note.IDs {
		id := string(raw)
		if c.cancelRequest(id) {
			c.log.logf("acprpc: cancelled request %s by peer order", id)
			c.metrics.Count("requests_cancelled", 1)
		}
	}
}
