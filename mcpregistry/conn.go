package mcpregistry

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/acpcore/acprpc"
)

// mcpConn is the subset of mcp.Connection the registry needs to bridge raw
// JSON-RPC frames between an open MCP-over-ACP tunnel and its spawned
// server component, without going through the go-sdk's typed client API
// (the registry only relays opaque method/params pairs, exactly as they
// arrive embedded in a McpMessage or McpNotification; it never interprets
// MCP semantics itself).
type mcpConn interface {
	Read(ctx context.Context) (jsonrpc.Message, error)
	Write(ctx context.Context, msg jsonrpc.Message) error
	Close() error
}

// openConn tracks one live MCP-over-ACP tunnel: the client-side half of an
// in-memory transport pair connected to a spawned server component, plus
// the table of MCP-level call ids still awaiting a reply.
type openConn struct {
	server *Server
	conn   mcpConn
	cancel context.CancelFunc

	mu      sync.Mutex
	nextID  int64
	waiters map[string]acprpc.RequestCx
}

func newOpenConn(srv *Server, conn mcpConn, cancel context.CancelFunc) *openConn {
	return &openConn{
		server:  srv,
		conn:    conn,
		cancel:  cancel,
		waiters: make(map[string]acprpc.RequestCx),
	}
}

func idKey(id jsonrpc.ID) string {
	b, _ := json.Marshal(id)
	return string(b)
}

// call forwards method/params into the server component as a new MCP call
// and arranges for the eventual jsonrpc.Response to be delivered as the
// response to cx.
func (oc *openConn) call(ctx context.Context, method string, params json.RawMessage, cx acprpc.RequestCx) error {
	oc.mu.Lock()
	oc.nextID++
	n := oc.nextID
	oc.mu.Unlock()

	id, err := jsonrpc.MakeID(float64(n))
	if err != nil {
		return err
	}

	oc.mu.Lock()
	oc.waiters[idKey(id)] = cx
	oc.mu.Unlock()

	req := &jsonrpc.Request{ID: id, Method: method, Params: params}
	if err := oc.conn.Write(ctx, req); err != nil {
		oc.mu.Lock()
		delete(oc.waiters, idKey(id))
		oc.mu.Unlock()
		return err
	}
	return nil
}

// notify forwards a fire-and-forget MCP notification into the server
// component; there is no reply to wait for.
func (oc *openConn) notify(ctx context.Context, method string, params json.RawMessage) error {
	return oc.conn.Write(ctx, &jsonrpc.Request{Method: method, Params: params})
}

// readLoop drains responses from the spawned server component and resolves
// the matching waiter. It runs until the transport closes, which happens
// when Registry.disconnect cancels the connection's context.
func (oc *openConn) readLoop() {
	for {
		msg, err := oc.conn.Read(context.Background())
		if err != nil {
			oc.failAll(err)
			return
		}
		resp, ok := msg.(*jsonrpc.Response)
		if !ok {
			// The server component only ever originates responses back to
			// the registry's own calls; anything else (a server-to-client
			// request) is outside this tunnel's scope and is dropped.
			continue
		}

		key := idKey(resp.ID)
		oc.mu.Lock()
		cx, found := oc.waiters[key]
		if found {
			delete(oc.waiters, key)
		}
		oc.mu.Unlock()
		if !found {
			continue
		}

		if resp.Error != nil {
			if wireErr, ok := resp.Error.(*jsonrpc.Error); ok {
				cx.RespondError(&acprpc.Error{
					Code:    acprpc.Code(wireErr.Code),
					Message: wireErr.Message,
					Data:    mustRawMessage(wireErr.Data),
				})
			} else {
				cx.RespondError(&acprpc.Error{
					Code:    acprpc.InternalError,
					Message: resp.Error.Error(),
				})
			}
		} else {
			cx.Respond(json.RawMessage(resp.Result))
		}
	}
}

func (oc *openConn) failAll(cause error) {
	oc.mu.Lock()
	waiters := oc.waiters
	oc.waiters = make(map[string]acprpc.RequestCx)
	oc.mu.Unlock()
	for _, cx := range waiters {
		if !cx.Answered() {
			cx.RespondError(&acprpc.Error{Code: acprpc.InternalError, Message: "mcp connection closed: " + cause.Error()})
		}
	}
}

func (oc *openConn) close() {
	oc.cancel()
	_ = oc.conn.Close()
}

func mustRawMessage(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
