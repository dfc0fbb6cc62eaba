package mcpregistry

import (
	"context"
	"encoding/json"

	"github.com/acpcore/acprpc"
	"github.com/acpcore/acprpc/envelope"
	"github.com/acpcore/acprpc/handler"
)

// MethodSessionNew is the well-known ACP method this registry intercepts
// to advertise its registered servers. Its full request/response schema
// belongs to the application; the registry only ever touches the
// mcp_servers field.
const MethodSessionNew = "session/new"

// mcpServerRef is the entry appended to a session/new request's
// mcp_servers list for each registered server: its name and URL, plus the
// fixed "http" type and an empty headers array.
type mcpServerRef struct {
	Type    string   `json:"type"`
	Name    string   `json:"name"`
	URL     string   `json:"url"`
	Headers []string `json:"headers"`
}

// unwrap returns the method/params a handler should match against: u
// itself, or its embedded message if u is a _proxy/successor envelope, so
// a conductor sees the wrapped form and an agent sees it unwrapped, both
// handled identically.
func unwrap(u acprpc.UntypedMessage) acprpc.UntypedMessage {
	if sm, ok, err := envelope.Unwrap(u); ok && err == nil {
		return sm.Message
	}
	return u
}

// InterceptSessionNew returns a Handler that appends every registered
// server to an inbound session/new request's mcp_servers list and always
// declines, so later handlers in the chain still observe the (modified)
// request.
func (r *Registry) InterceptSessionNew() acprpc.Handler {
	return handler.NewSync("mcpregistry.session/new", func(_ context.Context, cx acprpc.MessageCx) (acprpc.Handled, error) {
		inner := unwrap(cx.Message)
		if inner.Method != MethodSessionNew || cx.IsNotification() {
			return acprpc.Handled{Claimed: false, Cx: cx}, nil
		}

		servers := r.servers()
		if len(servers) == 0 {
			return acprpc.Handled{Claimed: false, Cx: cx}, nil
		}

		raw := make(map[string]json.RawMessage)
		if len(inner.Params) > 0 {
			if err := json.Unmarshal(inner.Params, &raw); err != nil {
				return acprpc.Handled{Claimed: false, Cx: cx}, nil
			}
		}

		var refs []mcpServerRef
		if b, ok := raw["mcp_servers"]; ok && len(b) > 0 {
			_ = json.Unmarshal(b, &refs)
		}
		for _, s := range servers {
			refs = append(refs, mcpServerRef{Type: "http", Name: s.Name, URL: s.URL, Headers: []string{}})
		}

		merged, err := json.Marshal(refs)
		if err != nil {
			return acprpc.Handled{}, err
		}
		raw["mcp_servers"] = merged
		params, err := json.Marshal(raw)
		if err != nil {
			return acprpc.Handled{}, err
		}

		newCx := cx
		newCx.Message = acprpc.UntypedMessage{Method: cx.Message.Method, Params: params}
		if cx.Message.Method == envelope.MethodSuccessor {
			// Re-wrap so the outer shape is unchanged for the next handler;
			// only the embedded params grew an mcp_servers entry.
			sm, _, _ := envelope.Unwrap(cx.Message)
			wrapped, werr := envelope.Wrap(acprpc.UntypedMessage{Method: inner.Method, Params: params}, sm.Meta)
			if werr != nil {
				return acprpc.Handled{}, werr
			}
			newCx.Message = wrapped
		}
		return acprpc.Handled{Claimed: false, Cx: newCx}, nil
	})
}

// HandleConnect returns a Handler for _mcp/connect (and its wrapped form):
// resolves acp_url against the registry, spawns a fresh in-process server
// component, and replies with the freshly minted connection_id. An
// unrecognized acp_url declines so a composed registry further down the
// chain may claim it.
func (r *Registry) HandleConnect() acprpc.Handler {
	return handler.NewSync("mcpregistry._mcp/connect", func(_ context.Context, cx acprpc.MessageCx) (acprpc.Handled, error) {
		inner := unwrap(cx.Message)
		if inner.Method != envelope.MethodMcpConnect || cx.IsNotification() {
			return acprpc.Handled{Claimed: false, Cx: cx}, nil
		}

		req, matched, err := acprpc.ParseInto[envelope.McpConnect](inner)
		if !matched {
			return acprpc.Handled{Claimed: false, Cx: cx}, nil
		}
		if err != nil {
			cx.Req.RespondError(err)
			return acprpc.Handled{Claimed: true}, nil
		}

		srv, ok := r.lookupURL(req.AcpURL)
		if !ok {
			return acprpc.Handled{Claimed: false, Cx: cx}, nil
		}

		connID, err := r.connect(srv)
		if err != nil {
			cx.Req.RespondError(&acprpc.Error{Code: acprpc.InternalError, Message: err.Error()})
			return acprpc.Handled{Claimed: true}, nil
		}

		cx.Req.Respond(envelope.McpConnectResult{ConnectionID: connID})
		return acprpc.Handled{Claimed: true}, nil
	})
}

// HandleDisconnect returns a Handler for _mcp/disconnect (and its wrapped
// form): removes the connection entry and closes the server component's
// transport so it drains.
func (r *Registry) HandleDisconnect() acprpc.Handler {
	return handler.NewSyncNotification("mcpregistry._mcp/disconnect", func(_ context.Context, cx acprpc.MessageCx) (acprpc.Handled, error) {
		inner := unwrap(cx.Message)
		if inner.Method != envelope.MethodMcpDisconnect {
			return acprpc.Handled{Claimed: false, Cx: cx}, nil
		}
		note, matched, err := acprpc.ParseInto[envelope.McpDisconnect](inner)
		if !matched {
			return acprpc.Handled{Claimed: false, Cx: cx}, nil
		}
		if err != nil {
			return acprpc.Handled{Claimed: true}, err
		}
		r.disconnect(note.ConnectionID)
		return acprpc.Handled{Claimed: true}, nil
	})
}

// HandleMessage returns a Handler for _mcp/message (and its wrapped form):
// looks up connection_id, forwards the embedded MCP method/params into the
// server component, and claims the request. The reply arrives
// asynchronously from the server component's own response and is routed
// back to this same RequestCx by openConn.readLoop.
func (r *Registry) HandleMessage() acprpc.Handler {
	return handler.NewSync("mcpregistry._mcp/message", func(ctx context.Context, cx acprpc.MessageCx) (acprpc.Handled, error) {
		inner := unwrap(cx.Message)
		if inner.Method != envelope.MethodMcpMessage || cx.IsNotification() {
			return acprpc.Handled{Claimed: false, Cx: cx}, nil
		}

		msg, matched, err := acprpc.ParseInto[envelope.McpMessage](inner)
		if !matched {
			return acprpc.Handled{Claimed: false, Cx: cx}, nil
		}
		if err != nil {
			cx.Req.RespondError(err)
			return acprpc.Handled{Claimed: true}, nil
		}

		oc, ok := r.getConn(msg.ConnectionID)
		if !ok {
			cx.Req.RespondError(acprpc.Errorf(acprpc.InvalidParams, "mcpregistry: unknown connection_id %q", msg.ConnectionID))
			return acprpc.Handled{Claimed: true}, nil
		}

		if err := oc.call(ctx, msg.MethodName, msg.Params, cx.Req); err != nil {
			cx.Req.RespondError(&acprpc.Error{Code: acprpc.InternalError, Message: err.Error()})
		}
		return acprpc.Handled{Claimed: true}, nil
	})
}

// HandleNotification returns a Handler for _mcp/notification (and its
// wrapped form): symmetric with HandleMessage but fire-and-forget.
func (r *Registry) HandleNotification() acprpc.Handler {
	return handler.NewSyncNotification("mcpregistry._mcp/notification", func(ctx context.Context, cx acprpc.MessageCx) (acprpc.Handled, error) {
		inner := unwrap(cx.Message)
		if inner.Method != envelope.MethodMcpNotification {
			return acprpc.Handled{Claimed: false, Cx: cx}, nil
		}

		note, matched, err := acprpc.ParseInto[envelope.McpNotification](inner)
		if !matched {
			return acprpc.Handled{Claimed: false, Cx: cx}, nil
		}
		if err != nil {
			return acprpc.Handled{Claimed: true}, err
		}

		oc, ok := r.getConn(note.ConnectionID)
		if !ok {
			return acprpc.Handled{Claimed: true}, nil
		}
		return acprpc.Handled{Claimed: true}, oc.notify(ctx, note.MethodName, note.Params)
	})
}

// Handlers returns all five registry handlers, for splicing into a larger
// handler.ChainAll call alongside application handlers:
//
//	handler.ChainAll(append(registry.Handlers(), appHandlers...)...)
func (r *Registry) Handlers() []acprpc.Handler {
	return []acprpc.Handler{
		r.InterceptSessionNew(),
		r.HandleConnect(),
		r.HandleDisconnect(),
		r.HandleMessage(),
		r.HandleNotification(),
	}
}

// Chain composes all five registry handlers on their own, terminating in a
// NullHandler. Use this when the registry is the entire chain, or compose
// it with handler.Chain against further application handlers.
func (r *Registry) Chain() acprpc.Handler {
	return handler.ChainAll(r.Handlers()...)
}
