/*
Package acprpc implements the core protocol runtime that carries the Agent
Communication Protocol (ACP) between an editor, one or more transforming
proxies, an orchestrating conductor, and an agent process, over JSON-RPC 2.0.

A Connection is a bidirectional JSON-RPC 2.0 peer: it both dispatches inbound
requests and notifications to a handler chain, and originates outbound
requests of its own, tracking their responses in a correlation table. Every
endpoint in an ACP topology (editor, proxy, conductor, agent) is represented
by one Connection, configured with the Role it plays on that link.

Building a connection

To serve an endpoint, first build a handler.Handler chain that knows how to
respond to the typed requests and notifications that endpoint expects to
receive, for example using handler.NewTyped and handler.ChainAll:

	chain := handler.ChainAll(
		handler.NewTyped(handleInitialize),
		handler.NewTyped(handlePrompt),
	)

Then wrap a transport in a channel.Channel and construct a Connection bound to
a Role:

	conn := acprpc.NewConnection(acprpc.RoleAgent, chain, ch, nil)
	err := conn.Serve(ctx)

To originate requests of your own while also serving inbound traffic, use
WithClient:

	err := conn.WithClient(ctx, func(ctx context.Context, conn *acprpc.Connection) error {
		call, err := acprpc.SendRequestTo(ctx, conn, acprpc.RoleAgent, schema.InitializeRequest{...})
		...
		rsp, err := call.Wait(ctx)
		...
	})

Roles and envelopes

A Role describes which logical position a Connection occupies in the
topology. The acprpc.DefaultMatrix decides, for every (local, remote) role
pair, whether outgoing messages ride the wire unchanged (Counterpart style)
or are wrapped in a `_proxy/successor` envelope (Successor style) so an
intermediate hop knows to forward them onward. See role.go for the Role and
RoleMatrix types, and the envelope package for the wrapper types themselves.

Handler chains

A handler chain is a composed sequence of typed handlers ending in a
NullHandler. Each handler either claims a message, declines it (optionally
asking for a retry), or fails. See the handler package for the handler
constructors, including the responder-based asynchronous variants that keep
the dispatch loop from deadlocking on a callback that itself awaits a
response traveling over the same connection.

MCP tunnelling

The mcpregistry package implements the MCP service registry: a directory of
named, in-process MCP server components that are spawned on demand when a
peer opens an `_mcp/connect` channel, and bridged to the ACP connection via
`_mcp/message`/`_mcp/notification` tunnel frames.
*/
package acprpc

// Version is the version string for the JSON-RPC protocol understood by this
// implementation, defined at http://www.jsonrpc.org/specification.
const Version = "2.0"
