// Package mcpregistry implements the MCP service registry: a directory of
// named, in-process MCP server components that are spawned on demand when
// a peer opens an _mcp/connect channel, and bridged to the ACP connection
// via _mcp/message and _mcp/notification tunnel frames.
//
// The in-process server components are built on
// github.com/modelcontextprotocol/go-sdk/mcp and served over the SDK's
// in-memory transport pair; the registry itself only relays opaque
// JSON-RPC frames between a tunnel and its component, and never
// interprets MCP semantics.
package mcpregistry
