// Package envelope implements the proxy wrapping protocol that lets an
// intermediate hop in an ACP topology forward a message to its eventual
// successor unmodified, and the MCP-over-ACP tunnel frames that let a peer
// open a logical MCP connection over the same JSON-RPC link.
//
// An envelope carries an arbitrary embedded ACP message alongside opaque
// routing metadata, preserving both verbatim so an intermediary can
// inspect or parse either level.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/acpcore/acprpc"
)

// MethodSuccessor is the reserved method name for a proxy envelope.
const MethodSuccessor = "_proxy/successor"

// Matrix returns acprpc.DefaultMatrix configured to use Wrap for any
// Successor-style send. The core role matrix cannot call Wrap itself
// (acprpc cannot import envelope, which imports acprpc), so this is the
// seam applications use to get a matrix that actually performs
// _proxy/successor wrapping, rather than erroring out on the first
// Successor-style SendRequestTo.
func Matrix() *acprpc.RoleMatrix {
	return acprpc.DefaultMatrix.WithWrap(func(u acprpc.UntypedMessage) (acprpc.UntypedMessage, error) {
		return Wrap(u, nil)
	})
}

// MCP tunnel method names, reserved for the MCP service registry.
const (
	MethodMcpConnect      = "_mcp/connect"
	MethodMcpDisconnect   = "_mcp/disconnect"
	MethodMcpMessage      = "_mcp/message"
	MethodMcpNotification = "_mcp/notification"
)

// ReservedMethods is the set of method names an application schema must
// never define, since they are claimed by the envelope and tunnel
// protocols.
var ReservedMethods = map[string]bool{
	MethodSuccessor:       true,
	MethodMcpConnect:      true,
	MethodMcpDisconnect:   true,
	MethodMcpMessage:      true,
	MethodMcpNotification: true,
}

// CheckMethodName returns an error if method collides with a reserved
// envelope or tunnel method name.
func CheckMethodName(method string) error {
	if ReservedMethods[method] {
		return fmt.Errorf("envelope: %q is a reserved method name", method)
	}
	return nil
}

// init declares which roles may originate the tunnel methods this package
// defines concrete Message types for. An MCP tunnel is always opened by a
// client (directly, or by a conductor acting on a client's behalf through
// a registry it hosts), never by an agent or a proxy; that is what these
// registrations encode.
func init() {
	acprpc.RegisterSendsTo(MethodMcpConnect, acprpc.RoleClient, acprpc.RoleConductor)
	acprpc.RegisterSendsTo(MethodMcpMessage, acprpc.RoleClient, acprpc.RoleConductor)
	acprpc.RegisterSendsTo(MethodMcpNotification, acprpc.RoleClient, acprpc.RoleConductor)
	acprpc.RegisterSendsTo(MethodMcpDisconnect, acprpc.RoleClient, acprpc.RoleConductor)
}

// SuccessorMessage is the payload of a _proxy/successor envelope: an
// embedded message, plus arbitrary routing metadata the wrapping hop wants
// to preserve end to end without interpreting it.
type SuccessorMessage struct {
	Message acprpc.UntypedMessage `json:"message"`
	Meta    json.RawMessage       `json:"meta,omitempty"`
}

// Method implements acprpc.Message.
func (SuccessorMessage) Method() string { return MethodSuccessor }

// Wrap builds the UntypedMessage wire form of a _proxy/successor envelope
// around inner, preserving meta verbatim.
func Wrap(inner acprpc.UntypedMessage, meta json.RawMessage) (acprpc.UntypedMessage, error) {
	params, err := json.Marshal(SuccessorMessage{Message: inner, Meta: meta})
	if err != nil {
		return acprpc.UntypedMessage{}, fmt.Errorf("wrap successor envelope: %w", err)
	}
	return acprpc.UntypedMessage{Method: MethodSuccessor, Params: params}, nil
}

// Unwrap extracts the embedded message and metadata from a _proxy/successor
// envelope. It returns ok == false if u is not addressed to _proxy/successor.
func Unwrap(u acprpc.UntypedMessage) (sm SuccessorMessage, ok bool, err error) {
	if u.Method != MethodSuccessor {
		return SuccessorMessage{}, false, nil
	}
	if err := json.Unmarshal(u.Params, &sm); err != nil {
		return SuccessorMessage{}, true, fmt.Errorf("unwrap successor envelope: %w", err)
	}
	return sm, true, nil
}

// ParseSuccessor performs a compositional parse: it matches only when u's
// outer method is _proxy/successor *and* the embedded message resolves to
// T, returning both the unwrapped envelope and the typed inner value.
func ParseSuccessor[T acprpc.Message](u acprpc.UntypedMessage) (SuccessorMessage, T, bool, error) {
	var zero T
	sm, ok, err := Unwrap(u)
	if !ok || err != nil {
		return SuccessorMessage{}, zero, ok, err
	}
	inner, matched, ierr := acprpc.ParseInto[T](sm.Message)
	if !matched {
		return sm, zero, false, nil
	}
	return sm, inner, true, ierr
}

// McpConnect is the _mcp/connect request, opening a logical MCP connection
// tunneled over the ACP link.
type McpConnect struct {
	acprpc.Request
	AcpURL string `json:"acp_url"`
}

func (McpConnect) Method() string { return MethodMcpConnect }

// McpConnectResult is the successful response to McpConnect.
type McpConnectResult struct {
	ConnectionID string `json:"connection_id"`
}

// McpDisconnect is the _mcp/disconnect notification, tearing down a
// previously opened tunnel.
type McpDisconnect struct {
	acprpc.Notification
	ConnectionID string `json:"connection_id"`
}

func (McpDisconnect) Method() string { return MethodMcpDisconnect }

// McpMessage is the _mcp/message request: one JSON-RPC request from the MCP
// session identified by ConnectionID, tunneled as an ACP request.
type McpMessage struct {
	acprpc.Request
	ConnectionID string          `json:"connection_id"`
	MethodName   string          `json:"method"`
	Params       json.RawMessage `json:"params,omitempty"`
}

func (McpMessage) Method() string { return MethodMcpMessage }

// McpNotification is the notification counterpart of McpMessage.
type McpNotification struct {
	acprpc.Notification
	ConnectionID string          `json:"connection_id"`
	MethodName   string          `json:"method"`
	Params       json.RawMessage `json:"params,omitempty"`
}

func (McpNotification) Method() string { return MethodMcpNotification }
