package acprpc

import (
	"fmt"
	"sync"
)

// Role identifies which logical position in an ACP topology a Connection
// occupies. The set of roles is closed; there is no provision for an
// application to register new ones.
type Role string

// The closed set of ACP roles.
const (
	RoleClient    Role = "client"
	RoleAgent     Role = "agent"
	RoleProxy     Role = "proxy"
	RoleConductor Role = "conductor"
	RoleMcpClient Role = "mcp_client"
	RoleMcpServer Role = "mcp_server"

	// RoleUntyped is used for connections that have not yet completed a
	// role-establishing handshake, or for test fixtures that do not care
	// about role-matrix enforcement.
	RoleUntyped Role = ""
)

// RemoteStyle says how a Connection must address a message outbound to a
// peer of some other Role. Earlier drafts of this design distinguished a
// third "nested successor" style for a successor's own successor; in
// practice a proxy chain of any depth is fully described by whether the
// *immediate* neighbor is a pass-through counterpart or a wrapping
// successor, so only two styles exist (see DESIGN.md).
type RemoteStyle int

const (
	// StyleCounterpart means messages to this peer travel unwrapped, as if
	// the peer were the final endpoint.
	StyleCounterpart RemoteStyle = iota
	// StyleSuccessor means messages to this peer must be wrapped in a
	// _proxy/successor envelope so the peer knows to forward them onward.
	StyleSuccessor
)

func (s RemoteStyle) String() string {
	switch s {
	case StyleCounterpart:
		return "counterpart"
	case StyleSuccessor:
		return "successor"
	default:
		return fmt.Sprintf("RemoteStyle(%d)", int(s))
	}
}

// WrapFunc builds the Successor-style wire form of an outgoing message,
// e.g. embedding it in a _proxy/successor envelope. The core package cannot
// depend on the envelope package that implements this (envelope imports
// acprpc to describe SuccessorMessage in terms of UntypedMessage), so the
// matrix carries the wrap step as injected data instead. See
// envelope.Matrix for the concrete wiring.
type WrapFunc func(UntypedMessage) (UntypedMessage, error)

// RoleMatrix is a runtime table describing, for every (local, remote) role
// pair a Connection might bridge, which RemoteStyle applies. Go has no
// higher-kinded generics to express this as a compile-time relation between
// role and message types, so the matrix is ordinary data, consulted by the
// connection engine's outbound wrap step.
type RoleMatrix struct {
	styles map[[2]Role]RemoteStyle
	wrap   WrapFunc
}

// NewRoleMatrix builds an empty RoleMatrix that uses wrap to build the wire
// form of any Successor-style send. wrap may be nil if the matrix will only
// ever be used for Counterpart-style links; a Successor send against a nil
// wrap fails with an explicit error rather than silently sending unwrapped.
// Use Set to populate it, or start from DefaultMatrix.
func NewRoleMatrix(wrap WrapFunc) *RoleMatrix {
	return &RoleMatrix{styles: make(map[[2]Role]RemoteStyle), wrap: wrap}
}

// Set records that messages from local to remote use style.
func (m *RoleMatrix) Set(local, remote Role, style RemoteStyle) *RoleMatrix {
	m.styles[[2]Role{local, remote}] = style
	return m
}

// WithWrap returns a copy of m that uses wrap for Successor-style sends,
// leaving m itself untouched. This is how a caller attaches the envelope
// package's Wrap function to acprpc.DefaultMatrix without the core package
// importing envelope directly.
func (m *RoleMatrix) WithWrap(wrap WrapFunc) *RoleMatrix {
	cp := &RoleMatrix{styles: make(map[[2]Role]RemoteStyle, len(m.styles)), wrap: wrap}
	for k, v := range m.styles {
		cp.styles[k] = v
	}
	return cp
}

// Style reports the RemoteStyle for messages sent from local to remote. If
// the pair is not registered, it defaults to StyleCounterpart, matching the
// common case of a direct, non-proxying link.
func (m *RoleMatrix) Style(local, remote Role) RemoteStyle {
	if m == nil {
		return StyleCounterpart
	}
	if s, ok := m.styles[[2]Role{local, remote}]; ok {
		return s
	}
	return StyleCounterpart
}

// wrapFor applies the configured WrapFunc for a Successor-style send. It
// returns an error if the style is Successor but no WrapFunc was ever
// configured, rather than silently falling back to Counterpart delivery.
func (m *RoleMatrix) wrapFor(local, remote Role, u UntypedMessage) (UntypedMessage, error) {
	if m == nil || m.Style(local, remote) == StyleCounterpart {
		return u, nil
	}
	if m.wrap == nil {
		return UntypedMessage{}, fmt.Errorf("acprpc: role matrix has no successor wrap configured for %s->%s", local, remote)
	}
	return m.wrap(u)
}

// DefaultMatrix is the role matrix for a standard ACP topology: an editor
// (client) talks directly to an agent, and a conductor talks directly to a
// proxy, both as counterparts; a proxy's link onward to the agent it
// fronts is a successor link, since the proxy's own caller may itself be
// chained behind another proxy.
var DefaultMatrix = NewRoleMatrix(nil).
	Set(RoleClient, RoleAgent, StyleCounterpart).
	Set(RoleAgent, RoleClient, StyleCounterpart).
	Set(RoleConductor, RoleProxy, StyleCounterpart).
	Set(RoleProxy, RoleConductor, StyleCounterpart).
	Set(RoleProxy, RoleAgent, StyleSuccessor).
	Set(RoleMcpClient, RoleMcpServer, StyleCounterpart).
	Set(RoleMcpServer, RoleMcpClient, StyleCounterpart)

// CheckSendsTo reports an error unless from is one of allowed. Go cannot
// express "this message type may only originate from these roles" as a
// type-level relation without code generation, so the relation is checked
// at the send boundary instead: every egress send consults the registered
// table and returns the resulting error rather than panicking.
func CheckSendsTo[M Message](from Role, allowed ...Role) error {
	var zero M
	return checkRoleAllowed(from, allowed, zero.Method())
}

func checkRoleAllowed(from Role, allowed []Role, method string) error {
	for _, r := range allowed {
		if from == r {
			return nil
		}
	}
	return fmt.Errorf("acprpc: role %q may not send %s (allowed: %v)", from, method, allowed)
}

// sendsToTable records, for each method the core or one of its
// sub-packages declares an opinion about, the roles allowed to originate
// it. A method absent from the table is unrestricted: application-level
// methods this module never defines a Message type for are left to the
// application to constrain, if it cares to, via RegisterSendsTo.
var (
	sendsToMu    sync.Mutex
	sendsToTable = make(map[string][]Role)
)

// RegisterSendsTo declares that only the roles in allowed may originate a
// message whose wire method is method. Packages that define a concrete
// Message type with a role-sensitive meaning (envelope's MCP-tunnel
// methods, for instance) call this from an init function. Every call to
// SendRequestTo and SendNotificationTo consults this table before putting
// a message on the wire.
func RegisterSendsTo(method string, allowed ...Role) {
	sendsToMu.Lock()
	defer sendsToMu.Unlock()
	sendsToTable[method] = append([]Role(nil), allowed...)
}

func allowedSendersFor(method string) ([]Role, bool) {
	sendsToMu.Lock()
	defer sendsToMu.Unlock()
	allowed, ok := sendsToTable[method]
	return allowed, ok
}

// checkSendsTo enforces the registered SendsTo relation, if any, for an
// outgoing message's wire method. It is what SendRequestTo and
// SendNotificationTo call on every egress send.
func checkSendsTo(from Role, method string) error {
	allowed, ok := allowedSendersFor(method)
	if !ok {
		return nil
	}
	return checkRoleAllowed(from, allowed, method)
}
