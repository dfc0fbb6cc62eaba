package mcpregistry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// McpContext is passed to a SpawnFunc when a peer opens a new logical MCP
// connection against a registered server: the server's own registry URL
// and the freshly minted connection id for the channel being opened.
type McpContext struct {
	URL          string
	ConnectionID string
}

// SpawnFunc builds the in-process MCP server component that will serve one
// logical connection. Registry.AddServer stores one SpawnFunc per
// registered name and invokes it fresh for every _mcp/connect, so a server
// with per-connection state (e.g. a session cache) gets a clean instance
// each time.
type SpawnFunc func(McpContext) (*mcp.Server, error)

// Server is an immutable registered MCP server record: a human-assigned
// name, a process-local acp:<uuid> URL, and the constructor for its
// in-process component.
type Server struct {
	Name string
	URL  string

	spawn SpawnFunc
}

// Registry is a shared directory of registered MCP servers and open
// MCP-over-ACP tunnels. All three maps are guarded by a single mutex;
// critical sections are O(1) lookups and inserts.
type Registry struct {
	mu     sync.Mutex
	byName map[string]*Server
	byURL  map[string]*Server
	conns  map[string]*openConn
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		byName: make(map[string]*Server),
		byURL:  make(map[string]*Server),
		conns:  make(map[string]*openConn),
	}
}

// AddServer registers a named MCP server component. It mints a fresh
// acp:<uuid> URL for the registration and fails if name is already taken.
func (r *Registry) AddServer(name string, spawn SpawnFunc) (*Server, error) {
	if name == "" {
		return nil, fmt.Errorf("mcpregistry: server name must not be empty")
	}
	if spawn == nil {
		return nil, fmt.Errorf("mcpregistry: server %q has no spawn function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[name]; dup {
		return nil, fmt.Errorf("mcpregistry: server %q is already registered", name)
	}

	s := &Server{Name: name, URL: "acp:" + uuid.NewString(), spawn: spawn}
	r.byName[name] = s
	r.byURL[s.URL] = s
	return s, nil
}

// RemoveServer unregisters name, if present. In-flight connections opened
// against it are left running; only new _mcp/connect calls are affected.
func (r *Registry) RemoveServer(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byName[name]; ok {
		delete(r.byName, name)
		delete(r.byURL, s.URL)
	}
}

// servers returns a name-sorted snapshot of the registered servers, for
// deterministic session/new augmentation order.
func (r *Registry) servers() []*Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Server, 0, len(r.byName))
	for _, s := range r.byName {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) lookupURL(acpURL string) (*Server, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byURL[acpURL]
	return s, ok
}

func (r *Registry) addConn(id string, oc *openConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = oc
}

func (r *Registry) getConn(id string) (*openConn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	oc, ok := r.conns[id]
	return oc, ok
}

func (r *Registry) removeConn(id string) (*openConn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	oc, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	return oc, ok
}

// connect spawns srv's in-process component on a fresh in-memory duplex
// pair and returns the connection id a caller uses to address it via
// _mcp/message and _mcp/notification.
func (r *Registry) connect(srv *Server) (string, error) {
	connID := "mcp-over-acp-connection:" + uuid.NewString()

	component, err := srv.spawn(McpContext{URL: srv.URL, ConnectionID: connID})
	if err != nil {
		return "", fmt.Errorf("mcpregistry: spawn %q: %w", srv.Name, err)
	}

	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	runCtx, cancel := context.WithCancel(context.Background())
	go func() {
		// The server component drains until its transport's peer closes,
		// i.e. until Registry.disconnect tears down this connection.
		_ = component.Run(runCtx, serverTransport)
	}()

	clientConn, err := clientTransport.Connect(runCtx)
	if err != nil {
		cancel()
		return "", fmt.Errorf("mcpregistry: connect client transport for %q: %w", srv.Name, err)
	}

	oc := newOpenConn(srv, clientConn, cancel)
	r.addConn(connID, oc)
	go oc.readLoop()

	return connID, nil
}

// disconnect tears down an open connection: the server component observes
// its transport's peer close and drains.
func (r *Registry) disconnect(connID string) {
	oc, ok := r.removeConn(connID)
	if !ok {
		return
	}
	oc.close()
}
