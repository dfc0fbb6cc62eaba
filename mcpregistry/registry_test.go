package mcpregistry_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/acpcore/acprpc"
	"github.com/acpcore/acprpc/channel"
	"github.com/acpcore/acprpc/envelope"
	"github.com/acpcore/acprpc/handler"
	"github.com/acpcore/acprpc/mcpregistry"
)

func echoSpawner(mcpregistry.McpContext) (*mcp.Server, error) {
	srv := mcp.NewServer(&mcp.Implementation{Name: "calc", Version: "0.0.1"}, nil)
	srv.AddTool(
		&mcp.Tool{
			Name:        "echo",
			Description: "echoes its input back",
			InputSchema: json.RawMessage(`{"type":"object"}`),
		},
		func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: string(req.Params.Arguments)}},
			}, nil
		},
	)
	return srv, nil
}

func TestAddServerRejectsDuplicateName(t *testing.T) {
	r := mcpregistry.New()
	if _, err := r.AddServer("calc", echoSpawner); err != nil {
		t.Fatalf("first AddServer: unexpected error: %v", err)
	}
	if _, err := r.AddServer("calc", echoSpawner); err == nil {
		t.Errorf("second AddServer with duplicate name: want error, got nil")
	}
}

func TestAddServerRejectsEmptyNameOrNilSpawn(t *testing.T) {
	r := mcpregistry.New()
	if _, err := r.AddServer("", echoSpawner); err == nil {
		t.Errorf("AddServer with empty name: want error, got nil")
	}
	if _, err := r.AddServer("calc", nil); err == nil {
		t.Errorf("AddServer with nil spawn: want error, got nil")
	}
}

type probeServerRef struct {
	Type string `json:"type"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

type sessionNewRequest struct {
	acprpc.Request
	MCPServers []probeServerRef `json:"mcp_servers"`
}

func (sessionNewRequest) Method() string { return mcpregistry.MethodSessionNew }

type sessionNewResult struct {
	MCPServers []probeServerRef `json:"mcp_servers"`
}

// TestSessionNewAugmentation checks that a session/new request passing
// through an endpoint whose registry has a "calc" server arrives at the
// application handler with that server appended to mcp_servers.
func TestSessionNewAugmentation(t *testing.T) {
	registry := mcpregistry.New()
	srv, err := registry.AddServer("calc", echoSpawner)
	if err != nil {
		t.Fatalf("AddServer: unexpected error: %v", err)
	}

	echoSessionNew := handler.NewTyped(func(_ context.Context, req sessionNewRequest, cx acprpc.RequestCx) error {
		return cx.Respond(sessionNewResult{MCPServers: req.MCPServers})
	})
	chain := handler.ChainAll(append(registry.Handlers(), echoSessionNew)...)

	serverCh, clientCh := channel.Pipe(channel.JSON)
	serverConn := acprpc.NewConnection(acprpc.RoleAgent, chain, serverCh, nil)
	clientConn := acprpc.NewConnection(acprpc.RoleClient, acprpc.NullHandler{}, clientCh, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- serverConn.Serve(ctx) }()

	var result sessionNewResult
	err = clientConn.WithClient(ctx, func(ctx context.Context, conn *acprpc.Connection) error {
		call, err := acprpc.SendRequestTo(ctx, conn, acprpc.RoleAgent, sessionNewRequest{})
		if err != nil {
			return err
		}
		rsp, err := call.Wait(ctx)
		if err != nil {
			return err
		}
		if rsp.Err != nil {
			return fmt.Errorf("session/new: unexpected error response: %v", rsp.Err)
		}
		return rsp.UnmarshalResult(&result)
	})
	if err != nil {
		t.Fatalf("client body: unexpected error: %v", err)
	}
	cancel()
	<-serveErr

	if len(result.MCPServers) != 1 {
		t.Fatalf("session/new: got %d mcp_servers, want 1", len(result.MCPServers))
	}
	if got := result.MCPServers[0]; got.Name != "calc" || got.URL != srv.URL || got.Type != "http" {
		t.Errorf("session/new: got %+v, want {http calc %s}", got, srv.URL)
	}
}

// TestEndToEndConnectMessageDisconnect drives a full MCP-over-ACP tunnel
// through two acprpc.Connections wired back to back: connect, run the MCP
// initialize handshake, call a tool, disconnect.
func TestEndToEndConnectMessageDisconnect(t *testing.T) {
	registry := mcpregistry.New()
	srv, err := registry.AddServer("calc", echoSpawner)
	if err != nil {
		t.Fatalf("AddServer: unexpected error: %v", err)
	}

	serverCh, clientCh := channel.Pipe(channel.JSON)

	serverChain := handler.ChainAll(registry.Handlers()...)
	serverConn := acprpc.NewConnection(acprpc.RoleAgent, serverChain, serverCh, nil)
	clientConn := acprpc.NewConnection(acprpc.RoleClient, acprpc.NullHandler{}, clientCh, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- serverConn.Serve(ctx) }()

	var connectionID string
	err = clientConn.WithClient(ctx, func(ctx context.Context, conn *acprpc.Connection) error {
		connectCall, err := acprpc.SendRequestTo(ctx, conn, acprpc.RoleAgent, envelope.McpConnect{AcpURL: srv.URL})
		if err != nil {
			return err
		}
		rsp, err := connectCall.Wait(ctx)
		if err != nil {
			return err
		}
		if rsp.Err != nil {
			return fmt.Errorf("_mcp/connect: unexpected error response: %v", rsp.Err)
		}
		var result envelope.McpConnectResult
		if err := rsp.UnmarshalResult(&result); err != nil {
			return err
		}
		connectionID = result.ConnectionID

		// The registry relays frames verbatim, so the MCP handshake is the
		// tunnel client's job, just as it would be for a real MCP client.
		initCall, err := acprpc.SendRequestTo(ctx, conn, acprpc.RoleAgent, envelope.McpMessage{
			ConnectionID: connectionID,
			MethodName:   "initialize",
			Params:       json.RawMessage(`{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"acp-test","version":"0.0.1"}}`),
		})
		if err != nil {
			return err
		}
		initRsp, err := initCall.Wait(ctx)
		if err != nil {
			return err
		}
		if initRsp.Err != nil {
			return fmt.Errorf("_mcp/message initialize: unexpected error response: %v", initRsp.Err)
		}
		if err := conn.SendNotificationTo(ctx, acprpc.RoleAgent, envelope.McpNotification{
			ConnectionID: connectionID,
			MethodName:   "notifications/initialized",
		}); err != nil {
			return err
		}

		msgCall, err := acprpc.SendRequestTo(ctx, conn, acprpc.RoleAgent, envelope.McpMessage{
			ConnectionID: connectionID,
			MethodName:   "tools/call",
			Params:       json.RawMessage(`{"name":"echo","arguments":{"hello":"world"}}`),
		})
		if err != nil {
			return err
		}
		msgRsp, err := msgCall.Wait(ctx)
		if err != nil {
			return err
		}
		if msgRsp.Err != nil {
			return fmt.Errorf("_mcp/message: unexpected error response: %v", msgRsp.Err)
		}

		return conn.SendNotificationTo(ctx, acprpc.RoleAgent, envelope.McpDisconnect{ConnectionID: connectionID})
	})
	if err != nil {
		t.Fatalf("client body: unexpected error: %v", err)
	}
	if connectionID == "" {
		t.Fatalf("_mcp/connect: never received a connection_id")
	}

	cancel()
	<-serveErr
}

// TestHandleMessageUnknownConnection checks that a tunnel request against a
// connection id that was never opened (or already closed) comes back as an
// InvalidParams error rather than hanging or panicking.
func TestHandleMessageUnknownConnection(t *testing.T) {
	registry := mcpregistry.New()
	chain := handler.ChainAll(registry.Handlers()...)

	serverCh, clientCh := channel.Pipe(channel.JSON)
	serverConn := acprpc.NewConnection(acprpc.RoleAgent, chain, serverCh, nil)
	clientConn := acprpc.NewConnection(acprpc.RoleClient, acprpc.NullHandler{}, clientCh, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- serverConn.Serve(ctx) }()

	var gotErr *acprpc.Error
	err := clientConn.WithClient(ctx, func(ctx context.Context, conn *acprpc.Connection) error {
		call, err := acprpc.SendRequestTo(ctx, conn, acprpc.RoleAgent, envelope.McpMessage{
			ConnectionID: "mcp-over-acp-connection:does-not-exist",
			MethodName:   "tools/list",
		})
		if err != nil {
			return err
		}
		rsp, err := call.Wait(ctx)
		if err != nil {
			return err
		}
		gotErr = rsp.Err
		return nil
	})
	if err != nil {
		t.Fatalf("client body: unexpected error: %v", err)
	}
	cancel()
	<-serveErr

	if gotErr == nil {
		t.Fatalf("_mcp/message on unknown connection: want an error response, got success")
	}
	if gotErr.Code != acprpc.InvalidParams {
		t.Errorf("_mcp/message on unknown connection: got code %v, want InvalidParams", gotErr.Code)
	}
}
