package handler_test

import (
	"context"
	"testing"
	"time"

	"github.com/acpcore/acprpc"
	"github.com/acpcore/acprpc/channel"
	"github.com/acpcore/acprpc/handler"
)

type addRequest struct {
	acprpc.Request
	A, B int
}

func (addRequest) Method() string { return "math/add" }

type addResult struct {
	Sum int `json:"sum"`
}

type addedNote struct {
	acprpc.Notification
	Sum int `json:"sum"`
}

func (addedNote) Method() string { return "math/added" }

// TestNewTypedPropagatesCallbackError checks that a handler which answers
// by returning an error, rather than calling RespondError itself, has that
// exact error sent as the reply: the caller observes the handler's own
// code and message, not a generic substitute.
func TestNewTypedPropagatesCallbackError(t *testing.T) {
	chain := handler.NewTyped(func(_ context.Context, _ addRequest, _ acprpc.RequestCx) error {
		return acprpc.Errorf(acprpc.InvalidParams, "bad field")
	})
	serverCh, clientCh := channel.Pipe(channel.JSON)
	serverConn := acprpc.NewConnection(acprpc.RoleAgent, chain, serverCh, nil)
	clientConn := acprpc.NewConnection(acprpc.RoleClient, acprpc.NullHandler{}, clientCh, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go serverConn.Serve(ctx)

	var gotErr *acprpc.Error
	err := clientConn.WithClient(ctx, func(ctx context.Context, conn *acprpc.Connection) error {
		call, err := acprpc.SendRequestTo(ctx, conn, acprpc.RoleAgent, addRequest{A: 1, B: 2})
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
	if gotErr == nil {
		t.Fatalf("callback error: want an error response, got success")
	}
	if gotErr.Code != acprpc.InvalidParams {
		t.Errorf("callback error: got code %v, want InvalidParams", gotErr.Code)
	}
	if gotErr.Message != "bad field" {
		t.Errorf("callback error: got message %q, want %q", gotErr.Message, "bad field")
	}
}

// TestNewTypedSilentHandlerLeavesRequestUnanswered checks the contract
// violation: a handler that claims a request and returns nil without
// responding gets a logged warning and no synthesized reply, so the
// caller's handle resolves only when the connection closes.
func TestNewTypedSilentHandlerLeavesRequestUnanswered(t *testing.T) {
	claimed := make(chan struct{})
	chain := handler.NewTyped(func(_ context.Context, _ addRequest, _ acprpc.RequestCx) error {
		close(claimed)
		return nil // deliberately never calls Respond/RespondError
	})
	serverCh, clientCh := channel.Pipe(channel.JSON)
	serverConn := acprpc.NewConnection(acprpc.RoleAgent, chain, serverCh, nil)
	clientConn := acprpc.NewConnection(acprpc.RoleClient, acprpc.NullHandler{}, clientCh, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sctx, scancel := context.WithCancel(ctx)
	defer scancel()
	serveErr := make(chan error, 1)
	go func() { serveErr <- serverConn.Serve(sctx) }()

	var gotErr *acprpc.Error
	err := clientConn.WithClient(ctx, func(ctx context.Context, conn *acprpc.Connection) error {
		call, err := acprpc.SendRequestTo(ctx, conn, acprpc.RoleAgent, addRequest{A: 1, B: 2})
		if err != nil {
			return err
		}
		<-claimed // the handler ran and returned without answering
		scancel() // no reply is coming; tear the connection down
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
	<-serveErr

	if gotErr == nil {
		t.Fatalf("silent handler: want a connection-closed error response, got success")
	}
	if gotErr.Code != acprpc.SystemError {
		t.Errorf("silent handler: got code %v, want SystemError (no synthesized reply)", gotErr.Code)
	}
}

func TestNewCombinedSharesRequestAndNotification(t *testing.T) {
	noted := make(chan int, 1)
	chain := handler.NewCombined(
		func(_ context.Context, req addRequest, cx acprpc.RequestCx) error {
			return cx.Respond(addResult{Sum: req.A + req.B})
		},
		func(_ context.Context, note addedNote) error {
			noted <- note.Sum
			return nil
		},
	)

	serverCh, clientCh := channel.Pipe(channel.JSON)
	serverConn := acprpc.NewConnection(acprpc.RoleAgent, chain, serverCh, nil)
	clientConn := acprpc.NewConnection(acprpc.RoleClient, acprpc.NullHandler{}, clientCh, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go serverConn.Serve(ctx)

	var result addResult
	err := clientConn.WithClient(ctx, func(ctx context.Context, conn *acprpc.Connection) error {
		call, err := acprpc.SendRequestTo(ctx, conn, acprpc.RoleAgent, addRequest{A: 4, B: 5})
		if err != nil {
			return err
		}
		rsp, err := call.Wait(ctx)
		if err != nil {
			return err
		}
		if rsp.Err != nil {
			return rsp.Err
		}
		if err := rsp.UnmarshalResult(&result); err != nil {
			return err
		}
		return conn.SendNotificationTo(ctx, acprpc.RoleAgent, addedNote{Sum: result.Sum})
	})
	if err != nil {
		t.Fatalf("client body: unexpected error: %v", err)
	}
	if result.Sum != 9 {
		t.Fatalf("request leg: got Sum=%d, want 9", result.Sum)
	}

	select {
	case got := <-noted:
		if got != 9 {
			t.Errorf("notification leg: got Sum=%d, want 9", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("notification leg: never received")
	}
}

// TestNewResponderRunsOffDispatchLoop checks that a Responder's Run loop,
// wired in via Connection.WithSpawned, actually invokes its callback and
// answers the request off the read loop, the mechanism that keeps a
// handler which itself awaits an outbound call on the same connection from
// deadlocking the single read loop.
func TestNewResponderRunsOffDispatchLoop(t *testing.T) {
	serverCh, clientCh := channel.Pipe(channel.JSON)

	// This callback never originates calls of its own, so the *Connection
	// NewResponder would hand it goes unused; a callback that does would
	// receive the same *Connection realServer is built with below.
	respHandler, responder := handler.NewResponder[addRequest](nil, func(_ context.Context, req addRequest, cx acprpc.RequestCx, _ *acprpc.Connection) error {
		return cx.Respond(addResult{Sum: req.A + req.B})
	})
	realServer := acprpc.NewConnection(acprpc.RoleAgent, respHandler, serverCh, nil)
	realServer.WithSpawned(responder.Run)

	realClient := acprpc.NewConnection(acprpc.RoleClient, acprpc.NullHandler{}, clientCh, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go realServer.Serve(ctx)

	var result addResult
	err := realClient.WithClient(ctx, func(ctx context.Context, conn *acprpc.Connection) error {
		call, err := acprpc.SendRequestTo(ctx, conn, acprpc.RoleAgent, addRequest{A: 10, B: 20})
		if err != nil {
			return err
		}
		rsp, err := call.Wait(ctx)
		if err != nil {
			return err
		}
		if rsp.Err != nil {
			return rsp.Err
		}
		return rsp.UnmarshalResult(&result)
	})
	if err != nil {
		t.Fatalf("client body: unexpected error: %v", err)
	}
	if result.Sum != 30 {
		t.Errorf("responder round trip: got Sum=%d, want 30", result.Sum)
	}
}

// TestNewResponderPropagatesCallbackError mirrors
// TestNewTypedPropagatesCallbackError for the off-loop path: a responder
// callback that answers by returning an error has that error relayed as
// the reply, code and message intact.
func TestNewResponderPropagatesCallbackError(t *testing.T) {
	serverCh, clientCh := channel.Pipe(channel.JSON)

	respHandler, responder := handler.NewResponder[addRequest](nil, func(_ context.Context, _ addRequest, _ acprpc.RequestCx, _ *acprpc.Connection) error {
		return acprpc.Errorf(acprpc.InvalidParams, "bad add")
	})
	serverConn := acprpc.NewConnection(acprpc.RoleAgent, respHandler, serverCh, nil)
	serverConn.WithSpawned(responder.Run)
	clientConn := acprpc.NewConnection(acprpc.RoleClient, acprpc.NullHandler{}, clientCh, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go serverConn.Serve(ctx)

	var gotErr *acprpc.Error
	err := clientConn.WithClient(ctx, func(ctx context.Context, conn *acprpc.Connection) error {
		call, err := acprpc.SendRequestTo(ctx, conn, acprpc.RoleAgent, addRequest{A: 1, B: 2})
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
	if gotErr == nil {
		t.Fatalf("responder callback error: want an error response, got success")
	}
	if gotErr.Code != acprpc.InvalidParams {
		t.Errorf("responder callback error: got code %v, want InvalidParams", gotErr.Code)
	}
	if gotErr.Message != "bad add" {
		t.Errorf("responder callback error: got message %q, want %q", gotErr.Message, "bad add")
	}
}
