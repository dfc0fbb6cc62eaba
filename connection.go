package acprpc

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/acpcore/acprpc/channel"
	"github.com/acpcore/acprpc/metrics"
)

var (
	runtimeMetrics = new(expvar.Map)

	connectionsActiveGauge = new(expvar.Int)
	rpcRequestsCount       = new(expvar.Int)
	rpcErrorsCount         = new(expvar.Int)
	bytesReadCount         = new(expvar.Int)
	bytesWrittenCount      = new(expvar.Int)
)

func init() {
	runtimeMetrics.Set("connections_active", connectionsActiveGauge)
	runtimeMetrics.Set("rpc_requests", rpcRequestsCount)
	runtimeMetrics.Set("rpc_errors", rpcErrorsCount)
	runtimeMetrics.Set("bytes_read", bytesReadCount)
	runtimeMetrics.Set("bytes_written", bytesWrittenCount)
}

// RuntimeMetrics returns a map of exported process-wide metrics for use with
// the expvar package. This map is shared among all connections created by
// NewConnection. The caller is free to add or remove metrics in the map, but
// note that such changes will affect all connections.
//
// The caller is responsible for publishing the metrics to the exporter via
// expvar.Publish or similar.
func RuntimeMetrics() *expvar.Map { return runtimeMetrics }

// connState is the connection lifecycle: Idle -> Serving -> {Closed,
// Faulted}. The terminal states are final. An explicit state machine is
// needed to reject a second Serve call and to distinguish an orderly close
// from a faulted one.
type connState int32

const (
	stateIdle connState = iota
	stateServing
	stateClosed
	stateFaulted
)

// Connection is a bidirectional JSON-RPC 2.0 peer. It dispatches inbound
// requests and notifications to a handler chain, and originates outbound
// requests of its own, tracking their responses in a correlation table.
// Every endpoint in an ACP topology is one Connection, configured with the
// Role it plays on that link; ACP endpoints are always requester and
// responder at once.
type Connection struct {
	role    Role
	matrix  *RoleMatrix
	chain   Handler
	ch      channel.Channel
	log     Logger
	metrics *metrics.M

	outIDs idCounter

	mu      sync.Mutex
	pending map[string]*PendingCall

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	writeCh chan []byte

	state        atomic.Int32
	shutdownOnce sync.Once
	closeOnce    sync.Once
	doneCh       chan struct{}
	closeErr     error

	spawnedMu sync.Mutex
	spawned   []func(context.Context) error

	dispatchSem *semaphore.Weighted
}

// NewConnection builds a Connection bound to role, dispatching inbound
// traffic to chain over ch. opts may be nil to take all defaults.
func NewConnection(role Role, chain Handler, ch channel.Channel, opts *ConnectionOptions) *Connection {
	if chain == nil {
		chain = NullHandler{}
	}
	c := &Connection{
		role:    role,
		matrix:  opts.matrix(),
		chain:   chain,
		ch:      ch,
		log:     opts.logger(),
		metrics: opts.metricsOrNew(),
		pending: make(map[string]*PendingCall),
		writeCh: make(chan []byte, opts.writeQueueSize()),
		doneCh:  make(chan struct{}),
	}
	c.dispatchSem = semaphore.NewWeighted(opts.dispatchConcurrency())
	return c
}

// Role reports the role this connection was constructed with.
func (c *Connection) Role() Role { return c.role }

// WithSpawned registers task to run alongside the read loop once Serve is
// called, racing it the same way a registered Responder's Run method races
// the dispatch loop. It must be called before Serve.
func (c *Connection) WithSpawned(task func(context.Context) error) {
	c.spawnedMu.Lock()
	defer c.spawnedMu.Unlock()
	c.spawned = append(c.spawned, task)
}

// WithDispatchSlot runs fn after acquiring one of c's bounded dispatch
// slots, releasing it when fn returns, bounding how many Responder jobs may
// execute concurrently on this connection at once. A nil Connection runs fn
// immediately and unbounded, so a Responder built without a live connection
// (as in tests that never exercise the conn parameter) still works.
func (c *Connection) WithDispatchSlot(ctx context.Context, fn func() error) error {
	if c == nil || c.dispatchSem == nil {
		return fn()
	}
	if err := c.dispatchSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.dispatchSem.Release(1)
	return fn()
}

// ConnectionInfo is a diagnostic snapshot of a Connection: the handler
// chain's description and the connection-local counters, for debugging.
type ConnectionInfo struct {
	Role     Role
	Handlers string
	Counters map[string]int64
	MaxValue map[string]int64
}

// Info returns a diagnostic snapshot of c.
func (c *Connection) Info() ConnectionInfo {
	info := ConnectionInfo{
		Role:     c.role,
		Handlers: c.chain.Describe(),
		Counters: make(map[string]int64),
		MaxValue: make(map[string]int64),
	}
	c.metrics.Snapshot(info.Counters, info.MaxValue)
	return info
}

// Serve runs the read loop and the outgoing writer until ctx is done, the
// channel is closed by the peer, or a fatal protocol error occurs. It may
// be called exactly once per Connection. A peer EOF and a ctx cancellation
// are both orderly shutdowns and return nil; only transport and protocol
// faults are reported as errors.
func (c *Connection) Serve(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(stateIdle), int32(stateServing)) {
		return fmt.Errorf("acprpc: Serve called more than once")
	}

	connectionsActiveGauge.Add(1)
	defer connectionsActiveGauge.Add(-1)

	sctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		// stop releases the writer and every spawned task once the read
		// loop ends, whether by peer EOF or by a transport fault.
		defer stop()
		return c.readLoop(gctx)
	})
	g.Go(func() error {
		err := c.writeLoop(gctx)
		// The writer has drained; closing the channel now unblocks a Recv
		// still in flight, and closing doneCh fails further sends fast.
		c.beginShutdown()
		return err
	})

	c.spawnedMu.Lock()
	tasks := append([]func(context.Context) error(nil), c.spawned...)
	c.spawnedMu.Unlock()
	for _, t := range tasks {
		t := t
		g.Go(func() error { return t(gctx) })
	}

	err := g.Wait()
	if isOrderlyShutdown(err) {
		err = nil
	}
	c.finish(err)
	return err
}

// isOrderlyShutdown reports whether err is one of the ways a connection ends
// on purpose rather than by fault: a peer EOF, a locally closed transport,
// or a cooperative cancellation propagated out of a spawned task.
func isOrderlyShutdown(err error) bool {
	return err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, fs.ErrClosed)
}

// beginShutdown closes the transport and the done channel, unblocking the
// read loop and failing queued senders. It is safe to call more than once.
func (c *Connection) beginShutdown() {
	c.shutdownOnce.Do(func() {
		close(c.doneCh)
		c.ch.Close()
	})
}

func (c *Connection) finish(err error) {
	c.closeOnce.Do(func() {
		c.beginShutdown()
		if err != nil {
			c.state.Store(int32(stateFaulted))
		} else {
			c.state.Store(int32(stateClosed))
		}
		c.closeErr = err

		c.mu.Lock()
		pending := c.pending
		c.pending = make(map[string]*PendingCall)
		c.mu.Unlock()
		for _, call := range pending {
			call.deliver(&Response{ID: call.id, Err: &Error{Code: SystemError, Message: ErrConnectionClosed.Error()}})
		}

		c.sweepCancels()
	})
}

// Done returns a channel closed once the connection has finished serving.
func (c *Connection) Done() <-chan struct{} { return c.doneCh }

// Err returns the error Serve returned, or nil if the connection is still
// serving or closed in an orderly fashion with no error.
func (c *Connection) Err() error { return c.closeErr }

// WithClient runs main concurrently with Serve, canceling the other side
// once either returns, so a connection that only needs to place a few
// outgoing calls does not have to manage its own goroutines.
func (c *Connection) WithClient(ctx context.Context, main func(context.Context, *Connection) error) error {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(cctx)
	g.Go(func() error {
		// Either side completing releases the other, per the engine's
		// start-up contract: WithClient ends when serving or main ends.
		defer cancel()
		return c.Serve(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return main(gctx, c)
	})
	return g.Wait()
}

func (c *Connection) writeLoop(ctx context.Context) error {
	for {
		select {
		case buf := <-c.writeCh:
			if err := c.ch.Send(buf); err != nil {
				return err
			}
			bytesWrittenCount.Add(int64(len(buf)))
		case <-ctx.Done():
			// Drain frames already queued (a client body that sent a final
			// notification and returned expects it on the wire) before the
			// channel is closed; errors here mean the peer is already gone.
			for {
				select {
				case buf := <-c.writeCh:
					if err := c.ch.Send(buf); err != nil {
						return nil
					}
				default:
					return nil
				}
			}
		}
	}
}

func (c *Connection) enqueue(ctx context.Context, buf []byte) error {
	select {
	case c.writeCh <- buf:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.doneCh:
		return ErrConnectionClosed
	}
}

func (c *Connection) readLoop(ctx context.Context) error {
	for {
		raw, err := c.ch.Recv()
		if err != nil {
			if isOrderlyShutdown(err) {
				return nil
			}
			return err
		}
		bytesReadCount.Add(int64(len(raw)))
		if err := c.dispatch(ctx, raw); err != nil {
			rpcErrorsCount.Add(1)
			c.log.logf("acprpc: dispatch error: %v", err)
		}
	}
}

func (c *Connection) dispatch(ctx context.Context, raw []byte) error {
	if firstNonSpace(raw) == '[' {
		// ACP never batches; the frame carries no id to answer against, so
		// this is logged and dropped rather than answered.
		c.log.logf("acprpc: rejecting batch frame")
		c.metrics.Count("batches_rejected", 1)
		return nil
	}

	w, err := decodeWire(raw)
	if err != nil {
		c.metrics.Count("frames_malformed", 1)
		return err
	}

	switch {
	case w.isResponse():
		c.deliverResponse(w)
		return nil
	case w.isRequest(), w.isNotification():
		return c.dispatchInbound(ctx, w)
	default:
		c.metrics.Count("frames_malformed", 1)
		return fmt.Errorf("acprpc: malformed frame")
	}
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return c
	}
	return 0
}

func (c *Connection) deliverResponse(w *wireMessage) {
	id := string(w.ID)
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		c.log.logf("acprpc: response for unknown id %s", id)
		c.metrics.Count("responses_unmatched", 1)
		return
	}
	call.deliver(&Response{ID: RequestID{raw: w.ID}, Result: w.Result, Err: w.Error})
}

func (c *Connection) dispatchInbound(ctx context.Context, w *wireMessage) error {
	if w.isNotification() && w.Method == MethodRPCCancel {
		c.handleCancelNotification(w.Params)
		return nil
	}

	um := UntypedMessage{Method: w.Method, Params: w.Params}
	var reqCx RequestCx
	handlerCtx := ctx
	if w.isRequest() {
		rpcRequestsCount.Add(1)
		reqCx = newRequestCx(c, RequestID{raw: w.ID})
		var cancel context.CancelFunc
		handlerCtx, cancel = context.WithCancel(ctx)
		c.registerCancel(reqCx.id.String(), cancel)
	}
	cx := MessageCx{From: RoleUntyped, Message: um, Req: reqCx}

	res, err := c.chain.Handle(handlerCtx, cx)
	if err != nil {
		c.log.logf("acprpc: handler error for %s: %v", w.Method, err)
		c.metrics.Count("handler_errors", 1)
	}

	if w.isNotification() {
		if !res.Claimed {
			c.metrics.Count("notifications_dropped", 1)
		}
		return nil
	}

	// Request: if nothing claimed it, synthesize MethodNotFound. A claimed
	// request's cancel registration is cleared by RequestCx.claim when it is
	// eventually answered, synchronously or from a Responder's off-loop
	// goroutine; this path answers the request itself, so it must clear it.
	if !res.Claimed {
		c.metrics.Count("methods_not_found", 1)
		c.clearCancel(reqCx.id.String())
		return c.writeError(reqCx.id, errNoSuchMethod(w.Method))
	}
	return nil
}

func (c *Connection) writeResult(id RequestID, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return c.writeError(id, &Error{Code: InternalError, Message: err.Error()})
	}
	buf, err := encodeResult(id, payload)
	if err != nil {
		return err
	}
	return c.enqueue(context.Background(), buf)
}

func (c *Connection) writeError(id RequestID, errv *Error) error {
	buf, err := encodeError(id, errv)
	if err != nil {
		return err
	}
	return c.enqueue(context.Background(), buf)
}

// SendRequestTo originates a new outbound request of type M addressed to
// the logical peer remote, applying the role matrix's wrap step
// (Counterpart passthrough or Successor envelope) before writing the frame,
// and installing a PendingCall in the correlation table keyed by the
// freshly assigned id.
func SendRequestTo[M Message](ctx context.Context, c *Connection, remote Role, msg M) (*PendingCall, error) {
	u, err := ToUntyped(msg)
	if err != nil {
		return nil, err
	}
	if u.Method == "" {
		return nil, errEmptyMethod
	}
	if err := checkSendsTo(c.role, u.Method); err != nil {
		return nil, err
	}
	u, err = c.matrix.wrapFor(c.role, remote, u)
	if err != nil {
		return nil, err
	}

	id := c.outIDs.next()
	call := newPendingCall(c, id)

	c.mu.Lock()
	if _, dup := c.pending[id.String()]; dup {
		c.mu.Unlock()
		return nil, errDuplicateID
	}
	c.pending[id.String()] = call
	c.mu.Unlock()

	buf, err := encodeRequest(id, u.Method, u.Params)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id.String())
		c.mu.Unlock()
		return nil, err
	}
	if err := c.enqueue(ctx, buf); err != nil {
		c.mu.Lock()
		delete(c.pending, id.String())
		c.mu.Unlock()
		return nil, err
	}
	return call, nil
}

// SendNotificationTo originates a fire-and-forget outbound notification
// addressed to the logical peer remote, applying the same role-matrix wrap
// step as SendRequestTo.
func (c *Connection) SendNotificationTo(ctx context.Context, remote Role, msg Message) error {
	u, err := ToUntyped(msg)
	if err != nil {
		return err
	}
	if u.Method == "" {
		return errEmptyMethod
	}
	if err := checkSendsTo(c.role, u.Method); err != nil {
		return err
	}
	u, err = c.matrix.wrapFor(c.role, remote, u)
	if err != nil {
		return err
	}
	buf, err := encodeNotification(u.Method, u.Params)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, buf)
}
