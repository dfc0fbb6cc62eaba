package handler

import (
	"context"
	"log"
	"sync"

	"github.com/acpcore/acprpc"
)

// responderJob is one parsed request queued for off-loop execution.
type responderJob[Req acprpc.Message] struct {
	ctx context.Context
	req Req
	cx  acprpc.RequestCx
}

// jobQueue is a mutex-guarded, growable FIFO with a signaling channel, not a
// buffered channel: responderHandler.Handle runs on the connection's single
// read loop (Connection.dispatchInbound -> chain.Handle), and a
// fixed-capacity channel send from Handle would block the read loop itself
// once the buffer filled while Run was still busy on an earlier job,
// exactly the deadlock class Responders exist to avoid. Pushing onto a
// slice under a mutex can never block the pusher.
type jobQueue[Req acprpc.Message] struct {
	mu     sync.Mutex
	items  []responderJob[Req]
	signal chan struct{}
}

func newJobQueue[Req acprpc.Message]() *jobQueue[Req] {
	return &jobQueue[Req]{signal: make(chan struct{}, 1)}
}

// push enqueues job and never blocks.
func (q *jobQueue[Req]) push(job responderJob[Req]) {
	q.mu.Lock()
	q.items = append(q.items, job)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop removes and returns the oldest queued job, if any.
func (q *jobQueue[Req]) pop() (responderJob[Req], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return responderJob[Req]{}, false
	}
	job := q.items[0]
	q.items[0] = responderJob[Req]{}
	q.items = q.items[1:]
	return job, true
}

// Responder drains the job queue a NewResponder handler feeds, running one
// job at a time so a given responder's callbacks observe requests in
// arrival order. A persistent drain loop, rather than a goroutine per
// call, is what preserves that per-responder ordering; distinct responders
// still run concurrently with each other and with the read loop.
type Responder interface {
	// Run drains queued jobs until ctx is done.
	Run(ctx context.Context) error
}

type responderImpl[Req acprpc.Message] struct {
	method string
	jobs   func(context.Context, Req, acprpc.RequestCx, *acprpc.Connection) error
	queue  *jobQueue[Req]
	conn   *acprpc.Connection
}

func (r *responderImpl[Req]) Run(ctx context.Context) error {
	for {
		if job, ok := r.queue.pop(); ok {
			err := r.conn.WithDispatchSlot(job.ctx, func() error {
				return r.jobs(job.ctx, job.req, job.cx, r.conn)
			})
			// Same answer policy as NewTyped: a callback error still
			// unanswered goes back as the reply with its codes intact; a nil
			// return without a reply is a contract violation, logged only.
			if err != nil {
				log.Printf("acprpc/handler: responder for %s: callback error: %v", r.method, err)
				if !job.cx.Answered() {
					job.cx.RespondError(err)
				}
			} else if !job.cx.Answered() {
				log.Printf("acprpc/handler: responder for %s: callback returned without responding", r.method)
			}
			continue
		}
		select {
		case <-r.queue.signal:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type responderHandler[Req acprpc.Message] struct {
	method string
	queue  *jobQueue[Req]
}

func (h *responderHandler[Req]) Describe() string { return "responder(" + h.method + ")" }

func (h *responderHandler[Req]) Handle(ctx context.Context, cx acprpc.MessageCx) (acprpc.Handled, error) {
	if cx.Message.Method != h.method || cx.IsNotification() {
		return acprpc.Handled{Claimed: false, Cx: cx}, nil
	}
	req, matched, err := acprpc.ParseInto[Req](cx.Message)
	if !matched {
		return acprpc.Handled{Claimed: false, Cx: cx}, nil
	}
	if err != nil {
		cx.Req.RespondError(err)
		return acprpc.Handled{Claimed: true}, nil
	}
	h.queue.push(responderJob[Req]{ctx: ctx, req: req, cx: cx.Req})
	return acprpc.Handled{Claimed: true}, nil
}

// NewResponder builds a Handler/Responder pair for requests that must
// originate outbound calls of their own on conn while handling an inbound
// request: running fn in-line on the dispatch goroutine would deadlock if
// fn awaits a response traveling over the same connection, so the returned
// Handler only parses and enqueues, and the returned Responder must be run
// as a long-lived task (e.g. via Connection.WithSpawned) to actually invoke
// fn off-loop. The queue between them is
// unbounded, so Handle enqueueing a burst of matching requests never blocks
// the connection's read loop waiting for Run to catch up. Each job still
// runs through conn's bounded dispatch semaphore, so an unbounded queue of
// pending jobs cannot translate into unbounded concurrent execution.
func NewResponder[Req acprpc.Message](
	conn *acprpc.Connection,
	fn func(context.Context, Req, acprpc.RequestCx, *acprpc.Connection) error,
) (acprpc.Handler, Responder) {
	var zero Req
	q := newJobQueue[Req]()
	h := &responderHandler[Req]{method: zero.Method(), queue: q}
	r := &responderImpl[Req]{method: zero.Method(), jobs: fn, queue: q, conn: conn}
	return h, r
}
