package handler

import (
	"context"

	"github.com/acpcore/acprpc"
)

// NewSync builds a Handler from a plain decision function that runs
// in-line on the dispatch goroutine: no channel, no spawned goroutine. It
// is the right choice for pure routing decisions that never block on I/O
// of their own.
func NewSync(describe string, fn func(context.Context, acprpc.MessageCx) (acprpc.Handled, error)) acprpc.Handler {
	return &syncHandler{describe: describe, fn: fn}
}

type syncHandler struct {
	describe string
	fn       func(context.Context, acprpc.MessageCx) (acprpc.Handled, error)
}

func (s *syncHandler) Describe() string { return s.describe }

func (s *syncHandler) Handle(ctx context.Context, cx acprpc.MessageCx) (acprpc.Handled, error) {
	return s.fn(ctx, cx)
}

// NewSyncNotification is the notification-only counterpart of NewSync: fn
// is run in-line and its Handled.Cx is always the input cx, since
// notifications carry no response capability to adapt.
func NewSyncNotification(describe string, fn func(context.Context, acprpc.MessageCx) (acprpc.Handled, error)) acprpc.Handler {
	return &syncHandler{describe: describe, fn: func(ctx context.Context, cx acprpc.MessageCx) (acprpc.Handled, error) {
		if !cx.IsNotification() {
			return acprpc.Handled{Claimed: false, Cx: cx}, nil
		}
		return fn(ctx, cx)
	}}
}
