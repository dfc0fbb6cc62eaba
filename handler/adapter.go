package handler

import (
	"context"

	"github.com/acpcore/acprpc"
	"github.com/acpcore/acprpc/envelope"
)

// Adapter wraps h so it can serve a logical peer of role remote even when
// the physical link it arrives over belongs to local: an inbound
// _proxy/successor envelope addressed through local is unwrapped before h
// sees it, and on Handled.Claimed == false the message is rewrapped so the
// next handler in the chain observes the same shape it would have without
// the adapter.
func Adapter(remote, local acprpc.Role, h acprpc.Handler) acprpc.Handler {
	return &adapter{remote: remote, local: local, h: h}
}

type adapter struct {
	remote, local acprpc.Role
	h             acprpc.Handler
}

func (a *adapter) Describe() string { return "adapter(" + string(a.remote) + "->" + a.h.Describe() + ")" }

func (a *adapter) Handle(ctx context.Context, cx acprpc.MessageCx) (acprpc.Handled, error) {
	sm, ok, err := envelope.Unwrap(cx.Message)
	if err != nil {
		return acprpc.Handled{}, err
	}
	if !ok {
		return a.h.Handle(ctx, cx)
	}

	inner := cx
	inner.Message = sm.Message
	res, err := a.h.Handle(ctx, inner)
	if err != nil || res.Claimed {
		return res, err
	}

	rewrapped, werr := envelope.Wrap(res.Cx.Message, sm.Meta)
	if werr != nil {
		return acprpc.Handled{}, werr
	}
	res.Cx.Message = rewrapped
	return res, nil
}
