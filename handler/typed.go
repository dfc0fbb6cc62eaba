package handler

import (
	"context"
	"log"

	"github.com/acpcore/acprpc"
)

// NewTyped builds a Handler that claims only requests whose method matches
// Req's fixed method name. On a method match but malformed params, it
// claims the request and replies with InvalidParams without ever invoking
// fn. If fn returns a non-nil error without having called
// cx.Respond/RespondError/Forward itself, that error is sent as the reply
// on the still-live RequestCx, codes and data intact. If fn returns nil
// without responding, that is a contract violation: a warning is logged
// and no reply is synthesized, so the caller's handle resolves only when
// the connection closes.
func NewTyped[Req acprpc.Message](fn func(context.Context, Req, acprpc.RequestCx) error) acprpc.Handler {
	var zero Req
	return &typedHandler[Req]{method: zero.Method(), fn: fn}
}

type typedHandler[Req acprpc.Message] struct {
	method string
	fn     func(context.Context, Req, acprpc.RequestCx) error
}

func (t *typedHandler[Req]) Describe() string { return "typed(" + t.method + ")" }

func (t *typedHandler[Req]) Handle(ctx context.Context, cx acprpc.MessageCx) (acprpc.Handled, error) {
	if cx.Message.Method != t.method || cx.IsNotification() {
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

	cbErr := t.fn(ctx, req, cx.Req)
	if cbErr != nil {
		if !cx.Req.Answered() {
			cx.Req.RespondError(cbErr)
		}
	} else if !cx.Req.Answered() {
		log.Printf("acprpc/handler: %s: handler for %s returned without responding", t.Describe(), t.method)
	}
	return acprpc.Handled{Claimed: true}, cbErr
}

// NewTypedNotification builds a Handler that claims only notifications
// whose method matches N's fixed method name, symmetric with NewTyped but
// with no response capability.
func NewTypedNotification[N acprpc.Message](fn func(context.Context, N) error) acprpc.Handler {
	var zero N
	return &typedNoteHandler[N]{method: zero.Method(), fn: fn}
}

type typedNoteHandler[N acprpc.Message] struct {
	method string
	fn     func(context.Context, N) error
}

func (t *typedNoteHandler[N]) Describe() string { return "typed-notify(" + t.method + ")" }

func (t *typedNoteHandler[N]) Handle(ctx context.Context, cx acprpc.MessageCx) (acprpc.Handled, error) {
	if cx.Message.Method != t.method || !cx.IsNotification() {
		return acprpc.Handled{Claimed: false, Cx: cx}, nil
	}
	note, matched, err := acprpc.ParseInto[N](cx.Message)
	if !matched {
		return acprpc.Handled{Claimed: false, Cx: cx}, nil
	}
	if err != nil {
		return acprpc.Handled{Claimed: true}, err
	}
	return acprpc.Handled{Claimed: true}, t.fn(ctx, note)
}

// NewCombined builds a single Handler covering a request type and a
// notification type that share a dispatch point, such as a session
// lifecycle pair.
func NewCombined[Req, Note acprpc.Message](
	onReq func(context.Context, Req, acprpc.RequestCx) error,
	onNote func(context.Context, Note) error,
) acprpc.Handler {
	return Chain(NewTyped(onReq), NewTypedNotification(onNote))
}
