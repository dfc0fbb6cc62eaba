// Package handler adapts ordinary Go functions into acprpc.Handler values
// and composes them into chains: typed, notification, and combined
// handlers that can claim a message, decline it so the next link may try,
// or fail.
package handler

import (
	"context"
	"fmt"

	"github.com/acpcore/acprpc"
)

// Named attaches a label to h's Describe output and to any error h
// reports, so every traced line carries the name of the component that
// produced it.
func Named(name string, h acprpc.Handler) acprpc.Handler {
	return &namedHandler{name: name, h: h}
}

type namedHandler struct {
	name string
	h    acprpc.Handler
}

func (n *namedHandler) Describe() string { return n.name + ": " + n.h.Describe() }

func (n *namedHandler) Handle(ctx context.Context, cx acprpc.MessageCx) (acprpc.Handled, error) {
	res, err := n.h.Handle(ctx, cx)
	if err != nil {
		return res, fmt.Errorf("%s: %w", n.name, err)
	}
	return res, nil
}

// Chain tries first; if first declines, second is tried with the (possibly
// adapter-rewrapped) message first returned in Handled.Cx. The Retry bits
// of both attempts are ORed together so a caller can tell whether any link
// in the chain asked for a retry.
func Chain(first, second acprpc.Handler) acprpc.Handler {
	return &chainHandler{first: first, second: second}
}

type chainHandler struct {
	first, second acprpc.Handler
}

func (c *chainHandler) Describe() string {
	return c.first.Describe() + " -> " + c.second.Describe()
}

func (c *chainHandler) Handle(ctx context.Context, cx acprpc.MessageCx) (acprpc.Handled, error) {
	res, err := c.first.Handle(ctx, cx)
	if err != nil || res.Claimed {
		return res, err
	}
	next, err := c.second.Handle(ctx, res.Cx)
	if err != nil {
		return next, err
	}
	next.Retry = next.Retry || res.Retry
	return next, nil
}

// ChainAll folds Chain left to right across handlers, ending at a
// NullHandler{} terminal.
func ChainAll(handlers ...acprpc.Handler) acprpc.Handler {
	var chain acprpc.Handler = acprpc.NullHandler{}
	for i := len(handlers) - 1; i >= 0; i-- {
		chain = Chain(handlers[i], chain)
	}
	return chain
}
