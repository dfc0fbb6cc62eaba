package acprpc

import "context"

// Handled is the outcome of offering a message to a Handler in a chain.
// Claimed is true once some handler has taken ownership of the message and
// is responsible (for requests) for eventually calling RequestCx.Respond or
// RespondError. When Claimed is false, Cx carries the message, possibly
// rewrapped by an Adapter along the way, back to the caller so the next
// handler in the chain can try it.
type Handled struct {
	Claimed bool
	Retry   bool
	Cx      MessageCx
}

// Handler is implemented by every link in a handler chain. Handle is given
// an inbound message and either claims it, returning Handled{Claimed:
// true}, or declines it, returning Handled{Claimed: false} with Cx set so
// the next handler can see the same (or an adapter-rewrapped) message.
type Handler interface {
	// Describe returns a short, human-readable label for this handler, used
	// in logs and in Connection.Info diagnostics.
	Describe() string

	Handle(ctx context.Context, cx MessageCx) (Handled, error)
}

// NullHandler is the terminal handler every chain ends at. It always
// declines, reporting its Retry field in Handled.Retry.
type NullHandler struct {
	// Retry is copied into the Handled.Retry of every decline, where Chain
	// ORs it with the other links' bits. The connection engine does not
	// consult it: a request nothing in the chain claimed is always answered
	// with MethodNotFound.
	Retry bool
}

func (NullHandler) Describe() string { return "null" }

func (n NullHandler) Handle(_ context.Context, cx MessageCx) (Handled, error) {
	return Handled{Claimed: false, Retry: n.Retry, Cx: cx}, nil
}
