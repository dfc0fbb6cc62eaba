package channel

import "io"

// closeBoth closes a channel's write half and, when the reader supports it,
// its read half too, so a locally initiated Close also unblocks a Recv still
// waiting on the peer.
func closeBoth(r io.Reader, wc io.WriteCloser) error {
	err := wc.Close()
	if rc, ok := r.(io.Closer); ok {
		rc.Close()
	}
	return err
}

// Framing adapts a raw byte stream into a framed Channel under some wire
// convention (newline-delimited, length-prefixed, ...). Every concrete
// transport an ACP peer might be handed (a subprocess's stdin/stdout, a
// socket, an in-memory pipe for tests) becomes a Channel by passing its
// Reader/WriteCloser through one of these.
type Framing func(io.Reader, io.WriteCloser) Channel

// Pipe builds a connected pair of in-memory Channels sharing framing,
// useful for wiring two acprpc.Connection values together directly in a
// test without spawning a subprocess or a listener. It panics if framing
// is nil.
func Pipe(framing Framing) (client, server Channel) {
	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()
	return framing(clientRead, clientWrite), framing(serverRead, serverWrite)
}
