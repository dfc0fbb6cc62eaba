package channel

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// Line is a newline-delimited framing: one message per line, each
// terminated by a Unicode LF. An outbound frame containing a literal LF
// cannot be represented and is rejected, since JSON-RPC payloads never
// legitimately contain a raw newline (string values escape it as \n).
func Line(r io.Reader, wc io.WriteCloser) Channel {
	return &lineFramed{in: r, wc: wc, rd: bufio.NewReader(r)}
}

type lineFramed struct {
	in io.Reader
	wc io.WriteCloser
	rd *bufio.Reader
}

func (c *lineFramed) Send(msg []byte) error {
	if bytes.ContainsRune(msg, '\n') {
		return errors.New("channel: frame contains a literal newline")
	}
	framed := make([]byte, len(msg)+1)
	copy(framed, msg)
	framed[len(msg)] = '\n'
	_, err := c.wc.Write(framed)
	return err
}

func (c *lineFramed) Recv() ([]byte, error) {
	var frame bytes.Buffer
	for {
		chunk, err := c.rd.ReadSlice('\n')
		frame.Write(chunk)
		if err == bufio.ErrBufferFull {
			continue // line longer than the reader's internal buffer; keep accumulating
		}
		b := frame.Bytes()
		if n := len(b) - 1; n >= 0 {
			return b[:n], err
		}
		return nil, err
	}
}

func (c *lineFramed) Close() error { return closeBoth(c.in, c.wc) }
