package channel

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
)

// Decimal is a length-prefixed framing: each frame is preceded by its own
// byte length, written as a line of decimal digits. For example the frame
// `{"jsonrpc":"2.0"}` (17 bytes) is sent as:
//
//	17
//	{"jsonrpc":"2.0"}
func Decimal(r io.Reader, wc io.WriteCloser) Channel {
	return &decimalFramed{in: r, wc: wc, rd: bufio.NewReader(r), scratch: bytes.NewBuffer(nil)}
}

type decimalFramed struct {
	in      io.Reader
	wc      io.WriteCloser
	rd      *bufio.Reader
	scratch *bytes.Buffer
}

func (c *decimalFramed) Send(msg []byte) error {
	c.scratch.Reset()
	c.scratch.WriteString(strconv.Itoa(len(msg)))
	c.scratch.WriteByte('\n')
	c.scratch.Write(msg)
	_, err := c.wc.Write(c.scratch.Next(c.scratch.Len()))
	return err
}

func (c *decimalFramed) Recv() ([]byte, error) {
	lengthLine, err := c.rd.ReadString('\n')
	if err != nil && !(err == io.EOF && lengthLine != "") {
		return nil, err
	}
	length, perr := strconv.Atoi(strings.TrimSuffix(lengthLine, "\n"))
	if perr != nil {
		return nil, perr
	}
	frame := make([]byte, length)
	n, rerr := io.ReadFull(c.rd, frame)
	return frame[:n], rerr
}

func (c *decimalFramed) Close() error { return closeBoth(c.in, c.wc) }
