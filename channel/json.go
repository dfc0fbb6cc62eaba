package channel

import (
	"encoding/json"
	"io"
)

// JSON frames messages by JSON syntax alone: Send writes the bytes as
// given with no added delimiter, and Recv relies on encoding/json's
// streaming decoder to know where one JSON value ends and the next
// begins. Because the decoder finds value boundaries itself, this works
// over a plain byte stream (such as the io.Pipe halves Pipe builds) as well
// as over a transport that delivers one whole JSON value per read.
func JSON(r io.Reader, wc io.WriteCloser) Channel {
	return &rawJSONChannel{rd: r, wc: wc, dec: json.NewDecoder(r)}
}

type rawJSONChannel struct {
	rd  io.Reader
	wc  io.WriteCloser
	dec *json.Decoder
}

func (c *rawJSONChannel) Send(msg []byte) error {
	_, err := c.wc.Write(msg)
	return err
}

func (c *rawJSONChannel) Recv() ([]byte, error) {
	var msg json.RawMessage
	err := c.dec.Decode(&msg)
	return msg, err
}

func (c *rawJSONChannel) Close() error { return closeBoth(c.rd, c.wc) }
