package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
)

// chunkPayload is the upstream emission shape. Content is optional so a
// well-formed object without it is skipped rather than failing the stream.
type chunkPayload struct {
	Content *string `json:"content"`
}

// Decoder accumulates a relayed byte stream and extracts complete JSON
// emissions as they become available, independent of how the bytes were
// chunked in transit. Each emission carries the full message-so-far and
// REPLACES what came before, it is not a delta.
//
// A Decoder serves exactly one send; start the next send with a fresh one
// (or Reset).
type Decoder struct {
	buf []byte
}

func (d *Decoder) Reset() {
	d.buf = nil
}

// Feed appends chunk bytes and returns the content of every emission that
// completed, in arrival order. Bytes forming a still-incomplete emission stay
// buffered for the next call; that is noise to defer, not an error.
func (d *Decoder) Feed(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)

	var out []string
	dec := json.NewDecoder(bytes.NewReader(d.buf))
	var consumed int64
	for {
		var p chunkPayload
		if err := dec.Decode(&p); err != nil {
			break
		}
		consumed = dec.InputOffset()
		if p.Content != nil {
			out = append(out, *p.Content)
		}
	}
	d.buf = d.buf[consumed:]
	return out
}

// Consume reads r until end-of-stream, applying every completed emission in
// arrival order. End-of-data is completion; no sentinel is expected in the
// payload.
func Consume(ctx context.Context, r io.Reader, apply func(content string)) error {
	d := &Decoder{}
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			for _, content := range d.Feed(buf[:n]) {
				apply(content)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
