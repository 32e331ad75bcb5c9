package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// DefaultMaxBodyLen is the default ceiling on a framed JSON body length,
// guarding against a peer that declares an enormous length prefix to force
// large allocations.
const DefaultMaxBodyLen = 1 << 20 // 1 MiB

// Framer reads and writes length-delimited JSON messages on a byte stream:
// a 4-byte little-endian length prefix followed by UTF-8 JSON. It has no
// state of its own beyond the configured ceiling, so a single Framer value
// may be shared across reads and writes on the same stream.
type Framer struct {
	// MaxBodyLen bounds the declared length prefix. Zero means
	// DefaultMaxBodyLen.
	MaxBodyLen uint32
}

func (f Framer) maxBodyLen() uint32 {
	if f.MaxBodyLen == 0 {
		return DefaultMaxBodyLen
	}
	return f.MaxBodyLen
}

// ReadMessage reads one length-prefixed JSON message from r and decodes it
// into v. It is an error for the body to contain anything beyond a single
// well-formed JSON value matching v's shape -- trailing garbage after the
// value is a framing error, not silently ignored.
func (f Framer) ReadMessage(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("wire: read length prefix: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > f.maxBodyLen() {
		return fmt.Errorf("wire: declared body length %d exceeds ceiling %d", n, f.maxBodyLen())
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("wire: read body: %w", err)
	}
	return decodeStrict(body, v)
}

// decodeStrict unmarshals exactly one JSON value from body into v, the way
// json_util's ParseNextJsonValueInString enforces in the pack this package
// is grounded on: any byte left over after the value is a framing error.
func decodeStrict(body []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("wire: malformed JSON body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("wire: unexpected data after JSON value")
	}
	return nil
}

// WriteMessage marshals v to JSON and writes it as a single length-prefixed
// frame to w. The write is atomic from the Framer's perspective: callers
// must treat any returned error as meaning the stream is no longer usable
// and dispose it without reuse, since a partial write may have already
// reached the peer.
func (f Framer) WriteMessage(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal body: %w", err)
	}
	if uint32(len(body)) > f.maxBodyLen() {
		return fmt.Errorf("wire: body length %d exceeds ceiling %d", len(body), f.maxBodyLen())
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	frame := make([]byte, 0, 4+len(body))
	frame = append(frame, lenBuf[:]...)
	frame = append(frame, body...)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// ReadRequestCode reads the single byte request code that precedes a
// request body on a raw-framed ClientStream.
func ReadRequestCode(r io.Reader) (RequestCode, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return RequestCode(b[0]), nil
}

// WriteRequestCode writes the single byte request code preceding a request
// body.
func WriteRequestCode(w io.Writer, code RequestCode) error {
	_, err := w.Write([]byte{byte(code)})
	return err
}
