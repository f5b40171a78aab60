// Package frame implements the typed wire framing shared by every peer.
//
// One frame is:
//
//	byte 0    index low byte
//	byte 1    index high byte      (little-endian uint16 into the registry)
//	byte 2    0x3A ':'             fixed separator
//	bytes 3.. payload              structured-object codec output
//	last 2    0x3E 0x5C '>','\'    end-of-frame terminator
//
// Frames concatenate with no additional delimiter; boundaries are recovered
// purely from the terminator sequence. The terminator is literal and
// unescaped: a payload that itself contains 0x3E,0x5C is indistinguishable
// from a frame end. That ambiguity is part of the format and is preserved
// here rather than patched.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/duova/EvolitsExtracts/internal/protocol/payload"
	"github.com/duova/EvolitsExtracts/internal/protocol/registry"
)

const (
	headerSize = 3

	separator  byte = 0x3A // ':'
	termFirst  byte = 0x3E // '>'
	termSecond byte = 0x5C // '\'
)

var (
	ErrUnknownKind       = errors.New("frame: kind not registered")
	ErrMalformedHeader   = errors.New("frame: malformed header")
	ErrUnknownIndex      = errors.New("frame: unknown kind index")
	ErrUnterminatedFrame = errors.New("frame: missing end-of-frame terminator")
)

// PayloadError wraps a structured-object codec failure for one frame.
type PayloadError struct {
	QualifiedName string
	Err           error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("frame: payload for %s: %v", e.QualifiedName, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// Decoded is one (message, kind) pair recovered from a frame.
type Decoded struct {
	Message any
	Kind    registry.Kind
}

// Codec frames and unframes messages against one immutable registry.
// A Codec is safe for concurrent use.
type Codec struct {
	reg *registry.Registry
}

// NewCodec binds a codec to a built registry.
func NewCodec(reg *registry.Registry) *Codec {
	return &Codec{reg: reg}
}

// Encode frames one message: header, payload bytes, terminator. Fails with
// ErrUnknownKind when the message's type is not registered.
func (c *Codec) Encode(msg any) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.EncodeTo(&buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo appends one framed message to buf. Successive calls on the same
// buffer produce a valid multi-frame stream.
func (c *Codec) EncodeTo(buf *bytes.Buffer, msg any) error {
	kind, ok := c.reg.KindOf(msg)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnknownKind, msg)
	}

	body, err := payload.Marshal(msg)
	if err != nil {
		return &PayloadError{QualifiedName: kind.QualifiedName(), Err: err}
	}

	var head [headerSize]byte
	binary.LittleEndian.PutUint16(head[0:2], uint16(kind.Index()))
	head[2] = separator

	buf.Write(head[:])
	buf.Write(body)
	buf.WriteByte(termFirst)
	buf.WriteByte(termSecond)
	return nil
}

// Decode consumes every frame in data and returns the decoded messages in
// wire order. Decoding is all-or-nothing: any failure aborts the whole call
// and returns no partial results, so callers buffer and retry on a
// well-formed continuation rather than assume partial progress.
func (c *Codec) Decode(data []byte) ([]Decoded, error) {
	var out []Decoded
	i := 0
	for i < len(data) {
		if len(data)-i < headerSize || data[i+2] != separator {
			return nil, ErrMalformedHeader
		}
		index := int(binary.LittleEndian.Uint16(data[i : i+2]))
		kind, ok := c.reg.KindAt(index)
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownIndex, index)
		}
		i += headerSize

		// Literal terminator scan. When a 0x5C arrives and the accumulated
		// payload ends in 0x3E, the pair is the frame end and the 0x3E is
		// stripped from the payload.
		body := make([]byte, 0, len(data)-i)
		terminated := false
		for i < len(data) {
			b := data[i]
			i++
			if b == termSecond && len(body) > 0 && body[len(body)-1] == termFirst {
				body = body[:len(body)-1]
				terminated = true
				break
			}
			body = append(body, b)
		}
		if !terminated {
			return nil, ErrUnterminatedFrame
		}

		msg := kind.New()
		if err := payload.Unmarshal(body, msg); err != nil {
			return nil, &PayloadError{QualifiedName: kind.QualifiedName(), Err: err}
		}
		out = append(out, Decoded{Message: msg, Kind: kind})
	}
	return out, nil
}
