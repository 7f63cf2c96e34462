package frame

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// HeaderWidth is the fixed byte width of every envelope header.
const HeaderWidth = 10

// Limits constrains envelope decode memory use.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 64 * 1024,
	}
}

// Envelope is one framed unit: header bytes as they appear on the wire plus payload.
type Envelope struct {
	Header  []byte
	Payload []byte
}

// NewEnvelope frames payload, computing the header from its byte length.
func NewEnvelope(payload []byte) (Envelope, error) {
	header, err := EncodeHeader(len(payload))
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Header: header, Payload: payload}, nil
}

// TextEnvelope frames the UTF-8 encoding of s.
func TextEnvelope(s string) (Envelope, error) {
	return NewEnvelope([]byte(s))
}

// Len returns the number of bytes the envelope occupies on the wire.
func (e Envelope) Len() int {
	return len(e.Header) + len(e.Payload)
}

// Bytes returns header and payload as one contiguous buffer.
func (e Envelope) Bytes() []byte {
	return e.AppendTo(make([]byte, 0, e.Len()))
}

func (e Envelope) AppendTo(dst []byte) []byte {
	dst = append(dst, e.Header...)
	return append(dst, e.Payload...)
}

func (e Envelope) String() string {
	return string(e.Payload)
}

// EncodeHeader renders n as ASCII decimal, left-justified and space padded to HeaderWidth.
func EncodeHeader(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	digits := strconv.Itoa(n)
	if len(digits) > HeaderWidth {
		return nil, fmt.Errorf("%w: %d", ErrHeaderOverflow, n)
	}
	buf := bytes.Repeat([]byte{' '}, HeaderWidth)
	copy(buf, digits)
	return buf, nil
}

// DecodeHeader parses a padded ASCII decimal header.
func DecodeHeader(b []byte) (int, error) {
	if len(b) != HeaderWidth {
		return 0, fmt.Errorf("%w: width %d", ErrInvalidHeader, len(b))
	}
	field := bytes.Trim(b, " ")
	if len(field) == 0 {
		return 0, fmt.Errorf("%w: blank", ErrInvalidHeader)
	}
	n := 0
	for _, c := range field {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidHeader, b)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// ReadEnvelope reads one envelope from r.
//
// io.EOF is returned unwrapped only when the stream ended before any header
// byte arrived; every other short read is a framing error.
func ReadEnvelope(r io.Reader, limits Limits) (Envelope, error) {
	header := make([]byte, HeaderWidth)
	if n, err := io.ReadFull(r, header); err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return Envelope{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Envelope{}, ErrShortHeader
		}
		return Envelope{}, err
	}

	size, err := DecodeHeader(header)
	if err != nil {
		return Envelope{}, err
	}
	if limits.MaxPayloadBytes > 0 && size > limits.MaxPayloadBytes {
		return Envelope{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, size, limits.MaxPayloadBytes)
	}

	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Envelope{}, ErrShortPayload
			}
			return Envelope{}, err
		}
	}
	return Envelope{Header: header, Payload: payload}, nil
}

func WriteEnvelope(w io.Writer, env Envelope) error {
	_, err := w.Write(env.Bytes())
	return err
}

// IsFramingError reports whether err means header/payload alignment is lost.
func IsFramingError(err error) bool {
	return errors.Is(err, ErrInvalidHeader) ||
		errors.Is(err, ErrShortHeader) ||
		errors.Is(err, ErrShortPayload) ||
		errors.Is(err, ErrPayloadTooLarge) ||
		errors.Is(err, ErrProtocol)
}
