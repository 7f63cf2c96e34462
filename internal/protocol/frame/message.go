package frame

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ReservedIdentity is the author of every server-generated notice.
const ReservedIdentity = "server"

// PartKind tags which representation a Part carries.
type PartKind uint8

const (
	PartRaw PartKind = iota + 1
	PartCached
)

// Part is one positional field of a chat message: either raw bytes still to be
// framed or an envelope cached verbatim from the wire, such as the registration
// envelope replayed as the author of every broadcast from that peer.
type Part struct {
	kind   PartKind
	raw    []byte
	cached Envelope
}

func RawPart(text []byte) Part {
	return Part{kind: PartRaw, raw: text}
}

func TextPart(text string) Part {
	return RawPart([]byte(text))
}

func CachedPart(env Envelope) Part {
	return Part{kind: PartCached, cached: env}
}

func (p Part) Kind() PartKind {
	return p.kind
}

// Envelope resolves the part to the envelope emitted on the wire.
func (p Part) Envelope() (Envelope, error) {
	switch p.kind {
	case PartRaw:
		return NewEnvelope(p.raw)
	case PartCached:
		if len(p.cached.Header) != HeaderWidth {
			return Envelope{}, fmt.Errorf("%w: cached header width %d", ErrInvalidPart, len(p.cached.Header))
		}
		return p.cached, nil
	default:
		return Envelope{}, fmt.Errorf("%w: kind %d", ErrInvalidPart, p.kind)
	}
}

// ChatMessage is the decoded timestamp/author/body triple.
type ChatMessage struct {
	Timestamp int64
	Author    []byte
	Body      []byte
}

func (m ChatMessage) Time() time.Time {
	return time.Unix(m.Timestamp, 0)
}

// FromServer reports whether the message is a system notice.
func (m ChatMessage) FromServer() bool {
	return string(m.Author) == ReservedIdentity
}

// EncodeChatMessage renders the three envelopes into one buffer so a single
// write carries the whole message.
func EncodeChatMessage(ts time.Time, author, body Part) ([]byte, error) {
	stamp, err := NewEnvelope([]byte(strconv.FormatInt(ts.UTC().Unix(), 10)))
	if err != nil {
		return nil, err
	}
	authorEnv, err := author.Envelope()
	if err != nil {
		return nil, err
	}
	bodyEnv, err := body.Envelope()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, stamp.Len()+authorEnv.Len()+bodyEnv.Len())
	buf = stamp.AppendTo(buf)
	buf = authorEnv.AppendTo(buf)
	buf = bodyEnv.AppendTo(buf)
	return buf, nil
}

func WriteChatMessage(w io.Writer, ts time.Time, author, body Part) error {
	buf, err := EncodeChatMessage(ts, author, body)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadChatMessage decodes one triple.
//
// io.EOF is returned only when the stream closed cleanly before the timestamp
// envelope began. A stream ending anywhere later is a protocol violation.
func ReadChatMessage(r io.Reader, limits Limits) (ChatMessage, error) {
	stamp, err := ReadEnvelope(r, limits)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ChatMessage{}, io.EOF
		}
		return ChatMessage{}, violation("timestamp", err)
	}
	ts, err := strconv.ParseInt(string(stamp.Payload), 10, 64)
	if err != nil {
		return ChatMessage{}, violation("timestamp", err)
	}

	author, err := readPart(r, limits, "author")
	if err != nil {
		return ChatMessage{}, err
	}
	body, err := readPart(r, limits, "body")
	if err != nil {
		return ChatMessage{}, err
	}
	return ChatMessage{Timestamp: ts, Author: author.Payload, Body: body.Payload}, nil
}

func readPart(r io.Reader, limits Limits, part string) (Envelope, error) {
	env, err := ReadEnvelope(r, limits)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrShortHeader
		}
		return Envelope{}, violation(part, err)
	}
	return env, nil
}

func violation(part string, err error) error {
	if IsFramingError(err) || errors.Is(err, strconv.ErrSyntax) || errors.Is(err, strconv.ErrRange) {
		return fmt.Errorf("%w: %s: %w", ErrProtocol, part, err)
	}
	return fmt.Errorf("frame: read %s: %w", part, err)
}
