package chattest

import (
	"bufio"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/danmuck/relaychat/internal/protocol/frame"
)

const DefaultTimeout = 2 * time.Second

// Peer is a raw relay client driven directly from a test goroutine.
type Peer struct {
	t       testing.TB
	Name    string
	Conn    net.Conn
	Timeout time.Duration
	reader  *bufio.Reader
}

func Dial(t testing.TB, addr string, name string) *Peer {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	if err != nil {
		t.Fatalf("%s: dial %s: %v", name, addr, err)
	}
	p := &Peer{
		t:       t,
		Name:    name,
		Conn:    conn,
		Timeout: DefaultTimeout,
		reader:  bufio.NewReader(conn),
	}
	t.Cleanup(func() { _ = conn.Close() })
	return p
}

// Join dials addr, sends username and waits for the welcome notice.
func Join(t testing.TB, addr string, username string) *Peer {
	t.Helper()

	p := Dial(t, addr, username)
	p.SendText(username)
	msg := p.Expect()
	if !msg.FromServer() {
		t.Fatalf("%s: first message author=%q, want server", username, msg.Author)
	}
	return p
}

func (p *Peer) SendText(text string) {
	p.t.Helper()

	env, err := frame.TextEnvelope(text)
	if err != nil {
		p.t.Fatalf("%s: encode %q: %v", p.Name, text, err)
	}
	p.SendRaw(env.Bytes())
}

func (p *Peer) SendRaw(b []byte) {
	p.t.Helper()

	_ = p.Conn.SetWriteDeadline(time.Now().Add(p.Timeout))
	if _, err := p.Conn.Write(b); err != nil {
		p.t.Fatalf("%s: write: %v", p.Name, err)
	}
}

func (p *Peer) Expect() frame.ChatMessage {
	p.t.Helper()

	_ = p.Conn.SetReadDeadline(time.Now().Add(p.Timeout))
	msg, err := frame.ReadChatMessage(p.reader, frame.DefaultLimits())
	if err != nil {
		p.t.Fatalf("%s: read message: %v", p.Name, err)
	}
	return msg
}

func (p *Peer) ExpectNotice(want string) {
	p.t.Helper()
	p.ExpectChat(frame.ReservedIdentity, want)
}

func (p *Peer) ExpectChat(author string, body string) {
	p.t.Helper()

	msg := p.Expect()
	if string(msg.Author) != author || string(msg.Body) != body {
		p.t.Fatalf("%s: got %q > %q, want %q > %q", p.Name, msg.Author, msg.Body, author, body)
	}
}

// ExpectQuiet fails if any byte arrives within wait.
func (p *Peer) ExpectQuiet(wait time.Duration) {
	p.t.Helper()

	_ = p.Conn.SetReadDeadline(time.Now().Add(wait))
	_, err := p.reader.Peek(1)
	if err == nil {
		p.t.Fatalf("%s: unexpected data", p.Name)
	}
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		p.t.Fatalf("%s: expected quiet connection, got %v", p.Name, err)
	}
}

// ExpectClosed fails unless the relay closes the connection before any
// further message arrives.
func (p *Peer) ExpectClosed() {
	p.t.Helper()

	_ = p.Conn.SetReadDeadline(time.Now().Add(p.Timeout))
	_, err := p.reader.Peek(1)
	if err == nil {
		p.t.Fatalf("%s: expected close, got data", p.Name)
	}
	// EOF or a reset both count as closed.
	if errors.Is(err, os.ErrDeadlineExceeded) {
		p.t.Fatalf("%s: connection still open", p.Name)
	}
}

func (p *Peer) Close() {
	_ = p.Conn.Close()
}
