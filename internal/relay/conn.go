package relay

import (
	"net"

	"github.com/danmuck/relaychat/internal/protocol/frame"
	"github.com/google/uuid"
)

// State is the lifecycle phase of one client connection.
type State uint8

const (
	StatePending State = iota
	StateRegistered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one accepted client socket. Every field except nc is owned by the
// service loop.
type Conn struct {
	id     string
	nc     net.Conn
	remote string
	state  State

	registration frame.Envelope
	// broken marks a socket whose write failed; it is closed and awaits loss handling.
	broken bool
}

func newConn(nc net.Conn) *Conn {
	c := &Conn{
		id:    uuid.NewString(),
		nc:    nc,
		state: StatePending,
	}
	if nc != nil && nc.RemoteAddr() != nil {
		c.remote = nc.RemoteAddr().String()
	}
	return c
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) RemoteAddr() string {
	return c.remote
}

func (c *Conn) State() State {
	return c.state
}

// Username is the registered name, empty while pending.
func (c *Conn) Username() string {
	return string(c.registration.Payload)
}

func (c *Conn) close() {
	c.state = StateClosed
	if c.nc != nil {
		_ = c.nc.Close()
	}
}
