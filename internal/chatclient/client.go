package chatclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/relaychat/internal/protocol/frame"
	"github.com/danmuck/relaychat/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired  = errors.New("chatclient: address required")
	ErrInvalidUsername  = errors.New("chatclient: invalid username")
	ErrNotConnected     = errors.New("chatclient: not connected")
	ErrClientClosed     = errors.New("chatclient: client closed")
	ErrAlreadyConnected = errors.New("chatclient: already connected")
)

// MaxUsernameBytes mirrors the relay's username bound.
const MaxUsernameBytes = 16

type Config struct {
	Address            string
	Username           string
	Session            session.Config
	Limits             frame.Limits
	MaxConnectAttempts int
	OutboxSize         int
}

func DefaultConfig() Config {
	return Config{
		Address:            "127.0.0.1:5001",
		Session:            session.DefaultConfig(),
		Limits:             frame.DefaultLimits(),
		MaxConnectAttempts: 1,
		OutboxSize:         64,
	}
}

// NormalizeUsername lowercases raw and applies the checks the relay would
// reject anyway, so the user can retry before connecting.
func NormalizeUsername(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case name == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidUsername)
	case len(name) > MaxUsernameBytes:
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidUsername, MaxUsernameBytes)
	case name == frame.ReservedIdentity:
		return "", fmt.Errorf("%w: reserved", ErrInvalidUsername)
	}
	return name, nil
}

// Client is one relay session. Send may be called from any goroutine; frames
// are written by the goroutine started in Run.
type Client struct {
	cfg Config
	rng *rand.Rand

	mu     sync.Mutex
	conn   net.Conn
	outbox chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	name, err := NormalizeUsername(cfg.Username)
	if err != nil {
		return nil, err
	}
	cfg.Username = name
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.Limits.MaxPayloadBytes <= 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = DefaultConfig().OutboxSize
	}
	return &Client{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		outbox: make(chan []byte, cfg.OutboxSize),
		closed: make(chan struct{}),
	}, nil
}

func (c *Client) Username() string {
	return c.cfg.Username
}

// Connect dials the relay, retrying with backoff, and sends the username envelope.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return ErrAlreadyConnected
	}

	var attempt int
	for {
		attempt++
		conn, err := c.dial(ctx)
		if err == nil {
			if err = c.handshake(conn); err == nil {
				c.conn = conn
				log.Debug().Str("addr", c.cfg.Address).Str("username", c.cfg.Username).Msg("chatclient connected")
				return nil
			}
			_ = conn.Close()
		}
		log.Warn().Int("attempt", attempt).Str("addr", c.cfg.Address).Err(err).Msg("chatclient connect failed")
		if !c.shouldRetry(attempt) {
			return err
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return err
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
	return dialer.DialContext(ctx, "tcp", c.cfg.Address)
}

func (c *Client) handshake(conn net.Conn) error {
	env, err := frame.TextEnvelope(c.cfg.Username)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.Session.WriteTimeout))
	return frame.WriteEnvelope(conn, env)
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.cfg.Session.Backoff.Delay(attempt, c.rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Send queues one chat line. Empty lines are dropped.
func (c *Client) Send(ctx context.Context, line string) error {
	if line == "" {
		return nil
	}
	env, err := frame.TextEnvelope(line)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return ErrClientClosed
	default:
	}
	select {
	case c.outbox <- env.Bytes():
		return nil
	case <-c.closed:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the session until the server closes it, ctx is cancelled, or a
// fatal read or write error occurs. An orderly server close returns nil.
func (c *Client) Run(parent context.Context, deliver func(frame.ChatMessage)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	writeErr := make(chan error, 1)
	go func() {
		err := c.writeLoop(ctx, conn)
		if err != nil && ctx.Err() == nil {
			cancel()
		}
		writeErr <- err
	}()

	recvErr := ReceiveLoop(ctx, conn, ReceiveConfig{
		Limits:       c.cfg.Limits,
		PollInterval: c.cfg.Session.PollInterval,
	}, deliver)
	cancel()
	wErr := <-writeErr
	_ = c.Close()

	if recvErr != nil && !errors.Is(recvErr, context.Canceled) {
		return recvErr
	}
	if wErr != nil && !errors.Is(wErr, context.Canceled) {
		return wErr
	}
	return nil
}

func (c *Client) writeLoop(ctx context.Context, conn net.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case buf := <-c.outbox:
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.Session.WriteTimeout))
			if _, err := conn.Write(buf); err != nil {
				return fmt.Errorf("chatclient: send: %w", err)
			}
		}
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
