package chatclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/danmuck/relaychat/internal/protocol/frame"
)

// ReceiveConfig tunes the receive loop.
type ReceiveConfig struct {
	Limits frame.Limits
	// PollInterval bounds each blocking read so cancellation is observed.
	PollInterval time.Duration
}

// ReceiveLoop decodes chat messages from r and hands each to deliver until the
// stream ends.
//
// It returns nil when the server closes the connection between messages, an
// error wrapping frame.ErrProtocol when a message is malformed or cut short,
// ctx.Err() on cancellation, and any other read error unchanged. Reads that
// would block are retried without losing partially read bytes.
func ReceiveLoop(ctx context.Context, r io.Reader, cfg ReceiveConfig, deliver func(frame.ChatMessage)) error {
	reader := bufio.NewReader(newPollReader(ctx, r, cfg.PollInterval))
	for {
		msg, err := frame.ReadChatMessage(reader, cfg.Limits)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, frame.ErrProtocol):
				return err
			default:
				return fmt.Errorf("chatclient: receive: %w", err)
			}
		}
		deliver(msg)
	}
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// pollReader retries reads that would block, re-arming a short deadline on
// each attempt when the source supports one.
type pollReader struct {
	ctx      context.Context
	src      io.Reader
	deadline readDeadliner
	interval time.Duration
}

func newPollReader(ctx context.Context, src io.Reader, interval time.Duration) *pollReader {
	p := &pollReader{ctx: ctx, src: src, interval: interval}
	if d, ok := src.(readDeadliner); ok && interval > 0 {
		p.deadline = d
	}
	return p
}

func (p *pollReader) Read(b []byte) (int, error) {
	for {
		if err := p.ctx.Err(); err != nil {
			return 0, err
		}
		if p.deadline != nil {
			_ = p.deadline.SetReadDeadline(time.Now().Add(p.interval))
		}
		n, err := p.src.Read(b)
		if err != nil && wouldBlock(err) {
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func wouldBlock(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
