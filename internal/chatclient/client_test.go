package chatclient

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/relaychat/internal/protocol/frame"
	"github.com/danmuck/relaychat/internal/protocol/session"
	"github.com/danmuck/relaychat/internal/relay"
	"github.com/danmuck/relaychat/internal/testutil/testlog"
)

func TestNormalizeUsername(t *testing.T) {
	testlog.Start(t)

	name, err := NormalizeUsername("  Amy ")
	if err != nil || name != "amy" {
		t.Fatalf("NormalizeUsername(Amy) = %q, %v", name, err)
	}
	for _, raw := range []string{"", "   ", "Server", "abcdefghijklmnopq"} {
		if _, err := NormalizeUsername(raw); !errors.Is(err, ErrInvalidUsername) {
			t.Fatalf("NormalizeUsername(%q) expected ErrInvalidUsername, got %v", raw, err)
		}
	}
}

func TestNewRequiresAddress(t *testing.T) {
	testlog.Start(t)

	if _, err := New(Config{Username: "amy"}); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
}

func TestSendAfterClose(t *testing.T) {
	testlog.Start(t)

	c, err := New(Config{Address: "127.0.0.1:1", Username: "amy"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Send(context.Background(), ""); err != nil {
		t.Fatalf("empty line should be dropped, got %v", err)
	}
	if err := c.Run(context.Background(), func(frame.ChatMessage) {}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	_ = c.Close()
	if err := c.Send(context.Background(), "hello"); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
}

func TestConnectGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := DefaultConfig()
	cfg.Address = addr
	cfg.Username = "amy"
	cfg.MaxConnectAttempts = 2
	cfg.Session.Backoff = session.BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected connect to fail")
	}
}

func startRelay(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	svc := relay.NewServiceWithConfig(relay.ServiceConfig{ListenAddr: ln.Addr().String()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

type member struct {
	client   *Client
	messages chan frame.ChatMessage
	done     chan error
}

func join(t *testing.T, ctx context.Context, addr, username string) *member {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Address = addr
	cfg.Username = username
	cfg.Session.PollInterval = 10 * time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new %s: %v", username, err)
	}
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect %s: %v", username, err)
	}
	s := &member{client: c, messages: make(chan frame.ChatMessage, 16), done: make(chan error, 1)}
	go func() {
		s.done <- c.Run(ctx, func(msg frame.ChatMessage) { s.messages <- msg })
	}()
	t.Cleanup(func() { _ = c.Close() })
	return s
}

func (s *member) expect(t *testing.T, author, body string) {
	t.Helper()
	select {
	case msg := <-s.messages:
		if string(msg.Author) != author || string(msg.Body) != body {
			t.Fatalf("%s: got %q > %q, want %q > %q", s.client.Username(), msg.Author, msg.Body, author, body)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: timed out waiting for %q", s.client.Username(), body)
	}
}

func TestClientChatsThroughRelay(t *testing.T) {
	testlog.Start(t)
	addr := startRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	amy := join(t, ctx, addr, "Amy")
	amy.expect(t, "server", "Welcome to the chat, amy! There's currently 1 member online.")
	bob := join(t, ctx, addr, "bob")
	bob.expect(t, "server", "Welcome to the chat, bob! There's currently 2 members online.")
	amy.expect(t, "server", "bob has joined the chat. There's currently 2 members online.")

	if err := bob.client.Send(ctx, "hi amy"); err != nil {
		t.Fatalf("send: %v", err)
	}
	amy.expect(t, "bob", "hi amy")

	cancel()
	for _, s := range []*member{amy, bob} {
		select {
		case err := <-s.done:
			if err != nil {
				t.Fatalf("%s: run returned %v", s.client.Username(), err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: run did not stop", s.client.Username())
		}
	}
}

func TestClientRunEndsWhenRelayRejects(t *testing.T) {
	testlog.Start(t)
	addr := startRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := join(t, ctx, addr, "amy")
	first.expect(t, "server", "Welcome to the chat, amy! There's currently 1 member online.")

	dup := join(t, ctx, addr, "amy")
	dup.expect(t, "server", "ERR: The provided username is invalid.")
	select {
	case err := <-dup.done:
		if err != nil {
			t.Fatalf("expected orderly close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not observe server close")
	}
	if err := dup.client.Send(ctx, "too late"); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
}
