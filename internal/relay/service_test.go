package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/relaychat/internal/testutil/chattest"
	"github.com/danmuck/relaychat/internal/testutil/testlog"
)

func startService(t *testing.T, ln net.Listener, mutate func(*ServiceConfig)) (*Service, string) {
	t.Helper()

	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
	}
	cfg := DefaultServiceConfig()
	cfg.ListenAddr = ln.Addr().String()
	cfg.Session.HandshakeTimeout = 2 * time.Second
	cfg.Session.WriteTimeout = time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	svc := NewServiceWithConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("serve did not stop")
		}
	})
	return svc, ln.Addr().String()
}

func snapshot(t *testing.T, svc *Service) MemberSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func TestServiceJoinAndRelay(t *testing.T) {
	testlog.Start(t)
	svc, addr := startService(t, nil, nil)

	amy := chattest.Dial(t, addr, "amy")
	amy.SendText("amy")
	amy.ExpectNotice("Welcome to the chat, amy! There's currently 1 member online.")

	bob := chattest.Dial(t, addr, "bob")
	bob.SendText("bob")
	bob.ExpectNotice("Welcome to the chat, bob! There's currently 2 members online.")
	amy.ExpectNotice("bob has joined the chat. There's currently 2 members online.")

	cleo := chattest.Dial(t, addr, "cleo")
	cleo.SendText("cleo")
	cleo.ExpectNotice("Welcome to the chat, cleo! There's currently 3 members online.")
	amy.ExpectNotice("cleo has joined the chat. There's currently 3 members online.")
	bob.ExpectNotice("cleo has joined the chat. There's currently 3 members online.")

	bob.SendText("hi")
	amy.ExpectChat("bob", "hi")
	cleo.ExpectChat("bob", "hi")
	bob.ExpectQuiet(150 * time.Millisecond)

	snap := snapshot(t, svc)
	if snap.Count != 3 || snap.Label != "3 members" {
		t.Fatalf("snapshot count=%d label=%q", snap.Count, snap.Label)
	}
	if got := snap.Usernames; len(got) != 3 || got[0] != "amy" || got[1] != "bob" || got[2] != "cleo" {
		t.Fatalf("unexpected usernames: %v", got)
	}
}

func TestServicePreservesPerSenderOrder(t *testing.T) {
	testlog.Start(t)
	_, addr := startService(t, nil, nil)

	amy := chattest.Join(t, addr, "amy")
	bob := chattest.Join(t, addr, "bob")
	amy.ExpectNotice("bob has joined the chat. There's currently 2 members online.")

	bodies := []string{"one", "two", "three", "four"}
	for _, body := range bodies {
		bob.SendText(body)
	}
	for _, body := range bodies {
		amy.ExpectChat("bob", body)
	}
}

func TestServiceRejectsUppercaseUsername(t *testing.T) {
	testlog.Start(t)
	svc, addr := startService(t, nil, nil)

	amy := chattest.Join(t, addr, "amy")

	shouty := chattest.Dial(t, addr, "Amy")
	shouty.SendText("Amy")
	shouty.ExpectNotice("ERR: The provided username is invalid.")
	shouty.ExpectClosed()

	amy.ExpectQuiet(150 * time.Millisecond)
	if snap := snapshot(t, svc); snap.Count != 1 {
		t.Fatalf("expected 1 member after rejection, got %d", snap.Count)
	}
}

func TestServiceRejectsDuplicateAndReservedUsernames(t *testing.T) {
	testlog.Start(t)
	svc, addr := startService(t, nil, nil)

	amy := chattest.Join(t, addr, "amy")
	for _, name := range []string{"amy", "server", "abcdefghijklmnopq"} {
		p := chattest.Dial(t, addr, name)
		p.SendText(name)
		p.ExpectNotice("ERR: The provided username is invalid.")
		p.ExpectClosed()
	}

	bob := chattest.Join(t, addr, "bob")
	amy.ExpectNotice("bob has joined the chat. There's currently 2 members online.")
	bob.SendText("still one amy")
	amy.ExpectChat("bob", "still one amy")

	if snap := snapshot(t, svc); snap.Count != 2 {
		t.Fatalf("expected 2 members, got %d", snap.Count)
	}
}

func TestServiceAnnouncesAbruptDisconnect(t *testing.T) {
	testlog.Start(t)
	svc, addr := startService(t, nil, nil)

	amy := chattest.Join(t, addr, "amy")
	bob := chattest.Join(t, addr, "bob")
	amy.ExpectNotice("bob has joined the chat. There's currently 2 members online.")
	cleo := chattest.Join(t, addr, "cleo")
	amy.ExpectNotice("cleo has joined the chat. There's currently 3 members online.")
	bob.ExpectNotice("cleo has joined the chat. There's currently 3 members online.")

	bob.Close()
	amy.ExpectNotice("bob has left the chat. There's now 2 members online.")
	cleo.ExpectNotice("bob has left the chat. There's now 2 members online.")

	amy.SendText("still here")
	cleo.ExpectChat("amy", "still here")
	amy.ExpectQuiet(150 * time.Millisecond)

	snap := snapshot(t, svc)
	if snap.Count != 2 || snap.Usernames[0] != "amy" || snap.Usernames[1] != "cleo" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	// the name is free again
	bob2 := chattest.Join(t, addr, "bob")
	amy.ExpectNotice("bob has joined the chat. There's currently 3 members online.")
	bob2.ExpectQuiet(100 * time.Millisecond)
}

func TestServiceHandshakeTimeout(t *testing.T) {
	testlog.Start(t)
	svc, addr := startService(t, nil, func(cfg *ServiceConfig) {
		cfg.Session.HandshakeTimeout = 100 * time.Millisecond
	})

	amy := chattest.Join(t, addr, "amy")

	silent := chattest.Dial(t, addr, "silent")
	silent.ExpectNotice("ERR: timed out whilst waiting for username")
	silent.ExpectClosed()

	amy.ExpectQuiet(100 * time.Millisecond)
	snap := snapshot(t, svc)
	if snap.Count != 1 || snap.Pending != 0 {
		t.Fatalf("unexpected snapshot after timeout: %+v", snap)
	}
}

func TestServiceHandshakeTimerStopsAtRegistration(t *testing.T) {
	testlog.Start(t)
	_, addr := startService(t, nil, func(cfg *ServiceConfig) {
		cfg.Session.HandshakeTimeout = 100 * time.Millisecond
	})

	amy := chattest.Join(t, addr, "amy")
	time.Sleep(250 * time.Millisecond)
	bob := chattest.Join(t, addr, "bob")
	amy.ExpectNotice("bob has joined the chat. There's currently 2 members online.")
	bob.SendText("late")
	amy.ExpectChat("bob", "late")
}

func TestServiceDropsMalformedSender(t *testing.T) {
	testlog.Start(t)
	svc, addr := startService(t, nil, nil)

	amy := chattest.Join(t, addr, "amy")
	bob := chattest.Join(t, addr, "bob")
	amy.ExpectNotice("bob has joined the chat. There's currently 2 members online.")

	bob.SendRaw([]byte("abc       xyz"))
	bob.ExpectClosed()
	amy.ExpectNotice("bob has left the chat. There's now 1 member online.")

	if snap := snapshot(t, svc); snap.Count != 1 {
		t.Fatalf("expected 1 member, got %d", snap.Count)
	}
}

func TestServiceRelaysMultiByteAuthorVerbatim(t *testing.T) {
	testlog.Start(t)
	_, addr := startService(t, nil, nil)

	amy := chattest.Join(t, addr, "amy")
	zoe := chattest.Join(t, addr, "zoë")
	amy.ExpectNotice("zoë has joined the chat. There's currently 2 members online.")

	zoe.SendText("😀 ok")
	amy.ExpectChat("zoë", "😀 ok")
}

// flakyListener hands out connections whose writes can be made to fail.
type flakyListener struct {
	net.Listener

	mu    sync.Mutex
	conns []*flakyConn
}

type flakyConn struct {
	net.Conn
	fail atomic.Bool
}

var errInjectedWrite = errors.New("injected write failure")

func (c *flakyConn) Write(b []byte) (int, error) {
	if c.fail.Load() {
		return 0, errInjectedWrite
	}
	return c.Conn.Write(b)
}

func (l *flakyListener) Accept() (net.Conn, error) {
	nc, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	fc := &flakyConn{Conn: nc}
	l.mu.Lock()
	l.conns = append(l.conns, fc)
	l.mu.Unlock()
	return fc, nil
}

func (l *flakyListener) conn(t *testing.T, i int) *flakyConn {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if i >= len(l.conns) {
		t.Fatalf("connection %d not accepted yet", i)
	}
	return l.conns[i]
}

func TestServiceIsolatesFailedRecipient(t *testing.T) {
	testlog.Start(t)
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ln := &flakyListener{Listener: inner}
	svc, addr := startService(t, ln, nil)

	amy := chattest.Join(t, addr, "amy")
	bob := chattest.Join(t, addr, "bob")
	amy.ExpectNotice("bob has joined the chat. There's currently 2 members online.")
	cleo := chattest.Join(t, addr, "cleo")
	amy.ExpectNotice("cleo has joined the chat. There's currently 3 members online.")
	bob.ExpectNotice("cleo has joined the chat. There's currently 3 members online.")

	ln.conn(t, 1).fail.Store(true)

	amy.SendText("ping")
	cleo.ExpectChat("amy", "ping")
	bob.ExpectClosed()

	amy.ExpectNotice("bob has left the chat. There's now 2 members online.")
	cleo.ExpectNotice("bob has left the chat. There's now 2 members online.")
	amy.ExpectQuiet(150 * time.Millisecond)
	cleo.ExpectQuiet(50 * time.Millisecond)

	cleo.SendText("pong")
	amy.ExpectChat("cleo", "pong")

	if snap := snapshot(t, svc); snap.Count != 2 {
		t.Fatalf("expected 2 members, got %d", snap.Count)
	}
}

func TestServiceShutdownClosesConnections(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	svc := NewServiceWithConfig(ServiceConfig{ListenAddr: ln.Addr().String()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(ctx, ln)
	}()

	amy := chattest.Join(t, ln.Addr().String(), "amy")
	pending := chattest.Dial(t, ln.Addr().String(), "pending")
	// wait for the loop to accept pending
	deadline := time.Now().Add(2 * time.Second)
	for snapshot(t, svc).Pending != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("pending connection never accepted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not stop")
	}
	amy.ExpectClosed()
	pending.ExpectClosed()

	if _, err := svc.Snapshot(context.Background()); !errors.Is(err, ErrServiceStopped) {
		t.Fatalf("expected ErrServiceStopped, got %v", err)
	}
}
