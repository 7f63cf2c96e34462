package relay

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/danmuck/relaychat/internal/observability"
	"github.com/danmuck/relaychat/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// event is one unit of work for the service loop.
type event interface {
	isEvent()
}

type acceptEvent struct {
	nc net.Conn
}

type handshakeEvent struct {
	conn     *Conn
	env      frame.Envelope
	admitted chan<- bool
}

type messageEvent struct {
	conn *Conn
	env  frame.Envelope
}

type lostEvent struct {
	conn *Conn
	err  error
}

type snapshotEvent struct {
	reply chan<- MemberSnapshot
}

func (acceptEvent) isEvent()    {}
func (handshakeEvent) isEvent() {}
func (messageEvent) isEvent()   {}
func (lostEvent) isEvent()      {}
func (snapshotEvent) isEvent()  {}

const (
	kindNotice = "notice"
	kindChat   = "chat"
)

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)
	defer s.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.dispatch(ev)
		}
	}
}

func (s *Service) dispatch(ev event) {
	switch ev := ev.(type) {
	case acceptEvent:
		s.handleAccept(ev.nc)
	case handshakeEvent:
		s.handleHandshake(ev.conn, ev.env, ev.admitted)
	case messageEvent:
		s.handleMessage(ev.conn, ev.env)
	case lostEvent:
		s.handleLost(ev.conn, ev.err)
	case snapshotEvent:
		ev.reply <- s.snapshot()
	default:
		log.Error().Type("event", ev).Msg("relay loop: unknown event")
	}
}

func (s *Service) handleAccept(nc net.Conn) {
	c := newConn(nc)
	s.sockets[c] = struct{}{}
	observability.RecordConnection("accepted")
	log.Info().Str("session", c.id).Str("remote", c.remote).Msg("relay connection accepted")
	go s.readLoop(c)
}

func (s *Service) handleHandshake(c *Conn, env frame.Envelope, admitted chan<- bool) {
	if c.state != StatePending {
		admitted <- false
		return
	}
	if err := s.registry.Validate(env.Payload); err != nil {
		log.Info().
			Str("session", c.id).
			Str("remote", c.remote).
			Str("username", string(env.Payload)).
			Err(err).
			Msg("relay username rejected")
		observability.RecordConnection("rejected")
		s.sendNotice(c, noticeInvalidUsername)
		s.release(c)
		admitted <- false
		return
	}
	if err := s.registry.Register(c, env); err != nil {
		log.Error().Str("session", c.id).Err(err).Msg("relay register failed")
		s.release(c)
		admitted <- false
		return
	}
	c.state = StateRegistered
	c.registration = env
	admitted <- true

	count := s.registry.Len()
	observability.RecordConnection("registered")
	observability.SetMembers(count)
	log.Info().
		Str("session", c.id).
		Str("remote", c.remote).
		Str("username", c.Username()).
		Int("members", count).
		Msg("relay member joined")

	s.sendNotice(c, welcomeNotice(c.Username(), count))
	s.broadcast(kindNotice, c, frame.TextPart(frame.ReservedIdentity), frame.TextPart(joinNotice(c.Username(), count)))
}

func (s *Service) handleMessage(c *Conn, env frame.Envelope) {
	if c.state != StateRegistered {
		return
	}
	delivered := s.broadcast(kindChat, c, frame.CachedPart(c.registration), frame.CachedPart(env))
	log.Debug().
		Str("session", c.id).
		Str("remote", c.remote).
		Str("username", c.Username()).
		Str("body", string(env.Payload)).
		Int("recipients", delivered).
		Msg("chat")
}

func (s *Service) handleLost(c *Conn, cause error) {
	switch c.state {
	case StateClosed:
		return
	case StatePending:
		if isTimeout(cause) {
			log.Info().Str("session", c.id).Str("remote", c.remote).Msg("relay handshake timed out")
			observability.RecordConnection("timeout")
			s.sendNotice(c, noticeHandshakeTimeout)
		} else {
			logLoss(c, cause).Msg("relay handshake failed")
			observability.RecordConnection("handshake_failed")
		}
		s.release(c)
		return
	}

	s.registry.Unregister(c)
	s.release(c)
	count := s.registry.Len()
	observability.RecordConnection("lost")
	observability.SetMembers(count)
	logLoss(c, cause).Int("members", count).Msg("relay member left")

	s.broadcast(kindNotice, nil, frame.TextPart(frame.ReservedIdentity), frame.TextPart(leftNotice(c.Username(), count)))
}

// broadcast writes one message to every registered connection except exclude.
// A failing recipient does not stop delivery to the rest.
func (s *Service) broadcast(kind string, exclude *Conn, author, body frame.Part) int {
	buf, err := frame.EncodeChatMessage(s.now(), author, body)
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("relay encode broadcast failed")
		return 0
	}
	delivered := 0
	for _, member := range s.registry.Members(exclude) {
		if s.write(member, kind, buf) {
			delivered++
		}
	}
	return delivered
}

func (s *Service) sendNotice(c *Conn, text string) bool {
	buf, err := frame.EncodeChatMessage(s.now(), frame.TextPart(frame.ReservedIdentity), frame.TextPart(text))
	if err != nil {
		log.Error().Err(err).Msg("relay encode notice failed")
		return false
	}
	return s.write(c, kindNotice, buf)
}

// write is a best-effort send. On failure the socket is closed so its reader
// reports the loss back to the loop.
func (s *Service) write(c *Conn, kind string, buf []byte) bool {
	if c.state == StateClosed || c.broken || c.nc == nil {
		return false
	}
	_ = c.nc.SetWriteDeadline(time.Now().Add(s.cfg.Session.WriteTimeout))
	if _, err := c.nc.Write(buf); err != nil {
		log.Warn().
			Str("session", c.id).
			Str("remote", c.remote).
			Str("username", c.Username()).
			Str("kind", kind).
			Err(err).
			Msg("relay send failed")
		observability.RecordDelivery(kind, false)
		c.broken = true
		_ = c.nc.Close()
		return false
	}
	observability.RecordDelivery(kind, true)
	return true
}

func (s *Service) release(c *Conn) {
	c.close()
	delete(s.sockets, c)
}

func (s *Service) closeAll() {
	for c := range s.sockets {
		c.close()
	}
	clear(s.sockets)
}

func (s *Service) snapshot() MemberSnapshot {
	count := s.registry.Len()
	return MemberSnapshot{
		Usernames: s.registry.Usernames(),
		Count:     count,
		Label:     MemberCountLabel(count),
		Pending:   len(s.sockets) - count,
	}
}

// readLoop turns socket readiness on c into loop events. It never touches
// loop-owned state.
func (s *Service) readLoop(c *Conn) {
	reader := bufio.NewReader(c.nc)

	_ = c.nc.SetReadDeadline(time.Now().Add(s.cfg.Session.HandshakeTimeout))
	env, err := frame.ReadEnvelope(reader, s.cfg.Limits)
	if err != nil {
		s.post(lostEvent{conn: c, err: err})
		return
	}
	_ = c.nc.SetReadDeadline(time.Time{})

	admitted := make(chan bool, 1)
	if !s.post(handshakeEvent{conn: c, env: env, admitted: admitted}) {
		return
	}
	select {
	case ok := <-admitted:
		if !ok {
			return
		}
	case <-s.done:
		return
	}

	for {
		env, err := frame.ReadEnvelope(reader, s.cfg.Limits)
		if err != nil {
			s.post(lostEvent{conn: c, err: err})
			return
		}
		if !s.post(messageEvent{conn: c, env: env}) {
			return
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func logLoss(c *Conn, cause error) *zerolog.Event {
	var ev *zerolog.Event
	switch {
	case cause == nil || errors.Is(cause, io.EOF):
		ev = log.Info()
	case frame.IsFramingError(cause):
		observability.RecordFramingError()
		ev = log.Warn().Str("reason", "malformed input").Err(cause)
	default:
		ev = log.Warn().Err(cause)
	}
	return ev.Str("session", c.id).Str("remote", c.remote).Str("username", c.Username())
}
