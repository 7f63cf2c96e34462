package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/relaychat/internal/observability"
	"github.com/danmuck/relaychat/internal/protocol/frame"
	"github.com/danmuck/relaychat/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// ServiceConfig configures the relay listener and per-connection limits.
type ServiceConfig struct {
	RelayID         string
	ListenAddr      string
	AdminListenAddr string
	CorsOrigins     []string
	Limits          frame.Limits
	Session         session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		RelayID:         "relay.local",
		ListenAddr:      "127.0.0.1:5001",
		AdminListenAddr: "",
		CorsOrigins:     []string{"http://localhost:3000"},
		Limits:          frame.DefaultLimits(),
		Session:         session.DefaultConfig(),
	}
}

// Service is a one-shot relay runtime: Serve may be called once.
type Service struct {
	cfg ServiceConfig

	registry *Registry
	sockets  map[*Conn]struct{}

	events  chan event
	done    chan struct{}
	started time.Time
	now     func() time.Time
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	def := DefaultServiceConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(cfg.RelayID) == "" {
		cfg.RelayID = def.RelayID
	}
	if cfg.Limits.MaxPayloadBytes <= 0 {
		cfg.Limits = def.Limits
	}
	cfg.Session = cfg.Session.WithDefaults()
	observability.RegisterMetrics()
	return &Service{
		cfg:      cfg,
		registry: NewRegistry(),
		sockets:  make(map[*Conn]struct{}),
		events:   make(chan event),
		done:     make(chan struct{}),
		started:  time.Now(),
		now:      time.Now,
	}
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// Run listens on the configured address and blocks until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.cfg.Session.Validate(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().Str("relay", s.cfg.RelayID).Str("addr", ln.Addr().String()).Msg("relay listening")

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, addr)
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()
	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			stop()
			<-serveErr
			return err
		}
		return <-serveErr
	}
}

// Serve accepts relay clients on ln until ctx is done.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		s.loop(ctx)
	}()
	go func() {
		select {
		case <-ctx.Done():
		case <-loopDone:
		}
		_ = ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				<-loopDone
				return nil
			}
			log.Warn().Err(err).Msg("relay accept failed")
			observability.RecordConnection("accept_error")
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if !s.post(acceptEvent{nc: nc}) {
			_ = nc.Close()
		}
	}
}

// MemberSnapshot is a point-in-time view of the registry.
type MemberSnapshot struct {
	Usernames []string `json:"usernames"`
	Count     int      `json:"count"`
	Label     string   `json:"label"`
	Pending   int      `json:"pending"`
}

// Snapshot asks the loop for the current membership.
func (s *Service) Snapshot(ctx context.Context) (MemberSnapshot, error) {
	reply := make(chan MemberSnapshot, 1)
	select {
	case s.events <- snapshotEvent{reply: reply}:
	case <-s.done:
		return MemberSnapshot{}, ErrServiceStopped
	case <-ctx.Done():
		return MemberSnapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return MemberSnapshot{}, ctx.Err()
	}
}

func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.AdminRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("relay", s.cfg.RelayID).Str("addr", addr).Msg("relay admin listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// post hands ev to the loop, reporting false once the loop has exited.
func (s *Service) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}
