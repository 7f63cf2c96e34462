package config

import (
	"fmt"

	"github.com/danmuck/relaychat/internal/chatclient"
	"github.com/danmuck/relaychat/internal/protocol/frame"
	"github.com/danmuck/relaychat/internal/relay"
)

// ServiceConfig maps the file layout onto relay runtime settings.
func (c RelayConfig) ServiceConfig() (relay.ServiceConfig, error) {
	out := relay.DefaultServiceConfig()
	out.RelayID = c.ID
	out.ListenAddr = c.Addr
	out.AdminListenAddr = c.AdminAddr
	if len(c.CorsOrigins) > 0 {
		out.CorsOrigins = c.CorsOrigins
	}
	if c.MaxPayloadBytes > 0 {
		out.Limits = frame.Limits{MaxPayloadBytes: c.MaxPayloadBytes}
	}

	var err error
	if out.Session.HandshakeTimeout, err = duration(c.HandshakeTimeout, out.Session.HandshakeTimeout); err != nil {
		return relay.ServiceConfig{}, fmt.Errorf("handshake_timeout: %w", err)
	}
	if out.Session.WriteTimeout, err = duration(c.WriteTimeout, out.Session.WriteTimeout); err != nil {
		return relay.ServiceConfig{}, fmt.Errorf("write_timeout: %w", err)
	}
	return out, out.Session.Validate()
}

// ChatClientConfig maps the file layout onto client runtime settings.
func (c ClientConfig) ChatClientConfig() (chatclient.Config, error) {
	out := chatclient.DefaultConfig()
	out.Address = c.Addr
	out.Username = c.Username
	out.MaxConnectAttempts = c.ConnectAttempts

	var err error
	if out.Session.ConnectTimeout, err = duration(c.ConnectTimeout, out.Session.ConnectTimeout); err != nil {
		return chatclient.Config{}, fmt.Errorf("connect_timeout: %w", err)
	}
	if out.Session.PollInterval, err = duration(c.PollInterval, out.Session.PollInterval); err != nil {
		return chatclient.Config{}, fmt.Errorf("poll_interval: %w", err)
	}
	return out, out.Session.Validate()
}
