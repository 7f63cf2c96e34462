package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Netflix/go-env"
	"github.com/danmuck/relaychat/internal/protocol/frame"
	"github.com/danmuck/relaychat/internal/relay"
)

// relayd config.toml key mapping to relay runtime settings.
type fileConfig struct {
	ID               string   `toml:"id"`
	Addr             string   `toml:"addr"`
	AdminAddr        string   `toml:"admin_addr"`
	CorsOrigins      []string `toml:"cors_origins"`
	HandshakeTimeout string   `toml:"handshake_timeout"`
	WriteTimeout     string   `toml:"write_timeout"`
	MaxPayloadBytes  int      `toml:"max_payload_bytes"`
}

// envOverrides win over the file. Empty values leave the file setting alone.
type envOverrides struct {
	ListenAddr       string        `env:"RELAY_LISTEN_ADDR"`
	AdminAddr        string        `env:"RELAY_ADMIN_ADDR"`
	HandshakeTimeout time.Duration `env:"RELAY_HANDSHAKE_TIMEOUT"`
}

func loadServiceConfig(path string) (relay.ServiceConfig, error) {
	cfg := relay.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return relay.ServiceConfig{}, fmt.Errorf("load relay config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.RelayID = id
		}
	}
	if meta.IsDefined("addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("handshake_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandshakeTimeout))
		if err != nil {
			return relay.ServiceConfig{}, fmt.Errorf("parse handshake_timeout: %w", err)
		}
		cfg.Session.HandshakeTimeout = d
	}
	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return relay.ServiceConfig{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.Session.WriteTimeout = d
	}
	if meta.IsDefined("max_payload_bytes") {
		if raw.MaxPayloadBytes <= 0 {
			return relay.ServiceConfig{}, fmt.Errorf("load relay config: max_payload_bytes must be positive")
		}
		cfg.Limits = frame.Limits{MaxPayloadBytes: raw.MaxPayloadBytes}
	}

	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return relay.ServiceConfig{}, fmt.Errorf("load relay config: addr is required")
	}
	cfg.Session = cfg.Session.WithDefaults()
	return cfg, nil
}

// applyEnv overlays RELAY_* environment variables onto cfg.
func applyEnv(cfg *relay.ServiceConfig) error {
	var over envOverrides
	if _, err := env.UnmarshalFromEnviron(&over); err != nil {
		return fmt.Errorf("relay env: %w", err)
	}
	if addr := strings.TrimSpace(over.ListenAddr); addr != "" {
		cfg.ListenAddr = addr
	}
	if addr := strings.TrimSpace(over.AdminAddr); addr != "" {
		cfg.AdminListenAddr = addr
	}
	if over.HandshakeTimeout > 0 {
		cfg.Session.HandshakeTimeout = over.HandshakeTimeout
	}
	return nil
}
