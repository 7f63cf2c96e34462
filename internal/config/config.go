package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

var validate = newValidator()

// RelayConfig is the relay.toml layout.
type RelayConfig struct {
	ID               string   `toml:"id" validate:"required"`
	Addr             string   `toml:"addr" validate:"required,hostname_port"`
	AdminAddr        string   `toml:"admin_addr" validate:"omitempty,hostname_port"`
	CorsOrigins      []string `toml:"cors_origins" validate:"dive,url"`
	HandshakeTimeout string   `toml:"handshake_timeout" validate:"omitempty,duration"`
	WriteTimeout     string   `toml:"write_timeout" validate:"omitempty,duration"`
	MaxPayloadBytes  int      `toml:"max_payload_bytes" validate:"gte=0"`
}

// ClientConfig is the client.toml layout.
type ClientConfig struct {
	Addr            string `toml:"addr" validate:"required,hostname_port"`
	Username        string `toml:"username" validate:"omitempty,max=16"`
	ConnectTimeout  string `toml:"connect_timeout" validate:"omitempty,duration"`
	PollInterval    string `toml:"poll_interval" validate:"omitempty,duration"`
	ConnectAttempts int    `toml:"connect_attempts" validate:"gte=0"`
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		ID:               "relay.local",
		Addr:             "127.0.0.1:5001",
		CorsOrigins:      []string{"http://localhost:3000"},
		HandshakeTimeout: "10s",
		WriteTimeout:     "5s",
		MaxPayloadBytes:  64 * 1024,
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Addr:            "127.0.0.1:5001",
		ConnectTimeout:  "5s",
		PollInterval:    "250ms",
		ConnectAttempts: 3,
	}
}

func LoadRelayConfig(path string) (RelayConfig, error) {
	cfg := DefaultRelayConfig()
	if err := loadToml(path, &cfg); err != nil {
		return RelayConfig{}, err
	}
	if err := ValidateRelayConfig(cfg); err != nil {
		return RelayConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateRelayConfig(cfg RelayConfig) error {
	return validate.Struct(cfg)
}

func ValidateClientConfig(cfg ClientConfig) error {
	return validate.Struct(cfg)
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	return v
}

// duration parses s, returning fallback when s is empty.
func duration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
