package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "relay":
		return relayTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Check loads path as kind and reports the first problem found.
func Check(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "relay":
		cfg, err := LoadRelayConfig(path)
		if err != nil {
			return err
		}
		_, err = cfg.ServiceConfig()
		return err
	case "client":
		cfg, err := LoadClientConfig(path)
		if err != nil {
			return err
		}
		_, err = cfg.ChatClientConfig()
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const relayTemplate = `id = "relay.local"
addr = "127.0.0.1:5001"
# admin_addr = "127.0.0.1:7001"
cors_origins = ["http://localhost:3000"]
handshake_timeout = "10s"
write_timeout = "5s"
max_payload_bytes = 65536
`

const clientTemplate = `addr = "127.0.0.1:5001"
# username = "amy"
connect_timeout = "5s"
poll_interval = "250ms"
connect_attempts = 3
`
