package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/danmuck/relaychat/internal/logging"
	"github.com/danmuck/relaychat/internal/relay"
	"github.com/joho/godotenv"
)

const defaultConfigPath = "cmd/relayd/config.toml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "relay config file (optional)")
	addr := flag.String("addr", "", "listen address, overrides config and env")
	flag.Parse()

	_ = godotenv.Load()
	logging.ConfigureRuntime()

	cfg, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	svc := relay.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfig falls back to defaults when the default config file is absent.
func resolveConfig(path string) (relay.ServiceConfig, error) {
	cfg := relay.DefaultServiceConfig()
	if path != "" {
		loaded, err := loadServiceConfig(path)
		if err == nil {
			cfg = loaded
		} else if !errors.Is(err, fs.ErrNotExist) || path != defaultConfigPath {
			return relay.ServiceConfig{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return relay.ServiceConfig{}, err
	}
	return cfg, nil
}
