package session

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/relaychat/internal/testutil/testlog"
)

func TestBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	if got := cfg.Delay(1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := cfg.Delay(2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := cfg.Delay(3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := cfg.Delay(9, nil); got != 5*time.Second {
		t.Fatalf("attempt9 got=%v", got)
	}
}

func TestWithDefaultsFillsZeroes(t *testing.T) {
	testlog.Start(t)
	cfg := Config{HandshakeTimeout: time.Second}.WithDefaults()
	if cfg.HandshakeTimeout != time.Second {
		t.Fatalf("explicit handshake timeout overwritten: %v", cfg.HandshakeTimeout)
	}
	if cfg.WriteTimeout != DefaultConfig().WriteTimeout || cfg.PollInterval == 0 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestValidateRejectsInvertedBackoff(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.Backoff.MaxDelay = time.Millisecond
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
