// Package config loads and validates the relay's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

var (
	ErrInvalidPort     = errors.New("config: listen_port out of range")
	ErrInvalidPath     = errors.New("config: socket_path must start with '/'")
	ErrInvalidInterval = errors.New("config: ping_interval must be below pong_wait")
)

// RelayConfig is the full relayd configuration surface.
type RelayConfig struct {
	Node            string   `toml:"node"`
	ListenPort      int      `toml:"listen_port"`
	SocketPath      string   `toml:"socket_path"`
	AdminAddr       string   `toml:"admin_addr"`
	CorsOrigins     []string `toml:"cors_origins"`
	ReadLimitBytes  int64    `toml:"read_limit_bytes"`
	WriteQueueDepth int      `toml:"write_queue_depth"`
	WriteTimeout    duration `toml:"write_timeout"`
	PingInterval    duration `toml:"ping_interval"`
	PongWait        duration `toml:"pong_wait"`
	CloseGrace      duration `toml:"close_grace"`
}

// duration parses TOML strings like "30s" into time.Duration.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func (d duration) Std() time.Duration { return time.Duration(d) }

// DefaultRelayConfig returns the defaults applied before file values.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Node:            "relay.local",
		ListenPort:      9400,
		SocketPath:      "/ws",
		AdminAddr:       ":9401",
		CorsOrigins:     []string{"http://localhost:3000"},
		ReadLimitBytes:  1 << 20,
		WriteQueueDepth: 64,
		WriteTimeout:    duration(10 * time.Second),
		PingInterval:    duration(30 * time.Second),
		PongWait:        duration(60 * time.Second),
		CloseGrace:      duration(2 * time.Second),
	}
}

// LoadRelayConfig reads path and overlays it on the defaults.
func LoadRelayConfig(path string) (RelayConfig, error) {
	cfg := DefaultRelayConfig()
	if err := loadToml(path, &cfg); err != nil {
		return RelayConfig{}, err
	}
	if err := ValidateRelayConfig(cfg); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

// ValidateRelayConfig rejects configurations the server cannot run with.
func ValidateRelayConfig(cfg RelayConfig) error {
	if cfg.ListenPort < 0 || cfg.ListenPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, cfg.ListenPort)
	}
	if !strings.HasPrefix(cfg.SocketPath, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, cfg.SocketPath)
	}
	if cfg.PingInterval.Std() >= cfg.PongWait.Std() {
		return fmt.Errorf("%w: ping=%s pong=%s", ErrInvalidInterval, cfg.PingInterval.Std(), cfg.PongWait.Std())
	}
	return nil
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
