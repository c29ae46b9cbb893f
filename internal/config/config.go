// Package config owns TOML configuration for the server and client runtimes.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/janus-ipc/janus/internal/protocol"
)

// ServerConfig configures one dispatcher instance.
type ServerConfig struct {
	Name                  string   `toml:"name"`
	Version               string   `toml:"version"`
	SocketPath            string   `toml:"socket_path"`
	ManifestPaths         []string `toml:"manifest_paths"`
	MaxMessageSize        int      `toml:"max_message_size"`
	MaxConcurrentHandlers int      `toml:"max_concurrent_handlers"`
	CleanupOnStart        bool     `toml:"cleanup_on_start"`
	ValidateResponses     bool     `toml:"validate_responses"`
	SlowProcessMaxMS      int      `toml:"slow_process_max_ms"`
	AdminAddr             string   `toml:"admin_addr"`
	AdminCorsOrigins      []string `toml:"admin_cors_origins"`
	AdminToken            string   `toml:"admin_token"`
}

// ClientConfig configures one client instance.
type ClientConfig struct {
	SocketPath       string  `toml:"socket_path"`
	Channel          string  `toml:"channel"`
	ReplyDir         string  `toml:"reply_dir"`
	MaxMessageSize   int     `toml:"max_message_size"`
	MaxPendingCount  int     `toml:"max_pending_count"`
	DefaultTimeout   float64 `toml:"default_timeout"`
	DatagramTimeout  float64 `toml:"datagram_timeout"`
	EnableValidation bool    `toml:"enable_validation"`
}

// DefaultServerConfig returns the contract-aligned server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Name:                  "janus",
		Version:               "0.1.0",
		MaxMessageSize:        protocol.DefaultMaxMessageSize,
		MaxConcurrentHandlers: 128,
		SlowProcessMaxMS:      10_000,
	}
}

// DefaultClientConfig returns the contract-aligned client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxMessageSize:   protocol.DefaultMaxMessageSize,
		MaxPendingCount:  1024,
		DefaultTimeout:   30.0,
		DatagramTimeout:  5.0,
		EnableValidation: true,
	}
}

// LoadServerConfig reads a server TOML file and fills defaults.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := loadToml(path, &cfg); err != nil {
		return ServerConfig{}, err
	}
	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// LoadClientConfig reads a client TOML file and fills defaults.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
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

// ValidateServerConfig enforces required fields and sane limits.
func ValidateServerConfig(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("server config missing name")
	}
	if strings.TrimSpace(cfg.SocketPath) == "" {
		return fmt.Errorf("server config missing socket_path")
	}
	if cfg.MaxMessageSize <= 0 || cfg.MaxMessageSize > protocol.MaxMessageSizeCeiling {
		return fmt.Errorf("server config max_message_size out of range (0, %d]", protocol.MaxMessageSizeCeiling)
	}
	if cfg.MaxConcurrentHandlers <= 0 {
		return fmt.Errorf("server config max_concurrent_handlers must be positive")
	}
	if cfg.SlowProcessMaxMS <= 0 {
		return fmt.Errorf("server config slow_process_max_ms must be positive")
	}
	return nil
}

// ValidateClientConfig enforces required fields and sane limits.
func ValidateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.SocketPath) == "" {
		return fmt.Errorf("client config missing socket_path")
	}
	if strings.TrimSpace(cfg.Channel) == "" {
		return fmt.Errorf("client config missing channel")
	}
	if cfg.MaxMessageSize <= 0 || cfg.MaxMessageSize > protocol.MaxMessageSizeCeiling {
		return fmt.Errorf("client config max_message_size out of range (0, %d]", protocol.MaxMessageSizeCeiling)
	}
	if cfg.MaxPendingCount <= 0 {
		return fmt.Errorf("client config max_pending_count must be positive")
	}
	if cfg.DefaultTimeout <= 0 {
		return fmt.Errorf("client config default_timeout must be positive")
	}
	if cfg.DatagramTimeout <= 0 {
		return fmt.Errorf("client config datagram_timeout must be positive")
	}
	return nil
}

// DefaultTimeoutDuration converts the configured default timeout.
func (c ClientConfig) DefaultTimeoutDuration() time.Duration {
	return time.Duration(c.DefaultTimeout * float64(time.Second))
}

// DatagramTimeoutDuration converts the no-response datagram timeout.
func (c ClientConfig) DatagramTimeoutDuration() time.Duration {
	return time.Duration(c.DatagramTimeout * float64(time.Second))
}
