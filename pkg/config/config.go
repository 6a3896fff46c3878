// Package config loads veilchat node configuration from a YAML file,
// falling back to defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level node configuration.
type Config struct {
	Network  NetworkConfig  `yaml:"network"`
	Security SecurityConfig `yaml:"security"`
	Storage  StorageConfig  `yaml:"storage"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// NetworkConfig controls the TCP transport.
type NetworkConfig struct {
	DefaultPort       int           `yaml:"default_port"`
	BindAddress       string        `yaml:"bind_address"`
	ConnectTimeout    time.Duration `yaml:"connection_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MaxMessageSize    int           `yaml:"max_message_size"`
}

// SecurityConfig controls session rekeying thresholds.
type SecurityConfig struct {
	RekeyMessageThreshold uint64        `yaml:"rekeying_message_threshold"`
	RekeyTimeThreshold    time.Duration `yaml:"rekeying_time_threshold"`
}

// StorageConfig locates the on-disk key and peer stores.
type StorageConfig struct {
	KeysDirectory string `yaml:"keys_directory"`
	PeersDatabase string `yaml:"peers_database"`
}

// APIConfig controls the local status HTTP server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Network: NetworkConfig{
			DefaultPort:       5555,
			BindAddress:       "0.0.0.0",
			ConnectTimeout:    10 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			MaxMessageSize:    10 * 1024 * 1024,
		},
		Security: SecurityConfig{
			RekeyMessageThreshold: 1000,
			RekeyTimeThreshold:    24 * time.Hour,
		},
		Storage: StorageConfig{
			KeysDirectory: "data/keys",
			PeersDatabase: "data/peers.db",
		},
		API: APIConfig{
			Enabled: false,
			Address: "127.0.0.1:7777",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file is not
// an error; the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Network.DefaultPort < 1 || c.Network.DefaultPort > 65535 {
		return fmt.Errorf("invalid port %d", c.Network.DefaultPort)
	}
	if c.Network.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be positive")
	}
	if c.Network.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	return nil
}
