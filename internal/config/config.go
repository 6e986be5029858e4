// Package config loads and persists an agent's configuration as YAML,
// grounded in the teacher's load-or-create-default-file idiom
// (internal/node/config.go).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DHTProtocolPrefix and DiscoveryNamespace are fixed for every agent on
// this network; there is no mainnet/testnet split in the TrustChain
// domain (unlike the teacher's multi-chain wallet, there is exactly one
// network here).
const (
	DHTProtocolPrefix = "/trustchain"
	DiscoveryNamespace = "trustchain-agents"
)

// Config holds all configuration for an agent process.
type Config struct {
	Identity  IdentityConfig  `yaml:"identity"`
	Network   NetworkConfig   `yaml:"network"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Directory DirectoryConfig `yaml:"directory"`
	Agent     AgentConfig     `yaml:"agent"`
}

// IdentityConfig holds identity-related settings.
type IdentityConfig struct {
	// KeyFile is the path to the agent's private key file.
	KeyFile string `yaml:"key_file"`
}

// NetworkConfig holds P2P network settings.
type NetworkConfig struct {
	ListenAddrs        []string `yaml:"listen_addrs"`
	BootstrapPeers     []string `yaml:"bootstrap_peers"`
	EnableMDNS         bool     `yaml:"enable_mdns"`
	EnableDHT          bool     `yaml:"enable_dht"`
	EnableRelay        bool     `yaml:"enable_relay"`
	EnableNAT          bool     `yaml:"enable_nat"`
	EnableHolePunching bool     `yaml:"enable_hole_punching"`
	ConnMgr            ConnMgrConfig `yaml:"conn_mgr"`
}

// ConnMgrConfig holds connection manager watermarks.
type ConnMgrConfig struct {
	LowWater    int           `yaml:"low_water"`
	HighWater   int           `yaml:"high_water"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// StorageConfig holds store settings.
type StorageConfig struct {
	// DataDir is the directory for the key file, SQLite database, and
	// the shutdown-time Database dump.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DirectoryConfig points an agent at its registry (spec.md §6).
type DirectoryConfig struct {
	// URL is the directory's JSON-RPC endpoint. Empty disables
	// directory registration; peers are then only discovered via DHT/
	// mDNS (spec.md §2's "connectivity assist" role).
	URL string `yaml:"url"`
}

// AgentConfig holds the PROTECT scheduler's tunables (spec.md §4.7, §9
// Open Question 2).
type AgentConfig struct {
	// StepInterval is how often the scheduler's step() fires.
	StepInterval time.Duration `yaml:"step_interval"`

	// StartupDelay is how long step() waits before its first tick.
	StartupDelay time.Duration `yaml:"startup_delay"`

	// ExperimentDuration bounds how long the agent runs before exiting
	// on its own (zero means run until signaled).
	ExperimentDuration time.Duration `yaml:"experiment_duration"`

	// RequestCacheTimeoutMultiplier sets a RequestCache entry's timeout
	// as a multiple of StepInterval (the core spec has no TTL; this is
	// the added recovery mechanism from §9 Open Question 2).
	RequestCacheTimeoutMultiplier int `yaml:"request_cache_timeout_multiplier"`

	// Unauthenticated disables block-hash verification during PROTECT
	// (§9 Open Question 1's escape hatch for constrained test runs).
	Unauthenticated bool `yaml:"unauthenticated"`

	// UsePROTECT selects the seven-message audit protocol; false falls
	// back to the two-message base protocol (spec.md §4.7).
	UsePROTECT bool `yaml:"use_protect"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Identity: IdentityConfig{KeyFile: "agent.key"},
		Network: NetworkConfig{
			ListenAddrs: []string{
				"/ip4/0.0.0.0/tcp/4001",
				"/ip4/0.0.0.0/udp/4001/quic-v1",
				"/ip6/::/tcp/4001",
				"/ip6/::/udp/4001/quic-v1",
			},
			BootstrapPeers:     []string{},
			EnableMDNS:         true,
			EnableDHT:          true,
			EnableRelay:        true,
			EnableNAT:          true,
			EnableHolePunching: true,
			ConnMgr: ConnMgrConfig{
				LowWater:    100,
				HighWater:   400,
				GracePeriod: time.Minute,
			},
		},
		Storage: StorageConfig{DataDir: "~/.trustchain"},
		Logging: LoggingConfig{Level: "info", File: ""},
		Directory: DirectoryConfig{URL: ""},
		Agent: AgentConfig{
			StepInterval:                  time.Second,
			StartupDelay:                  5 * time.Second,
			ExperimentDuration:            0,
			RequestCacheTimeoutMultiplier: 10,
			Unauthenticated:               false,
			UsePROTECT:                    true,
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from dataDir's YAML file, creating one
// with default values if it doesn't exist yet.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := ExpandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# TrustChain agent configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ConfigPath returns the full path to the config file for dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
