// Package config provides a reusable loader for Digital Lira node
// configuration files and environment variables. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.1.0
package config

// config.go — the node configuration loader and validator (spec.md §6).
// Adapted from Synnergy's pkg/config/config.go viper loader (a
// mapstructure-tagged struct unmarshalled from a single config file plus
// environment overrides), pointed at the spec's TOML schema instead of the
// teacher's YAML one and narrowed to the fields spec.md §6 names.

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensyria/lira/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// NetworkConfig is the `[network]` table of config.toml.
type NetworkConfig struct {
	Port           int      `mapstructure:"port" json:"port"`
	BootstrapNodes []string `mapstructure:"bootstrap_nodes" json:"bootstrap_nodes"`
	MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
}

// MiningConfig is the `[mining]` table of config.toml.
type MiningConfig struct {
	Difficulty    uint32 `mapstructure:"difficulty" json:"difficulty"`
	Threads       int    `mapstructure:"threads" json:"threads"`
	MiningAddress string `mapstructure:"mining_address" json:"mining_address"`
}

// DaemonConfig is the `[daemon]` table of config.toml.
type DaemonConfig struct {
	AutoMine     bool   `mapstructure:"auto_mine" json:"auto_mine"`
	LogFile      string `mapstructure:"log_file" json:"log_file"`
	LogMaxSizeMB int    `mapstructure:"log_max_size_mb" json:"log_max_size_mb"`
	LogBackups   int    `mapstructure:"log_backups" json:"log_backups"`
}

// Config is the unified configuration for a Digital Lira node (spec.md §6).
type Config struct {
	DataDir string        `mapstructure:"data_dir" json:"data_dir"`
	Network NetworkConfig `mapstructure:"network" json:"network"`
	Mining  MiningConfig  `mapstructure:"mining" json:"mining"`
	Daemon  DaemonConfig  `mapstructure:"daemon" json:"daemon"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads config.toml from configPath (a directory), applies any LIRA_*
// environment overrides, validates the result against spec.md §6's rules,
// and stores it in AppConfig.
func Load(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("toml")
	if configPath != "" {
		viper.AddConfigPath(configPath)
	}
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	viper.SetEnvPrefix("LIRA")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	if err := Validate(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "validate config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads config.toml from the directory named by the
// LIRA_CONFIG_DIR environment variable (defaulting to the working directory).
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("LIRA_CONFIG_DIR", "."))
}

// Validate checks the rejection rules spec.md §6 lists: empty data_dir;
// port == 0; malformed bootstrap multiaddrs; difficulty outside [1, 255];
// threads == 0; a mining address that is not exactly 64 hex characters.
func Validate(c *Config) error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Network.Port == 0 {
		return fmt.Errorf("network.port must not be zero")
	}
	for _, addr := range c.Network.BootstrapNodes {
		if !isValidMultiaddrPrefix(addr) {
			return fmt.Errorf("network.bootstrap_nodes: malformed multiaddr %q", addr)
		}
	}
	if c.Mining.Difficulty < 1 || c.Mining.Difficulty > 255 {
		return fmt.Errorf("mining.difficulty must be in [1, 255], got %d", c.Mining.Difficulty)
	}
	if c.Mining.Threads == 0 {
		return fmt.Errorf("mining.threads must not be zero")
	}
	if c.Mining.MiningAddress != "" && !isHex64(c.Mining.MiningAddress) {
		return fmt.Errorf("mining.mining_address must be exactly 64 hex characters")
	}
	return nil
}

func isValidMultiaddrPrefix(addr string) bool {
	for _, prefix := range []string{"/ip4/", "/ip6/", "/dns/"} {
		if strings.HasPrefix(addr, prefix) {
			return true
		}
	}
	return false
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}
