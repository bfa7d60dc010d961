package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config represents the application configuration.
type Config struct {
	Interfaces  InterfacesConfig  `yaml:"interfaces"`
	Firewall    FirewallConfig    `yaml:"firewall"`
	Backup      BackupConfig      `yaml:"backup"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Watch       WatchConfig       `yaml:"watch"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// InterfacesConfig names the devices involved in a migration.
type InterfacesConfig struct {
	// Old is the uplink interface being replaced.
	Old string `yaml:"old" env:"TUNSHIFT_OLD_INTERFACE" env-default:"wlan0"`

	// New is the uplink interface taking over forwarding.
	New string `yaml:"new" env:"TUNSHIFT_NEW_INTERFACE" env-default:"eth1"`

	// Tunnel is the VPN tunnel interface whose forwarding is preserved.
	Tunnel string `yaml:"tunnel" env:"TUNSHIFT_TUNNEL_INTERFACE" env-default:"ogstun"`
}

// FirewallConfig contains rule store backend settings.
type FirewallConfig struct {
	// Backend is the firewall backend to use ("iptables" or "nftables")
	Backend string `yaml:"backend" env:"TUNSHIFT_FIREWALL_BACKEND" env-default:"iptables"`

	// Table is the iptables table holding the forwarding chain
	Table string `yaml:"table" env:"TUNSHIFT_FIREWALL_TABLE" env-default:"filter"`

	// Chain is the iptables forwarding chain name
	Chain string `yaml:"chain" env:"TUNSHIFT_FIREWALL_CHAIN" env-default:"FORWARD"`

	// NFTTable is the nftables table spec (only for nftables backend)
	NFTTable string `yaml:"nft_table" env:"TUNSHIFT_FIREWALL_NFT_TABLE" env-default:"inet filter"`

	// NFTChain is the nftables chain name (only for nftables backend)
	NFTChain string `yaml:"nft_chain" env:"TUNSHIFT_FIREWALL_NFT_CHAIN" env-default:"forward"`
}

// BackupConfig contains snapshot settings.
type BackupConfig struct {
	// Dir is where pre-migration rule set snapshots are written.
	Dir string `yaml:"dir" env:"TUNSHIFT_BACKUP_DIR" env-default:"/tmp"`
}

// PersistenceConfig controls how the rule set survives a restart.
type PersistenceConfig struct {
	// Mode selects the persistence strategy ("auto", "service", "file", "none").
	Mode string `yaml:"mode" env:"TUNSHIFT_PERSIST_MODE" env-default:"auto"`

	// RulesFile is the raw dump destination for the file strategy.
	RulesFile string `yaml:"rules_file" env:"TUNSHIFT_PERSIST_RULES_FILE" env-default:"/etc/iptables/rules.v4"`
}

// WatchConfig contains watch mode settings.
type WatchConfig struct {
	// Debounce is how long to wait after an event before re-running
	// the migration, absorbing bursts of link updates.
	Debounce time.Duration `yaml:"debounce" env:"TUNSHIFT_WATCH_DEBOUNCE" env-default:"2s"`
}

// LoggingConfig contains logging-related configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" env:"TUNSHIFT_LOG_LEVEL" env-default:"info"`

	// Format is the log format (json, text).
	Format string `yaml:"format" env:"TUNSHIFT_LOG_FORMAT" env-default:"text"`
}

// Load loads configuration from file and environment variables.
// Environment variables take precedence over config file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Check if config file exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := cleanenv.ReadConfig(configPath, cfg); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to access config file: %w", err)
		}
	}

	// Read environment variables (they override file values)
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment variables: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Interfaces.New == "" {
		return fmt.Errorf("interfaces.new must be specified")
	}
	if c.Interfaces.Tunnel == "" {
		return fmt.Errorf("interfaces.tunnel must be specified")
	}

	validBackends := map[string]bool{"iptables": true, "nftables": true}
	if !validBackends[c.Firewall.Backend] {
		return fmt.Errorf("invalid firewall backend: %s (must be 'iptables' or 'nftables')", c.Firewall.Backend)
	}

	validModes := map[string]bool{"auto": true, "service": true, "file": true, "none": true}
	if !validModes[c.Persistence.Mode] {
		return fmt.Errorf("invalid persistence mode: %s (must be one of: auto, service, file, none)", c.Persistence.Mode)
	}

	if c.Backup.Dir == "" {
		return fmt.Errorf("backup.dir must be specified")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be one of: json, text)", c.Logging.Format)
	}

	return nil
}
