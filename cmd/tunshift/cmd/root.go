package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ogslab/tunshift/internal/config"
	"github.com/ogslab/tunshift/internal/logging"
)

var (
	cfgFile string
)

// rootCmd represents the base command. A bare invocation performs an
// interactive migration.
var rootCmd = &cobra.Command{
	Use:   "tunshift",
	Short: "Move tunnel forwarding rules to a new uplink interface",
	Long: `tunshift reconfigures firewall forwarding rules when the host's active
uplink interface changes (for example from a wireless adapter to a wired
USB adapter), while preserving forwarding to the VPN tunnel interface.

Invoked without a subcommand it runs an interactive migration, prompting
for confirmation before mutating the chain.`,
	RunE: runMigrate,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: /etc/tunshift/config.yaml)")
	addMigrateFlags(rootCmd.Flags())
}

// GetConfigPath returns the config file path.
func GetConfigPath() string {
	if cfgFile == "" {
		return "/etc/tunshift/config.yaml"
	}
	return cfgFile
}

// loadConfig loads and validates the configuration and builds the logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, logger, nil
}
