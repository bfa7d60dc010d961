package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ogslab/tunshift/internal/inventory"
	"github.com/ogslab/tunshift/internal/migrate"
	"github.com/ogslab/tunshift/internal/persist"
	"github.com/ogslab/tunshift/internal/rulestore"
	"github.com/ogslab/tunshift/internal/snapshot"
	"github.com/ogslab/tunshift/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run until interrupted, re-migrating when the uplink comes up",
	Long: `Watch link updates and the config file. When the configured new uplink
interface appears or the config changes, the migration is re-run. The
migration is idempotent, so repeated triggers are safe.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	_, newUplink, _ := resolveInterfaces(cfg)

	trigger := func(reason string) {
		logger.Info("migration triggered", slog.String("reason", reason))
		if err := runTriggeredMigration(logger); err != nil {
			logger.Error("triggered migration failed", slog.Any("error", err))
		}
	}

	done := make(chan struct{})
	links, err := inventory.Subscribe(done)
	if err != nil {
		logger.Warn("link update subscription unavailable, watching config only",
			slog.Any("error", err),
		)
		links = nil
	}

	configPath := ""
	if _, err := os.Stat(GetConfigPath()); err == nil {
		configPath = GetConfigPath()
	}

	w, err := watch.New(configPath, newUplink, cfg.Watch.Debounce, links, trigger, logger)
	if err != nil {
		close(done)
		return err
	}
	if err := w.Start(); err != nil {
		close(done)
		return err
	}

	logger.Info("watching for uplink and config changes",
		slog.String("uplink", newUplink),
		slog.String("config", configPath),
		slog.Duration("debounce", cfg.Watch.Debounce),
	)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	close(done)
	return w.Stop()
}

// runTriggeredMigration reloads the config and runs one migration.
// Config is re-read on every trigger so edits take effect without a
// restart, and the live chain stays the only source of rule state.
func runTriggeredMigration(logger *slog.Logger) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	old, newUplink, tunnel := resolveInterfaces(cfg)

	store, err := rulestore.New(storeConfig(cfg))
	if err != nil {
		return err
	}
	defer store.Close()

	m := migrate.New(
		store,
		inventory.New(),
		snapshot.New(cfg.Backup.Dir, logger),
		persist.Detect(persist.Config{
			Mode:      cfg.Persistence.Mode,
			RulesFile: cfg.Persistence.RulesFile,
		}, logger),
		logger,
	)

	_, err = m.Migrate(context.Background(), old, newUplink, tunnel)
	return err
}
