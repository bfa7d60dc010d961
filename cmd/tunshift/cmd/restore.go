package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ogslab/tunshift/internal/snapshot"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-file>",
	Short: "Restore the rule set from a backup snapshot",
	Long: `Replace the entire live rule set with the contents of a previously
captured backup file. No confirmation prompt is shown.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	snap := snapshot.New(cfg.Backup.Dir, logger)
	if err := snap.Restore(context.Background(), args[0]); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	fmt.Printf("✓ Rule set restored from %s\n", args[0])
	return nil
}
