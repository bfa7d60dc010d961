package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ogslab/tunshift/internal/config"
	"github.com/ogslab/tunshift/internal/inventory"
	"github.com/ogslab/tunshift/internal/migrate"
	"github.com/ogslab/tunshift/internal/persist"
	"github.com/ogslab/tunshift/internal/rulestore"
	"github.com/ogslab/tunshift/internal/snapshot"
)

var (
	oldIface    string
	newIface    string
	tunnelIface string
	assumeYes   bool
	dryRun      bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate tunnel forwarding rules to the new uplink",
	Long: `Replace forwarding rules referencing the old uplink interface with
equivalents for the new one, preserving tunnel forwarding semantics.
The full rule set is snapshotted to a backup file before any mutation.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	addMigrateFlags(migrateCmd.Flags())
}

// addMigrateFlags registers migration flags. They are shared between
// the root command (bare invocation) and the migrate subcommand.
func addMigrateFlags(fs *pflag.FlagSet) {
	fs.StringVar(&oldIface, "old", "", "uplink interface being replaced (overrides config)")
	fs.StringVar(&newIface, "new", "", "uplink interface taking over (overrides config)")
	fs.StringVar(&tunnelIface, "tunnel", "", "tunnel interface (overrides config)")
	fs.BoolVarP(&assumeYes, "yes", "y", false, "apply without confirmation prompt")
	fs.BoolVar(&dryRun, "dry-run", false, "replay the migration against an in-memory copy of the chain")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	old, newUplink, tunnel := resolveInterfaces(cfg)

	store, err := rulestore.New(storeConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create rule store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	inv := inventory.New()

	var snap migrate.Snapshotter
	var persister persist.Strategy

	if dryRun {
		// Clone the live chain and replay the migration offline.
		seed, err := store.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list current rules: %w", err)
		}
		store = rulestore.NewMemoryStore(seed)
		snap = snapshot.Nop{}
		persister = persist.NoopStrategy{}
		fmt.Println("Dry run: no changes will be applied.")
	} else {
		snap = snapshot.New(cfg.Backup.Dir, logger)
		persister = persist.Detect(persist.Config{
			Mode:      cfg.Persistence.Mode,
			RulesFile: cfg.Persistence.RulesFile,
		}, logger)

		if !assumeYes {
			fmt.Printf("Migrate forwarding rules %s -> %s (tunnel %s)? [y/N]: ", old, newUplink, tunnel)
			if !confirm(os.Stdin) {
				fmt.Println("Cancelled.")
				return nil
			}
		}
	}

	m := migrate.New(store, inv, snap, persister, logger)

	report, err := m.Migrate(ctx, old, newUplink, tunnel)
	if err != nil {
		if errors.Is(err, migrate.ErrInterfaceNotFound) {
			printAvailableInterfaces(inv)
		}
		if report != nil && report.Backup.Path != "" {
			fmt.Fprintf(os.Stderr, "Migration failed; restore the previous rule set with:\n  tunshift restore %s\n", report.Backup.Path)
		}
		return err
	}

	printReport(report, dryRun)
	return nil
}

// resolveInterfaces applies flag overrides to the configured names.
func resolveInterfaces(cfg *config.Config) (old, newUplink, tunnel string) {
	old = cfg.Interfaces.Old
	newUplink = cfg.Interfaces.New
	tunnel = cfg.Interfaces.Tunnel

	if oldIface != "" {
		old = oldIface
	}
	if newIface != "" {
		newUplink = newIface
	}
	if tunnelIface != "" {
		tunnel = tunnelIface
	}
	return old, newUplink, tunnel
}

// storeConfig maps application config to rule store config.
func storeConfig(cfg *config.Config) *rulestore.Config {
	return &rulestore.Config{
		Backend:  cfg.Firewall.Backend,
		Table:    cfg.Firewall.Table,
		Chain:    cfg.Firewall.Chain,
		NFTTable: cfg.Firewall.NFTTable,
		NFTChain: cfg.Firewall.NFTChain,
	}
}

// confirm reads a y/N answer from r.
func confirm(r *os.File) bool {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// printReport prints the final migration summary.
func printReport(report *migrate.Report, dry bool) {
	fmt.Println()
	if dry {
		fmt.Println("✓ Dry run complete")
	} else {
		fmt.Println("✓ Migration complete")
	}

	if report.TunnelAbsent {
		fmt.Println("⚠ Tunnel interface is not present yet; rules take effect once it is created.")
	}

	fmt.Printf("Removed:     %d rule(s)\n", len(report.Removed))
	for _, r := range report.Removed {
		fmt.Printf("  - %s\n", r)
	}
	fmt.Printf("Added:       %d rule(s)\n", len(report.Added))
	for _, r := range report.Added {
		fmt.Printf("  + %s\n", r)
	}
	if report.Backup.Path != "" {
		fmt.Printf("Backup:      %s\n", report.Backup.Path)
	}
	fmt.Printf("Persistence: %s\n", report.Persist)
	if report.PersistWarning != "" {
		fmt.Printf("⚠ %s\n", report.PersistWarning)
	}
}

// printAvailableInterfaces shows the device inventory as a diagnostic
// when a required interface is missing.
func printAvailableInterfaces(inv inventory.Inventory) {
	ifaces, err := inv.List()
	if err != nil {
		return
	}
	fmt.Fprintln(os.Stderr, "Available interfaces:")
	for _, iface := range ifaces {
		state := "down"
		if iface.Up {
			state = "up"
		}
		fmt.Fprintf(os.Stderr, "  %-16s %s\n", iface.Name, state)
	}
}
