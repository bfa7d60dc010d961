package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ogslab/tunshift/internal/inventory"
	"github.com/ogslab/tunshift/internal/rulestore"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current forwarding rules and available interfaces",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := rulestore.New(storeConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create rule store: %w", err)
	}
	defer store.Close()

	rules, err := store.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}

	fmt.Printf("Forwarding chain (%s, backend %s):\n", cfg.Firewall.Chain, cfg.Firewall.Backend)
	if len(rules) == 0 {
		fmt.Println("  (empty)")
	}
	for i, r := range rules {
		fmt.Printf("  %2d. %s\n", i+1, displayRule(r))
	}

	ifaces, err := inventory.New().List()
	if err != nil {
		return fmt.Errorf("failed to list interfaces: %w", err)
	}

	fmt.Println("\nAvailable interfaces:")
	for _, iface := range ifaces {
		state := "❌ down"
		if iface.Up {
			state = "✓ up"
		}
		fmt.Printf("  %-16s %s\n", iface.Name, state)
	}

	return nil
}

// displayRule prefers the managed representation and falls back to the
// raw listing text for foreign rules.
func displayRule(r rulestore.Rule) string {
	if r.InInterface == "" && r.OutInterface == "" && r.Raw != "" {
		return r.Raw
	}
	return r.String()
}
