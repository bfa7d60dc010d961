// Package persist makes the in-memory rule set survive a restart,
// best-effort. Persistence failure never fails a migration.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Outcome classifies how durable the rule set is after Persist.
type Outcome int

const (
	// Skipped means the rule set is live in memory only and will not
	// survive a restart.
	Skipped Outcome = iota

	// Persisted means the persistence service saved the rule set and
	// will restore it at boot.
	Persisted

	// PersistedNoAutoRestore means a raw rule dump was written but
	// nothing will load it at boot without manual intervention.
	PersistedNoAutoRestore
)

func (o Outcome) String() string {
	switch o {
	case Persisted:
		return "persisted"
	case PersistedNoAutoRestore:
		return "persisted (no auto-restore at boot)"
	default:
		return "skipped"
	}
}

// Strategy persists the live rule set to durable storage.
type Strategy interface {
	// Name identifies the strategy for logs and reports.
	Name() string

	// Persist saves the current rule set. Errors are reported to the
	// caller but treated as warnings there.
	Persist(ctx context.Context) (Outcome, error)
}

// Config selects a persistence strategy.
type Config struct {
	// Mode is one of "auto", "service", "file", "none".
	Mode string

	// RulesFile is the dump destination for the file strategy.
	RulesFile string
}

// Detect picks a strategy by capability probing rather than hardcoded
// branching: the native persistence service wins when installed, a raw
// rule dump is the fallback, and in-memory-only is the last resort.
func Detect(cfg Config, logger *slog.Logger) Strategy {
	return detect(cfg, exec.LookPath, logger)
}

func detect(cfg Config, lookPath func(string) (string, error), logger *slog.Logger) Strategy {
	switch cfg.Mode {
	case "service":
		return &ServiceStrategy{run: runCommand}
	case "file":
		return &FileDumpStrategy{rulesFile: cfg.RulesFile, run: runCommand}
	case "none":
		return NoopStrategy{}
	}

	// auto
	if _, err := lookPath(serviceBinary); err == nil {
		return &ServiceStrategy{run: runCommand}
	}
	if _, err := lookPath(dumpBinary); err == nil {
		logger.Warn("persistence service not installed, falling back to raw rule dump",
			slog.String("service", serviceBinary),
			slog.String("rules_file", cfg.RulesFile),
		)
		return &FileDumpStrategy{rulesFile: cfg.RulesFile, run: runCommand}
	}

	logger.Warn("no persistence mechanism available, rules will not survive a restart")
	return NoopStrategy{}
}

const (
	serviceBinary = "netfilter-persistent"
	dumpBinary    = "iptables-save"
)

// runCommand executes a command and returns its combined output.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("command failed: %s: %w\nOutput: %s",
			strings.Join(append([]string{name}, args...), " "), err, string(output))
	}
	return output, nil
}

// ServiceStrategy persists through the netfilter-persistent service,
// which also restores the rule set at boot.
type ServiceStrategy struct {
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func (s *ServiceStrategy) Name() string { return "service" }

func (s *ServiceStrategy) Persist(ctx context.Context) (Outcome, error) {
	if _, err := s.run(ctx, serviceBinary, "save"); err != nil {
		return Skipped, fmt.Errorf("persistence service save failed: %w", err)
	}
	return Persisted, nil
}

// FileDumpStrategy writes a raw rule dump to a well-known file. Nothing
// reloads it at boot, so the caller is told to install the service.
type FileDumpStrategy struct {
	rulesFile string
	run       func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func (s *FileDumpStrategy) Name() string { return "filedump" }

func (s *FileDumpStrategy) Persist(ctx context.Context) (Outcome, error) {
	dump, err := s.run(ctx, dumpBinary)
	if err != nil {
		return Skipped, fmt.Errorf("rule dump failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.rulesFile), 0o755); err != nil {
		return Skipped, fmt.Errorf("failed to create rules directory: %w", err)
	}
	if err := os.WriteFile(s.rulesFile, dump, 0o600); err != nil {
		return Skipped, fmt.Errorf("failed to write rules file: %w", err)
	}

	return PersistedNoAutoRestore, nil
}

// NoopStrategy leaves the rule set in memory only.
type NoopStrategy struct{}

func (NoopStrategy) Name() string { return "none" }

func (NoopStrategy) Persist(ctx context.Context) (Outcome, error) {
	return Skipped, nil
}
