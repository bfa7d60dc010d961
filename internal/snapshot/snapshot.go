// Package snapshot captures and restores full rule set backups.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	saveBinary    = "iptables-save"
	restoreBinary = "iptables-restore"

	backupPrefix = "tunshift-backup-"
	backupSuffix = ".rules"
	timeLayout   = "20060102-150405"
)

// Handle identifies a backup snapshot on durable storage. Snapshot
// files are never mutated after creation; cleanup is caller-managed.
type Handle struct {
	Path       string
	CapturedAt time.Time
}

// Snapshotter writes timestamped full dumps of the rule store state and
// restores them.
type Snapshotter struct {
	dir    string
	logger *slog.Logger

	// run and now are injectable for tests.
	run func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
	now func() time.Time
}

// New creates a Snapshotter writing backups into dir.
func New(dir string, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{
		dir:    dir,
		logger: logger,
		run:    runCommand,
		now:    time.Now,
	}
}

// runCommand executes a command with optional stdin and returns its output.
func runCommand(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("command failed: %s: %w\nOutput: %s",
			strings.Join(append([]string{name}, args...), " "), err, string(output))
	}
	return output, nil
}

// Save captures the entire current rule set to a timestamped file.
// It must complete before any mutation; callers abort if it fails.
func (s *Snapshotter) Save(ctx context.Context) (Handle, error) {
	capturedAt := s.now()

	dump, err := s.run(ctx, nil, saveBinary)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to dump rule set: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Handle{}, fmt.Errorf("failed to create backup directory: %w", err)
	}

	path := filepath.Join(s.dir, backupPrefix+capturedAt.Format(timeLayout)+backupSuffix)
	if err := os.WriteFile(path, dump, 0o600); err != nil {
		return Handle{}, fmt.Errorf("failed to write backup file: %w", err)
	}

	s.logger.Info("rule set snapshot written",
		slog.String("path", path),
		slog.Int("bytes", len(dump)),
	)

	return Handle{Path: path, CapturedAt: capturedAt}, nil
}

// Restore replaces the live rule set from a previously captured
// snapshot. It is idempotent: restoring the same file twice leaves the
// same state.
func (s *Snapshotter) Restore(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("backup file not accessible: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("backup path is a directory: %s", path)
	}

	dump, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}

	if _, err := s.run(ctx, dump, restoreBinary); err != nil {
		return fmt.Errorf("failed to restore rule set: %w", err)
	}

	s.logger.Info("rule set restored from snapshot", slog.String("path", path))
	return nil
}

// Nop is a Snapshotter stand-in for dry-run mode: it captures nothing.
type Nop struct{}

// Save returns an empty handle without touching the system.
func (Nop) Save(ctx context.Context) (Handle, error) {
	return Handle{CapturedAt: time.Now()}, nil
}
