// Package migrate moves tunnel forwarding rules from one uplink
// interface to another.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ogslab/tunshift/internal/inventory"
	"github.com/ogslab/tunshift/internal/persist"
	"github.com/ogslab/tunshift/internal/rulestore"
	"github.com/ogslab/tunshift/internal/snapshot"
)

// deleteAttempts bounds removal retries per rule. Two attempts clear
// the accidental duplicate an interrupted earlier run can leave behind;
// looping until not-found could spin forever on a corrupt store.
const deleteAttempts = 2

// ErrInterfaceNotFound signals a required interface is absent from the
// device inventory. No mutation has happened when it is returned.
var ErrInterfaceNotFound = errors.New("interface not found")

// Snapshotter captures the rule set before mutation.
type Snapshotter interface {
	Save(ctx context.Context) (snapshot.Handle, error)
}

// Report enumerates the net changes of a migration.
type Report struct {
	Removed []rulestore.Rule
	Added   []rulestore.Rule
	Backup  snapshot.Handle
	Persist persist.Outcome

	// PersistWarning carries the persistence error text when durability
	// degraded; the migration itself still succeeded.
	PersistWarning string

	// TunnelAbsent is set when the tunnel device did not exist at
	// migration time. The rules are installed anyway and take effect
	// once the tunnel comes up.
	TunnelAbsent bool
}

// Migrator replaces forwarding rules referencing an old uplink with
// equivalents for a new one, preserving the tunnel rule pair semantics.
type Migrator struct {
	store     rulestore.Store
	inv       inventory.Inventory
	snap      Snapshotter
	persister persist.Strategy
	logger    *slog.Logger
}

// New creates a Migrator.
func New(store rulestore.Store, inv inventory.Inventory, snap Snapshotter, persister persist.Strategy, logger *slog.Logger) *Migrator {
	return &Migrator{
		store:     store,
		inv:       inv,
		snap:      snap,
		persister: persister,
		logger:    logger,
	}
}

// ForwardingPair returns the two directional rules that define
// tunnel<->uplink forwarding, in chain position order. Tunnel egress is
// accepted unconditionally; traffic back toward the tunnel is accepted
// only for established or related connections, so unsolicited inbound
// never reaches the tunnel. That asymmetry must survive any interface
// rename.
func ForwardingPair(tunnel, uplink string) [2]rulestore.Rule {
	return [2]rulestore.Rule{
		{
			InInterface:  tunnel,
			OutInterface: uplink,
			Target:       rulestore.TargetAccept,
		},
		{
			InInterface:  uplink,
			OutInterface: tunnel,
			ConnState:    "ESTABLISHED,RELATED",
			Target:       rulestore.TargetAccept,
		},
	}
}

// CheckPreconditions verifies the new uplink exists in the device
// inventory. A missing tunnel is reported, not an error: the tunnel may
// not be created yet. Read-only.
func (m *Migrator) CheckPreconditions(newUplink, tunnel string) (tunnelPresent bool, err error) {
	ok, err := m.inv.Exists(newUplink)
	if err != nil {
		return false, fmt.Errorf("failed to check interface %s: %w", newUplink, err)
	}
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrInterfaceNotFound, newUplink)
	}

	tunnelPresent, err = m.inv.Exists(tunnel)
	if err != nil {
		return false, fmt.Errorf("failed to check interface %s: %w", tunnel, err)
	}
	return tunnelPresent, nil
}

// Migrate runs the full migration in fixed order: precondition check,
// snapshot, removal of stale rule variants, insertion of the new pair
// at positions 1 and 2, best-effort persistence.
func (m *Migrator) Migrate(ctx context.Context, oldUplink, newUplink, tunnel string) (*Report, error) {
	m.logger.Info("starting migration",
		slog.String("old", oldUplink),
		slog.String("new", newUplink),
		slog.String("tunnel", tunnel),
	)

	// 1. Preconditions, before any side effect.
	tunnelPresent, err := m.CheckPreconditions(newUplink, tunnel)
	if err != nil {
		return nil, err
	}

	report := &Report{TunnelAbsent: !tunnelPresent}
	if !tunnelPresent {
		m.logger.Warn("tunnel interface not present, rules take effect once it is created",
			slog.String("tunnel", tunnel),
		)
	}

	// 2. Snapshot. Mutation never starts without a backup on disk.
	handle, err := m.snap.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot failed, aborting before mutation: %w", err)
	}
	report.Backup = handle

	// 3. Remove stale variants: the old-uplink pair plus any copy of
	// the new pair left by a previous run, so reruns never stack rules.
	for _, rule := range removalTargets(tunnel, oldUplink, newUplink) {
		m.removeRule(ctx, rule, report)
	}

	// 4. Insert the new pair at the head of the chain, ahead of any
	// default-deny rules further down.
	for i, rule := range ForwardingPair(tunnel, newUplink) {
		pos := i + 1
		if err := m.store.InsertAt(ctx, pos, rule); err != nil {
			// A missing forwarding rule silently breaks connectivity,
			// so insertion failure is fatal. The snapshot enables
			// manual recovery from the partial state.
			return report, fmt.Errorf("failed to insert rule at position %d (backup: %s): %w",
				pos, report.Backup.Path, err)
		}
		report.Added = append(report.Added, rule)
		m.logger.Info("inserted rule",
			slog.Int("position", pos),
			slog.String("rule", rule.String()),
		)
	}

	// 5. Persist, best-effort.
	outcome, err := m.persister.Persist(ctx)
	report.Persist = outcome
	if err != nil {
		report.PersistWarning = err.Error()
		m.logger.Warn("persistence failed, rules are live but may not survive a restart",
			slog.String("strategy", m.persister.Name()),
			slog.Any("error", err),
		)
	}

	m.logger.Info("migration complete",
		slog.Int("removed", len(report.Removed)),
		slog.Int("added", len(report.Added)),
		slog.String("persist", report.Persist.String()),
	)

	return report, nil
}

// removeRule deletes a rule with a bounded retry for duplicates.
// Absence is expected, and delete errors are tolerated: the replacement
// insert decides the overall outcome.
func (m *Migrator) removeRule(ctx context.Context, rule rulestore.Rule, report *Report) {
	for attempt := 1; attempt <= deleteAttempts; attempt++ {
		removed, err := m.store.Delete(ctx, rule)
		if err != nil {
			m.logger.Warn("rule removal failed",
				slog.String("rule", rule.String()),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			return
		}
		if !removed {
			if attempt == 1 {
				m.logger.Info("rule already absent", slog.String("rule", rule.String()))
			}
			return
		}
		m.logger.Info("removed rule",
			slog.String("rule", rule.String()),
			slog.Int("attempt", attempt),
		)
		report.Removed = append(report.Removed, rule)
	}
}

// removalTargets lists the rule variants to delete before insertion,
// without duplicates when old and new uplink coincide.
func removalTargets(tunnel, oldUplink, newUplink string) []rulestore.Rule {
	oldPair := ForwardingPair(tunnel, oldUplink)
	targets := oldPair[:]

	if newUplink != oldUplink {
		newPair := ForwardingPair(tunnel, newUplink)
		targets = append(targets, newPair[:]...)
	}
	return targets
}
