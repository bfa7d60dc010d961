package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogslab/tunshift/internal/inventory"
	"github.com/ogslab/tunshift/internal/logging"
	"github.com/ogslab/tunshift/internal/persist"
	"github.com/ogslab/tunshift/internal/rulestore"
	"github.com/ogslab/tunshift/internal/snapshot"
)

// fakeInventory serves a fixed device list.
type fakeInventory struct {
	devices map[string]bool
}

func (f *fakeInventory) Exists(name string) (bool, error) {
	return f.devices[name], nil
}

func (f *fakeInventory) List() ([]inventory.Interface, error) {
	var out []inventory.Interface
	for name := range f.devices {
		out = append(out, inventory.Interface{Name: name, Up: true})
	}
	return out, nil
}

// fakeSnapshotter records whether and when Save was called.
type fakeSnapshotter struct {
	log  *[]string
	fail bool
}

func (f *fakeSnapshotter) Save(ctx context.Context) (snapshot.Handle, error) {
	if f.fail {
		return snapshot.Handle{}, errors.New("disk full")
	}
	*f.log = append(*f.log, "snapshot")
	return snapshot.Handle{Path: "/tmp/tunshift-backup-test.rules", CapturedAt: time.Now()}, nil
}

// fakePersister records Persist calls.
type fakePersister struct {
	outcome persist.Outcome
	err     error
	calls   int
}

func (f *fakePersister) Name() string { return "fake" }

func (f *fakePersister) Persist(ctx context.Context) (persist.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

// recordingStore wraps a Store and logs mutations in call order.
type recordingStore struct {
	inner      rulestore.Store
	log        *[]string
	failInsert bool
}

func (s *recordingStore) List(ctx context.Context) ([]rulestore.Rule, error) {
	return s.inner.List(ctx)
}

func (s *recordingStore) InsertAt(ctx context.Context, pos int, rule rulestore.Rule) error {
	if s.failInsert {
		return errors.New("insert rejected")
	}
	*s.log = append(*s.log, fmt.Sprintf("insert@%d", pos))
	return s.inner.InsertAt(ctx, pos, rule)
}

func (s *recordingStore) Delete(ctx context.Context, rule rulestore.Rule) (bool, error) {
	removed, err := s.inner.Delete(ctx, rule)
	if removed {
		*s.log = append(*s.log, "delete")
	}
	return removed, err
}

func (s *recordingStore) Exists(ctx context.Context, rule rulestore.Rule) (bool, error) {
	return s.inner.Exists(ctx, rule)
}

func (s *recordingStore) Close() error { return s.inner.Close() }

type harness struct {
	migrator  *Migrator
	store     *recordingStore
	snap      *fakeSnapshotter
	persister *fakePersister
	log       []string
}

func newHarness(t *testing.T, devices []string, seed []rulestore.Rule) *harness {
	t.Helper()

	h := &harness{}
	present := make(map[string]bool)
	for _, d := range devices {
		present[d] = true
	}

	h.store = &recordingStore{inner: rulestore.NewMemoryStore(seed), log: &h.log}
	h.snap = &fakeSnapshotter{log: &h.log}
	h.persister = &fakePersister{outcome: persist.Persisted}

	logger := logging.NewWithWriter(io.Discard, "debug", "text")
	h.migrator = New(h.store, &fakeInventory{devices: present}, h.snap, h.persister, logger)
	return h
}

func TestMigrateCleanChain(t *testing.T) {
	// Scenario: inventory {eth1, ogstun}, no prior rules, old uplink wlan0.
	h := newHarness(t, []string{"eth1", "ogstun"}, nil)

	report, err := h.migrator.Migrate(context.Background(), "wlan0", "eth1", "ogstun")
	require.NoError(t, err)

	assert.Empty(t, report.Removed)
	wantAdded := ForwardingPair("ogstun", "eth1")
	if diff := cmp.Diff(wantAdded[:], report.Added); diff != "" {
		t.Errorf("Added mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, report.TunnelAbsent)
	assert.Equal(t, persist.Persisted, report.Persist)
	assert.Equal(t, 1, h.persister.calls)

	rules, err := h.store.List(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff(wantAdded[:], rules); diff != "" {
		t.Errorf("final chain mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	h := newHarness(t, []string{"eth1", "ogstun"}, nil)
	ctx := context.Background()

	_, err := h.migrator.Migrate(ctx, "wlan0", "eth1", "ogstun")
	require.NoError(t, err)
	first, err := h.store.List(ctx)
	require.NoError(t, err)

	report, err := h.migrator.Migrate(ctx, "wlan0", "eth1", "ogstun")
	require.NoError(t, err)
	second, err := h.store.List(ctx)
	require.NoError(t, err)

	// The second run replaces its own rules instead of stacking them.
	assert.Len(t, report.Removed, 2)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second run changed the chain (-first +second):\n%s", diff)
	}
	assert.Len(t, second, 2)
}

func TestMigrateReplacesOldRules(t *testing.T) {
	oldPair := ForwardingPair("ogstun", "wlan0")
	foreign := rulestore.Rule{Target: "DROP", Raw: "-A FORWARD -p tcp --dport 22 -j DROP"}
	seed := []rulestore.Rule{oldPair[0], foreign, oldPair[1]}

	h := newHarness(t, []string{"eth1", "ogstun", "wlan0"}, seed)

	report, err := h.migrator.Migrate(context.Background(), "wlan0", "eth1", "ogstun")
	require.NoError(t, err)
	assert.Len(t, report.Removed, 2)

	rules, err := h.store.List(context.Background())
	require.NoError(t, err)

	newPair := ForwardingPair("ogstun", "eth1")
	want := []rulestore.Rule{newPair[0], newPair[1], foreign}
	if diff := cmp.Diff(want, rules); diff != "" {
		t.Errorf("final chain mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrateClearsAccidentalDuplicates(t *testing.T) {
	oldPair := ForwardingPair("ogstun", "wlan0")
	// An interrupted earlier run left every old rule twice.
	seed := []rulestore.Rule{oldPair[0], oldPair[1], oldPair[0], oldPair[1]}

	h := newHarness(t, []string{"eth1", "ogstun"}, seed)

	report, err := h.migrator.Migrate(context.Background(), "wlan0", "eth1", "ogstun")
	require.NoError(t, err)
	assert.Len(t, report.Removed, 4)

	rules, err := h.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}

func TestMigrateMissingUplinkHasNoSideEffects(t *testing.T) {
	h := newHarness(t, []string{"ogstun"}, nil)

	_, err := h.migrator.Migrate(context.Background(), "wlan0", "eth1", "ogstun")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInterfaceNotFound))

	// No snapshot, no mutation, no persistence.
	assert.Empty(t, h.log)
	assert.Zero(t, h.persister.calls)
}

func TestMigrateSnapshotFailureAbortsBeforeMutation(t *testing.T) {
	h := newHarness(t, []string{"eth1", "ogstun"}, nil)
	h.snap.fail = true

	_, err := h.migrator.Migrate(context.Background(), "wlan0", "eth1", "ogstun")
	require.Error(t, err)

	rules, listErr := h.store.List(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, rules)
	assert.Empty(t, h.log)
	assert.Zero(t, h.persister.calls)
}

func TestMigrateSnapshotPrecedesMutation(t *testing.T) {
	oldPair := ForwardingPair("ogstun", "wlan0")
	h := newHarness(t, []string{"eth1", "ogstun"}, oldPair[:])

	_, err := h.migrator.Migrate(context.Background(), "wlan0", "eth1", "ogstun")
	require.NoError(t, err)

	require.NotEmpty(t, h.log)
	assert.Equal(t, "snapshot", h.log[0])
	for _, op := range h.log[1:] {
		assert.NotEqual(t, "snapshot", op)
	}
}

func TestMigrateInsertFailureIsFatal(t *testing.T) {
	h := newHarness(t, []string{"eth1", "ogstun"}, nil)
	h.store.failInsert = true

	report, err := h.migrator.Migrate(context.Background(), "wlan0", "eth1", "ogstun")
	require.Error(t, err)

	// The partial report still carries the backup for manual recovery.
	require.NotNil(t, report)
	assert.NotEmpty(t, report.Backup.Path)
	assert.Empty(t, report.Added)
	assert.Zero(t, h.persister.calls)
}

func TestMigrateMissingTunnelIsWarningOnly(t *testing.T) {
	h := newHarness(t, []string{"eth1"}, nil)

	report, err := h.migrator.Migrate(context.Background(), "wlan0", "eth1", "ogstun")
	require.NoError(t, err)
	assert.True(t, report.TunnelAbsent)
	assert.Len(t, report.Added, 2)
}

func TestMigratePersistFailureIsNonFatal(t *testing.T) {
	h := newHarness(t, []string{"eth1", "ogstun"}, nil)
	h.persister.outcome = persist.Skipped
	h.persister.err = errors.New("service unavailable")

	report, err := h.migrator.Migrate(context.Background(), "wlan0", "eth1", "ogstun")
	require.NoError(t, err)
	assert.Equal(t, persist.Skipped, report.Persist)
	assert.Contains(t, report.PersistWarning, "service unavailable")
}

func TestCheckPreconditions(t *testing.T) {
	testCases := []struct {
		name        string
		devices     []string
		newUplink   string
		tunnel      string
		wantTunnel  bool
		wantMissing bool
	}{
		{"both present", []string{"eth1", "ogstun"}, "eth1", "ogstun", true, false},
		{"tunnel absent is fine", []string{"eth1"}, "eth1", "ogstun", false, false},
		{"uplink absent fails", []string{"ogstun"}, "eth1", "ogstun", false, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.devices, nil)
			tunnelPresent, err := h.migrator.CheckPreconditions(tc.newUplink, tc.tunnel)
			if tc.wantMissing {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInterfaceNotFound))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantTunnel, tunnelPresent)
		})
	}
}

func TestForwardingPairSemantics(t *testing.T) {
	pair := ForwardingPair("ogstun", "eth1")

	// Tunnel egress is stateless.
	assert.Equal(t, "ogstun", pair[0].InInterface)
	assert.Equal(t, "eth1", pair[0].OutInterface)
	assert.Empty(t, pair[0].ConnState)
	assert.Equal(t, rulestore.TargetAccept, pair[0].Target)

	// Return traffic is accepted only for established or related flows.
	assert.Equal(t, "eth1", pair[1].InInterface)
	assert.Equal(t, "ogstun", pair[1].OutInterface)
	assert.Equal(t, "ESTABLISHED,RELATED", pair[1].ConnState)
	assert.Equal(t, rulestore.TargetAccept, pair[1].Target)
}
