package watch

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ogslab/tunshift/internal/inventory"
	"github.com/ogslab/tunshift/internal/logging"
)

func discardLogger() *slog.Logger {
	return logging.NewWithWriter(io.Discard, "info", "text")
}

func TestWatcherTriggersOnUplinkUp(t *testing.T) {
	links := make(chan inventory.Event, 4)
	triggered := make(chan string, 4)

	w, err := New("", "eth1", 10*time.Millisecond, links, func(reason string) {
		triggered <- reason
	}, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	// Unrelated device and a down transition must not trigger.
	links <- inventory.Event{Name: "eth0", Up: true}
	links <- inventory.Event{Name: "eth1", Up: false}

	select {
	case reason := <-triggered:
		t.Fatalf("unexpected trigger: %q", reason)
	case <-time.After(100 * time.Millisecond):
	}

	links <- inventory.Event{Name: "eth1", Up: true}

	select {
	case reason := <-triggered:
		if reason != "uplink up" {
			t.Errorf("trigger reason = %q, want \"uplink up\"", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no trigger after uplink came up")
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	links := make(chan inventory.Event, 8)
	triggered := make(chan string, 8)

	w, err := New("", "eth1", 50*time.Millisecond, links, func(reason string) {
		triggered <- reason
	}, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	// A burst of flapping collapses into one trigger.
	for i := 0; i < 5; i++ {
		links <- inventory.Event{Name: "eth1", Up: true}
	}

	select {
	case <-triggered:
	case <-time.After(2 * time.Second):
		t.Fatal("no trigger after burst")
	}

	select {
	case reason := <-triggered:
		t.Fatalf("burst produced more than one trigger: %q", reason)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherTriggersOnConfigWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("interfaces:\n  new: eth1\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	triggered := make(chan string, 4)
	w, err := New(path, "eth1", 10*time.Millisecond, nil, func(reason string) {
		triggered <- reason
	}, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("interfaces:\n  new: eth2\n"), 0o600); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case reason := <-triggered:
		if reason != "config changed" {
			t.Errorf("trigger reason = %q, want \"config changed\"", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no trigger after config write")
	}
}

func TestWatcherStopsCleanly(t *testing.T) {
	links := make(chan inventory.Event)
	w, err := New("", "eth1", 10*time.Millisecond, links, func(string) {}, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
