// Package watch re-triggers migration when the uplink device or the
// configuration changes.
package watch

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ogslab/tunshift/internal/inventory"
)

// Watcher observes the config file and link updates and invokes a
// callback, debounced, when the configured uplink comes up or the
// config is rewritten.
type Watcher struct {
	configPath string
	uplink     string
	debounce   time.Duration
	onTrigger  func(reason string)
	links      <-chan inventory.Event
	fsw        *fsnotify.Watcher
	stopCh     chan struct{}
	logger     *slog.Logger
}

// New creates a Watcher. links may be nil when link update subscription
// is unavailable; configPath may be empty to skip file watching.
func New(configPath, uplink string, debounce time.Duration, links <-chan inventory.Event, onTrigger func(reason string), logger *slog.Logger) (*Watcher, error) {
	var fsw *fsnotify.Watcher
	if configPath != "" {
		var err error
		fsw, err = fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
		}
		if err := fsw.Add(configPath); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch config file: %w", err)
		}
	}

	return &Watcher{
		configPath: configPath,
		uplink:     uplink,
		debounce:   debounce,
		onTrigger:  onTrigger,
		links:      links,
		fsw:        fsw,
		stopCh:     make(chan struct{}),
		logger:     logger,
	}, nil
}

// Start begins watching. Events within the debounce window collapse
// into a single trigger carrying the latest reason.
func (w *Watcher) Start() error {
	var fsEvents chan fsnotify.Event
	var fsErrors chan error
	if w.fsw != nil {
		fsEvents = w.fsw.Events
		fsErrors = w.fsw.Errors
	}

	go func() {
		var debounceTimer *time.Timer
		var reason string

		schedule := func(r string) {
			reason = r
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				w.onTrigger(reason)
			})
		}

		for {
			select {
			case event, ok := <-fsEvents:
				if !ok {
					return
				}

				// Only care about Write events
				if event.Op&fsnotify.Write == fsnotify.Write {
					w.logger.Info("config file change detected",
						slog.String("path", event.Name),
						slog.String("op", event.Op.String()),
					)
					schedule("config changed")
				}

			case evt, ok := <-w.links:
				if !ok {
					w.links = nil
					continue
				}
				if evt.Name == w.uplink && evt.Up {
					w.logger.Info("uplink interface came up",
						slog.String("interface", evt.Name),
					)
					schedule("uplink up")
				}

			case err, ok := <-fsErrors:
				if !ok {
					return
				}
				w.logger.Error("watcher error", slog.Any("error", err))

			case <-w.stopCh:
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				w.logger.Info("watcher stopped")
				return
			}
		}
	}()

	return nil
}

// Stop stops watching.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}
