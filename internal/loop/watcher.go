package loop

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// SessionWatcher watches the Copilot session-state directory and nudges the
// engine when an event log or workspace descriptor changes, so status flips
// surface without waiting for the next interval.
type SessionWatcher struct {
	watcher     *fsnotify.Watcher
	nudge       func()
	debounceDur time.Duration
	log         zerolog.Logger
}

// NewSessionWatcher creates a watcher rooted at the session-state directory.
// Returns nil when the directory does not exist or fsnotify cannot start;
// the engine then relies on interval polling alone.
func NewSessionWatcher(stateDir string, nudge func(), log zerolog.Logger) *SessionWatcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("failed to create fsnotify watcher")
		return nil
	}

	w := &SessionWatcher{
		watcher:     watcher,
		nudge:       nudge,
		debounceDur: 500 * time.Millisecond,
		log:         log,
	}

	if err := w.addRecursive(stateDir); err != nil {
		w.log.Debug().Err(err).Str("dir", stateDir).Msg("session-state directory not watchable")
		_ = watcher.Close()
		return nil
	}

	return w
}

// Run consumes filesystem events until ctx is cancelled, collapsing bursts
// into a single nudge per debounce window.
func (w *SessionWatcher) Run(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(event.Name) {
				continue
			}

			// New session directories need their own watch.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(event.Name)
				}
			}

			w.log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("session state changed")

			if !w.drainUntilQuiet(ctx) {
				return
			}
			w.nudge()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("watcher error")
		}
	}
}

// drainUntilQuiet swallows follow-up events until the debounce window passes
// without one. Reports false when the context or event channel closed.
func (w *SessionWatcher) drainUntilQuiet(ctx context.Context) bool {
	debounce := time.NewTimer(w.debounceDur)
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-w.watcher.Events:
			if !ok {
				return false
			}
			if !debounce.Stop() {
				<-debounce.C
			}
			debounce.Reset(w.debounceDur)
		case <-debounce.C:
			return true
		}
	}
}

func (w *SessionWatcher) addRecursive(path string) error {
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(p)
		}
		return nil
	})
}

func (w *SessionWatcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	for _, suffix := range []string{".tmp", ".lock", ".swp", "~"} {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return false
}
