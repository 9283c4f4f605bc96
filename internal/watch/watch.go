// Package watch triggers re-runs when task input files change.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces editor save bursts into a single trigger.
const DefaultDebounce = 500 * time.Millisecond

// Watcher observes a set of directories and invokes a callback after file
// changes settle. Directories rather than individual files are watched so
// that atomic-save editors (write temp, rename over target) are seen.
type Watcher struct {
	Log      *log.Logger
	Debounce time.Duration

	fsw  *fsnotify.Watcher
	dirs map[string]struct{}
}

// New creates a Watcher over the directories containing the given paths.
// Paths that are themselves directories are watched directly.
func New(logger *log.Logger, paths []string) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, errors.New("nothing to watch")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		Log:      logger,
		Debounce: DefaultDebounce,
		fsw:      fsw,
		dirs:     make(map[string]struct{}),
	}
	for _, p := range paths {
		dir := p
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			dir = filepath.Dir(p)
		}
		w.dirs[dir] = struct{}{}
	}
	for _, dir := range w.Dirs() {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Dirs returns the watched directories, sorted.
func (w *Watcher) Dirs() []string {
	out := make([]string, 0, len(w.dirs))
	for dir := range w.dirs {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}

// Close releases the underlying OS watches.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run blocks until ctx is done, invoking onChange after each debounced
// burst of filesystem events. onChange runs on the watch goroutine, so a
// long-running callback delays (but never drops) subsequent triggers.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context)) error {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if !relevant(ev) {
				continue
			}
			w.Log.Debug("change detected", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.Debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					<-fire
				}
				timer.Reset(w.Debounce)
			}

		case <-fire:
			timer = nil
			fire = nil
			onChange(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			w.Log.Warn("watch error", "err", err)
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	return ev.Op.Has(fsnotify.Write) ||
		ev.Op.Has(fsnotify.Create) ||
		ev.Op.Has(fsnotify.Remove) ||
		ev.Op.Has(fsnotify.Rename)
}
