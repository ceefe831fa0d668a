// Package watch re-runs work whenever one of a set of input files changes.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce collapses the burst of events a single save produces.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reports writes to and creations of a fixed set of files. Parent
// directories are watched so that files replaced by rename are still seen.
type Watcher struct {
	w        *fsnotify.Watcher
	files    map[string]bool
	logger   *logrus.Logger
	Debounce time.Duration
}

// New watches files. Paths are made absolute; URLs must be filtered out by
// the caller.
func New(files []string, logger *logrus.Logger) (*Watcher, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to watch")
	}
	if logger == nil {
		logger = logrus.New()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	w := &Watcher{w: fw, files: make(map[string]bool), logger: logger, Debounce: DefaultDebounce}
	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("resolving %s: %w", f, err)
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	return w, nil
}

// Files returns the watched files, sorted.
func (w *Watcher) Files() []string {
	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Run calls fn with the changed files after each quiet period that follows a
// change, until ctx is done. An error from fn is logged and watching goes on.
func (w *Watcher) Run(ctx context.Context, fn func(ctx context.Context, changed []string) error) error {
	pending := make(map[string]bool)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name, err := filepath.Abs(ev.Name)
			if err != nil || !w.files[name] {
				continue
			}
			w.logger.WithFields(logrus.Fields{"file": name, "op": ev.Op.String()}).Debug("input changed")
			pending[name] = true
			if timer == nil {
				timer = time.NewTimer(w.Debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.Debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			changed := make([]string, 0, len(pending))
			for f := range pending {
				changed = append(changed, f)
			}
			sort.Strings(changed)
			pending = make(map[string]bool)
			if err := fn(ctx, changed); err != nil {
				w.logger.WithError(err).Error("re-run failed")
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("watch error")
		}
	}
}

func (w *Watcher) Close() error {
	return w.w.Close()
}
