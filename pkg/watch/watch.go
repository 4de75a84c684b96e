// Package watch re-runs tasks when the files they depend on change.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"

	"github.com/ngld/sitepipe/pkg/buildsys"
	"github.com/ngld/sitepipe/pkg/paths"
)

// Subscription runs Task whenever a file matching one of Patterns changes.
// Patterns are relative to the project root.
type Subscription struct {
	Task     string
	Patterns []string
}

// RunFunc executes the named task
type RunFunc func(ctx context.Context, task string) (*buildsys.Report, error)

// ReportFunc receives the report of every triggered run
type ReportFunc func(task string, report *buildsys.Report)

// DefaultLull is the quiet period after the last matching event before a task starts
const DefaultLull = 100 * time.Millisecond

// Watcher dispatches file system events to subscriptions. Each subscription runs at most one task at a
// time; events that arrive during a run queue exactly one more run.
type Watcher struct {
	Root     string
	Subs     []Subscription
	Run      RunFunc
	OnReport ReportFunc
	Lull     time.Duration

	fsw     *fsnotify.Watcher
	watched map[string]bool
	ready   chan struct{}
}

// New creates a watcher for the project in root
func New(root string, subs []Subscription, run RunFunc) *Watcher {
	return &Watcher{
		Root:    root,
		Subs:    subs,
		Run:     run,
		Lull:    DefaultLull,
		watched: make(map[string]bool),
		ready:   make(chan struct{}),
	}
}

// Ready is closed once all directories are watched
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Start watches until ctx is cancelled
func (w *Watcher) Start(ctx context.Context) error {
	logger := buildsys.Log(ctx)
	for _, sub := range w.Subs {
		for _, pattern := range sub.Patterns {
			if !doublestar.ValidatePattern(pattern) {
				return eris.Errorf("invalid watch pattern %s for task %s", pattern, sub.Task)
			}
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "failed to initialize file watcher")
	}
	defer fsw.Close()
	w.fsw = fsw

	for _, sub := range w.Subs {
		for _, pattern := range sub.Patterns {
			w.watchRecursive(ctx, w.existingBase(pattern))
		}
	}

	triggers := make([]chan struct{}, len(w.Subs))
	wg := sync.WaitGroup{}
	for idx, sub := range w.Subs {
		triggers[idx] = make(chan struct{}, 1)
		wg.Add(1)
		go func(sub Subscription, trigger chan struct{}) {
			defer wg.Done()
			w.loop(ctx, sub, trigger)
		}(sub, triggers[idx])
	}

	logger.Info().Msgf("Watching %d directories for %d tasks", len(w.watched), len(w.Subs))
	close(w.ready)

	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event, triggers)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("File watcher error")
		}
	}
}

// existingBase returns the static part of pattern or its closest existing parent
func (w *Watcher) existingBase(pattern string) string {
	base := filepath.Join(w.Root, filepath.FromSlash(paths.Base(pattern)))
	for {
		info, err := os.Stat(base)
		if err == nil && info.IsDir() {
			return base
		}

		parent := filepath.Dir(base)
		if parent == base {
			return base
		}
		base = parent
	}
}

func (w *Watcher) watchRecursive(ctx context.Context, dir string) {
	_ = filepath.WalkDir(dir, func(item string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}

		if w.watched[item] {
			return nil
		}

		err = w.fsw.Add(item)
		if err != nil {
			buildsys.Log(ctx).Warn().Err(err).Msgf("Failed to watch %s", item)
			return nil
		}
		w.watched[item] = true
		return nil
	})
}

// forget drops removed directories so they are watched again if they reappear
func (w *Watcher) forget(dir string) {
	prefix := dir + string(filepath.Separator)
	for item := range w.watched {
		if item == dir || strings.HasPrefix(item, prefix) {
			delete(w.watched, item)
		}
	}
}

// matches returns the indices of all subscriptions interested in file
func (w *Watcher) matches(file string) []int {
	rel, err := filepath.Rel(w.Root, file)
	if err != nil {
		return nil
	}
	rel = filepath.ToSlash(rel)

	result := []int{}
	for idx, sub := range w.Subs {
		for _, pattern := range sub.Patterns {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				result = append(result, idx)
				break
			}
		}
	}
	return result
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event, triggers []chan struct{}) {
	if event.Op == fsnotify.Chmod {
		return
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.forget(event.Name)
	}

	changed := []string{event.Name}
	if event.Has(fsnotify.Create) {
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			// files moved in together with a directory don't produce their own events
			w.watchRecursive(ctx, event.Name)
			_ = filepath.WalkDir(event.Name, func(item string, d os.DirEntry, err error) error {
				if err == nil && !d.IsDir() {
					changed = append(changed, item)
				}
				return nil
			})
		}
	}

	for _, file := range changed {
		for _, idx := range w.matches(file) {
			buildsys.Log(ctx).Debug().Str("file", file).Str("op", event.Op.String()).Msgf("Triggering %s", w.Subs[idx].Task)

			select {
			case triggers[idx] <- struct{}{}:
			default:
				// a run is already queued
			}
		}
	}
}

func (w *Watcher) loop(ctx context.Context, sub Subscription, trigger chan struct{}) {
	logger := buildsys.Log(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
		}

	lull:
		for {
			select {
			case <-ctx.Done():
				return
			case <-trigger:
			case <-time.After(w.Lull):
				break lull
			}
		}

		report, err := w.Run(ctx, sub.Task)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msgf("Task %s failed", sub.Task)
		}

		if report != nil && w.OnReport != nil {
			w.OnReport(sub.Task, report)
		}
	}
}
