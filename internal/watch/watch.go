// Package watch rebuilds on file changes. Events are aggregated until the
// tree has been quiet for the aggregate timeout, then one rebuild runs with
// every path that changed. Rebuilds never overlap.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultAggregateTimeout matches webpack's watchOptions default.
const DefaultAggregateTimeout = 600 * time.Millisecond

// RebuildFunc runs one rebuild for the changed paths. Errors are logged and
// the watcher keeps running.
type RebuildFunc func(ctx context.Context, changed []string) error

// Options configures a Watcher.
type Options struct {
	// Roots are watched recursively.
	Roots []string
	// Files are watched individually, e.g. a manifest outside every root.
	Files []string
	// Ignored names skip any directory or file with that name below a root.
	Ignored []string
	// Exclude skips these absolute paths and everything under them.
	Exclude          []string
	AggregateTimeout time.Duration
}

// Stats tracks watcher activity.
type Stats struct {
	Events    int       `json:"events"`
	Rebuilds  int       `json:"rebuilds"`
	Coalesced int       `json:"coalesced"`
	Failures  int       `json:"failures"`
	Errors    int       `json:"errors"`
	LastEvent time.Time `json:"last_event"`
	LastPath  string    `json:"last_path"`
	// Watching and Dirs describe the live watch set.
	Watching bool `json:"watching"`
	Dirs     int  `json:"dirs"`
}

// Watcher watches a set of trees and triggers rebuilds.
type Watcher struct {
	mu      sync.RWMutex
	watcher *fsnotify.Watcher
	opts    Options
	files   map[string]struct{}
	rebuild RebuildFunc
	running bool
	stats   Stats
}

// New creates a watcher. Nothing is watched until Run.
func New(opts Options, rebuild RebuildFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if opts.AggregateTimeout <= 0 {
		opts.AggregateTimeout = DefaultAggregateTimeout
	}

	roots := make([]string, len(opts.Roots))
	for i, root := range opts.Roots {
		roots[i] = filepath.Clean(root)
	}
	opts.Roots = roots

	w := &Watcher{
		watcher: fsw,
		opts:    opts,
		files:   make(map[string]struct{}, len(opts.Files)),
		rebuild: rebuild,
	}
	for _, f := range opts.Files {
		w.files[filepath.Clean(f)] = struct{}{}
	}
	return w, nil
}

// Run watches until ctx is cancelled. It waits for an in-flight rebuild
// before returning.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		if err := w.watcher.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing file watcher")
		}
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if err := w.addAll(); err != nil {
		return err
	}

	var (
		pending  = make(map[string]struct{})
		queued   map[string]struct{}
		settle   <-chan time.Time
		building bool
		done     = make(chan struct{})
	)

	start := func(batch map[string]struct{}) {
		building = true
		changed := sortedKeys(batch)
		go func() {
			defer func() { done <- struct{}{} }()
			w.runRebuild(ctx, changed)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			if building {
				<-done
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("file watcher event channel closed")
			}
			if !w.handleEvent(event) {
				continue
			}
			pending[filepath.Clean(event.Name)] = struct{}{}
			settle = time.After(w.opts.AggregateTimeout)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("file watcher error channel closed")
			}
			log.Error().Err(err).Msg("File watcher error")
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-settle:
			settle = nil
			batch := pending
			pending = make(map[string]struct{})
			if building {
				if queued == nil {
					queued = make(map[string]struct{})
				}
				for p := range batch {
					queued[p] = struct{}{}
				}
				w.mu.Lock()
				w.stats.Coalesced++
				w.mu.Unlock()
				continue
			}
			start(batch)

		case <-done:
			building = false
			if len(queued) > 0 {
				batch := queued
				queued = nil
				start(batch)
			}
		}
	}
}

func (w *Watcher) runRebuild(ctx context.Context, changed []string) {
	log.Info().Strs("changed", changed).Msg("Change detected, rebuilding")

	w.mu.Lock()
	w.stats.Rebuilds++
	w.mu.Unlock()

	if err := w.rebuild(ctx, changed); err != nil {
		w.mu.Lock()
		w.stats.Failures++
		w.mu.Unlock()
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("Rebuild failed")
		}
	}
}

// handleEvent reports whether event should trigger a rebuild. New
// directories under a root are added to the watch list.
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	path := filepath.Clean(event.Name)
	if !w.relevant(path) {
		return false
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addTree(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("Failed to watch new directory")
			}
		}
	}

	log.Debug().Str("path", path).Str("op", event.Op.String()).Msg("File event")

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEvent = time.Now()
	w.stats.LastPath = path
	w.mu.Unlock()
	return true
}

// relevant reports whether path is a watched file or lies below a root
// without passing through an ignored or excluded path.
func (w *Watcher) relevant(path string) bool {
	if _, ok := w.files[path]; ok {
		return true
	}
	if isEditorTemp(filepath.Base(path)) || w.excluded(path) {
		return false
	}
	for _, root := range w.opts.Roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if !w.ignoredRel(rel) {
			return true
		}
	}
	return false
}

func (w *Watcher) ignoredRel(rel string) bool {
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		for _, name := range w.opts.Ignored {
			if seg == name {
				return true
			}
		}
	}
	return false
}

func (w *Watcher) excluded(path string) bool {
	for _, ex := range w.opts.Exclude {
		ex = filepath.Clean(ex)
		if path == ex || strings.HasPrefix(path, ex+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func isEditorTemp(name string) bool {
	return strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") ||
		strings.HasPrefix(name, ".#")
}

func (w *Watcher) addAll() error {
	watched := 0
	for _, root := range w.opts.Roots {
		if _, err := os.Stat(root); err != nil {
			log.Warn().Str("path", root).Msg("Watch root does not exist, skipping")
			continue
		}
		if err := w.addTree(root); err != nil {
			return err
		}
		watched++
	}

	dirs := make(map[string]struct{})
	for f := range w.files {
		dirs[filepath.Dir(f)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			log.Warn().Err(err).Str("path", dir).Msg("Failed to watch directory")
			continue
		}
		watched++
	}

	if watched == 0 {
		return errors.New("nothing to watch")
	}
	log.Info().Strs("roots", w.opts.Roots).Msg("Watching for changes")
	return nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Directories can vanish while walking.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && !w.relevant(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// Stats returns the current watcher statistics.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	stats := w.stats
	stats.Watching = w.running
	if w.running {
		stats.Dirs = len(w.watcher.WatchList())
	}
	return stats
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
