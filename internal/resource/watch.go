package resource

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"
	"github.com/marmos91/coapfs/internal/logger"
)

const changeBuffer = 256

// Watcher marks resources dirty when their backing files are modified by
// someone other than the server, and reports the affected paths.
//
// Only directories that hold a registered resource are watched. Files
// created after startup are not registered; the namespace stays fixed.
type Watcher struct {
	fsw      *fsnotify.Watcher
	root     string
	registry *Registry
	changes  chan string
}

// NewWatcher watches every directory containing a resource of registry.
func NewWatcher(root string, registry *Registry) (*Watcher, error) {
	root = filepath.Clean(root)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	dirs := make(map[string]struct{})
	for _, p := range registry.Paths() {
		dirs[filepath.Dir(filepath.Join(root, filepath.FromSlash(p)))] = struct{}{}
	}
	sorted := make([]string, 0, len(dirs))
	for d := range dirs {
		sorted = append(sorted, d)
	}
	sort.Strings(sorted)

	for _, d := range sorted {
		if err := fsw.Add(d); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", d, err)
		}
	}
	logger.Debug("Watching %d director(ies) under %s", len(sorted), root)

	return &Watcher{
		fsw:      fsw,
		root:     root,
		registry: registry,
		changes:  make(chan string, changeBuffer),
	}, nil
}

// Changes delivers the relative path of every resource marked dirty.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Run processes file events until ctx is cancelled, then releases the
// watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("File watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	entry, ok := w.registry.Lookup(rel)
	if !ok {
		return
	}
	if m, ok := entry.Handler.(interface{ MarkDirty() }); ok {
		m.MarkDirty()
	}

	select {
	case w.changes <- rel:
	default:
		logger.Debug("Change queue full, dropping event for %s", rel)
	}
}
