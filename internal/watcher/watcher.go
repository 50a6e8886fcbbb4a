// Package watcher turns fsnotify events under a set of source directories
// into debounced batches of change events.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/EphraimElvis/coralite-io/internal/errors"
	"github.com/EphraimElvis/coralite-io/internal/logging"
)

// FileWatcher watches directory trees and delivers debounced changes.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	logger    logging.Logger

	mutex         sync.RWMutex
	roots         []string
	filters       []FileFilter
	handlers      []ChangeHandler
	errorHandlers []ErrorHandler

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter reports whether a changed path is of interest. It is given the
// path relative to the watch root the change was seen under. All filters must
// accept a path for it to be delivered.
type FileFilter func(path string) bool

// ChangeHandler handles a debounced batch of changes.
type ChangeHandler func(events []ChangeEvent) error

// ErrorHandler is called with errors reported by the underlying watcher.
type ErrorHandler func(err error)

// NewFileWatcher creates a watcher delivering batches debounceDelay after the
// last change.
func NewFileWatcher(debounceDelay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewWatchError(err)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &FileWatcher{
		watcher:   watcher,
		debouncer: NewDebouncer(debounceDelay),
		logger:    logger.WithComponent("watcher"),
	}, nil
}

// AddFilter adds a file filter
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// OnError adds a handler for watcher errors. Handlers run on the watch loop
// and must not call Stop.
func (fw *FileWatcher) OnError(handler ErrorHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.errorHandlers = append(fw.errorHandlers, handler)
}

// AddRecursive watches root and every directory below it. Directories created
// later are picked up as they appear.
func (fw *FileWatcher) AddRecursive(root string) error {
	root = filepath.Clean(root)
	if err := fw.addTree(root); err != nil {
		return err
	}

	fw.mutex.Lock()
	fw.roots = append(fw.roots, root)
	fw.mutex.Unlock()

	return nil
}

// addTree watches root and the non-hidden directories below it.
func (fw *FileWatcher) addTree(root string) error {
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHidden(d.Name()) {
			return filepath.SkipDir
		}

		return fw.watcher.Add(path)
	})
	if err != nil {
		return errors.NewWatchError(err).WithFile(root)
	}

	return nil
}

// WatchList returns the directories currently watched.
func (fw *FileWatcher) WatchList() []string {
	return fw.watcher.WatchList()
}

// Start starts delivering events until ctx is done or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) error {
	ctx, fw.cancel = context.WithCancel(ctx)

	fw.wg.Add(3)
	go func() {
		defer fw.wg.Done()
		fw.debouncer.Start(ctx)
	}()
	go func() {
		defer fw.wg.Done()
		fw.processEvents(ctx)
	}()
	go func() {
		defer fw.wg.Done()
		fw.watchLoop(ctx)
	}()

	fw.logger.Debug(ctx, "Watching", "directories", len(fw.watcher.WatchList()))

	return nil
}

// Stop stops the file watcher and cleans up resources. It is safe to call
// more than once.
func (fw *FileWatcher) Stop() error {
	fw.stopOnce.Do(func() {
		if fw.cancel != nil {
			fw.cancel()
		}
		fw.debouncer.Stop()
		fw.stopErr = fw.watcher.Close()
		fw.wg.Wait()
	})

	return fw.stopErr
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.handleError(ctx, err)
		}
	}
}

func (fw *FileWatcher) handleError(ctx context.Context, err error) {
	werr := errors.NewWatchError(err)
	fw.logger.Error(ctx, werr, "File watcher error")

	fw.mutex.RLock()
	handlers := fw.errorHandlers
	fw.mutex.RUnlock()

	for _, handler := range handlers {
		handler(werr)
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	// Attribute-only changes do not alter content.
	if event.Op == fsnotify.Chmod {
		return
	}

	info, statErr := os.Stat(event.Name)

	if event.Has(fsnotify.Create) && statErr == nil && info.IsDir() {
		if isHidden(info.Name()) {
			return
		}
		if err := fw.addTree(filepath.Clean(event.Name)); err != nil {
			fw.logger.Warn(ctx, err, "Failed to watch new directory", "path", event.Name)
		}
		return
	}

	fw.mutex.RLock()
	filters := fw.filters
	fw.mutex.RUnlock()

	rel := fw.relative(event.Name)
	for _, filter := range filters {
		if !filter(rel) {
			return
		}
	}

	changeEvent := ChangeEvent{
		Type: eventType(event.Op),
		Path: event.Name,
	}
	if statErr == nil {
		changeEvent.ModTime = info.ModTime()
		changeEvent.Size = info.Size()
	}

	if !fw.debouncer.Add(changeEvent) {
		fw.logger.Debug(ctx, "Dropped change event", "path", event.Name)
	}
}

// relative returns path relative to the closest watch root containing it, or
// path itself when no root does.
func (fw *FileWatcher) relative(path string) string {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()

	best := path
	found := false
	for _, root := range fw.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if !found || len(rel) < len(best) {
			best, found = rel, true
		}
	}

	return best
}

func eventType(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventTypeCreated
	case op.Has(fsnotify.Write):
		return EventTypeModified
	case op.Has(fsnotify.Remove):
		return EventTypeDeleted
	case op.Has(fsnotify.Rename):
		return EventTypeRenamed
	default:
		return EventTypeModified
	}
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-fw.debouncer.Output():
			fw.mutex.RLock()
			handlers := fw.handlers
			fw.mutex.RUnlock()

			for _, handler := range handlers {
				if err := handler(events); err != nil {
					fw.logger.Warn(ctx, err, "Change handler failed", "events", len(events))
				}
			}
		}
	}
}

// ExtensionFilter accepts paths ending in one of exts (".html", ".css").
func ExtensionFilter(exts ...string) FileFilter {
	return func(path string) bool {
		ext := strings.ToLower(filepath.Ext(path))
		for _, e := range exts {
			if ext == e {
				return true
			}
		}
		return false
	}
}

// NoHiddenFilter rejects dotfiles and anything inside a dot directory.
func NoHiddenFilter(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if isHidden(part) {
			return false
		}
	}
	return true
}

// NoEditorTempFilter rejects editor backup and swap files.
func NoEditorTempFilter(path string) bool {
	base := filepath.Base(path)
	return !strings.HasSuffix(base, "~") &&
		!strings.HasSuffix(base, ".swp") &&
		!strings.HasPrefix(base, "#")
}

func isHidden(name string) bool {
	return len(name) > 1 && name[0] == '.' && name != ".."
}
