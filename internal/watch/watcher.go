// Package watch turns file system events under a project into settled
// batches of changed and removed sources.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nokeedev/objtx/pkg/logger"
	"github.com/nokeedev/objtx/pkg/utils"
)

// DefaultSettlingDelay is how long the tree must be quiet before a batch is emitted
const DefaultSettlingDelay = 200 * time.Millisecond

// Batch is one settled set of changes. Sources exist on disk; Removed do not.
type Batch struct {
	Sources []string
	Removed []string
}

// Empty reports whether the batch carries no change
func (b Batch) Empty() bool {
	return len(b.Sources) == 0 && len(b.Removed) == 0
}

// Watcher watches every directory of a source set recursively
type Watcher struct {
	watcher  *fsnotify.Watcher
	sources  *utils.SourceSet
	settling time.Duration
	logger   logger.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer

	batches chan Batch
	sendMu  sync.RWMutex
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// New creates a watcher for sources. A settling delay of zero or less uses
// DefaultSettlingDelay.
func New(sources *utils.SourceSet, settling time.Duration, log logger.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if settling <= 0 {
		settling = DefaultSettlingDelay
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Watcher{
		watcher:  fsw,
		sources:  sources,
		settling: settling,
		logger:   log,
		pending:  make(map[string]struct{}),
		batches:  make(chan Batch, 16),
		done:     make(chan struct{}),
	}, nil
}

// Batches delivers settled batches until the watcher is closed
func (w *Watcher) Batches() <-chan Batch {
	return w.batches
}

// Start registers the source tree and processes events until ctx is done
// or Close is called
func (w *Watcher) Start(ctx context.Context) error {
	root, err := filepath.Abs(w.sources.Root())
	if err != nil {
		return err
	}
	if err := w.addDirectory(root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}

	w.wg.Add(1)
	go w.processEvents(ctx)

	w.logger.Info(fmt.Sprintf("Watching %s for source changes", root))
	return nil
}

// Close stops the watcher and closes the batch channel
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		w.sendMu.Lock()
		w.closed = true
		close(w.batches)
		w.sendMu.Unlock()
	})
	return err
}

// addDirectory watches dir and its subdirectories, skipping excluded trees
func (w *Watcher) addDirectory(dir string) error {
	if w.sources.SkipsDir(dir) {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		subdir := filepath.Join(dir, entry.Name())
		if err := w.addDirectory(subdir); err != nil {
			w.logger.Warn(fmt.Sprintf("Failed to watch subdirectory %s: %v", subdir, err))
		}
	}
	return nil
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error(fmt.Sprintf("Watcher error: %v", err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addDirectory(event.Name); err != nil {
				w.logger.Warn(fmt.Sprintf("Failed to watch directory %s: %v", event.Name, err))
			}
			// Files may have landed before the directory was registered
			w.scanDirectory(event.Name)
			return
		}
	}

	if !w.sources.Contains(event.Name) {
		return
	}
	w.logger.Debug("Source changed",
		logger.WithField("path", event.Name),
		logger.WithField("op", event.Op.String()))
	w.schedule(event.Name)
}

func (w *Watcher) scanDirectory(dir string) {
	if w.sources.SkipsDir(dir) {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if w.sources.SkipsDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.sources.Contains(path) {
			w.schedule(path)
		}
		return nil
	})
}

// schedule records path and restarts the settling timer
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.settling, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	batch := classify(paths)
	if batch.Empty() {
		return
	}

	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.batches <- batch:
	case <-w.done:
	}
}

// classify splits paths by whether they still exist once the tree settled
func classify(paths []string) Batch {
	var batch Batch
	for _, path := range paths {
		if info, err := os.Stat(path); err == nil {
			if info.Mode().IsRegular() {
				batch.Sources = append(batch.Sources, path)
			}
			continue
		}
		batch.Removed = append(batch.Removed, path)
	}
	sort.Strings(batch.Sources)
	sort.Strings(batch.Removed)
	return batch
}
