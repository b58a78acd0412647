package indexer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/metrics"
)

// Indexer keeps the store in sync with the workspace. A full scan runs at
// startup; after that an fsnotify watcher feeds changed paths into a
// debounced pending set so bursts of writes collapse into one flush.
type Indexer struct {
	root     string
	store    *Store
	debounce time.Duration

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
}

// New creates an Indexer for the workspace rooted at root. The root must be
// an absolute, resolved path.
func New(root string, store *Store, debounce time.Duration) *Indexer {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Indexer{
		root:     root,
		store:    store,
		debounce: debounce,
		stopChan: make(chan struct{}),
		pending:  make(map[string]struct{}),
	}
}

// Start performs the initial full index and begins watching for changes.
func (ix *Indexer) Start() error {
	log.Info().Str("root", ix.root).Msg("Starting tree indexer")

	count, err := ix.Refresh()
	if err != nil {
		return fmt.Errorf("initial index failed: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	ix.watcher = watcher

	if err := ix.watchTree(); err != nil {
		watcher.Close()
		return err
	}

	ix.wg.Add(1)
	go ix.watchForChanges()

	log.Info().Int("entries", count).Msg("Tree indexer started")
	return nil
}

// Stop halts the watcher and cancels any pending flush.
func (ix *Indexer) Stop() {
	select {
	case <-ix.stopChan:
		return
	default:
		close(ix.stopChan)
	}
	if ix.watcher != nil {
		ix.watcher.Close()
	}
	ix.mu.Lock()
	if ix.timer != nil {
		ix.timer.Stop()
		ix.timer = nil
	}
	ix.mu.Unlock()
	ix.wg.Wait()
}

// Refresh rescans the whole workspace and replaces the index contents.
func (ix *Indexer) Refresh() (int, error) {
	start := time.Now()
	entries, err := Scan(ix.root)
	if err != nil {
		return 0, fmt.Errorf("failed to scan workspace: %w", err)
	}
	if err := ix.store.ReplaceAll(entries); err != nil {
		return 0, err
	}
	metrics.Get().RecordIndexRefresh()
	metrics.Get().SetIndexEntries(len(entries))
	log.Info().
		Int("entries", len(entries)).
		Dur("elapsed", time.Since(start)).
		Msg("Reindexed workspace")
	return len(entries), nil
}

// Select forwards a structure query to the store.
func (ix *Indexer) Select(q Query) ([]Entry, error) {
	return ix.store.Select(q)
}

// Counts forwards workspace totals from the store.
func (ix *Indexer) Counts() (files int, dirs int, err error) {
	return ix.store.Counts()
}

// watchTree registers watches for the root and every visible directory.
func (ix *Indexer) watchTree() error {
	if err := ix.watcher.Add(ix.root); err != nil {
		return fmt.Errorf("failed to watch workspace root: %w", err)
	}
	err := filepath.WalkDir(ix.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() || path == ix.root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := ix.watcher.Add(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to watch directory")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk workspace for watches: %w", err)
	}
	return nil
}

// watchForChanges handles fsnotify events until Stop is called.
func (ix *Indexer) watchForChanges() {
	defer ix.wg.Done()
	for {
		select {
		case event, ok := <-ix.watcher.Events:
			if !ok {
				return
			}
			ix.handleEvent(event)

		case err, ok := <-ix.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Tree indexer watcher error")

		case <-ix.stopChan:
			return
		}
	}
}

func (ix *Indexer) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	rel, err := filepath.Rel(ix.root, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)
	if hasHiddenSegment(rel) {
		return
	}

	if event.Op&fsnotify.Write != 0 && event.Op&fsnotify.Create == 0 {
		// Directory mtime churn is noise; only file writes matter.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			return
		}
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := ix.watcher.Add(event.Name); err != nil {
				log.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
			}
		}
	}

	ix.queueUpdate(rel)
}

// queueUpdate adds rel to the pending set and restarts the debounce timer.
func (ix *Indexer) queueUpdate(rel string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.pending[rel] = struct{}{}
	if ix.timer != nil {
		ix.timer.Stop()
	}
	ix.timer = time.AfterFunc(ix.debounce, ix.flushUpdates)
}

// flushUpdates drains the pending set and applies each change to the store.
func (ix *Indexer) flushUpdates() {
	ix.mu.Lock()
	paths := make([]string, 0, len(ix.pending))
	for p := range ix.pending {
		paths = append(paths, p)
	}
	ix.pending = make(map[string]struct{})
	ix.timer = nil
	ix.mu.Unlock()

	for _, rel := range paths {
		if err := ix.applyChange(rel); err != nil {
			log.Error().Err(err).Str("path", rel).Msg("Failed to update index entry")
		}
	}
}

// applyChange reconciles a single workspace-relative path with the store.
func (ix *Indexer) applyChange(rel string) error {
	abs := filepath.Join(ix.root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return ix.store.DeleteSubtree(rel)
		}
		return err
	}

	e := Entry{
		RelPath: rel,
		Name:    filepath.Base(abs),
		Depth:   strings.Count(rel, "/") + 1,
	}
	if info.IsDir() {
		e.Kind = KindDir
	} else {
		e.Kind = KindFile
		e.Size = info.Size()
		e.MTime = float64(info.ModTime().UnixNano()) / 1e9
	}
	if err := ix.store.Upsert(e); err != nil {
		return err
	}

	// A directory may arrive with contents already inside it (mkdir -p,
	// unpacked archives), so index and watch its subtree too.
	if info.IsDir() {
		return ix.indexSubtree(rel, abs)
	}
	return nil
}

func (ix *Indexer) indexSubtree(rel, abs string) error {
	entries, err := Scan(abs)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", rel, err)
	}
	for _, e := range entries {
		e.RelPath = rel + "/" + e.RelPath
		e.Depth = strings.Count(e.RelPath, "/") + 1
		if err := ix.store.Upsert(e); err != nil {
			return err
		}
		if e.Kind == KindDir && ix.watcher != nil {
			watchPath := filepath.Join(ix.root, filepath.FromSlash(e.RelPath))
			if err := ix.watcher.Add(watchPath); err != nil {
				log.Warn().Err(err).Str("path", watchPath).Msg("Failed to watch directory")
			}
		}
	}
	return nil
}
