// Package memoryindex builds the Thinker's iteration-1 memory index: a
// listing of the knowledge files under a directory (spec.md §4.4), so the
// model knows what it can ask the filesystem tools to read without having
// the full contents preloaded into every prompt.
//
// Grounded on the teacher's internal/templates.LocalSource.Discover — a
// directory scan returning a typed index, not the full
// internal/memory vector-search manager, which answers a materially
// different question (semantic recall over embedded chunks) than the
// "what knowledge files exist" listing spec.md §4.4 actually asks for. See
// DESIGN.md for why the heavier manager was left unwired.
package memoryindex

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Entry describes one discovered knowledge file.
type Entry struct {
	Path  string // relative to the index's root
	Title string // first markdown heading or non-empty line, if any
}

// Index scans a directory tree for knowledge files (by extension) and
// renders a compact summary for the Thinker's system prompt. Results are
// cached and only rescanned after RescanInterval, since the Thinker calls
// Summary on every task's first cognitive round.
type Index struct {
	root           string
	extensions     map[string]bool
	rescanInterval time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	entries   []Entry
	scannedAt time.Time

	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// Config configures an Index.
type Config struct {
	// Root is the directory to scan.
	Root string
	// Extensions restricts discovery to these file extensions (with the
	// leading dot, e.g. ".md"). Defaults to {".md", ".txt"}.
	Extensions []string
	// RescanInterval bounds how often Summary re-walks Root. Defaults to
	// 30s when zero; a negative value disables caching (always rescans).
	RescanInterval time.Duration
	Logger         *slog.Logger
}

// New constructs an Index. Root need not exist yet; Summary returns an
// empty string until it does.
func New(cfg Config) *Index {
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = []string{".md", ".txt"}
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[strings.ToLower(e)] = true
	}
	if cfg.RescanInterval == 0 {
		cfg.RescanInterval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		root:           cfg.Root,
		extensions:     set,
		rescanInterval: cfg.RescanInterval,
		logger:         logger.With("component", "memoryindex"),
	}
}

// Summary implements core.MemoryIndex. It returns one line per known
// knowledge file ("- path: title"), or "" if Root doesn't exist or is
// empty.
func (idx *Index) Summary(ctx context.Context) (string, error) {
	entries, err := idx.scan(ctx)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, e := range entries {
		b.WriteString("- ")
		b.WriteString(e.Path)
		if e.Title != "" {
			b.WriteString(": ")
			b.WriteString(e.Title)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Entries returns the current cached listing, rescanning if stale.
func (idx *Index) Entries(ctx context.Context) ([]Entry, error) {
	return idx.scan(ctx)
}

// Watch starts watching Root for changes so a create/write/remove/rename
// invalidates the cache immediately instead of waiting out RescanInterval.
// It is a no-op if Root doesn't exist yet; call Close to stop watching.
func (idx *Index) Watch(ctx context.Context) error {
	if _, err := os.Stat(idx.root); err != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("memoryindex: new watcher: %w", err)
	}
	if err := watcher.Add(idx.root); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("memoryindex: watch %s: %w", idx.root, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	idx.mu.Lock()
	idx.watcher = watcher
	idx.watchCancel = cancel
	idx.mu.Unlock()

	idx.watchWg.Add(1)
	go idx.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops any active watcher started by Watch.
func (idx *Index) Close() error {
	idx.mu.Lock()
	if idx.watchCancel != nil {
		idx.watchCancel()
		idx.watchCancel = nil
	}
	watcher := idx.watcher
	idx.watcher = nil
	idx.mu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	idx.watchWg.Wait()
	return nil
}

func (idx *Index) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer idx.watchWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				idx.invalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			idx.logger.Warn("memoryindex: watch error", "error", err)
		}
	}
}

// invalidate forces the next scan to re-walk Root rather than serve the cache.
func (idx *Index) invalidate() {
	idx.mu.Lock()
	idx.scannedAt = time.Time{}
	idx.mu.Unlock()
}

func (idx *Index) scan(ctx context.Context) ([]Entry, error) {
	idx.mu.Lock()
	fresh := !idx.scannedAt.IsZero() && time.Since(idx.scannedAt) < idx.rescanInterval
	if fresh {
		cached := idx.entries
		idx.mu.Unlock()
		return cached, nil
	}
	idx.mu.Unlock()

	if _, err := os.Stat(idx.root); err != nil {
		if os.IsNotExist(err) {
			idx.mu.Lock()
			idx.entries = nil
			idx.scannedAt = time.Now()
			idx.mu.Unlock()
			return nil, nil
		}
		return nil, fmt.Errorf("memoryindex: stat root: %w", err)
	}

	var entries []Entry
	err := filepath.WalkDir(idx.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		if !idx.extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, relErr := filepath.Rel(idx.root, path)
		if relErr != nil {
			rel = path
		}
		entries = append(entries, Entry{Path: rel, Title: firstNonEmptyLine(path)})
		return nil
	})
	if err != nil {
		idx.logger.Error("memoryindex: scan failed", "root", idx.root, "error", err)
		return nil, fmt.Errorf("memoryindex: scan %s: %w", idx.root, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	idx.mu.Lock()
	idx.entries = entries
	idx.scannedAt = time.Now()
	idx.mu.Unlock()

	return entries, nil
}

// firstNonEmptyLine returns the first non-blank, non-markdown-heading-marker
// stripped line of a file, used as its display title. Best-effort: read
// errors yield an empty title rather than failing the whole scan.
func firstNonEmptyLine(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		return strings.TrimSpace(strings.TrimLeft(line, "#"))
	}
	return ""
}
