// Package inbox imports records dropped as JSON files into a watched
// directory.
//
// A file named <collection>--<anything>.json (or <collection>.json) holds
// either one record object or an array of them. Imported files move to
// processed/; files that can never import (bad name, bad JSON) move to
// rejected/. Files that fail for transient reasons, such as no active
// profile yet, stay in place and are retried by the next scan.
package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nestlog/nestlog/internal/schema"
)

const (
	processedDir = "processed"
	rejectedDir  = "rejected"
	nameSep      = "--"
)

// Importer receives decoded records. *store.Store satisfies it.
type Importer interface {
	AddRecords(ctx context.Context, key schema.Key, records ...schema.Record) (schema.Collection, error)
}

// Config holds configuration for the watcher.
type Config struct {
	// Dir is the drop directory.
	Dir string

	// Debounce is how long a file must be quiet before it is imported.
	// Editors and copies often write a file in several steps.
	Debounce time.Duration

	// Logger for inbox activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for dir.
func DefaultConfig(dir string) *Config {
	return &Config{
		Dir:      dir,
		Debounce: 500 * time.Millisecond,
		Logger:   log.New(os.Stderr, "[inbox] ", log.LstdFlags),
	}
}

// Outcome is the fate of one scanned file.
type Outcome int

const (
	// Imported means the records were added and the file moved to processed/.
	Imported Outcome = iota
	// Rejected means the file can never import and moved to rejected/.
	Rejected
	// Deferred means the import failed transiently and the file stayed put.
	Deferred
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case Imported:
		return "imported"
	case Rejected:
		return "rejected"
	case Deferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Summary counts the outcomes of a scan.
type Summary struct {
	Files    int
	Records  int
	Rejected int
	Deferred int
}

// errReject marks failures that retrying cannot fix.
var errReject = errors.New("rejected")

// Watcher imports files as they appear in the drop directory.
type Watcher struct {
	imp    Importer
	config *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	wg sync.WaitGroup
}

// New creates a watcher that feeds imp. The directory and its processed/
// and rejected/ subdirectories are created if missing.
func New(imp Importer, config *Config) (*Watcher, error) {
	if imp == nil {
		return nil, fmt.Errorf("importer cannot be nil")
	}
	if config == nil || config.Dir == "" {
		return nil, fmt.Errorf("inbox dir cannot be empty")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[inbox] ", log.LstdFlags)
	}

	for _, dir := range []string{config.Dir, filepath.Join(config.Dir, processedDir), filepath.Join(config.Dir, rejectedDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	return &Watcher{
		imp:         imp,
		config:      config,
		changeQueue: make(map[string]time.Time),
	}, nil
}

// Run imports everything already in the directory, then watches for new
// files until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	if err := w.watcher.Add(w.config.Dir); err != nil {
		w.watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.config.Dir, err)
	}
	w.config.Logger.Printf("Watching: %s", w.config.Dir)

	// Files dropped before the watch was added.
	if _, err := w.ProcessDir(ctx); err != nil {
		w.watcher.Close()
		return err
	}

	w.wg.Add(2)
	go w.watchFileEvents(ctx)
	go w.processChangeQueue(ctx)

	<-ctx.Done()
	if err := w.watcher.Close(); err != nil {
		w.config.Logger.Printf("Error closing watcher: %v", err)
	}
	w.wg.Wait()
	w.config.Logger.Println("Inbox watcher stopped")
	return nil
}

// ProcessDir imports every pending file once, in name order.
func (w *Watcher) ProcessDir(ctx context.Context) (Summary, error) {
	var sum Summary

	entries, err := os.ReadDir(w.config.Dir)
	if err != nil {
		return sum, fmt.Errorf("failed to read inbox: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		outcome, n := w.ImportFile(ctx, filepath.Join(w.config.Dir, name))
		sum.Files++
		switch outcome {
		case Imported:
			sum.Records += n
		case Rejected:
			sum.Rejected++
		case Deferred:
			sum.Deferred++
		}
	}
	return sum, nil
}

// ImportFile imports one file and moves it according to the outcome. It
// returns the outcome and the number of records imported.
func (w *Watcher) ImportFile(ctx context.Context, path string) (Outcome, int) {
	name := filepath.Base(path)

	records, key, err := readFile(path)
	if err == nil {
		_, err = w.imp.AddRecords(ctx, key, records...)
		if err != nil {
			w.config.Logger.Printf("Warning: deferring %s: %v", name, err)
			return Deferred, 0
		}
		if err := w.move(path, processedDir); err != nil {
			w.config.Logger.Printf("Warning: imported %s but could not move it: %v", name, err)
		}
		w.config.Logger.Printf("Imported %d %s record(s) from %s", len(records), key, name)
		return Imported, len(records)
	}

	if errors.Is(err, os.ErrNotExist) {
		// Gone before we got to it.
		return Deferred, 0
	}
	if !errors.Is(err, errReject) {
		w.config.Logger.Printf("Warning: deferring %s: %v", name, err)
		return Deferred, 0
	}

	w.config.Logger.Printf("Rejecting %s: %v", name, err)
	if err := w.move(path, rejectedDir); err != nil {
		w.config.Logger.Printf("Warning: could not move %s to %s: %v", name, rejectedDir, err)
	}
	return Rejected, 0
}

// move renames path into a subdirectory, suffixing the name on collision.
func (w *Watcher) move(path, sub string) error {
	dest := filepath.Join(w.config.Dir, sub, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(dest)
		dest = fmt.Sprintf("%s.%d%s", strings.TrimSuffix(dest, ext), time.Now().UnixNano(), ext)
	}
	return os.Rename(path, dest)
}

// ParseName returns the collection a file name targets.
func ParseName(name string) (schema.Key, error) {
	base := strings.TrimSuffix(filepath.Base(name), ".json")
	if i := strings.Index(base, nameSep); i >= 0 {
		base = base[:i]
	}
	return schema.ParseRecordKey(base)
}

// readFile decodes path into records for the collection named by the file.
func readFile(path string) (schema.Collection, schema.Key, error) {
	key, err := ParseName(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", errReject, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	records, err := Decode(data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", errReject, err)
	}
	return records, key, nil
}

// Decode parses a single record object or an array of records.
func Decode(data []byte) (schema.Collection, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file")
	}

	if data[0] == '[' {
		var records schema.Collection
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to parse records: %w", err)
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("no records")
		}
		return records, nil
	}

	var r schema.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return schema.Collection{r}, nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (w *Watcher) watchFileEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// Only care about Create and Write
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" || filepath.Dir(event.Name) != filepath.Clean(w.config.Dir) {
				continue
			}

			w.queueChange(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) queueChange(path string) {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()

	w.changeQueue[path] = time.Now()
}

// processChangeQueue imports queued files once they have been quiet for
// the debounce interval.
func (w *Watcher) processChangeQueue(ctx context.Context) {
	defer w.wg.Done()

	interval := w.config.Debounce
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.processPendingChanges(ctx)
		}
	}
}

func (w *Watcher) processPendingChanges(ctx context.Context) {
	w.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range w.changeQueue {
		if now.Sub(queuedAt) < w.config.Debounce {
			continue
		}
		ready = append(ready, path)
		delete(w.changeQueue, path)
	}
	w.changeQueueMu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		w.ImportFile(ctx, path)
	}
}
