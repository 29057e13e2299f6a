// Package spool ingests answer edits dropped as JSON files into a spool
// directory. Headless hosts (kiosk wrappers, import scripts) write one
// file per edit; the spool watches the directory, feeds each edit to the
// sync engine, and deletes the file once consumed.
package spool

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Edit is the wire shape of one spooled answer edit.
type Edit struct {
	FieldID string `json:"fieldId"`
	Value   string `json:"value"`
}

// Sink receives consumed edits. The sync engine implements it.
type Sink interface {
	FieldEdited(fieldID, value string)
}

// Watcher consumes edit files from a spool directory.
type Watcher struct {
	dir     string
	sink    Sink
	logger  *log.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewWatcher creates a spool watcher over dir, creating it if needed.
//
// If logger is nil, a default logger writing to stderr is used.
func NewWatcher(dir string, sink Sink, logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[spool] ", log.LstdFlags)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory %s: %w", dir, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		dir:     dir,
		sink:    sink,
		logger:  logger,
		watcher: fw,
		done:    make(chan struct{}),
	}, nil
}

// Start scans existing spool files and begins watching for new ones.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("spool watcher already running")
	}

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch spool directory %s: %w", w.dir, err)
	}

	// Edits dropped before startup are consumed first, in name order.
	if err := w.Scan(); err != nil {
		return err
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	return nil
}

// Stop stops watching and blocks until the event loop has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()
	return nil
}

// Scan consumes every edit file currently in the spool directory.
func (w *Watcher) Scan() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to scan spool directory %s: %w", w.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isEditFile(entry.Name()) {
			continue
		}
		w.consume(filepath.Join(w.dir, entry.Name()))
	}

	return nil
}

// processEvents drains fsnotify until Stop.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isEditFile(filepath.Base(event.Name)) {
				continue
			}
			w.consume(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Warning: spool watch error: %v", err)
		}
	}
}

// consume reads, applies, and deletes one edit file. Malformed files are
// logged and skipped so one bad drop never stalls the spool; they are
// deleted too, otherwise every restart would re-report them.
func (w *Watcher) consume(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Writers may remove or rename mid-read; not worth reporting.
		if os.IsNotExist(err) {
			return
		}
		w.logger.Printf("Warning: failed to read spool file %s: %v", path, err)
		return
	}

	var edit Edit
	if err := json.Unmarshal(data, &edit); err != nil {
		w.logger.Printf("Warning: malformed spool file %s: %v", path, err)
		w.remove(path)
		return
	}
	if edit.FieldID == "" {
		w.logger.Printf("Warning: spool file %s has no fieldId", path)
		w.remove(path)
		return
	}

	w.sink.FieldEdited(edit.FieldID, edit.Value)
	w.remove(path)
}

func (w *Watcher) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.logger.Printf("Warning: failed to remove spool file %s: %v", path, err)
	}
}

// isEditFile filters to *.json, skipping dotfiles and editor temp files
// so partially written drops are ignored until renamed into place.
func isEditFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.HasSuffix(name, ".json")
}
