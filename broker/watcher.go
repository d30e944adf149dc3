package broker

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reportFileExt filters directory events to report files.
const reportFileExt = ".txt"

// fileDateLayout is the fixed-position date prefix of dropped report
// filenames: <YYYY-MM-DD>-<identifying-suffix>.txt.
const fileDateLayout = "2006-01-02"

// settleDelay is how long the watcher waits after the last event for a file
// before reading it. A writer dropping a report emits Create followed by one
// or more Writes; reading on the first event would catch a partial body.
const settleDelay = 2 * time.Second

// Watcher is the file-drop delivery channel. Reports are handled strictly
// one at a time: event N+1 waits until N is persisted and ledger-recorded or
// dropped with a logged reason.
type Watcher struct {
	dir    string
	engine *Engine
	settle time.Duration
	debug  bool
}

func NewWatcher(dir string, engine *Engine, debug bool) *Watcher {
	return &Watcher{dir: dir, engine: engine, settle: settleDelay, debug: debug}
}

// Sweep processes every report file already present in the directory. It is
// run once at startup so files dropped while the daemon was down are not
// lost.
func (w *Watcher) Sweep() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("sweep %s: %w", w.dir, err)
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		w.handle(filepath.Join(w.dir, ent.Name()))
	}
	return nil
}

// Run watches the directory until ctx is cancelled. Watch errors are logged
// and the loop continues; only a failure to establish the watch is returned.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	log.Printf("watching %s", w.dir)

	// Files are processed only after their events quiesce for a settle
	// window; every new event pushes the window back, so a slow writer's
	// report is read once, complete, instead of mid-write.
	pending := make(map[string]struct{})
	var settled <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if filepath.Ext(ev.Name) != reportFileExt {
				continue
			}
			pending[ev.Name] = struct{}{}
			settled = time.After(w.settle)
		case <-settled:
			settled = nil
			for path := range pending {
				w.handle(path)
			}
			pending = make(map[string]struct{})
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Printf("watcher: %v", err)
		}
	}
}

func (w *Watcher) handle(path string) {
	if filepath.Ext(path) != reportFileExt {
		return
	}
	date, ok := fileDropDate(path)
	if !ok {
		log.Printf("watcher: skip %s: no parsable date in filename", filepath.Base(path))
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		// Transient (permission race, file still being written); the next
		// event for this file retries.
		log.Printf("watcher: read %s: %v", path, err)
		return
	}
	if len(content) == 0 {
		// The writer has created the file but not delivered the body yet.
		// Skipping without a ledger mark lets the Write event retry.
		log.Printf("watcher: skip %s: empty file", filepath.Base(path))
		return
	}
	r := RawReport{
		Source:     SourceFileDrop,
		Identifier: fileDropIdentifier(path),
		Timestamp:  date,
		Body:       string(content),
	}
	if err := w.engine.Process(r); err != nil {
		log.Printf("watcher: process %s: %v", path, err)
	}
}

// fileDropDate extracts the report date from the filename's fixed-position
// prefix.
func fileDropDate(path string) (time.Time, bool) {
	base := filepath.Base(path)
	if len(base) < len(fileDateLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(fileDateLayout, base[:len(fileDateLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// fileDropIdentifier builds the dedup key for a dropped file: the filename
// tag without its extension, which already carries the embedded date and
// serial suffix.
func fileDropIdentifier(path string) string {
	return strings.TrimSuffix(filepath.Base(path), reportFileExt)
}
