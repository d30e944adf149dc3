package broker

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Ledger file format, inherited from the system being replaced: one entry
// per line, "<identifier> __ <processed-timestamp>".
const (
	ledgerSeparator  = " __ "
	ledgerTimeLayout = "2006-01-02-15-04-05"
)

// Ledger is the durable, append-only registry of processed report
// identifiers. It is loaded fully into memory at startup and is the single
// point of mutual exclusion between the two delivery channels' writers.
type Ledger struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	seen     map[string]struct{}
	inflight map[string]struct{}
}

// OpenLedger loads the ledger at path, creating it if absent. Malformed
// lines (a crash can tear the trailing one) are skipped with a warning, and
// a missing final newline is healed so the next append starts clean.
func OpenLedger(path string) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("ledger: path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ledger: mkdir: %w", err)
		}
	}

	b, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("ledger: read: %w", err)
	}

	seen := make(map[string]struct{})
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, _, ok := strings.Cut(line, ledgerSeparator)
		if !ok {
			log.Printf("ledger: skipping malformed line %q", line)
			continue
		}
		seen[strings.TrimSpace(id)] = struct{}{}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	if len(b) > 0 && b[len(b)-1] != '\n' {
		if _, err := f.WriteString("\n"); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("ledger: heal trailing line: %w", err)
		}
	}

	return &Ledger{path: path, file: f, seen: seen, inflight: make(map[string]struct{})}, nil
}

// Seen reports whether id has already been processed.
func (l *Ledger) Seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[id]
	return ok
}

// Reserve atomically checks and claims id for processing. It returns false
// when id is already processed or currently held by the other channel, so
// the same identifier surfacing on both channels at once cannot be persisted
// twice. A reservation ends with Mark or Release.
func (l *Ledger) Reserve(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[id]; ok {
		return false
	}
	if _, ok := l.inflight[id]; ok {
		return false
	}
	l.inflight[id] = struct{}{}
	return true
}

// Release gives up a reservation without recording it processed, so a report
// whose persistence failed stays eligible for the next cycle's retry.
func (l *Ledger) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, id)
}

// Mark durably records id as processed. Callers invoke it only after every
// persistence side effect for the report has succeeded.
func (l *Ledger) Mark(id string, processedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[id]; ok {
		delete(l.inflight, id)
		return nil
	}
	line := id + ledgerSeparator + processedAt.UTC().Format(ledgerTimeLayout) + "\n"
	if _, err := l.file.WriteString(line); err != nil {
		return fmt.Errorf("ledger: append %q: %w", id, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("ledger: sync: %w", err)
	}
	l.seen[id] = struct{}{}
	delete(l.inflight, id)
	return nil
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
