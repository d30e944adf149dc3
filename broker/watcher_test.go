package broker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileDropDate(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
		date string
	}{
		{"2023-10-03-19-58-16-A1UG021109838.txt", true, "2023-10-03"},
		{"2023-06-22-19-54-27-A4FM021007478.txt", true, "2023-06-22"},
		{"2023-12-02.txt", true, "2023-12-02"},
		{"notes.txt", false, ""},
		{"20231003-report.txt", false, ""},
		{"x.txt", false, ""},
	}
	for _, c := range cases {
		got, ok := fileDropDate(filepath.Join("temp", c.name))
		if ok != c.ok {
			t.Errorf("fileDropDate(%q) ok = %v, want %v", c.name, ok, c.ok)
			continue
		}
		if ok && got.Format("2006-01-02") != c.date {
			t.Errorf("fileDropDate(%q) = %s, want %s", c.name, got.Format("2006-01-02"), c.date)
		}
	}
}

func TestFileDropIdentifier(t *testing.T) {
	got := fileDropIdentifier("temp/2023-10-03-19-58-16-A1UG021109838.txt")
	if got != "2023-10-03-19-58-16-A1UG021109838" {
		t.Fatalf("identifier = %q", got)
	}
}

func TestWatcher_SweepProcessesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	gw := newFakeGateway(contractedPrinter())
	engine, ledger := newTestEngine(t, gw)
	w := NewWatcher(dir, engine, false)

	path := filepath.Join(dir, "2023-10-03-19-58-16-A1UG021109838.txt")
	if err := os.WriteFile(path, []byte(counterBodyTotalOnly), 0o644); err != nil {
		t.Fatal(err)
	}
	// A non-report file and a dateless report file are skipped quietly.
	if err := os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := w.Sweep(); err != nil {
		t.Fatal(err)
	}

	rows := gw.counterRows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 counter row, got %d", len(rows))
	}
	if want := time.Date(2023, 10, 3, 0, 0, 0, 0, time.UTC); !rows[0].Date.Equal(want) {
		t.Fatalf("date = %s, want %s (from filename)", rows[0].Date, want)
	}
	if !ledger.Seen("2023-10-03-19-58-16-A1UG021109838") {
		t.Fatal("expected ledger marked with the filename identifier")
	}
}

func TestWatcher_RunPicksUpDroppedFile(t *testing.T) {
	dir := t.TempDir()
	color := &Printer{ID: 2, SerialNumber: "A4FM021007478", ServiceContract: true, TaxID: "987654321"}
	gw := newFakeGateway(contractedPrinter(), color)
	engine, _ := newTestEngine(t, gw)
	w := NewWatcher(dir, engine, false)
	w.settle = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watch a moment to establish before dropping the file.
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(dir, "2023-06-22-19-54-27-A4FM021007478.txt")
	if err := os.WriteFile(path, []byte(counterBodyBlackColor), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(gw.counterRows()) == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	rows := gw.counterRows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 counter row from watch event, got %d", len(rows))
	}
	if rows[0].CounterBlackHistory != 225731 || rows[0].CounterColorHistory != 175268 {
		t.Fatalf("unexpected row %+v", rows[0])
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestWatcher_SlowWriterIsNotBlacklisted(t *testing.T) {
	dir := t.TempDir()
	gw := newFakeGateway(contractedPrinter())
	engine, ledger := newTestEngine(t, gw)
	w := NewWatcher(dir, engine, false)
	w.settle = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)

	// The file exists long before its body does, well past the settle
	// window, the way a slow uploader delivers it.
	path := filepath.Join(dir, "2023-10-03-19-58-16-A1UG021109838.txt")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if _, err := f.WriteString(counterBodyTotalOnly); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(gw.counterRows()) == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	rows := gw.counterRows()
	if len(rows) != 1 {
		t.Fatalf("expected the completed report ingested, got %d rows", len(rows))
	}
	if rows[0].CounterBlackHistory != 185186 {
		t.Fatalf("unexpected row %+v", rows[0])
	}
	if !ledger.Seen("2023-10-03-19-58-16-A1UG021109838") {
		t.Fatal("expected ledger marked after the complete body was persisted")
	}

	cancel()
	<-done
}
