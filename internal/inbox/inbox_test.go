package inbox

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nestlog/nestlog/internal/schema"
)

type fakeImporter struct {
	mu      sync.Mutex
	err     error
	added   map[schema.Key]schema.Collection
	batches int
}

func (f *fakeImporter) AddRecords(_ context.Context, key schema.Key, records ...schema.Record) (schema.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.added == nil {
		f.added = make(map[schema.Key]schema.Collection)
	}
	f.added[key] = append(f.added[key], records...)
	f.batches++
	return records, nil
}

func (f *fakeImporter) count(key schema.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added[key])
}

func newTestWatcher(t *testing.T, imp Importer) (*Watcher, string) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "inbox")
	w, err := New(imp, &Config{
		Dir:      dir,
		Debounce: 20 * time.Millisecond,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return w, dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestNew_CreatesDirectories(t *testing.T) {
	_, dir := newTestWatcher(t, &fakeImporter{})

	for _, sub := range []string{processedDir, rejectedDir} {
		if !exists(filepath.Join(dir, sub)) {
			t.Errorf("%s/ was not created", sub)
		}
	}

	if _, err := New(nil, DefaultConfig(dir)); err == nil {
		t.Error("New() with a nil importer should fail")
	}
	if _, err := New(&fakeImporter{}, &Config{}); err == nil {
		t.Error("New() without a dir should fail")
	}
}

func TestParseName(t *testing.T) {
	tests := []struct {
		name    string
		want    schema.Key
		wantErr bool
	}{
		{"triedFoods.json", schema.KeyTriedFoods, false},
		{"feedLogs--2026-01-02.json", schema.KeyFeedLogs, false},
		{"/tmp/inbox/sleepLogs--a--b.json", schema.KeySleepLogs, false},
		{"profiles.json", "", true},
		{"bogus--x.json", "", true},
	}
	for _, tt := range tests {
		got, err := ParseName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{"object", `{"name":"pear"}`, 1, false},
		{"array", `[{"name":"pear"},{"id":"x","name":"fig"}]`, 2, false},
		{"empty array", `[]`, 0, true},
		{"null", `null`, 0, true},
		{"scalar", `42`, 0, true},
		{"array with scalar", `[{"name":"a"}, 1]`, 0, true},
		{"blank", "  \n", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("Decode() returned %d records, want %d", len(got), tt.want)
			}
		})
	}
}

func TestProcessDir(t *testing.T) {
	imp := &fakeImporter{}
	w, dir := newTestWatcher(t, imp)

	writeFile(t, dir, "triedFoods--a.json", `[{"name":"pear"},{"name":"fig"}]`)
	writeFile(t, dir, "feedLogs.json", `{"amount":120}`)
	writeFile(t, dir, "nope--x.json", `{"a":1}`)
	writeFile(t, dir, "triedFoods--broken.json", `{"name":`)
	writeFile(t, dir, "notes.txt", `ignored`)

	sum, err := w.ProcessDir(context.Background())
	if err != nil {
		t.Fatalf("ProcessDir() failed: %v", err)
	}

	want := Summary{Files: 4, Records: 3, Rejected: 2}
	if sum != want {
		t.Errorf("ProcessDir() = %+v, want %+v", sum, want)
	}
	if imp.count(schema.KeyTriedFoods) != 2 || imp.count(schema.KeyFeedLogs) != 1 {
		t.Errorf("imported = %v", imp.added)
	}

	if !exists(filepath.Join(dir, processedDir, "triedFoods--a.json")) {
		t.Error("imported file not moved to processed/")
	}
	if !exists(filepath.Join(dir, rejectedDir, "nope--x.json")) || !exists(filepath.Join(dir, rejectedDir, "triedFoods--broken.json")) {
		t.Error("bad files not moved to rejected/")
	}
	if !exists(filepath.Join(dir, "notes.txt")) {
		t.Error("non-JSON files should be left alone")
	}
}

func TestImportFile_DeferredStaysInPlace(t *testing.T) {
	imp := &fakeImporter{err: errors.New("no active profile")}
	w, dir := newTestWatcher(t, imp)

	path := writeFile(t, dir, "triedFoods--later.json", `{"name":"kiwi"}`)
	outcome, n := w.ImportFile(context.Background(), path)
	if outcome != Deferred || n != 0 {
		t.Fatalf("ImportFile() = %v, %d; want deferred, 0", outcome, n)
	}
	if !exists(path) {
		t.Fatal("deferred file should stay in the inbox")
	}

	// Once the importer recovers the next scan picks it up.
	imp.mu.Lock()
	imp.err = nil
	imp.mu.Unlock()

	sum, err := w.ProcessDir(context.Background())
	if err != nil {
		t.Fatalf("ProcessDir() failed: %v", err)
	}
	if sum.Records != 1 || exists(path) {
		t.Errorf("retry summary = %+v, file still present = %v", sum, exists(path))
	}
}

func TestMove_AvoidsOverwrite(t *testing.T) {
	imp := &fakeImporter{}
	w, dir := newTestWatcher(t, imp)

	for i := 0; i < 2; i++ {
		path := writeFile(t, dir, "triedFoods.json", `{"name":"plum"}`)
		if outcome, _ := w.ImportFile(context.Background(), path); outcome != Imported {
			t.Fatalf("ImportFile() = %v, want imported", outcome)
		}
	}

	entries, err := os.ReadDir(filepath.Join(dir, processedDir))
	if err != nil {
		t.Fatalf("failed to read processed/: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("processed/ holds %d files, want 2", len(entries))
	}
}

func TestRun_ImportsNewFiles(t *testing.T) {
	imp := &fakeImporter{}
	w, dir := newTestWatcher(t, imp)

	// Present before the watcher starts.
	writeFile(t, dir, "triedFoods--early.json", `{"name":"oat"}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for imp.count(schema.KeyTriedFoods) < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	writeFile(t, dir, "sleepLogs--nap.json", `[{"minutes":40},{"minutes":25}]`)

	for imp.count(schema.KeySleepLogs) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if imp.count(schema.KeyTriedFoods) != 1 {
		t.Errorf("early file imported %d records, want 1", imp.count(schema.KeyTriedFoods))
	}
	if imp.count(schema.KeySleepLogs) != 2 {
		t.Errorf("watched file imported %d records, want 2", imp.count(schema.KeySleepLogs))
	}
}

func TestOutcomeString(t *testing.T) {
	if Imported.String() != "imported" || Rejected.String() != "rejected" || Deferred.String() != "deferred" {
		t.Error("unexpected Outcome strings")
	}
}
