package archive

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/alvmarrod/cashtag-scraper/internal/search"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()

	var lines []string
	scanner := bufio.NewScanner(dec)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan archive: %v", err)
	}
	return lines
}

func TestWriteAppendsFrames(t *testing.T) {
	a := New(t.TempDir())
	day := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return day }

	batches := [][]search.Tweet{
		{{ID: 1, Raw: json.RawMessage(`{"id":1}`)}, {ID: 2, Raw: json.RawMessage(`{"id":2}`)}},
		nil,
		{{ID: 3, Raw: json.RawMessage(`{"id":3}`)}},
	}
	for _, batch := range batches {
		if err := a.Write(batch); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	path := a.Path(day)
	if want := "tweets_20261019.jsonl.zst"; path[len(path)-len(want):] != want {
		t.Errorf("Path() = %s", path)
	}

	lines := readLines(t, path)
	want := []string{`{"id":1}`, `{"id":2}`, `{"id":3}`}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %s, want %s", i, lines[i], want[i])
		}
	}
}

func TestWriteEmptyCreatesNothing(t *testing.T) {
	dir := t.TempDir()
	a := New(dir)
	if err := a.Write(nil); err != nil {
		t.Fatalf("Write(nil) error = %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("archive dir has %d entries, want 0", len(entries))
	}
}
