// Package archive appends raw search results to daily compressed JSON-lines files.
package archive

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/alvmarrod/cashtag-scraper/internal/search"
)

// Archive writes one line per tweet into tweets_YYYYMMDD.jsonl.zst under dir.
// Every Write appends a complete zstd frame, so a file stays readable even if
// the process dies between writes.
type Archive struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// New creates an archive rooted at dir
func New(dir string) *Archive {
	return &Archive{dir: dir, now: time.Now}
}

// Path returns the file the archive writes to for day t
func (a *Archive) Path(t time.Time) string {
	return filepath.Join(a.dir, "tweets_"+t.Format("20060102")+".jsonl.zst")
}

// Write appends the raw representation of each tweet
func (a *Archive) Write(tweets []search.Tweet) error {
	if len(tweets) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}

	file, err := os.OpenFile(a.Path(a.now()), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}
	defer file.Close()

	enc, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	w := bufio.NewWriter(enc)
	for _, t := range tweets {
		w.Write(t.Raw)
		w.WriteByte('\n')
	}

	if err := w.Flush(); err != nil {
		enc.Close()
		return fmt.Errorf("failed to write archive: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finish archive frame: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync archive: %w", err)
	}
	return nil
}
