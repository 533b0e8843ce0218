package keywords

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/alvmarrod/cashtag-scraper/internal/storage"
)

type stubScraper struct {
	keywords []string
	err      error
	calls    int
}

func (s *stubScraper) Scrape() ([]string, error) {
	s.calls++
	return s.keywords, s.err
}

func setupStore(t *testing.T) *storage.Storage {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.txt")
	if err := os.WriteFile(path, []byte("$AAPL\n\n  $MSFT \n#earnings\n\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile() error = %v", err)
	}
	want := []string{"$AAPL", "$MSFT", "#earnings"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FromFile() = %v, want %v", got, want)
	}

	if _, err := FromFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("FromFile() on a missing file should fail")
	}
}

func TestLoadPrefersFile(t *testing.T) {
	store := setupStore(t)
	scraper := &stubScraper{keywords: []string{"$IBM"}}

	path := filepath.Join(t.TempDir(), "keywords.txt")
	os.WriteFile(path, []byte("$TSLA\n"), 0644)

	got, err := NewSource(path, store, scraper).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"$TSLA"}) || scraper.calls != 0 {
		t.Errorf("Load() = %v with %d scrapes", got, scraper.calls)
	}
}

func TestLoadSeedsEmptyStore(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	scraper := &stubScraper{keywords: []string{"$AAPL", "$IBM"}}
	src := NewSource("", store, scraper)

	got, err := src.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"$AAPL", "$IBM"}) {
		t.Errorf("Load() = %v", got)
	}

	// Second load reads the seeded table
	if _, err := src.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if scraper.calls != 1 {
		t.Errorf("scraper called %d times, want 1", scraper.calls)
	}
}

func TestLoadUsesStoredKeywords(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	store.InsertKeywords(ctx, []string{"$GOOG"})
	scraper := &stubScraper{err: errors.New("offline")}

	got, err := NewSource("", store, scraper).Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"$GOOG"}) || scraper.calls != 0 {
		t.Errorf("Load() = %v with %d scrapes", got, scraper.calls)
	}
}

func TestLoadScrapeFailure(t *testing.T) {
	store := setupStore(t)
	scraper := &stubScraper{err: errors.New("listing unavailable")}

	if _, err := NewSource("", store, scraper).Load(context.Background()); err == nil {
		t.Fatal("Load() error = nil, want scrape failure")
	}
}
