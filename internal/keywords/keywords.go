// Package keywords resolves the keyword universe of a run.
package keywords

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Store holds the persisted keyword list
type Store interface {
	Keywords(ctx context.Context) ([]string, error)
	InsertKeywords(ctx context.Context, keywords []string) (int, error)
}

// Scraper produces keywords when the store has none
type Scraper interface {
	Scrape() ([]string, error)
}

// FromFile reads one keyword per line, skipping blank lines
func FromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open keywords file: %w", err)
	}
	defer f.Close()

	var keywords []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		keywords = append(keywords, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read keywords file: %w", err)
	}

	return keywords, nil
}

// Source picks the keyword universe: a file when one is configured, else the
// store, seeded from the scraper the first time the store is empty
type Source struct {
	file    string
	store   Store
	scraper Scraper
}

// NewSource creates a keyword source; file may be empty and scraper may be nil
func NewSource(file string, store Store, scraper Scraper) *Source {
	return &Source{file: file, store: store, scraper: scraper}
}

// Load returns the keyword universe for the next run. It is re-read every run
// so edits to the file or table take effect without a restart.
func (s *Source) Load(ctx context.Context) ([]string, error) {
	if s.file != "" {
		keywords, err := FromFile(s.file)
		if err != nil {
			return nil, err
		}
		logrus.Debugf("Loaded %d keywords from %s", len(keywords), s.file)
		return keywords, nil
	}

	keywords, err := s.store.Keywords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load keywords: %w", err)
	}
	if len(keywords) > 0 || s.scraper == nil {
		return keywords, nil
	}

	logrus.Info("No keywords in DB, fetching tickers...")
	scraped, err := s.scraper.Scrape()
	if err != nil {
		return nil, err
	}

	inserted, err := s.store.InsertKeywords(ctx, scraped)
	if err != nil {
		// The scraped list is still usable for this run
		logrus.Warnf("Failed to store scraped tickers: %v", err)
		return scraped, nil
	}
	logrus.Infof("Stored %d tickers as keywords", inserted)

	return s.store.Keywords(ctx)
}
