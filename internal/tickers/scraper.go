// Package tickers scrapes stock symbols from exchange listing pages and turns
// them into cashtag keywords.
package tickers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/cashtag-scraper/internal/config"
)

// Scraper collects ticker symbols from one listing page per market
type Scraper struct {
	src       config.TickerSource
	timeout   time.Duration
	blacklist map[string]bool

	mu      sync.Mutex
	symbols map[string]bool
	errs    []error
}

// NewScraper creates a scraper for the configured listing pages
func NewScraper(src config.TickerSource, timeout time.Duration) *Scraper {
	blacklist := make(map[string]bool, len(src.Blacklist))
	for _, s := range src.Blacklist {
		blacklist[strings.ToUpper(s)] = true
	}

	return &Scraper{
		src:       src,
		timeout:   timeout,
		blacklist: blacklist,
	}
}

// newCollector configures the colly collector with callbacks
func (s *Scraper) newCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.Async(true),
		colly.MaxDepth(1),
	)

	if s.timeout > 0 {
		c.SetRequestTimeout(s.timeout)
	}

	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 2,
	})

	// Listing rows link to the quote page, e.g. ppaper.php?paper=AAPL.O
	c.OnHTML(s.src.Selector, func(e *colly.HTMLElement) {
		if kw, ok := s.keyword(e.Attr("href")); ok {
			s.mu.Lock()
			s.symbols[kw] = true
			s.mu.Unlock()
		}
	})

	c.OnResponse(func(r *colly.Response) {
		logrus.Debugf("Fetched ticker listing %s (status=%d)", r.Request.URL, r.StatusCode)
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.Request != nil {
			logrus.Errorf("Ticker listing %s failed: %v (status: %d)", r.Request.URL, err, r.StatusCode)
			err = fmt.Errorf("%s: %w", r.Request.URL, err)
		}
		s.mu.Lock()
		s.errs = append(s.errs, err)
		s.mu.Unlock()
	})

	return c
}

// keyword turns a quote link into a cashtag: "...?paper=AAPL.O" becomes "$AAPL"
func (s *Scraper) keyword(href string) (string, bool) {
	_, symbol, found := strings.Cut(href, "=")
	if !found {
		return "", false
	}
	symbol, _, _ = strings.Cut(symbol, ".")
	symbol = strings.TrimSpace(symbol)

	if symbol == "" || s.blacklist[strings.ToUpper(symbol)] {
		return "", false
	}
	return "$" + symbol, true
}

// Scrape visits every market listing and returns the sorted, de-duplicated
// cashtags. Any failed listing fails the whole scrape so a partial universe is
// never stored.
func (s *Scraper) Scrape() ([]string, error) {
	s.mu.Lock()
	s.symbols = make(map[string]bool)
	s.errs = nil
	s.mu.Unlock()

	c := s.newCollector()
	for _, market := range s.src.Markets {
		target := s.src.BaseURL + market
		if err := c.Visit(target); err != nil {
			// Let the listings already requested finish before giving up
			c.Wait()
			return nil, fmt.Errorf("visit %s: %w", target, err)
		}
	}
	c.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.errs) > 0 {
		return nil, fmt.Errorf("scrape tickers: %w", errors.Join(s.errs...))
	}

	keywords := make([]string, 0, len(s.symbols))
	for kw := range s.symbols {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)

	logrus.Infof("Scraped %d tickers from %d markets", len(keywords), len(s.src.Markets))
	return keywords, nil
}
