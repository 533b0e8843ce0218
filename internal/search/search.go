// Package search defines the boundary between the scraper and the remote
// search API: the query encoding, the validated page and tweet shapes, and the
// Transport the harvester drives.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrTransport marks network, HTTP and decoding failures of the search API.
	ErrTransport = errors.New("search transport failure")
	// ErrNoMorePages is returned by Next when the result set is exhausted.
	ErrNoMorePages = errors.New("no more result pages")
)

// Query is one search request over a set of OR-combined keywords
type Query struct {
	Keywords []string
	// SinceID limits results to ids strictly greater than it; 0 means unbounded.
	SinceID  int64
	PageSize int
}

// Expression returns the OR-combined search expression
func (q Query) Expression() string {
	return strings.Join(q.Keywords, " OR ")
}

// Encode renders the query string sent to the API. Its length is what the
// batcher measures against the query length budget.
func (q Query) Encode() string {
	var b strings.Builder
	b.WriteString("?q=")
	b.WriteString(url.QueryEscape(q.Expression()))
	b.WriteString("&result_type=recent&include_entities=true")
	if q.PageSize > 0 {
		b.WriteString("&count=")
		b.WriteString(strconv.Itoa(q.PageSize))
	}
	if q.SinceID > 0 {
		b.WriteString("&since_id=")
		b.WriteString(strconv.FormatInt(q.SinceID, 10))
	}
	return b.String()
}

// Tweet is a single search result validated at the transport boundary
type Tweet struct {
	ID        int64
	CreatedAt time.Time
	// Tags holds the cashtags ("$AAPL") and hashtags ("#golang") the tweet carries.
	Tags []string
	// Raw is the untouched API representation, archived as-is.
	Raw json.RawMessage
}

// Matches reports whether the tweet carries the keyword as a tag
func (t Tweet) Matches(keyword string) bool {
	for _, tag := range t.Tags {
		if strings.EqualFold(tag, keyword) {
			return true
		}
	}
	return false
}

// Page is one page of search results plus the quota signals that came with it
type Page struct {
	Query  Query
	Tweets []Tweet
	// RateLimitRemaining is the number of requests left in the current window.
	RateLimitRemaining int
	// RateLimitReset is the raw epoch-seconds reset hint, empty when absent.
	RateLimitReset string
	// NextResults is the opaque continuation for the next page, empty on the last page.
	NextResults string
}

// HasNext reports whether the API advertised another page
func (p *Page) HasNext() bool {
	return p != nil && p.NextResults != ""
}

// MaxID returns the largest tweet id on the page, or 0 for an empty page
func (p *Page) MaxID() int64 {
	var maxID int64
	for _, t := range p.Tweets {
		if t.ID > maxID {
			maxID = t.ID
		}
	}
	return maxID
}

// Stats are the lifetime counters of a transport
type Stats struct {
	Queries int
	Tweets  int
}

// Transport executes searches against the remote API
type Transport interface {
	// Search issues the first request of a query.
	Search(ctx context.Context, q Query) (*Page, error)
	// Next fetches the page following prev, or returns ErrNoMorePages.
	Next(ctx context.Context, prev *Page) (*Page, error)
	// Stats returns lifetime request and result counters.
	Stats() Stats
}
