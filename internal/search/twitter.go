package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/alvmarrod/cashtag-scraper/internal/config"
)

const (
	searchPath = "/1.1/search/tweets.json"
	tokenPath  = "/oauth2/token"

	headerRemaining = "x-rate-limit-remaining"
	headerReset     = "x-rate-limit-reset"
)

// createdAtLayout is the timestamp format of the v1.1 API ("Wed Aug 27 13:08:45 +0000 2008")
const createdAtLayout = time.RubyDate

// TwitterClient is a Transport for the Twitter v1.1 standard search API
// using app-only authentication.
type TwitterClient struct {
	client *resty.Client

	mu    sync.Mutex
	stats Stats
}

type apiResponse struct {
	Statuses       []json.RawMessage `json:"statuses"`
	SearchMetadata struct {
		NextResults string `json:"next_results"`
	} `json:"search_metadata"`
}

type apiStatus struct {
	ID        int64  `json:"id"`
	CreatedAt string `json:"created_at"`
	Entities  struct {
		Symbols  []struct{ Text string } `json:"symbols"`
		Hashtags []struct{ Text string } `json:"hashtags"`
	} `json:"entities"`
}

// NewTwitterClient builds a client for baseURL authenticated with creds
func NewTwitterClient(baseURL string, creds *config.Credentials, timeout time.Duration) *TwitterClient {
	ctx := context.Background()

	if creds.HasUserContext() {
		logrus.Info("User access tokens found in credentials; search uses app-only auth and ignores them")
	}

	var httpClient *http.Client
	if creds.BearerToken != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: creds.BearerToken,
			TokenType:   "Bearer",
		}))
	} else {
		cc := &clientcredentials.Config{
			ClientID:     creds.ConsumerKey,
			ClientSecret: creds.ConsumerSecret,
			TokenURL:     strings.TrimRight(baseURL, "/") + tokenPath,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		httpClient = cc.Client(ctx)
	}
	httpClient.Timeout = timeout

	client := resty.NewWithClient(httpClient).
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json")

	return &TwitterClient{client: client}
}

// Search issues the first request of a query
func (c *TwitterClient) Search(ctx context.Context, q Query) (*Page, error) {
	return c.fetch(ctx, q, q.Encode())
}

// Next follows the next_results continuation of prev
func (c *TwitterClient) Next(ctx context.Context, prev *Page) (*Page, error) {
	if !prev.HasNext() {
		return nil, ErrNoMorePages
	}

	rawQuery := prev.NextResults
	// next_results drops since_id, so carry it over to keep the lower bound
	if prev.Query.SinceID > 0 && !strings.Contains(rawQuery, "since_id=") {
		rawQuery += "&since_id=" + strconv.FormatInt(prev.Query.SinceID, 10)
	}

	return c.fetch(ctx, prev.Query, rawQuery)
}

// Stats returns lifetime request and result counters
func (c *TwitterClient) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *TwitterClient) fetch(ctx context.Context, q Query, rawQuery string) (*Page, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(rawQuery, "?"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid query %q: %v", ErrTransport, rawQuery, err)
	}

	var body apiResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(values).
		SetResult(&body).
		Get(searchPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	c.mu.Lock()
	c.stats.Queries++
	c.mu.Unlock()

	if resp.IsError() {
		return nil, fmt.Errorf("%w: search returned status %d: %s", ErrTransport, resp.StatusCode(), truncate(resp.String(), 200))
	}

	page := &Page{
		Query:          q,
		RateLimitReset: resp.Header().Get(headerReset),
		NextResults:    body.SearchMetadata.NextResults,
	}

	// A missing remaining header is treated as an exhausted window.
	if remaining, err := strconv.Atoi(resp.Header().Get(headerRemaining)); err == nil {
		page.RateLimitRemaining = remaining
	}

	page.Tweets = make([]Tweet, 0, len(body.Statuses))
	for _, raw := range body.Statuses {
		tweet, err := decodeTweet(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		page.Tweets = append(page.Tweets, tweet)
	}

	c.mu.Lock()
	c.stats.Tweets += len(page.Tweets)
	c.mu.Unlock()

	logrus.Debugf("Search %q returned %d tweets (remaining=%d)", q.Expression(), len(page.Tweets), page.RateLimitRemaining)
	return page, nil
}

func decodeTweet(raw json.RawMessage) (Tweet, error) {
	var status apiStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return Tweet{}, fmt.Errorf("malformed status: %w", err)
	}
	if status.ID == 0 {
		return Tweet{}, fmt.Errorf("status without id")
	}

	createdAt, err := time.Parse(createdAtLayout, status.CreatedAt)
	if err != nil {
		return Tweet{}, fmt.Errorf("status %d: bad created_at %q: %w", status.ID, status.CreatedAt, err)
	}

	tags := make([]string, 0, len(status.Entities.Symbols)+len(status.Entities.Hashtags))
	for _, s := range status.Entities.Symbols {
		tags = append(tags, "$"+s.Text)
	}
	for _, h := range status.Entities.Hashtags {
		tags = append(tags, "#"+h.Text)
	}

	return Tweet{
		ID:        status.ID,
		CreatedAt: createdAt.UTC(),
		Tags:      tags,
		Raw:       raw,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
