// Package harvest runs query groups against the search API and advances each
// keyword's checkpoint once its results are archived.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/cashtag-scraper/internal/batcher"
	"github.com/alvmarrod/cashtag-scraper/internal/search"
	"github.com/alvmarrod/cashtag-scraper/internal/storage"
)

// CheckpointStore persists per-keyword progress and run summaries
type CheckpointStore interface {
	Checkpoint(ctx context.Context, keyword string) (*storage.Checkpoint, error)
	Checkpoints(ctx context.Context) ([]storage.Checkpoint, error)
	ActivityScores(ctx context.Context) (map[string]float64, error)
	UpsertCheckpoint(ctx context.Context, runID string, cp storage.Checkpoint) error
	SaveRunRecord(ctx context.Context, rec storage.RunRecord) error
}

// Gate paces requests and suspends until the quota window resets
type Gate interface {
	Wait(ctx context.Context) error
	AwaitReset(ctx context.Context, hint string) (time.Duration, error)
}

// Archiver durably records raw results before checkpoints move
type Archiver interface {
	Write(tweets []search.Tweet) error
}

// GroupResult is the outcome of one executed query group
type GroupResult struct {
	Checkpoints []storage.Checkpoint
	Suspensions int
	Pages       int
	Tweets      int
	// Failed counts checkpoints the store rejected.
	Failed int
}

// accumulator collects one keyword's statistics across the pages of a group
type accumulator struct {
	keyword string
	count   int
	minDate *time.Time
	maxDate *time.Time
	maxID   int64
}

func (a *accumulator) add(t search.Tweet) {
	a.count++
	created := t.CreatedAt
	if a.minDate == nil || created.Before(*a.minDate) {
		a.minDate = &created
	}
	if a.maxDate == nil || created.After(*a.maxDate) {
		a.maxDate = &created
	}
}

// Executor runs one query group at a time
type Executor struct {
	transport search.Transport
	gate      Gate
	store     CheckpointStore
	archive   Archiver
	pageSize  int
	now       func() time.Time
}

// NewExecutor creates an executor
func NewExecutor(transport search.Transport, gate Gate, store CheckpointStore, archive Archiver, pageSize int) *Executor {
	return &Executor{
		transport: transport,
		gate:      gate,
		store:     store,
		archive:   archive,
		pageSize:  pageSize,
		now:       time.Now,
	}
}

// Execute searches a group to exhaustion and writes one checkpoint per member.
// Transport and archive failures abort the group before any checkpoint is
// written; rejected checkpoint writes are logged and counted.
func (e *Executor) Execute(ctx context.Context, runID string, group batcher.Group) (GroupResult, error) {
	var result GroupResult
	if len(group.Keywords) == 0 {
		return result, nil
	}

	accs := make([]*accumulator, len(group.Keywords))
	for i, kw := range group.Keywords {
		accs[i] = &accumulator{keyword: kw}
	}

	query := group.Query(e.pageSize)

	if err := e.gate.Wait(ctx); err != nil {
		return result, err
	}
	page, err := e.transport.Search(ctx, query)
	if err != nil {
		return result, fmt.Errorf("search %q: %w", query.Expression(), err)
	}

	for {
		if err := e.archive.Write(page.Tweets); err != nil {
			return result, fmt.Errorf("archive page of %q: %w", query.Expression(), err)
		}
		result.Pages++
		result.Tweets += len(page.Tweets)
		fold(accs, page)

		if page.RateLimitRemaining <= 0 {
			if _, err := e.gate.AwaitReset(ctx, page.RateLimitReset); err != nil {
				return result, err
			}
			result.Suspensions++
		}

		if !page.HasNext() {
			break
		}
		if err := e.gate.Wait(ctx); err != nil {
			return result, err
		}
		page, err = e.transport.Next(ctx, page)
		if errors.Is(err, search.ErrNoMorePages) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("next page of %q: %w", query.Expression(), err)
		}
	}

	searchedAt := e.now()
	for _, acc := range accs {
		cp := e.finalize(ctx, acc, searchedAt)
		result.Checkpoints = append(result.Checkpoints, cp)

		if err := e.store.UpsertCheckpoint(ctx, runID, cp); err != nil {
			logrus.Warnf("Checkpoint for %s not saved, retrying next run: %v", acc.keyword, err)
			result.Failed++
		}
	}

	return result, nil
}

// fold adds a page to the accumulators. Every member advances to the page's
// max id, matched or not: a quiet keyword sharing a query with a busy one has
// still been searched up to that id.
func fold(accs []*accumulator, page *search.Page) {
	if len(page.Tweets) == 0 {
		return
	}

	pageMax := page.MaxID()
	for _, acc := range accs {
		if pageMax > acc.maxID {
			acc.maxID = pageMax
		}
	}

	for _, tweet := range page.Tweets {
		for _, acc := range accs {
			if tweet.Matches(acc.keyword) {
				acc.add(tweet)
			}
		}
	}
}

// finalize turns an accumulator into a checkpoint whose max id is never
// below the keyword's previous one
func (e *Executor) finalize(ctx context.Context, acc *accumulator, searchedAt time.Time) storage.Checkpoint {
	cp := storage.Checkpoint{
		Keyword:    acc.keyword,
		Count:      acc.count,
		MinDate:    acc.minDate,
		MaxDate:    acc.maxDate,
		SearchedAt: searchedAt,
	}

	maxID := acc.maxID
	prior, err := e.store.Checkpoint(ctx, acc.keyword)
	if err != nil {
		logrus.Warnf("Failed to read previous checkpoint for %s: %v", acc.keyword, err)
	} else if prior != nil && prior.MaxID != nil && *prior.MaxID > maxID {
		maxID = *prior.MaxID
	}

	if maxID > 0 {
		cp.MaxID = &maxID
	}
	return cp
}
