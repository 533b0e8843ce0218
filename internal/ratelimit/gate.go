// Package ratelimit paces requests against the search API and suspends the
// scraper until the API's quota window resets.
package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Observer is told when the gate suspends and resumes the scraper
type Observer interface {
	Suspended(until time.Time)
	Resumed()
}

// Gate tracks the quota reset hints reported by the transport
type Gate struct {
	fallback time.Duration
	buffer   time.Duration
	pacer    *rate.Limiter

	// now and sleep are swapped out by tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	observer Observer
}

// NewGate creates a gate. fallback is the suspension used when the reset hint
// is missing or broken, buffer is added past the reset instant, and rps > 0
// caps the request rate between suspensions.
func NewGate(fallback, buffer time.Duration, rps float64) *Gate {
	g := &Gate{
		fallback: fallback,
		buffer:   buffer,
		now:      time.Now,
		sleep:    Sleep,
	}
	if rps > 0 {
		g.pacer = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return g
}

// SetObserver registers the observer notified around suspensions
func (g *Gate) SetObserver(o Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observer = o
}

// Wait blocks until the pacer allows another request
func (g *Gate) Wait(ctx context.Context) error {
	if g.pacer == nil {
		return nil
	}
	return g.pacer.Wait(ctx)
}

// ResumeAt computes when the quota is expected back from the transport's
// epoch-seconds hint. ok is false when the hint could not be parsed.
func (g *Gate) ResumeAt(hint string) (until time.Time, ok bool) {
	now := g.now()

	hint = strings.TrimSpace(hint)
	if hint == "" {
		return now.Add(g.fallback + g.buffer), true
	}

	epoch, err := strconv.ParseInt(hint, 10, 64)
	if err != nil || epoch <= 0 {
		return now.Add(g.fallback), false
	}
	return time.Unix(epoch, 0).Add(g.buffer), true
}

// AwaitReset suspends the caller until the quota window described by hint
// resets. Returns how long it slept.
func (g *Gate) AwaitReset(ctx context.Context, hint string) (time.Duration, error) {
	until, ok := g.ResumeAt(hint)
	if !ok {
		logrus.Warnf("Unparseable rate limit reset %q, sleeping for %v", hint, g.fallback)
	}

	wait := until.Sub(g.now())
	if wait < 0 {
		wait = 0
	}

	logrus.Infof("Rate limit exhausted, sleeping until %s (%v)", until.Format("15:04:05"), wait.Round(time.Second))

	g.mu.Lock()
	observer := g.observer
	g.mu.Unlock()

	if observer != nil {
		observer.Suspended(until)
		defer observer.Resumed()
	}

	if err := g.sleep(ctx, wait); err != nil {
		return 0, err
	}
	return wait, nil
}

// Sleep pauses for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
