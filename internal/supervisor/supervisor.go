// Package supervisor repeats full passes over the keyword universe and decides
// how long to pause after each one.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/cashtag-scraper/internal/ratelimit"
	"github.com/alvmarrod/cashtag-scraper/internal/search"
	"github.com/alvmarrod/cashtag-scraper/internal/storage"
)

// State of the supervisory loop
type State int

const (
	Running State = iota
	// Idle is the pause between two successful cycles.
	Idle
	SuspendedRateLimit
	SuspendedErrorBackoff
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Idle:
		return "idle"
	case SuspendedRateLimit:
		return "suspended_rate_limit"
	case SuspendedErrorBackoff:
		return "suspended_error_backoff"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Runner performs one full pass over a keyword universe
type Runner interface {
	RunOnce(ctx context.Context, universe []string) (storage.RunRecord, error)
}

// KeywordLoader resolves the keyword universe before each pass
type KeywordLoader interface {
	Load(ctx context.Context) ([]string, error)
}

// Pauses between cycles
type Pauses struct {
	Cycle          time.Duration
	TransportError time.Duration
	Error          time.Duration
}

// Supervisor owns the retry policy around Runner
type Supervisor struct {
	runner   Runner
	keywords KeywordLoader
	pauses   Pauses
	sleep    func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	state  State
	cycles int
}

// New creates a supervisor in the Stopped state
func New(runner Runner, keywords KeywordLoader, pauses Pauses) *Supervisor {
	return &Supervisor{
		runner:   runner,
		keywords: keywords,
		pauses:   pauses,
		sleep:    ratelimit.Sleep,
		state:    Stopped,
	}
}

// State returns the current state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cycles returns how many passes were started
func (s *Supervisor) Cycles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != state {
		logrus.Debugf("Supervisor: %s -> %s", s.state, state)
	}
	s.state = state
}

// Suspended is called by the rate limit gate when quota runs out
func (s *Supervisor) Suspended(until time.Time) {
	s.setState(SuspendedRateLimit)
}

// Resumed is called by the rate limit gate once quota is back
func (s *Supervisor) Resumed() {
	s.setState(Running)
}

// RunCycle loads the universe and performs a single pass
func (s *Supervisor) RunCycle(ctx context.Context) (storage.RunRecord, error) {
	s.mu.Lock()
	s.cycles++
	cycle := s.cycles
	s.mu.Unlock()

	s.setState(Running)
	logrus.Infof("Started cycle %d", cycle)

	universe, err := s.keywords.Load(ctx)
	if err != nil {
		return storage.RunRecord{}, fmt.Errorf("load keywords: %w", err)
	}
	return s.runner.RunOnce(ctx, universe)
}

// Run repeats cycles until ctx is cancelled. Transport failures back off
// longer than other failures; both restart from the persisted checkpoints.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.setState(Stopped)

	for {
		_, err := s.RunCycle(ctx)

		var backoff time.Duration
		switch {
		case ctx.Err() != nil:
			logrus.Info("Supervisor stopping")
			return nil
		case errors.Is(err, search.ErrTransport):
			logrus.Warnf("Transport failure: %v", err)
			backoff = s.pauses.TransportError
		case err != nil:
			logrus.Warnf("Something unexpected happened: %v", err)
			backoff = s.pauses.Error
		}

		if backoff > 0 {
			logrus.Warnf("Pausing for %v", backoff)
			s.setState(SuspendedErrorBackoff)
			if !s.pause(ctx, backoff) {
				return nil
			}
		}

		logrus.Infof("Pausing for %v, safe to terminate", s.pauses.Cycle)
		s.setState(Idle)
		if !s.pause(ctx, s.pauses.Cycle) {
			return nil
		}
	}
}

// pause reports false once ctx is cancelled
func (s *Supervisor) pause(ctx context.Context, d time.Duration) bool {
	if err := s.sleep(ctx, d); err != nil {
		logrus.Info("Supervisor stopping")
		return false
	}
	return true
}
