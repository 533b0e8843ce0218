package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alvmarrod/cashtag-scraper/internal/search"
	"github.com/alvmarrod/cashtag-scraper/internal/storage"
)

// Tracker aggregates the statistics of one run and mirrors them to Prometheus
type Tracker struct {
	mu        sync.Mutex
	now       func() time.Time
	data      storage.RunRecord
	startStat search.Stats
	lastStat  search.Stats
	groups    int
	running   bool

	registry           *prometheus.Registry
	groupsTotal        prometheus.Counter
	queriesTotal       prometheus.Counter
	tweetsTotal        prometheus.Counter
	suspensionsTotal   prometheus.Counter
	keywordsTotal      prometheus.Counter
	checkpointFailures prometheus.Counter
	runsTotal          prometheus.Counter
	runsAborted        prometheus.Counter
	lastRunDuration    prometheus.Gauge
	lastRunTweets      prometheus.Gauge
}

// NewTracker creates a new metrics tracker with its own Prometheus registry
func NewTracker() *Tracker {
	t := &Tracker{
		now:      time.Now,
		registry: prometheus.NewRegistry(),
		groupsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_query_groups_total",
			Help: "Query groups executed to completion.",
		}),
		queriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_queries_total",
			Help: "Search requests submitted to the API.",
		}),
		tweetsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_tweets_fetched_total",
			Help: "Search results fetched from the API.",
		}),
		suspensionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_rate_limit_suspensions_total",
			Help: "Times the scraper slept until the rate limit window reset.",
		}),
		keywordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_keywords_processed_total",
			Help: "Keywords whose query group completed.",
		}),
		checkpointFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_checkpoint_write_failures_total",
			Help: "Checkpoint writes rejected by the store.",
		}),
		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_runs_total",
			Help: "Full passes over the keyword universe.",
		}),
		runsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_runs_aborted_total",
			Help: "Passes abandoned after a failed query group.",
		}),
		lastRunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_last_run_duration_seconds",
			Help: "Wall-clock duration of the last completed run.",
		}),
		lastRunTweets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_last_run_tweets",
			Help: "Results fetched by the last completed run.",
		}),
	}

	t.registry.MustRegister(
		t.groupsTotal, t.queriesTotal, t.tweetsTotal, t.suspensionsTotal,
		t.keywordsTotal, t.checkpointFailures, t.runsTotal, t.runsAborted,
		t.lastRunDuration, t.lastRunTweets,
	)
	return t
}

// Registry exposes the tracker's collectors for a /metrics handler
func (t *Tracker) Registry() *prometheus.Registry {
	return t.registry
}

// Begin starts a new run. stats is the transport's lifetime counters at the
// start, so the run only reports what it fetched itself.
func (t *Tracker) Begin(runID string, stats search.Stats) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data = storage.RunRecord{
		RunID:     runID,
		StartTime: t.now(),
	}
	t.startStat = stats
	t.lastStat = stats
	t.groups = 0
	t.running = true
}

// AddGroup records a finished query group
func (t *Tracker) AddGroup(keywords, suspensions int, stats search.Stats) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.groups++
	t.data.Keywords += keywords
	t.data.Suspensions += suspensions

	t.groupsTotal.Inc()
	t.keywordsTotal.Add(float64(keywords))
	t.suspensionsTotal.Add(float64(suspensions))
	t.observe(stats)
}

// IncrementCheckpointFailures counts a rejected checkpoint write
func (t *Tracker) IncrementCheckpointFailures() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.CheckpointFailures++
	t.checkpointFailures.Inc()
}

// Finish closes the run and returns its record, assembled in memory
func (t *Tracker) Finish(stats search.Stats) storage.RunRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.observe(stats)
	t.data.Duration = t.now().Sub(t.data.StartTime)
	t.data.QueriesSubmitted = stats.Queries - t.startStat.Queries
	t.data.TweetsGot = stats.Tweets - t.startStat.Tweets
	t.running = false

	t.runsTotal.Inc()
	t.lastRunDuration.Set(t.data.Duration.Seconds())
	t.lastRunTweets.Set(float64(t.data.TweetsGot))

	return t.data
}

// Abort closes a failed run. The snapshot keeps what the run did up to the
// failure; nothing is reported as a completed run.
func (t *Tracker) Abort(stats search.Stats) storage.RunRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return t.data
	}

	t.observe(stats)
	t.data.Duration = t.now().Sub(t.data.StartTime)
	t.data.QueriesSubmitted = stats.Queries - t.startStat.Queries
	t.data.TweetsGot = stats.Tweets - t.startStat.Tweets
	t.running = false

	t.runsAborted.Inc()
	return t.data
}

// observe moves the transport counters forward; caller holds mu
func (t *Tracker) observe(stats search.Stats) {
	if dq := stats.Queries - t.lastStat.Queries; dq > 0 {
		t.queriesTotal.Add(float64(dq))
	}
	if dt := stats.Tweets - t.lastStat.Tweets; dt > 0 {
		t.tweetsTotal.Add(float64(dt))
	}
	t.lastStat = stats
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() storage.RunRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := t.data
	if t.running {
		snapshot.Duration = t.now().Sub(snapshot.StartTime)
		snapshot.QueriesSubmitted = t.lastStat.Queries - t.startStat.Queries
		snapshot.TweetsGot = t.lastStat.Tweets - t.startStat.Tweets
	}
	return snapshot
}

type fileRecord struct {
	storage.RunRecord
	WindowsUsed       int    `json:"windows_used"`
	TerminationReason string `json:"termination_reason"`
}

// WriteToFile exports the current run summary to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	snapshot := t.GetSnapshot()

	jsonData, err := json.MarshalIndent(fileRecord{
		RunRecord:         snapshot,
		WindowsUsed:       snapshot.WindowsUsed(),
		TerminationReason: reason,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress formats current metrics for periodic console updates
func (t *Tracker) LogProgress() string {
	snapshot := t.GetSnapshot()

	t.mu.Lock()
	groups := t.groups
	t.mu.Unlock()

	return fmt.Sprintf("Keywords: %d | Groups: %d | Queries: %d | Tweets: %d | Windows: %d | Failed checkpoints: %d",
		snapshot.Keywords,
		groups,
		snapshot.QueriesSubmitted,
		snapshot.TweetsGot,
		snapshot.WindowsUsed(),
		snapshot.CheckpointFailures,
	)
}
