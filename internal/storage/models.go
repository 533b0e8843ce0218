package storage

import "time"

// Checkpoint is the persisted search progress of one keyword.
// MinDate, MaxDate and MaxID are nil when no result has ever been seen.
type Checkpoint struct {
	Keyword    string
	Count      int
	MinDate    *time.Time
	MaxDate    *time.Time
	MaxID      *int64
	SearchedAt time.Time
}

// RunningTotal is the cumulative view of a keyword across all runs
type RunningTotal struct {
	Keyword    string
	Count      int
	MinDate    *time.Time
	MaxDate    *time.Time
	LastSearch time.Time
}

// ExpAverage is the smoothed per-run result count of a keyword
type ExpAverage struct {
	Keyword    string
	Count      float64
	MaxID      *int64
	SearchedAt time.Time
}

// RunRecord summarises one full pass over the keyword universe
type RunRecord struct {
	RunID              string        `json:"run_id"`
	StartTime          time.Time     `json:"start_time"`
	Duration           time.Duration `json:"duration"`
	Keywords           int           `json:"keywords"`
	TweetsGot          int           `json:"tweets_got"`
	QueriesSubmitted   int           `json:"queries_submitted"`
	Suspensions        int           `json:"suspensions"`
	CheckpointFailures int           `json:"checkpoint_failures"`
}

// WindowsUsed counts rate limit windows touched by the run: the first one plus
// one per suspension.
func (r RunRecord) WindowsUsed() int {
	return r.Suspensions + 1
}
