package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/alvmarrod/cashtag-scraper/internal/storage/migrations"
)

// ErrEmptyKeyword is returned when a checkpoint has no keyword
var ErrEmptyKeyword = errors.New("checkpoint keyword is empty")

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new Storage instance, opening/creating the DB and migrating the schema
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The scraper is the only writer; one connection keeps SQLite transactions serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storage := &Storage{db: db}

	if err := storage.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// runMigrations applies the embedded SQL migrations
func (s *Storage) runMigrations() error {
	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Keywords returns the keyword universe in insertion order
func (s *Storage) Keywords(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT keyword FROM keywords ORDER BY rowid ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to load keywords: %w", err)
	}
	defer rows.Close()

	var keywords []string
	for rows.Next() {
		var kw string
		if err := rows.Scan(&kw); err != nil {
			return nil, fmt.Errorf("failed to scan keyword: %w", err)
		}
		keywords = append(keywords, kw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keywords: %w", err)
	}

	return keywords, nil
}

// InsertKeywords adds keywords to the universe, ignoring ones already present.
// Returns the number of new keywords.
func (s *Storage) InsertKeywords(ctx context.Context, keywords []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, kw := range keywords {
		res, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO keywords (keyword) VALUES (?)", kw)
		if err != nil {
			return 0, fmt.Errorf("failed to insert keyword %s: %w", kw, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit keywords: %w", err)
	}
	return inserted, nil
}

// Checkpoint retrieves a keyword's checkpoint, returns nil if not found
func (s *Storage) Checkpoint(ctx context.Context, keyword string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT keyword, count, min_date, max_date, max_id, search_date
		FROM latest_search
		WHERE keyword = ?
	`, keyword)

	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return cp, nil
}

// Checkpoints returns every persisted checkpoint
func (s *Storage) Checkpoints(ctx context.Context) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT keyword, count, min_date, max_date, max_id, search_date
		FROM latest_search
		ORDER BY keyword ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, *cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}
	return checkpoints, nil
}

// UpsertCheckpoint records one keyword's search result for a run.
//
// In a single transaction it replaces the latest checkpoint (max_id never
// moves backwards), appends the run to the search history and, the first time
// a (run, keyword) pair is seen, folds the count into the running total and
// the exponential average. Replaying the same pair leaves the aggregates alone.
func (s *Storage) UpsertCheckpoint(ctx context.Context, runID string, cp Checkpoint) error {
	if cp.Keyword == "" {
		return ErrEmptyKeyword
	}
	cp.MinDate = utc(cp.MinDate)
	cp.MaxDate = utc(cp.MaxDate)
	cp.SearchedAt = cp.SearchedAt.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO searches (run_id, keyword, count, min_date, max_date, max_id, search_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, keyword) DO NOTHING
	`, runID, cp.Keyword, cp.Count, cp.MinDate, cp.MaxDate, cp.MaxID, cp.SearchedAt)
	if err != nil {
		return fmt.Errorf("failed to record search history: %w", err)
	}
	fresh, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO latest_search (keyword, count, min_date, max_date, max_id, search_date)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(keyword) DO UPDATE SET
			count = excluded.count,
			min_date = excluded.min_date,
			max_date = excluded.max_date,
			max_id = CASE
				WHEN latest_search.max_id IS NULL THEN excluded.max_id
				WHEN excluded.max_id IS NULL THEN latest_search.max_id
				ELSE MAX(latest_search.max_id, excluded.max_id)
			END,
			search_date = excluded.search_date
	`, cp.Keyword, cp.Count, cp.MinDate, cp.MaxDate, cp.MaxID, cp.SearchedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert checkpoint: %w", err)
	}

	if fresh == 1 {
		if err := updateTotals(ctx, tx, cp); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO exp_averages (keyword, count, max_id, search_date)
			VALUES (?, ? * 0.2, ?, ?)
			ON CONFLICT(keyword) DO UPDATE SET
				count = excluded.count + exp_averages.count * 0.8,
				max_id = COALESCE(excluded.max_id, exp_averages.max_id),
				search_date = excluded.search_date
		`, cp.Keyword, cp.Count, cp.MaxID, cp.SearchedAt)
		if err != nil {
			return fmt.Errorf("failed to update exponential average: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// updateTotals folds a checkpoint into the keyword's running total
func updateTotals(ctx context.Context, tx *sql.Tx, cp Checkpoint) error {
	var (
		count            int
		minDate, maxDate sql.NullTime
	)
	err := tx.QueryRowContext(ctx, "SELECT count, min_date, max_date FROM totals WHERE keyword = ?", cp.Keyword).
		Scan(&count, &minDate, &maxDate)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read running total: %w", err)
	}

	newMin := earliest(nullTime(minDate), cp.MinDate)
	newMax := latest(nullTime(maxDate), cp.MaxDate)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO totals (keyword, count, min_date, max_date, last_search)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(keyword) DO UPDATE SET
			count = excluded.count,
			min_date = excluded.min_date,
			max_date = excluded.max_date,
			last_search = excluded.last_search
	`, cp.Keyword, count+cp.Count, newMin, newMax, cp.SearchedAt)
	if err != nil {
		return fmt.Errorf("failed to update running total: %w", err)
	}
	return nil
}

// RunningTotal retrieves a keyword's cumulative stats, returns nil if not found
func (s *Storage) RunningTotal(ctx context.Context, keyword string) (*RunningTotal, error) {
	var (
		total            RunningTotal
		minDate, maxDate sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT keyword, count, min_date, max_date, last_search
		FROM totals
		WHERE keyword = ?
	`, keyword).Scan(&total.Keyword, &total.Count, &minDate, &maxDate, &total.LastSearch)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get running total: %w", err)
	}

	total.MinDate = nullTime(minDate)
	total.MaxDate = nullTime(maxDate)
	return &total, nil
}

// ExpAverage retrieves a keyword's exponential average, returns nil if not found
func (s *Storage) ExpAverage(ctx context.Context, keyword string) (*ExpAverage, error) {
	var (
		avg   ExpAverage
		maxID sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT keyword, count, max_id, search_date
		FROM exp_averages
		WHERE keyword = ?
	`, keyword).Scan(&avg.Keyword, &avg.Count, &maxID, &avg.SearchedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exponential average: %w", err)
	}

	avg.MaxID = nullInt(maxID)
	return &avg, nil
}

// ActivityScores returns the exponential average of every scored keyword
func (s *Storage) ActivityScores(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT keyword, count FROM exp_averages")
	if err != nil {
		return nil, fmt.Errorf("failed to load activity scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var (
			kw    string
			score float64
		)
		if err := rows.Scan(&kw, &score); err != nil {
			return nil, fmt.Errorf("failed to scan activity score: %w", err)
		}
		scores[kw] = score
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity scores: %w", err)
	}
	return scores, nil
}

// SaveRunRecord persists the summary of a finished run
func (s *Storage) SaveRunRecord(ctx context.Context, rec RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO iterations (start_time, run_id, duration_min, duration_sec, keywords,
			tweets_got, queries_submitted, windows_used, checkpoint_failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.StartTime.UTC(), rec.RunID, int(rec.Duration.Round(time.Minute)/time.Minute), rec.Duration.Seconds(),
		rec.Keywords, rec.TweetsGot, rec.QueriesSubmitted, rec.WindowsUsed(), rec.CheckpointFailures)
	if err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}
	return nil
}

// RunRecords returns persisted run summaries, newest first
func (s *Storage) RunRecords(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, start_time, duration_sec, keywords, tweets_got, queries_submitted,
			windows_used, checkpoint_failures
		FROM iterations
		ORDER BY start_time DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load run records: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var (
			rec         RunRecord
			durationSec float64
			windowsUsed int
		)
		if err := rows.Scan(&rec.RunID, &rec.StartTime, &durationSec, &rec.Keywords, &rec.TweetsGot,
			&rec.QueriesSubmitted, &windowsUsed, &rec.CheckpointFailures); err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		rec.Duration = time.Duration(durationSec * float64(time.Second))
		rec.Suspensions = windowsUsed - 1
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run records: %w", err)
	}
	return records, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var (
		cp               Checkpoint
		minDate, maxDate sql.NullTime
		maxID            sql.NullInt64
	)
	if err := row.Scan(&cp.Keyword, &cp.Count, &minDate, &maxDate, &maxID, &cp.SearchedAt); err != nil {
		return nil, err
	}
	cp.MinDate = nullTime(minDate)
	cp.MaxDate = nullTime(maxDate)
	cp.MaxID = nullInt(maxID)
	return &cp, nil
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullInt(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func earliest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || a.Before(*b) {
		return a
	}
	return b
}

func latest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || a.After(*b) {
		return a
	}
	return b
}
