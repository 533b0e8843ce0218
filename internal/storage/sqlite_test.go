package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := NewStorage(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func ptrTime(t time.Time) *time.Time { return &t }
func ptrInt(v int64) *int64         { return &v }

func TestNewStorageIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	for i := 0; i < 2; i++ {
		store, err := NewStorage(path)
		if err != nil {
			t.Fatalf("NewStorage() pass %d error = %v", i, err)
		}
		store.Close()
	}
}

func TestCheckpointMissingReturnsNil(t *testing.T) {
	store := setupTestStorage(t)

	cp, err := store.Checkpoint(context.Background(), "$NONE")
	if err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	if cp != nil {
		t.Errorf("Checkpoint() = %+v, want nil", cp)
	}
}

func TestUpsertCheckpointAccumulates(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	first := time.Date(2017, 6, 5, 10, 0, 0, 0, time.UTC)
	last := time.Date(2017, 6, 5, 12, 0, 0, 0, time.UTC)

	// Scenario A: three results on the first run
	err := store.UpsertCheckpoint(ctx, "run-1", Checkpoint{
		Keyword:    "$AAA",
		Count:      3,
		MinDate:    ptrTime(first),
		MaxDate:    ptrTime(last),
		MaxID:      ptrInt(12),
		SearchedAt: last,
	})
	if err != nil {
		t.Fatalf("UpsertCheckpoint() error = %v", err)
	}

	cp, err := store.Checkpoint(ctx, "$AAA")
	if err != nil || cp == nil {
		t.Fatalf("Checkpoint() = %v, %v", cp, err)
	}
	if cp.Count != 3 || cp.MaxID == nil || *cp.MaxID != 12 {
		t.Errorf("checkpoint = %+v", cp)
	}
	if cp.MinDate == nil || !cp.MinDate.Equal(first) || cp.MaxDate == nil || !cp.MaxDate.Equal(last) {
		t.Errorf("checkpoint dates = %v, %v", cp.MinDate, cp.MaxDate)
	}

	// Scenario B: nothing new, the store is given no id at all
	err = store.UpsertCheckpoint(ctx, "run-2", Checkpoint{
		Keyword:    "$AAA",
		Count:      0,
		SearchedAt: last.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("UpsertCheckpoint() error = %v", err)
	}

	cp, _ = store.Checkpoint(ctx, "$AAA")
	if cp.Count != 0 || cp.MaxID == nil || *cp.MaxID != 12 {
		t.Errorf("checkpoint after empty run = %+v, want max id 12 carried forward", cp)
	}

	total, err := store.RunningTotal(ctx, "$AAA")
	if err != nil || total == nil {
		t.Fatalf("RunningTotal() = %v, %v", total, err)
	}
	if total.Count != 3 || !total.MinDate.Equal(first) || !total.MaxDate.Equal(last) {
		t.Errorf("running total = %+v", total)
	}

	avg, err := store.ExpAverage(ctx, "$AAA")
	if err != nil || avg == nil {
		t.Fatalf("ExpAverage() = %v, %v", avg, err)
	}
	// 3*0.2 = 0.6, then 0*0.2 + 0.6*0.8 = 0.48
	if math.Abs(avg.Count-0.48) > 1e-9 {
		t.Errorf("exp average = %v, want 0.48", avg.Count)
	}
}

func TestUpsertCheckpointNeverLowersMaxID(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	for i, id := range []int64{50, 20, 70, 60} {
		runID := string(rune('a' + i))
		if err := store.UpsertCheckpoint(ctx, runID, Checkpoint{Keyword: "$MON", Count: 1, MaxID: ptrInt(id), SearchedAt: now}); err != nil {
			t.Fatalf("UpsertCheckpoint(%d) error = %v", id, err)
		}
	}

	cp, _ := store.Checkpoint(ctx, "$MON")
	if *cp.MaxID != 70 {
		t.Errorf("max id = %d, want 70", *cp.MaxID)
	}
}

func TestUpsertCheckpointReplayDoesNotDoubleCount(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	cp := Checkpoint{Keyword: "$DUP", Count: 5, MaxID: ptrInt(9), SearchedAt: time.Now()}

	for i := 0; i < 3; i++ {
		if err := store.UpsertCheckpoint(ctx, "same-run", cp); err != nil {
			t.Fatalf("UpsertCheckpoint() error = %v", err)
		}
	}
	if err := store.UpsertCheckpoint(ctx, "next-run", cp); err != nil {
		t.Fatalf("UpsertCheckpoint() error = %v", err)
	}

	total, _ := store.RunningTotal(ctx, "$DUP")
	if total.Count != 10 {
		t.Errorf("running total = %d, want 10 (two distinct runs)", total.Count)
	}
	avg, _ := store.ExpAverage(ctx, "$DUP")
	// 5*0.2 = 1, then 5*0.2 + 1*0.8 = 1.8
	if math.Abs(avg.Count-1.8) > 1e-9 {
		t.Errorf("exp average = %v, want 1.8", avg.Count)
	}
}

func TestUpsertCheckpointRejectsEmptyKeyword(t *testing.T) {
	store := setupTestStorage(t)
	if err := store.UpsertCheckpoint(context.Background(), "r", Checkpoint{}); err != ErrEmptyKeyword {
		t.Errorf("UpsertCheckpoint() error = %v, want ErrEmptyKeyword", err)
	}
}

func TestKeywordsPreserveOrderAndIgnoreDuplicates(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	n, err := store.InsertKeywords(ctx, []string{"$ZZZ", "$AAA", "$ZZZ", "$MMM"})
	if err != nil {
		t.Fatalf("InsertKeywords() error = %v", err)
	}
	if n != 3 {
		t.Errorf("inserted = %d, want 3", n)
	}

	got, err := store.Keywords(ctx)
	if err != nil {
		t.Fatalf("Keywords() error = %v", err)
	}
	want := []string{"$ZZZ", "$AAA", "$MMM"}
	if len(got) != len(want) {
		t.Fatalf("Keywords() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keywords()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestActivityScoresAndCheckpoints(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	store.UpsertCheckpoint(ctx, "r1", Checkpoint{Keyword: "$A", Count: 10, MaxID: ptrInt(1), SearchedAt: now})
	store.UpsertCheckpoint(ctx, "r1", Checkpoint{Keyword: "$B", Count: 0, SearchedAt: now})

	scores, err := store.ActivityScores(ctx)
	if err != nil {
		t.Fatalf("ActivityScores() error = %v", err)
	}
	if len(scores) != 2 || math.Abs(scores["$A"]-2) > 1e-9 || scores["$B"] != 0 {
		t.Errorf("scores = %v", scores)
	}

	cps, err := store.Checkpoints(ctx)
	if err != nil {
		t.Fatalf("Checkpoints() error = %v", err)
	}
	if len(cps) != 2 || cps[0].Keyword != "$A" || cps[1].MaxID != nil {
		t.Errorf("checkpoints = %+v", cps)
	}
}

func TestSaveRunRecord(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	rec := RunRecord{
		RunID:            "run-1",
		StartTime:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:         90 * time.Second,
		Keywords:         12,
		TweetsGot:        340,
		QueriesSubmitted: 7,
		Suspensions:      2,
	}
	if err := store.SaveRunRecord(ctx, rec); err != nil {
		t.Fatalf("SaveRunRecord() error = %v", err)
	}

	records, err := store.RunRecords(ctx, 10)
	if err != nil {
		t.Fatalf("RunRecords() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	got := records[0]
	if got.RunID != "run-1" || got.Suspensions != 2 || got.WindowsUsed() != 3 || got.Duration != 90*time.Second {
		t.Errorf("record = %+v", got)
	}
	if !got.StartTime.Equal(rec.StartTime) {
		t.Errorf("start time = %v, want %v", got.StartTime, rec.StartTime)
	}
}
