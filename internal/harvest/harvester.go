package harvest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/cashtag-scraper/internal/batcher"
	"github.com/alvmarrod/cashtag-scraper/internal/metrics"
	"github.com/alvmarrod/cashtag-scraper/internal/search"
	"github.com/alvmarrod/cashtag-scraper/internal/storage"
)

// Harvester performs full passes over the keyword universe
type Harvester struct {
	store     CheckpointStore
	planner   *batcher.Planner
	executor  *Executor
	transport search.Transport
	tracker   *metrics.Tracker
	newRunID  func() string
}

// NewHarvester wires the planner and executor to a store and tracker
func NewHarvester(store CheckpointStore, planner *batcher.Planner, executor *Executor, transport search.Transport, tracker *metrics.Tracker) *Harvester {
	return &Harvester{
		store:     store,
		planner:   planner,
		executor:  executor,
		transport: transport,
		tracker:   tracker,
		newRunID:  uuid.NewString,
	}
}

// RunOnce plans the universe into query groups, executes them one after the
// other and persists the run record. A transport failure aborts the run;
// checkpoints of the groups already completed stay written.
func (h *Harvester) RunOnce(ctx context.Context, universe []string) (storage.RunRecord, error) {
	runID := h.newRunID()
	h.tracker.Begin(runID, h.transport.Stats())

	scores, err := h.store.ActivityScores(ctx)
	if err != nil {
		h.tracker.Abort(h.transport.Stats())
		return storage.RunRecord{}, fmt.Errorf("load activity scores: %w", err)
	}

	checkpoints, err := h.store.Checkpoints(ctx)
	if err != nil {
		h.tracker.Abort(h.transport.Stats())
		return storage.RunRecord{}, fmt.Errorf("load checkpoints: %w", err)
	}
	byKeyword := make(map[string]storage.Checkpoint, len(checkpoints))
	for _, cp := range checkpoints {
		byKeyword[cp.Keyword] = cp
	}

	groups := h.planner.Plan(universe, scores, byKeyword)
	logrus.Infof("Run %s: %d keywords planned into %d query groups", runID, len(universe), len(groups))

	for i, group := range groups {
		logrus.Debugf("Group %d/%d: %v (since_id=%d)", i+1, len(groups), group.Keywords, group.SinceID)

		result, err := h.executor.Execute(ctx, runID, group)
		if err != nil {
			rec := h.tracker.Abort(h.transport.Stats())
			logrus.Warnf("Run %s aborted after %v at group %d/%d", runID, rec.Duration.Round(time.Second), i+1, len(groups))
			return storage.RunRecord{}, fmt.Errorf("query group %d/%d: %w", i+1, len(groups), err)
		}

		h.tracker.AddGroup(len(group.Keywords), result.Suspensions, h.transport.Stats())
		for j := 0; j < result.Failed; j++ {
			h.tracker.IncrementCheckpointFailures()
		}
	}

	rec := h.tracker.Finish(h.transport.Stats())
	if err := h.store.SaveRunRecord(ctx, rec); err != nil {
		logrus.Errorf("Failed to save run record %s: %v", runID, err)
	}

	logrus.Infof("Total number of windows: %d", rec.WindowsUsed())
	logrus.Infof("Total time: %v", rec.Duration.Round(time.Second))
	logrus.Infof("Total tweets got: %d", rec.TweetsGot)

	return rec, nil
}
