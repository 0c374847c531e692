package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/forecast-collector/internal/domain"
	"github.com/couchcryptid/forecast-collector/internal/observability"
)

// LocationSource supplies the ordered list of locations for a run.
type LocationSource interface {
	Locations(ctx context.Context) ([]domain.Location, error)
}

// BatchCommitter persists an aggregated batch.
type BatchCommitter interface {
	Commit(ctx context.Context, batch domain.Batch) error
}

// BatchPublisher forwards a committed batch downstream.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, runID string, batch domain.Batch) error
}

// Run outcome labels.
const (
	outcomeSuccess = "success"
	outcomeEmpty   = "empty"
	outcomeFailed  = "failed"
)

// Summary describes one completed (or aborted) run.
type Summary struct {
	RunID     string
	Locations int
	Fetched   int
	Failures  []*domain.FetchError
	Rows      int
	Duration  time.Duration
}

// Status is the outcome of the most recent run.
type Status struct {
	Summary
	Outcome    string
	Error      string
	FinishedAt time.Time
}

// Collector orchestrates one collection run: load locations, fetch them in
// sequence, aggregate, commit, and optionally publish.
type Collector struct {
	source    LocationSource
	scheduler *RequestScheduler
	committer BatchCommitter
	publisher BatchPublisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool

	mu   sync.Mutex
	last *Status
}

// New creates a Collector. publisher may be nil.
func New(src LocationSource, sched *RequestScheduler, committer BatchCommitter, publisher BatchPublisher, logger *slog.Logger, metrics *observability.Metrics) *Collector {
	return &Collector{
		source:    src,
		scheduler: sched,
		committer: committer,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once a run has committed data.
func (c *Collector) CheckReadiness(_ context.Context) error {
	if !c.ready.Load() {
		return errors.New("collector has not completed a run yet")
	}
	return nil
}

// Run performs a single collection run.
//
// Locations that fail are skipped and listed in the summary. If no location
// yields data the run returns domain.ErrEmptyResult and the store is not
// touched. Any other error (location source, malformed response, schema
// mismatch, persistence, publish) fails the run.
func (c *Collector) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	sum := Summary{RunID: uuid.NewString()}
	logger := c.logger.With("run_id", sum.RunID)

	c.metrics.CollectorRunning.Set(1)
	defer c.metrics.CollectorRunning.Set(0)

	outcome, err := c.run(ctx, logger, &sum)
	sum.Duration = time.Since(start)
	c.metrics.Runs.WithLabelValues(outcome).Inc()
	c.metrics.RunDuration.Observe(sum.Duration.Seconds())

	switch outcome {
	case outcomeSuccess:
		c.metrics.LastSuccessRun.SetToCurrentTime()
		c.ready.Store(true)
		logger.Info("run complete", summaryAttrs(sum)...)
	case outcomeEmpty:
		logger.Warn("run produced no data", summaryAttrs(sum)...)
	default:
		logger.Error("run failed", append(summaryAttrs(sum), "error", err)...)
	}
	c.recordStatus(sum, outcome, err)
	return sum, err
}

// LastRun returns the status of the most recent run, if any.
func (c *Collector) LastRun() (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Status{}, false
	}
	return *c.last, true
}

func (c *Collector) recordStatus(sum Summary, outcome string, err error) {
	st := &Status{Summary: sum, Outcome: outcome, FinishedAt: time.Now().UTC()}
	if err != nil {
		st.Error = err.Error()
	}
	c.mu.Lock()
	c.last = st
	c.mu.Unlock()
}

func (c *Collector) run(ctx context.Context, logger *slog.Logger, sum *Summary) (string, error) {
	locs, err := c.source.Locations(ctx)
	if err != nil {
		return outcomeFailed, fmt.Errorf("load locations: %w", err)
	}
	sum.Locations = len(locs)
	logger.Info("run started", "locations", len(locs))

	res, err := c.scheduler.FetchAll(ctx, locs)
	sum.Fetched = len(res.Frames)
	sum.Failures = res.Failures
	if err != nil {
		return outcomeFailed, fmt.Errorf("fetch: %w", err)
	}

	batch, err := domain.Aggregate(res.Frames)
	if err != nil {
		if errors.Is(err, domain.ErrSchemaMismatch) {
			c.metrics.SchemaMismatches.Inc()
		}
		return outcomeFailed, fmt.Errorf("aggregate: %w", err)
	}
	if batch.Len() == 0 {
		return outcomeEmpty, fmt.Errorf("%w: %d of %d locations returned data", domain.ErrEmptyResult, sum.Fetched, sum.Locations)
	}

	if err := c.committer.Commit(ctx, batch); err != nil {
		return outcomeFailed, err
	}
	sum.Rows = batch.Len()

	if c.publisher != nil {
		if err := c.publisher.PublishBatch(ctx, sum.RunID, batch); err != nil {
			return outcomeFailed, fmt.Errorf("publish: %w", err)
		}
	}
	return outcomeSuccess, nil
}

func summaryAttrs(s Summary) []any {
	failed := make([]string, 0, len(s.Failures))
	for _, f := range s.Failures {
		failed = append(failed, f.Location.Name)
	}
	return []any{
		"locations", s.Locations,
		"fetched", s.Fetched,
		"failed", failed,
		"rows", s.Rows,
		"duration", s.Duration,
	}
}
