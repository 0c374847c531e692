package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/forecast-collector/internal/domain"
	"github.com/couchcryptid/forecast-collector/internal/observability"
)

// Fetcher retrieves the hourly forecast for one location, handling its own
// retries.
type Fetcher interface {
	Fetch(ctx context.Context, loc domain.Location) (domain.Frame, error)
}

// FetchResult holds the outcome of one pass over the locations.
type FetchResult struct {
	Frames   []domain.Frame
	Failures []*domain.FetchError
}

// RequestScheduler fetches locations one at a time, in order, with a fixed
// delay between consecutive requests.
type RequestScheduler struct {
	fetcher Fetcher
	delay   time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRequestScheduler creates a scheduler. A nil clock uses real time.
func NewRequestScheduler(f Fetcher, delay time.Duration, clk clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *RequestScheduler {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &RequestScheduler{fetcher: f, delay: delay, clock: clk, logger: logger, metrics: metrics}
}

// FetchAll calls the fetcher once per location. The delay elapses before
// every request except the first, whether or not the previous one failed.
//
// A location that fails is recorded and skipped. A malformed API response
// or context cancellation stops the pass and is returned with the frames
// gathered so far.
func (s *RequestScheduler) FetchAll(ctx context.Context, locs []domain.Location) (FetchResult, error) {
	var res FetchResult
	for i, loc := range locs {
		if i > 0 && !domain.Sleep(ctx, s.clock, s.delay) {
			return res, ctx.Err()
		}

		frame, err := s.fetcher.Fetch(ctx, loc)
		switch {
		case err == nil:
			res.Frames = append(res.Frames, frame)
			s.metrics.LocationsFetched.Inc()
		case ctx.Err() != nil:
			return res, ctx.Err()
		case errors.Is(err, domain.ErrResponseSchema):
			return res, fmt.Errorf("abort at %s: %w", loc.Name, err)
		default:
			var fe *domain.FetchError
			if !errors.As(err, &fe) {
				fe = &domain.FetchError{Location: loc, Attempts: 1, Err: err}
			}
			res.Failures = append(res.Failures, fe)
			s.metrics.LocationsFailed.Inc()
			s.logger.Warn("location failed, skipping",
				"city", loc.Name,
				"attempts", fe.Attempts,
				"kind", domain.FailureKind(fe.Err),
				"error", fe.Err,
			)
		}
	}
	return res, nil
}
