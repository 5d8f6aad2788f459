package scheduler

import (
	"context"
	"time"

	"lesson-content-engine/internal/logger"
)

const StaleSweepTag = "stale-documents"

// StaleMarker fails documents stuck in processing since before cutoff.
type StaleMarker interface {
	FailStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// StaleSweep returns a job that fails documents whose indexing worker died
// without recording an outcome.
func StaleSweep(docs StaleMarker, maxAge time.Duration, now func() time.Time) func(ctx context.Context) error {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		n, err := docs.FailStale(ctx, now().Add(-maxAge))
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Warn("Marked stale documents as failed", "count", n, "max_age", maxAge.String())
		}
		return nil
	}
}

// ScheduleStaleSweep registers the sweep to run every interval.
func (s *Scheduler) ScheduleStaleSweep(docs StaleMarker, maxAge, interval time.Duration) error {
	return s.ScheduleInterval(StaleSweepTag, interval, StaleSweep(docs, maxAge, nil))
}
