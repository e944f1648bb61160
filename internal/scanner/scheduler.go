package scanner

import (
	"context"
	"errors"
	"time"
)

// StartScheduler triggers a scan every interval until ctx is canceled.
// A non-positive interval disables scheduling.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.logger.Info("scan scheduler started", "interval", interval.String())

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.scheduledScan(ctx)
			}
		}
	}()
}

func (s *Service) scheduledScan(ctx context.Context) {
	id, err := s.Trigger(ctx)
	switch {
	case err == nil:
		s.logger.Info("scheduled scan started", "task_id", id)
	case errors.Is(err, ErrScanInProgress):
		s.logger.Debug("scheduled scan skipped, scan already running")
	case errors.Is(err, ErrNotConfigured):
		s.logger.Warn("scheduled scan skipped", "error", err)
	default:
		s.logger.Error("scheduled scan", "error", err)
	}
}
