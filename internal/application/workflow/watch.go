package workflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxWatchBackoff bounds the wait after consecutive failing cycles
const maxWatchBackoff = 5 * time.Minute

// WatchStats tracks the cycles run by a Watcher
type WatchStats struct {
	Cycles          int
	SuccessfulRuns  int
	FailedRuns      int
	LastCycle       time.Time
	LastError       error
	AverageDuration time.Duration
}

// Watcher repeatedly plans pending tasks and executes approved ones until
// its context is cancelled.
type Watcher struct {
	batch    *BatchRunner
	interval time.Duration
	limit    int
	logger   *zap.Logger

	mu    sync.Mutex
	stats WatchStats
}

// NewWatcher creates a watcher running one batch pair every interval
func NewWatcher(batch *BatchRunner, interval time.Duration, limit int) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watcher{
		batch:    batch,
		interval: interval,
		limit:    limit,
		logger:   batch.logger.Named("watch"),
	}
}

// Run blocks until ctx is done. onCycle, when set, receives each cycle's reports.
func (w *Watcher) Run(ctx context.Context, onCycle func(planned, executed *BatchReport)) error {
	w.logger.Info("watch started", zap.Duration("interval", w.interval))
	consecutiveErrors := 0

	for {
		planned, executed, err := w.cycle(ctx)
		if err != nil {
			consecutiveErrors++
			w.logger.Warn("watch cycle failed", zap.Int("consecutive", consecutiveErrors), zap.Error(err))
		} else {
			consecutiveErrors = 0
			if onCycle != nil {
				onCycle(planned, executed)
			}
		}

		wait := nextInterval(w.interval, consecutiveErrors)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("watch stopped")
			return nil
		case <-timer.C:
		}
	}
}

func (w *Watcher) cycle(ctx context.Context) (*BatchReport, *BatchReport, error) {
	start := time.Now()
	planned, err := w.batch.PlanPending(ctx, w.limit)
	var executed *BatchReport
	if err == nil {
		executed, err = w.batch.ExecuteApproved(ctx, w.limit)
	}
	w.record(start, err)
	return planned, executed, err
}

func (w *Watcher) record(start time.Time, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	d := time.Since(start)
	w.stats.Cycles++
	w.stats.LastCycle = start
	if err != nil {
		w.stats.FailedRuns++
		w.stats.LastError = err
	} else {
		w.stats.SuccessfulRuns++
	}
	if w.stats.AverageDuration == 0 {
		w.stats.AverageDuration = d
	} else {
		w.stats.AverageDuration = (w.stats.AverageDuration + d) / 2
	}
}

// Stats returns a copy of the watcher statistics
func (w *Watcher) Stats() WatchStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// nextInterval doubles the base interval per consecutive error, bounded by maxWatchBackoff
func nextInterval(base time.Duration, consecutiveErrors int) time.Duration {
	backoff := base
	for i := 0; i < consecutiveErrors; i++ {
		backoff *= 2
		if backoff >= maxWatchBackoff {
			return maxWatchBackoff
		}
	}
	return backoff
}
