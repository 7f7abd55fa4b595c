package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	// ExpiryMaxPasses bounds how many full batches one sweep drains.
	ExpiryMaxPasses  = 10
	ExpiryRunTimeout = 30 * time.Second
)

// OverdueExpirer expires started attempts whose deadline has passed.
type OverdueExpirer interface {
	ExpireOverdue(ctx context.Context, now time.Time, limit int) (int, error)
}

// ExpiryStats summarizes the sweeper's activity since startup.
type ExpiryStats struct {
	Runs      int64     `json:"runs"`
	Expired   int64     `json:"expired"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
}

// ExpiryWorker periodically closes attempts that were abandoned past their deadline,
// so quotas and reports do not wait for the candidate to come back.
type ExpiryWorker struct {
	expirer  OverdueExpirer
	schedule string
	batch    int
	now      func() time.Time
	log      zerolog.Logger

	mu    sync.Mutex
	stats ExpiryStats
}

func NewExpiryWorker(expirer OverdueExpirer, schedule string, batch int, log zerolog.Logger) *ExpiryWorker {
	if batch <= 0 {
		batch = 200
	}
	return &ExpiryWorker{
		expirer:  expirer,
		schedule: schedule,
		batch:    batch,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "expiry_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Scheduler
// ----------------------------------------------------------------

// Start schedules the sweep and blocks until ctx is cancelled, then waits for a running
// sweep to finish. It returns an error only when the schedule cannot be parsed.
func (w *ExpiryWorker) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{w.log}),
		cron.SkipIfStillRunning(cronLogger{w.log}),
	))
	if _, err := c.AddFunc(w.schedule, func() { w.sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule expiry sweep %q: %w", w.schedule, err)
	}

	c.Start()
	w.log.Info().Str("schedule", w.schedule).Int("batch", w.batch).Msg("ExpiryWorker started")

	<-ctx.Done()
	w.log.Info().Msg("Shutdown requested. Waiting for running sweep...")
	<-c.Stop().Done()
	return nil
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, ExpiryRunTimeout)
	defer cancel()

	expired, err := w.RunOnce(runCtx)
	if err != nil {
		w.log.Error().Err(err).Int("expired", expired).Msg("Expiry sweep failed")
		return
	}
	if expired > 0 {
		w.log.Info().Int("expired", expired).Msg("Expired overdue attempts")
	}
}

// ----------------------------------------------------------------
// Single run
// ----------------------------------------------------------------

// RunOnce drains overdue attempts in batches and returns how many it expired.
func (w *ExpiryWorker) RunOnce(ctx context.Context) (int, error) {
	total := 0
	var runErr error
	for pass := 0; pass < ExpiryMaxPasses; pass++ {
		n, err := w.expirer.ExpireOverdue(ctx, w.now(), w.batch)
		total += n
		if err != nil {
			runErr = err
			break
		}
		if n < w.batch {
			break
		}
	}

	w.mu.Lock()
	w.stats.Runs++
	w.stats.Expired += int64(total)
	w.stats.LastRun = w.now()
	w.stats.LastError = ""
	if runErr != nil {
		w.stats.LastError = runErr.Error()
	}
	w.mu.Unlock()

	return total, runErr
}

// Stats returns a copy of the sweeper counters.
func (w *ExpiryWorker) Stats() ExpiryStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// cronLogger routes cron's internal logging into zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
