package clawgig

import (
	"context"
	"time"

	"github.com/clawgig/clawgig/coordinator"
	"github.com/clawgig/clawgig/coordinator/state"
	"github.com/hamba/pkg/log"
	"github.com/hamba/pkg/stats"
)

// DefaultSweepInterval is how often the background sweep runs.
const DefaultSweepInterval = time.Minute

// Config configures an application.
type Config struct {
	Coordinator *coordinator.Coordinator
	Store       *state.Store

	// SweepInterval overrides the background sweep interval.
	SweepInterval time.Duration

	// Now returns the current time. It must agree with the coordinator's
	// clock or the sweep will fire early or late.
	Now func() time.Time

	Logger  log.Logger
	Statter stats.Statter
}

// Application runs the background maintenance around the coordinator:
// finalizing rejections whose dispute window elapsed undisputed, and
// reporting open jobs sitting past their deadline.
type Application struct {
	coord *coordinator.Coordinator
	store *state.Store

	interval time.Duration
	nowFn    func() time.Time

	logger  log.Logger
	statter stats.Statter
}

// NewApplication creates an instance of Application.
func NewApplication(cfg Config) *Application {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Null
	}
	statter := cfg.Statter
	if statter == nil {
		statter = stats.Null
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}

	return &Application{
		coord:    cfg.Coordinator,
		store:    cfg.Store,
		interval: interval,
		nowFn:    nowFn,
		logger:   logger,
		statter:  statter,
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			a.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass. Exposed so operators can trigger it
// out of band.
func (a *Application) Sweep(ctx context.Context) {
	a.finalizeElapsedRejections(ctx)
	a.reportExpiredOpen()
}

// finalizeElapsedRejections closes out rejections whose dispute window
// elapsed with no dispute. Expiry of open jobs is not swept: that
// transition needs the issuer's signature.
func (a *Application) finalizeElapsedRejections(ctx context.Context) {
	jobs, err := a.store.JobsByStatus(state.StatusRejectedPendingDispute)
	if err != nil {
		a.logger.Error("app: sweep listing failed", "error", err)
		return
	}

	now := a.nowFn()
	for _, job := range jobs {
		if now.Before(job.DisputeDeadline) {
			continue
		}

		if _, err := a.coord.FinalizeReject(ctx, job.ID); err != nil {
			// A racing dispute or finalize wins the conditional update;
			// that is not a sweep failure.
			if coordinator.KindOf(err) == coordinator.KindPrecondition {
				a.logger.Debug("app: finalize skipped", "job-id", job.ID, "error", err)
				continue
			}
			a.logger.Error("app: finalize failed", "job-id", job.ID, "error", err)
			continue
		}
		a.logger.Info("app: rejection finalized by sweep", "job-id", job.ID)
	}
}

func (a *Application) reportExpiredOpen() {
	jobs, err := a.store.JobsByStatus(state.StatusOpen)
	if err != nil {
		a.logger.Error("app: sweep listing failed", "error", err)
		return
	}

	now := a.nowFn()
	expired := 0
	for _, job := range jobs {
		if job.ExpiredAt(now) {
			expired++
		}
	}
	a.statter.Gauge("jobs.expired_open", float64(expired), 1.0)
}
