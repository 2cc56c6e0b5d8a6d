package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"gorm.io/datatypes"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/observability"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/envutil"
	"github.com/eddyhq/eddy-backend/internal/platform/locks"
)

// WorkerOptions tune the claim loop. Zero values fall back to env-derived
// defaults via DefaultWorkerOptions.
type WorkerOptions struct {
	Concurrency       int
	ClaimInterval     time.Duration
	HeartbeatInterval time.Duration
	MaxAttempts       int
	RetryDelay        time.Duration
	StaleRunning      time.Duration
}

func DefaultWorkerOptions() WorkerOptions {
	return WorkerOptions{
		Concurrency:       envutil.Int("WORKER_CONCURRENCY", 4),
		ClaimInterval:     envutil.Duration("PIPELINE_CLAIM_INTERVAL", 2*time.Second),
		HeartbeatInterval: envutil.Duration("PIPELINE_HEARTBEAT_INTERVAL", 15*time.Second),
		MaxAttempts:       envutil.Int("PIPELINE_MAX_ATTEMPTS", 3),
		RetryDelay:        envutil.Duration("PIPELINE_RETRY_DELAY", time.Minute),
		StaleRunning:      envutil.Duration("PIPELINE_STALE_RUNNING", 10*time.Minute),
	}
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	def := DefaultWorkerOptions()
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	if o.ClaimInterval <= 0 {
		o.ClaimInterval = def.ClaimInterval
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = def.HeartbeatInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = def.RetryDelay
	}
	if o.StaleRunning <= 0 {
		o.StaleRunning = def.StaleRunning
	}
	return o
}

// Worker claims runnable pipeline runs and executes them. Companies are
// serialized twice over: the claim query refuses a company with a live
// running row, and the per-company lock covers the window between claim
// and the first heartbeat.
type Worker struct {
	deps   Deps
	locker locks.Locker
	opts   WorkerOptions
}

func NewWorker(deps Deps, locker locks.Locker, opts WorkerOptions) (*Worker, error) {
	if err := deps.check(); err != nil {
		return nil, err
	}
	if locker == nil {
		return nil, fmt.Errorf("pipeline: missing locker")
	}
	return &Worker{deps: deps, locker: locker, opts: opts.withDefaults()}, nil
}

// Run blocks until ctx is cancelled, then waits for in-flight runs to
// finish.
func (w *Worker) Run(ctx context.Context) {
	w.deps.Log.Info("pipeline worker starting",
		"concurrency", w.opts.Concurrency,
		"claim_interval", w.opts.ClaimInterval.String(),
	)
	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.claimLoop(ctx)
		}()
	}
	wg.Wait()
	w.deps.Log.Info("pipeline worker stopped")
}

func (w *Worker) claimLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.ClaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// Drain everything runnable before going back to sleep.
		for {
			if ctx.Err() != nil {
				return
			}
			claimed, err := w.ProcessOne(ctx)
			if err != nil {
				w.deps.Log.Error("claim cycle failed", "error", err)
				break
			}
			if !claimed {
				break
			}
		}
	}
}

// ProcessOne claims and executes at most one run. It reports whether a run
// was claimed; execution failures are recorded on the run, not returned.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	dbc := dbctx.New(ctx)
	run, err := w.deps.Runs.ClaimNextRunnable(dbc, w.opts.MaxAttempts, w.opts.RetryDelay, w.opts.StaleRunning)
	if err != nil {
		return false, fmt.Errorf("pipeline: claim: %w", err)
	}
	if run == nil {
		return false, nil
	}

	release, ok, err := w.locker.TryAcquire(ctx, locks.CompanyKey(run.CompanyID))
	if err != nil {
		return false, fmt.Errorf("pipeline: lock %s: %w", run.CompanyID, err)
	}
	if !ok {
		// Another worker holds the company. Put the run back; the claim
		// query will hand it out again once the holder finishes.
		if rerr := w.deps.Runs.UpdateFields(dbc, run.ID, map[string]interface{}{
			"status": types.RunQueued,
		}); rerr != nil {
			return false, fmt.Errorf("pipeline: requeue %s: %w", run.ID, rerr)
		}
		return false, nil
	}
	defer release()

	w.execute(ctx, run)
	return true, nil
}

func (w *Worker) execute(ctx context.Context, run *types.PipelineRun) {
	log := w.deps.Log.With("run_id", run.ID, "company_id", run.CompanyID, "trigger", run.Trigger)
	log.Info("pipeline run starting", "attempt", run.Attempts)

	hbCtx, stopHB := context.WithCancel(ctx)
	var hbDone sync.WaitGroup
	hbDone.Add(1)
	go func() {
		defer hbDone.Done()
		w.heartbeat(hbCtx, run)
	}()
	defer func() {
		stopHB()
		hbDone.Wait()
	}()

	start := time.Now()
	stats, err := w.runGuarded(ctx, run)

	dbc := dbctx.New(context.WithoutCancel(ctx))
	if err != nil {
		now := time.Now()
		updates := map[string]interface{}{
			"status":        types.RunFailed,
			"error":         err.Error(),
			"last_error_at": now,
		}
		if stats != nil {
			updates["stats"] = stats
		}
		if uerr := w.deps.Runs.UpdateFields(dbc, run.ID, updates); uerr != nil {
			log.Error("failed to mark run failed", "error", uerr)
		}
		observability.Current().IncPipelineRun(string(run.Trigger), "failed")
		log.Error("pipeline run failed",
			"error", err,
			"elapsed", time.Since(start).String(),
			"attempt", run.Attempts,
		)
		return
	}

	updates := map[string]interface{}{
		"status": types.RunSucceeded,
		"error":  "",
	}
	if stats != nil {
		updates["stats"] = stats
	}
	if uerr := w.deps.Runs.UpdateFields(dbc, run.ID, updates); uerr != nil {
		log.Error("failed to mark run succeeded", "error", uerr)
		return
	}
	observability.Current().IncPipelineRun(string(run.Trigger), "succeeded")
	log.Info("pipeline run succeeded", "elapsed", time.Since(start).String())
}

// runGuarded converts a stage panic into a run failure so one poisoned
// company cannot take the worker down.
func (w *Worker) runGuarded(ctx context.Context, run *types.PipelineRun) (stats datatypes.JSON, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: panic: %v\n%s", r, debug.Stack())
		}
	}()
	return Execute(ctx, w.deps, run)
}

func (w *Worker) heartbeat(ctx context.Context, run *types.PipelineRun) {
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.deps.Runs.Heartbeat(dbctx.New(ctx), run.ID); err != nil {
				w.deps.Log.Warn("heartbeat failed", "run_id", run.ID, "error", err)
			}
		}
	}
}
