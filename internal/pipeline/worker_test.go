package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eddyhq/eddy-backend/internal/connectors"
	"github.com/eddyhq/eddy-backend/internal/data/repos/testutil"
	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/locks"
)

func testWorker(t *testing.T, deps Deps) *Worker {
	t.Helper()
	w, err := NewWorker(deps, locks.NewLocalLocker(), WorkerOptions{
		Concurrency:       1,
		ClaimInterval:     10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
		MaxAttempts:       3,
		RetryDelay:        time.Hour,
		StaleRunning:      time.Hour,
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return w
}

func TestWorkerProcessOneSucceeds(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := pipeDeps(t, tx)
	companyID := uuid.New()

	ingestAll(t, deps, companyID, stripePayoutScenario())
	run := queuedRun(t, deps, companyID, types.TriggerIngest)
	w := testWorker(t, deps)

	claimed, err := w.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if !claimed {
		t.Fatalf("expected the queued run to be claimed")
	}

	got, err := deps.Runs.GetByID(dbcOf(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != types.RunSucceeded {
		t.Fatalf("run status = %s (error %q), want succeeded", got.Status, got.Error)
	}
	if got.Attempts != 1 || len(got.Stats) == 0 {
		t.Fatalf("run bookkeeping = attempts %d, stats %s", got.Attempts, got.Stats)
	}

	// Nothing left to claim.
	claimed, err = w.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne #2: %v", err)
	}
	if claimed {
		t.Fatalf("claimed a run from an empty queue")
	}
}

func TestWorkerRequeuesWhenCompanyLocked(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := pipeDeps(t, tx)
	companyID := uuid.New()

	run := queuedRun(t, deps, companyID, types.TriggerManual)

	locker := locks.NewLocalLocker()
	release, ok, err := locker.TryAcquire(context.Background(), locks.CompanyKey(companyID))
	if err != nil || !ok {
		t.Fatalf("pre-hold lock: %v %v", ok, err)
	}
	defer release()

	w, err := NewWorker(deps, locker, WorkerOptions{MaxAttempts: 3, RetryDelay: time.Hour, StaleRunning: time.Hour})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	claimed, err := w.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if claimed {
		t.Fatalf("run must not execute while the company lock is held elsewhere")
	}

	got, err := deps.Runs.GetByID(dbcOf(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != types.RunQueued {
		t.Fatalf("run status = %s, want requeued", got.Status)
	}
}

type panicConnector struct{}

func (panicConnector) Name() string { return "bad" }

func (panicConnector) FetchEvents(context.Context, uuid.UUID, string) ([]connectors.RawEventInput, string, error) {
	panic("connector bug")
}

func TestWorkerRecoversPanicIntoFailedRun(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := pipeDeps(t, tx)
	companyID := uuid.New()

	deps.Connectors = []connectors.Client{panicConnector{}}
	run := queuedRun(t, deps, companyID, types.TriggerSchedule)
	w := testWorker(t, deps)

	claimed, err := w.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if !claimed {
		t.Fatalf("expected the run to be claimed")
	}

	got, err := deps.Runs.GetByID(dbcOf(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != types.RunFailed {
		t.Fatalf("run status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.Error, "panic") || got.LastErrorAt == nil {
		t.Fatalf("run error = %q, last_error_at = %v", got.Error, got.LastErrorAt)
	}
}
