package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eddyhq/eddy-backend/internal/data/repos/testutil"
	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
)

func TestPipelineRunRepoClaimSerializesPerCompany(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.WithTx(context.Background(), tx)
	repo := NewPipelineRunRepo(db, testutil.Logger(t))

	companyA := uuid.New()
	companyB := uuid.New()

	runA, created, err := repo.Enqueue(dbc, companyA, types.TriggerIngest)
	if err != nil {
		t.Fatalf("Enqueue A: %v", err)
	}
	if !created {
		t.Fatalf("Enqueue A: expected new run")
	}

	// A second enqueue while one is queued reuses the waiting run.
	dup, created, err := repo.Enqueue(dbc, companyA, types.TriggerManual)
	if err != nil {
		t.Fatalf("Enqueue A dup: %v", err)
	}
	if created || dup.ID != runA.ID {
		t.Fatalf("Enqueue A dup: expected existing run")
	}

	time.Sleep(5 * time.Millisecond)
	runB, _, err := repo.Enqueue(dbc, companyB, types.TriggerIngest)
	if err != nil {
		t.Fatalf("Enqueue B: %v", err)
	}

	claim1, err := repo.ClaimNextRunnable(dbc, 3, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #1: %v", err)
	}
	if claim1 == nil || claim1.ID != runA.ID {
		t.Fatalf("ClaimNextRunnable #1: expected %v, got %+v", runA.ID, claim1)
	}

	// Queue another run for company A while the first is running: it must
	// not be claimable, but company B's run is.
	queuedA2, _, err := repo.Enqueue(dbc, companyA, types.TriggerIngest)
	if err != nil {
		t.Fatalf("Enqueue A2: %v", err)
	}
	claim2, err := repo.ClaimNextRunnable(dbc, 3, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #2: %v", err)
	}
	if claim2 == nil || claim2.ID != runB.ID {
		t.Fatalf("ClaimNextRunnable #2: expected company B run, got %+v", claim2)
	}

	claim3, err := repo.ClaimNextRunnable(dbc, 3, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #3: %v", err)
	}
	if claim3 != nil {
		t.Fatalf("ClaimNextRunnable #3: expected nil while both companies busy, got %+v", claim3)
	}

	// Finishing company A's run frees its queued successor.
	if err := repo.UpdateFields(dbc, runA.ID, map[string]interface{}{
		"status": types.RunSucceeded,
		"stage":  "classify",
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	claim4, err := repo.ClaimNextRunnable(dbc, 3, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #4: %v", err)
	}
	if claim4 == nil || claim4.ID != queuedA2.ID {
		t.Fatalf("ClaimNextRunnable #4: expected %v, got %+v", queuedA2.ID, claim4)
	}

	if err := repo.Heartbeat(dbc, claim4.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	active, err := repo.HasActive(dbc, companyA)
	if err != nil {
		t.Fatalf("HasActive: %v", err)
	}
	if !active {
		t.Fatalf("HasActive: expected true while running")
	}

	runs, err := repo.ListByCompany(dbc, companyA, 10)
	if err != nil {
		t.Fatalf("ListByCompany: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListByCompany: got %d runs", len(runs))
	}
}

func TestPipelineRunRepoReclaimsStaleRunning(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.WithTx(context.Background(), tx)
	repo := NewPipelineRunRepo(db, testutil.Logger(t))

	companyID := uuid.New()
	run, _, err := repo.Enqueue(dbc, companyID, types.TriggerSchedule)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	claimed, err := repo.ClaimNextRunnable(dbc, 3, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if claimed == nil || claimed.ID != run.ID {
		t.Fatalf("ClaimNextRunnable: got %+v", claimed)
	}

	// Simulate a worker that died mid-run.
	stale := time.Now().Add(-2 * time.Hour)
	if err := repo.UpdateFields(dbc, run.ID, map[string]interface{}{
		"heartbeat_at": stale,
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	reclaimed, err := repo.ClaimNextRunnable(dbc, 3, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable reclaim: %v", err)
	}
	if reclaimed == nil || reclaimed.ID != run.ID {
		t.Fatalf("ClaimNextRunnable reclaim: got %+v", reclaimed)
	}

	got, err := repo.GetByID(dbc, run.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", got.Attempts)
	}
}
