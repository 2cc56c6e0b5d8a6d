package exceptions

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/eddyhq/eddy-backend/internal/data/repos/testutil"
	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
)

func TestExceptionRepoUpsertAndTransitions(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.WithTx(context.Background(), tx)
	repo := NewExceptionRepo(db, testutil.Logger(t))

	companyID := uuid.New()
	subject := uuid.New()

	ex := &types.Exception{
		CompanyID:         companyID,
		Kind:              types.ExceptionNoMatch,
		DedupeKey:         "payout:" + subject.String(),
		SubjectIdentityID: &subject,
		AmountMinor:       520000,
		Currency:          "USD",
		Summary:           "payout po_100 has no settlement after 5 days",
		Context:           datatypes.JSON([]byte(`{"grace_days":5}`)),
		OpenedBy:          "link_settlements",
	}
	created, raised, err := repo.UpsertOpen(dbc, ex)
	if err != nil {
		t.Fatalf("UpsertOpen: %v", err)
	}
	if !raised {
		t.Fatalf("UpsertOpen: expected a new row")
	}
	if created.Status != types.ExceptionOpen {
		t.Fatalf("UpsertOpen: status %s", created.Status)
	}

	// Re-detection refreshes the open row instead of stacking another.
	redetect := &types.Exception{
		CompanyID:         companyID,
		Kind:              types.ExceptionNoMatch,
		DedupeKey:         "payout:" + subject.String(),
		SubjectIdentityID: &subject,
		AmountMinor:       520000,
		Currency:          "USD",
		Summary:           "payout po_100 has no settlement after 6 days",
		OpenedBy:          "link_settlements",
	}
	same, raised, err := repo.UpsertOpen(dbc, redetect)
	if err != nil {
		t.Fatalf("UpsertOpen redetect: %v", err)
	}
	if raised {
		t.Fatalf("UpsertOpen redetect: expected existing row")
	}
	if same.ID != created.ID {
		t.Fatalf("UpsertOpen redetect: got %v, want %v", same.ID, created.ID)
	}
	if same.Summary != redetect.Summary {
		t.Fatalf("UpsertOpen redetect: summary not refreshed")
	}

	open, err := repo.ListOpenBySubjects(dbc, companyID, []uuid.UUID{subject})
	if err != nil {
		t.Fatalf("ListOpenBySubjects: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("ListOpenBySubjects: got %d", len(open))
	}

	// open -> resolved is allowed once; a second resolve finds nothing open.
	ok, err := repo.UpdateStatusIf(dbc, created.ID, []types.ExceptionStatus{types.ExceptionOpen}, types.ExceptionResolved)
	if err != nil {
		t.Fatalf("UpdateStatusIf resolve: %v", err)
	}
	if !ok {
		t.Fatalf("UpdateStatusIf resolve: expected transition")
	}
	ok, err = repo.UpdateStatusIf(dbc, created.ID, []types.ExceptionStatus{types.ExceptionOpen}, types.ExceptionDismissed)
	if err != nil {
		t.Fatalf("UpdateStatusIf re-dismiss: %v", err)
	}
	if ok {
		t.Fatalf("UpdateStatusIf re-dismiss: transition from resolved must be refused")
	}

	// A resolved row is left alone by re-detection.
	_, raised, err = repo.UpsertOpen(dbc, redetect)
	if err != nil {
		t.Fatalf("UpsertOpen after resolve: %v", err)
	}
	if raised {
		t.Fatalf("UpsertOpen after resolve: must not insert")
	}
	got, err := repo.GetByID(dbc, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != types.ExceptionResolved {
		t.Fatalf("UpsertOpen after resolve: status flipped to %s", got.Status)
	}

	// Undo path: resolved -> open clears resolved_at.
	ok, err = repo.UpdateStatusIf(dbc, created.ID, []types.ExceptionStatus{types.ExceptionResolved}, types.ExceptionOpen)
	if err != nil {
		t.Fatalf("UpdateStatusIf reopen: %v", err)
	}
	if !ok {
		t.Fatalf("UpdateStatusIf reopen: expected transition")
	}
	got, err = repo.GetByID(dbc, created.ID)
	if err != nil {
		t.Fatalf("GetByID after reopen: %v", err)
	}
	if got.Status != types.ExceptionOpen || got.ResolvedAt != nil {
		t.Fatalf("reopen: got status=%s resolved_at=%v", got.Status, got.ResolvedAt)
	}

	counts, err := repo.CountOpenByKind(dbc, companyID)
	if err != nil {
		t.Fatalf("CountOpenByKind: %v", err)
	}
	if len(counts) != 1 || counts[0].Kind != types.ExceptionNoMatch || counts[0].Count != 1 {
		t.Fatalf("CountOpenByKind: got %+v", counts)
	}
}

func TestResolutionRepoUndoBookkeeping(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.WithTx(context.Background(), tx)
	repo := NewResolutionRepo(db, testutil.Logger(t))

	companyID := uuid.New()
	exceptionID := uuid.New()
	chosen := uuid.New()

	res, err := repo.Create(dbc, &types.Resolution{
		CompanyID:        companyID,
		ExceptionID:      exceptionID,
		Action:           types.ActionPickCandidate,
		ChosenIdentityID: &chosen,
		Actor:            "ops@example.com",
		Effects:          datatypes.JSON([]byte(`{"edge_ids":["e1"]}`)),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	active, err := repo.GetLatestActiveByException(dbc, exceptionID)
	if err != nil {
		t.Fatalf("GetLatestActiveByException: %v", err)
	}
	if active == nil || active.ID != res.ID {
		t.Fatalf("GetLatestActiveByException: got %+v", active)
	}

	ok, err := repo.MarkUndone(dbc, res.ID)
	if err != nil {
		t.Fatalf("MarkUndone: %v", err)
	}
	if !ok {
		t.Fatalf("MarkUndone: expected true")
	}
	// Second undo is a no-op.
	ok, err = repo.MarkUndone(dbc, res.ID)
	if err != nil {
		t.Fatalf("MarkUndone twice: %v", err)
	}
	if ok {
		t.Fatalf("MarkUndone twice: expected false")
	}

	active, err = repo.GetLatestActiveByException(dbc, exceptionID)
	if err != nil {
		t.Fatalf("GetLatestActiveByException after undo: %v", err)
	}
	if active != nil {
		t.Fatalf("GetLatestActiveByException after undo: got %+v", active)
	}

	history, err := repo.ListByException(dbc, exceptionID)
	if err != nil {
		t.Fatalf("ListByException: %v", err)
	}
	if len(history) != 1 || history[0].UndoneAt == nil {
		t.Fatalf("ListByException: got %d rows", len(history))
	}
}
