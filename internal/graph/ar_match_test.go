package graph

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eddyhq/eddy-backend/internal/data/repos/testutil"
	types "github.com/eddyhq/eddy-backend/internal/domain"
)

func TestLinkARExplicitReference(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := linkDeps(t, tx)
	companyID := uuid.New()

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	charge := seedChargeIdent(t, tx, companyID, "txn_1", "", 120000, day, "ACME CORP")
	payment := seedOpsPaymentIdent(t, tx, companyID, "pay_1", "txn_1", 120000, day, "ACME CORP")

	out, err := LinkAR(context.Background(), deps, LinkInput{CompanyID: companyID, Now: day.AddDate(0, 0, 1)})
	if err != nil {
		t.Fatalf("LinkAR: %v", err)
	}
	if out.LinkedExplicit != 1 || out.Ambiguous != 0 {
		t.Fatalf("expected 1 explicit link, got %+v", out)
	}
	edge := mustEdge(t, deps, payment.ID, charge.ID, types.EdgeAppliesTo)
	if edge.Weight != 1.0 {
		t.Fatalf("explicit reference weight = %v, want 1.0", edge.Weight)
	}
}

func TestLinkARFallbackSimilarity(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := linkDeps(t, tx)
	companyID := uuid.New()

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	charge := seedChargeIdent(t, tx, companyID, "txn_1", "", 120000, day.AddDate(0, 0, 1), "ACME CORP")
	// Wrong amount and unrelated counterparty keep this one out.
	seedChargeIdent(t, tx, companyID, "txn_2", "", 555000, day, "GLOBEX")
	payment := seedOpsPaymentIdent(t, tx, companyID, "pay_1", "", 120000, day, "ACME CORP")

	out, err := LinkAR(context.Background(), deps, LinkInput{CompanyID: companyID, Now: day.AddDate(0, 0, 2)})
	if err != nil {
		t.Fatalf("LinkAR: %v", err)
	}
	if out.LinkedFallback != 1 {
		t.Fatalf("expected 1 fallback link, got %+v", out)
	}
	edge := mustEdge(t, deps, payment.ID, charge.ID, types.EdgeAppliesTo)
	if edge.Weight != 0.9 {
		t.Fatalf("single-candidate weight = %v, want 0.9", edge.Weight)
	}
}

func TestLinkARInvoiceToPayment(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := linkDeps(t, tx)
	companyID := uuid.New()

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	payment := seedOpsPaymentIdent(t, tx, companyID, "pay_1", "", 120000, day, "ACME CORP")
	invoice := seedOpsInvoiceIdent(t, tx, companyID, "inv_1", "pay_1", 120000, day.AddDate(0, 0, -3), "paid")

	out, err := LinkAR(context.Background(), deps, LinkInput{CompanyID: companyID, Now: day.AddDate(0, 0, 1)})
	if err != nil {
		t.Fatalf("LinkAR: %v", err)
	}
	if out.LinkedExplicit != 1 {
		t.Fatalf("expected invoice linked to payment, got %+v", out)
	}
	mustEdge(t, deps, invoice.ID, payment.ID, types.EdgeAppliesTo)
}

func TestLinkARSubsetUnbundlesPayout(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := linkDeps(t, tx)
	companyID := uuid.New()

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	// A payout of $5,000 net, never itemized by its provider.
	payout := seedPayoutIdent(t, tx, companyID, "po_1", 500000, 0, day)
	p1 := seedOpsPaymentIdent(t, tx, companyID, "pay_1", "", 120000, day.AddDate(0, 0, -2), "ACME")
	p2 := seedOpsPaymentIdent(t, tx, companyID, "pay_2", "", 180000, day.AddDate(0, 0, -1), "GLOBEX")
	p3 := seedOpsPaymentIdent(t, tx, companyID, "pay_3", "", 200000, day, "INITECH")

	out, err := LinkAR(context.Background(), deps, LinkInput{CompanyID: companyID, Now: day.AddDate(0, 0, 1)})
	if err != nil {
		t.Fatalf("LinkAR: %v", err)
	}
	if out.SubsetLinked != 3 || out.Ambiguous != 0 || out.Ghosts != 0 {
		t.Fatalf("expected unique subset to link all three payments, got %+v", out)
	}
	for _, pmt := range []*types.Identity{p1, p2, p3} {
		mustEdge(t, deps, pmt.ID, payout.ID, types.EdgeAppliesTo)
	}

	again, err := LinkAR(context.Background(), deps, LinkInput{CompanyID: companyID, Now: day.AddDate(0, 0, 1)})
	if err != nil {
		t.Fatalf("LinkAR again: %v", err)
	}
	if again.SubsetLinked != 0 || again.PaymentsExamined != 0 {
		t.Fatalf("expected idempotent re-run, got %+v", again)
	}
}

func TestLinkARSubsetAmbiguity(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := linkDeps(t, tx)
	companyID := uuid.New()

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	payout := seedPayoutIdent(t, tx, companyID, "po_1", 500000, 0, day)
	// Two interchangeable $2,000 payments: both 3,000+2,000 combinations hit
	// the target, so neither may be picked silently.
	seedOpsPaymentIdent(t, tx, companyID, "pay_1", "", 300000, day, "ACME")
	seedOpsPaymentIdent(t, tx, companyID, "pay_2", "", 200000, day, "GLOBEX")
	seedOpsPaymentIdent(t, tx, companyID, "pay_3", "", 200000, day, "INITECH")

	out, err := LinkAR(context.Background(), deps, LinkInput{CompanyID: companyID, Now: day.AddDate(0, 0, 1)})
	if err != nil {
		t.Fatalf("LinkAR: %v", err)
	}
	if out.SubsetLinked != 0 || out.Ambiguous != 1 {
		t.Fatalf("expected ambiguous subsets, got %+v", out)
	}
	mustNoEdges(t, deps, payout.ID, types.EdgeAppliesTo)
	ex := mustException(t, deps, companyID, types.ExceptionARAmbiguous, "ar_subset:"+payout.ID.String())
	if ex.SubjectIdentityID == nil || *ex.SubjectIdentityID != payout.ID {
		t.Fatalf("exception subject = %v, want payout", ex.SubjectIdentityID)
	}
}

func TestLinkARGhostInvoice(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := linkDeps(t, tx)
	companyID := uuid.New()

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	invoice := seedOpsInvoiceIdent(t, tx, companyID, "inv_1", "", 120000, day, "paid")
	// Voided records never claim cash.
	seedOpsInvoiceIdent(t, tx, companyID, "inv_2", "", 90000, day, "void")

	// Inside the grace period nothing fires.
	out, err := LinkAR(context.Background(), deps, LinkInput{CompanyID: companyID, Now: day.AddDate(0, 0, 3)})
	if err != nil {
		t.Fatalf("LinkAR: %v", err)
	}
	if out.Ghosts != 0 {
		t.Fatalf("expected no ghosts inside grace, got %+v", out)
	}

	out, err = LinkAR(context.Background(), deps, LinkInput{CompanyID: companyID, Now: day.AddDate(0, 0, 10)})
	if err != nil {
		t.Fatalf("LinkAR past grace: %v", err)
	}
	if out.Ghosts != 1 {
		t.Fatalf("expected exactly one ghost, got %+v", out)
	}
	mustException(t, deps, companyID, types.ExceptionGhostAR, "ghost:"+invoice.ID.String())

	// Re-detection refreshes the same exception instead of stacking a new one.
	if _, err = LinkAR(context.Background(), deps, LinkInput{CompanyID: companyID, Now: day.AddDate(0, 0, 11)}); err != nil {
		t.Fatalf("LinkAR re-run: %v", err)
	}
	open, err := deps.Exceptions.List(dbcOf(), companyID, types.ExceptionOpen, types.ExceptionGhostAR, 10, 0)
	if err != nil {
		t.Fatalf("list exceptions: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected exactly one open GHOST_AR exception, found %d", len(open))
	}
}

func TestLinkARGhostPayment(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := linkDeps(t, tx)
	companyID := uuid.New()

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	payment := seedOpsPaymentIdent(t, tx, companyID, "pay_1", "", 120000, day, "ACME")

	out, err := LinkAR(context.Background(), deps, LinkInput{CompanyID: companyID, Now: day.AddDate(0, 0, 10)})
	if err != nil {
		t.Fatalf("LinkAR: %v", err)
	}
	if out.Ghosts != 1 {
		t.Fatalf("expected ghost payment, got %+v", out)
	}
	mustException(t, deps, companyID, types.ExceptionGhostAR, "ghost:"+payment.ID.String())
}
