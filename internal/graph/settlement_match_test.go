package graph

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eddyhq/eddy-backend/internal/data/repos/testutil"
	types "github.com/eddyhq/eddy-backend/internal/domain"
)

// A 5200.00 payout with a 50.00 fee settles as a 5150.00 deposit two days
// later: exactly one SETTLES edge, weight 1.0.
func TestLinkSettlementsSingleCandidate(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := linkDeps(t, tx)
	companyID := uuid.New()

	payoutDay := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	payout := seedPayoutIdent(t, tx, companyID, "po_1", 520000, 5000, payoutDay)
	settlement := seedSettlementIdent(t, tx, companyID, 515000, payoutDay.AddDate(0, 0, 2), "STRIPE TRANSFER")
	// Decoys: wrong amount, wrong date.
	seedSettlementIdent(t, tx, companyID, 300000, payoutDay.AddDate(0, 0, 2), "STRIPE TRANSFER")
	seedSettlementIdent(t, tx, companyID, 515000, payoutDay.AddDate(0, 0, 9), "STRIPE TRANSFER")

	out, err := LinkSettlements(context.Background(), deps, LinkInput{CompanyID: companyID, Now: payoutDay.AddDate(0, 0, 3)})
	if err != nil {
		t.Fatalf("LinkSettlements: %v", err)
	}
	if out.Linked != 1 {
		t.Fatalf("expected 1 link, got %+v", out)
	}
	edge := mustEdge(t, deps, payout.ID, settlement.ID, types.EdgeSettles)
	if edge.Weight != 1.0 || edge.Pass != "link_settlements" {
		t.Fatalf("unexpected edge %+v", edge)
	}

	// Re-run: the payout is settled, nothing more happens.
	again, err := LinkSettlements(context.Background(), deps, LinkInput{CompanyID: companyID, Now: payoutDay.AddDate(0, 0, 3)})
	if err != nil {
		t.Fatalf("LinkSettlements again: %v", err)
	}
	if again.Linked != 0 || again.PayoutsExamined != 0 {
		t.Fatalf("expected idempotent re-run, got %+v", again)
	}
}

// Two settlements on the same day with the same amount: the system must
// refuse to guess.
func TestLinkSettlementsAmbiguityNeverSilentlyResolved(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := linkDeps(t, tx)
	companyID := uuid.New()

	payoutDay := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	payout := seedPayoutIdent(t, tx, companyID, "po_1", 520000, 5000, payoutDay)
	seedSettlementIdent(t, tx, companyID, 515000, payoutDay.AddDate(0, 0, 1), "STRIPE TRANSFER")
	seedSettlementIdent(t, tx, companyID, 515000, payoutDay.AddDate(0, 0, 1), "STRIPE TRANSFER")

	out, err := LinkSettlements(context.Background(), deps, LinkInput{CompanyID: companyID, Now: payoutDay.AddDate(0, 0, 2)})
	if err != nil {
		t.Fatalf("LinkSettlements: %v", err)
	}
	if out.Ambiguous != 1 || out.Linked != 0 {
		t.Fatalf("expected ambiguity, got %+v", out)
	}
	mustNoEdges(t, deps, payout.ID, types.EdgeSettles)

	ex := mustException(t, deps, companyID, types.ExceptionARAmbiguous, "settles:"+payout.ID.String())
	if ex.AmountMinor != 515000 {
		t.Fatalf("exception amount %d", ex.AmountMinor)
	}
	if len(ex.Context) == 0 {
		t.Fatalf("expected candidates in context")
	}
}

// One settlement is nearer in date; it wins and the other stays available.
func TestLinkSettlementsNearestDateWins(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := linkDeps(t, tx)
	companyID := uuid.New()

	payoutDay := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	payout := seedPayoutIdent(t, tx, companyID, "po_1", 520000, 5000, payoutDay)
	near := seedSettlementIdent(t, tx, companyID, 515000, payoutDay.AddDate(0, 0, 1), "STRIPE TRANSFER")
	seedSettlementIdent(t, tx, companyID, 515000, payoutDay.AddDate(0, 0, 2), "STRIPE TRANSFER")

	out, err := LinkSettlements(context.Background(), deps, LinkInput{CompanyID: companyID, Now: payoutDay.AddDate(0, 0, 2)})
	if err != nil {
		t.Fatalf("LinkSettlements: %v", err)
	}
	if out.Linked != 1 || out.Ambiguous != 0 {
		t.Fatalf("expected a ranked win, got %+v", out)
	}
	edge := mustEdge(t, deps, payout.ID, near.ID, types.EdgeSettles)
	if edge.Weight >= 1.0 || edge.Weight < 0.7 {
		t.Fatalf("ranked win weight %v", edge.Weight)
	}
}

func TestLinkSettlementsPendingThenNoMatch(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := linkDeps(t, tx)
	companyID := uuid.New()

	payoutDay := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	payout := seedPayoutIdent(t, tx, companyID, "po_1", 520000, 5000, payoutDay)

	// Inside the grace period: in transit, no exception.
	out, err := LinkSettlements(context.Background(), deps, LinkInput{CompanyID: companyID, Now: payoutDay.AddDate(0, 0, 3)})
	if err != nil {
		t.Fatalf("LinkSettlements: %v", err)
	}
	if out.InTransit != 1 || out.NoMatch != 0 {
		t.Fatalf("expected in-transit, got %+v", out)
	}
	if ex, err := deps.Exceptions.GetByDedupeKey(dbcOf(), companyID, types.ExceptionNoMatch, "settles:"+payout.ID.String()); err != nil || ex != nil {
		t.Fatalf("no exception expected inside grace: %v %v", ex, err)
	}

	// Past the grace period: NO_MATCH opens.
	out, err = LinkSettlements(context.Background(), deps, LinkInput{CompanyID: companyID, Now: payoutDay.AddDate(0, 0, 6)})
	if err != nil {
		t.Fatalf("LinkSettlements: %v", err)
	}
	if out.NoMatch != 1 {
		t.Fatalf("expected no_match, got %+v", out)
	}
	mustException(t, deps, companyID, types.ExceptionNoMatch, "settles:"+payout.ID.String())
}

func TestLinkSettlementsTiming(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := linkDeps(t, tx)
	companyID := uuid.New()

	payoutDay := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	payout := seedPayoutIdent(t, tx, companyID, "po_1", 520000, 5000, payoutDay)
	// Amount matches exactly but lands 5 days out, beyond the 2-day window.
	seedSettlementIdent(t, tx, companyID, 515000, payoutDay.AddDate(0, 0, 5), "STRIPE TRANSFER")

	out, err := LinkSettlements(context.Background(), deps, LinkInput{CompanyID: companyID, Now: payoutDay.AddDate(0, 0, 6)})
	if err != nil {
		t.Fatalf("LinkSettlements: %v", err)
	}
	if out.Timing != 1 || out.Linked != 0 || out.NoMatch != 0 {
		t.Fatalf("expected timing exception, got %+v", out)
	}
	mustNoEdges(t, deps, payout.ID, types.EdgeSettles)
	mustException(t, deps, companyID, types.ExceptionTiming, "settles:"+payout.ID.String())
}

// A settlement already claimed by one payout is not a candidate for another.
func TestLinkSettlementsClaimedSettlementExcluded(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := linkDeps(t, tx)
	companyID := uuid.New()

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	payoutA := seedPayoutIdent(t, tx, companyID, "po_a", 520000, 5000, day)
	payoutB := seedPayoutIdent(t, tx, companyID, "po_b", 520000, 5000, day.AddDate(0, 0, 1))
	settlement := seedSettlementIdent(t, tx, companyID, 515000, day.AddDate(0, 0, 1), "STRIPE TRANSFER")

	out, err := LinkSettlements(context.Background(), deps, LinkInput{CompanyID: companyID, Now: day.AddDate(0, 0, 2)})
	if err != nil {
		t.Fatalf("LinkSettlements: %v", err)
	}
	// The older payout claims the settlement; the other stays in transit.
	if out.Linked != 1 || out.InTransit != 1 {
		t.Fatalf("expected one claim and one in-transit, got %+v", out)
	}
	mustEdge(t, deps, payoutA.ID, settlement.ID, types.EdgeSettles)
	mustNoEdges(t, deps, payoutB.ID, types.EdgeSettles)
}
