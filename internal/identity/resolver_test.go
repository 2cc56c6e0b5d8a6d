package identity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eddyhq/eddy-backend/internal/data/repos"
	"github.com/eddyhq/eddy-backend/internal/data/repos/testutil"
	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
)

func TestResolve(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	deps := ResolveDeps{
		DB:         tx,
		Log:        log,
		Events:     repos.NewRawEventRepo(tx, log),
		Identities: repos.NewIdentityRepo(tx, log),
		Links:      repos.NewIdentityLinkRepo(tx, log),
	}

	companyID := uuid.New()
	day := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)

	// The same bank deposit observed twice with different descriptor noise.
	dep1 := testutil.SeedBankDeposit(t, ctx, tx, companyID, "bt_1", 515000, day, "STRIPE DES:TRANSFER ID:123456 PPD")
	dep2 := testutil.SeedBankDeposit(t, ctx, tx, companyID, "bt_1_reimport", 515000, day.Add(4*time.Hour), "STRIPE TRANSFER 998877")

	payout := testutil.SeedPayoutEvent(t, ctx, tx, companyID, "po_1", 520000, 5000, day.AddDate(0, 0, -2))
	testutil.SeedBalanceTransaction(t, ctx, tx, companyID, "txn_charge", "po_1", "charge", 520000, day.AddDate(0, 0, -3))
	testutil.SeedBalanceTransaction(t, ctx, tx, companyID, "txn_fee", "po_1", "fee", -5000, day.AddDate(0, 0, -3))
	testutil.SeedOpsPayment(t, ctx, tx, companyID, "qb_pay_1", 515000, day, "Acme Corp")

	out, err := Resolve(ctx, deps, ResolveInput{CompanyID: companyID})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.Processed != 6 {
		t.Fatalf("expected 6 processed, got %+v", out)
	}
	// Two deposit observations collapse onto one settlement identity.
	if out.IdentitiesCreated != 5 {
		t.Fatalf("expected 5 identities, got %+v", out)
	}
	if out.LinksCreated != 6 {
		t.Fatalf("expected 6 links, got %+v", out)
	}
	if out.Skipped != 0 {
		t.Fatalf("expected 0 skipped, got %+v", out)
	}

	dbc := dbctx.WithTx(ctx, tx)

	links, err := deps.Links.ListByRawEventIDs(dbc, []uuid.UUID{dep1.ID, dep2.ID})
	if err != nil {
		t.Fatalf("ListByRawEventIDs: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 links for the deposit, got %d", len(links))
	}
	if links[0].IdentityID != links[1].IdentityID {
		t.Fatalf("deposit observations resolved to different identities")
	}
	if links[0].Reason != "amount+date+account fingerprint" {
		t.Fatalf("unexpected settlement link reason %q", links[0].Reason)
	}

	settlement, err := deps.Identities.GetByID(dbc, links[0].IdentityID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if settlement.Kind != types.IdentitySettlement {
		t.Fatalf("expected settlement identity, got %s", settlement.Kind)
	}
	if settlement.CounterpartyNorm != "STRIPE TRANSFER" {
		t.Fatalf("unexpected normalized counterparty %q", settlement.CounterpartyNorm)
	}
	if !settlement.OccurredOn.Equal(time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("occurred_on not day-truncated: %v", settlement.OccurredOn)
	}

	// The payout identity carries what the linker needs.
	payoutLinks, err := deps.Links.ListByRawEventIDs(dbc, []uuid.UUID{payout.ID})
	if err != nil || len(payoutLinks) != 1 {
		t.Fatalf("payout link: %v (%d)", err, len(payoutLinks))
	}
	payoutIdent, err := deps.Identities.GetByID(dbc, payoutLinks[0].IdentityID)
	if err != nil {
		t.Fatalf("payout identity: %v", err)
	}
	if payoutIdent.Kind != types.IdentityPayout || payoutIdent.FeeMinor != 5000 || payoutIdent.Provider != "stripe" {
		t.Fatalf("payout identity incomplete: %+v", payoutIdent)
	}
	if payoutLinks[0].Reason != "exact-id-match" || payoutLinks[0].Confidence != 1.0 {
		t.Fatalf("unexpected payout link provenance: %+v", payoutLinks[0])
	}

	// Balance transactions map to their line type and keep the payout ref.
	idents, err := deps.Identities.ListByKind(dbc, companyID, types.IdentityCharge, time.Time{}, time.Time{})
	if err != nil || len(idents) != 1 {
		t.Fatalf("charge identity: %v (%d)", err, len(idents))
	}
	if idents[0].ProviderParentRef != "po_1" {
		t.Fatalf("charge lost its payout ref: %+v", idents[0])
	}
	fees, err := deps.Identities.ListByKind(dbc, companyID, types.IdentityFee, time.Time{}, time.Time{})
	if err != nil || len(fees) != 1 {
		t.Fatalf("fee identity: %v (%d)", err, len(fees))
	}

	// Second run is a no-op.
	again, err := Resolve(ctx, deps, ResolveInput{CompanyID: companyID})
	if err != nil {
		t.Fatalf("Resolve again: %v", err)
	}
	if again.Processed != 0 || again.IdentitiesCreated != 0 || again.LinksCreated != 0 {
		t.Fatalf("expected idempotent re-run, got %+v", again)
	}
}

func TestResolveSkipsUnknownBalanceType(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)

	deps := ResolveDeps{
		DB:         tx,
		Log:        log,
		Events:     repos.NewRawEventRepo(tx, log),
		Identities: repos.NewIdentityRepo(tx, log),
		Links:      repos.NewIdentityLinkRepo(tx, log),
	}

	companyID := uuid.New()
	day := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	testutil.SeedBalanceTransaction(t, ctx, tx, companyID, "txn_odd", "po_9", "adjustment_mystery", 100, day)

	out, err := Resolve(ctx, deps, ResolveInput{CompanyID: companyID})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.Skipped != 1 || out.Processed != 0 {
		t.Fatalf("expected the event skipped, got %+v", out)
	}
}

func TestResolveRequiresDeps(t *testing.T) {
	_, err := Resolve(context.Background(), ResolveDeps{}, ResolveInput{CompanyID: uuid.New()})
	if err == nil {
		t.Fatalf("expected missing deps error")
	}
}
