package policy

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/eddyhq/eddy-backend/internal/data/repos"
	"github.com/eddyhq/eddy-backend/internal/data/repos/testutil"
	types "github.com/eddyhq/eddy-backend/internal/domain"
)

func mineDeps(t *testing.T, tx *gorm.DB) MineDeps {
	t.Helper()
	log := testutil.Logger(t)
	return MineDeps{
		DB:          tx,
		Log:         log,
		Resolutions: repos.NewResolutionRepo(tx, log),
		Exceptions:  repos.NewExceptionRepo(tx, log),
		Rows:        repos.NewCashLedgerRowRepo(tx, log),
		Identities:  repos.NewIdentityRepo(tx, log),
		Proposals:   repos.NewRuleProposalRepo(tx, log),
	}
}

// seedAssignResolution plants the full chain one operator categorization
// leaves behind: identity, ledger row, resolved UNMAPPED exception and the
// assign_category resolution.
func seedAssignResolution(t *testing.T, tx *gorm.DB, deps MineDeps, companyID uuid.UUID, vendor, category string, label types.PolicyLabel) *types.Resolution {
	t.Helper()
	ident := seedVendorIdentity(t, tx, companyID, vendor, -5000)
	row := testutil.SeedLedgerRow(t, context.Background(), tx, companyID, ident.ID, -5000, ident.OccurredOn)
	rid := row.ID
	sid := ident.ID
	ex, _, err := deps.Exceptions.UpsertOpen(dbcOf(), &types.Exception{
		CompanyID:         companyID,
		Kind:              types.ExceptionUnmapped,
		DedupeKey:         unmappedKey(row.ID),
		Status:            types.ExceptionOpen,
		SubjectIdentityID: &sid,
		LedgerRowID:       &rid,
		AmountMinor:       row.AmountMinor,
		Summary:           "no classification rule matched this row",
		OpenedBy:          "classify",
	})
	if err != nil {
		t.Fatalf("seed exception: %v", err)
	}
	res, err := deps.Resolutions.Create(dbcOf(), &types.Resolution{
		CompanyID:   companyID,
		ExceptionID: ex.ID,
		Action:      types.ActionAssignCategory,
		CategoryKey: category,
		PolicyLabel: label,
		Actor:       "ops@example.com",
	})
	if err != nil {
		t.Fatalf("seed resolution: %v", err)
	}
	if _, err := deps.Exceptions.UpdateStatusIf(dbcOf(), ex.ID, []types.ExceptionStatus{types.ExceptionOpen}, types.ExceptionResolved); err != nil {
		t.Fatalf("resolve exception: %v", err)
	}
	return res
}

func TestMineProposalsDraftsUnanimousVendor(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := mineDeps(t, tx)
	companyID := uuid.New()

	for i := 0; i < 3; i++ {
		seedAssignResolution(t, tx, deps, companyID, "ACME SUPPLY", "vendor", types.LabelCanDelay)
	}

	out, err := MineProposals(context.Background(), deps, MineInput{CompanyID: companyID})
	if err != nil {
		t.Fatalf("MineProposals: %v", err)
	}
	if out.Drafted != 1 {
		t.Fatalf("got %+v, want 1 draft", out)
	}

	p, err := deps.Proposals.FindDraft(dbcOf(), companyID, types.MatchVendorExact, "ACME SUPPLY", "vendor")
	if err != nil || p == nil {
		t.Fatalf("draft not found: %v", err)
	}
	if p.SupportCount != 3 || p.PolicyLabel != types.LabelCanDelay {
		t.Fatalf("draft = %+v, want support 3 with can_delay", p)
	}
}

func TestMineProposalsRequiresMinimumSupport(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := mineDeps(t, tx)
	companyID := uuid.New()

	seedAssignResolution(t, tx, deps, companyID, "ACME SUPPLY", "vendor", types.LabelCanDelay)
	seedAssignResolution(t, tx, deps, companyID, "ACME SUPPLY", "vendor", types.LabelCanDelay)

	out, err := MineProposals(context.Background(), deps, MineInput{CompanyID: companyID})
	if err != nil {
		t.Fatalf("MineProposals: %v", err)
	}
	if out.Drafted != 0 {
		t.Fatalf("got %+v, want no draft at support 2", out)
	}
}

func TestMineProposalsDisagreementDisqualifies(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := mineDeps(t, tx)
	companyID := uuid.New()

	for i := 0; i < 3; i++ {
		seedAssignResolution(t, tx, deps, companyID, "ACME SUPPLY", "vendor", types.LabelCanDelay)
	}
	// One operator disagreed about what this vendor is.
	seedAssignResolution(t, tx, deps, companyID, "ACME SUPPLY", "rent", types.LabelMustPay)

	out, err := MineProposals(context.Background(), deps, MineInput{CompanyID: companyID})
	if err != nil {
		t.Fatalf("MineProposals: %v", err)
	}
	if out.Drafted != 0 {
		t.Fatalf("got %+v, want no draft on disagreement", out)
	}
}

func TestMineProposalsIgnoresUndoneResolutions(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := mineDeps(t, tx)
	companyID := uuid.New()

	seedAssignResolution(t, tx, deps, companyID, "ACME SUPPLY", "vendor", types.LabelCanDelay)
	seedAssignResolution(t, tx, deps, companyID, "ACME SUPPLY", "vendor", types.LabelCanDelay)
	undone := seedAssignResolution(t, tx, deps, companyID, "ACME SUPPLY", "vendor", types.LabelCanDelay)
	if _, err := deps.Resolutions.MarkUndone(dbcOf(), undone.ID); err != nil {
		t.Fatalf("mark undone: %v", err)
	}

	out, err := MineProposals(context.Background(), deps, MineInput{CompanyID: companyID})
	if err != nil {
		t.Fatalf("MineProposals: %v", err)
	}
	if out.Drafted != 0 {
		t.Fatalf("got %+v, undone resolution must not count toward support", out)
	}
}

func TestMineProposalsReRunUpdatesInsteadOfDuplicating(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := mineDeps(t, tx)
	companyID := uuid.New()

	for i := 0; i < 3; i++ {
		seedAssignResolution(t, tx, deps, companyID, "ACME SUPPLY", "vendor", types.LabelCanDelay)
	}
	if _, err := MineProposals(context.Background(), deps, MineInput{CompanyID: companyID}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	seedAssignResolution(t, tx, deps, companyID, "ACME SUPPLY", "vendor", types.LabelCanDelay)

	out, err := MineProposals(context.Background(), deps, MineInput{CompanyID: companyID})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if out.Drafted != 0 || out.Updated != 1 {
		t.Fatalf("got %+v, want the existing draft updated", out)
	}
	drafts, err := deps.Proposals.ListByStatus(dbcOf(), companyID, types.ProposalDraft)
	if err != nil {
		t.Fatalf("list drafts: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("drafts = %d, want 1", len(drafts))
	}
	if drafts[0].SupportCount != 4 {
		t.Fatalf("support = %d, want 4", drafts[0].SupportCount)
	}
}

func TestMineProposalsWindowExcludesOldResolutions(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := mineDeps(t, tx)
	companyID := uuid.New()

	for i := 0; i < 3; i++ {
		seedAssignResolution(t, tx, deps, companyID, "ACME SUPPLY", "vendor", types.LabelCanDelay)
	}

	out, err := MineProposals(context.Background(), deps, MineInput{
		CompanyID: companyID,
		Since:     time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("MineProposals: %v", err)
	}
	if out.ResolutionsScanned != 0 || out.Drafted != 0 {
		t.Fatalf("got %+v, want nothing inside the window", out)
	}
}
