package policy

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/eddyhq/eddy-backend/internal/config"
	"github.com/eddyhq/eddy-backend/internal/data/repos"
	"github.com/eddyhq/eddy-backend/internal/data/repos/testutil"
	types "github.com/eddyhq/eddy-backend/internal/domain"
)

func classifyDeps(t *testing.T, tx *gorm.DB) ClassifyDeps {
	t.Helper()
	log := testutil.Logger(t)
	return ClassifyDeps{
		DB:          tx,
		Log:         log,
		Cfg:         config.Default(),
		Rows:        repos.NewCashLedgerRowRepo(tx, log),
		Identities:  repos.NewIdentityRepo(tx, log),
		Rules:       repos.NewCDMRuleRepo(tx, log),
		State:       repos.NewPolicyStateRepo(tx, log),
		Exceptions:  repos.NewExceptionRepo(tx, log),
		Resolutions: repos.NewResolutionRepo(tx, log),
	}
}

func seedVendorIdentity(t *testing.T, tx *gorm.DB, companyID uuid.UUID, counterparty string, amountMinor int64) *types.Identity {
	t.Helper()
	ident := &types.Identity{
		ID:               uuid.New(),
		CompanyID:        companyID,
		Fingerprint:      uuid.NewString(),
		Kind:             types.IdentityPayout,
		AmountMinor:      amountMinor,
		Currency:         "USD",
		CounterpartyNorm: counterparty,
		OccurredOn:       time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt:        time.Now().UTC(),
	}
	if err := tx.WithContext(context.Background()).Create(ident).Error; err != nil {
		t.Fatalf("seed identity: %v", err)
	}
	return ident
}

func publishVendorRule(t *testing.T, tx *gorm.DB, companyID uuid.UUID, vendor, category string, label types.PolicyLabel) int {
	t.Helper()
	out, err := Publish(context.Background(), verDeps(t, tx), PublishInput{
		CompanyID: companyID,
		ExtraRules: []RuleSpec{{
			MatchKind:   types.MatchVendorExact,
			Pattern:     vendor,
			CategoryKey: category,
			PolicyLabel: label,
		}},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	return out.Version
}

func TestClassifyAppliesMatchingRule(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := classifyDeps(t, tx)
	companyID := uuid.New()

	version := publishVendorRule(t, tx, companyID, "GUSTO PAYROLL", "payroll", types.LabelMustPay)
	ident := seedVendorIdentity(t, tx, companyID, "GUSTO PAYROLL", -310000)
	row := testutil.SeedLedgerRow(t, context.Background(), tx, companyID, ident.ID, -310000, ident.OccurredOn)

	out, err := Classify(context.Background(), deps, ClassifyInput{CompanyID: companyID})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if out.Classified != 1 || out.Unmapped != 0 {
		t.Fatalf("got %+v, want 1 classified", out)
	}

	got, err := deps.Rows.GetByID(dbcOf(), row.ID)
	if err != nil || got == nil {
		t.Fatalf("reload row: %v", err)
	}
	if got.CategoryKey != "payroll" || got.PolicyLabel != types.LabelMustPay {
		t.Fatalf("row = %s/%s, want payroll/must_pay", got.CategoryKey, got.PolicyLabel)
	}
	if got.RuleVersion != version {
		t.Fatalf("rule version = %d, want %d", got.RuleVersion, version)
	}
	if got.ClassifiedBy == "" || operatorClassified(got) {
		t.Fatalf("classified_by = %q, want rule attribution", got.ClassifiedBy)
	}
}

func TestClassifyRaisesUnmappedOnce(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := classifyDeps(t, tx)
	companyID := uuid.New()

	publishVendorRule(t, tx, companyID, "SOMEBODY ELSE", "vendor", types.LabelCanDelay)
	ident := seedVendorIdentity(t, tx, companyID, "MYSTERY LLC", -9900)
	row := testutil.SeedLedgerRow(t, context.Background(), tx, companyID, ident.ID, -9900, ident.OccurredOn)

	for i := 0; i < 2; i++ {
		out, err := Classify(context.Background(), deps, ClassifyInput{CompanyID: companyID})
		if err != nil {
			t.Fatalf("Classify #%d: %v", i+1, err)
		}
		if out.Unmapped != 1 {
			t.Fatalf("run %d: got %+v, want 1 unmapped", i+1, out)
		}
	}

	got, err := deps.Rows.GetByID(dbcOf(), row.ID)
	if err != nil || got == nil {
		t.Fatalf("reload row: %v", err)
	}
	if got.CategoryKey != types.CategoryUncategorized || got.PolicyLabel != types.LabelUncategorized {
		t.Fatalf("row = %s/%s, want the sentinel", got.CategoryKey, got.PolicyLabel)
	}

	open, err := deps.Exceptions.List(dbcOf(), companyID, types.ExceptionOpen, types.ExceptionUnmapped, 10, 0)
	if err != nil {
		t.Fatalf("list exceptions: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open UNMAPPED = %d, want exactly 1 after two runs", len(open))
	}
	if open[0].LedgerRowID == nil || *open[0].LedgerRowID != row.ID {
		t.Fatalf("exception row = %v, want %s", open[0].LedgerRowID, row.ID)
	}
}

func TestClassifyClosesStaleUnmappedWhenRuleArrives(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := classifyDeps(t, tx)
	companyID := uuid.New()

	ident := seedVendorIdentity(t, tx, companyID, "NEW VENDOR CO", -4500)
	row := testutil.SeedLedgerRow(t, context.Background(), tx, companyID, ident.ID, -4500, ident.OccurredOn)

	if _, err := Classify(context.Background(), deps, ClassifyInput{CompanyID: companyID}); err != nil {
		t.Fatalf("first classify: %v", err)
	}
	publishVendorRule(t, tx, companyID, "NEW VENDOR CO", "vendor", types.LabelCanDelay)
	if _, err := Classify(context.Background(), deps, ClassifyInput{CompanyID: companyID}); err != nil {
		t.Fatalf("second classify: %v", err)
	}

	ex, err := deps.Exceptions.GetByDedupeKey(dbcOf(), companyID, types.ExceptionUnmapped, unmappedKey(row.ID))
	if err != nil || ex == nil {
		t.Fatalf("lookup exception: %v", err)
	}
	if ex.Status != types.ExceptionResolved {
		t.Fatalf("exception status = %s, want resolved by the system", ex.Status)
	}
	res, err := deps.Resolutions.GetLatestActiveByException(dbcOf(), ex.ID)
	if err != nil || res == nil {
		t.Fatalf("lookup resolution: %v", err)
	}
	if res.Actor != "system:policy" || res.Action != types.ActionAssignCategory {
		t.Fatalf("resolution = %s by %s, want system assign_category", res.Action, res.Actor)
	}
}

func TestClassifyWithoutPublishedVersionLeavesEverythingUnmapped(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := classifyDeps(t, tx)
	companyID := uuid.New()

	ident := seedVendorIdentity(t, tx, companyID, "ANYONE", 1000)
	testutil.SeedLedgerRow(t, context.Background(), tx, companyID, ident.ID, 1000, ident.OccurredOn)

	out, err := Classify(context.Background(), deps, ClassifyInput{CompanyID: companyID})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if out.RuleVersion != 0 || out.Unmapped != 1 || out.Classified != 0 {
		t.Fatalf("got %+v, want version 0 and 1 unmapped", out)
	}
}
