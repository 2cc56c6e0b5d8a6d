package consolidate

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/eddyhq/eddy-backend/internal/data/repos"
	"github.com/eddyhq/eddy-backend/internal/data/repos/testutil"
	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
)

func dbcOf() dbctx.Context { return dbctx.New(context.Background()) }

func consDeps(t *testing.T, tx *gorm.DB) Deps {
	t.Helper()
	log := testutil.Logger(t)
	return Deps{
		DB:         tx,
		Log:        log,
		Identities: repos.NewIdentityRepo(tx, log),
		Edges:      repos.NewIdentityEdgeRepo(tx, log),
		Rows:       repos.NewCashLedgerRowRepo(tx, log),
		Exceptions: repos.NewExceptionRepo(tx, log),
	}
}

func seedIdent(t *testing.T, tx *gorm.DB, ident *types.Identity) *types.Identity {
	t.Helper()
	if ident.ID == uuid.Nil {
		ident.ID = uuid.New()
	}
	if ident.Fingerprint == "" {
		ident.Fingerprint = uuid.NewString()
	}
	if ident.Currency == "" {
		ident.Currency = "USD"
	}
	if err := tx.WithContext(context.Background()).Create(ident).Error; err != nil {
		t.Fatalf("seed identity: %v", err)
	}
	return ident
}

func seedEdge(t *testing.T, deps Deps, companyID, src, dst uuid.UUID, kind types.EdgeKind, pass string) {
	t.Helper()
	_, err := deps.Edges.CreateIgnoreDuplicates(dbcOf(), []*types.IdentityEdge{{
		CompanyID:     companyID,
		SrcIdentityID: src,
		DstIdentityID: dst,
		Kind:          kind,
		Weight:        0.95,
		Pass:          pass,
	}})
	if err != nil {
		t.Fatalf("seed edge: %v", err)
	}
}

func TestConsolidateCountsSettledPayoutOnce(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := consDeps(t, tx)
	companyID := uuid.New()

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	payout := seedIdent(t, tx, &types.Identity{
		CompanyID: companyID, Kind: types.IdentityPayout,
		AmountMinor: 520000, FeeMinor: 5000, OccurredOn: day,
		Provider: "stripe", ProviderRef: "po_1",
	})
	settlement := seedIdent(t, tx, &types.Identity{
		CompanyID: companyID, Kind: types.IdentitySettlement,
		AmountMinor: 515000, OccurredOn: day.AddDate(0, 0, 2),
		AccountRef: "chk_001", CounterpartyNorm: "STRIPE TRANSFER",
	})
	charge := seedIdent(t, tx, &types.Identity{
		CompanyID: companyID, Kind: types.IdentityCharge,
		AmountMinor: 520000, OccurredOn: day.AddDate(0, 0, -1),
		Provider: "stripe", ProviderRef: "txn_1", ProviderParentRef: "po_1",
	})
	fee := seedIdent(t, tx, &types.Identity{
		CompanyID: companyID, Kind: types.IdentityFee,
		AmountMinor: -5000, OccurredOn: day.AddDate(0, 0, -1),
		Provider: "stripe", ProviderRef: "txn_2", ProviderParentRef: "po_1",
	})
	seedEdge(t, deps, companyID, payout.ID, settlement.ID, types.EdgeSettles, "link_settlements")
	seedEdge(t, deps, companyID, payout.ID, charge.ID, types.EdgeComposedOf, "link_composition")
	seedEdge(t, deps, companyID, payout.ID, fee.ID, types.EdgeComposedOf, "link_composition")

	out, err := Consolidate(context.Background(), deps, Input{CompanyID: companyID})
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if out.RowsEmitted != 1 || out.InTransit != 0 || out.Blocked != 0 {
		t.Fatalf("expected exactly one row, got %+v", out)
	}

	rows, err := deps.Rows.ListByCompany(dbcOf(), companyID, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row.IdentityID != payout.ID {
		t.Fatalf("row identity = %s, want payout %s", row.IdentityID, payout.ID)
	}
	if row.SettlementIdentityID == nil || *row.SettlementIdentityID != settlement.ID {
		t.Fatalf("row settlement = %v, want %s", row.SettlementIdentityID, settlement.ID)
	}
	if got := row.PostedOn.UTC().Format("2006-01-02"); got != "2025-03-12" {
		t.Fatalf("posted_on = %s, want settlement date", got)
	}
	if row.Direction != types.DirectionInflow || row.AmountMinor != 515000 {
		t.Fatalf("row amount = %s %d, want inflow 515000", row.Direction, row.AmountMinor)
	}
	if row.PolicyLabel != types.LabelUncategorized || row.CategoryKey != types.CategoryUncategorized {
		t.Fatalf("fresh row classification = %s/%s, want uncategorized", row.CategoryKey, row.PolicyLabel)
	}

	var prov rowProvenance
	if err := json.Unmarshal(row.Provenance, &prov); err != nil {
		t.Fatalf("provenance: %v", err)
	}
	if prov.PayoutID != payout.ID.String() || prov.SettlementID != settlement.ID.String() {
		t.Fatalf("provenance ids = %+v", prov)
	}
	if prov.SettledBy != "link_settlements" || len(prov.Components) != 2 {
		t.Fatalf("provenance trail = %+v", prov)
	}
	var kinds []string
	for _, c := range prov.Components {
		kinds = append(kinds, c.Kind)
	}
	if !strings.Contains(strings.Join(kinds, ","), "CHARGE") {
		t.Fatalf("provenance components missing charge: %v", kinds)
	}

	// Replaying the walk emits nothing new.
	again, err := Consolidate(context.Background(), deps, Input{CompanyID: companyID})
	if err != nil {
		t.Fatalf("Consolidate again: %v", err)
	}
	if again.RowsEmitted != 0 {
		t.Fatalf("expected idempotent re-run, got %+v", again)
	}
	rows, _ = deps.Rows.ListByCompany(dbcOf(), companyID, time.Time{}, time.Time{})
	if len(rows) != 1 {
		t.Fatalf("ledger rows after re-run = %d, want 1", len(rows))
	}
}

func TestConsolidateLeavesUnsettledPayoutInTransit(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := consDeps(t, tx)
	companyID := uuid.New()

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	payout := seedIdent(t, tx, &types.Identity{
		CompanyID: companyID, Kind: types.IdentityPayout,
		AmountMinor: 520000, FeeMinor: 5000, OccurredOn: day,
		Provider: "stripe", ProviderRef: "po_1",
	})

	out, err := Consolidate(context.Background(), deps, Input{CompanyID: companyID})
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if out.RowsEmitted != 0 || out.InTransit != 1 {
		t.Fatalf("expected in-transit payout, got %+v", out)
	}
	rows, _ := deps.Rows.ListByCompany(dbcOf(), companyID, time.Time{}, time.Time{})
	if len(rows) != 0 {
		t.Fatalf("in-transit money must not be ledgered, found %d rows", len(rows))
	}

	pending, err := InTransit(context.Background(), deps, Input{CompanyID: companyID})
	if err != nil {
		t.Fatalf("InTransit: %v", err)
	}
	if len(pending) != 1 || pending[0].IdentityID != payout.ID || pending[0].NetMinor != 515000 {
		t.Fatalf("in-transit listing = %+v", pending)
	}
}

func TestConsolidateLedgersBareSettlements(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := consDeps(t, tx)
	companyID := uuid.New()

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	rent := seedIdent(t, tx, &types.Identity{
		CompanyID: companyID, Kind: types.IdentitySettlement,
		AmountMinor: -180000, OccurredOn: day,
		AccountRef: "chk_001", CounterpartyNorm: "PROPERTY MGMT",
	})
	check := seedIdent(t, tx, &types.Identity{
		CompanyID: companyID, Kind: types.IdentitySettlement,
		AmountMinor: 45000, OccurredOn: day.AddDate(0, 0, 1),
		AccountRef: "chk_001", CounterpartyNorm: "CUSTOMER CHECK",
	})

	out, err := Consolidate(context.Background(), deps, Input{CompanyID: companyID})
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if out.RowsEmitted != 2 || out.SettlementsExamined != 2 {
		t.Fatalf("expected two direct rows, got %+v", out)
	}

	rows, err := deps.Rows.ListByCompany(dbcOf(), companyID, time.Time{}, time.Time{})
	if err != nil || len(rows) != 2 {
		t.Fatalf("ledger rows = %d (%v), want 2", len(rows), err)
	}
	byIdentity := map[uuid.UUID]*types.CashLedgerRow{}
	for _, r := range rows {
		byIdentity[r.IdentityID] = r
	}
	if r := byIdentity[rent.ID]; r == nil || r.Direction != types.DirectionOutflow || r.AmountMinor != 180000 {
		t.Fatalf("rent row = %+v", r)
	}
	if r := byIdentity[check.ID]; r == nil || r.Direction != types.DirectionInflow || r.AmountMinor != 45000 {
		t.Fatalf("check row = %+v", r)
	}
}

func TestConsolidateSkipsIntegrityFlaggedIdentities(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := consDeps(t, tx)
	companyID := uuid.New()

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	payout := seedIdent(t, tx, &types.Identity{
		CompanyID: companyID, Kind: types.IdentityPayout,
		AmountMinor: 520000, FeeMinor: 5000, OccurredOn: day,
		Provider: "stripe", ProviderRef: "po_1",
	})
	settlement := seedIdent(t, tx, &types.Identity{
		CompanyID: companyID, Kind: types.IdentitySettlement,
		AmountMinor: 515000, OccurredOn: day.AddDate(0, 0, 1),
		AccountRef: "chk_001",
	})
	seedEdge(t, deps, companyID, payout.ID, settlement.ID, types.EdgeSettles, "link_settlements")

	pid := payout.ID
	if _, _, err := deps.Exceptions.UpsertOpen(dbcOf(), &types.Exception{
		CompanyID:         companyID,
		Kind:              types.ExceptionIntegrity,
		DedupeKey:         "multi-settlement:" + payout.ID.String(),
		Status:            types.ExceptionOpen,
		SubjectIdentityID: &pid,
		Summary:           "payout claims 2 settlements",
		OpenedBy:          "integrity_check",
	}); err != nil {
		t.Fatalf("seed exception: %v", err)
	}

	out, err := Consolidate(context.Background(), deps, Input{CompanyID: companyID})
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if out.Blocked != 1 || out.RowsEmitted != 0 {
		t.Fatalf("expected flagged payout skipped, got %+v", out)
	}
	rows, _ := deps.Rows.ListByCompany(dbcOf(), companyID, time.Time{}, time.Time{})
	if len(rows) != 0 {
		t.Fatalf("flagged identity must not emit, found %d rows", len(rows))
	}
}

func TestConsolidateNegativePayoutFlowsOut(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	deps := consDeps(t, tx)
	companyID := uuid.New()

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	payout := seedIdent(t, tx, &types.Identity{
		CompanyID: companyID, Kind: types.IdentityPayout,
		AmountMinor: -30000, FeeMinor: 0, OccurredOn: day,
		Provider: "stripe", ProviderRef: "po_neg",
	})
	settlement := seedIdent(t, tx, &types.Identity{
		CompanyID: companyID, Kind: types.IdentitySettlement,
		AmountMinor: -30000, OccurredOn: day.AddDate(0, 0, 1),
		AccountRef: "chk_001",
	})
	seedEdge(t, deps, companyID, payout.ID, settlement.ID, types.EdgeSettles, "link_settlements")

	if _, err := Consolidate(context.Background(), deps, Input{CompanyID: companyID}); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	row, err := deps.Rows.GetByIdentityID(dbcOf(), payout.ID)
	if err != nil || row == nil {
		t.Fatalf("payout row: %v %v", row, err)
	}
	if row.Direction != types.DirectionOutflow || row.AmountMinor != 30000 {
		t.Fatalf("chargeback row = %s %d, want outflow 30000", row.Direction, row.AmountMinor)
	}
}
