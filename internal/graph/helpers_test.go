package graph

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
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
)

func dbcOf() dbctx.Context { return dbctx.New(context.Background()) }

func linkDeps(t *testing.T, tx *gorm.DB) LinkDeps {
	t.Helper()
	log := testutil.Logger(t)
	return LinkDeps{
		DB:         tx,
		Log:        log,
		Cfg:        config.Default(),
		Identities: repos.NewIdentityRepo(tx, log),
		Edges:      repos.NewIdentityEdgeRepo(tx, log),
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

func seedPayoutIdent(t *testing.T, tx *gorm.DB, companyID uuid.UUID, ref string, amount, fee int64, occurred time.Time) *types.Identity {
	t.Helper()
	return seedIdent(t, tx, &types.Identity{
		CompanyID:   companyID,
		Kind:        types.IdentityPayout,
		AmountMinor: amount,
		FeeMinor:    fee,
		OccurredOn:  occurred,
		AccountRef:  "acct_main",
		Provider:    "stripe",
		ProviderRef: ref,
	})
}

func seedSettlementIdent(t *testing.T, tx *gorm.DB, companyID uuid.UUID, amount int64, occurred time.Time, counterparty string) *types.Identity {
	t.Helper()
	return seedIdent(t, tx, &types.Identity{
		CompanyID:        companyID,
		Kind:             types.IdentitySettlement,
		AmountMinor:      amount,
		OccurredOn:       occurred,
		AccountRef:       "chk_001",
		CounterpartyNorm: counterparty,
	})
}

func seedChargeIdent(t *testing.T, tx *gorm.DB, companyID uuid.UUID, ref, parentRef string, amount int64, occurred time.Time, counterparty string) *types.Identity {
	t.Helper()
	return seedIdent(t, tx, &types.Identity{
		CompanyID:         companyID,
		Kind:              types.IdentityCharge,
		AmountMinor:       amount,
		OccurredOn:        occurred,
		AccountRef:        "acct_main",
		CounterpartyNorm:  counterparty,
		Provider:          "stripe",
		ProviderRef:       ref,
		ProviderParentRef: parentRef,
	})
}

func seedFeeIdent(t *testing.T, tx *gorm.DB, companyID uuid.UUID, ref, parentRef string, amount int64, occurred time.Time) *types.Identity {
	t.Helper()
	return seedIdent(t, tx, &types.Identity{
		CompanyID:         companyID,
		Kind:              types.IdentityFee,
		AmountMinor:       amount,
		OccurredOn:        occurred,
		AccountRef:        "acct_main",
		Provider:          "stripe",
		ProviderRef:       ref,
		ProviderParentRef: parentRef,
	})
}

func seedOpsPaymentIdent(t *testing.T, tx *gorm.DB, companyID uuid.UUID, ref, parentRef string, amount int64, occurred time.Time, counterparty string) *types.Identity {
	t.Helper()
	return seedIdent(t, tx, &types.Identity{
		CompanyID:         companyID,
		Kind:              types.IdentityOpsPayment,
		AmountMinor:       amount,
		OccurredOn:        occurred,
		CounterpartyNorm:  counterparty,
		Provider:          "quickbooks",
		ProviderRef:       ref,
		ProviderParentRef: parentRef,
		OpsStatus:         "recorded",
	})
}

func seedOpsInvoiceIdent(t *testing.T, tx *gorm.DB, companyID uuid.UUID, ref, parentRef string, amount int64, occurred time.Time, status string) *types.Identity {
	t.Helper()
	return seedIdent(t, tx, &types.Identity{
		CompanyID:         companyID,
		Kind:              types.IdentityOpsInvoice,
		AmountMinor:       amount,
		OccurredOn:        occurred,
		CounterpartyNorm:  "ACME CORP",
		Provider:          "quickbooks",
		ProviderRef:       ref,
		ProviderParentRef: parentRef,
		OpsStatus:         status,
	})
}

func mustEdge(t *testing.T, deps LinkDeps, src, dst uuid.UUID, kind types.EdgeKind) *types.IdentityEdge {
	t.Helper()
	edges, err := deps.Edges.ListBySrc(dbcOf(), []uuid.UUID{src}, kind)
	if err != nil {
		t.Fatalf("list edges: %v", err)
	}
	for _, e := range edges {
		if e.DstIdentityID == dst {
			return e
		}
	}
	t.Fatalf("no %s edge %s -> %s", kind, src, dst)
	return nil
}

func mustNoEdges(t *testing.T, deps LinkDeps, src uuid.UUID, kind types.EdgeKind) {
	t.Helper()
	edges, err := deps.Edges.ListBySrc(dbcOf(), []uuid.UUID{src}, kind)
	if err != nil {
		t.Fatalf("list edges: %v", err)
	}
	if len(edges) != 0 {
		t.Fatalf("expected no %s edges from %s, found %d", kind, src, len(edges))
	}
}

func mustException(t *testing.T, deps LinkDeps, companyID uuid.UUID, kind types.ExceptionKind, dedupeKey string) *types.Exception {
	t.Helper()
	ex, err := deps.Exceptions.GetByDedupeKey(dbcOf(), companyID, kind, dedupeKey)
	if err != nil {
		t.Fatalf("get exception: %v", err)
	}
	if ex == nil {
		t.Fatalf("expected %s exception %q", kind, dedupeKey)
	}
	return ex
}
