package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/eddyhq/eddy-backend/internal/domain"
)

func SeedPayoutEvent(tb testing.TB, ctx context.Context, tx *gorm.DB, companyID uuid.UUID, externalID string, amountMinor, feeMinor int64, occurred time.Time) *types.RawEvent {
	tb.Helper()
	ev := &types.RawEvent{
		ID:          uuid.New(),
		CompanyID:   companyID,
		Source:      "stripe",
		Kind:        types.EventKindPayout,
		ExternalID:  externalID,
		OccurredAt:  occurred,
		AmountMinor: amountMinor,
		FeeMinor:    feeMinor,
		Currency:    "USD",
		AccountRef:  "acct_main",
		ReceivedAt:  time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(ev).Error; err != nil {
		tb.Fatalf("seed payout event: %v", err)
	}
	return ev
}

func SeedBankDeposit(tb testing.TB, ctx context.Context, tx *gorm.DB, companyID uuid.UUID, externalID string, amountMinor int64, occurred time.Time, counterparty string) *types.RawEvent {
	tb.Helper()
	ev := &types.RawEvent{
		ID:           uuid.New(),
		CompanyID:    companyID,
		Source:       "bank",
		Kind:         types.EventKindBankTransaction,
		ExternalID:   externalID,
		OccurredAt:   occurred,
		AmountMinor:  amountMinor,
		Currency:     "USD",
		AccountRef:   "chk_001",
		Counterparty: counterparty,
		ReceivedAt:   time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(ev).Error; err != nil {
		tb.Fatalf("seed bank deposit: %v", err)
	}
	return ev
}

// SeedBalanceTransaction seeds a processor balance transaction; txType is
// the processor's own type string (charge, refund, fee) carried in the
// category hint.
func SeedBalanceTransaction(tb testing.TB, ctx context.Context, tx *gorm.DB, companyID uuid.UUID, externalID, parentExternalID, txType string, amountMinor int64, occurred time.Time) *types.RawEvent {
	tb.Helper()
	ev := &types.RawEvent{
		ID:               uuid.New(),
		CompanyID:        companyID,
		Source:           "stripe",
		Kind:             types.EventKindBalanceTransaction,
		ExternalID:       externalID,
		ParentExternalID: parentExternalID,
		CategoryHint:     txType,
		OccurredAt:       occurred,
		AmountMinor:      amountMinor,
		Currency:         "USD",
		AccountRef:       "acct_main",
		ReceivedAt:       time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(ev).Error; err != nil {
		tb.Fatalf("seed balance transaction: %v", err)
	}
	return ev
}

func SeedOpsPayment(tb testing.TB, ctx context.Context, tx *gorm.DB, companyID uuid.UUID, externalID string, amountMinor int64, occurred time.Time, counterparty string) *types.RawEvent {
	tb.Helper()
	ev := &types.RawEvent{
		ID:           uuid.New(),
		CompanyID:    companyID,
		Source:       "quickbooks",
		Kind:         types.EventKindOpsPayment,
		ExternalID:   externalID,
		OccurredAt:   occurred,
		AmountMinor:  amountMinor,
		Currency:     "USD",
		Counterparty: counterparty,
		OpsStatus:    "recorded",
		ReceivedAt:   time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(ev).Error; err != nil {
		tb.Fatalf("seed ops payment: %v", err)
	}
	return ev
}

func SeedOpsInvoice(tb testing.TB, ctx context.Context, tx *gorm.DB, companyID uuid.UUID, externalID string, amountMinor int64, occurred time.Time, status, parentExternalID string) *types.RawEvent {
	tb.Helper()
	ev := &types.RawEvent{
		ID:               uuid.New(),
		CompanyID:        companyID,
		Source:           "quickbooks",
		Kind:             types.EventKindOpsInvoice,
		ExternalID:       externalID,
		ParentExternalID: parentExternalID,
		OccurredAt:       occurred,
		AmountMinor:      amountMinor,
		Currency:         "USD",
		OpsStatus:        status,
		ReceivedAt:       time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(ev).Error; err != nil {
		tb.Fatalf("seed ops invoice: %v", err)
	}
	return ev
}

func SeedIdentity(tb testing.TB, ctx context.Context, tx *gorm.DB, companyID uuid.UUID, kind types.IdentityKind, amountMinor int64, occurredOn time.Time) *types.Identity {
	tb.Helper()
	id := &types.Identity{
		ID:          uuid.New(),
		CompanyID:   companyID,
		Fingerprint: uuid.NewString(),
		Kind:        kind,
		AmountMinor: amountMinor,
		Currency:    "USD",
		OccurredOn:  occurredOn,
		CreatedAt:   time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(id).Error; err != nil {
		tb.Fatalf("seed identity: %v", err)
	}
	return id
}

func SeedLedgerRow(tb testing.TB, ctx context.Context, tx *gorm.DB, companyID, identityID uuid.UUID, amountMinor int64, postedOn time.Time) *types.CashLedgerRow {
	tb.Helper()
	now := time.Now().UTC()
	row := &types.CashLedgerRow{
		ID:          uuid.New(),
		CompanyID:   companyID,
		IdentityID:  identityID,
		PostedOn:    postedOn,
		Direction:   types.DirectionInflow,
		AmountMinor: amountMinor,
		Currency:    "USD",
		CategoryKey: "",
		PolicyLabel: types.LabelUncategorized,
		RuleVersion: 0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		tb.Fatalf("seed ledger row: %v", err)
	}
	return row
}
