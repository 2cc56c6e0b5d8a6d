package graph

import (
	"time"

	"github.com/google/uuid"
)

type IdentityKind string

const (
	KindSettlement IdentityKind = "SETTLEMENT"
	KindPayout     IdentityKind = "PAYOUT"
	KindCharge     IdentityKind = "CHARGE"
	KindRefund     IdentityKind = "REFUND"
	KindFee        IdentityKind = "FEE"
	KindOpsPayment IdentityKind = "OPS_PAYMENT"
	KindOpsInvoice IdentityKind = "OPS_INVOICE"
)

// LedgerEmitting reports whether identities of this kind may own a cash
// ledger row. Only bank-visible money movement counts toward cash; charges,
// refunds, fees, and operational records describe movement that is already
// inside a payout or not cash at all.
func (k IdentityKind) LedgerEmitting() bool {
	return k == KindPayout || k == KindSettlement
}

// Identity is one deduplicated economic object. Multiple raw events from
// different sources collapse onto one identity via the fingerprint. Match
// attributes are denormalized from the first resolving event so linker
// passes never join back to raw_event.
type Identity struct {
	ID                uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID         uuid.UUID    `gorm:"type:uuid;not null;index:idx_identity_fingerprint,unique,priority:1" json:"company_id"`
	Fingerprint       string       `gorm:"column:fingerprint;not null;index:idx_identity_fingerprint,unique,priority:2" json:"fingerprint"`
	Kind              IdentityKind `gorm:"column:kind;not null;index" json:"kind"`
	AmountMinor       int64        `gorm:"column:amount_minor;not null" json:"amount_minor"`
	FeeMinor          int64        `gorm:"column:fee_minor;not null;default:0" json:"fee_minor"`
	Currency          string       `gorm:"column:currency;not null" json:"currency"`
	OccurredOn        time.Time    `gorm:"column:occurred_on;not null;index" json:"occurred_on"`
	AccountRef        string       `gorm:"column:account_ref" json:"account_ref,omitempty"`
	CounterpartyNorm  string       `gorm:"column:counterparty_norm;index" json:"counterparty_norm,omitempty"`
	Provider          string       `gorm:"column:provider" json:"provider,omitempty"`
	ProviderRef       string       `gorm:"column:provider_ref;index" json:"provider_ref,omitempty"`
	ProviderParentRef string       `gorm:"column:provider_parent_ref;index" json:"provider_parent_ref,omitempty"`
	CategoryHint      string       `gorm:"column:category_hint" json:"category_hint,omitempty"`
	OpsStatus         string       `gorm:"column:ops_status" json:"ops_status,omitempty"`
	CreatedAt         time.Time    `gorm:"not null;index" json:"created_at"`
}

func (Identity) TableName() string { return "identity" }
