package events

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Kind string

const (
	KindBankTransaction    Kind = "bank_transaction"
	KindPayout             Kind = "payout"
	KindBalanceTransaction Kind = "balance_transaction"
	KindOpsPayment         Kind = "ops_payment"
	KindOpsInvoice         Kind = "ops_invoice"
)

// RawEvent is the immutable record of one observation from one source.
// Rows are written exactly once; reprocessing reads them, never edits them.
type RawEvent struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID        uuid.UUID      `gorm:"type:uuid;not null;index:idx_raw_event_natural,unique,priority:1" json:"company_id"`
	Source           string         `gorm:"column:source;not null;index:idx_raw_event_natural,unique,priority:2" json:"source"`
	Kind             Kind           `gorm:"column:kind;not null;index:idx_raw_event_natural,unique,priority:3" json:"kind"`
	ExternalID       string         `gorm:"column:external_id;not null;index:idx_raw_event_natural,unique,priority:4" json:"external_id"`
	OccurredAt       time.Time      `gorm:"column:occurred_at;not null;index" json:"occurred_at"`
	AmountMinor      int64          `gorm:"column:amount_minor;not null" json:"amount_minor"`
	Currency         string         `gorm:"column:currency;not null" json:"currency"`
	AccountRef       string         `gorm:"column:account_ref" json:"account_ref,omitempty"`
	Counterparty     string         `gorm:"column:counterparty" json:"counterparty,omitempty"`
	CategoryHint     string         `gorm:"column:category_hint" json:"category_hint,omitempty"`
	ParentExternalID string         `gorm:"column:parent_external_id;index" json:"parent_external_id,omitempty"`
	OpsStatus        string         `gorm:"column:ops_status" json:"ops_status,omitempty"`
	FeeMinor         int64          `gorm:"column:fee_minor;not null;default:0" json:"fee_minor"`
	Payload          datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload,omitempty"`
	ReceivedAt       time.Time      `gorm:"column:received_at;not null;index" json:"received_at"`
}

func (RawEvent) TableName() string { return "raw_event" }
