package ledger

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/eddyhq/eddy-backend/internal/domain/policy"
)

type Direction string

const (
	DirectionInflow  Direction = "inflow"
	DirectionOutflow Direction = "outflow"
)

// CashLedgerRow is one consolidated cash movement. Exactly one row exists
// per emitting identity, and at most one per settlement, which is what keeps
// a payout seen by the processor and its bank settlement from counting
// twice. Cash facts are written once; only the classification columns are
// rewritten when rules change or a resolution is undone.
type CashLedgerRow struct {
	ID                   uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID            uuid.UUID      `gorm:"type:uuid;not null;index:idx_ledger_settlement,unique,priority:1" json:"company_id"`
	IdentityID           uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_ledger_identity" json:"identity_id"`
	SettlementIdentityID *uuid.UUID     `gorm:"type:uuid;column:settlement_identity_id;index:idx_ledger_settlement,unique,priority:2" json:"settlement_identity_id,omitempty"`
	PostedOn             time.Time      `gorm:"column:posted_on;not null;index" json:"posted_on"`
	Direction            Direction      `gorm:"column:direction;not null" json:"direction"`
	AmountMinor          int64          `gorm:"column:amount_minor;not null" json:"amount_minor"`
	Currency             string         `gorm:"column:currency;not null" json:"currency"`
	CategoryKey          string         `gorm:"column:category_key;not null;index" json:"category_key"`
	PolicyLabel          policy.Label   `gorm:"column:policy_label;not null;index" json:"policy_label"`
	Confidence           float64        `gorm:"column:confidence;not null" json:"confidence"`
	RuleVersion          int            `gorm:"column:rule_version;not null;default:0" json:"rule_version"`
	// ClassifiedBy names who wrote the classification columns: "rule:<id>",
	// "operator:<resolution_id>", or empty for the unmapped sentinel.
	// Renormalization never overwrites operator rows; only undo does.
	ClassifiedBy         string         `gorm:"column:classified_by" json:"classified_by,omitempty"`
	Provenance           datatypes.JSON `gorm:"column:provenance;type:jsonb" json:"provenance,omitempty"`
	CreatedAt            time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"not null" json:"updated_at"`
}

func (CashLedgerRow) TableName() string { return "cash_ledger_row" }
