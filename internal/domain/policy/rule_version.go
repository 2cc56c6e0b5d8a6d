package policy

import (
	"time"

	"github.com/google/uuid"
)

// RuleVersion is an immutable snapshot marker for a company's rule set.
// Versions increase monotonically per company and are never rewritten, so
// any ledger row can name the exact version that classified it.
type RuleVersion struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID   uuid.UUID `gorm:"type:uuid;not null;index:idx_rule_version_company,unique,priority:1" json:"company_id"`
	Version     int       `gorm:"column:version;not null;index:idx_rule_version_company,unique,priority:2" json:"version"`
	Note        string    `gorm:"column:note" json:"note,omitempty"`
	PublishedAt time.Time `gorm:"column:published_at;not null" json:"published_at"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}

func (RuleVersion) TableName() string { return "rule_version" }

// State is the per-company pointer at the active rule version. It is the
// only mutable row in the policy tables.
type State struct {
	CompanyID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"company_id"`
	ActiveVersion int       `gorm:"column:active_version;not null" json:"active_version"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (State) TableName() string { return "policy_state" }
