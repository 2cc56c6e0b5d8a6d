package exceptions

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Kind string

const (
	// KindARAmbiguous: an ops payment matches several charges or subsets and
	// the engine refuses to guess.
	KindARAmbiguous Kind = "AR_AMBIG"
	// KindNoMatch: a payout ran out of its settlement grace window with no
	// bank settlement in sight.
	KindNoMatch Kind = "NO_MATCH"
	// KindUnmapped: a ledger row no classification rule matched.
	KindUnmapped Kind = "UNMAPPED"
	// KindGhostAR: the ops system says an invoice was paid but no money
	// movement supports it.
	KindGhostAR Kind = "GHOST_AR"
	// KindTiming: a candidate pair agreed on everything except the date
	// window.
	KindTiming Kind = "TIMING"
	// KindIntegrity: a structural check on the graph failed, e.g. a
	// composition edge pointing at a ledger-emitting identity.
	KindIntegrity Kind = "INTEGRITY"
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusResolved  Status = "resolved"
	StatusDismissed Status = "dismissed"
)

// Exception is one item of the human review queue. The dedupe key makes
// reopening cheap and re-raising idempotent: a pass that detects the same
// condition twice lands on the same row.
type Exception struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID         uuid.UUID      `gorm:"type:uuid;not null;index:idx_exception_dedupe,unique,priority:1" json:"company_id"`
	Kind              Kind           `gorm:"column:kind;not null;index:idx_exception_dedupe,unique,priority:2" json:"kind"`
	DedupeKey         string         `gorm:"column:dedupe_key;not null;index:idx_exception_dedupe,unique,priority:3" json:"dedupe_key"`
	Status            Status         `gorm:"column:status;not null;index" json:"status"`
	SubjectIdentityID *uuid.UUID     `gorm:"type:uuid;column:subject_identity_id;index" json:"subject_identity_id,omitempty"`
	LedgerRowID       *uuid.UUID     `gorm:"type:uuid;column:ledger_row_id;index" json:"ledger_row_id,omitempty"`
	AmountMinor       int64          `gorm:"column:amount_minor;not null" json:"amount_minor"`
	Currency          string         `gorm:"column:currency" json:"currency,omitempty"`
	Summary           string         `gorm:"column:summary;not null" json:"summary"`
	Context           datatypes.JSON `gorm:"column:context;type:jsonb" json:"context,omitempty"`
	OpenedBy          string         `gorm:"column:opened_by;not null" json:"opened_by"`
	CreatedAt         time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null" json:"updated_at"`
	ResolvedAt        *time.Time     `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
}

func (Exception) TableName() string { return "exception" }
