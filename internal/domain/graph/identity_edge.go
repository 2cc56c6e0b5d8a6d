package graph

import (
	"time"

	"github.com/google/uuid"
)

type EdgeKind string

const (
	// EdgeSettles runs PAYOUT -> SETTLEMENT: the processor payout that a bank
	// settlement is the arrival of.
	EdgeSettles EdgeKind = "SETTLES"
	// EdgeComposedOf runs PAYOUT -> CHARGE/REFUND/FEE: the balance
	// transactions bundled into a payout.
	EdgeComposedOf EdgeKind = "COMPOSED_OF"
	// EdgeAppliesTo runs OPS_PAYMENT -> CHARGE (or PAYOUT), and
	// OPS_INVOICE -> OPS_PAYMENT: operational records matched to the money
	// movement they describe.
	EdgeAppliesTo EdgeKind = "APPLIES_TO"
)

// IdentityEdge is a typed, directed relationship between two identities.
// Edges are created by linker passes or by an operator resolution; in the
// second case resolution_id points at the resolution so undo can find it.
type IdentityEdge struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"company_id"`
	SrcIdentityID uuid.UUID  `gorm:"type:uuid;not null;index:idx_identity_edge_triple,unique,priority:1" json:"src_identity_id"`
	DstIdentityID uuid.UUID  `gorm:"type:uuid;not null;index:idx_identity_edge_triple,unique,priority:2" json:"dst_identity_id"`
	Kind          EdgeKind   `gorm:"column:kind;not null;index:idx_identity_edge_triple,unique,priority:3" json:"kind"`
	Weight        float64    `gorm:"column:weight;not null" json:"weight"`
	Pass          string     `gorm:"column:pass;not null" json:"pass"`
	ResolutionID  *uuid.UUID `gorm:"type:uuid;column:resolution_id;index" json:"resolution_id,omitempty"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
}

func (IdentityEdge) TableName() string { return "identity_edge" }
