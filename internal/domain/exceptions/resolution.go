package exceptions

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/eddyhq/eddy-backend/internal/domain/policy"
)

type Action string

const (
	ActionPickCandidate  Action = "pick_candidate"
	ActionManualLink     Action = "manual_link"
	ActionAssignCategory Action = "assign_category"
	ActionWriteOff       Action = "write_off"
	ActionDismiss        Action = "dismiss"
)

// Resolution is the audit record of one operator action on an exception.
// Effects holds exactly what the action changed (edge ids, ledger row ids,
// prior classification values) so undo can reverse it without replaying the
// pipeline.
type Resolution struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"company_id"`
	ExceptionID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"exception_id"`
	Action           Action         `gorm:"column:action;not null" json:"action"`
	ChosenIdentityID *uuid.UUID     `gorm:"type:uuid;column:chosen_identity_id" json:"chosen_identity_id,omitempty"`
	CategoryKey      string         `gorm:"column:category_key" json:"category_key,omitempty"`
	PolicyLabel      policy.Label   `gorm:"column:policy_label" json:"policy_label,omitempty"`
	Note             string         `gorm:"column:note" json:"note,omitempty"`
	Actor            string         `gorm:"column:actor;not null" json:"actor"`
	Effects          datatypes.JSON `gorm:"column:effects;type:jsonb" json:"effects,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;index" json:"created_at"`
	UndoneAt         *time.Time     `gorm:"column:undone_at" json:"undone_at,omitempty"`
}

func (Resolution) TableName() string { return "exception_resolution" }

// ResolutionEffects is the reversible footprint of one resolution. Applying
// an action fills in what it created or overwrote; undo reverses exactly
// these and nothing else.
type ResolutionEffects struct {
	CreatedEdgeIDs   []string     `json:"created_edge_ids,omitempty"`
	CreatedRowIDs    []string     `json:"created_row_ids,omitempty"`
	LedgerRowID      string       `json:"ledger_row_id,omitempty"`
	PriorCategoryKey string       `json:"prior_category_key,omitempty"`
	PriorPolicyLabel policy.Label `json:"prior_policy_label,omitempty"`
	PriorConfidence  float64      `json:"prior_confidence,omitempty"`
	PriorRuleVersion int          `json:"prior_rule_version,omitempty"`
}
