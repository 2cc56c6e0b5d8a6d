package policy

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ProposalStatus string

const (
	ProposalDraft     ProposalStatus = "draft"
	ProposalPublished ProposalStatus = "published"
	ProposalDiscarded ProposalStatus = "discarded"
)

// RuleProposal is a draft rule distilled from repeated operator resolutions.
// Proposals never classify anything until an operator publishes them into a
// new rule version.
type RuleProposal struct {
	ID                  uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"company_id"`
	Status              ProposalStatus `gorm:"column:status;not null;index" json:"status"`
	MatchKind           MatchKind      `gorm:"column:match_kind;not null" json:"match_kind"`
	Pattern             string         `gorm:"column:pattern;not null" json:"pattern"`
	CategoryKey         string         `gorm:"column:category_key;not null" json:"category_key"`
	PolicyLabel         Label          `gorm:"column:policy_label;not null" json:"policy_label"`
	SupportCount        int            `gorm:"column:support_count;not null" json:"support_count"`
	SourceResolutionIDs datatypes.JSON `gorm:"column:source_resolution_ids;type:jsonb" json:"source_resolution_ids,omitempty"`
	CreatedAt           time.Time      `gorm:"not null" json:"created_at"`
	DecidedAt           *time.Time     `gorm:"column:decided_at" json:"decided_at,omitempty"`
	PublishedVersion    *int           `gorm:"column:published_version" json:"published_version,omitempty"`
}

func (RuleProposal) TableName() string { return "rule_proposal" }
