package graph

import (
	"time"

	"github.com/google/uuid"
)

// IdentityLink records that a raw event resolved to an identity. A raw event
// resolves exactly once; the unique index on raw_event_id holds that even if
// the resolver runs the same batch twice.
type IdentityLink struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID  uuid.UUID `gorm:"type:uuid;not null;index" json:"company_id"`
	IdentityID uuid.UUID `gorm:"type:uuid;not null;index" json:"identity_id"`
	RawEventID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_identity_link_raw_event" json:"raw_event_id"`
	Confidence float64   `gorm:"column:confidence;not null" json:"confidence"`
	Reason     string    `gorm:"column:reason;not null" json:"reason"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (IdentityLink) TableName() string { return "identity_link" }
