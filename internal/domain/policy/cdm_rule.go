package policy

import (
	"time"

	"github.com/google/uuid"
)

// Label is the cash-planning treatment a category carries.
type Label string

const (
	LabelMustPay       Label = "must_pay"
	LabelCanDelay      Label = "can_delay"
	LabelDiscretionary Label = "discretionary"
	// LabelUncategorized marks rows no rule matched. Rows wearing it always
	// have an open UNMAPPED exception.
	LabelUncategorized Label = "uncategorized"
)

// MatchKind orders rule evaluation. Kinds form precedence tiers: an exact
// vendor match beats a category code, which beats a regex, which beats an
// account default, which beats a source-kind default.
type MatchKind string

const (
	MatchVendorExact       MatchKind = "vendor_exact"
	MatchCategoryCode      MatchKind = "category_code"
	MatchDescriptionRegex  MatchKind = "description_regex"
	MatchAccountDefault    MatchKind = "account_default"
	MatchSourceKindDefault MatchKind = "source_kind_default"
)

// Precedence returns the tier for a match kind; lower wins. Unknown kinds
// sort last so a bad row can never shadow real rules.
func (k MatchKind) Precedence() int {
	switch k {
	case MatchVendorExact:
		return 0
	case MatchCategoryCode:
		return 1
	case MatchDescriptionRegex:
		return 2
	case MatchAccountDefault:
		return 3
	case MatchSourceKindDefault:
		return 4
	default:
		return 5
	}
}

// CDMRule is one classification rule inside one immutable version. Editing a
// rule means publishing a new version that carries the full rule set.
type CDMRule struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID     uuid.UUID `gorm:"type:uuid;not null;index" json:"company_id"`
	RuleVersionID uuid.UUID `gorm:"type:uuid;not null;index" json:"rule_version_id"`
	Version       int       `gorm:"column:version;not null;index" json:"version"`
	Ordinal       int       `gorm:"column:ordinal;not null" json:"ordinal"`
	MatchKind     MatchKind `gorm:"column:match_kind;not null" json:"match_kind"`
	Pattern       string    `gorm:"column:pattern;not null" json:"pattern"`
	CategoryKey   string    `gorm:"column:category_key;not null" json:"category_key"`
	PolicyLabel   Label     `gorm:"column:policy_label;not null" json:"policy_label"`
	Confidence    float64   `gorm:"column:confidence;not null" json:"confidence"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
}

func (CDMRule) TableName() string { return "cdm_rule" }
