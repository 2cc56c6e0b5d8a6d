package policy

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type PolicyStateRepo interface {
	// Get returns the company's active-version pointer, nil when the company
	// has never published a version.
	Get(dbc dbctx.Context, companyID uuid.UUID) (*types.PolicyState, error)
	SetActiveVersion(dbc dbctx.Context, companyID uuid.UUID, version int) error
}

type policyStateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPolicyStateRepo(db *gorm.DB, baseLog *logger.Logger) PolicyStateRepo {
	return &policyStateRepo{
		db:  db,
		log: baseLog.With("repo", "PolicyStateRepo"),
	}
}

func (r *policyStateRepo) Get(dbc dbctx.Context, companyID uuid.UUID) (*types.PolicyState, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil {
		return nil, nil
	}
	var out types.PolicyState
	err := transaction.WithContext(dbc.Ctx).
		Where("company_id = ?", companyID).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if out.CompanyID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *policyStateRepo) SetActiveVersion(dbc dbctx.Context, companyID uuid.UUID, version int) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil || version <= 0 {
		return nil
	}
	state := &types.PolicyState{
		CompanyID:     companyID,
		ActiveVersion: version,
		UpdatedAt:     time.Now().UTC(),
	}
	return transaction.WithContext(dbc.Ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"active_version", "updated_at"}),
	}).Create(state).Error
}
