package policy

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type RuleVersionRepo interface {
	Create(dbc dbctx.Context, v *types.RuleVersion) (*types.RuleVersion, error)
	GetByVersion(dbc dbctx.Context, companyID uuid.UUID, version int) (*types.RuleVersion, error)
	// GetLatest returns the highest version for the company, nil when the
	// company has never published.
	GetLatest(dbc dbctx.Context, companyID uuid.UUID) (*types.RuleVersion, error)
	List(dbc dbctx.Context, companyID uuid.UUID) ([]*types.RuleVersion, error)
}

type ruleVersionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRuleVersionRepo(db *gorm.DB, baseLog *logger.Logger) RuleVersionRepo {
	return &ruleVersionRepo{
		db:  db,
		log: baseLog.With("repo", "RuleVersionRepo"),
	}
}

func (r *ruleVersionRepo) Create(dbc dbctx.Context, v *types.RuleVersion) (*types.RuleVersion, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if v == nil {
		return nil, nil
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	if v.PublishedAt.IsZero() {
		v.PublishedAt = v.CreatedAt
	}
	if err := transaction.WithContext(dbc.Ctx).Create(v).Error; err != nil {
		return nil, err
	}
	return v, nil
}

func (r *ruleVersionRepo) GetByVersion(dbc dbctx.Context, companyID uuid.UUID, version int) (*types.RuleVersion, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil || version <= 0 {
		return nil, nil
	}
	var out types.RuleVersion
	err := transaction.WithContext(dbc.Ctx).
		Where("company_id = ? AND version = ?", companyID, version).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *ruleVersionRepo) GetLatest(dbc dbctx.Context, companyID uuid.UUID) (*types.RuleVersion, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil {
		return nil, nil
	}
	var out types.RuleVersion
	err := transaction.WithContext(dbc.Ctx).
		Where("company_id = ?", companyID).
		Order("version DESC").
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *ruleVersionRepo) List(dbc dbctx.Context, companyID uuid.UUID) ([]*types.RuleVersion, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil {
		return nil, nil
	}
	var out []*types.RuleVersion
	if err := transaction.WithContext(dbc.Ctx).
		Where("company_id = ?", companyID).
		Order("version ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
