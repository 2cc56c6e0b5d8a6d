package policy

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type CDMRuleRepo interface {
	CreateBatch(dbc dbctx.Context, rules []*types.CDMRule) ([]*types.CDMRule, error)
	// ListByVersion returns the full rule set of one version ordered by
	// ordinal; precedence tiers are applied by the evaluator.
	ListByVersion(dbc dbctx.Context, companyID uuid.UUID, version int) ([]*types.CDMRule, error)
}

type cdmRuleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCDMRuleRepo(db *gorm.DB, baseLog *logger.Logger) CDMRuleRepo {
	return &cdmRuleRepo{
		db:  db,
		log: baseLog.With("repo", "CDMRuleRepo"),
	}
}

func (r *cdmRuleRepo) CreateBatch(dbc dbctx.Context, rules []*types.CDMRule) ([]*types.CDMRule, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rules) == 0 {
		return []*types.CDMRule{}, nil
	}
	now := time.Now().UTC()
	for _, rule := range rules {
		if rule.ID == uuid.Nil {
			rule.ID = uuid.New()
		}
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = now
		}
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *cdmRuleRepo) ListByVersion(dbc dbctx.Context, companyID uuid.UUID, version int) ([]*types.CDMRule, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil || version <= 0 {
		return nil, nil
	}
	var out []*types.CDMRule
	if err := transaction.WithContext(dbc.Ctx).
		Where("company_id = ? AND version = ?", companyID, version).
		Order("ordinal ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
