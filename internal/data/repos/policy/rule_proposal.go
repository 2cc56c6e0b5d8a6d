package policy

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type RuleProposalRepo interface {
	Create(dbc dbctx.Context, p *types.RuleProposal) (*types.RuleProposal, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.RuleProposal, error)
	ListByStatus(dbc dbctx.Context, companyID uuid.UUID, status types.ProposalStatus) ([]*types.RuleProposal, error)
	// FindDraft looks up an existing draft with the same shape so the miner
	// bumps support instead of stacking duplicates.
	FindDraft(dbc dbctx.Context, companyID uuid.UUID, matchKind types.RuleMatchKind, pattern string, categoryKey string) (*types.RuleProposal, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type ruleProposalRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRuleProposalRepo(db *gorm.DB, baseLog *logger.Logger) RuleProposalRepo {
	return &ruleProposalRepo{
		db:  db,
		log: baseLog.With("repo", "RuleProposalRepo"),
	}
}

func (r *ruleProposalRepo) Create(dbc dbctx.Context, p *types.RuleProposal) (*types.RuleProposal, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if p == nil {
		return nil, nil
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = types.ProposalDraft
	}
	if err := transaction.WithContext(dbc.Ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

func (r *ruleProposalRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.RuleProposal, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.RuleProposal
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
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

func (r *ruleProposalRepo) ListByStatus(dbc dbctx.Context, companyID uuid.UUID, status types.ProposalStatus) ([]*types.RuleProposal, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil {
		return nil, nil
	}
	var out []*types.RuleProposal
	if err := transaction.WithContext(dbc.Ctx).
		Where("company_id = ? AND status = ?", companyID, status).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ruleProposalRepo) FindDraft(dbc dbctx.Context, companyID uuid.UUID, matchKind types.RuleMatchKind, pattern string, categoryKey string) (*types.RuleProposal, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil || pattern == "" {
		return nil, nil
	}
	var out types.RuleProposal
	err := transaction.WithContext(dbc.Ctx).
		Where("company_id = ? AND status = ? AND match_kind = ? AND pattern = ? AND category_key = ?",
			companyID, types.ProposalDraft, matchKind, pattern, categoryKey).
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

func (r *ruleProposalRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.RuleProposal{}).
		Where("id = ?", id).
		Updates(updates).Error
}
