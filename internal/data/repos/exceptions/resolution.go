package exceptions

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type ResolutionRepo interface {
	Create(dbc dbctx.Context, res *types.Resolution) (*types.Resolution, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Resolution, error)
	// GetLatestActiveByException returns the most recent resolution that has
	// not been undone, nil when none remain.
	GetLatestActiveByException(dbc dbctx.Context, exceptionID uuid.UUID) (*types.Resolution, error)
	ListByException(dbc dbctx.Context, exceptionID uuid.UUID) ([]*types.Resolution, error)
	// ListByActionSince feeds the proposal miner.
	ListByActionSince(dbc dbctx.Context, companyID uuid.UUID, action types.ResolutionAction, since time.Time) ([]*types.Resolution, error)
	// MarkUndone stamps undone_at once; false when already undone.
	MarkUndone(dbc dbctx.Context, id uuid.UUID) (bool, error)
}

type resolutionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResolutionRepo(db *gorm.DB, baseLog *logger.Logger) ResolutionRepo {
	return &resolutionRepo{
		db:  db,
		log: baseLog.With("repo", "ResolutionRepo"),
	}
}

func (r *resolutionRepo) Create(dbc dbctx.Context, res *types.Resolution) (*types.Resolution, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if res == nil {
		return nil, nil
	}
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	if err := transaction.WithContext(dbc.Ctx).Create(res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

func (r *resolutionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Resolution, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.Resolution
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

func (r *resolutionRepo) GetLatestActiveByException(dbc dbctx.Context, exceptionID uuid.UUID) (*types.Resolution, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if exceptionID == uuid.Nil {
		return nil, nil
	}
	var out types.Resolution
	err := transaction.WithContext(dbc.Ctx).
		Where("exception_id = ? AND undone_at IS NULL", exceptionID).
		Order("created_at DESC").
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

func (r *resolutionRepo) ListByException(dbc dbctx.Context, exceptionID uuid.UUID) ([]*types.Resolution, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if exceptionID == uuid.Nil {
		return nil, nil
	}
	var out []*types.Resolution
	if err := transaction.WithContext(dbc.Ctx).
		Where("exception_id = ?", exceptionID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *resolutionRepo) ListByActionSince(dbc dbctx.Context, companyID uuid.UUID, action types.ResolutionAction, since time.Time) ([]*types.Resolution, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil {
		return nil, nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Where("company_id = ? AND action = ? AND undone_at IS NULL", companyID, action)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	var out []*types.Resolution
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *resolutionRepo) MarkUndone(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Resolution{}).
		Where("id = ? AND undone_at IS NULL", id).
		Update("undone_at", time.Now().UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
