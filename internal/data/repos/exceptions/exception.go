package exceptions

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

// KindCount is one bucket of the open-queue summary.
type KindCount struct {
	Kind  types.ExceptionKind `json:"kind"`
	Count int64               `json:"count"`
}

type ExceptionRepo interface {
	// UpsertOpen raises an exception idempotently. A new condition inserts a
	// row; a re-detected open condition refreshes its context; a resolved or
	// dismissed row is left alone. The bool reports whether a row was
	// inserted.
	UpsertOpen(dbc dbctx.Context, ex *types.Exception) (*types.Exception, bool, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Exception, error)
	GetByDedupeKey(dbc dbctx.Context, companyID uuid.UUID, kind types.ExceptionKind, dedupeKey string) (*types.Exception, error)
	// List filters the queue; empty status or kind means any. Newest first.
	List(dbc dbctx.Context, companyID uuid.UUID, status types.ExceptionStatus, kind types.ExceptionKind, limit, offset int) ([]*types.Exception, error)
	ListOpenBySubjects(dbc dbctx.Context, companyID uuid.UUID, subjectIDs []uuid.UUID) ([]*types.Exception, error)
	// UpdateStatusIf moves the exception from one of the allowed statuses,
	// reporting false when the row was not in any of them.
	UpdateStatusIf(dbc dbctx.Context, id uuid.UUID, allowedFrom []types.ExceptionStatus, to types.ExceptionStatus) (bool, error)
	CountOpenByKind(dbc dbctx.Context, companyID uuid.UUID) ([]KindCount, error)
}

type exceptionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewExceptionRepo(db *gorm.DB, baseLog *logger.Logger) ExceptionRepo {
	return &exceptionRepo{
		db:  db,
		log: baseLog.With("repo", "ExceptionRepo"),
	}
}

func (r *exceptionRepo) UpsertOpen(dbc dbctx.Context, ex *types.Exception) (*types.Exception, bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if ex == nil {
		return nil, false, nil
	}
	now := time.Now().UTC()
	if ex.ID == uuid.Nil {
		ex.ID = uuid.New()
	}
	if ex.Status == "" {
		ex.Status = types.ExceptionOpen
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = now
	}
	if ex.UpdatedAt.IsZero() {
		ex.UpdatedAt = now
	}
	res := transaction.WithContext(dbc.Ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "company_id"},
			{Name: "kind"},
			{Name: "dedupe_key"},
		},
		DoNothing: true,
	}).Create(ex)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return ex, true, nil
	}
	existing, err := r.GetByDedupeKey(dbc, ex.CompanyID, ex.Kind, ex.DedupeKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, nil
	}
	if existing.Status == types.ExceptionOpen {
		err := transaction.WithContext(dbc.Ctx).
			Model(&types.Exception{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"amount_minor": ex.AmountMinor,
				"summary":      ex.Summary,
				"context":      ex.Context,
				"updated_at":   now,
			}).Error
		if err != nil {
			return nil, false, err
		}
		existing.AmountMinor = ex.AmountMinor
		existing.Summary = ex.Summary
		existing.Context = ex.Context
		existing.UpdatedAt = now
	}
	return existing, false, nil
}

func (r *exceptionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Exception, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.Exception
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

func (r *exceptionRepo) GetByDedupeKey(dbc dbctx.Context, companyID uuid.UUID, kind types.ExceptionKind, dedupeKey string) (*types.Exception, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil || dedupeKey == "" {
		return nil, nil
	}
	var out types.Exception
	err := transaction.WithContext(dbc.Ctx).
		Where("company_id = ? AND kind = ? AND dedupe_key = ?", companyID, kind, dedupeKey).
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

func (r *exceptionRepo) List(dbc dbctx.Context, companyID uuid.UUID, status types.ExceptionStatus, kind types.ExceptionKind, limit, offset int) ([]*types.Exception, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil {
		return nil, nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Where("company_id = ?", companyID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var out []*types.Exception
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *exceptionRepo) ListOpenBySubjects(dbc dbctx.Context, companyID uuid.UUID, subjectIDs []uuid.UUID) ([]*types.Exception, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Exception
	if companyID == uuid.Nil || len(subjectIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("company_id = ? AND status = ? AND subject_identity_id IN ?", companyID, types.ExceptionOpen, subjectIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *exceptionRepo) UpdateStatusIf(dbc dbctx.Context, id uuid.UUID, allowedFrom []types.ExceptionStatus, to types.ExceptionStatus) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	switch to {
	case types.ExceptionResolved, types.ExceptionDismissed:
		updates["resolved_at"] = now
	case types.ExceptionOpen:
		updates["resolved_at"] = nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Model(&types.Exception{}).
		Where("id = ?", id)
	if len(allowedFrom) == 1 {
		q = q.Where("status = ?", allowedFrom[0])
	} else if len(allowedFrom) > 1 {
		q = q.Where("status IN ?", allowedFrom)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *exceptionRepo) CountOpenByKind(dbc dbctx.Context, companyID uuid.UUID) ([]KindCount, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil {
		return nil, nil
	}
	var out []KindCount
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Exception{}).
		Select("kind, COUNT(*) AS count").
		Where("company_id = ? AND status = ?", companyID, types.ExceptionOpen).
		Group("kind").
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
