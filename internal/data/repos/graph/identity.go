package graph

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type IdentityRepo interface {
	// UpsertByFingerprint inserts the identity or, when the fingerprint
	// already exists for the company, returns the existing row. The bool
	// reports whether a new row was created.
	UpsertByFingerprint(dbc dbctx.Context, id *types.Identity) (*types.Identity, bool, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Identity, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Identity, error)
	GetByFingerprint(dbc dbctx.Context, companyID uuid.UUID, fingerprint string) (*types.Identity, error)
	// ListByKind returns identities of one kind inside an occurred_on window.
	// Zero bounds are open.
	ListByKind(dbc dbctx.Context, companyID uuid.UUID, kind types.IdentityKind, from, to time.Time) ([]*types.Identity, error)
}

type identityRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIdentityRepo(db *gorm.DB, baseLog *logger.Logger) IdentityRepo {
	return &identityRepo{
		db:  db,
		log: baseLog.With("repo", "IdentityRepo"),
	}
}

func (r *identityRepo) UpsertByFingerprint(dbc dbctx.Context, id *types.Identity) (*types.Identity, bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == nil {
		return nil, false, nil
	}
	if id.ID == uuid.Nil {
		id.ID = uuid.New()
	}
	res := transaction.WithContext(dbc.Ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "company_id"},
			{Name: "fingerprint"},
		},
		DoNothing: true,
	}).Create(id)
	if res.Error != nil && !errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return nil, false, res.Error
	}
	if res.Error == nil && res.RowsAffected > 0 {
		return id, true, nil
	}
	existing, err := r.GetByFingerprint(dbc, id.CompanyID, id.Fingerprint)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *identityRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Identity, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.Identity
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

func (r *identityRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Identity, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Identity
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *identityRepo) GetByFingerprint(dbc dbctx.Context, companyID uuid.UUID, fingerprint string) (*types.Identity, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil || fingerprint == "" {
		return nil, nil
	}
	var out types.Identity
	err := transaction.WithContext(dbc.Ctx).
		Where("company_id = ? AND fingerprint = ?", companyID, fingerprint).
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

func (r *identityRepo) ListByKind(dbc dbctx.Context, companyID uuid.UUID, kind types.IdentityKind, from, to time.Time) ([]*types.Identity, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil {
		return nil, nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Where("company_id = ? AND kind = ?", companyID, kind)
	if !from.IsZero() {
		q = q.Where("occurred_on >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("occurred_on <= ?", to)
	}
	var out []*types.Identity
	if err := q.Order("occurred_on ASC, created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
