package graph

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type IdentityEdgeRepo interface {
	// CreateIgnoreDuplicates inserts edges, skipping (src, dst, kind) triples
	// that already exist. Returns how many rows were written.
	CreateIgnoreDuplicates(dbc dbctx.Context, edges []*types.IdentityEdge) (int64, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.IdentityEdge, error)
	ListByCompanyKind(dbc dbctx.Context, companyID uuid.UUID, kind types.EdgeKind) ([]*types.IdentityEdge, error)
	ListBySrc(dbc dbctx.Context, srcIDs []uuid.UUID, kind types.EdgeKind) ([]*types.IdentityEdge, error)
	ListByDst(dbc dbctx.Context, dstIDs []uuid.UUID, kind types.EdgeKind) ([]*types.IdentityEdge, error)
	// DeleteByIDs removes edges created by a resolution that is being undone.
	DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) (int64, error)
}

type identityEdgeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIdentityEdgeRepo(db *gorm.DB, baseLog *logger.Logger) IdentityEdgeRepo {
	return &identityEdgeRepo{
		db:  db,
		log: baseLog.With("repo", "IdentityEdgeRepo"),
	}
}

func (r *identityEdgeRepo) CreateIgnoreDuplicates(dbc dbctx.Context, edges []*types.IdentityEdge) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(edges) == 0 {
		return 0, nil
	}
	for _, e := range edges {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
	}
	res := transaction.WithContext(dbc.Ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "src_identity_id"},
			{Name: "dst_identity_id"},
			{Name: "kind"},
		},
		DoNothing: true,
	}).Create(&edges)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *identityEdgeRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.IdentityEdge, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.IdentityEdge
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

func (r *identityEdgeRepo) ListByCompanyKind(dbc dbctx.Context, companyID uuid.UUID, kind types.EdgeKind) ([]*types.IdentityEdge, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil {
		return nil, nil
	}
	var out []*types.IdentityEdge
	if err := transaction.WithContext(dbc.Ctx).
		Where("company_id = ? AND kind = ?", companyID, kind).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *identityEdgeRepo) ListBySrc(dbc dbctx.Context, srcIDs []uuid.UUID, kind types.EdgeKind) ([]*types.IdentityEdge, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.IdentityEdge
	if len(srcIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("src_identity_id IN ? AND kind = ?", srcIDs, kind).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *identityEdgeRepo) ListByDst(dbc dbctx.Context, dstIDs []uuid.UUID, kind types.EdgeKind) ([]*types.IdentityEdge, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.IdentityEdge
	if len(dstIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("dst_identity_id IN ? AND kind = ?", dstIDs, kind).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *identityEdgeRepo) DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Delete(&types.IdentityEdge{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
