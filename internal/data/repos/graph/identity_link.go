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

type IdentityLinkRepo interface {
	// CreateIgnoreDuplicates inserts links, skipping raw events that already
	// resolved. Returns how many rows were written.
	CreateIgnoreDuplicates(dbc dbctx.Context, links []*types.IdentityLink) (int64, error)
	ListByIdentityIDs(dbc dbctx.Context, identityIDs []uuid.UUID) ([]*types.IdentityLink, error)
	ListByRawEventIDs(dbc dbctx.Context, rawEventIDs []uuid.UUID) ([]*types.IdentityLink, error)
}

type identityLinkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIdentityLinkRepo(db *gorm.DB, baseLog *logger.Logger) IdentityLinkRepo {
	return &identityLinkRepo{
		db:  db,
		log: baseLog.With("repo", "IdentityLinkRepo"),
	}
}

func (r *identityLinkRepo) CreateIgnoreDuplicates(dbc dbctx.Context, links []*types.IdentityLink) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(links) == 0 {
		return 0, nil
	}
	for _, l := range links {
		if l.ID == uuid.Nil {
			l.ID = uuid.New()
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = time.Now().UTC()
		}
	}
	res := transaction.WithContext(dbc.Ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "raw_event_id"}},
		DoNothing: true,
	}).Create(&links)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *identityLinkRepo) ListByIdentityIDs(dbc dbctx.Context, identityIDs []uuid.UUID) ([]*types.IdentityLink, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.IdentityLink
	if len(identityIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("identity_id IN ?", identityIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *identityLinkRepo) ListByRawEventIDs(dbc dbctx.Context, rawEventIDs []uuid.UUID) ([]*types.IdentityLink, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.IdentityLink
	if len(rawEventIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("raw_event_id IN ?", rawEventIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
