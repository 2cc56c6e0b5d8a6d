package events

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type RawEventRepo interface {
	// CreateIgnoreDuplicates inserts events, silently skipping rows whose
	// natural key (company, source, kind, external id) already exists.
	// Returns how many rows were actually written.
	CreateIgnoreDuplicates(dbc dbctx.Context, evs []*types.RawEvent) (int64, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.RawEvent, error)
	// ListUnresolved returns events that no identity link points at yet,
	// oldest first.
	ListUnresolved(dbc dbctx.Context, companyID uuid.UUID, limit int) ([]*types.RawEvent, error)
	ListByCompanyKind(dbc dbctx.Context, companyID uuid.UUID, kind types.EventKind, since time.Time) ([]*types.RawEvent, error)
	CountByCompany(dbc dbctx.Context, companyID uuid.UUID) (int64, error)
}

type rawEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRawEventRepo(db *gorm.DB, baseLog *logger.Logger) RawEventRepo {
	return &rawEventRepo{
		db:  db,
		log: baseLog.With("repo", "RawEventRepo"),
	}
}

func (r *rawEventRepo) CreateIgnoreDuplicates(dbc dbctx.Context, evs []*types.RawEvent) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(evs) == 0 {
		return 0, nil
	}
	for _, ev := range evs {
		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
		if ev.ReceivedAt.IsZero() {
			ev.ReceivedAt = time.Now().UTC()
		}
	}
	res := transaction.WithContext(dbc.Ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "company_id"},
			{Name: "source"},
			{Name: "kind"},
			{Name: "external_id"},
		},
		DoNothing: true,
	}).Create(&evs)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *rawEventRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.RawEvent, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.RawEvent
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

func (r *rawEventRepo) ListUnresolved(dbc dbctx.Context, companyID uuid.UUID, limit int) ([]*types.RawEvent, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil {
		return nil, nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Where("company_id = ?", companyID).
		Where("NOT EXISTS (SELECT 1 FROM identity_link il WHERE il.raw_event_id = raw_event.id)").
		Order("occurred_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.RawEvent
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *rawEventRepo) ListByCompanyKind(dbc dbctx.Context, companyID uuid.UUID, kind types.EventKind, since time.Time) ([]*types.RawEvent, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil {
		return nil, nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Where("company_id = ? AND kind = ?", companyID, kind)
	if !since.IsZero() {
		q = q.Where("occurred_at >= ?", since)
	}
	var out []*types.RawEvent
	if err := q.Order("occurred_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *rawEventRepo) CountByCompany(dbc dbctx.Context, companyID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.RawEvent{}).
		Where("company_id = ?", companyID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
