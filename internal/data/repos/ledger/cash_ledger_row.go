package ledger

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

// LabelSum is a reporting aggregate: total cash per policy label and
// currency inside a window.
type LabelSum struct {
	PolicyLabel types.PolicyLabel `json:"policy_label"`
	Currency    string            `json:"currency"`
	TotalMinor  int64             `json:"total_minor"`
	RowCount    int64             `json:"row_count"`
}

type CashLedgerRowRepo interface {
	// CreateIgnoreDuplicates inserts rows, skipping identities that already
	// emitted. Returns how many rows were written.
	CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.CashLedgerRow) (int64, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.CashLedgerRow, error)
	GetByIdentityID(dbc dbctx.Context, identityID uuid.UUID) (*types.CashLedgerRow, error)
	ListByCompany(dbc dbctx.Context, companyID uuid.UUID, from, to time.Time) ([]*types.CashLedgerRow, error)
	// ListUnclassified returns rows still wearing the uncategorized label.
	ListUnclassified(dbc dbctx.Context, companyID uuid.UUID) ([]*types.CashLedgerRow, error)
	// UpdateClassification rewrites only the classification columns; cash
	// facts on the row are never touched after insert.
	UpdateClassification(dbc dbctx.Context, id uuid.UUID, categoryKey string, label types.PolicyLabel, confidence float64, ruleVersion int, classifiedBy string) error
	SumByLabel(dbc dbctx.Context, companyID uuid.UUID, from, to time.Time) ([]LabelSum, error)
	DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) (int64, error)
}

type cashLedgerRowRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCashLedgerRowRepo(db *gorm.DB, baseLog *logger.Logger) CashLedgerRowRepo {
	return &cashLedgerRowRepo{
		db:  db,
		log: baseLog.With("repo", "CashLedgerRowRepo"),
	}
}

func (r *cashLedgerRowRepo) CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.CashLedgerRow) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		if row.UpdatedAt.IsZero() {
			row.UpdatedAt = now
		}
	}
	res := transaction.WithContext(dbc.Ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_id"}},
		DoNothing: true,
	}).Create(&rows)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *cashLedgerRowRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.CashLedgerRow, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.CashLedgerRow
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

func (r *cashLedgerRowRepo) GetByIdentityID(dbc dbctx.Context, identityID uuid.UUID) (*types.CashLedgerRow, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if identityID == uuid.Nil {
		return nil, nil
	}
	var out types.CashLedgerRow
	err := transaction.WithContext(dbc.Ctx).
		Where("identity_id = ?", identityID).
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

func (r *cashLedgerRowRepo) ListByCompany(dbc dbctx.Context, companyID uuid.UUID, from, to time.Time) ([]*types.CashLedgerRow, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil {
		return nil, nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Where("company_id = ?", companyID)
	if !from.IsZero() {
		q = q.Where("posted_on >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("posted_on <= ?", to)
	}
	var out []*types.CashLedgerRow
	if err := q.Order("posted_on ASC, created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *cashLedgerRowRepo) ListUnclassified(dbc dbctx.Context, companyID uuid.UUID) ([]*types.CashLedgerRow, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil {
		return nil, nil
	}
	var out []*types.CashLedgerRow
	if err := transaction.WithContext(dbc.Ctx).
		Where("company_id = ? AND policy_label = ?", companyID, types.LabelUncategorized).
		Order("posted_on ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *cashLedgerRowRepo) UpdateClassification(dbc dbctx.Context, id uuid.UUID, categoryKey string, label types.PolicyLabel, confidence float64, ruleVersion int, classifiedBy string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.CashLedgerRow{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"category_key":  categoryKey,
			"policy_label":  label,
			"confidence":    confidence,
			"rule_version":  ruleVersion,
			"classified_by": classifiedBy,
			"updated_at":    time.Now(),
		}).Error
}

func (r *cashLedgerRowRepo) SumByLabel(dbc dbctx.Context, companyID uuid.UUID, from, to time.Time) ([]LabelSum, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if companyID == uuid.Nil {
		return nil, nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Model(&types.CashLedgerRow{}).
		Select("policy_label, currency, SUM(CASE WHEN direction = ? THEN amount_minor ELSE -amount_minor END) AS total_minor, COUNT(*) AS row_count", types.DirectionInflow).
		Where("company_id = ?", companyID)
	if !from.IsZero() {
		q = q.Where("posted_on >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("posted_on <= ?", to)
	}
	var out []LabelSum
	if err := q.Group("policy_label, currency").Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *cashLedgerRowRepo) DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Delete(&types.CashLedgerRow{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
