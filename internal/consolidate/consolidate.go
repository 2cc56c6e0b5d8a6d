// Package consolidate walks the identity graph and emits cash-ledger rows,
// counting each economic cash movement exactly once, timed at bank
// settlement. Only PAYOUT and SETTLEMENT identities can emit; charges,
// refunds, fees, and operational records ride along in provenance and never
// produce rows of their own.
package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/eddyhq/eddy-backend/internal/data/repos"
	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type Deps struct {
	DB  *gorm.DB
	Log *logger.Logger

	Identities repos.IdentityRepo
	Edges      repos.IdentityEdgeRepo
	Rows       repos.CashLedgerRowRepo
	Exceptions repos.ExceptionRepo
}

func (d Deps) check() error {
	if d.DB == nil || d.Log == nil || d.Identities == nil || d.Edges == nil || d.Rows == nil || d.Exceptions == nil {
		return fmt.Errorf("consolidate: missing deps")
	}
	return nil
}

type Input struct {
	CompanyID uuid.UUID `json:"company_id"`
}

type Output struct {
	PayoutsExamined     int   `json:"payouts_examined"`
	SettlementsExamined int   `json:"settlements_examined"`
	RowsEmitted         int64 `json:"rows_emitted"`
	InTransit           int   `json:"in_transit"`
	Blocked             int   `json:"blocked"`
}

// rowProvenance is the audit blob stored on each ledger row: where the cash
// fact came from and which passes vouched for every hop.
type rowProvenance struct {
	PayoutID     string         `json:"payout_id,omitempty"`
	SettlementID string         `json:"settlement_id,omitempty"`
	SettledBy    string         `json:"settled_by,omitempty"`
	SettleWeight float64        `json:"settle_weight,omitempty"`
	Components   []rowComponent `json:"components,omitempty"`
}

type rowComponent struct {
	IdentityID  string `json:"identity_id"`
	Kind        string `json:"kind"`
	AmountMinor int64  `json:"amount_minor"`
	LinkedBy    string `json:"linked_by"`
}

// Consolidate emits one ledger row per settled payout (posted on the
// settlement date, amount equal to the payout's net) and one per bare
// settlement no payout claims. Payouts without a settlement edge stay off
// the ledger entirely. Identities under an open INTEGRITY exception are left
// alone until a human rules on them.
func Consolidate(ctx context.Context, deps Deps, in Input) (Output, error) {
	var out Output
	if err := deps.check(); err != nil {
		return out, err
	}
	if in.CompanyID == uuid.Nil {
		return out, fmt.Errorf("consolidate: missing company_id")
	}
	dbc := dbctx.New(ctx)

	payouts, err := deps.Identities.ListByKind(dbc, in.CompanyID, types.IdentityPayout, time.Time{}, time.Time{})
	if err != nil {
		return out, fmt.Errorf("consolidate: list payouts: %w", err)
	}
	settlements, err := deps.Identities.ListByKind(dbc, in.CompanyID, types.IdentitySettlement, time.Time{}, time.Time{})
	if err != nil {
		return out, fmt.Errorf("consolidate: list settlements: %w", err)
	}
	settles, err := deps.Edges.ListByCompanyKind(dbc, in.CompanyID, types.EdgeSettles)
	if err != nil {
		return out, fmt.Errorf("consolidate: list settles edges: %w", err)
	}
	composed, err := deps.Edges.ListByCompanyKind(dbc, in.CompanyID, types.EdgeComposedOf)
	if err != nil {
		return out, fmt.Errorf("consolidate: list composed_of edges: %w", err)
	}

	blocked, err := openIntegritySubjects(dbc, deps, in.CompanyID, payouts, settlements)
	if err != nil {
		return out, err
	}

	settlementByID := make(map[uuid.UUID]*types.Identity, len(settlements))
	for _, s := range settlements {
		settlementByID[s.ID] = s
	}
	settlesBySrc := make(map[uuid.UUID][]*types.IdentityEdge, len(settles))
	settled := make(map[uuid.UUID]bool, len(settles))
	for _, e := range settles {
		settlesBySrc[e.SrcIdentityID] = append(settlesBySrc[e.SrcIdentityID], e)
		settled[e.DstIdentityID] = true
	}
	componentsByPayout := make(map[uuid.UUID][]*types.IdentityEdge, len(composed))
	componentIDs := make([]uuid.UUID, 0, len(composed))
	for _, e := range composed {
		componentsByPayout[e.SrcIdentityID] = append(componentsByPayout[e.SrcIdentityID], e)
		componentIDs = append(componentIDs, e.DstIdentityID)
	}
	componentByID, err := loadIdentities(dbc, deps, componentIDs)
	if err != nil {
		return out, err
	}

	var rows []*types.CashLedgerRow
	for _, p := range payouts {
		edges := settlesBySrc[p.ID]
		switch {
		case len(edges) == 0:
			out.InTransit++
			continue
		case len(edges) > 1:
			// Conflicting settlements; the integrity pass owns this payout.
			out.Blocked++
			continue
		}
		edge := edges[0]
		s := settlementByID[edge.DstIdentityID]
		if s == nil {
			return out, fmt.Errorf("consolidate: settles edge %s targets unknown identity %s", edge.ID, edge.DstIdentityID)
		}
		if blocked[p.ID] || blocked[s.ID] {
			out.Blocked++
			continue
		}
		out.PayoutsExamined++

		net := p.AmountMinor - p.FeeMinor
		prov := rowProvenance{
			PayoutID:     p.ID.String(),
			SettlementID: s.ID.String(),
			SettledBy:    edge.Pass,
			SettleWeight: edge.Weight,
		}
		for _, ce := range componentsByPayout[p.ID] {
			comp := rowComponent{IdentityID: ce.DstIdentityID.String(), LinkedBy: ce.Pass}
			if c := componentByID[ce.DstIdentityID]; c != nil {
				comp.Kind = string(c.Kind)
				comp.AmountMinor = c.AmountMinor
			}
			prov.Components = append(prov.Components, comp)
		}
		sid := s.ID
		rows = append(rows, ledgerRow(in.CompanyID, p.ID, &sid, s.OccurredOn, net, p.Currency, prov))
	}

	for _, s := range settlements {
		if settled[s.ID] {
			continue
		}
		if blocked[s.ID] {
			out.Blocked++
			continue
		}
		out.SettlementsExamined++
		sid := s.ID
		rows = append(rows, ledgerRow(in.CompanyID, s.ID, &sid, s.OccurredOn, s.AmountMinor, s.Currency,
			rowProvenance{SettlementID: s.ID.String()}))
	}

	if len(rows) > 0 {
		n, err := deps.Rows.CreateIgnoreDuplicates(dbc, rows)
		if err != nil {
			return out, fmt.Errorf("consolidate: create rows: %w", err)
		}
		out.RowsEmitted = n
	}
	deps.Log.Info("consolidated ledger",
		"company_id", in.CompanyID,
		"rows_emitted", out.RowsEmitted,
		"in_transit", out.InTransit,
		"blocked", out.Blocked,
	)
	return out, nil
}

// ledgerRow freezes the cash fact. Classification columns start at the
// uncategorized sentinel; the policy engine rewrites only those.
func ledgerRow(companyID, identityID uuid.UUID, settlementID *uuid.UUID, postedOn time.Time, signedMinor int64, currency string, prov rowProvenance) *types.CashLedgerRow {
	direction := types.DirectionInflow
	amount := signedMinor
	if signedMinor < 0 {
		direction = types.DirectionOutflow
		amount = -signedMinor
	}
	return &types.CashLedgerRow{
		CompanyID:            companyID,
		IdentityID:           identityID,
		SettlementIdentityID: settlementID,
		PostedOn:             postedOn,
		Direction:            direction,
		AmountMinor:          amount,
		Currency:             currency,
		CategoryKey:          types.CategoryUncategorized,
		PolicyLabel:          types.LabelUncategorized,
		Confidence:           0,
		RuleVersion:          0,
		Provenance:           provenanceJSON(prov),
	}
}

func provenanceJSON(prov rowProvenance) datatypes.JSON {
	b, err := json.Marshal(prov)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func openIntegritySubjects(dbc dbctx.Context, deps Deps, companyID uuid.UUID, groups ...[]*types.Identity) (map[uuid.UUID]bool, error) {
	var ids []uuid.UUID
	for _, group := range groups {
		for _, ident := range group {
			ids = append(ids, ident.ID)
		}
	}
	if len(ids) == 0 {
		return map[uuid.UUID]bool{}, nil
	}
	open, err := deps.Exceptions.ListOpenBySubjects(dbc, companyID, ids)
	if err != nil {
		return nil, fmt.Errorf("consolidate: list open exceptions: %w", err)
	}
	blocked := make(map[uuid.UUID]bool)
	for _, ex := range open {
		if ex.Kind == types.ExceptionIntegrity && ex.SubjectIdentityID != nil {
			blocked[*ex.SubjectIdentityID] = true
		}
	}
	return blocked, nil
}

func loadIdentities(dbc dbctx.Context, deps Deps, ids []uuid.UUID) (map[uuid.UUID]*types.Identity, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*types.Identity{}, nil
	}
	idents, err := deps.Identities.GetByIDs(dbc, ids)
	if err != nil {
		return nil, fmt.Errorf("consolidate: load components: %w", err)
	}
	byID := make(map[uuid.UUID]*types.Identity, len(idents))
	for _, ident := range idents {
		byID[ident.ID] = ident
	}
	return byID, nil
}
