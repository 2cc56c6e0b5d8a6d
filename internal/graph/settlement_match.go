package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/observability"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
)

type LinkSettlementsOutput struct {
	PayoutsExamined int `json:"payouts_examined"`
	Linked          int `json:"linked"`
	InTransit       int `json:"in_transit"`
	NoMatch         int `json:"no_match"`
	Timing          int `json:"timing"`
	Ambiguous       int `json:"ambiguous"`
}

type settlementContext struct {
	PayoutNetMinor  int64       `json:"payout_net_minor"`
	WindowDays      int         `json:"window_days"`
	ToleranceMinor  int64       `json:"tolerance_minor"`
	Candidates      []Candidate `json:"candidates,omitempty"`
	NearestOffset   int         `json:"nearest_offset_days,omitempty"`
	NearestIdentity string      `json:"nearest_identity_id,omitempty"`
}

// LinkSettlements matches unsettled payouts to bank settlements: same
// currency, amount within tolerance of the payout's net, date within the
// settlement window. One candidate links outright; several rank; ties and
// droughts go to the exception queue.
func LinkSettlements(ctx context.Context, deps LinkDeps, in LinkInput) (LinkSettlementsOutput, error) {
	var out LinkSettlementsOutput
	if err := deps.check("link_settlements"); err != nil {
		return out, err
	}
	if in.CompanyID == uuid.Nil {
		return out, fmt.Errorf("link_settlements: missing company_id")
	}
	m := deps.Cfg.ForCompany(in.CompanyID)
	now := in.clock()
	dbc := dbctx.New(ctx)

	payouts, err := deps.Identities.ListByKind(dbc, in.CompanyID, types.IdentityPayout, time.Time{}, time.Time{})
	if err != nil {
		return out, fmt.Errorf("link_settlements: list payouts: %w", err)
	}
	settlements, err := deps.Identities.ListByKind(dbc, in.CompanyID, types.IdentitySettlement, time.Time{}, time.Time{})
	if err != nil {
		return out, fmt.Errorf("link_settlements: list settlements: %w", err)
	}
	existing, err := deps.Edges.ListByCompanyKind(dbc, in.CompanyID, types.EdgeSettles)
	if err != nil {
		return out, fmt.Errorf("link_settlements: list edges: %w", err)
	}

	settledPayouts := make(map[uuid.UUID]bool, len(existing))
	takenSettlements := make(map[uuid.UUID]bool, len(existing))
	for _, e := range existing {
		settledPayouts[e.SrcIdentityID] = true
		takenSettlements[e.DstIdentityID] = true
	}

	sortIdentities(payouts)
	sortIdentities(settlements)

	// A settlement amount-matched beyond the window but inside the grace
	// horizon signals a timing problem rather than missing data.
	timingHorizon := m.SettlementWindowDays + m.PayoutPendingGraceDays

	var newEdges []*types.IdentityEdge
	for _, p := range payouts {
		if settledPayouts[p.ID] {
			continue
		}
		out.PayoutsExamined++
		net := payoutNet(p)

		var cands []Candidate
		nearestOutside := -1
		var nearestOutsideID uuid.UUID
		for _, s := range settlements {
			if takenSettlements[s.ID] || s.Currency != p.Currency {
				continue
			}
			delta := abs64(s.AmountMinor - net)
			if delta > m.AmountToleranceMinor {
				continue
			}
			days := daysApart(s.OccurredOn, p.OccurredOn)
			if days <= m.SettlementWindowDays {
				cands = append(cands, newCandidate(s, delta, days, Similarity(p.CounterpartyNorm, s.CounterpartyNorm), false))
				continue
			}
			if days <= timingHorizon && (nearestOutside < 0 || days < nearestOutside) {
				nearestOutside = days
				nearestOutsideID = s.ID
			}
		}

		switch {
		case len(cands) == 1:
			s := cands[0].Identity
			newEdges = append(newEdges, settlesEdge(in.CompanyID, p.ID, s.ID, 1.0))
			settledPayouts[p.ID] = true
			takenSettlements[s.ID] = true
			out.Linked++

		case len(cands) > 1:
			ranked, confidence, tied := Rank(deps.Cfg.Ranking, m.AmountToleranceMinor, m.SettlementWindowDays, cands)
			if tied {
				pid := p.ID
				_, created, err := deps.Exceptions.UpsertOpen(dbc, &types.Exception{
					CompanyID:         in.CompanyID,
					Kind:              types.ExceptionARAmbiguous,
					DedupeKey:         "settles:" + p.ID.String(),
					Status:            types.ExceptionOpen,
					SubjectIdentityID: &pid,
					AmountMinor:       net,
					Currency:          p.Currency,
					Summary:           fmt.Sprintf("%d bank settlements equally match this payout", len(ranked)),
					Context: contextJSON(settlementContext{
						PayoutNetMinor: net,
						WindowDays:     m.SettlementWindowDays,
						ToleranceMinor: m.AmountToleranceMinor,
						Candidates:     ranked,
					}),
					OpenedBy: "link_settlements",
				})
				if err != nil {
					return out, fmt.Errorf("link_settlements: raise ambiguous: %w", err)
				}
				if created {
					observability.Current().IncExceptionOpened(string(types.ExceptionARAmbiguous))
				}
				out.Ambiguous++
				continue
			}
			s := ranked[0].Identity
			newEdges = append(newEdges, settlesEdge(in.CompanyID, p.ID, s.ID, confidence))
			settledPayouts[p.ID] = true
			takenSettlements[s.ID] = true
			out.Linked++

		case nearestOutside >= 0:
			pid := p.ID
			_, created, err := deps.Exceptions.UpsertOpen(dbc, &types.Exception{
				CompanyID:         in.CompanyID,
				Kind:              types.ExceptionTiming,
				DedupeKey:         "settles:" + p.ID.String(),
				Status:            types.ExceptionOpen,
				SubjectIdentityID: &pid,
				AmountMinor:       net,
				Currency:          p.Currency,
				Summary:           fmt.Sprintf("a settlement matches this payout on amount but landed %d days out", nearestOutside),
				Context: contextJSON(settlementContext{
					PayoutNetMinor:  net,
					WindowDays:      m.SettlementWindowDays,
					ToleranceMinor:  m.AmountToleranceMinor,
					NearestOffset:   nearestOutside,
					NearestIdentity: nearestOutsideID.String(),
				}),
				OpenedBy: "link_settlements",
			})
			if err != nil {
				return out, fmt.Errorf("link_settlements: raise timing: %w", err)
			}
			if created {
				observability.Current().IncExceptionOpened(string(types.ExceptionTiming))
			}
			out.Timing++

		default:
			if daysApart(now, p.OccurredOn) <= m.PayoutPendingGraceDays {
				out.InTransit++
				continue
			}
			pid := p.ID
			_, created, err := deps.Exceptions.UpsertOpen(dbc, &types.Exception{
				CompanyID:         in.CompanyID,
				Kind:              types.ExceptionNoMatch,
				DedupeKey:         "settles:" + p.ID.String(),
				Status:            types.ExceptionOpen,
				SubjectIdentityID: &pid,
				AmountMinor:       net,
				Currency:          p.Currency,
				Summary:           "payout has no bank settlement past the pending grace period",
				Context: contextJSON(settlementContext{
					PayoutNetMinor: net,
					WindowDays:     m.SettlementWindowDays,
					ToleranceMinor: m.AmountToleranceMinor,
				}),
				OpenedBy: "link_settlements",
			})
			if err != nil {
				return out, fmt.Errorf("link_settlements: raise no_match: %w", err)
			}
			if created {
				observability.Current().IncExceptionOpened(string(types.ExceptionNoMatch))
			}
			out.NoMatch++
		}
	}

	if len(newEdges) > 0 {
		if _, err := deps.Edges.CreateIgnoreDuplicates(dbc, newEdges); err != nil {
			return out, fmt.Errorf("link_settlements: create edges: %w", err)
		}
	}
	return out, nil
}

func settlesEdge(companyID, payoutID, settlementID uuid.UUID, weight float64) *types.IdentityEdge {
	return &types.IdentityEdge{
		CompanyID:     companyID,
		SrcIdentityID: payoutID,
		DstIdentityID: settlementID,
		Kind:          types.EdgeSettles,
		Weight:        weight,
		Pass:          "link_settlements",
	}
}
