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

type LinkCompositionOutput struct {
	ComponentsExamined int `json:"components_examined"`
	LinkedExplicit     int `json:"linked_explicit"`
	LinkedWindow       int `json:"linked_window"`
	Ambiguous          int `json:"ambiguous"`
}

type compositionContext struct {
	PayoutNetMinor int64    `json:"payout_net_minor"`
	CandidateSum   int64    `json:"candidate_sum_minor"`
	WindowDays     int      `json:"window_days"`
	ComponentIDs   []string `json:"component_ids"`
}

// LinkComposition attaches balance-transaction lines (charges, refunds,
// fees) to the payout that bundled them. A provider-native payout reference
// is authoritative; without one, lines reconcile by provider, account, and
// window only when their signed sum explains the payout's net exactly.
func LinkComposition(ctx context.Context, deps LinkDeps, in LinkInput) (LinkCompositionOutput, error) {
	var out LinkCompositionOutput
	if err := deps.check("link_composition"); err != nil {
		return out, err
	}
	if in.CompanyID == uuid.Nil {
		return out, fmt.Errorf("link_composition: missing company_id")
	}
	m := deps.Cfg.ForCompany(in.CompanyID)
	dbc := dbctx.New(ctx)

	var components []*types.Identity
	for _, kind := range []types.IdentityKind{types.IdentityCharge, types.IdentityRefund, types.IdentityFee} {
		batch, err := deps.Identities.ListByKind(dbc, in.CompanyID, kind, time.Time{}, time.Time{})
		if err != nil {
			return out, fmt.Errorf("link_composition: list %s: %w", kind, err)
		}
		components = append(components, batch...)
	}
	payouts, err := deps.Identities.ListByKind(dbc, in.CompanyID, types.IdentityPayout, time.Time{}, time.Time{})
	if err != nil {
		return out, fmt.Errorf("link_composition: list payouts: %w", err)
	}
	existing, err := deps.Edges.ListByCompanyKind(dbc, in.CompanyID, types.EdgeComposedOf)
	if err != nil {
		return out, fmt.Errorf("link_composition: list edges: %w", err)
	}

	composed := make(map[uuid.UUID]bool, len(existing))
	payoutHasLines := make(map[uuid.UUID]bool, len(existing))
	for _, e := range existing {
		composed[e.DstIdentityID] = true
		payoutHasLines[e.SrcIdentityID] = true
	}

	payoutByRef := make(map[string]*types.Identity, len(payouts))
	for _, p := range payouts {
		if p.ProviderRef != "" {
			payoutByRef[p.Provider+"\x00"+p.ProviderRef] = p
		}
	}

	sortIdentities(components)
	sortIdentities(payouts)

	var newEdges []*types.IdentityEdge
	var unparented []*types.Identity
	for _, c := range components {
		if composed[c.ID] {
			continue
		}
		out.ComponentsExamined++
		if c.ProviderParentRef != "" {
			p := payoutByRef[c.Provider+"\x00"+c.ProviderParentRef]
			if p == nil {
				// Payout not ingested yet; the line stays loose until it is.
				continue
			}
			newEdges = append(newEdges, composedOfEdge(in.CompanyID, p.ID, c.ID))
			payoutHasLines[p.ID] = true
			composed[c.ID] = true
			out.LinkedExplicit++
			continue
		}
		unparented = append(unparented, c)
	}

	// Window reconciliation for lines with no payout reference: the whole
	// candidate set must sum to the payout's net or nothing links.
	for _, p := range payouts {
		if payoutHasLines[p.ID] || len(unparented) == 0 {
			continue
		}
		var cands []*types.Identity
		var sum int64
		for _, c := range unparented {
			if composed[c.ID] || c.Provider != p.Provider || c.AccountRef != p.AccountRef || c.Currency != p.Currency {
				continue
			}
			if daysApart(c.OccurredOn, p.OccurredOn) > m.SettlementWindowDays {
				continue
			}
			cands = append(cands, c)
			sum += c.AmountMinor
		}
		if len(cands) == 0 {
			continue
		}
		net := payoutNet(p)
		if sum != net {
			pid := p.ID
			ids := make([]string, 0, len(cands))
			for _, c := range cands {
				ids = append(ids, c.ID.String())
			}
			_, created, err := deps.Exceptions.UpsertOpen(dbc, &types.Exception{
				CompanyID:         in.CompanyID,
				Kind:              types.ExceptionARAmbiguous,
				DedupeKey:         "composition:" + p.ID.String(),
				Status:            types.ExceptionOpen,
				SubjectIdentityID: &pid,
				AmountMinor:       net,
				Currency:          p.Currency,
				Summary:           "balance transactions near this payout do not sum to its net",
				Context: contextJSON(compositionContext{
					PayoutNetMinor: net,
					CandidateSum:   sum,
					WindowDays:     m.SettlementWindowDays,
					ComponentIDs:   ids,
				}),
				OpenedBy: "link_composition",
			})
			if err != nil {
				return out, fmt.Errorf("link_composition: raise ambiguous: %w", err)
			}
			if created {
				observability.Current().IncExceptionOpened(string(types.ExceptionARAmbiguous))
			}
			out.Ambiguous++
			continue
		}
		for _, c := range cands {
			newEdges = append(newEdges, composedOfEdge(in.CompanyID, p.ID, c.ID))
			composed[c.ID] = true
			out.LinkedWindow++
		}
		payoutHasLines[p.ID] = true
	}

	if len(newEdges) > 0 {
		if _, err := deps.Edges.CreateIgnoreDuplicates(dbc, newEdges); err != nil {
			return out, fmt.Errorf("link_composition: create edges: %w", err)
		}
	}
	return out, nil
}

func composedOfEdge(companyID, payoutID, componentID uuid.UUID) *types.IdentityEdge {
	return &types.IdentityEdge{
		CompanyID:     companyID,
		SrcIdentityID: payoutID,
		DstIdentityID: componentID,
		Kind:          types.EdgeComposedOf,
		Weight:        1.0,
		Pass:          "link_composition",
	}
}
