package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/observability"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
)

type LinkAROutput struct {
	PaymentsExamined int `json:"payments_examined"`
	InvoicesExamined int `json:"invoices_examined"`
	LinkedExplicit   int `json:"linked_explicit"`
	LinkedFallback   int `json:"linked_fallback"`
	SubsetLinked     int `json:"subset_linked"`
	NoMatch          int `json:"no_match"`
	Ambiguous        int `json:"ambiguous"`
	Ghosts           int `json:"ghosts"`
}

type arFallbackContext struct {
	AmountMinor    int64       `json:"amount_minor"`
	WindowDays     int         `json:"window_days"`
	ToleranceMinor int64       `json:"tolerance_minor"`
	Candidates     []Candidate `json:"candidates,omitempty"`
	RefMatches     []string    `json:"ref_matches,omitempty"`
}

type arSubsetContext struct {
	PayoutNetMinor  int64      `json:"payout_net_minor"`
	ToleranceMinor  int64      `json:"tolerance_minor"`
	CandidateIDs    []string   `json:"candidate_ids"`
	Subsets         [][]string `json:"subsets,omitempty"`
	BudgetExhausted bool       `json:"budget_exhausted,omitempty"`
}

type ghostContext struct {
	OpsStatus string `json:"ops_status"`
	GraceDays int    `json:"grace_days"`
	AgeDays   int    `json:"age_days"`
}

// LinkAR ties operational records to the money they describe. Payments
// match charges (explicit reference first, then amount+window+counterparty
// similarity), invoices match payments the same way, and leftover payments
// are tested as a set against un-itemized payouts by subset-sum. Paid
// records with no trace after the grace period become GHOST_AR exceptions.
func LinkAR(ctx context.Context, deps LinkDeps, in LinkInput) (LinkAROutput, error) {
	var out LinkAROutput
	if err := deps.check("link_ar"); err != nil {
		return out, err
	}
	if in.CompanyID == uuid.Nil {
		return out, fmt.Errorf("link_ar: missing company_id")
	}
	m := deps.Cfg.ForCompany(in.CompanyID)
	now := in.clock()
	dbc := dbctx.New(ctx)

	load := func(kind types.IdentityKind) ([]*types.Identity, error) {
		rows, err := deps.Identities.ListByKind(dbc, in.CompanyID, kind, time.Time{}, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("link_ar: list %s: %w", kind, err)
		}
		sortIdentities(rows)
		return rows, nil
	}
	payments, err := load(types.IdentityOpsPayment)
	if err != nil {
		return out, err
	}
	invoices, err := load(types.IdentityOpsInvoice)
	if err != nil {
		return out, err
	}
	charges, err := load(types.IdentityCharge)
	if err != nil {
		return out, err
	}
	payouts, err := load(types.IdentityPayout)
	if err != nil {
		return out, err
	}

	applied, err := deps.Edges.ListByCompanyKind(dbc, in.CompanyID, types.EdgeAppliesTo)
	if err != nil {
		return out, fmt.Errorf("link_ar: list applies_to: %w", err)
	}
	composedEdges, err := deps.Edges.ListByCompanyKind(dbc, in.CompanyID, types.EdgeComposedOf)
	if err != nil {
		return out, fmt.Errorf("link_ar: list composed_of: %w", err)
	}

	appliedSrc := make(map[uuid.UUID]bool, len(applied))
	appliedDst := make(map[uuid.UUID]bool, len(applied))
	for _, e := range applied {
		appliedSrc[e.SrcIdentityID] = true
		appliedDst[e.DstIdentityID] = true
	}
	itemized := make(map[uuid.UUID]bool, len(composedEdges))
	for _, e := range composedEdges {
		itemized[e.SrcIdentityID] = true
	}

	chargeByRef := make(map[string][]*types.Identity, len(charges))
	for _, c := range charges {
		if c.ProviderRef != "" {
			chargeByRef[c.ProviderRef] = append(chargeByRef[c.ProviderRef], c)
		}
	}
	payoutByRef := make(map[string][]*types.Identity, len(payouts))
	for _, p := range payouts {
		if p.ProviderRef != "" {
			payoutByRef[p.ProviderRef] = append(payoutByRef[p.ProviderRef], p)
		}
	}
	paymentByProviderRef := make(map[string]*types.Identity, len(payments))
	for _, pmt := range payments {
		if pmt.ProviderRef != "" {
			paymentByProviderRef[pmt.Provider+"\x00"+pmt.ProviderRef] = pmt
		}
	}

	var newEdges []*types.IdentityEdge
	link := func(src, dst *types.Identity, weight float64) {
		newEdges = append(newEdges, &types.IdentityEdge{
			CompanyID:     in.CompanyID,
			SrcIdentityID: src.ID,
			DstIdentityID: dst.ID,
			Kind:          types.EdgeAppliesTo,
			Weight:        weight,
			Pass:          "link_ar",
		})
		appliedSrc[src.ID] = true
		appliedDst[dst.ID] = true
	}

	// Operational payments onto the charges (or payouts) they reference.
	for _, pmt := range payments {
		if appliedSrc[pmt.ID] {
			continue
		}
		out.PaymentsExamined++

		if pmt.ProviderParentRef != "" {
			targets := make([]*types.Identity, 0, 2)
			targets = append(targets, chargeByRef[pmt.ProviderParentRef]...)
			targets = append(targets, payoutByRef[pmt.ProviderParentRef]...)
			switch len(targets) {
			case 0:
				// The referenced record has not arrived; the ghost check
				// below picks this up once the grace period runs out.
			case 1:
				link(pmt, targets[0], 1.0)
				out.LinkedExplicit++
			default:
				ids := make([]string, 0, len(targets))
				for _, t := range targets {
					ids = append(ids, t.ID.String())
				}
				if err := raiseAR(dbc, deps, in.CompanyID, types.ExceptionARAmbiguous, "ar:"+pmt.ID.String(), pmt,
					fmt.Sprintf("payment reference matches %d records", len(targets)),
					arFallbackContext{AmountMinor: pmt.AmountMinor, RefMatches: ids}); err != nil {
					return out, err
				}
				out.Ambiguous++
			}
			continue
		}

		cands := fallbackCandidates(pmt, charges, appliedDst, m.AmountToleranceMinor, m.ARWindowDays, m.ARSimilarityThreshold)
		switch {
		case len(cands) == 0:
			// Left for subset unbundling against a payout.
		case len(cands) == 1:
			link(pmt, cands[0].Identity, 0.9)
			out.LinkedFallback++
		default:
			ranked, confidence, tied := Rank(deps.Cfg.Ranking, m.AmountToleranceMinor, m.ARWindowDays, cands)
			if tied {
				if err := raiseAR(dbc, deps, in.CompanyID, types.ExceptionARAmbiguous, "ar:"+pmt.ID.String(), pmt,
					fmt.Sprintf("%d charges equally match this payment", len(ranked)),
					arFallbackContext{AmountMinor: pmt.AmountMinor, WindowDays: m.ARWindowDays, ToleranceMinor: m.AmountToleranceMinor, Candidates: ranked}); err != nil {
					return out, err
				}
				out.Ambiguous++
				continue
			}
			link(pmt, ranked[0].Identity, confidence)
			out.LinkedFallback++
		}
	}

	// Invoices onto the payments that cover them.
	for _, inv := range invoices {
		if appliedSrc[inv.ID] {
			continue
		}
		out.InvoicesExamined++

		if inv.ProviderParentRef != "" {
			if pmt := paymentByProviderRef[inv.Provider+"\x00"+inv.ProviderParentRef]; pmt != nil {
				link(inv, pmt, 1.0)
				out.LinkedExplicit++
			}
			continue
		}

		cands := fallbackCandidates(inv, payments, appliedDst, m.AmountToleranceMinor, m.ARWindowDays, m.ARSimilarityThreshold)
		switch {
		case len(cands) == 0:
		case len(cands) == 1:
			link(inv, cands[0].Identity, 0.9)
			out.LinkedFallback++
		default:
			ranked, confidence, tied := Rank(deps.Cfg.Ranking, m.AmountToleranceMinor, m.ARWindowDays, cands)
			if tied {
				if err := raiseAR(dbc, deps, in.CompanyID, types.ExceptionARAmbiguous, "ar:"+inv.ID.String(), inv,
					fmt.Sprintf("%d payments equally match this invoice", len(ranked)),
					arFallbackContext{AmountMinor: inv.AmountMinor, WindowDays: m.ARWindowDays, ToleranceMinor: m.AmountToleranceMinor, Candidates: ranked}); err != nil {
					return out, err
				}
				out.Ambiguous++
				continue
			}
			link(inv, ranked[0].Identity, confidence)
			out.LinkedFallback++
		}
	}

	// Unbundling: leftover payments explained as a set by an un-itemized
	// payout whose net their amounts must sum to.
	for _, p := range payouts {
		if itemized[p.ID] || appliedDst[p.ID] {
			continue
		}
		target := payoutNet(p)
		if target <= 0 {
			continue
		}
		var cands []*types.Identity
		for _, pmt := range payments {
			if appliedSrc[pmt.ID] || pmt.AmountMinor <= 0 || pmt.Currency != p.Currency {
				continue
			}
			if daysApart(pmt.OccurredOn, p.OccurredOn) > m.ARWindowDays {
				continue
			}
			cands = append(cands, pmt)
		}
		if len(cands) == 0 {
			continue
		}
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].AmountMinor != cands[j].AmountMinor {
				return cands[i].AmountMinor > cands[j].AmountMinor
			}
			return cands[i].ID.String() < cands[j].ID.String()
		})
		if len(cands) > m.ARSubsetMaxCandidates {
			cands = cands[:m.ARSubsetMaxCandidates]
		}
		amounts := make([]int64, len(cands))
		candIDs := make([]string, len(cands))
		for i, c := range cands {
			amounts[i] = c.AmountMinor
			candIDs[i] = c.ID.String()
		}

		subsets, serr := subsetSums(amounts, target, m.AmountToleranceMinor, 5)
		sctx := arSubsetContext{
			PayoutNetMinor: target,
			ToleranceMinor: m.AmountToleranceMinor,
			CandidateIDs:   candIDs,
		}
		for _, sub := range subsets {
			ids := make([]string, len(sub))
			for i, idx := range sub {
				ids[i] = cands[idx].ID.String()
			}
			sctx.Subsets = append(sctx.Subsets, ids)
		}
		switch {
		case serr != nil:
			sctx.BudgetExhausted = true
			if err := raiseAR(dbc, deps, in.CompanyID, types.ExceptionARAmbiguous, "ar_subset:"+p.ID.String(), p,
				"payment combinations are too interchangeable to resolve", sctx); err != nil {
				return out, err
			}
			out.Ambiguous++
		case len(subsets) == 0:
			if err := raiseAR(dbc, deps, in.CompanyID, types.ExceptionNoMatch, "ar_subset:"+p.ID.String(), p,
				"no combination of open payments explains this payout", sctx); err != nil {
				return out, err
			}
			out.NoMatch++
		case len(subsets) == 1:
			for _, idx := range subsets[0] {
				link(cands[idx], p, 1.0)
				out.SubsetLinked++
			}
		default:
			if err := raiseAR(dbc, deps, in.CompanyID, types.ExceptionARAmbiguous, "ar_subset:"+p.ID.String(), p,
				fmt.Sprintf("%d payment combinations equally explain this payout", len(subsets)), sctx); err != nil {
				return out, err
			}
			out.Ambiguous++
		}
	}

	// Paid records with no trace past the grace period.
	for _, pmt := range payments {
		if appliedSrc[pmt.ID] || !claimsCash(pmt.OpsStatus, false) {
			continue
		}
		age := daysApart(now, pmt.OccurredOn)
		if age <= m.ARGhostGraceDays {
			continue
		}
		if err := raiseAR(dbc, deps, in.CompanyID, types.ExceptionGhostAR, "ghost:"+pmt.ID.String(), pmt,
			"recorded payment has no processor or bank trace",
			ghostContext{OpsStatus: pmt.OpsStatus, GraceDays: m.ARGhostGraceDays, AgeDays: age}); err != nil {
			return out, err
		}
		out.Ghosts++
	}
	for _, inv := range invoices {
		if appliedSrc[inv.ID] || !claimsCash(inv.OpsStatus, true) {
			continue
		}
		age := daysApart(now, inv.OccurredOn)
		if age <= m.ARGhostGraceDays {
			continue
		}
		if err := raiseAR(dbc, deps, in.CompanyID, types.ExceptionGhostAR, "ghost:"+inv.ID.String(), inv,
			"invoice marked paid has no processor or bank trace",
			ghostContext{OpsStatus: inv.OpsStatus, GraceDays: m.ARGhostGraceDays, AgeDays: age}); err != nil {
			return out, err
		}
		out.Ghosts++
	}

	if len(newEdges) > 0 {
		if _, err := deps.Edges.CreateIgnoreDuplicates(dbc, newEdges); err != nil {
			return out, fmt.Errorf("link_ar: create edges: %w", err)
		}
	}
	return out, nil
}

// fallbackCandidates measures unclaimed targets against an ops record:
// amount within tolerance, date within the AR window, counterparty similar
// enough to trust.
func fallbackCandidates(src *types.Identity, targets []*types.Identity, claimed map[uuid.UUID]bool, tolerance int64, windowDays int, minSimilarity float64) []Candidate {
	var cands []Candidate
	for _, t := range targets {
		if claimed[t.ID] || t.Currency != src.Currency {
			continue
		}
		delta := abs64(t.AmountMinor - src.AmountMinor)
		if delta > tolerance {
			continue
		}
		days := daysApart(t.OccurredOn, src.OccurredOn)
		if days > windowDays {
			continue
		}
		sim := Similarity(src.CounterpartyNorm, t.CounterpartyNorm)
		if sim < minSimilarity {
			continue
		}
		cands = append(cands, newCandidate(t, delta, days, sim, src.AccountRef != "" && src.AccountRef == t.AccountRef))
	}
	return cands
}

// claimsCash reports whether an ops record asserts that money moved. A
// payment does unless voided; an invoice only once marked paid.
func claimsCash(status string, invoice bool) bool {
	if invoice {
		return status == "paid"
	}
	return status != "void" && status != "draft"
}

func raiseAR(dbc dbctx.Context, deps LinkDeps, companyID uuid.UUID, kind types.ExceptionKind, dedupeKey string, subject *types.Identity, summary string, ctxBlob any) error {
	sid := subject.ID
	_, created, err := deps.Exceptions.UpsertOpen(dbc, &types.Exception{
		CompanyID:         companyID,
		Kind:              kind,
		DedupeKey:         dedupeKey,
		Status:            types.ExceptionOpen,
		SubjectIdentityID: &sid,
		AmountMinor:       subject.AmountMinor,
		Currency:          subject.Currency,
		Summary:           summary,
		Context:           contextJSON(ctxBlob),
		OpenedBy:          "link_ar",
	})
	if err != nil {
		return fmt.Errorf("link_ar: raise %s: %w", kind, err)
	}
	if created {
		observability.Current().IncExceptionOpened(string(kind))
	}
	return nil
}
