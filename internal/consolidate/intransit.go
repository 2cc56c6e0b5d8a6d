package consolidate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
)

// InTransitPayout is money the processor has promised but no bank
// settlement has confirmed. It is deliberately absent from the ledger.
type InTransitPayout struct {
	IdentityID  uuid.UUID `json:"identity_id"`
	Provider    string    `json:"provider"`
	ProviderRef string    `json:"provider_ref,omitempty"`
	AccountRef  string    `json:"account_ref,omitempty"`
	NetMinor    int64     `json:"net_minor"`
	Currency    string    `json:"currency"`
	OccurredOn  time.Time `json:"occurred_on"`
}

// InTransit lists payouts with no SETTLES edge, oldest first.
func InTransit(ctx context.Context, deps Deps, in Input) ([]InTransitPayout, error) {
	if err := deps.check(); err != nil {
		return nil, err
	}
	if in.CompanyID == uuid.Nil {
		return nil, fmt.Errorf("consolidate: missing company_id")
	}
	dbc := dbctx.New(ctx)

	payouts, err := deps.Identities.ListByKind(dbc, in.CompanyID, types.IdentityPayout, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("consolidate: list payouts: %w", err)
	}
	settles, err := deps.Edges.ListByCompanyKind(dbc, in.CompanyID, types.EdgeSettles)
	if err != nil {
		return nil, fmt.Errorf("consolidate: list settles edges: %w", err)
	}
	settledSrc := make(map[uuid.UUID]bool, len(settles))
	for _, e := range settles {
		settledSrc[e.SrcIdentityID] = true
	}

	var out []InTransitPayout
	for _, p := range payouts {
		if settledSrc[p.ID] {
			continue
		}
		out = append(out, InTransitPayout{
			IdentityID:  p.ID,
			Provider:    p.Provider,
			ProviderRef: p.ProviderRef,
			AccountRef:  p.AccountRef,
			NetMinor:    p.AmountMinor - p.FeeMinor,
			Currency:    p.Currency,
			OccurredOn:  p.OccurredOn,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredOn.Equal(out[j].OccurredOn) {
			return out[i].OccurredOn.Before(out[j].OccurredOn)
		}
		return out[i].IdentityID.String() < out[j].IdentityID.String()
	})
	return out, nil
}
