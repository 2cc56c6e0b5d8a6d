package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/eddyhq/eddy-backend/internal/data/repos"
	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

const defaultMineSupport = 3

type MineDeps struct {
	DB  *gorm.DB
	Log *logger.Logger

	Resolutions repos.ResolutionRepo
	Exceptions  repos.ExceptionRepo
	Rows        repos.CashLedgerRowRepo
	Identities  repos.IdentityRepo
	Proposals   repos.RuleProposalRepo
}

func (d MineDeps) check() error {
	if d.DB == nil || d.Log == nil || d.Resolutions == nil || d.Exceptions == nil ||
		d.Rows == nil || d.Identities == nil || d.Proposals == nil {
		return fmt.Errorf("mine_proposals: missing deps")
	}
	return nil
}

type MineInput struct {
	CompanyID uuid.UUID `json:"company_id"`
	// Since bounds how far back resolutions are read. Zero means 90 days.
	Since time.Time `json:"since,omitempty"`
	// MinSupport is how many agreeing resolutions a vendor needs before a
	// draft appears. Zero means 3.
	MinSupport int `json:"min_support,omitempty"`
}

type MineOutput struct {
	ResolutionsScanned int `json:"resolutions_scanned"`
	VendorsConsidered  int `json:"vendors_considered"`
	Drafted            int `json:"drafted"`
	Updated            int `json:"updated"`
}

type vendorEvidence struct {
	categoryKey   string
	policyLabel   types.PolicyLabel
	resolutionIDs []uuid.UUID
	disagreement  bool
}

// MineProposals turns repeated operator judgments into draft rules. A vendor
// whose UNMAPPED rows were hand-categorized the same way at least MinSupport
// times, with not one contradicting resolution, yields a vendor_exact draft.
// A single disagreement disqualifies the vendor entirely: the miner proposes
// only what operators were unanimous about. Undone resolutions do not count.
func MineProposals(ctx context.Context, deps MineDeps, in MineInput) (MineOutput, error) {
	var out MineOutput
	if err := deps.check(); err != nil {
		return out, err
	}
	if in.CompanyID == uuid.Nil {
		return out, fmt.Errorf("mine_proposals: missing company_id")
	}
	since := in.Since
	if since.IsZero() {
		since = time.Now().UTC().AddDate(0, 0, -90)
	}
	minSupport := in.MinSupport
	if minSupport <= 0 {
		minSupport = defaultMineSupport
	}
	dbc := dbctx.New(ctx)

	resolutions, err := deps.Resolutions.ListByActionSince(dbc, in.CompanyID, types.ActionAssignCategory, since)
	if err != nil {
		return out, fmt.Errorf("mine_proposals: list resolutions: %w", err)
	}

	byVendor := make(map[string]*vendorEvidence)
	for _, res := range resolutions {
		if res.UndoneAt != nil || res.CategoryKey == "" {
			continue
		}
		out.ResolutionsScanned++
		vendor, err := vendorForResolution(dbc, deps, res)
		if err != nil {
			return out, err
		}
		if vendor == "" {
			continue
		}
		ev := byVendor[vendor]
		if ev == nil {
			ev = &vendorEvidence{categoryKey: res.CategoryKey, policyLabel: res.PolicyLabel}
			byVendor[vendor] = ev
		}
		if ev.categoryKey != res.CategoryKey || ev.policyLabel != res.PolicyLabel {
			ev.disagreement = true
			continue
		}
		ev.resolutionIDs = append(ev.resolutionIDs, res.ID)
	}
	out.VendorsConsidered = len(byVendor)

	vendors := make([]string, 0, len(byVendor))
	for v := range byVendor {
		vendors = append(vendors, v)
	}
	sort.Strings(vendors)

	for _, vendor := range vendors {
		ev := byVendor[vendor]
		if ev.disagreement || len(ev.resolutionIDs) < minSupport {
			continue
		}
		created, err := upsertDraft(dbc, deps, in.CompanyID, vendor, ev)
		if err != nil {
			return out, err
		}
		if created {
			out.Drafted++
		} else {
			out.Updated++
		}
	}

	deps.Log.Info("mined rule proposals",
		"company_id", in.CompanyID,
		"scanned", out.ResolutionsScanned,
		"drafted", out.Drafted,
		"updated", out.Updated,
	)
	return out, nil
}

// vendorForResolution walks resolution -> exception -> ledger row -> identity
// to read the normalized counterparty the operator was judging. Resolutions
// whose row or identity has since vanished carry no signal.
func vendorForResolution(dbc dbctx.Context, deps MineDeps, res *types.Resolution) (string, error) {
	ex, err := deps.Exceptions.GetByID(dbc, res.ExceptionID)
	if err != nil {
		return "", fmt.Errorf("mine_proposals: load exception %s: %w", res.ExceptionID, err)
	}
	if ex == nil || ex.LedgerRowID == nil {
		return "", nil
	}
	row, err := deps.Rows.GetByID(dbc, *ex.LedgerRowID)
	if err != nil {
		return "", fmt.Errorf("mine_proposals: load row %s: %w", *ex.LedgerRowID, err)
	}
	if row == nil {
		return "", nil
	}
	ident, err := deps.Identities.GetByID(dbc, row.IdentityID)
	if err != nil {
		return "", fmt.Errorf("mine_proposals: load identity %s: %w", row.IdentityID, err)
	}
	if ident == nil {
		return "", nil
	}
	return ident.CounterpartyNorm, nil
}

func upsertDraft(dbc dbctx.Context, deps MineDeps, companyID uuid.UUID, vendor string, ev *vendorEvidence) (bool, error) {
	sources := make([]string, 0, len(ev.resolutionIDs))
	for _, id := range ev.resolutionIDs {
		sources = append(sources, id.String())
	}
	sort.Strings(sources)
	blob, err := json.Marshal(sources)
	if err != nil {
		return false, fmt.Errorf("mine_proposals: marshal sources: %w", err)
	}

	existing, err := deps.Proposals.FindDraft(dbc, companyID, types.MatchVendorExact, vendor, ev.categoryKey)
	if err != nil {
		return false, fmt.Errorf("mine_proposals: find draft for %q: %w", vendor, err)
	}
	if existing != nil {
		if existing.SupportCount >= len(sources) {
			return false, nil
		}
		err := deps.Proposals.UpdateFields(dbc, existing.ID, map[string]interface{}{
			"support_count":         len(sources),
			"source_resolution_ids": datatypes.JSON(blob),
		})
		if err != nil {
			return false, fmt.Errorf("mine_proposals: update draft %s: %w", existing.ID, err)
		}
		return false, nil
	}

	_, err = deps.Proposals.Create(dbc, &types.RuleProposal{
		CompanyID:           companyID,
		Status:              types.ProposalDraft,
		MatchKind:           types.MatchVendorExact,
		Pattern:             vendor,
		CategoryKey:         ev.categoryKey,
		PolicyLabel:         ev.policyLabel,
		SupportCount:        len(sources),
		SourceResolutionIDs: datatypes.JSON(blob),
	})
	if err != nil {
		return false, fmt.Errorf("mine_proposals: draft for %q: %w", vendor, err)
	}
	return true, nil
}
