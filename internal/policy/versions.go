package policy

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/eddyhq/eddy-backend/internal/data/repos"
	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/domain/policy"
	"github.com/eddyhq/eddy-backend/internal/platform/apierr"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type VersionDeps struct {
	DB  *gorm.DB
	Log *logger.Logger

	Versions  repos.RuleVersionRepo
	Rules     repos.CDMRuleRepo
	State     repos.PolicyStateRepo
	Proposals repos.RuleProposalRepo
	Runs      repos.PipelineRunRepo
}

func (d VersionDeps) check(step string) error {
	if d.DB == nil || d.Log == nil || d.Versions == nil || d.Rules == nil ||
		d.State == nil || d.Proposals == nil || d.Runs == nil {
		return fmt.Errorf("%s: missing deps", step)
	}
	return nil
}

// RuleSpec is the operator-facing shape of one rule: what to match and what
// to pin on a match. Ordinal and version are assigned at publish.
type RuleSpec struct {
	MatchKind   types.RuleMatchKind `json:"match_kind"`
	Pattern     string              `json:"pattern"`
	CategoryKey string              `json:"category_key"`
	PolicyLabel types.PolicyLabel   `json:"policy_label"`
	Confidence  float64             `json:"confidence,omitempty"`
}

func validLabel(l types.PolicyLabel) bool {
	switch l {
	case types.LabelMustPay, types.LabelCanDelay, types.LabelDiscretionary:
		return true
	default:
		return false
	}
}

// ValidateRuleSpec rejects a spec before it can poison a version: the
// category must come from the closed taxonomy, the label from the planning
// set, and a regex pattern must compile now rather than at evaluation time.
func ValidateRuleSpec(spec RuleSpec) error {
	switch spec.MatchKind {
	case types.MatchVendorExact, types.MatchCategoryCode, types.MatchDescriptionRegex,
		types.MatchAccountDefault, types.MatchSourceKindDefault:
	default:
		return apierr.BadRequest("bad_match_kind", fmt.Errorf("unknown match kind %q", spec.MatchKind))
	}
	if spec.Pattern == "" {
		return apierr.BadRequest("empty_pattern", fmt.Errorf("rule pattern must not be empty"))
	}
	if spec.MatchKind == types.MatchDescriptionRegex {
		if _, err := regexp.Compile(spec.Pattern); err != nil {
			return apierr.BadRequest("bad_pattern", fmt.Errorf("pattern %q: %w", spec.Pattern, err))
		}
	}
	if !policy.KnownCategory(spec.CategoryKey) {
		return apierr.BadRequest("unknown_category", fmt.Errorf("category %q is not in the taxonomy", spec.CategoryKey))
	}
	if !validLabel(spec.PolicyLabel) {
		return apierr.BadRequest("bad_label", fmt.Errorf("label %q is not a planning label", spec.PolicyLabel))
	}
	if spec.Confidence < 0 || spec.Confidence > 1 {
		return apierr.BadRequest("bad_confidence", fmt.Errorf("confidence %v out of [0,1]", spec.Confidence))
	}
	return nil
}

// ProposeRule records an operator-authored draft. Drafts carry no weight
// until published; duplicates of an existing draft bump its support count
// instead of stacking.
func ProposeRule(ctx context.Context, deps VersionDeps, companyID uuid.UUID, spec RuleSpec) (*types.RuleProposal, error) {
	if err := deps.check("propose_rule"); err != nil {
		return nil, err
	}
	if companyID == uuid.Nil {
		return nil, apierr.BadRequest("missing_company", fmt.Errorf("missing company_id"))
	}
	if err := ValidateRuleSpec(spec); err != nil {
		return nil, err
	}
	dbc := dbctx.New(ctx)
	if existing, err := deps.Proposals.FindDraft(dbc, companyID, spec.MatchKind, spec.Pattern, spec.CategoryKey); err != nil {
		return nil, fmt.Errorf("propose_rule: find draft: %w", err)
	} else if existing != nil {
		err := deps.Proposals.UpdateFields(dbc, existing.ID, map[string]interface{}{
			"support_count": existing.SupportCount + 1,
		})
		if err != nil {
			return nil, fmt.Errorf("propose_rule: bump draft %s: %w", existing.ID, err)
		}
		existing.SupportCount++
		return existing, nil
	}
	p, err := deps.Proposals.Create(dbc, &types.RuleProposal{
		CompanyID:    companyID,
		Status:       types.ProposalDraft,
		MatchKind:    spec.MatchKind,
		Pattern:      spec.Pattern,
		CategoryKey:  spec.CategoryKey,
		PolicyLabel:  spec.PolicyLabel,
		SupportCount: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("propose_rule: %w", err)
	}
	deps.Log.Info("rule proposal drafted",
		"company_id", companyID,
		"proposal_id", p.ID,
		"match_kind", p.MatchKind,
		"pattern", p.Pattern,
	)
	return p, nil
}

type PublishInput struct {
	CompanyID   uuid.UUID   `json:"company_id"`
	ProposalIDs []uuid.UUID `json:"proposal_ids,omitempty"`
	// ExtraRules are rules published directly, without going through a
	// proposal first. Seeding a company's first version uses this.
	ExtraRules []RuleSpec `json:"extra_rules,omitempty"`
	Note       string     `json:"note,omitempty"`
}

type PublishOutput struct {
	Version   int       `json:"version"`
	RuleCount int       `json:"rule_count"`
	RunID     uuid.UUID `json:"run_id,omitempty"`
}

// Publish freezes the next rule version: the active set carried over intact,
// plus the accepted proposals and any extra rules appended after it. The
// version rows, the proposal updates, the active-version pointer and the
// renormalization run all land in one transaction, so a crash mid-publish
// leaves the previous version active and untouched.
func Publish(ctx context.Context, deps VersionDeps, in PublishInput) (PublishOutput, error) {
	var out PublishOutput
	if err := deps.check("publish"); err != nil {
		return out, err
	}
	if in.CompanyID == uuid.Nil {
		return out, apierr.BadRequest("missing_company", fmt.Errorf("missing company_id"))
	}
	if len(in.ProposalIDs) == 0 && len(in.ExtraRules) == 0 {
		return out, apierr.BadRequest("empty_publish", fmt.Errorf("nothing to publish"))
	}
	for _, spec := range in.ExtraRules {
		if err := ValidateRuleSpec(spec); err != nil {
			return out, err
		}
	}

	err := deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)

		next := 1
		var carried []*types.CDMRule
		state, err := deps.State.Get(dbc, in.CompanyID)
		if err != nil {
			return fmt.Errorf("publish: load state: %w", err)
		}
		if latest, err := deps.Versions.GetLatest(dbc, in.CompanyID); err != nil {
			return fmt.Errorf("publish: load latest version: %w", err)
		} else if latest != nil {
			next = latest.Version + 1
		}
		if state != nil && state.ActiveVersion > 0 {
			carried, err = deps.Rules.ListByVersion(dbc, in.CompanyID, state.ActiveVersion)
			if err != nil {
				return fmt.Errorf("publish: load active rules: %w", err)
			}
		}

		var accepted []*types.RuleProposal
		for _, pid := range in.ProposalIDs {
			p, err := deps.Proposals.GetByID(dbc, pid)
			if err != nil {
				return fmt.Errorf("publish: load proposal %s: %w", pid, err)
			}
			if p == nil || p.CompanyID != in.CompanyID {
				return apierr.NotFound("proposal_not_found", fmt.Errorf("proposal %s not found", pid))
			}
			if p.Status != types.ProposalDraft {
				return apierr.Conflict("proposal_not_draft", fmt.Errorf("proposal %s is %s", pid, p.Status))
			}
			if err := ValidateRuleSpec(RuleSpec{
				MatchKind:   p.MatchKind,
				Pattern:     p.Pattern,
				CategoryKey: p.CategoryKey,
				PolicyLabel: p.PolicyLabel,
				Confidence:  1,
			}); err != nil {
				return fmt.Errorf("publish: proposal %s: %w", pid, err)
			}
			accepted = append(accepted, p)
		}

		version, err := deps.Versions.Create(dbc, &types.RuleVersion{
			CompanyID: in.CompanyID,
			Version:   next,
			Note:      in.Note,
		})
		if err != nil {
			return fmt.Errorf("publish: create version %d: %w", next, err)
		}

		rules := make([]*types.CDMRule, 0, len(carried)+len(accepted)+len(in.ExtraRules))
		ordinal := 0
		for _, old := range carried {
			rules = append(rules, &types.CDMRule{
				CompanyID:     in.CompanyID,
				RuleVersionID: version.ID,
				Version:       next,
				Ordinal:       ordinal,
				MatchKind:     old.MatchKind,
				Pattern:       old.Pattern,
				CategoryKey:   old.CategoryKey,
				PolicyLabel:   old.PolicyLabel,
				Confidence:    old.Confidence,
			})
			ordinal++
		}
		appendSpec := func(spec RuleSpec) {
			conf := spec.Confidence
			if conf == 0 {
				conf = 1
			}
			rules = append(rules, &types.CDMRule{
				CompanyID:     in.CompanyID,
				RuleVersionID: version.ID,
				Version:       next,
				Ordinal:       ordinal,
				MatchKind:     spec.MatchKind,
				Pattern:       spec.Pattern,
				CategoryKey:   spec.CategoryKey,
				PolicyLabel:   spec.PolicyLabel,
				Confidence:    conf,
			})
			ordinal++
		}
		for _, p := range accepted {
			appendSpec(RuleSpec{
				MatchKind:   p.MatchKind,
				Pattern:     p.Pattern,
				CategoryKey: p.CategoryKey,
				PolicyLabel: p.PolicyLabel,
				Confidence:  1,
			})
		}
		for _, spec := range in.ExtraRules {
			appendSpec(spec)
		}
		if _, err := deps.Rules.CreateBatch(dbc, rules); err != nil {
			return fmt.Errorf("publish: write rules v%d: %w", next, err)
		}

		now := time.Now().UTC()
		for _, p := range accepted {
			err := deps.Proposals.UpdateFields(dbc, p.ID, map[string]interface{}{
				"status":            types.ProposalPublished,
				"decided_at":        now,
				"published_version": next,
			})
			if err != nil {
				return fmt.Errorf("publish: mark proposal %s: %w", p.ID, err)
			}
		}

		if err := deps.State.SetActiveVersion(dbc, in.CompanyID, next); err != nil {
			return fmt.Errorf("publish: advance state: %w", err)
		}

		run, _, err := deps.Runs.Enqueue(dbc, in.CompanyID, types.TriggerRenormalize)
		if err != nil {
			return fmt.Errorf("publish: enqueue renormalize: %w", err)
		}
		if run != nil {
			out.RunID = run.ID
		}
		out.Version = next
		out.RuleCount = len(rules)
		return nil
	})
	if err != nil {
		return PublishOutput{}, err
	}

	deps.Log.Info("rule version published",
		"company_id", in.CompanyID,
		"version", out.Version,
		"rules", out.RuleCount,
		"proposals", len(in.ProposalIDs),
	)
	return out, nil
}

// DiscardProposal closes a draft without publishing it.
func DiscardProposal(ctx context.Context, deps VersionDeps, companyID, proposalID uuid.UUID) error {
	if err := deps.check("discard_proposal"); err != nil {
		return err
	}
	dbc := dbctx.New(ctx)
	p, err := deps.Proposals.GetByID(dbc, proposalID)
	if err != nil {
		return fmt.Errorf("discard_proposal: %w", err)
	}
	if p == nil || p.CompanyID != companyID {
		return apierr.NotFound("proposal_not_found", fmt.Errorf("proposal %s not found", proposalID))
	}
	if p.Status != types.ProposalDraft {
		return apierr.Conflict("proposal_not_draft", fmt.Errorf("proposal %s is %s", proposalID, p.Status))
	}
	now := time.Now().UTC()
	return deps.Proposals.UpdateFields(dbc, proposalID, map[string]interface{}{
		"status":     types.ProposalDiscarded,
		"decided_at": now,
	})
}
