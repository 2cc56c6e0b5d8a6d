package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/eddyhq/eddy-backend/internal/config"
	"github.com/eddyhq/eddy-backend/internal/data/repos"
	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/observability"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type ClassifyDeps struct {
	DB  *gorm.DB
	Log *logger.Logger
	Cfg config.Config

	Rows        repos.CashLedgerRowRepo
	Identities  repos.IdentityRepo
	Rules       repos.CDMRuleRepo
	State       repos.PolicyStateRepo
	Exceptions  repos.ExceptionRepo
	Resolutions repos.ResolutionRepo
}

func (d ClassifyDeps) check(step string) error {
	if d.DB == nil || d.Log == nil || d.Rows == nil || d.Identities == nil ||
		d.Rules == nil || d.State == nil || d.Exceptions == nil || d.Resolutions == nil {
		return fmt.Errorf("%s: missing deps", step)
	}
	return nil
}

type ClassifyInput struct {
	CompanyID uuid.UUID `json:"company_id"`
}

type ClassifyOutput struct {
	RuleVersion  int `json:"rule_version"`
	RowsExamined int `json:"rows_examined"`
	Classified   int `json:"classified"`
	Unmapped     int `json:"unmapped"`
}

type unmappedContext struct {
	Counterparty string `json:"counterparty,omitempty"`
	CategoryHint string `json:"category_hint,omitempty"`
	AccountRef   string `json:"account_ref,omitempty"`
	IdentityKind string `json:"identity_kind"`
	RuleVersion  int    `json:"rule_version"`
}

// Classify runs every still-uncategorized ledger row through the active rule
// version. Matches write the classification columns and close any stale
// UNMAPPED exception; misses pin the sentinel and open one. Rows never leave
// the ledger over classification.
func Classify(ctx context.Context, deps ClassifyDeps, in ClassifyInput) (ClassifyOutput, error) {
	var out ClassifyOutput
	if err := deps.check("classify"); err != nil {
		return out, err
	}
	if in.CompanyID == uuid.Nil {
		return out, fmt.Errorf("classify: missing company_id")
	}
	dbc := dbctx.New(ctx)

	rs, err := activeRuleSet(dbc, deps, in.CompanyID)
	if err != nil {
		return out, err
	}
	out.RuleVersion = rs.Version

	rows, err := deps.Rows.ListUnclassified(dbc, in.CompanyID)
	if err != nil {
		return out, fmt.Errorf("classify: list rows: %w", err)
	}
	idents, err := identitiesForRows(dbc, deps, rows)
	if err != nil {
		return out, err
	}

	for _, row := range rows {
		out.RowsExamined++
		ident := idents[row.IdentityID]
		if ident == nil {
			deps.Log.Warn("ledger row without identity", "row_id", row.ID)
			continue
		}
		if d, ok := rs.Evaluate(ident); ok {
			if err := applyDecision(dbc, deps, row, d, rs.Version); err != nil {
				return out, err
			}
			out.Classified++
			continue
		}
		if err := markUnmapped(dbc, deps, row, ident, rs.Version); err != nil {
			return out, err
		}
		out.Unmapped++
	}

	deps.Log.Info("classified ledger rows",
		"company_id", in.CompanyID,
		"rule_version", out.RuleVersion,
		"classified", out.Classified,
		"unmapped", out.Unmapped,
	)
	return out, nil
}

// activeRuleSet loads and compiles the version the policy_state pointer
// names. A company that has never published evaluates against the empty
// version 0: everything lands unmapped.
func activeRuleSet(dbc dbctx.Context, deps ClassifyDeps, companyID uuid.UUID) (*RuleSet, error) {
	state, err := deps.State.Get(dbc, companyID)
	if err != nil {
		return nil, fmt.Errorf("classify: load policy state: %w", err)
	}
	if state == nil || state.ActiveVersion == 0 {
		return &RuleSet{Version: 0}, nil
	}
	rules, err := deps.Rules.ListByVersion(dbc, companyID, state.ActiveVersion)
	if err != nil {
		return nil, fmt.Errorf("classify: load rules v%d: %w", state.ActiveVersion, err)
	}
	rs, err := NewRuleSet(state.ActiveVersion, rules)
	if err != nil {
		return nil, fmt.Errorf("classify: compile rules v%d: %w", state.ActiveVersion, err)
	}
	return rs, nil
}

func identitiesForRows(dbc dbctx.Context, deps ClassifyDeps, rows []*types.CashLedgerRow) (map[uuid.UUID]*types.Identity, error) {
	if len(rows) == 0 {
		return map[uuid.UUID]*types.Identity{}, nil
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.IdentityID)
	}
	idents, err := deps.Identities.GetByIDs(dbc, ids)
	if err != nil {
		return nil, fmt.Errorf("classify: load identities: %w", err)
	}
	byID := make(map[uuid.UUID]*types.Identity, len(idents))
	for _, ident := range idents {
		byID[ident.ID] = ident
	}
	return byID, nil
}

func applyDecision(dbc dbctx.Context, deps ClassifyDeps, row *types.CashLedgerRow, d Decision, version int) error {
	err := deps.Rows.UpdateClassification(dbc, row.ID, d.CategoryKey, d.PolicyLabel, d.Confidence, version, "rule:"+d.RuleID.String())
	if err != nil {
		return fmt.Errorf("classify: update row %s: %w", row.ID, err)
	}
	return closeStaleUnmapped(dbc, deps, row, d, version)
}

// closeStaleUnmapped resolves an open UNMAPPED exception whose row a newly
// published rule now covers. The close is attributable (system actor) and
// undoable like any operator resolution.
func closeStaleUnmapped(dbc dbctx.Context, deps ClassifyDeps, row *types.CashLedgerRow, d Decision, version int) error {
	ex, err := deps.Exceptions.GetByDedupeKey(dbc, row.CompanyID, types.ExceptionUnmapped, unmappedKey(row.ID))
	if err != nil {
		return fmt.Errorf("classify: lookup unmapped exception: %w", err)
	}
	if ex == nil || ex.Status != types.ExceptionOpen {
		return nil
	}
	effects, err := json.Marshal(types.ResolutionEffects{
		LedgerRowID:      row.ID.String(),
		PriorCategoryKey: row.CategoryKey,
		PriorPolicyLabel: row.PolicyLabel,
		PriorConfidence:  row.Confidence,
		PriorRuleVersion: row.RuleVersion,
	})
	if err != nil {
		return fmt.Errorf("classify: marshal effects: %w", err)
	}
	_, err = deps.Resolutions.Create(dbc, &types.Resolution{
		CompanyID:   row.CompanyID,
		ExceptionID: ex.ID,
		Action:      types.ActionAssignCategory,
		CategoryKey: d.CategoryKey,
		PolicyLabel: d.PolicyLabel,
		Actor:       "system:policy",
		Note:        fmt.Sprintf("rule version %d matched", version),
		Effects:     datatypes.JSON(effects),
	})
	if err != nil {
		return fmt.Errorf("classify: record system resolution: %w", err)
	}
	if _, err := deps.Exceptions.UpdateStatusIf(dbc, ex.ID, []types.ExceptionStatus{types.ExceptionOpen}, types.ExceptionResolved); err != nil {
		return fmt.Errorf("classify: close exception %s: %w", ex.ID, err)
	}
	return nil
}

func markUnmapped(dbc dbctx.Context, deps ClassifyDeps, row *types.CashLedgerRow, ident *types.Identity, version int) error {
	if row.CategoryKey != types.CategoryUncategorized || row.PolicyLabel != types.LabelUncategorized || row.RuleVersion != version || row.ClassifiedBy != "" {
		err := deps.Rows.UpdateClassification(dbc, row.ID, types.CategoryUncategorized, types.LabelUncategorized, 0, version, "")
		if err != nil {
			return fmt.Errorf("classify: reset row %s: %w", row.ID, err)
		}
	}
	rid := row.ID
	sid := row.IdentityID
	blob, _ := json.Marshal(unmappedContext{
		Counterparty: ident.CounterpartyNorm,
		CategoryHint: ident.CategoryHint,
		AccountRef:   ident.AccountRef,
		IdentityKind: string(ident.Kind),
		RuleVersion:  version,
	})
	_, created, err := deps.Exceptions.UpsertOpen(dbc, &types.Exception{
		CompanyID:         row.CompanyID,
		Kind:              types.ExceptionUnmapped,
		DedupeKey:         unmappedKey(row.ID),
		Status:            types.ExceptionOpen,
		SubjectIdentityID: &sid,
		LedgerRowID:       &rid,
		AmountMinor:       row.AmountMinor,
		Currency:          row.Currency,
		Summary:           "no classification rule matched this row",
		Context:           datatypes.JSON(blob),
		OpenedBy:          "classify",
	})
	if err != nil {
		return fmt.Errorf("classify: raise unmapped: %w", err)
	}
	if created {
		observability.Current().IncExceptionOpened(string(types.ExceptionUnmapped))
	}
	return nil
}

func unmappedKey(rowID uuid.UUID) string { return "unmapped:" + rowID.String() }

// operatorClassified reports whether an operator resolution wrote the row's
// classification. Renormalization leaves these rows alone.
func operatorClassified(row *types.CashLedgerRow) bool {
	return strings.HasPrefix(row.ClassifiedBy, "operator:")
}
