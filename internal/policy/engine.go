// Package policy assigns every cash-ledger row a category from the closed
// taxonomy and a planning label, under immutable versioned rule sets.
// Evaluation is pure: same identity, same rule version, same answer, with no
// clock and no randomness anywhere in the path.
package policy

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/google/uuid"

	types "github.com/eddyhq/eddy-backend/internal/domain"
)

// RuleSet is one compiled rule version. Rules evaluate in precedence-tier
// order (exact vendor first, source-kind default last), by ordinal inside a
// tier, first match wins.
type RuleSet struct {
	Version int
	rules   []compiledRule
}

type compiledRule struct {
	rule *types.CDMRule
	re   *regexp.Regexp
}

// Decision is what a matching rule pins onto a ledger row.
type Decision struct {
	RuleID      uuid.UUID         `json:"rule_id"`
	CategoryKey string            `json:"category_key"`
	PolicyLabel types.PolicyLabel `json:"policy_label"`
	Confidence  float64           `json:"confidence"`
}

// NewRuleSet compiles and orders one version's rules. Regex patterns are
// validated at publish time, so a compile failure here means the stored rule
// set is corrupt.
func NewRuleSet(version int, rules []*types.CDMRule) (*RuleSet, error) {
	rs := &RuleSet{Version: version, rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		cr := compiledRule{rule: r}
		if r.MatchKind == types.MatchDescriptionRegex {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %s: bad pattern %q: %w", r.ID, r.Pattern, err)
			}
			cr.re = re
		}
		rs.rules = append(rs.rules, cr)
	}
	sort.SliceStable(rs.rules, func(i, j int) bool {
		a, b := rs.rules[i].rule, rs.rules[j].rule
		if pa, pb := a.MatchKind.Precedence(), b.MatchKind.Precedence(); pa != pb {
			return pa < pb
		}
		if a.Ordinal != b.Ordinal {
			return a.Ordinal < b.Ordinal
		}
		return a.ID.String() < b.ID.String()
	})
	return rs, nil
}

// Evaluate runs the identity that emitted a ledger row through the rules.
// The second return is false when nothing matched.
func (rs *RuleSet) Evaluate(ident *types.Identity) (Decision, bool) {
	if rs == nil || ident == nil {
		return Decision{}, false
	}
	for _, cr := range rs.rules {
		if !ruleMatches(cr, ident) {
			continue
		}
		return Decision{
			RuleID:      cr.rule.ID,
			CategoryKey: cr.rule.CategoryKey,
			PolicyLabel: cr.rule.PolicyLabel,
			Confidence:  cr.rule.Confidence,
		}, true
	}
	return Decision{}, false
}

// ruleMatches interprets one rule's pattern against the identity's
// denormalized match attributes: vendor_exact and description_regex read the
// normalized counterparty, category_code the source's category hint,
// account_default the account reference, source_kind_default the identity
// kind name.
func ruleMatches(cr compiledRule, ident *types.Identity) bool {
	switch cr.rule.MatchKind {
	case types.MatchVendorExact:
		return ident.CounterpartyNorm != "" && ident.CounterpartyNorm == cr.rule.Pattern
	case types.MatchCategoryCode:
		return ident.CategoryHint != "" && ident.CategoryHint == cr.rule.Pattern
	case types.MatchDescriptionRegex:
		return cr.re != nil && ident.CounterpartyNorm != "" && cr.re.MatchString(ident.CounterpartyNorm)
	case types.MatchAccountDefault:
		return ident.AccountRef != "" && ident.AccountRef == cr.rule.Pattern
	case types.MatchSourceKindDefault:
		return string(ident.Kind) == cr.rule.Pattern
	default:
		return false
	}
}
