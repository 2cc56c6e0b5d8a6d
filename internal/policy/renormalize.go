package policy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
)

const (
	renormalizeChunkSize = 200
	renormalizeWorkers   = 4
)

type RenormalizeInput struct {
	CompanyID uuid.UUID `json:"company_id"`
	// Now anchors the lookback window. Zero means wall clock.
	Now time.Time `json:"now,omitempty"`
}

type RenormalizeOutput struct {
	RuleVersion  int `json:"rule_version"`
	RowsExamined int `json:"rows_examined"`
	Reclassified int `json:"reclassified"`
	Unmapped     int `json:"unmapped"`
	Skipped      int `json:"skipped"`
}

// Renormalize re-evaluates every ledger row in the lookback window against
// the active rule version. Rows an operator classified by hand keep their
// classification; everything else is rewritten to whatever the new version
// says, including back to the unmapped sentinel when coverage shrank. The
// pass is idempotent and chunked: cancelling mid-flight leaves a prefix of
// rows on the new version and the rest on the old, and the next run picks
// them all up again.
func Renormalize(ctx context.Context, deps ClassifyDeps, in RenormalizeInput) (RenormalizeOutput, error) {
	var out RenormalizeOutput
	if err := deps.check("renormalize"); err != nil {
		return out, err
	}
	if in.CompanyID == uuid.Nil {
		return out, fmt.Errorf("renormalize: missing company_id")
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	dbc := dbctx.New(ctx)

	rs, err := activeRuleSet(dbc, deps, in.CompanyID)
	if err != nil {
		return out, err
	}
	out.RuleVersion = rs.Version

	windowDays := deps.Cfg.ForCompany(in.CompanyID).RenormalizeWindowDays
	from := now.AddDate(0, 0, -windowDays)
	rows, err := deps.Rows.ListByCompany(dbc, in.CompanyID, from, time.Time{})
	if err != nil {
		return out, fmt.Errorf("renormalize: list rows: %w", err)
	}
	out.RowsExamined = len(rows)
	idents, err := identitiesForRows(dbc, deps, rows)
	if err != nil {
		return out, err
	}

	var reclassified, unmapped, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(renormalizeWorkers)
	for start := 0; start < len(rows); start += renormalizeChunkSize {
		end := start + renormalizeChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]
		g.Go(func() error {
			cdbc := dbctx.New(gctx)
			for _, row := range chunk {
				if err := gctx.Err(); err != nil {
					return err
				}
				if operatorClassified(row) {
					skipped.Add(1)
					continue
				}
				ident := idents[row.IdentityID]
				if ident == nil {
					deps.Log.Warn("ledger row without identity", "row_id", row.ID)
					skipped.Add(1)
					continue
				}
				d, ok := rs.Evaluate(ident)
				if !ok {
					if err := markUnmapped(cdbc, deps, row, ident, rs.Version); err != nil {
						return err
					}
					unmapped.Add(1)
					continue
				}
				if sameDecision(row, d, rs.Version) {
					skipped.Add(1)
					continue
				}
				if err := applyDecision(cdbc, deps, row, d, rs.Version); err != nil {
					return err
				}
				reclassified.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, fmt.Errorf("renormalize: %w", err)
	}
	out.Reclassified = int(reclassified.Load())
	out.Unmapped = int(unmapped.Load())
	out.Skipped = int(skipped.Load())

	deps.Log.Info("renormalized ledger rows",
		"company_id", in.CompanyID,
		"rule_version", out.RuleVersion,
		"examined", out.RowsExamined,
		"reclassified", out.Reclassified,
		"unmapped", out.Unmapped,
		"skipped", out.Skipped,
	)
	return out, nil
}

// sameDecision reports whether the row already wears exactly what the rule
// set would write, so the pass skips the no-op update and the audit noise.
func sameDecision(row *types.CashLedgerRow, d Decision, version int) bool {
	return row.CategoryKey == d.CategoryKey &&
		row.PolicyLabel == d.PolicyLabel &&
		row.Confidence == d.Confidence &&
		row.RuleVersion == version &&
		row.ClassifiedBy == "rule:"+d.RuleID.String()
}
