// Package pipeline sequences the engine passes for one company: resolve
// identities, link the graph, check it, consolidate cash, classify. Every
// stage is idempotent, so a crashed run re-executes from the top and
// converges on the same ledger.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/eddyhq/eddy-backend/internal/config"
	"github.com/eddyhq/eddy-backend/internal/connectors"
	"github.com/eddyhq/eddy-backend/internal/consolidate"
	"github.com/eddyhq/eddy-backend/internal/data/repos"
	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/exceptions"
	"github.com/eddyhq/eddy-backend/internal/graph"
	"github.com/eddyhq/eddy-backend/internal/identity"
	"github.com/eddyhq/eddy-backend/internal/ingest"
	"github.com/eddyhq/eddy-backend/internal/observability"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
	"github.com/eddyhq/eddy-backend/internal/policy"
)

type Deps struct {
	DB  *gorm.DB
	Log *logger.Logger
	Cfg config.Config

	Events      repos.RawEventRepo
	Identities  repos.IdentityRepo
	Links       repos.IdentityLinkRepo
	Edges       repos.IdentityEdgeRepo
	Rows        repos.CashLedgerRowRepo
	Rules       repos.CDMRuleRepo
	State       repos.PolicyStateRepo
	Proposals   repos.RuleProposalRepo
	Exceptions  repos.ExceptionRepo
	Resolutions repos.ResolutionRepo
	Runs        repos.PipelineRunRepo

	ExceptionSvc *exceptions.Service
	Ingest       ingest.Service
	// Connectors are polled by the backfill stage; empty means push-only
	// ingestion.
	Connectors []connectors.Client
}

func (d Deps) check() error {
	if d.DB == nil || d.Log == nil || d.Events == nil || d.Identities == nil ||
		d.Links == nil || d.Edges == nil || d.Rows == nil || d.Rules == nil ||
		d.State == nil || d.Proposals == nil || d.Exceptions == nil ||
		d.Resolutions == nil || d.Runs == nil || d.ExceptionSvc == nil {
		return fmt.Errorf("pipeline: missing deps")
	}
	return nil
}

// stage is one named step; its return value lands in the run's stats blob.
type stage struct {
	name string
	fn   func(ctx context.Context, deps Deps, companyID uuid.UUID) (any, error)
}

func processingStages(deps Deps) []stage {
	stages := []stage{}
	if len(deps.Connectors) > 0 {
		stages = append(stages, stage{"backfill_connectors", runBackfill})
	}
	return append(stages,
		stage{"resolve_identities", runResolve},
		stage{"link_settlements", runLinkSettlements},
		stage{"link_composition", runLinkComposition},
		stage{"link_ar", runLinkAR},
		stage{"close_stale_exceptions", runCloseStale},
		stage{"integrity_check", runIntegrity},
		stage{"consolidate", runConsolidate},
		stage{"classify", runClassify},
		stage{"mine_proposals", runMine},
	)
}

func renormalizeStages() []stage {
	return []stage{{"renormalize", runRenormalize}}
}

// Execute runs every stage of one claimed run in order and returns the
// per-stage stats. The first failing stage aborts the run; everything a
// completed stage wrote stays, and the retry re-runs all stages
// idempotently.
func Execute(ctx context.Context, deps Deps, run *types.PipelineRun) (datatypes.JSON, error) {
	if err := deps.check(); err != nil {
		return nil, err
	}
	if run == nil || run.CompanyID == uuid.Nil {
		return nil, fmt.Errorf("pipeline: missing run")
	}
	stages := processingStages(deps)
	if run.Trigger == types.TriggerRenormalize {
		stages = renormalizeStages()
	}

	tracer := otel.Tracer("pipeline")
	stats := map[string]any{}
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return marshalStats(stats), err
		}
		if err := deps.Runs.UpdateFields(dbctx.New(ctx), run.ID, map[string]interface{}{"stage": st.name}); err != nil {
			return marshalStats(stats), fmt.Errorf("pipeline: mark stage %s: %w", st.name, err)
		}
		stageCtx, span := tracer.Start(ctx, st.name)
		start := time.Now()
		out, err := st.fn(stageCtx, deps, run.CompanyID)
		span.End()
		status := "ok"
		if err != nil {
			status = "failed"
		}
		observability.Current().ObservePipelineStage(st.name, status, time.Since(start))
		if err != nil {
			return marshalStats(stats), fmt.Errorf("pipeline: stage %s: %w", st.name, err)
		}
		if out != nil {
			stats[st.name] = out
		}
		deps.Log.Debug("pipeline stage done",
			"run_id", run.ID,
			"company_id", run.CompanyID,
			"stage", st.name,
			"elapsed", time.Since(start).String(),
		)
	}
	return marshalStats(stats), nil
}

func marshalStats(stats map[string]any) datatypes.JSON {
	if len(stats) == 0 {
		return nil
	}
	blob, err := json.Marshal(stats)
	if err != nil {
		return nil
	}
	return datatypes.JSON(blob)
}

func runResolve(ctx context.Context, deps Deps, companyID uuid.UUID) (any, error) {
	return identity.Resolve(ctx, identity.ResolveDeps{
		DB:         deps.DB,
		Log:        deps.Log,
		Events:     deps.Events,
		Identities: deps.Identities,
		Links:      deps.Links,
	}, identity.ResolveInput{CompanyID: companyID})
}

func (d Deps) linkDeps() graph.LinkDeps {
	return graph.LinkDeps{
		DB:         d.DB,
		Log:        d.Log,
		Cfg:        d.Cfg,
		Identities: d.Identities,
		Edges:      d.Edges,
		Exceptions: d.Exceptions,
	}
}

func runLinkSettlements(ctx context.Context, deps Deps, companyID uuid.UUID) (any, error) {
	return graph.LinkSettlements(ctx, deps.linkDeps(), graph.LinkInput{CompanyID: companyID})
}

func runLinkComposition(ctx context.Context, deps Deps, companyID uuid.UUID) (any, error) {
	return graph.LinkComposition(ctx, deps.linkDeps(), graph.LinkInput{CompanyID: companyID})
}

func runLinkAR(ctx context.Context, deps Deps, companyID uuid.UUID) (any, error) {
	return graph.LinkAR(ctx, deps.linkDeps(), graph.LinkInput{CompanyID: companyID})
}

func runCloseStale(ctx context.Context, deps Deps, companyID uuid.UUID) (any, error) {
	closed, err := deps.ExceptionSvc.CloseStaleLinked(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return map[string]int{"closed": closed}, nil
}

func runIntegrity(ctx context.Context, deps Deps, companyID uuid.UUID) (any, error) {
	return graph.CheckIntegrity(ctx, deps.linkDeps(), graph.LinkInput{CompanyID: companyID})
}

func runConsolidate(ctx context.Context, deps Deps, companyID uuid.UUID) (any, error) {
	out, err := consolidate.Consolidate(ctx, consolidate.Deps{
		DB:         deps.DB,
		Log:        deps.Log,
		Identities: deps.Identities,
		Edges:      deps.Edges,
		Rows:       deps.Rows,
		Exceptions: deps.Exceptions,
	}, consolidate.Input{CompanyID: companyID})
	if err != nil {
		return nil, err
	}
	observability.Current().AddLedgerRows(out.RowsEmitted)
	return out, nil
}

func (d Deps) classifyDeps() policy.ClassifyDeps {
	return policy.ClassifyDeps{
		DB:          d.DB,
		Log:         d.Log,
		Cfg:         d.Cfg,
		Rows:        d.Rows,
		Identities:  d.Identities,
		Rules:       d.Rules,
		State:       d.State,
		Exceptions:  d.Exceptions,
		Resolutions: d.Resolutions,
	}
}

func runClassify(ctx context.Context, deps Deps, companyID uuid.UUID) (any, error) {
	return policy.Classify(ctx, deps.classifyDeps(), policy.ClassifyInput{CompanyID: companyID})
}

func runRenormalize(ctx context.Context, deps Deps, companyID uuid.UUID) (any, error) {
	return policy.Renormalize(ctx, deps.classifyDeps(), policy.RenormalizeInput{CompanyID: companyID})
}

func runMine(ctx context.Context, deps Deps, companyID uuid.UUID) (any, error) {
	out, err := policy.MineProposals(ctx, policy.MineDeps{
		DB:          deps.DB,
		Log:         deps.Log,
		Resolutions: deps.Resolutions,
		Exceptions:  deps.Exceptions,
		Rows:        deps.Rows,
		Identities:  deps.Identities,
		Proposals:   deps.Proposals,
	}, policy.MineInput{CompanyID: companyID})
	if err != nil {
		return nil, err
	}
	for i := 0; i < out.Drafted; i++ {
		observability.Current().IncProposalDrafted()
	}
	return out, nil
}
