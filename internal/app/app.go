// Package app wires the engine together for the two binaries: the API
// server (cmd/api) and the pipeline worker (cmd/worker). Both share the
// same database, repos, and services; only the outer loop differs.
package app

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/eddyhq/eddy-backend/internal/config"
	"github.com/eddyhq/eddy-backend/internal/connectors"
	"github.com/eddyhq/eddy-backend/internal/consolidate"
	"github.com/eddyhq/eddy-backend/internal/data/db"
	"github.com/eddyhq/eddy-backend/internal/handlers"
	"github.com/eddyhq/eddy-backend/internal/observability"
	"github.com/eddyhq/eddy-backend/internal/pipeline"
	"github.com/eddyhq/eddy-backend/internal/platform/envutil"
	"github.com/eddyhq/eddy-backend/internal/platform/locks"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
	"github.com/eddyhq/eddy-backend/internal/policy"
	"github.com/eddyhq/eddy-backend/internal/server"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      config.Config
	Repos    Repos
	Services Services
	Metrics  *observability.Metrics

	dbsvc        *db.Service
	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := config.Load(log)

	dbsvc, err := db.New(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	gdb := dbsvc.DB()
	if err := dbsvc.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := db.EnsureGraphIndexes(gdb); err != nil {
		log.Sync()
		return nil, fmt.Errorf("graph indexes: %w", err)
	}
	if err := db.EnsureLedgerIndexes(gdb); err != nil {
		log.Sync()
		return nil, fmt.Errorf("ledger indexes: %w", err)
	}

	metrics := observability.Init(log)
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: envutil.String("OTEL_SERVICE_NAME", "eddy"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", ""),
	})
	if metrics != nil {
		metrics.StartPoolCollector(ctx, log, gdb)
		metrics.StartRunQueueCollector(ctx, log, gdb)
		if addr := envutil.String("REDIS_ADDR", ""); addr != "" {
			metrics.StartRedisCollector(ctx, log, addr)
		}
		if addr := envutil.String("METRICS_ADDR", ""); addr != "" {
			metrics.StartServer(ctx, log, addr)
		}
	}

	reposet := wireRepos(gdb, log)
	serviceset := wireServices(gdb, log, reposet)

	return &App{
		Log:          log,
		DB:           gdb,
		Cfg:          cfg,
		Repos:        reposet,
		Services:     serviceset,
		Metrics:      metrics,
		dbsvc:        dbsvc,
		otelShutdown: otelShutdown,
	}, nil
}

// NewServer builds the HTTP surface on top of the shared wiring.
func (a *App) NewServer() *server.Server {
	r := a.Repos
	routerCfg := server.RouterConfig{
		Log:           a.Log,
		Metrics:       a.Metrics,
		HealthHandler: handlers.NewHealthHandler(a.DB),
		EventsHandler: handlers.NewEventsHandler(a.Log, a.Services.Ingest),
		ExceptionsHandler: handlers.NewExceptionsHandler(a.Log, a.Services.Exceptions),
		LedgerHandler: handlers.NewLedgerHandler(a.Log, r.Rows, consolidate.Deps{
			DB:         a.DB,
			Log:        a.Log,
			Identities: r.Identities,
			Edges:      r.Edges,
			Rows:       r.Rows,
			Exceptions: r.Exceptions,
		}),
		RulesHandler: handlers.NewRulesHandler(a.Log, policy.VersionDeps{
			DB:        a.DB,
			Log:       a.Log,
			Versions:  r.Versions,
			Rules:     r.Rules,
			State:     r.State,
			Proposals: r.Proposals,
			Runs:      r.Runs,
		}),
		PipelineHandler: handlers.NewPipelineHandler(a.Log, r.Runs),
	}
	addr := ":" + envutil.String("PORT", "8080")
	return server.New(routerCfg, addr)
}

// NewWorker builds the pipeline worker. Lock coordination prefers redis and
// falls back to in-process locks for single-node deployments.
func (a *App) NewWorker(clients []connectors.Client) (*pipeline.Worker, error) {
	locker, err := locks.NewRedisLocker()
	if err != nil {
		a.Log.Warn("redis locker unavailable, using in-process locks", "error", err)
		locker = locks.NewLocalLocker()
	}
	r := a.Repos
	deps := pipeline.Deps{
		DB:           a.DB,
		Log:          a.Log,
		Cfg:          a.Cfg,
		Events:       r.Events,
		Identities:   r.Identities,
		Links:        r.Links,
		Edges:        r.Edges,
		Rows:         r.Rows,
		Rules:        r.Rules,
		State:        r.State,
		Proposals:    r.Proposals,
		Exceptions:   r.Exceptions,
		Resolutions:  r.Resolutions,
		Runs:         r.Runs,
		ExceptionSvc: a.Services.Exceptions,
		Ingest:       a.Services.Ingest,
		Connectors:   clients,
	}
	return pipeline.NewWorker(deps, locker, pipeline.DefaultWorkerOptions())
}

func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown", "error", err)
		}
	}
	if a.dbsvc != nil {
		if err := a.dbsvc.Close(); err != nil {
			a.Log.Warn("db close", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
