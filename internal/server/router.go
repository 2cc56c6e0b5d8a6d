package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/eddyhq/eddy-backend/internal/handlers"
	"github.com/eddyhq/eddy-backend/internal/middleware"
	"github.com/eddyhq/eddy-backend/internal/observability"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	HealthHandler     *handlers.HealthHandler
	EventsHandler     *handlers.EventsHandler
	ExceptionsHandler *handlers.ExceptionsHandler
	LedgerHandler     *handlers.LedgerHandler
	RulesHandler      *handlers.RulesHandler
	PipelineHandler   *handlers.PipelineHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("eddy"))
	r.Use(middleware.RequestLogger(cfg.Log))
	r.Use(middleware.Metrics(cfg.Metrics))
	r.Use(middleware.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	{
		if cfg.EventsHandler != nil {
			api.POST("/events", cfg.EventsHandler.IngestBatch)
		}

		if cfg.ExceptionsHandler != nil {
			api.GET("/exceptions/:id", cfg.ExceptionsHandler.Get)
			api.POST("/exceptions/:id/resolve", cfg.ExceptionsHandler.Resolve)
			api.POST("/exceptions/:id/undo", cfg.ExceptionsHandler.Undo)
		}

		if cfg.PipelineHandler != nil {
			api.GET("/pipeline/runs/:id", cfg.PipelineHandler.GetRun)
		}

		company := api.Group("/companies/:company_id")
		{
			if cfg.ExceptionsHandler != nil {
				company.GET("/exceptions", cfg.ExceptionsHandler.List)
				company.GET("/exceptions/summary", cfg.ExceptionsHandler.Summary)
			}
			if cfg.LedgerHandler != nil {
				company.GET("/ledger", cfg.LedgerHandler.List)
				company.GET("/ledger/summary", cfg.LedgerHandler.Summary)
				company.GET("/ledger/in-transit", cfg.LedgerHandler.InTransit)
			}
			if cfg.RulesHandler != nil {
				company.GET("/rules", cfg.RulesHandler.GetActive)
				company.GET("/rules/proposals", cfg.RulesHandler.ListProposals)
				company.POST("/rules/proposals", cfg.RulesHandler.Propose)
				company.POST("/rules/proposals/:id/discard", cfg.RulesHandler.Discard)
				company.POST("/rules/publish", cfg.RulesHandler.Publish)
			}
			if cfg.PipelineHandler != nil {
				company.POST("/pipeline/run", cfg.PipelineHandler.EnqueueRun)
				company.GET("/pipeline/runs", cfg.PipelineHandler.ListRuns)
			}
		}
	}

	return r
}
