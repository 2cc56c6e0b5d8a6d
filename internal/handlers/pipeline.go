package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eddyhq/eddy-backend/internal/data/repos"
	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type PipelineHandler struct {
	log  *logger.Logger
	runs repos.PipelineRunRepo
}

func NewPipelineHandler(log *logger.Logger, runs repos.PipelineRunRepo) *PipelineHandler {
	return &PipelineHandler{
		log:  log.With("handler", "PipelineHandler"),
		runs: runs,
	}
}

// POST /api/companies/:company_id/pipeline/run
//
// Queues a manual run; the worker picks it up. Returns the existing queued
// run when one is already waiting.
func (h *PipelineHandler) EnqueueRun(c *gin.Context) {
	companyID, ok := pathUUID(c, "company_id")
	if !ok {
		return
	}
	run, created, err := h.runs.Enqueue(dbctx.New(c.Request.Context()), companyID, types.TriggerManual)
	if err != nil {
		RespondAPIErr(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"run": run, "created": created})
}

// GET /api/companies/:company_id/pipeline/runs?limit=
func (h *PipelineHandler) ListRuns(c *gin.Context) {
	companyID, ok := pathUUID(c, "company_id")
	if !ok {
		return
	}
	limit := intQuery(c, "limit", 50)
	runs, err := h.runs.ListByCompany(dbctx.New(c.Request.Context()), companyID, limit)
	if err != nil {
		RespondAPIErr(c, err)
		return
	}
	RespondOK(c, gin.H{"runs": runs})
}

// GET /api/pipeline/runs/:id
func (h *PipelineHandler) GetRun(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	run, err := h.runs.GetByID(dbctx.New(c.Request.Context()), id)
	if err != nil {
		RespondAPIErr(c, err)
		return
	}
	if run == nil {
		RespondError(c, http.StatusNotFound, "run_not_found", nil)
		return
	}
	RespondOK(c, run)
}
