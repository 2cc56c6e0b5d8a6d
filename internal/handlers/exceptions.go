package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/exceptions"
	"github.com/eddyhq/eddy-backend/internal/observability"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type ExceptionsHandler struct {
	log *logger.Logger
	svc *exceptions.Service
}

func NewExceptionsHandler(log *logger.Logger, svc *exceptions.Service) *ExceptionsHandler {
	return &ExceptionsHandler{
		log: log.With("handler", "ExceptionsHandler"),
		svc: svc,
	}
}

// GET /api/companies/:company_id/exceptions?status=&kind=&limit=&offset=
func (h *ExceptionsHandler) List(c *gin.Context) {
	companyID, ok := pathUUID(c, "company_id")
	if !ok {
		return
	}
	status := types.ExceptionStatus(c.Query("status"))
	kind := types.ExceptionKind(c.Query("kind"))
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)

	list, err := h.svc.List(c.Request.Context(), companyID, status, kind, limit, offset)
	if err != nil {
		RespondAPIErr(c, err)
		return
	}
	RespondOK(c, gin.H{"exceptions": list})
}

// GET /api/companies/:company_id/exceptions/summary
func (h *ExceptionsHandler) Summary(c *gin.Context) {
	companyID, ok := pathUUID(c, "company_id")
	if !ok {
		return
	}
	counts, err := h.svc.Counts(c.Request.Context(), companyID)
	if err != nil {
		RespondAPIErr(c, err)
		return
	}
	RespondOK(c, gin.H{"open_by_kind": counts})
}

// GET /api/exceptions/:id
func (h *ExceptionsHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	detail, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		RespondAPIErr(c, err)
		return
	}
	RespondOK(c, detail)
}

// POST /api/exceptions/:id/resolve
func (h *ExceptionsHandler) Resolve(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req exceptions.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request_body", err)
		return
	}
	res, err := h.svc.Resolve(c.Request.Context(), id, req)
	if err != nil {
		h.log.Warn("resolve failed", "exception_id", id, "action", req.Action, "error", err)
		RespondAPIErr(c, err)
		return
	}
	observability.Current().IncExceptionResolved(string(req.Action))
	RespondOK(c, res)
}

// POST /api/exceptions/:id/undo
func (h *ExceptionsHandler) Undo(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Actor string `json:"actor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request_body", err)
		return
	}
	if err := h.svc.Undo(c.Request.Context(), id, req.Actor); err != nil {
		h.log.Warn("undo failed", "exception_id", id, "error", err)
		RespondAPIErr(c, err)
		return
	}
	RespondOK(c, gin.H{"undone": true})
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_"+name, err)
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
