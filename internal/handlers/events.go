package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/eddyhq/eddy-backend/internal/connectors"
	"github.com/eddyhq/eddy-backend/internal/ingest"
	"github.com/eddyhq/eddy-backend/internal/observability"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type EventsHandler struct {
	log    *logger.Logger
	ingest ingest.Service
}

func NewEventsHandler(log *logger.Logger, svc ingest.Service) *EventsHandler {
	return &EventsHandler{
		log:    log.With("handler", "EventsHandler"),
		ingest: svc,
	}
}

type ingestRequest struct {
	CompanyID uuid.UUID                  `json:"company_id" binding:"required"`
	Events    []connectors.RawEventInput `json:"events" binding:"required"`
}

// POST /api/events
//
// The connector push boundary. Accepts a batch, reports per-event outcomes,
// and never fails the whole batch over individual malformed events.
func (h *EventsHandler) IngestBatch(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request_body", err)
		return
	}
	if len(req.Events) == 0 {
		RespondError(c, http.StatusBadRequest, "empty_batch", errors.New("events must not be empty"))
		return
	}

	res, err := h.ingest.IngestBatch(c.Request.Context(), req.CompanyID, req.Events)
	if err != nil {
		h.log.Error("ingest batch failed", "company_id", req.CompanyID, "error", err)
		RespondAPIErr(c, err)
		return
	}
	observability.Current().AddIngested("accepted", res.Accepted)
	observability.Current().AddIngested("duplicate", res.Duplicate)
	observability.Current().AddIngested("malformed", len(res.Malformed))
	RespondOK(c, res)
}
