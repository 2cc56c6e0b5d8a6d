package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eddyhq/eddy-backend/internal/consolidate"
	"github.com/eddyhq/eddy-backend/internal/data/repos"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type LedgerHandler struct {
	log  *logger.Logger
	rows repos.CashLedgerRowRepo
	deps consolidate.Deps
}

func NewLedgerHandler(log *logger.Logger, rows repos.CashLedgerRowRepo, deps consolidate.Deps) *LedgerHandler {
	return &LedgerHandler{
		log:  log.With("handler", "LedgerHandler"),
		rows: rows,
		deps: deps,
	}
}

// GET /api/companies/:company_id/ledger?from=&to=
func (h *LedgerHandler) List(c *gin.Context) {
	companyID, ok := pathUUID(c, "company_id")
	if !ok {
		return
	}
	from, to, ok := dateRange(c)
	if !ok {
		return
	}
	rows, err := h.rows.ListByCompany(dbctx.New(c.Request.Context()), companyID, from, to)
	if err != nil {
		RespondAPIErr(c, err)
		return
	}
	RespondOK(c, gin.H{"rows": rows})
}

// GET /api/companies/:company_id/ledger/summary?from=&to=
func (h *LedgerHandler) Summary(c *gin.Context) {
	companyID, ok := pathUUID(c, "company_id")
	if !ok {
		return
	}
	from, to, ok := dateRange(c)
	if !ok {
		return
	}
	sums, err := h.rows.SumByLabel(dbctx.New(c.Request.Context()), companyID, from, to)
	if err != nil {
		RespondAPIErr(c, err)
		return
	}
	RespondOK(c, gin.H{"by_label": sums})
}

// GET /api/companies/:company_id/ledger/in-transit
//
// Money the processor has promised but no bank settlement confirms yet.
// Computed on read; in-transit amounts are never ledger rows.
func (h *LedgerHandler) InTransit(c *gin.Context) {
	companyID, ok := pathUUID(c, "company_id")
	if !ok {
		return
	}
	pending, err := consolidate.InTransit(c.Request.Context(), h.deps, consolidate.Input{CompanyID: companyID})
	if err != nil {
		RespondAPIErr(c, err)
		return
	}
	RespondOK(c, gin.H{"in_transit": pending})
}

// dateRange parses optional from/to query params as YYYY-MM-DD. Zero times
// mean unbounded.
func dateRange(c *gin.Context) (time.Time, time.Time, bool) {
	var from, to time.Time
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "bad_from", err)
			return from, to, false
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "bad_to", err)
			return from, to, false
		}
		to = t
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		RespondError(c, http.StatusBadRequest, "bad_range", errors.New("to precedes from"))
		return from, to, false
	}
	return from, to, true
}
