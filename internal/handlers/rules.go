package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/observability"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
	"github.com/eddyhq/eddy-backend/internal/policy"
)

type RulesHandler struct {
	log  *logger.Logger
	deps policy.VersionDeps
}

func NewRulesHandler(log *logger.Logger, deps policy.VersionDeps) *RulesHandler {
	return &RulesHandler{
		log:  log.With("handler", "RulesHandler"),
		deps: deps,
	}
}

// GET /api/companies/:company_id/rules
//
// The active rule set. Version 0 means nothing has been published and
// every row stays uncategorized.
func (h *RulesHandler) GetActive(c *gin.Context) {
	companyID, ok := pathUUID(c, "company_id")
	if !ok {
		return
	}
	dbc := dbctx.New(c.Request.Context())
	state, err := h.deps.State.Get(dbc, companyID)
	if err != nil {
		RespondAPIErr(c, err)
		return
	}
	version := 0
	if state != nil {
		version = state.ActiveVersion
	}
	rules, err := h.deps.Rules.ListByVersion(dbc, companyID, version)
	if err != nil {
		RespondAPIErr(c, err)
		return
	}
	RespondOK(c, gin.H{"version": version, "rules": rules})
}

type proposeRequest struct {
	policy.RuleSpec
	ProposedBy string `json:"proposed_by"`
}

// POST /api/companies/:company_id/rules/proposals
func (h *RulesHandler) Propose(c *gin.Context) {
	companyID, ok := pathUUID(c, "company_id")
	if !ok {
		return
	}
	var req proposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request_body", err)
		return
	}
	prop, err := policy.ProposeRule(c.Request.Context(), h.deps, companyID, req.RuleSpec)
	if err != nil {
		RespondAPIErr(c, err)
		return
	}
	observability.Current().IncProposalDrafted()
	RespondOK(c, prop)
}

// GET /api/companies/:company_id/rules/proposals?status=
func (h *RulesHandler) ListProposals(c *gin.Context) {
	companyID, ok := pathUUID(c, "company_id")
	if !ok {
		return
	}
	status := types.ProposalStatus(c.DefaultQuery("status", string(types.ProposalDraft)))
	props, err := h.deps.Proposals.ListByStatus(dbctx.New(c.Request.Context()), companyID, status)
	if err != nil {
		RespondAPIErr(c, err)
		return
	}
	RespondOK(c, gin.H{"proposals": props})
}

// POST /api/companies/:company_id/rules/publish
func (h *RulesHandler) Publish(c *gin.Context) {
	companyID, ok := pathUUID(c, "company_id")
	if !ok {
		return
	}
	var req struct {
		ProposalIDs []string          `json:"proposal_ids"`
		ExtraRules  []policy.RuleSpec `json:"extra_rules"`
		Note        string            `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request_body", err)
		return
	}
	in := policy.PublishInput{
		CompanyID:  companyID,
		ExtraRules: req.ExtraRules,
		Note:       req.Note,
	}
	for _, raw := range req.ProposalIDs {
		id, ok := parseUUID(c, raw, "bad_proposal_id")
		if !ok {
			return
		}
		in.ProposalIDs = append(in.ProposalIDs, id)
	}

	out, err := policy.Publish(c.Request.Context(), h.deps, in)
	if err != nil {
		h.log.Warn("publish failed", "company_id", companyID, "error", err)
		RespondAPIErr(c, err)
		return
	}
	observability.Current().IncVersionPublished()
	RespondOK(c, out)
}

// POST /api/companies/:company_id/rules/proposals/:id/discard
func (h *RulesHandler) Discard(c *gin.Context) {
	companyID, ok := pathUUID(c, "company_id")
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := policy.DiscardProposal(c.Request.Context(), h.deps, companyID, id); err != nil {
		RespondAPIErr(c, err)
		return
	}
	RespondOK(c, gin.H{"discarded": true})
}

func parseUUID(c *gin.Context, raw, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		RespondError(c, http.StatusBadRequest, code, err)
		return uuid.Nil, false
	}
	return id, true
}
