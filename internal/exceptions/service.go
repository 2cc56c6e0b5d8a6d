// Package exceptions is the review-queue surface: listing what the engine
// could not decide, applying an operator's decision, and reversing it. Every
// resolution records its exact footprint so undo replays nothing; it deletes
// and restores precisely what the resolution touched.
package exceptions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/eddyhq/eddy-backend/internal/data/repos"
	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/domain/policy"
	"github.com/eddyhq/eddy-backend/internal/platform/apierr"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type Service struct {
	db  *gorm.DB
	log *logger.Logger

	exceptions  repos.ExceptionRepo
	resolutions repos.ResolutionRepo
	identities  repos.IdentityRepo
	edges       repos.IdentityEdgeRepo
	rows        repos.CashLedgerRowRepo
}

func NewService(db *gorm.DB, baseLog *logger.Logger,
	exceptions repos.ExceptionRepo,
	resolutions repos.ResolutionRepo,
	identities repos.IdentityRepo,
	edges repos.IdentityEdgeRepo,
	rows repos.CashLedgerRowRepo,
) *Service {
	return &Service{
		db:          db,
		log:         baseLog.With("service", "Exceptions"),
		exceptions:  exceptions,
		resolutions: resolutions,
		identities:  identities,
		edges:       edges,
		rows:        rows,
	}
}

func (s *Service) List(ctx context.Context, companyID uuid.UUID, status types.ExceptionStatus, kind types.ExceptionKind, limit, offset int) ([]*types.Exception, error) {
	return s.exceptions.List(dbctx.New(ctx), companyID, status, kind, limit, offset)
}

func (s *Service) Counts(ctx context.Context, companyID uuid.UUID) ([]repos.KindCount, error) {
	return s.exceptions.CountOpenByKind(dbctx.New(ctx), companyID)
}

// ExceptionDetail is one exception with its full resolution history, newest
// first.
type ExceptionDetail struct {
	Exception   *types.Exception    `json:"exception"`
	Resolutions []*types.Resolution `json:"resolutions"`
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ExceptionDetail, error) {
	dbc := dbctx.New(ctx)
	ex, err := s.exceptions.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if ex == nil {
		return nil, apierr.NotFound("exception_not_found", fmt.Errorf("exception %s not found", id))
	}
	history, err := s.resolutions.ListByException(dbc, id)
	if err != nil {
		return nil, err
	}
	return &ExceptionDetail{Exception: ex, Resolutions: history}, nil
}

// ResolveRequest is one operator decision. Which fields matter depends on
// the action: pick_candidate and manual_link need a chosen identity,
// assign_category a category and label.
type ResolveRequest struct {
	Action           types.ResolutionAction `json:"action"`
	ChosenIdentityID *uuid.UUID             `json:"chosen_identity_id,omitempty"`
	CategoryKey      string                 `json:"category_key,omitempty"`
	PolicyLabel      types.PolicyLabel      `json:"policy_label,omitempty"`
	Note             string                 `json:"note,omitempty"`
	Actor            string                 `json:"actor"`
}

// Resolve applies one operator action to an open exception: graph or ledger
// effects, the audit resolution with its reversible footprint, and the
// status flip, all in one transaction.
func (s *Service) Resolve(ctx context.Context, exceptionID uuid.UUID, req ResolveRequest) (*types.Resolution, error) {
	if req.Actor == "" {
		return nil, apierr.BadRequest("missing_actor", fmt.Errorf("actor is required"))
	}
	var resolution *types.Resolution
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)
		ex, err := s.exceptions.GetByID(dbc, exceptionID)
		if err != nil {
			return err
		}
		if ex == nil {
			return apierr.NotFound("exception_not_found", fmt.Errorf("exception %s not found", exceptionID))
		}
		if ex.Status != types.ExceptionOpen {
			return apierr.Conflict("exception_not_open", fmt.Errorf("exception %s is %s", exceptionID, ex.Status))
		}

		res := &types.Resolution{
			ID:               uuid.New(),
			CompanyID:        ex.CompanyID,
			ExceptionID:      ex.ID,
			Action:           req.Action,
			ChosenIdentityID: req.ChosenIdentityID,
			CategoryKey:      req.CategoryKey,
			PolicyLabel:      req.PolicyLabel,
			Note:             req.Note,
			Actor:            req.Actor,
		}

		var effects types.ResolutionEffects
		switch req.Action {
		case types.ActionPickCandidate, types.ActionManualLink:
			effects, err = s.applyLink(dbc, ex, res, req)
		case types.ActionAssignCategory:
			effects, err = s.applyCategory(dbc, ex, res, req)
		case types.ActionWriteOff, types.ActionDismiss:
			// No graph or ledger footprint; the status flip is the whole
			// effect.
		default:
			err = apierr.BadRequest("bad_action", fmt.Errorf("unknown action %q", req.Action))
		}
		if err != nil {
			return err
		}

		blob, err := json.Marshal(effects)
		if err != nil {
			return fmt.Errorf("resolve: marshal effects: %w", err)
		}
		res.Effects = datatypes.JSON(blob)
		if _, err := s.resolutions.Create(dbc, res); err != nil {
			return fmt.Errorf("resolve: record resolution: %w", err)
		}

		target := types.ExceptionResolved
		if req.Action == types.ActionDismiss {
			target = types.ExceptionDismissed
		}
		flipped, err := s.exceptions.UpdateStatusIf(dbc, ex.ID, []types.ExceptionStatus{types.ExceptionOpen}, target)
		if err != nil {
			return err
		}
		if !flipped {
			return apierr.Conflict("exception_not_open", fmt.Errorf("exception %s changed underneath", ex.ID))
		}
		resolution = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("exception resolved",
		"exception_id", exceptionID,
		"action", req.Action,
		"actor", req.Actor,
	)
	return resolution, nil
}

// applyLink creates the edge an operator vouched for. The edge carries the
// resolution id and full weight; the linker's uniqueness constraints still
// apply, so linking an already-linked pair fails loudly instead of silently
// double-counting.
func (s *Service) applyLink(dbc dbctx.Context, ex *types.Exception, res *types.Resolution, req ResolveRequest) (types.ResolutionEffects, error) {
	var effects types.ResolutionEffects
	if ex.SubjectIdentityID == nil {
		return effects, apierr.Conflict("no_subject", fmt.Errorf("exception %s has no subject identity", ex.ID))
	}
	if req.ChosenIdentityID == nil {
		return effects, apierr.BadRequest("missing_choice", fmt.Errorf("action %s needs chosen_identity_id", req.Action))
	}
	subject, err := s.identities.GetByID(dbc, *ex.SubjectIdentityID)
	if err != nil {
		return effects, err
	}
	chosen, err := s.identities.GetByID(dbc, *req.ChosenIdentityID)
	if err != nil {
		return effects, err
	}
	if subject == nil || chosen == nil || chosen.CompanyID != ex.CompanyID {
		return effects, apierr.NotFound("identity_not_found", fmt.Errorf("subject or chosen identity not found"))
	}

	kind, err := edgeKindFor(subject, chosen)
	if err != nil {
		return effects, err
	}
	edge := &types.IdentityEdge{
		ID:            uuid.New(),
		CompanyID:     ex.CompanyID,
		SrcIdentityID: subject.ID,
		DstIdentityID: chosen.ID,
		Kind:          kind,
		Weight:        1,
		Pass:          "resolution",
		ResolutionID:  &res.ID,
	}
	n, err := s.edges.CreateIgnoreDuplicates(dbc, []*types.IdentityEdge{edge})
	if err != nil {
		return effects, err
	}
	if n == 0 {
		return effects, apierr.Conflict("edge_exists", fmt.Errorf("%s edge %s -> %s already exists", kind, subject.ID, chosen.ID))
	}
	effects.CreatedEdgeIDs = []string{edge.ID.String()}
	return effects, nil
}

// edgeKindFor maps the subject's kind to the edge an operator link means.
// Anything else is not linkable by hand.
func edgeKindFor(subject, chosen *types.Identity) (types.EdgeKind, error) {
	switch subject.Kind {
	case types.IdentityPayout:
		if chosen.Kind != types.IdentitySettlement {
			return "", apierr.BadRequest("bad_link_target", fmt.Errorf("payout links to a settlement, not %s", chosen.Kind))
		}
		return types.EdgeSettles, nil
	case types.IdentityOpsPayment:
		if chosen.Kind != types.IdentityCharge && chosen.Kind != types.IdentityPayout {
			return "", apierr.BadRequest("bad_link_target", fmt.Errorf("ops payment links to a charge or payout, not %s", chosen.Kind))
		}
		return types.EdgeAppliesTo, nil
	case types.IdentityOpsInvoice:
		if chosen.Kind != types.IdentityOpsPayment {
			return "", apierr.BadRequest("bad_link_target", fmt.Errorf("ops invoice links to an ops payment, not %s", chosen.Kind))
		}
		return types.EdgeAppliesTo, nil
	default:
		return "", apierr.BadRequest("bad_link_subject", fmt.Errorf("%s identities are not linkable by hand", subject.Kind))
	}
}

// applyCategory pins an operator classification on the exception's ledger
// row and remembers what it overwrote.
func (s *Service) applyCategory(dbc dbctx.Context, ex *types.Exception, res *types.Resolution, req ResolveRequest) (types.ResolutionEffects, error) {
	var effects types.ResolutionEffects
	if ex.Kind != types.ExceptionUnmapped {
		return effects, apierr.BadRequest("bad_action", fmt.Errorf("assign_category only applies to UNMAPPED, not %s", ex.Kind))
	}
	if ex.LedgerRowID == nil {
		return effects, apierr.Conflict("no_ledger_row", fmt.Errorf("exception %s has no ledger row", ex.ID))
	}
	if !policy.KnownCategory(req.CategoryKey) {
		return effects, apierr.BadRequest("unknown_category", fmt.Errorf("category %q is not in the taxonomy", req.CategoryKey))
	}
	switch req.PolicyLabel {
	case types.LabelMustPay, types.LabelCanDelay, types.LabelDiscretionary:
	default:
		return effects, apierr.BadRequest("bad_label", fmt.Errorf("label %q is not a planning label", req.PolicyLabel))
	}
	row, err := s.rows.GetByID(dbc, *ex.LedgerRowID)
	if err != nil {
		return effects, err
	}
	if row == nil {
		return effects, apierr.NotFound("row_not_found", fmt.Errorf("ledger row %s not found", *ex.LedgerRowID))
	}
	effects.LedgerRowID = row.ID.String()
	effects.PriorCategoryKey = row.CategoryKey
	effects.PriorPolicyLabel = row.PolicyLabel
	effects.PriorConfidence = row.Confidence
	effects.PriorRuleVersion = row.RuleVersion
	err = s.rows.UpdateClassification(dbc, row.ID, req.CategoryKey, req.PolicyLabel, 1, row.RuleVersion, "operator:"+res.ID.String())
	if err != nil {
		return effects, err
	}
	return effects, nil
}

// Undo reverses the latest resolution on an exception and reopens it. Only
// the newest active resolution is undoable; anything older has been
// superseded and reversing it out of order could orphan later effects.
func (s *Service) Undo(ctx context.Context, exceptionID uuid.UUID, actor string) error {
	if actor == "" {
		return apierr.BadRequest("missing_actor", fmt.Errorf("actor is required"))
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)
		ex, err := s.exceptions.GetByID(dbc, exceptionID)
		if err != nil {
			return err
		}
		if ex == nil {
			return apierr.NotFound("exception_not_found", fmt.Errorf("exception %s not found", exceptionID))
		}
		if ex.Status == types.ExceptionOpen {
			return apierr.Conflict("exception_open", fmt.Errorf("exception %s has nothing to undo", exceptionID))
		}
		res, err := s.resolutions.GetLatestActiveByException(dbc, ex.ID)
		if err != nil {
			return err
		}
		if res == nil {
			return apierr.Conflict("nothing_to_undo", fmt.Errorf("exception %s has no active resolution", exceptionID))
		}

		var effects types.ResolutionEffects
		if len(res.Effects) > 0 {
			if err := json.Unmarshal(res.Effects, &effects); err != nil {
				return fmt.Errorf("undo: decode effects of %s: %w", res.ID, err)
			}
		}
		if err := s.reverseEffects(dbc, effects); err != nil {
			return err
		}

		marked, err := s.resolutions.MarkUndone(dbc, res.ID)
		if err != nil {
			return err
		}
		if !marked {
			return apierr.Conflict("already_undone", fmt.Errorf("resolution %s already undone", res.ID))
		}
		reopened, err := s.exceptions.UpdateStatusIf(dbc, ex.ID,
			[]types.ExceptionStatus{types.ExceptionResolved, types.ExceptionDismissed}, types.ExceptionOpen)
		if err != nil {
			return err
		}
		if !reopened {
			return apierr.Conflict("exception_changed", fmt.Errorf("exception %s changed underneath", ex.ID))
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("resolution undone", "exception_id", exceptionID, "actor", actor)
	return nil
}

// reverseEffects removes exactly what a resolution created. Edges go first;
// any ledger row that only exists because a reversed SETTLES edge made its
// payout countable goes with them. A prior classification, when recorded, is
// written back verbatim.
func (s *Service) reverseEffects(dbc dbctx.Context, effects types.ResolutionEffects) error {
	if len(effects.CreatedEdgeIDs) > 0 {
		ids := make([]uuid.UUID, 0, len(effects.CreatedEdgeIDs))
		for _, raw := range effects.CreatedEdgeIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("undo: bad edge id %q: %w", raw, err)
			}
			ids = append(ids, id)
		}
		edges, err := s.edges.GetByIDs(dbc, ids)
		if err != nil {
			return err
		}
		var staleRowIDs []uuid.UUID
		for _, edge := range edges {
			if edge.Kind != types.EdgeSettles {
				continue
			}
			row, err := s.rows.GetByIdentityID(dbc, edge.SrcIdentityID)
			if err != nil {
				return err
			}
			if row != nil {
				staleRowIDs = append(staleRowIDs, row.ID)
			}
		}
		if _, err := s.edges.DeleteByIDs(dbc, ids); err != nil {
			return err
		}
		if len(staleRowIDs) > 0 {
			if _, err := s.rows.DeleteByIDs(dbc, staleRowIDs); err != nil {
				return err
			}
		}
	}
	for _, raw := range effects.CreatedRowIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("undo: bad row id %q: %w", raw, err)
		}
		if _, err := s.rows.DeleteByIDs(dbc, []uuid.UUID{id}); err != nil {
			return err
		}
	}
	if effects.LedgerRowID != "" {
		id, err := uuid.Parse(effects.LedgerRowID)
		if err != nil {
			return fmt.Errorf("undo: bad ledger row id %q: %w", effects.LedgerRowID, err)
		}
		prior := effects.PriorCategoryKey
		label := effects.PriorPolicyLabel
		if label == "" {
			label = types.LabelUncategorized
		}
		err = s.rows.UpdateClassification(dbc, id, prior, label, effects.PriorConfidence, effects.PriorRuleVersion, "")
		if err != nil {
			return err
		}
	}
	return nil
}

const linkerActor = "system:linker"

// CloseStaleLinked sweeps open link exceptions whose subject has since been
// linked, by a later pass with more data or by an operator on a duplicate
// queue entry. The close is recorded as a system resolution with no
// footprint; undoing it reopens the exception and touches nothing else.
func (s *Service) CloseStaleLinked(ctx context.Context, companyID uuid.UUID) (int, error) {
	closed := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)
		var stale []*types.Exception
		for _, kind := range []types.ExceptionKind{types.ExceptionNoMatch, types.ExceptionTiming, types.ExceptionARAmbiguous, types.ExceptionGhostAR} {
			batch, err := s.exceptions.List(dbc, companyID, types.ExceptionOpen, kind, 0, 0)
			if err != nil {
				return err
			}
			stale = append(stale, batch...)
		}

		subjects := make([]uuid.UUID, 0, len(stale))
		for _, ex := range stale {
			if ex.SubjectIdentityID != nil {
				subjects = append(subjects, *ex.SubjectIdentityID)
			}
		}
		if len(subjects) == 0 {
			return nil
		}
		linked := make(map[uuid.UUID]uuid.UUID)
		for _, kind := range []types.EdgeKind{types.EdgeSettles, types.EdgeAppliesTo} {
			edges, err := s.edges.ListBySrc(dbc, subjects, kind)
			if err != nil {
				return err
			}
			for _, e := range edges {
				if _, seen := linked[e.SrcIdentityID]; !seen {
					linked[e.SrcIdentityID] = e.DstIdentityID
				}
			}
		}
		// GHOST_AR subjects are invoices whose payment is the dst of an
		// APPLIES_TO edge; those also count as linked when the invoice
		// itself got an edge, handled above via ops_invoice -> ops_payment.

		for _, ex := range stale {
			if ex.SubjectIdentityID == nil {
				continue
			}
			dst, ok := linked[*ex.SubjectIdentityID]
			if !ok {
				continue
			}
			chosen := dst
			_, err := s.resolutions.Create(dbc, &types.Resolution{
				CompanyID:        ex.CompanyID,
				ExceptionID:      ex.ID,
				Action:           types.ActionPickCandidate,
				ChosenIdentityID: &chosen,
				Actor:            linkerActor,
				Note:             "subject linked by a later pass",
			})
			if err != nil {
				return err
			}
			flipped, err := s.exceptions.UpdateStatusIf(dbc, ex.ID, []types.ExceptionStatus{types.ExceptionOpen}, types.ExceptionResolved)
			if err != nil {
				return err
			}
			if flipped {
				closed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if closed > 0 {
		s.log.Info("closed stale link exceptions", "company_id", companyID, "closed", closed)
	}
	return closed, nil
}
