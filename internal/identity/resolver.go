package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/eddyhq/eddy-backend/internal/data/repos"
	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

const defaultResolveBatch = 2000

type ResolveDeps struct {
	DB  *gorm.DB
	Log *logger.Logger

	Events     repos.RawEventRepo
	Identities repos.IdentityRepo
	Links      repos.IdentityLinkRepo
}

type ResolveInput struct {
	CompanyID uuid.UUID `json:"company_id"`
	BatchSize int       `json:"batch_size,omitempty"`
}

type ResolveOutput struct {
	Processed         int `json:"processed"`
	IdentitiesCreated int `json:"identities_created"`
	LinksCreated      int `json:"links_created"`
	Skipped           int `json:"skipped"`
}

// Resolve maps every unlinked raw event for the company onto an identity:
// find-or-create by (company, fingerprint), then record the link. Safe to
// re-run; already linked events are not revisited.
func Resolve(ctx context.Context, deps ResolveDeps, in ResolveInput) (ResolveOutput, error) {
	var out ResolveOutput
	if deps.DB == nil || deps.Log == nil || deps.Events == nil || deps.Identities == nil || deps.Links == nil {
		return out, fmt.Errorf("resolve_identities: missing deps")
	}
	if in.CompanyID == uuid.Nil {
		return out, fmt.Errorf("resolve_identities: missing company_id")
	}
	batchSize := in.BatchSize
	if batchSize <= 0 {
		batchSize = defaultResolveBatch
	}
	log := deps.Log.With("step", "resolve_identities", "company_id", in.CompanyID)

	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		events, err := deps.Events.ListUnresolved(dbctx.New(ctx), in.CompanyID, batchSize)
		if err != nil {
			return out, fmt.Errorf("resolve_identities: list unresolved: %w", err)
		}
		if len(events) == 0 {
			return out, nil
		}

		links := make([]*types.IdentityLink, 0, len(events))
		for _, ev := range events {
			kind, err := CanonicalKind(ev)
			if err != nil {
				log.Warn("skipping unresolvable event", "raw_event_id", ev.ID, "error", err)
				out.Skipped++
				continue
			}
			ident := identityFromEvent(kind, ev)
			resolved, created, err := deps.Identities.UpsertByFingerprint(dbctx.New(ctx), ident)
			if err != nil {
				return out, fmt.Errorf("resolve_identities: upsert identity: %w", err)
			}
			if created {
				out.IdentitiesCreated++
			}
			confidence, reason := LinkReason(kind)
			links = append(links, &types.IdentityLink{
				CompanyID:  ev.CompanyID,
				IdentityID: resolved.ID,
				RawEventID: ev.ID,
				Confidence: confidence,
				Reason:     reason,
			})
			out.Processed++
		}

		if len(links) > 0 {
			n, err := deps.Links.CreateIgnoreDuplicates(dbctx.New(ctx), links)
			if err != nil {
				return out, fmt.Errorf("resolve_identities: create links: %w", err)
			}
			out.LinksCreated += int(n)
		}

		// Events skipped above stay unlinked and would come straight back on
		// the next ListUnresolved page. Stop once a pass links nothing new.
		if len(links) == 0 || len(events) < batchSize {
			return out, nil
		}
	}
}

func identityFromEvent(kind types.IdentityKind, ev *types.RawEvent) *types.Identity {
	return &types.Identity{
		CompanyID:         ev.CompanyID,
		Fingerprint:       Fingerprint(kind, ev),
		Kind:              kind,
		AmountMinor:       ev.AmountMinor,
		FeeMinor:          ev.FeeMinor,
		Currency:          ev.Currency,
		OccurredOn:        dayOf(ev.OccurredAt),
		AccountRef:        ev.AccountRef,
		CounterpartyNorm:  NormalizeCounterparty(ev.Counterparty),
		Provider:          ev.Source,
		ProviderRef:       providerRef(kind, ev),
		ProviderParentRef: ev.ParentExternalID,
		CategoryHint:      ev.CategoryHint,
		OpsStatus:         ev.OpsStatus,
	}
}

// providerRef is the identity's own native id. Settlements have none; their
// identity is the fingerprint itself.
func providerRef(kind types.IdentityKind, ev *types.RawEvent) string {
	if kind == types.IdentitySettlement {
		return ""
	}
	return ev.ExternalID
}

func dayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
