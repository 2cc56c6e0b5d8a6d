// Package graph builds the typed edges between identities: which payout a
// bank settlement is the arrival of, which balance lines compose a payout,
// which operational records describe which money movement. Every pass is
// idempotent over unlinked identities and pushes anything it cannot decide
// onto the exception queue instead of guessing.
package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/eddyhq/eddy-backend/internal/config"
	"github.com/eddyhq/eddy-backend/internal/data/repos"
	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

type LinkDeps struct {
	DB  *gorm.DB
	Log *logger.Logger
	Cfg config.Config

	Identities repos.IdentityRepo
	Edges      repos.IdentityEdgeRepo
	Exceptions repos.ExceptionRepo
}

func (d LinkDeps) check(pass string) error {
	if d.DB == nil || d.Log == nil || d.Identities == nil || d.Edges == nil || d.Exceptions == nil {
		return fmt.Errorf("%s: missing deps", pass)
	}
	return nil
}

type LinkInput struct {
	CompanyID uuid.UUID `json:"company_id"`
	// Now anchors grace-period checks. Zero means wall clock.
	Now time.Time `json:"now,omitempty"`
}

func (in LinkInput) clock() time.Time {
	if in.Now.IsZero() {
		return time.Now().UTC()
	}
	return in.Now.UTC()
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// daysApart is the absolute calendar-day distance between two dates.
func daysApart(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	d := int(da.Sub(db) / (24 * time.Hour))
	if d < 0 {
		return -d
	}
	return d
}

func contextJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// sortIdentities fixes the processing order so re-runs and replays make the
// same decisions: oldest first, id as the final tiebreak.
func sortIdentities(ids []*types.Identity) {
	sort.Slice(ids, func(i, j int) bool {
		if !ids[i].OccurredOn.Equal(ids[j].OccurredOn) {
			return ids[i].OccurredOn.Before(ids[j].OccurredOn)
		}
		return ids[i].ID.String() < ids[j].ID.String()
	})
}

func payoutNet(p *types.Identity) int64 {
	return p.AmountMinor - p.FeeMinor
}
