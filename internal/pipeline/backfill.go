package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/eddyhq/eddy-backend/internal/connectors"
	"github.com/eddyhq/eddy-backend/internal/observability"
	"github.com/eddyhq/eddy-backend/internal/platform/backoff"
)

// maxBackfillPages caps how far one run pages through a single connector.
// Anything left over is picked up by the next run; duplicate observations
// are dropped at the ingest boundary either way.
const maxBackfillPages = 50

type connectorStats struct {
	Accepted  int    `json:"accepted"`
	Duplicate int    `json:"duplicate"`
	Malformed int    `json:"malformed"`
	Degraded  bool   `json:"degraded,omitempty"`
	Error     string `json:"error,omitempty"`
}

// runBackfill pulls fresh observations from every configured connector.
// A source that cannot serve data right now degrades the stage instead of
// failing the run; the rest of the pipeline proceeds with what it has.
func runBackfill(ctx context.Context, deps Deps, companyID uuid.UUID) (any, error) {
	out := map[string]connectorStats{}
	for _, client := range deps.Connectors {
		stats, err := backfillOne(ctx, deps, companyID, client)
		if err != nil {
			if !connectors.Degraded(err) {
				return out, fmt.Errorf("connector %s: %w", client.Name(), err)
			}
			stats.Degraded = true
			stats.Error = err.Error()
			deps.Log.Warn("connector degraded, continuing without fresh data",
				"company_id", companyID,
				"connector", client.Name(),
				"error", err,
			)
			observability.Current().IncConnectorFetch(client.Name(), "degraded")
		}
		out[client.Name()] = stats
	}
	return out, nil
}

func backfillOne(ctx context.Context, deps Deps, companyID uuid.UUID, client connectors.Client) (connectorStats, error) {
	var stats connectorStats
	cursor := ""
	for page := 0; page < maxBackfillPages; page++ {
		var (
			inputs []connectors.RawEventInput
			next   string
		)
		err := backoff.Retry(ctx, backoff.Default(), func() error {
			var ferr error
			inputs, next, ferr = client.FetchEvents(ctx, companyID, cursor)
			if ferr != nil && connectors.Degraded(ferr) {
				return backoff.Permanent(ferr)
			}
			return ferr
		})
		if err != nil {
			observability.Current().IncConnectorFetch(client.Name(), "error")
			return stats, err
		}
		observability.Current().IncConnectorFetch(client.Name(), "ok")
		if len(inputs) == 0 {
			return stats, nil
		}
		res, err := deps.Ingest.IngestBatch(ctx, companyID, inputs)
		if err != nil {
			return stats, err
		}
		stats.Accepted += res.Accepted
		stats.Duplicate += res.Duplicate
		stats.Malformed += len(res.Malformed)
		if next == "" || next == cursor {
			return stats, nil
		}
		cursor = next
	}
	return stats, nil
}
