// Package connectors defines the boundary between external data sources
// (bank feeds, payment processors, ops systems) and the engine. Connectors
// push batches of observations; everything is normalized here, exactly once,
// before any engine code sees it.
package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// RawEventInput is one observation as a connector reports it. Amounts are
// decimal strings in major units; normalization converts them to signed
// minor units.
type RawEventInput struct {
	Source           string          `json:"source"`
	Kind             string          `json:"kind"`
	ExternalID       string          `json:"external_id"`
	OccurredAt       time.Time       `json:"occurred_at"`
	Amount           string          `json:"amount"`
	Fee              string          `json:"fee,omitempty"`
	Currency         string          `json:"currency"`
	AccountRef       string          `json:"account_ref,omitempty"`
	Counterparty     string          `json:"counterparty,omitempty"`
	CategoryHint     string          `json:"category_hint,omitempty"`
	ParentExternalID string          `json:"parent_external_id,omitempty"`
	OpsStatus        string          `json:"ops_status,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

// Client is what a source integration implements for pull-based backfill.
// Push-based sources go straight to the ingest endpoint instead.
type Client interface {
	// Name identifies the source ("stripe", "plaid", "quickbooks").
	Name() string
	// FetchEvents returns observations since the cursor, newest last, plus
	// the cursor to resume from.
	FetchEvents(ctx context.Context, companyID uuid.UUID, cursor string) ([]RawEventInput, string, error)
}

// Connector failure modes the pipeline treats as "data not yet available"
// rather than run failures.
var (
	ErrAuthExpired   = errors.New("connectors: credentials expired")
	ErrRateBudget    = errors.New("connectors: rate limit budget exhausted")
	ErrSourceOffline = errors.New("connectors: source unavailable")
)

// Degraded reports whether err means the source cannot serve data right now
// but the run should continue with what it has.
func Degraded(err error) bool {
	return errors.Is(err, ErrAuthExpired) ||
		errors.Is(err, ErrRateBudget) ||
		errors.Is(err, ErrSourceOffline)
}
