// Package ingest is the write side of the event store. Connectors report
// observations; this service normalizes, dedupes on the natural key, and
// schedules pipeline work for companies that received new data.
package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/eddyhq/eddy-backend/internal/connectors"
	"github.com/eddyhq/eddy-backend/internal/data/repos"
	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

const maxBatchSize = 1000

// MalformedEvent records one rejected input and why, indexed by its
// position in the submitted batch.
type MalformedEvent struct {
	Index      int    `json:"index"`
	ExternalID string `json:"external_id,omitempty"`
	Reason     string `json:"reason"`
}

// BatchResult summarizes one IngestBatch call. Duplicate counts replays of
// events already stored; duplicates are success, not failure.
type BatchResult struct {
	Accepted  int              `json:"accepted"`
	Duplicate int              `json:"duplicate"`
	Malformed []MalformedEvent `json:"malformed,omitempty"`
	RunID     *uuid.UUID       `json:"run_id,omitempty"`
}

type Service interface {
	Ingest(ctx context.Context, companyID uuid.UUID, in connectors.RawEventInput) (bool, error)
	IngestBatch(ctx context.Context, companyID uuid.UUID, inputs []connectors.RawEventInput) (BatchResult, error)
}

type service struct {
	db     *gorm.DB
	log    *logger.Logger
	events repos.RawEventRepo
	runs   repos.PipelineRunRepo
}

func NewService(db *gorm.DB, baseLog *logger.Logger, events repos.RawEventRepo, runs repos.PipelineRunRepo) Service {
	return &service{
		db:     db,
		log:    baseLog.With("service", "IngestService"),
		events: events,
		runs:   runs,
	}
}

// Ingest stores a single observation. Returns false when the event was
// already known (same company, source, kind, external id).
func (s *service) Ingest(ctx context.Context, companyID uuid.UUID, in connectors.RawEventInput) (bool, error) {
	ev, err := connectors.Normalize(companyID, in)
	if err != nil {
		return false, fmt.Errorf("ingest: %w", err)
	}
	var stored bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)
		n, err := s.events.CreateIgnoreDuplicates(dbc, []*types.RawEvent{ev})
		if err != nil {
			return err
		}
		stored = n > 0
		if stored {
			if _, _, err := s.runs.Enqueue(dbc, companyID, types.TriggerIngest); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ingest: %w", err)
	}
	return stored, nil
}

// IngestBatch stores a connector batch. Malformed inputs are reported and
// skipped; one bad event never sinks its batch. New data enqueues a
// pipeline run for the company, deduped against an already-queued one.
func (s *service) IngestBatch(ctx context.Context, companyID uuid.UUID, inputs []connectors.RawEventInput) (BatchResult, error) {
	var res BatchResult
	if companyID == uuid.Nil {
		return res, fmt.Errorf("ingest batch: missing company id")
	}
	if len(inputs) == 0 {
		return res, nil
	}
	if len(inputs) > maxBatchSize {
		return res, fmt.Errorf("ingest batch: too many events (max %d)", maxBatchSize)
	}

	rows := make([]*types.RawEvent, 0, len(inputs))
	for i := range inputs {
		ev, err := connectors.Normalize(companyID, inputs[i])
		if err != nil {
			res.Malformed = append(res.Malformed, MalformedEvent{
				Index:      i,
				ExternalID: inputs[i].ExternalID,
				Reason:     err.Error(),
			})
			continue
		}
		rows = append(rows, ev)
	}
	if len(res.Malformed) > 0 {
		s.log.Warn("batch contains malformed events",
			"company_id", companyID,
			"malformed", len(res.Malformed),
			"total", len(inputs))
	}
	if len(rows) == 0 {
		return res, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)
		n, err := s.events.CreateIgnoreDuplicates(dbc, rows)
		if err != nil {
			return err
		}
		res.Accepted = int(n)
		res.Duplicate = len(rows) - int(n)
		if res.Accepted > 0 {
			run, _, err := s.runs.Enqueue(dbc, companyID, types.TriggerIngest)
			if err != nil {
				return err
			}
			res.RunID = &run.ID
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("ingest batch: %w", err)
	}

	s.log.Info("batch ingested",
		"company_id", companyID,
		"accepted", res.Accepted,
		"duplicate", res.Duplicate,
		"malformed", len(res.Malformed))
	return res, nil
}
