package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/eddyhq/eddy-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// =========================
		// Ingest
		// =========================
		&types.RawEvent{},

		// =========================
		// Identity graph
		// =========================
		&types.Identity{},
		&types.IdentityLink{},
		&types.IdentityEdge{},

		// =========================
		// Consolidated cash
		// =========================
		&types.CashLedgerRow{},

		// =========================
		// Classification policy
		// =========================
		&types.RuleVersion{},
		&types.CDMRule{},
		&types.PolicyState{},
		&types.RuleProposal{},

		// =========================
		// Exception queue
		// =========================
		&types.Exception{},
		&types.Resolution{},

		// =========================
		// Pipeline runtime
		// =========================
		&types.PipelineRun{},
	)
}

// EnsureGraphIndexes adds the scan paths the linker passes lean on. Plain
// composite btrees, valid on both drivers.
func EnsureGraphIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_raw_event_company_kind_occurred
		ON raw_event (company_id, kind, occurred_at);
	`).Error; err != nil {
		return fmt.Errorf("create idx_raw_event_company_kind_occurred: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_identity_company_kind_occurred
		ON identity (company_id, kind, occurred_on);
	`).Error; err != nil {
		return fmt.Errorf("create idx_identity_company_kind_occurred: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_identity_edge_company_kind
		ON identity_edge (company_id, kind);
	`).Error; err != nil {
		return fmt.Errorf("create idx_identity_edge_company_kind: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_identity_edge_dst
		ON identity_edge (dst_identity_id, kind);
	`).Error; err != nil {
		return fmt.Errorf("create idx_identity_edge_dst: %w", err)
	}
	return nil
}

// EnsureLedgerIndexes adds reporting and queue scan paths.
func EnsureLedgerIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_ledger_company_posted
		ON cash_ledger_row (company_id, posted_on DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_ledger_company_posted: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_ledger_company_label
		ON cash_ledger_row (company_id, policy_label, posted_on DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_ledger_company_label: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_exception_company_status_created
		ON exception (company_id, status, created_at DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_exception_company_status_created: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_pipeline_run_claim
		ON pipeline_run (status, created_at);
	`).Error; err != nil {
		return fmt.Errorf("create idx_pipeline_run_claim: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_pipeline_run_company_status
		ON pipeline_run (company_id, status);
	`).Error; err != nil {
		return fmt.Errorf("create idx_pipeline_run_company_status: %w", err)
	}
	return nil
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureGraphIndexes(s.db); err != nil {
		s.log.Error("Graph index migration failed", "error", err)
		return err
	}
	if err := EnsureLedgerIndexes(s.db); err != nil {
		s.log.Error("Ledger index migration failed", "error", err)
		return err
	}
	return nil
}
