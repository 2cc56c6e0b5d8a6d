package config

import (
	"testing"

	"github.com/google/uuid"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestEmbeddedConfigParses(t *testing.T) {
	cfg, err := load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Matching.SettlementWindowDays != 2 {
		t.Fatalf("settlement_window_days = %d, want 2", cfg.Matching.SettlementWindowDays)
	}
	if cfg.Ranking.Mode != RankLexicographic {
		t.Fatalf("ranking mode = %q", cfg.Ranking.Mode)
	}
}

func TestForCompanyMergesOverrides(t *testing.T) {
	companyID := uuid.New()
	cfg := Default()
	cfg.Companies = map[string]Matching{
		companyID.String(): {SettlementWindowDays: 4},
	}

	merged := cfg.ForCompany(companyID)
	if merged.SettlementWindowDays != 4 {
		t.Fatalf("override not applied: %d", merged.SettlementWindowDays)
	}
	if merged.AmountToleranceMinor != cfg.Matching.AmountToleranceMinor {
		t.Fatalf("zero field should inherit, got %d", merged.AmountToleranceMinor)
	}

	other := cfg.ForCompany(uuid.New())
	if other != cfg.Matching {
		t.Fatalf("company without overrides should get defaults")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Ranking.Mode = "closest"
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected error for unknown ranking mode")
	}

	cfg = Default()
	cfg.Companies = map[string]Matching{"not-a-uuid": {}}
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected error for bad company key")
	}

	cfg = Default()
	cfg.Matching.ARSubsetMaxCandidates = 0
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected error for zero subset cap")
	}
}
