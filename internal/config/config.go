package config

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/eddyhq/eddy-backend/internal/platform/logger"
)

const matchingConfigEnv = "MATCHING_CONFIG_YAML"

//go:embed matching.yaml
var matchingFS embed.FS

// Matching bounds the linker and consolidator passes. All windows are in
// calendar days on the event dates, not wall-clock processing time.
type Matching struct {
	// SettlementWindowDays is how many days after a payout its bank
	// settlement may land and still auto-link.
	SettlementWindowDays int `yaml:"settlement_window_days"`
	// AmountToleranceMinor absorbs rounding and FX dust between a payout and
	// its settlement.
	AmountToleranceMinor int64 `yaml:"amount_tolerance_minor"`
	// PayoutPendingGraceDays is how long a payout may sit unsettled before a
	// NO_MATCH exception opens.
	PayoutPendingGraceDays int `yaml:"payout_pending_grace_days"`
	// ARWindowDays is the date window for matching ops payments to charges
	// and invoices to payments when no explicit reference exists.
	ARWindowDays int `yaml:"ar_window_days"`
	// ARSimilarityThreshold is the minimum counterparty similarity for a
	// fallback AR match.
	ARSimilarityThreshold float64 `yaml:"ar_similarity_threshold"`
	// ARGhostGraceDays is how long an invoice may claim paid with no
	// supporting money movement before GHOST_AR opens.
	ARGhostGraceDays int `yaml:"ar_ghost_grace_days"`
	// ARSubsetMaxCandidates caps the charge set fed to subset-sum search.
	ARSubsetMaxCandidates int `yaml:"ar_subset_max_candidates"`
	// RenormalizeWindowDays bounds how far back a rule-version change
	// reclassifies ledger rows.
	RenormalizeWindowDays int `yaml:"renormalize_window_days"`
}

type RankWeights struct {
	Amount  float64 `yaml:"amount"`
	Date    float64 `yaml:"date"`
	Account float64 `yaml:"account"`
}

// Ranking picks between candidate matches. Lexicographic mode compares
// amount closeness, then date closeness, then account match; weighted mode
// blends the three into one score.
type Ranking struct {
	Mode    string      `yaml:"mode"`
	Weights RankWeights `yaml:"weights"`
}

const (
	RankLexicographic = "lexicographic"
	RankWeighted      = "weighted"
)

type Config struct {
	Version   int                 `yaml:"version"`
	Matching  Matching            `yaml:"matching"`
	Ranking   Ranking             `yaml:"ranking"`
	Companies map[string]Matching `yaml:"companies"`
}

func Default() Config {
	return Config{
		Version: 1,
		Matching: Matching{
			SettlementWindowDays:   2,
			AmountToleranceMinor:   100,
			PayoutPendingGraceDays: 5,
			ARWindowDays:           7,
			ARSimilarityThreshold:  0.5,
			ARGhostGraceDays:       5,
			ARSubsetMaxCandidates:  24,
			RenormalizeWindowDays:  90,
		},
		Ranking: Ranking{
			Mode:    RankLexicographic,
			Weights: RankWeights{Amount: 0.6, Date: 0.3, Account: 0.1},
		},
	}
}

var (
	loadOnce sync.Once
	loaded   Config
	loadErr  error
)

// Load reads the matching config once: from MATCHING_CONFIG_YAML when set,
// otherwise the embedded defaults. A broken file falls back to Default with
// a warning rather than taking the pipeline down.
func Load(log *logger.Logger) Config {
	loadOnce.Do(func() {
		loaded, loadErr = load()
	})
	if loadErr != nil {
		if log != nil {
			log.Warn("matching config load failed; using defaults", "error", loadErr)
		}
		return Default()
	}
	return loaded
}

func load() (Config, error) {
	data, err := readConfigBytes()
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse matching config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readConfigBytes() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(matchingConfigEnv)); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return data, nil
	}
	return matchingFS.ReadFile("matching.yaml")
}

func (c Config) validate() error {
	if c.Matching.SettlementWindowDays < 0 {
		return fmt.Errorf("settlement_window_days must be >= 0")
	}
	if c.Matching.AmountToleranceMinor < 0 {
		return fmt.Errorf("amount_tolerance_minor must be >= 0")
	}
	if c.Matching.ARSubsetMaxCandidates <= 0 {
		return fmt.Errorf("ar_subset_max_candidates must be > 0")
	}
	switch c.Ranking.Mode {
	case RankLexicographic, RankWeighted:
	default:
		return fmt.Errorf("ranking mode %q unknown", c.Ranking.Mode)
	}
	for key := range c.Companies {
		if _, err := uuid.Parse(key); err != nil {
			return fmt.Errorf("company override key %q is not a uuid", key)
		}
	}
	return nil
}

// ForCompany merges a company's overrides onto the defaults. Zero-valued
// override fields inherit.
func (c Config) ForCompany(companyID uuid.UUID) Matching {
	m := c.Matching
	override, ok := c.Companies[companyID.String()]
	if !ok {
		return m
	}
	if override.SettlementWindowDays > 0 {
		m.SettlementWindowDays = override.SettlementWindowDays
	}
	if override.AmountToleranceMinor > 0 {
		m.AmountToleranceMinor = override.AmountToleranceMinor
	}
	if override.PayoutPendingGraceDays > 0 {
		m.PayoutPendingGraceDays = override.PayoutPendingGraceDays
	}
	if override.ARWindowDays > 0 {
		m.ARWindowDays = override.ARWindowDays
	}
	if override.ARSimilarityThreshold > 0 {
		m.ARSimilarityThreshold = override.ARSimilarityThreshold
	}
	if override.ARGhostGraceDays > 0 {
		m.ARGhostGraceDays = override.ARGhostGraceDays
	}
	if override.ARSubsetMaxCandidates > 0 {
		m.ARSubsetMaxCandidates = override.ARSubsetMaxCandidates
	}
	if override.RenormalizeWindowDays > 0 {
		m.RenormalizeWindowDays = override.RenormalizeWindowDays
	}
	return m
}
