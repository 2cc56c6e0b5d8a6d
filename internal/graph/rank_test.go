package graph

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eddyhq/eddy-backend/internal/config"
	types "github.com/eddyhq/eddy-backend/internal/domain"
)

func TestSimilarity(t *testing.T) {
	if got := Similarity("ACME CORP", "ACME CORP"); got != 1 {
		t.Fatalf("identical strings: %v", got)
	}
	if got := Similarity("", "ACME"); got != 0 {
		t.Fatalf("empty input: %v", got)
	}
	close := Similarity("ACME CORP PAYROLL", "ACME CORP PAYROL")
	far := Similarity("ACME CORP PAYROLL", "GLOBEX LLC")
	if close <= far {
		t.Fatalf("similarity ordering broken: close=%v far=%v", close, far)
	}
	if close <= 0.5 {
		t.Fatalf("near-identical strings scored %v", close)
	}
	if far >= 0.3 {
		t.Fatalf("unrelated strings scored %v", far)
	}
}

func rankIdent(amount int64, day int) *types.Identity {
	return &types.Identity{
		ID:          uuid.New(),
		AmountMinor: amount,
		OccurredOn:  time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC),
	}
}

func TestRankLexicographic(t *testing.T) {
	ranking := config.Ranking{Mode: config.RankLexicographic}

	// Date decides when amounts tie.
	near := newCandidate(rankIdent(5000, 12), 0, 0, 0.2, false)
	farther := newCandidate(rankIdent(5000, 14), 0, 2, 0.9, true)
	ranked, confidence, tied := Rank(ranking, 100, 2, []Candidate{farther, near})
	if tied {
		t.Fatalf("expected a winner")
	}
	if ranked[0].Identity.ID != near.Identity.ID {
		t.Fatalf("nearest date should win")
	}
	if confidence != 0.9 {
		t.Fatalf("date-separated confidence = %v", confidence)
	}

	// Similarity breaks date ties.
	a := newCandidate(rankIdent(5000, 12), 0, 1, 0.9, false)
	b := newCandidate(rankIdent(5000, 12), 0, 1, 0.2, false)
	ranked, confidence, tied = Rank(ranking, 100, 2, []Candidate{b, a})
	if tied || ranked[0].Identity.ID != a.Identity.ID {
		t.Fatalf("similarity tiebreak failed")
	}
	if confidence <= 0.7 || confidence > 0.95 {
		t.Fatalf("similarity-separated confidence = %v", confidence)
	}

	// Indistinguishable candidates tie.
	c1 := newCandidate(rankIdent(5000, 12), 0, 1, 0.5, false)
	c2 := newCandidate(rankIdent(5000, 12), 0, 1, 0.5, false)
	_, _, tied = Rank(ranking, 100, 2, []Candidate{c1, c2})
	if !tied {
		t.Fatalf("equal candidates must tie")
	}
}

func TestRankSingleCandidate(t *testing.T) {
	ranked, confidence, tied := Rank(config.Ranking{Mode: config.RankLexicographic}, 100, 2,
		[]Candidate{newCandidate(rankIdent(100, 1), 3, 1, 0, false)})
	if tied || confidence != 1.0 || len(ranked) != 1 {
		t.Fatalf("single candidate: confidence=%v tied=%v", confidence, tied)
	}
}

func TestRankWeighted(t *testing.T) {
	ranking := config.Ranking{
		Mode:    config.RankWeighted,
		Weights: config.RankWeights{Amount: 0.6, Date: 0.3, Account: 0.1},
	}
	exact := newCandidate(rankIdent(5000, 12), 0, 2, 0.1, false)
	offByDollar := newCandidate(rankIdent(5100, 12), 100, 0, 0.9, true)
	ranked, confidence, tied := Rank(ranking, 100, 2, []Candidate{offByDollar, exact})
	if tied {
		t.Fatalf("expected a winner")
	}
	// Amount weight dominates: the exact-amount candidate wins despite the
	// worse date and similarity.
	if ranked[0].Identity.ID != exact.Identity.ID {
		t.Fatalf("weighted ranking picked %v", ranked[0].IdentityID)
	}
	if confidence <= 0.7 || confidence > 0.95 {
		t.Fatalf("weighted confidence = %v", confidence)
	}

	same1 := newCandidate(rankIdent(5000, 12), 10, 1, 0.4, false)
	same2 := newCandidate(rankIdent(5000, 12), 10, 1, 0.4, false)
	_, _, tied = Rank(ranking, 100, 2, []Candidate{same1, same2})
	if !tied {
		t.Fatalf("identical weighted scores must tie")
	}
}

func TestDaysApart(t *testing.T) {
	a := time.Date(2025, 3, 12, 23, 0, 0, 0, time.UTC)
	b := time.Date(2025, 3, 13, 1, 0, 0, 0, time.UTC)
	if d := daysApart(a, b); d != 1 {
		t.Fatalf("daysApart across midnight = %d", d)
	}
	if d := daysApart(b, a); d != 1 {
		t.Fatalf("daysApart not symmetric: %d", d)
	}
	if d := daysApart(a, a); d != 0 {
		t.Fatalf("same instant: %d", d)
	}
}
