package graph

import (
	"sort"

	"github.com/eddyhq/eddy-backend/internal/config"
	types "github.com/eddyhq/eddy-backend/internal/domain"
)

// Candidate is one identity considered for a link, with its distances from
// the target already measured.
type Candidate struct {
	Identity     *types.Identity `json:"-"`
	IdentityID   string          `json:"identity_id"`
	AmountDelta  int64           `json:"amount_delta"`
	DateDelta    int             `json:"date_delta_days"`
	Similarity   float64         `json:"similarity"`
	AccountMatch bool            `json:"account_match"`
	Score        float64         `json:"score"`
}

func newCandidate(ident *types.Identity, amountDelta int64, dateDelta int, similarity float64, accountMatch bool) Candidate {
	return Candidate{
		Identity:     ident,
		IdentityID:   ident.ID.String(),
		AmountDelta:  amountDelta,
		DateDelta:    dateDelta,
		Similarity:   similarity,
		AccountMatch: accountMatch,
	}
}

// trigrams collects the padded character 3-grams of s.
func trigrams(s string) map[string]bool {
	if s == "" {
		return nil
	}
	padded := " " + s + " "
	grams := make(map[string]bool)
	runes := []rune(padded)
	for i := 0; i+3 <= len(runes); i++ {
		grams[string(runes[i:i+3])] = true
	}
	return grams
}

// Similarity is the trigram Dice coefficient of two strings in [0, 1].
// Empty input carries no signal and scores 0.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for g := range ta {
		if tb[g] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(ta)+len(tb))
}

const scoreEpsilon = 1e-9

// Rank orders candidates best-first under the configured mode and reports
// the winner's confidence. tied means the top two candidates cannot be told
// apart; the caller must open an exception rather than pick one.
// Deterministic for fixed inputs: exact ties in every key sort by id.
func Rank(r config.Ranking, tolerance int64, windowDays int, cands []Candidate) ([]Candidate, float64, bool) {
	if len(cands) == 0 {
		return nil, 0, false
	}
	if r.Mode == config.RankWeighted {
		for i := range cands {
			cands[i].Score = weightedScore(r.Weights, tolerance, windowDays, cands[i])
		}
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].Score != cands[j].Score {
				return cands[i].Score > cands[j].Score
			}
			return cands[i].IdentityID < cands[j].IdentityID
		})
		if len(cands) == 1 {
			return cands, 1.0, false
		}
		gap := cands[0].Score - cands[1].Score
		if gap < scoreEpsilon {
			return cands, 0, true
		}
		return cands, confidenceFromGap(4 * gap), false
	}

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.AmountDelta != b.AmountDelta {
			return a.AmountDelta < b.AmountDelta
		}
		if a.DateDelta != b.DateDelta {
			return a.DateDelta < b.DateDelta
		}
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.AccountMatch != b.AccountMatch {
			return a.AccountMatch
		}
		return a.IdentityID < b.IdentityID
	})
	if len(cands) == 1 {
		return cands, 1.0, false
	}
	first, second := cands[0], cands[1]
	switch {
	case first.AmountDelta != second.AmountDelta:
		return cands, 0.95, false
	case first.DateDelta != second.DateDelta:
		return cands, 0.9, false
	case first.Similarity != second.Similarity:
		return cands, confidenceFromGap(first.Similarity - second.Similarity), false
	case first.AccountMatch != second.AccountMatch:
		return cands, 0.75, false
	default:
		return cands, 0, true
	}
}

// weightedScore blends closeness of amount, closeness of date, and textual
// affinity into one number in [0, 1].
func weightedScore(w config.RankWeights, tolerance int64, windowDays int, c Candidate) float64 {
	amountScore := 1 - float64(c.AmountDelta)/float64(tolerance+1)
	if amountScore < 0 {
		amountScore = 0
	}
	dateScore := 1 - float64(c.DateDelta)/float64(windowDays+1)
	if dateScore < 0 {
		dateScore = 0
	}
	acctScore := 0.5 * c.Similarity
	if c.AccountMatch {
		acctScore += 0.5
	}
	return w.Amount*amountScore + w.Date*dateScore + w.Account*acctScore
}

func confidenceFromGap(gap float64) float64 {
	if gap > 1 {
		gap = 1
	}
	if gap < 0 {
		gap = 0
	}
	return 0.7 + 0.25*gap
}
