package graph

import "errors"

// subsetNodeBudget caps the search tree. With the candidate cap applied by
// the caller this is generous; burning through it means the amounts are
// pathologically interchangeable and the match is ambiguous anyway.
const subsetNodeBudget = 1 << 20

var errSubsetBudget = errors.New("subset search budget exhausted")

// subsetSums enumerates index subsets of amounts whose sum lands within
// tolerance of target, stopping after maxSubsets are found. amounts must be
// positive and sorted descending; target must be positive. Two candidates
// with equal amounts produce distinct subsets: economically they are
// different payments and the ambiguity is real.
func subsetSums(amounts []int64, target, tolerance int64, maxSubsets int) ([][]int, error) {
	n := len(amounts)
	if n == 0 || maxSubsets <= 0 {
		return nil, nil
	}
	// suffix[i] = sum of amounts[i:]; used to prune branches that cannot
	// reach the target even by taking everything left.
	suffix := make([]int64, n+1)
	for i := n - 1; i >= 0; i-- {
		suffix[i] = suffix[i+1] + amounts[i]
	}

	var (
		found  [][]int
		chosen []int
		nodes  int
	)
	var walk func(start int, sum int64) bool
	walk = func(start int, sum int64) bool {
		for j := start; j < n; j++ {
			if sum+suffix[j] < target-tolerance {
				// Sorted descending: nothing from j on can reach.
				return true
			}
			next := sum + amounts[j]
			if next > target+tolerance {
				// This amount overshoots; a smaller one later may fit.
				continue
			}
			nodes++
			if nodes > subsetNodeBudget {
				return false
			}
			chosen = append(chosen, j)
			if next >= target-tolerance {
				found = append(found, append([]int(nil), chosen...))
				if len(found) >= maxSubsets {
					chosen = chosen[:len(chosen)-1]
					return true
				}
			}
			ok := walk(j+1, next)
			chosen = chosen[:len(chosen)-1]
			if !ok {
				return false
			}
			if len(found) >= maxSubsets {
				return true
			}
		}
		return true
	}
	if !walk(0, 0) {
		return found, errSubsetBudget
	}
	return found, nil
}
