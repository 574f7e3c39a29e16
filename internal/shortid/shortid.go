// Package shortid computes the short identifiers that disambiguate claims
// registered under the same name.
//
// A short id is the shortest prefix of a claim ID that separates it from the
// other claims under its name. When several claims share the longest common
// prefix, the earliest registered claim (lowest height) keeps that prefix and
// later claims take one extra character. Short ids are recomputed from the
// current claim set on every request and can change meaning when new
// competing claims are registered; they must not be persisted.
package shortid

import (
	"cmp"
	"slices"

	"github.com/mesh-intelligence/speech/pkg/types"
)

// Compute returns the short id of the claim identified by claimID at height,
// given the claims registered under its name. claims may include the target
// itself; it is ignored. The result is never empty for a non-empty claimID.
func Compute(claimID string, height int64, claims []types.Claim) string {
	competitors := make([]types.Claim, 0, len(claims))
	for _, c := range claims {
		if c.ClaimID != claimID {
			competitors = append(competitors, c)
		}
	}
	if len(competitors) == 0 {
		return prefix(claimID, 1)
	}

	// Grow the prefix until no competitor shares it.
	i := 0
	remaining := slices.Clone(competitors)
	for len(remaining) != 0 {
		i++
		want := prefix(claimID, i)
		remaining = slices.DeleteFunc(remaining, func(c types.Claim) bool {
			return prefix(c.ClaimID, i) != want
		})
	}
	lastMatchIndex := i - 1
	if lastMatchIndex == 0 {
		return prefix(claimID, 1)
	}

	lastMatch := prefix(claimID, lastMatchIndex)
	var group []types.Claim
	for _, c := range competitors {
		if prefix(c.ClaimID, lastMatchIndex) == lastMatch {
			group = append(group, c)
		}
	}
	earliest := slices.MinFunc(group, func(a, b types.Claim) int {
		return cmp.Compare(a.Height, b.Height)
	})
	if earliest.Height < height {
		return prefix(claimID, lastMatchIndex+1)
	}
	return lastMatch
}

// prefix returns the first n bytes of s, or all of s when it is shorter.
func prefix(s string, n int) string {
	if n >= len(s) {
		return s
	}
	return s[:n]
}
