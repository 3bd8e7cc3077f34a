package matcher

import (
	"sort"

	"imagesorter/imageprocessor"
	"imagesorter/reference"
	"imagesorter/types"

	"github.com/corona10/goimagehash"
)

// Rank scores every reference against hash, best first. Equal scores keep
// index (path) order.
func Rank(hash *goimagehash.ExtImageHash, idx *reference.Index) []types.ReferenceMatch {
	matches := make([]types.ReferenceMatch, 0, idx.Len())
	for _, e := range idx.Entries() {
		distance, err := imageprocessor.HammingDistance(hash, e.Hash)
		if err != nil {
			continue
		}
		matches = append(matches, types.ReferenceMatch{
			Path:     e.Path,
			TopLabel: e.TopLabel,
			Score:    imageprocessor.SimilarityFromDistance(distance, hash),
			Distance: distance,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}
