package matcher

import (
	"path/filepath"

	"imagesorter/logging"
	"imagesorter/reference"
	"imagesorter/types"

	"github.com/corona10/goimagehash"
)

// Centroids collapses each label's references into one majority-vote hash:
// a bit is set when strictly more than half of the label's hashes set it.
// The result is an ordinary index, so Classify works on it unchanged and the
// winning "reference" path is the label directory.
func Centroids(idx *reference.Index) *reference.Index {
	byLabel := make(map[string][]*goimagehash.ExtImageHash)
	for _, e := range idx.Entries() {
		byLabel[e.TopLabel] = append(byLabel[e.TopLabel], e.Hash)
	}

	entries := make([]types.ReferenceEntry, 0, len(byLabel))
	for _, label := range idx.Labels() {
		hashes := byLabel[label]
		if len(hashes) == 0 {
			continue
		}
		centroid := majorityHash(hashes)
		if centroid == nil {
			logging.LogWarning("label hashes have mixed widths, skipping centroid", "label", label)
			continue
		}
		entries = append(entries, types.ReferenceEntry{
			Path:     filepath.Join(idx.Root(), label),
			TopLabel: label,
			Hash:     centroid,
		})
	}

	return reference.NewIndex(idx.Root(), entries, idx.Labels())
}

func majorityHash(hashes []*goimagehash.ExtImageHash) *goimagehash.ExtImageHash {
	first := hashes[0]
	words := len(first.GetHash())
	counts := make([]int, words*64)

	for _, h := range hashes {
		if h.Bits() != first.Bits() || len(h.GetHash()) != words {
			return nil
		}
		for w, word := range h.GetHash() {
			for b := 0; b < 64; b++ {
				if word&(1<<uint(b)) != 0 {
					counts[w*64+b]++
				}
			}
		}
	}

	out := make([]uint64, words)
	for i, c := range counts {
		if c*2 > len(hashes) {
			out[i/64] |= 1 << uint(i%64)
		}
	}
	return goimagehash.NewExtImageHash(out, first.GetKind(), first.Bits())
}
