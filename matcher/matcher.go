// Package matcher picks the best template for a candidate image.
package matcher

import (
	"context"
	"fmt"

	"imagesorter/imageprocessor"
	"imagesorter/logging"
	"imagesorter/reference"
	"imagesorter/types"
)

// Engine binds a hasher, a reference index and a threshold. The scanner
// only depends on the Classify method, so a different search structure can
// replace the linear scan without touching the batch code.
type Engine struct {
	Hasher    reference.Hasher
	Index     *reference.Index
	Threshold float64
}

// Classify implements scanner.Classifier
func (e *Engine) Classify(ctx context.Context, candidatePath string) types.MatchResult {
	return Classify(ctx, candidatePath, e.Hasher, e.Index, e.Threshold)
}

// Classify hashes the candidate once and scores it against every reference
// in index order. The first reference reaching the maximum score wins. A best
// score below threshold forces the unmatched label while keeping the best
// reference for diagnostics. Failures are reported in the result, never
// returned.
func Classify(ctx context.Context, candidatePath string, hasher reference.Hasher, idx *reference.Index, threshold float64) types.MatchResult {
	result := types.MatchResult{
		CandidatePath: candidatePath,
		BestLabel:     types.UnmatchedLabel,
		BestScore:     types.NoScore,
	}

	// Decoding takes no context, so an expired deadline must be caught here.
	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	hash, err := hasher.HashImage(candidatePath)
	if err != nil {
		result.BestScore = 0
		result.Err = fmt.Errorf("hash candidate: %w", err)
		return result
	}

	if idx == nil || idx.Len() == 0 {
		return result
	}

	var best *types.ReferenceEntry
	entries := idx.Entries()
	for i := range entries {
		if err := ctx.Err(); err != nil {
			result.Err = err
			return result
		}

		score, err := imageprocessor.Similarity(hash, entries[i].Hash)
		if err != nil {
			logging.LogWarning("cannot score reference", "candidate", candidatePath,
				"reference", entries[i].Path, "error", err)
			continue
		}
		if score > result.BestScore {
			result.BestScore = score
			best = &entries[i]
		}
	}

	if best == nil {
		return result
	}

	result.BestReferencePath = best.Path
	if result.BestScore >= threshold {
		result.BestLabel = best.TopLabel
	}

	logging.DebugLog("classified", "candidate", candidatePath, "label", result.BestLabel,
		"score", result.BestScore, "reference", best.Path)
	return result
}
