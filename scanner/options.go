package scanner

import (
	"context"
	"errors"
	"time"

	"imagesorter/reference"
	"imagesorter/types"
)

// Fatal precondition errors returned by Run
var (
	ErrInputDirNotFound = errors.New("input directory does not exist")
	ErrInputNotDir      = errors.New("input path is not a directory")
)

// Classifier produces a verdict for one candidate. matcher.Engine is the
// default implementation.
type Classifier interface {
	Classify(ctx context.Context, candidatePath string) types.MatchResult
}

// ProgressFunc is called once per finished candidate from a single goroutine.
type ProgressFunc func(done, total int, outcome types.ClassificationOutcome)

// RunOptions defines the options for a classification run
type RunOptions struct {
	InputDir     string
	TemplateRoot string
	ResultRoot   string
	Threshold    float64
	Workers      int
	Collision    string // router.CollisionOverwrite or router.CollisionSuffix
	RootFiles    string // reference.RootFilesSkip or reference.RootFilesStem
	Centroid     bool   // classify against per-label majority hashes
	// ImageTimeout bounds the wait for one candidate. A decode already in
	// progress is not interrupted; it finishes and the outcome is abandoned.
	ImageTimeout time.Duration
	Hasher       reference.Hasher
	Progress     ProgressFunc

	// NewClassifier overrides the matcher; nil uses matcher.Engine.
	NewClassifier func(idx *reference.Index, hasher reference.Hasher, threshold float64) Classifier
}

// BatchReport is everything a run produced
type BatchReport struct {
	RunID      string
	Index      *reference.Index
	Candidates int
	Outcomes   []types.ClassificationOutcome
	StartedAt  time.Time
	Elapsed    time.Duration
}

// Stats summarises the outcomes held in memory
func (r *BatchReport) Stats() types.RunStats {
	stats := types.RunStats{RunID: r.RunID, PerLabel: make(map[string]int)}
	for _, o := range r.Outcomes {
		stats.Total++
		stats.PerLabel[o.Label]++
		if o.Succeeded {
			stats.Succeeded++
			continue
		}
		stats.Failed++
		stats.FailedPaths = append(stats.FailedPaths, types.FailedPath{Path: o.CandidatePath, Reason: o.ErrorReason})
	}
	stats.Unmatched = stats.PerLabel[types.UnmatchedLabel]
	return stats
}
