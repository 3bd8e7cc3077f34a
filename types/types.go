package types

import "github.com/corona10/goimagehash"

// UnmatchedLabel is the bucket for candidates that clear no template.
const UnmatchedLabel = "unmatched"

// NoScore marks a MatchResult for which no reference could be scored.
const NoScore = -1.0

// ReferenceEntry is one labeled template image
type ReferenceEntry struct {
	Path     string                    `json:"path"`
	TopLabel string                    `json:"top_label"`
	Hash     *goimagehash.ExtImageHash `json:"-"`
}

// MatchResult holds the verdict for a single candidate.
// BestReferencePath and BestScore are kept even when BestLabel is
// UnmatchedLabel so that near misses can be diagnosed.
type MatchResult struct {
	CandidatePath     string  `json:"candidate_path"`
	BestLabel         string  `json:"best_label"`
	BestScore         float64 `json:"best_score"`
	BestReferencePath string  `json:"best_reference_path,omitempty"`
	Err               error   `json:"-"`
}

// Matched reports whether the candidate was assigned to a template label.
// An empty label counts as unmatched.
func (m MatchResult) Matched() bool {
	return m.BestLabel != "" && m.BestLabel != UnmatchedLabel
}

// ClassificationOutcome is the terminal record for one candidate
type ClassificationOutcome struct {
	CandidatePath   string  `json:"candidate_path"`
	DestinationPath string  `json:"destination_path"`
	Label           string  `json:"label"`
	Score           float64 `json:"score"`
	Succeeded       bool    `json:"succeeded"`
	ErrorReason     string  `json:"error_reason,omitempty"`
}

// ReferenceMatch is one row of a ranked search over the reference set
type ReferenceMatch struct {
	Path     string
	TopLabel string
	Score    float64
	Distance int
}

// RunStats summarises a classification run.
type RunStats struct {
	RunID       string
	Total       int
	Succeeded   int
	Failed      int
	Unmatched   int
	PerLabel    map[string]int
	FailedPaths []FailedPath
}

// FailedPath pairs a candidate with the reason it failed.
type FailedPath struct {
	Path   string
	Reason string
}
