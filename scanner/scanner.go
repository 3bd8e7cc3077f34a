package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"imagesorter/logging"
	"imagesorter/matcher"
	"imagesorter/reference"
	"imagesorter/router"
	"imagesorter/types"

	"github.com/google/uuid"
)

// Run classifies every accepted image directly inside opts.InputDir and
// copies it under opts.ResultRoot. Only a missing input directory (or a run
// cancelled before work starts) is returned as an error; each candidate
// otherwise yields exactly one outcome, whatever happens to the others.
func Run(ctx context.Context, opts RunOptions) (*BatchReport, error) {
	if err := checkInputDir(opts.InputDir); err != nil {
		return nil, err
	}
	if opts.Hasher == nil {
		return nil, errors.New("run options: hasher is required")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	report := &BatchReport{RunID: uuid.New().String(), StartedAt: time.Now()}

	// The index is complete before any worker starts and read-only afterwards.
	idx, err := reference.Build(ctx, opts.TemplateRoot, opts.Hasher, reference.Options{
		RootFiles: opts.RootFiles,
		Workers:   opts.Workers,
		Exclude:   opts.ResultRoot,
	})
	if err != nil {
		return nil, err
	}
	report.Index = idx

	if err := CreateSkeleton(opts.TemplateRoot, opts.ResultRoot, idx.Labels()); err != nil {
		logging.LogWarning("output skeleton incomplete, directories will be created on demand", "error", err)
	}

	candidates, err := ListCandidates(opts.InputDir)
	if err != nil {
		return nil, err
	}
	report.Candidates = len(candidates)

	classifier := newClassifier(idx, opts)

	logging.LogInfo("classifying", "run", report.RunID, "candidates", len(candidates),
		"references", idx.Len(), "workers", opts.Workers, "threshold", opts.Threshold)

	report.Outcomes = dispatch(ctx, candidates, classifier, opts)
	report.Elapsed = time.Since(report.StartedAt)
	return report, nil
}

func checkInputDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrInputDirNotFound, dir)
		}
		return fmt.Errorf("cannot access input directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrInputNotDir, dir)
	}
	return nil
}

func newClassifier(idx *reference.Index, opts RunOptions) Classifier {
	if opts.Centroid {
		idx = matcher.Centroids(idx)
	}
	if opts.NewClassifier != nil {
		return opts.NewClassifier(idx, opts.Hasher, opts.Threshold)
	}
	return &matcher.Engine{Hasher: opts.Hasher, Index: idx, Threshold: opts.Threshold}
}

// dispatch fans candidates out over a bounded pool and collects one outcome
// per candidate.
func dispatch(ctx context.Context, candidates []string, classifier Classifier, opts RunOptions) []types.ClassificationOutcome {
	var wg sync.WaitGroup
	resultsChan := make(chan types.ClassificationOutcome, opts.Workers)
	semaphore := make(chan struct{}, opts.Workers)

	outcomes := make([]types.ClassificationOutcome, 0, len(candidates))
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for outcome := range resultsChan {
			outcomes = append(outcomes, outcome)
			logging.LogImageProcessed(outcome.CandidatePath, outcome.Succeeded, outcome.ErrorReason)
			if opts.Progress != nil {
				opts.Progress(len(outcomes), len(candidates), outcome)
			}
		}
	}()

	for _, path := range candidates {
		select {
		case <-ctx.Done():
			resultsChan <- abandoned(path, ctx.Err())
			continue
		case semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			defer func() { <-semaphore }()
			resultsChan <- processCandidate(ctx, classifier, p, opts)
		}(path)
	}

	wg.Wait()
	close(resultsChan)
	<-collected
	return outcomes
}

// processCandidate classifies and routes one image. Panics and errors stay
// inside the returned outcome.
func processCandidate(ctx context.Context, classifier Classifier, path string, opts RunOptions) (outcome types.ClassificationOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logging.LogWarning("panic while processing image", "path", path, "stage", "panic",
				"error", r, "stack", string(debug.Stack()))
			outcome = types.ClassificationOutcome{
				CandidatePath: path,
				Label:         types.UnmatchedLabel,
				ErrorReason:   fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	if opts.ImageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ImageTimeout)
		defer cancel()
	}

	result := classifier.Classify(ctx, path)
	if result.Err != nil && isContextErr(result.Err) {
		return abandoned(path, result.Err)
	}
	if err := ctx.Err(); err != nil {
		return abandoned(path, err)
	}
	if result.Err != nil {
		logging.LogWarning("candidate could not be hashed, routing to unmatched",
			"path", path, "stage", "hash", "error", result.Err)
	}

	outcome = router.Route(path, result, opts.ResultRoot, opts.Collision)
	if !outcome.Succeeded && result.Err == nil {
		logging.LogWarning("candidate could not be placed", "path", path, "stage", "route",
			"error", outcome.ErrorReason)
	}
	return outcome
}

// abandoned is the outcome of a candidate that was cancelled or timed out
// before it was copied.
func abandoned(path string, err error) types.ClassificationOutcome {
	return types.ClassificationOutcome{
		CandidatePath: path,
		Label:         types.UnmatchedLabel,
		Score:         types.NoScore,
		ErrorReason:   err.Error(),
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

