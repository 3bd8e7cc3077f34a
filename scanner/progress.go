package scanner

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"imagesorter/logging"
	"imagesorter/types"

	"github.com/fatih/color"
)

// ProgressTracker redraws a single progress line while a run is in flight.
// Update matches ProgressFunc and may be passed as RunOptions.Progress.
type ProgressTracker struct {
	w      io.Writer
	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	processed int
	total     int
	unmatched int
	errors    int
}

// NewProgressTracker starts redrawing every interval until Stop is called
func NewProgressTracker(w io.Writer, total int, interval time.Duration) *ProgressTracker {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	p := &ProgressTracker{
		w:      w,
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
		total:  total,
	}

	p.wg.Add(1)
	go p.displayProgress()
	return p
}

func (p *ProgressTracker) displayProgress() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			p.draw()
		}
	}
}

func (p *ProgressTracker) draw() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "\rProgress: %d/%d (Unmatched: %d, Errors: %d)",
		p.processed, p.total, p.unmatched, p.errors)
}

// Update records one finished candidate
func (p *ProgressTracker) Update(done, total int, outcome types.ClassificationOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processed = done
	p.total = total
	if outcome.Label == types.UnmatchedLabel {
		p.unmatched++
	}
	if !outcome.Succeeded {
		p.errors++
	}
}

// Counts returns processed, unmatched and error counters
func (p *ProgressTracker) Counts() (processed, unmatched, errors int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed, p.unmatched, p.errors
}

// Stop ends the redraw loop and prints the final line
func (p *ProgressTracker) Stop() {
	p.ticker.Stop()
	close(p.done)
	p.wg.Wait()
	p.draw()
	fmt.Fprintln(p.w)
}

// PrintStartupInfo displays information about the run before it starts
func PrintStartupInfo(w io.Writer, opts RunOptions) {
	fmt.Fprintf(w, "Classifying images in %s\n", opts.InputDir)
	fmt.Fprintf(w, "Templates: %s\n", opts.TemplateRoot)
	fmt.Fprintf(w, "Results:   %s\n", opts.ResultRoot)
	fmt.Fprintf(w, "Threshold: %.2f, workers: %d\n", opts.Threshold, opts.Workers)
	if opts.Centroid {
		fmt.Fprintf(w, "Strategy: centroid\n")
	}
	logging.DebugLog("run options", "collision", opts.Collision, "root_files", opts.RootFiles,
		"image_timeout", opts.ImageTimeout)
}

// PrintCompletionStats displays per-label counts and failures after a run
func PrintCompletionStats(w io.Writer, stats types.RunStats, elapsed time.Duration) {
	fmt.Fprintln(w, "\nClassification complete.")
	fmt.Fprintf(w, "Processed %d images in %v.\n", stats.Total, elapsed.Round(time.Millisecond))

	labels := make([]string, 0, len(stats.PerLabel))
	for label := range stats.PerLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		name := color.GreenString(label)
		if label == types.UnmatchedLabel {
			name = color.YellowString(label)
		}
		fmt.Fprintf(w, "  %-24s %d\n", name, stats.PerLabel[label])
	}

	if stats.Failed > 0 {
		fmt.Fprintln(w, color.RedString("Encountered %d failures:", stats.Failed))
		for _, f := range stats.FailedPaths {
			fmt.Fprintf(w, "  %s: %s\n", f.Path, f.Reason)
		}
		fmt.Fprintln(w, "Check the log file for details.")
	}
}
