// Package reference builds the read-only set of labeled template images
// that candidates are compared against.
package reference

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"imagesorter/imageprocessor"
	"imagesorter/logging"
	"imagesorter/types"

	"github.com/corona10/goimagehash"
)

// Hasher computes the perceptual hash of an image file.
// Implementations must be safe for concurrent use.
type Hasher interface {
	HashImage(path string) (*goimagehash.ExtImageHash, error)
}

// Policies for image files placed directly in the template root.
const (
	RootFilesSkip = "skip"
	RootFilesStem = "stem"
)

// Options controls how the template root is indexed
type Options struct {
	RootFiles string // skip (default) or stem
	Workers   int    // parallel hashing; <1 means 1
	Exclude   string // directory left out of the walk, usually the result root
}

// Index is the immutable, path-sorted set of reference images.
// It is fully built before any worker reads it and never mutated after.
type Index struct {
	root    string
	entries []types.ReferenceEntry
	labels  []string
	dropped []types.FailedPath
}

// NewIndex assembles an index from already hashed entries. Entries are
// sorted by path so that tie-breaks are reproducible.
func NewIndex(root string, entries []types.ReferenceEntry, labels []string) *Index {
	sorted := append([]types.ReferenceEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	labelSet := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		labelSet[l] = struct{}{}
	}
	for _, e := range sorted {
		labelSet[e.TopLabel] = struct{}{}
	}
	uniq := make([]string, 0, len(labelSet))
	for l := range labelSet {
		uniq = append(uniq, l)
	}
	sort.Strings(uniq)

	return &Index{root: root, entries: sorted, labels: uniq}
}

// Root returns the template root the index was built from
func (i *Index) Root() string { return i.root }

// Entries returns the references in path order. Callers must not modify it.
func (i *Index) Entries() []types.ReferenceEntry { return i.entries }

// Len returns the number of usable references
func (i *Index) Len() int { return len(i.entries) }

// Labels returns every category name: each top-level directory under the
// root, plus stem labels when that policy is active.
func (i *Index) Labels() []string { return i.labels }

// Dropped lists reference files that could not be hashed
func (i *Index) Dropped() []types.FailedPath { return i.dropped }

type pendingEntry struct {
	path  string
	label string
}

// Build walks root recursively, hashes every accepted image and returns the
// index. A missing or empty root yields an empty index; unreadable images
// are dropped with a warning.
func Build(ctx context.Context, root string, hasher Hasher, opts Options) (*Index, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve template root %s: %w", root, err)
	}

	info, err := os.Stat(absRoot)
	if err != nil || !info.IsDir() {
		logging.LogWarning("template root is not a readable directory, no match is possible",
			"path", absRoot, "error", err)
		return NewIndex(absRoot, nil, nil), nil
	}

	var exclude string
	if opts.Exclude != "" {
		if exclude, err = filepath.Abs(opts.Exclude); err != nil {
			return nil, fmt.Errorf("resolve excluded directory %s: %w", opts.Exclude, err)
		}
	}

	pending, labels := collect(absRoot, exclude, opts.RootFiles)

	entries, dropped, err := hashAll(ctx, pending, hasher, opts.Workers)
	if err != nil {
		return nil, err
	}

	idx := NewIndex(absRoot, entries, labels)
	idx.dropped = dropped

	if _, ok := find(idx.labels, types.UnmatchedLabel); ok {
		logging.LogWarning("template label shares the unmatched bucket", "label", types.UnmatchedLabel)
	}
	logging.LogInfo("reference index built", "root", absRoot, "references", idx.Len(),
		"labels", len(idx.labels), "dropped", len(dropped))
	return idx, nil
}

// collect walks root for reference images. The exclude directory and
// everything under it are skipped, unless it is root itself.
func collect(root, exclude, rootFiles string) ([]pendingEntry, []string) {
	var pending []pendingEntry
	var labels []string

	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.LogWarning("cannot access template path", "path", path, "error", err)
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		parts := strings.Split(rel, string(filepath.Separator))

		if d.IsDir() {
			if path == exclude {
				logging.DebugLog("skipping excluded directory", "path", path)
				return filepath.SkipDir
			}
			if len(parts) == 1 {
				labels = append(labels, parts[0])
			}
			return nil
		}
		if !imageprocessor.IsImageFile(path) {
			return nil
		}

		if len(parts) == 1 {
			if rootFiles != RootFilesStem {
				logging.DebugLog("skipping image at template root", "path", path)
				return nil
			}
			stem := strings.TrimSuffix(parts[0], filepath.Ext(parts[0]))
			pending = append(pending, pendingEntry{path: path, label: stem})
			return nil
		}

		pending = append(pending, pendingEntry{path: path, label: parts[0]})
		return nil
	})

	return pending, labels
}

func hashAll(ctx context.Context, pending []pendingEntry, hasher Hasher, workers int) ([]types.ReferenceEntry, []types.FailedPath, error) {
	if workers < 1 {
		workers = 1
	}

	hashes := make([]*goimagehash.ExtImageHash, len(pending))
	errs := make([]error, len(pending))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, workers)

	for i, p := range pending {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		semaphore <- struct{}{}

		go func(i int, path string) {
			defer wg.Done()
			defer func() { <-semaphore }()
			hashes[i], errs[i] = hasher.HashImage(path)
		}(i, p.path)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("build reference index: %w", err)
	}

	entries := make([]types.ReferenceEntry, 0, len(pending))
	var dropped []types.FailedPath
	for i, p := range pending {
		if errs[i] != nil {
			logging.LogWarning("dropping unreadable reference image", "path", p.path, "error", errs[i])
			dropped = append(dropped, types.FailedPath{Path: p.path, Reason: errs[i].Error()})
			continue
		}
		entries = append(entries, types.ReferenceEntry{Path: p.path, TopLabel: p.label, Hash: hashes[i]})
	}
	return entries, dropped, nil
}

func find(list []string, s string) (int, bool) {
	i := sort.SearchStrings(list, s)
	return i, i < len(list) && list[i] == s
}
