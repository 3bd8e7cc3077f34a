package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"imagesorter/imageprocessor"
	"imagesorter/logging"
	"imagesorter/types"
)

// ListCandidates returns the accepted images directly inside dir, sorted.
// Subdirectories are not descended into.
func ListCandidates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list candidates in %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageprocessor.IsImageFile(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// CreateSkeleton mirrors every directory under templateRoot into resultRoot
// and adds the unmatched bucket plus any extra labels. Existing directories
// are fine, so a second run succeeds too. A resultRoot nested inside
// templateRoot is not mirrored into itself.
func CreateSkeleton(templateRoot, resultRoot string, extraLabels []string) error {
	absTemplate, err := filepath.Abs(templateRoot)
	if err != nil {
		return fmt.Errorf("resolve template root %s: %w", templateRoot, err)
	}
	absResult, err := filepath.Abs(resultRoot)
	if err != nil {
		return fmt.Errorf("resolve result root %s: %w", resultRoot, err)
	}

	if err := os.MkdirAll(filepath.Join(resultRoot, types.UnmatchedLabel), 0o755); err != nil {
		return fmt.Errorf("create unmatched directory: %w", err)
	}
	for _, label := range extraLabels {
		if err := os.MkdirAll(filepath.Join(resultRoot, label), 0o755); err != nil {
			return fmt.Errorf("create label directory %s: %w", label, err)
		}
	}

	if _, err := os.Stat(absTemplate); err != nil {
		return nil
	}

	return filepath.WalkDir(absTemplate, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.LogWarning("cannot mirror template path", "path", path, "error", err)
			if d != nil && d.IsDir() && path != absTemplate {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() || path == absTemplate {
			return nil
		}
		if path == absResult {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(absTemplate, path)
		if err != nil {
			return nil
		}
		if err := os.MkdirAll(filepath.Join(absResult, rel), 0o755); err != nil {
			return fmt.Errorf("mirror %s: %w", rel, err)
		}
		return nil
	})
}
