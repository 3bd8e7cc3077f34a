// Package router copies a classified candidate into its result bucket.
package router

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"imagesorter/types"
)

// Collision policies
const (
	CollisionOverwrite = "overwrite"
	CollisionSuffix    = "suffix"
)

const maxSuffix = 10000

// Route copies candidatePath to resultRoot/<label>/<filename>, where label is
// the verdict's label or "unmatched". The destination directory is created
// when absent. The original file is never modified. Every failure is folded
// into the returned outcome.
func Route(candidatePath string, result types.MatchResult, resultRoot string, policy string) types.ClassificationOutcome {
	label := types.UnmatchedLabel
	if result.Matched() {
		label = result.BestLabel
	}

	outcome := types.ClassificationOutcome{
		CandidatePath: candidatePath,
		Label:         label,
		Score:         result.BestScore,
	}

	dir := filepath.Join(resultRoot, label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		outcome.ErrorReason = fmt.Sprintf("create destination directory: %v", err)
		return outcome
	}

	dest, err := copyInto(candidatePath, dir, policy)
	outcome.DestinationPath = dest
	if err != nil {
		outcome.ErrorReason = fmt.Sprintf("copy: %v", err)
		return outcome
	}

	// The candidate was placed in unmatched because it could not be hashed.
	if result.Err != nil {
		outcome.ErrorReason = result.Err.Error()
		return outcome
	}

	outcome.Succeeded = true
	return outcome
}

func copyInto(src, dir, policy string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", err
	}

	name := filepath.Base(src)
	if policy == CollisionSuffix {
		return copyExclusive(in, info.Mode().Perm(), dir, name)
	}
	dest := filepath.Join(dir, name)
	return dest, copyReplace(in, info.Mode().Perm(), dest)
}

// copyReplace writes through a temp file and renames it over dest, so a
// reader never sees a half-written destination.
func copyReplace(in io.Reader, perm os.FileMode, dest string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".imagesorter-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// copyExclusive claims the first free name among name, stem_1.ext, stem_2.ext...
func copyExclusive(in io.Reader, perm os.FileMode, dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for n := 0; n < maxSuffix; n++ {
		candidate := name
		if n > 0 {
			candidate = stem + "_" + strconv.Itoa(n) + ext
		}
		dest := filepath.Join(dir, candidate)

		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return dest, err
		}

		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			os.Remove(dest)
			return dest, err
		}
		return dest, out.Close()
	}
	return "", fmt.Errorf("no free name for %s in %s after %d attempts", name, dir, maxSuffix)
}

// SimilarityName renders "<stem>_similarity_<score><ext>" for search exports
func SimilarityName(path string, score float64) string {
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_similarity_%.2f%s", strings.TrimSuffix(name, ext), score, ext)
}

// CopyAs copies src to dir/name, replacing any existing file
func CopyAs(src, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name)
	return dest, copyReplace(in, info.Mode().Perm(), dest)
}
