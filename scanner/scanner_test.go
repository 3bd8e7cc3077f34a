package scanner

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"imagesorter/imageprocessor"
	"imagesorter/reference"
	"imagesorter/router"
	"imagesorter/types"

	"github.com/corona10/goimagehash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stripes draws vertical bands of width n; noise flips that many pixels in
// the first row.
func stripes(n, noise int) image.Image {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if (x/n)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	for i := 0; i < noise; i++ {
		img.SetGray(i, 0, color.Gray{Y: 128})
	}
	return img
}

func checker(n int) image.Image {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if (x/n+y/n)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func copyFile(t *testing.T, src, dst string) string {
	t.Helper()
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(dst, data, 0o644))
	return dst
}

type fixture struct {
	templates string
	input     string
	results   string
}

// newFixture builds label A (three near-identical stripe images) and label B
// (three distinct checkerboards).
func newFixture(t *testing.T) fixture {
	t.Helper()
	base := t.TempDir()
	f := fixture{
		templates: filepath.Join(base, "templates"),
		input:     filepath.Join(base, "input"),
		results:   filepath.Join(base, "results"),
	}
	writePNG(t, filepath.Join(f.templates, "A", "a1.png"), stripes(4, 0))
	writePNG(t, filepath.Join(f.templates, "A", "a2.png"), stripes(4, 1))
	writePNG(t, filepath.Join(f.templates, "A", "nested", "a3.png"), stripes(4, 2))
	writePNG(t, filepath.Join(f.templates, "B", "b1.png"), checker(2))
	writePNG(t, filepath.Join(f.templates, "B", "b2.png"), checker(8))
	writePNG(t, filepath.Join(f.templates, "B", "b3.png"), checker(16))
	require.NoError(t, os.MkdirAll(f.input, 0o755))
	return f
}

func hasher(t *testing.T) *imageprocessor.HashProvider {
	t.Helper()
	p, err := imageprocessor.NewHashProvider(nil, imageprocessor.HashAverage, 8)
	require.NoError(t, err)
	return p
}

func (f fixture) options(t *testing.T, threshold float64) RunOptions {
	return RunOptions{
		InputDir:     f.input,
		TemplateRoot: f.templates,
		ResultRoot:   f.results,
		Threshold:    threshold,
		Workers:      3,
		Collision:    router.CollisionOverwrite,
		RootFiles:    reference.RootFilesSkip,
		Hasher:       hasher(t),
	}
}

func byCandidate(report *BatchReport) map[string]types.ClassificationOutcome {
	out := make(map[string]types.ClassificationOutcome, len(report.Outcomes))
	for _, o := range report.Outcomes {
		out[filepath.Base(o.CandidatePath)] = o
	}
	return out
}

func TestRunMatchesIdenticalCandidate(t *testing.T) {
	f := newFixture(t)
	copyFile(t, filepath.Join(f.templates, "A", "a1.png"), filepath.Join(f.input, "query.png"))

	report, err := Run(context.Background(), f.options(t, 0.5))
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)

	o := report.Outcomes[0]
	assert.True(t, o.Succeeded, o.ErrorReason)
	assert.Equal(t, "A", o.Label)
	assert.GreaterOrEqual(t, o.Score, 0.5)
	assert.Equal(t, filepath.Join(f.results, "A", "query.png"), o.DestinationPath)
	assert.FileExists(t, o.DestinationPath)
	assert.FileExists(t, filepath.Join(f.input, "query.png"), "candidate is copied, not moved")
}

// hashWithOnes returns a 320-bit hash with the first n bits set.
func hashWithOnes(n int) *goimagehash.ExtImageHash {
	words := make([]uint64, 5)
	for i := 0; i < n; i++ {
		words[i/64] |= 1 << uint(i%64)
	}
	return goimagehash.NewExtImageHash(words, goimagehash.AHash, 320)
}

type fakeHasher struct {
	byName map[string]*goimagehash.ExtImageHash
}

func (f fakeHasher) HashImage(path string) (*goimagehash.ExtImageHash, error) {
	if h, ok := f.byName[filepath.Base(path)]; ok {
		return h, nil
	}
	return nil, os.ErrInvalid
}

func TestRunNearMissBelowThreshold(t *testing.T) {
	f := newFixture(t)
	writePNG(t, filepath.Join(f.input, "near.png"), stripes(4, 0))

	fake := fakeHasher{byName: map[string]*goimagehash.ExtImageHash{
		"a1.png": hashWithOnes(0), "a2.png": hashWithOnes(1), "a3.png": hashWithOnes(2),
		"b1.png": hashWithOnes(320), "b2.png": hashWithOnes(300), "b3.png": hashWithOnes(280),
		// Last word set: 64 bits away from a1, further from a2 and a3.
		"near.png": goimagehash.NewExtImageHash([]uint64{0, 0, 0, 0, ^uint64(0)}, goimagehash.AHash, 320),
	}}

	opts := f.options(t, 0.99)
	opts.Hasher = fake
	report, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)

	o := report.Outcomes[0]
	assert.True(t, o.Succeeded)
	assert.Equal(t, types.UnmatchedLabel, o.Label)
	assert.InDelta(t, 0.8, o.Score, 1e-12)
	assert.FileExists(t, filepath.Join(f.results, types.UnmatchedLabel, "near.png"))

	opts.Threshold = 0.7
	report, err = Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "A", report.Outcomes[0].Label)
}

func TestRunEmptyTemplateRoot(t *testing.T) {
	base := t.TempDir()
	input := filepath.Join(base, "input")
	writePNG(t, filepath.Join(input, "one.png"), stripes(2, 0))
	writePNG(t, filepath.Join(input, "two.png"), checker(4))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "templates"), 0o755))

	for _, root := range []string{filepath.Join(base, "templates"), filepath.Join(base, "missing")} {
		report, err := Run(context.Background(), RunOptions{
			InputDir:     input,
			TemplateRoot: root,
			ResultRoot:   filepath.Join(base, "results"),
			Threshold:    0,
			Workers:      2,
			Hasher:       hasher(t),
		})
		require.NoError(t, err)
		require.Len(t, report.Outcomes, 2)
		for _, o := range report.Outcomes {
			assert.Equal(t, types.UnmatchedLabel, o.Label)
			assert.Equal(t, types.NoScore, o.Score)
			assert.True(t, o.Succeeded)
		}
	}
	assert.FileExists(t, filepath.Join(base, "results", types.UnmatchedLabel, "one.png"))
}

func TestRunCorruptCandidateWithEmptyTemplateRoot(t *testing.T) {
	base := t.TempDir()
	input := filepath.Join(base, "input")
	require.NoError(t, os.MkdirAll(filepath.Join(base, "templates"), 0o755))
	require.NoError(t, os.MkdirAll(input, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(input, "broken.jpg"), []byte("not a jpeg"), 0o644))

	report, err := Run(context.Background(), RunOptions{
		InputDir:     input,
		TemplateRoot: filepath.Join(base, "templates"),
		ResultRoot:   filepath.Join(base, "results"),
		Threshold:    0.5,
		Workers:      1,
		Hasher:       hasher(t),
	})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)

	o := report.Outcomes[0]
	assert.False(t, o.Succeeded)
	assert.NotEmpty(t, o.ErrorReason)
	assert.Equal(t, 0.0, o.Score)
	assert.Equal(t, types.UnmatchedLabel, o.Label)
}

func TestRunCorruptCandidate(t *testing.T) {
	f := newFixture(t)
	copyFile(t, filepath.Join(f.templates, "A", "a1.png"), filepath.Join(f.input, "good-a.png"))
	copyFile(t, filepath.Join(f.templates, "B", "b2.png"), filepath.Join(f.input, "good-b.png"))
	require.NoError(t, os.WriteFile(filepath.Join(f.input, "broken.jpg"), []byte("definitely not a jpeg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.input, "readme.txt"), []byte("ignored"), 0o644))

	report, err := Run(context.Background(), f.options(t, 0.5))
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 3)

	got := byCandidate(report)
	assert.Equal(t, "A", got["good-a.png"].Label)
	assert.True(t, got["good-a.png"].Succeeded)
	assert.Equal(t, "B", got["good-b.png"].Label)
	assert.True(t, got["good-b.png"].Succeeded)

	broken := got["broken.jpg"]
	assert.False(t, broken.Succeeded)
	assert.Equal(t, types.UnmatchedLabel, broken.Label)
	assert.Equal(t, 0.0, broken.Score)
	assert.NotEmpty(t, broken.ErrorReason)

	stats := report.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
	require.Len(t, stats.FailedPaths, 1)
	assert.Equal(t, filepath.Join(f.input, "broken.jpg"), stats.FailedPaths[0].Path)
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	copyFile(t, filepath.Join(f.templates, "A", "a2.png"), filepath.Join(f.input, "x.png"))
	copyFile(t, filepath.Join(f.templates, "B", "b1.png"), filepath.Join(f.input, "y.png"))
	writePNG(t, filepath.Join(f.input, "z.png"), stripes(1, 0))

	labels := func() map[string]string {
		report, err := Run(context.Background(), f.options(t, 0.6))
		require.NoError(t, err)
		out := map[string]string{}
		for name, o := range byCandidate(report) {
			out[name] = o.Label
		}
		return out
	}

	first := labels()
	second := labels()
	assert.Equal(t, first, second)
	assert.Equal(t, "A", first["x.png"])
	assert.Equal(t, "B", first["y.png"])
}

func TestRunWithResultRootInsideTemplates(t *testing.T) {
	f := newFixture(t)
	copyFile(t, filepath.Join(f.templates, "A", "a2.png"), filepath.Join(f.input, "x.png"))
	copyFile(t, filepath.Join(f.templates, "B", "b1.png"), filepath.Join(f.input, "y.png"))

	opts := f.options(t, 0.6)
	opts.ResultRoot = filepath.Join(f.templates, "out")

	var reports []*BatchReport
	for i := 0; i < 2; i++ {
		report, err := Run(context.Background(), opts)
		require.NoError(t, err)
		reports = append(reports, report)
	}

	for _, report := range reports {
		assert.NotContains(t, report.Index.Labels(), "out")
		assert.Equal(t, 6, report.Index.Len())
		got := byCandidate(report)
		assert.Equal(t, "A", got["x.png"].Label)
		assert.Equal(t, "B", got["y.png"].Label)
	}
	assert.DirExists(t, filepath.Join(opts.ResultRoot, "A", "nested"))
	assert.NoDirExists(t, filepath.Join(opts.ResultRoot, "out"))
}

func TestRunIsolatesBrokenReferences(t *testing.T) {
	f := newFixture(t)
	copyFile(t, filepath.Join(f.templates, "A", "a1.png"), filepath.Join(f.input, "q.png"))
	require.NoError(t, os.WriteFile(filepath.Join(f.templates, "B", "b1.png"), []byte("corrupted"), 0o644))

	report, err := Run(context.Background(), f.options(t, 0.5))
	require.NoError(t, err)
	assert.Equal(t, "A", report.Outcomes[0].Label)
	assert.Len(t, report.Index.Dropped(), 1)
	assert.Equal(t, 5, report.Index.Len())
}

func TestRunCreatesSkeleton(t *testing.T) {
	f := newFixture(t)

	report, err := Run(context.Background(), f.options(t, 0.5))
	require.NoError(t, err)
	assert.Empty(t, report.Outcomes)

	for _, dir := range []string{"A", filepath.Join("A", "nested"), "B", types.UnmatchedLabel} {
		assert.DirExists(t, filepath.Join(f.results, dir))
	}
}

func TestRunMissingInputDir(t *testing.T) {
	f := newFixture(t)
	opts := f.options(t, 0.5)
	opts.InputDir = filepath.Join(t.TempDir(), "nope")

	_, err := Run(context.Background(), opts)
	assert.ErrorIs(t, err, ErrInputDirNotFound)

	file := writePNG(t, filepath.Join(t.TempDir(), "file.png"), checker(2))
	opts.InputDir = file
	_, err = Run(context.Background(), opts)
	assert.ErrorIs(t, err, ErrInputNotDir)
}

type classifierFunc func(ctx context.Context, path string) types.MatchResult

func (f classifierFunc) Classify(ctx context.Context, path string) types.MatchResult {
	return f(ctx, path)
}

func withClassifier(c Classifier) func(*reference.Index, reference.Hasher, float64) Classifier {
	return func(*reference.Index, reference.Hasher, float64) Classifier { return c }
}

func addCandidates(t *testing.T, f fixture, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		writePNG(t, filepath.Join(f.input, string(rune('a'+i))+".png"), stripes(i+1, 0))
	}
}

func TestRunCancellation(t *testing.T) {
	f := newFixture(t)
	addCandidates(t, f, 6)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := f.options(t, 0.5)
	opts.Workers = 1
	opts.NewClassifier = withClassifier(classifierFunc(func(ctx context.Context, path string) types.MatchResult {
		cancel()
		return types.MatchResult{CandidatePath: path, BestLabel: "A", BestScore: 1}
	}))

	report, err := Run(ctx, opts)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 6, "every candidate still gets an outcome")
	for _, o := range report.Outcomes {
		assert.False(t, o.Succeeded)
		assert.Equal(t, types.NoScore, o.Score)
		assert.Contains(t, o.ErrorReason, "canceled")
	}

	entries, err := os.ReadDir(filepath.Join(f.results, "A"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.True(t, e.IsDir(), "unexpected copy %s", e.Name())
	}
}

func TestRunImageTimeout(t *testing.T) {
	f := newFixture(t)
	addCandidates(t, f, 2)

	opts := f.options(t, 0.5)
	opts.ImageTimeout = 20 * time.Millisecond
	opts.NewClassifier = withClassifier(classifierFunc(func(ctx context.Context, path string) types.MatchResult {
		<-ctx.Done()
		return types.MatchResult{CandidatePath: path, BestLabel: types.UnmatchedLabel, Err: ctx.Err()}
	}))

	report, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)
	for _, o := range report.Outcomes {
		assert.False(t, o.Succeeded)
		assert.Contains(t, o.ErrorReason, "deadline exceeded")
	}
}

func TestRunRecoversPanics(t *testing.T) {
	f := newFixture(t)
	addCandidates(t, f, 3)

	opts := f.options(t, 0.5)
	opts.NewClassifier = withClassifier(classifierFunc(func(ctx context.Context, path string) types.MatchResult {
		if filepath.Base(path) == "b.png" {
			panic("decoder exploded")
		}
		return types.MatchResult{CandidatePath: path, BestLabel: "A", BestScore: 0.9}
	}))

	report, err := Run(context.Background(), opts)
	require.NoError(t, err)
	got := byCandidate(report)
	require.Len(t, got, 3)
	assert.Contains(t, got["b.png"].ErrorReason, "decoder exploded")
	assert.True(t, got["a.png"].Succeeded)
	assert.True(t, got["c.png"].Succeeded)
}

func TestRunReportsProgress(t *testing.T) {
	f := newFixture(t)
	addCandidates(t, f, 5)

	var calls int32
	var seen []int
	opts := f.options(t, 0.5)
	opts.Progress = func(done, total int, outcome types.ClassificationOutcome) {
		atomic.AddInt32(&calls, 1)
		seen = append(seen, done)
		assert.Equal(t, 5, total)
		assert.NotEmpty(t, outcome.CandidatePath)
	}

	_, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
	assert.True(t, sort.IntsAreSorted(seen))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seen)
}

func TestListCandidates(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.PNG"), checker(2))
	writePNG(t, filepath.Join(dir, "a.png"), checker(2))
	writePNG(t, filepath.Join(dir, "sub", "deep.png"), checker(2))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.gif"), nil, 0o644))

	got, err := ListCandidates(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.PNG")}, got)

	_, err = ListCandidates(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestCreateSkeletonIsIdempotent(t *testing.T) {
	templates := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(templates, "cats", "tabby"), 0o755))
	results := filepath.Join(t.TempDir(), "out")

	require.NoError(t, CreateSkeleton(templates, results, []string{"stemlabel"}))
	require.NoError(t, CreateSkeleton(templates, results, []string{"stemlabel"}))

	assert.DirExists(t, filepath.Join(results, "cats", "tabby"))
	assert.DirExists(t, filepath.Join(results, "stemlabel"))
	assert.DirExists(t, filepath.Join(results, types.UnmatchedLabel))

	require.NoError(t, CreateSkeleton(filepath.Join(templates, "absent"), results, nil))
}

func TestCreateSkeletonSkipsNestedResultRoot(t *testing.T) {
	templates := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(templates, "cats"), 0o755))
	results := filepath.Join(templates, "out")

	require.NoError(t, CreateSkeleton(templates, results, nil))
	require.NoError(t, CreateSkeleton(templates, results, nil))

	assert.DirExists(t, filepath.Join(results, "cats"))
	assert.DirExists(t, filepath.Join(results, types.UnmatchedLabel))
	assert.NoDirExists(t, filepath.Join(results, "out"))
}
