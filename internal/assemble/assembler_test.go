// SPDX-License-Identifier: MIT

package assemble

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fitstream/fitstream/internal/media/encode"
	"github.com/fitstream/fitstream/internal/media/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptRunner records encoder invocations and writes stub outputs. Start
// delegates to a real shell so streaming paths exercise actual processes.
type scriptRunner struct {
	mu   sync.Mutex
	ops  []string
	args [][]string

	failOps      map[string]bool // ops that always fail
	failCopyOnce bool            // fail the next stream-copy merge

	streamScript string // shell executed for Start
	sh           *encode.Exec
}

func newScriptRunner() *scriptRunner {
	return &scriptRunner{
		failOps:      map[string]bool{},
		streamScript: "printf 'streamed workout bytes'",
		sh:           encode.NewExec("sh", time.Minute),
	}
}

func (r *scriptRunner) Run(_ context.Context, op string, args []string) error {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.args = append(r.args, args)
	failCopy := r.failCopyOnce && op == "merge" && slices.Contains(args, "copy")
	if failCopy {
		r.failCopyOnce = false
	}
	fail := r.failOps[op]
	r.mu.Unlock()

	if fail || failCopy {
		return &encode.Error{Op: op, ExitCode: 1, Stderr: []string{"scripted failure"}}
	}
	return os.WriteFile(args[len(args)-1], []byte("stub "+op), 0o600)
}

func (r *scriptRunner) Start(ctx context.Context, op string, _ []string) (*encode.Process, error) {
	return r.sh.Start(ctx, op, []string{"-c", r.streamScript})
}

func (r *scriptRunner) opCount(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.ops {
		if o == op {
			n++
		}
	}
	return n
}

// mapProber serves formats per path, defaulting to the target format.
type mapProber struct {
	formats map[string]probe.Format
	errs    map[string]error
}

func newMapProber() *mapProber {
	return &mapProber{formats: map[string]probe.Format{}, errs: map[string]error{}}
}

func (p *mapProber) Probe(_ context.Context, path string) (probe.Format, error) {
	if err := p.errs[path]; err != nil {
		return probe.Format{}, err
	}
	if f, ok := p.formats[path]; ok {
		return f, nil
	}
	return encode.Target(), nil
}

func stubClips(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(paths[i], []byte("clip"), 0o600))
	}
	return paths
}

func TestProgressiveBuildSingleClipCopiesBytes(t *testing.T) {
	runner := newScriptRunner()
	a := NewProgressive(runner, newMapProber())

	dir := t.TempDir()
	clips := stubClips(t, dir, "only.mp4")
	out := filepath.Join(dir, "final.mp4")

	require.NoError(t, a.Build(context.Background(), clips, out))

	// A lone target-format clip never touches the encoder.
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "clip", string(data))
	assert.Empty(t, runner.ops)
}

func TestProgressiveBuildSingleClipOffTargetNormalizes(t *testing.T) {
	runner := newScriptRunner()
	prober := newMapProber()
	a := NewProgressive(runner, prober)

	dir := t.TempDir()
	clips := stubClips(t, dir, "only.mp4")
	prober.formats[clips[0]] = probe.Format{Codec: "hevc", Width: 1920, Height: 1080, FPS: 25}
	out := filepath.Join(dir, "final.mp4")

	require.NoError(t, a.Build(context.Background(), clips, out))
	assert.FileExists(t, out)
	assert.Equal(t, 1, runner.opCount("normalize"))
	assert.Zero(t, runner.opCount("merge"))
}

func TestProgressiveBuildPairwise(t *testing.T) {
	runner := newScriptRunner()
	a := NewProgressive(runner, newMapProber())

	dir := t.TempDir()
	clips := stubClips(t, dir, "a.mp4", "b.mp4", "c.mp4", "d.mp4")
	out := filepath.Join(dir, "final.mp4")

	require.NoError(t, a.Build(context.Background(), clips, out))
	assert.FileExists(t, out)
	assert.Equal(t, 3, runner.opCount("merge"), "n clips need n-1 pairwise merges")

	// Superseded accumulators and list files are gone.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), ".acc_"), "leftover accumulator %s", entry.Name())
		assert.False(t, strings.HasPrefix(entry.Name(), ".merge_"), "leftover concat list %s", entry.Name())
		assert.False(t, strings.HasPrefix(entry.Name(), ".norm_"), "leftover normalization %s", entry.Name())
	}
}

func TestProgressiveNormalizesBeforeReencodeMerge(t *testing.T) {
	runner := newScriptRunner()
	prober := newMapProber()
	a := NewProgressive(runner, prober)

	dir := t.TempDir()
	clips := stubClips(t, dir, "a.mp4", "b.mp4")
	prober.formats[clips[1]] = probe.Format{Codec: "hevc", Width: 1920, Height: 1080, FPS: 25}
	out := filepath.Join(dir, "final.mp4")

	require.NoError(t, a.Build(context.Background(), clips, out))

	// The concat demuxer needs homogeneous inputs, so the off-target clip
	// is brought to target format before the merge.
	assert.Equal(t, 1, runner.opCount("normalize"))
	assert.Equal(t, 1, runner.opCount("merge"))

	runner.mu.Lock()
	normIdx := slices.Index(runner.ops, "normalize")
	mergeIdx := slices.Index(runner.ops, "merge")
	normOut := runner.args[normIdx][len(runner.args[normIdx])-1]
	mergeArgs := runner.args[mergeIdx]
	runner.mu.Unlock()

	assert.Less(t, normIdx, mergeIdx)
	assert.True(t, strings.HasPrefix(filepath.Base(normOut), ".norm_"))
	assert.NotContains(t, mergeArgs, "copy")

	// The temp normalization is cleaned up with the merge.
	assert.NoFileExists(t, normOut)
}

func TestProgressiveStreamCopyFallsBackToReencode(t *testing.T) {
	runner := newScriptRunner()
	runner.failCopyOnce = true
	a := NewProgressive(runner, newMapProber())

	dir := t.TempDir()
	clips := stubClips(t, dir, "a.mp4", "b.mp4")
	out := filepath.Join(dir, "final.mp4")

	require.NoError(t, a.Build(context.Background(), clips, out))
	assert.FileExists(t, out)
	assert.Equal(t, 2, runner.opCount("merge"), "copy attempt plus re-encode retry")
}

func TestProgressiveReencodesUnknownFormats(t *testing.T) {
	runner := newScriptRunner()
	prober := newMapProber()
	a := NewProgressive(runner, prober)

	dir := t.TempDir()
	clips := stubClips(t, dir, "a.mp4", "b.mp4")
	prober.errs[clips[0]] = probe.ErrFailed
	out := filepath.Join(dir, "final.mp4")

	require.NoError(t, a.Build(context.Background(), clips, out))

	assert.Equal(t, 1, runner.opCount("normalize"), "unprobeable input is brought to target format first")
	runner.mu.Lock()
	defer runner.mu.Unlock()
	for _, args := range runner.args {
		assert.NotContains(t, args, "copy", "unprobeable input must be re-encoded")
	}
}

func TestProgressiveBuildEmpty(t *testing.T) {
	a := NewProgressive(newScriptRunner(), newMapProber())
	assert.Error(t, a.Build(context.Background(), nil, filepath.Join(t.TempDir(), "out.mp4")))
}

func TestSequentialBuild(t *testing.T) {
	runner := newScriptRunner()
	a := NewSequential(runner)

	dir := t.TempDir()
	clips := stubClips(t, dir, "a.mp4", "b.mp4", "c.mp4")
	out := filepath.Join(dir, "final.mp4")

	require.NoError(t, a.Build(context.Background(), clips, out))
	assert.FileExists(t, out)
	assert.Equal(t, 1, runner.opCount("merge"), "sequential assembly is a single pass")

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.NotContains(t, runner.args[0], "copy")
}

func TestSequentialBuildSurfacesError(t *testing.T) {
	runner := newScriptRunner()
	runner.failOps["merge"] = true
	a := NewSequential(runner)

	dir := t.TempDir()
	clips := stubClips(t, dir, "a.mp4")
	err := a.Build(context.Background(), clips, filepath.Join(dir, "final.mp4"))

	var encErr *encode.Error
	assert.True(t, errors.As(err, &encErr))
}
