package standalone

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/ssrpack/internal/testutil"
)

type countingRecorder struct {
	mu                  sync.Mutex
	copied, links, dups int
	bytes               int64
	durations           int
}

func (r *countingRecorder) FileCopied(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.copied++
	r.bytes += n
}

func (r *countingRecorder) SymlinkCreated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links++
}

func (r *countingRecorder) Deduplicated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dups++
}

func (r *countingRecorder) ObserveMaterialize(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations++
}

// monorepo lays out a pnpm workspace with the app nested at packages/app
func monorepo(t *testing.T) (string, PathContext) {
	t.Helper()
	ws := testutil.TempDir(t)
	store := "node_modules/.pnpm/pkg@1.0.0/node_modules/pkg"
	testutil.WriteFile(t, filepath.Join(ws, "pnpm-workspace.yaml"), "packages:\n  - packages/*\n")
	testutil.WriteFile(t, filepath.Join(ws, store, "index.js"), "module.exports = 1;")
	testutil.WriteFile(t, filepath.Join(ws, store, "package.json"), `{"name":"pkg"}`)
	testutil.WriteFile(t, filepath.Join(ws, "packages/app/lib/helper.js"), "export const helper = 1;")
	testutil.WriteFile(t, filepath.Join(ws, "packages/app/dist/server/index.mjs"), "export {};")
	testutil.Symlink(t, "../../../"+store, filepath.Join(ws, "packages/app/node_modules/pkg"))

	paths, err := NewPathContext(filepath.Join(ws, "packages/app"), "dist/server", ws)
	require.NoError(t, err)
	return ws, paths
}

var monorepoClosure = []string{
	"node_modules/.pnpm/pkg@1.0.0/node_modules/pkg/index.js",
	"node_modules/.pnpm/pkg@1.0.0/node_modules/pkg/package.json",
	"packages/app/lib/helper.js",
	"packages/app/node_modules/pkg",
}

func TestMaterialize_Monorepo(t *testing.T) {
	_, paths := monorepo(t)
	rec := &countingRecorder{}

	m := NewMaterializer(afero.NewOsFs(), paths, WithRecorder(rec))
	stats, err := m.Materialize(context.Background(), monorepoClosure)
	require.NoError(t, err)

	assert.Equal(t, Stats{Files: 4, Copied: 3, Symlinks: 1, Bytes: stats.Bytes}, stats)
	assert.Equal(t, 3, rec.copied)
	assert.Equal(t, 1, rec.links)
	assert.Equal(t, 1, rec.durations)

	out := paths.OutDirAbs
	tree := testutil.Tree(t, out)
	assert.Equal(t, "export const helper = 1;", tree["lib/helper.js"])
	assert.Equal(t, "link:../node_modules/.pnpm/pkg@1.0.0/node_modules/pkg", tree["node_modules/pkg"])
	assert.Equal(t, "module.exports = 1;", tree["node_modules/.pnpm/pkg@1.0.0/node_modules/pkg/index.js"])

	// The relocated link resolves inside the output directory
	data, err := os.ReadFile(filepath.Join(out, "node_modules/pkg/index.js"))
	require.NoError(t, err)
	assert.Equal(t, "module.exports = 1;", string(data))
}

func TestMaterialize_Twice(t *testing.T) {
	_, paths := monorepo(t)
	m := NewMaterializer(afero.NewOsFs(), paths)

	_, err := m.Materialize(context.Background(), monorepoClosure)
	require.NoError(t, err)
	first := testutil.Tree(t, paths.OutDirAbs)

	_, err = m.Materialize(context.Background(), monorepoClosure)
	require.NoError(t, err)
	assert.Equal(t, first, testutil.Tree(t, paths.OutDirAbs))
}

func TestMaterialize_Duplicates(t *testing.T) {
	_, paths := monorepo(t)
	rec := &countingRecorder{}
	files := append(append([]string{}, monorepoClosure...), monorepoClosure...)

	stats, err := NewMaterializer(afero.NewOsFs(), paths, WithRecorder(rec), WithConcurrency(2)).
		Materialize(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, 8, stats.Files)
	assert.Equal(t, 4, stats.Deduplicated)
	assert.Equal(t, 3, stats.Copied)
	assert.Equal(t, 1, stats.Symlinks)
	assert.Equal(t, 4, rec.dups)
}

func TestMaterialize_ExistingLink(t *testing.T) {
	_, paths := monorepo(t)
	dest := filepath.Join(paths.OutDirAbs, "node_modules/pkg")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, os.Symlink("../node_modules/.pnpm/pkg@1.0.0/node_modules/pkg", dest))

	stats, err := NewMaterializer(afero.NewOsFs(), paths).
		Materialize(context.Background(), []string{"packages/app/node_modules/pkg"})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Symlinks)
}

func TestMaterialize_SingleProject(t *testing.T) {
	ws := testutil.TempDir(t)
	testutil.WriteFile(t, filepath.Join(ws, "lib/helper.js"), "helper")
	testutil.WriteFile(t, filepath.Join(ws, "node_modules/pkg/index.js"), "pkg")

	paths, err := NewPathContext(ws, "dist/server", ws)
	require.NoError(t, err)

	_, err = NewMaterializer(afero.NewOsFs(), paths).
		Materialize(context.Background(), []string{"lib/helper.js", "node_modules/pkg/index.js"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"lib/helper.js":             "helper",
		"node_modules/pkg/index.js": "pkg",
	}, testutil.Tree(t, paths.OutDirAbs))
}

func TestMaterialize_PreservesMode(t *testing.T) {
	ws := testutil.TempDir(t)
	bin := filepath.Join(ws, "node_modules/tool/bin.js")
	testutil.WriteFile(t, bin, "#!/usr/bin/env node")
	require.NoError(t, os.Chmod(bin, 0o755))

	paths, err := NewPathContext(ws, "dist", ws)
	require.NoError(t, err)

	_, err = NewMaterializer(afero.NewOsFs(), paths).
		Materialize(context.Background(), []string{"node_modules/tool/bin.js"})
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(paths.OutDirAbs, "node_modules/tool/bin.js"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestMaterialize_MissingSource(t *testing.T) {
	ws := testutil.TempDir(t)
	paths, err := NewPathContext(ws, "dist", ws)
	require.NoError(t, err)

	_, err = NewMaterializer(afero.NewOsFs(), paths).
		Materialize(context.Background(), []string{"does/not/exist.js"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to copy does/not/exist.js")
}

func TestMaterialize_UnadjustableLink(t *testing.T) {
	ws, paths := monorepo(t)
	require.NoError(t, os.Symlink("sibling", filepath.Join(ws, "packages/app/node_modules/bad")))

	_, err := NewMaterializer(afero.NewOsFs(), paths).
		Materialize(context.Background(), []string{"packages/app/node_modules/bad"})
	assert.ErrorIs(t, err, ErrSymlinkTarget)
}

func TestMaterialize_Canceled(t *testing.T) {
	_, paths := monorepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMaterializer(afero.NewOsFs(), paths).Materialize(ctx, monorepoClosure)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMaterialize_MemFs(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/ws/lib/a.js", []byte("a"), 0o644))

	paths, err := NewPathContext("/ws", "dist", "/ws")
	require.NoError(t, err)

	stats, err := NewMaterializer(fs, paths).Materialize(context.Background(), []string{"lib/a.js"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Copied)
	assert.Equal(t, int64(1), stats.Bytes)

	data, err := afero.ReadFile(fs, "/ws/dist/lib/a.js")
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

// gaugeFs tracks how many destination files are being opened at once
type gaugeFs struct {
	afero.Fs
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (g *gaugeFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return g.Fs.OpenFile(name, flag, perm)
}

func TestMaterialize_ConcurrencyLimit(t *testing.T) {
	testCases := []struct {
		name     string
		opts     []MaterializerOption
		expected int
	}{
		{name: "default", expected: DefaultConcurrency},
		{name: "one", opts: []MaterializerOption{WithConcurrency(1)}, expected: 1},
		{name: "three", opts: []MaterializerOption{WithConcurrency(3)}, expected: 3},
		{name: "ignores zero", opts: []MaterializerOption{WithConcurrency(0)}, expected: DefaultConcurrency},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mem := afero.NewMemMapFs()
			files := make([]string, 0, 4*DefaultConcurrency)
			for i := 0; i < cap(files); i++ {
				file := fmt.Sprintf("lib/f%02d.js", i)
				require.NoError(t, afero.WriteFile(mem, "/ws/"+file, []byte("x"), 0o644))
				files = append(files, file)
			}
			fs := &gaugeFs{Fs: mem}

			paths, err := NewPathContext("/ws", "dist", "/ws")
			require.NoError(t, err)

			stats, err := NewMaterializer(fs, paths, tc.opts...).Materialize(context.Background(), files)
			require.NoError(t, err)
			assert.Equal(t, len(files), stats.Copied)

			peak := int(fs.peak.Load())
			assert.LessOrEqual(t, peak, tc.expected)
			assert.GreaterOrEqual(t, peak, 1)
			assert.Zero(t, fs.inFlight.Load())
		})
	}
}
