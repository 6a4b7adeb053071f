package tracer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/ssrpack/internal/testutil"
)

func TestResolveLinks_NoLinks(t *testing.T) {
	base := testutil.TempDir(t)
	testutil.WriteFile(t, filepath.Join(base, "lib/helper.js"), "x")

	real, links, err := resolveLinks(afero.NewOsFs(), base, "lib/helper.js")
	require.NoError(t, err)
	assert.Equal(t, "lib/helper.js", real)
	assert.Empty(t, links)
}

func TestResolveLinks_PnpmLayout(t *testing.T) {
	base := testutil.TempDir(t)
	testutil.WriteFile(t, filepath.Join(base, "node_modules/.pnpm/pkg@1.0.0/node_modules/pkg/index.js"), "x")
	require.NoError(t, os.Symlink(".pnpm/pkg@1.0.0/node_modules/pkg", filepath.Join(base, "node_modules/pkg")))

	real, links, err := resolveLinks(afero.NewOsFs(), base, "node_modules/pkg/index.js")
	require.NoError(t, err)
	assert.Equal(t, "node_modules/.pnpm/pkg@1.0.0/node_modules/pkg/index.js", real)
	assert.Equal(t, []string{"node_modules/pkg"}, links)
}

func TestResolveLinks_Chain(t *testing.T) {
	base := testutil.TempDir(t)
	testutil.WriteFile(t, filepath.Join(base, "store/real/index.js"), "x")
	require.NoError(t, os.Symlink("real", filepath.Join(base, "store/alias")))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "node_modules"), 0o755))
	require.NoError(t, os.Symlink("../store/alias", filepath.Join(base, "node_modules/pkg")))

	real, links, err := resolveLinks(afero.NewOsFs(), base, "node_modules/pkg/index.js")
	require.NoError(t, err)
	assert.Equal(t, "store/real/index.js", real)
	assert.Equal(t, []string{"node_modules/pkg", "store/alias"}, links)
}

func TestResolveLinks_AbsoluteTarget(t *testing.T) {
	base := testutil.TempDir(t)
	testutil.WriteFile(t, filepath.Join(base, "vendor/pkg/index.js"), "x")
	require.NoError(t, os.MkdirAll(filepath.Join(base, "node_modules"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(base, "vendor/pkg"), filepath.Join(base, "node_modules/pkg")))

	real, links, err := resolveLinks(afero.NewOsFs(), base, "node_modules/pkg/index.js")
	require.NoError(t, err)
	assert.Equal(t, "vendor/pkg/index.js", real)
	assert.Equal(t, []string{"node_modules/pkg"}, links)
}

func TestResolveLinks_OutsideBase(t *testing.T) {
	outside := testutil.TempDir(t)
	testutil.WriteFile(t, filepath.Join(outside, "pkg/index.js"), "x")

	base := testutil.TempDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(base, "node_modules"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(outside, "pkg"), filepath.Join(base, "node_modules/pkg")))

	_, links, err := resolveLinks(afero.NewOsFs(), base, "node_modules/pkg/index.js")
	assert.ErrorIs(t, err, errOutsideBase)
	assert.Equal(t, []string{"node_modules/pkg"}, links)
}

func TestResolveLinks_Loop(t *testing.T) {
	base := testutil.TempDir(t)
	require.NoError(t, os.Symlink("b", filepath.Join(base, "a")))
	require.NoError(t, os.Symlink("a", filepath.Join(base, "b")))

	_, _, err := resolveLinks(afero.NewOsFs(), base, "a/index.js")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many levels")
}

func TestResolveLinks_MemFsPassesThrough(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/w/lib/a.js", []byte("x"), 0o644))

	real, links, err := resolveLinks(fs, "/w", "lib/a.js")
	require.NoError(t, err)
	assert.Equal(t, "lib/a.js", real)
	assert.Empty(t, links)
}

func TestPackageRoot(t *testing.T) {
	tests := []struct {
		file     string
		expected string
		ok       bool
	}{
		{"node_modules/pkg/index.js", "node_modules/pkg", true},
		{"node_modules/@scope/pkg/lib/a.js", "node_modules/@scope/pkg", true},
		{"packages/app/node_modules/pkg/a.js", "packages/app/node_modules/pkg", true},
		{"node_modules/.pnpm/pkg@1/node_modules/dep/a.js", "node_modules/.pnpm/pkg@1/node_modules/dep", true},
		{"node_modules/file.js", "", false},
		{"node_modules/@scope/file.js", "", false},
		{"lib/helper.js", "", false},
		{"my_node_modules/pkg/a.js", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			root, ok := packageRoot(tt.file)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, root)
		})
	}
}
