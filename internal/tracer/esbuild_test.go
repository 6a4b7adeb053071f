package tracer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/ssrpack/internal/testutil"
)

func writeProject(t *testing.T, base string) {
	t.Helper()
	testutil.WriteFile(t, filepath.Join(base, "dist/server/index.mjs"), `
import { helper } from "../../lib/helper.js";
import pkg from "pkg";
import fs from "node:fs";
export default function handler() { return helper(pkg, fs); }
`)
	testutil.WriteFile(t, filepath.Join(base, "lib/helper.js"), `export function helper(a, b) { return [a, b]; }`)
}

func TestEsbuild_Trace(t *testing.T) {
	base := testutil.TempDir(t)
	writeProject(t, base)
	testutil.WriteFile(t, filepath.Join(base, "node_modules/pkg/package.json"), `{"name":"pkg","main":"index.js"}`)
	testutil.WriteFile(t, filepath.Join(base, "node_modules/pkg/index.js"), `module.exports = 1;`)

	res, err := NewEsbuild().Trace(context.Background(), []string{"dist/server/index.mjs"}, Options{Base: base, ProcessCwd: base})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"dist/server/index.mjs",
		"lib/helper.js",
		"node_modules/pkg/index.js",
		"node_modules/pkg/package.json",
	}, res.FileList)

	assert.True(t, res.Reasons["dist/server/index.mjs"].Has(ReasonInitial))
	assert.True(t, res.Reasons["lib/helper.js"].Has(ReasonResolve))
	assert.Equal(t, []string{"dist/server/index.mjs"}, res.Reasons["lib/helper.js"].Parents)
	assert.Equal(t, []string{"node_modules/pkg/index.js"}, res.Reasons["node_modules/pkg/package.json"].Parents)
}

func TestEsbuild_TracePnpmSymlinks(t *testing.T) {
	base := testutil.TempDir(t)
	writeProject(t, base)
	store := "node_modules/.pnpm/pkg@1.0.0/node_modules/pkg"
	testutil.WriteFile(t, filepath.Join(base, store, "package.json"), `{"name":"pkg","main":"index.js"}`)
	testutil.WriteFile(t, filepath.Join(base, store, "index.js"), `module.exports = 1;`)
	require.NoError(t, os.Symlink(".pnpm/pkg@1.0.0/node_modules/pkg", filepath.Join(base, "node_modules/pkg")))

	abs := filepath.Join(base, "dist/server/index.mjs")
	res, err := NewEsbuild().Trace(context.Background(), []string{abs}, Options{Base: base})
	require.NoError(t, err)

	assert.Contains(t, res.FileList, "node_modules/pkg")
	assert.True(t, res.Reasons["node_modules/pkg"].Has(ReasonSymlink))
	assert.Contains(t, res.FileList, store+"/index.js")
	assert.Contains(t, res.FileList, store+"/package.json")
	assert.NotContains(t, res.FileList, "node_modules/pkg/index.js")
}

func TestEsbuild_TraceUnresolvedImport(t *testing.T) {
	base := testutil.TempDir(t)
	testutil.WriteFile(t, filepath.Join(base, "dist/server/index.mjs"), `import "does-not-exist";`)

	_, err := NewEsbuild(WithStrict(true)).Trace(context.Background(), []string{"dist/server/index.mjs"}, Options{Base: base})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trace failed")
	assert.Contains(t, err.Error(), "does-not-exist")
}

func TestEsbuild_TraceMissingImportWarning(t *testing.T) {
	base := testutil.TempDir(t)
	testutil.WriteFile(t, filepath.Join(base, "dist/server/index.mjs"), `
import "./importBuild.cjs";
export default 1;
`)
	testutil.WriteFile(t, filepath.Join(base, "dist/server/importBuild.cjs"), `
const { setImporters } = require("vike/__internal/loadImportBuild");
setImporters({ clientManifest: () => require("../client/manifest.json") });
`)

	res, err := NewEsbuild().Trace(context.Background(), []string{"dist/server/index.mjs"}, Options{Base: base})
	require.NoError(t, err)

	assert.Equal(t, []string{"dist/server/importBuild.cjs", "dist/server/index.mjs"}, res.FileList)
	assert.Equal(t, []string{"../client/manifest.json", "vike/__internal/loadImportBuild"}, res.Warnings)
}

func TestEsbuild_TraceRequiresBase(t *testing.T) {
	_, err := NewEsbuild().Trace(context.Background(), []string{"index.mjs"}, Options{})
	require.Error(t, err)
}

func TestEsbuild_TraceCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEsbuild().Trace(ctx, []string{"index.mjs"}, Options{Base: t.TempDir()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEsbuild_TraceBundledRequire(t *testing.T) {
	base := testutil.TempDir(t)
	testutil.WriteFile(t, filepath.Join(base, "dist/server/index.mjs"), `
import { createRequire as createRequire2 } from 'module';
var require = createRequire2(import.meta.url);
var __require = /* @__PURE__ */ ((x) => typeof require !== "undefined" ? require : x)(function(x) {
  throw Error('Dynamic require of "' + x + '" is not supported');
});
var legacy = __require("dep");
var viaShim = require("shimmed");
export { legacy, viaShim };
`)
	testutil.WriteFile(t, filepath.Join(base, "node_modules/dep/package.json"), `{"name":"dep","main":"index.js"}`)
	testutil.WriteFile(t, filepath.Join(base, "node_modules/dep/index.js"), `module.exports = "dep";`)
	testutil.WriteFile(t, filepath.Join(base, "node_modules/shimmed/package.json"), `{"name":"shimmed","main":"index.js"}`)
	testutil.WriteFile(t, filepath.Join(base, "node_modules/shimmed/index.js"), `module.exports = "shimmed";`)

	res, err := NewEsbuild().Trace(context.Background(), []string{"dist/server/index.mjs"}, Options{Base: base})
	require.NoError(t, err)

	assert.Contains(t, res.FileList, "node_modules/dep/index.js")
	assert.Contains(t, res.FileList, "node_modules/dep/package.json")
	assert.Contains(t, res.FileList, "node_modules/shimmed/index.js")
	assert.Equal(t, []string{"dist/server/index.mjs"}, res.Reasons["node_modules/dep/index.js"].Parents)
}

func TestEsbuild_TraceNativePackageDir(t *testing.T) {
	native := "node_modules/nat"
	writeNative := func(t *testing.T) string {
		base := testutil.TempDir(t)
		testutil.WriteFile(t, filepath.Join(base, "dist/server/index.mjs"), `import nat from "nat"; export default nat;`)
		testutil.WriteFile(t, filepath.Join(base, native, "package.json"), `{"name":"nat","main":"index.js"}`)
		testutil.WriteFile(t, filepath.Join(base, native, "index.js"),
			`module.exports = require(require("path").join(__dirname, "build", "Release", "nat.node"));`)
		testutil.WriteFile(t, filepath.Join(base, native, "build/Release/nat.node"), "\x7fELF")
		testutil.WriteFile(t, filepath.Join(base, native, "node_modules/inner/index.js"), `module.exports = 1;`)
		return base
	}

	t.Run("listed package is traced whole", func(t *testing.T) {
		base := writeNative(t)
		res, err := NewEsbuild().Trace(context.Background(), []string{"dist/server/index.mjs"},
			Options{Base: base, Packages: []string{"nat", "unused"}})
		require.NoError(t, err)

		binary := native + "/build/Release/nat.node"
		assert.Contains(t, res.FileList, binary)
		assert.True(t, res.Reasons[binary].Has(ReasonAsset))
		assert.Equal(t, []string{native + "/index.js"}, res.Reasons[binary].Parents)
		assert.True(t, res.Reasons[native+"/index.js"].Has(ReasonResolve))
		assert.NotContains(t, res.FileList, native+"/node_modules/inner/index.js")
	})

	t.Run("other packages are traced by resolution only", func(t *testing.T) {
		base := writeNative(t)
		res, err := NewEsbuild().Trace(context.Background(), []string{"dist/server/index.mjs"}, Options{Base: base})
		require.NoError(t, err)

		assert.Contains(t, res.FileList, native+"/index.js")
		assert.NotContains(t, res.FileList, native+"/build/Release/nat.node")
	})
}

func TestRewriteOutputRequires(t *testing.T) {
	testCases := []struct {
		name     string
		code     string
		expected string
	}{
		{"bundled call", `var a = __require("dep");`, `var a = require("dep");`},
		{"shim binding", `var require = createRequire2(import.meta.url);`, `var __ssrpackRequire = createRequire2(import.meta.url);`},
		{"const binding", `const require=createRequire(import.meta.url);`, `const __ssrpackRequire =createRequire(import.meta.url);`},
		{"helper definition untouched", `var __require = (x) => x;`, `var __require = (x) => x;`},
		{"longer identifier untouched", `my__require("x"); var requireX = 1;`, `my__require("x"); var requireX = 1;`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, rewriteOutputRequires(tc.code))
		})
	}
}
