package importbuild

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/ssrpack/internal/plugin"
)

func resolvedConfig(disableAutoImporter bool) plugin.ResolvedConfig {
	return plugin.ResolvedConfig{
		Root:                "/app",
		OutDir:              "dist/server",
		OutDirAbs:           "/app/dist/server",
		ServerEntry:         "server/index.ts",
		DisableAutoImporter: disableAutoImporter,
	}
}

func TestPlugin_Apply(t *testing.T) {
	p := New(Options{})
	assert.True(t, p.Apply(plugin.BuildEnv{IsSsrBuild: true}))
	assert.False(t, p.Apply(plugin.BuildEnv{}))
	assert.Equal(t, plugin.OrderPost, p.Enforce())
}

func TestPlugin_Config(t *testing.T) {
	assert.Empty(t, New(Options{}).Config(plugin.UserConfig{}, plugin.BuildEnv{}).Entries)

	patch := New(Options{PageFilesSource: "pages/index.ts"}).Config(plugin.UserConfig{}, plugin.BuildEnv{})
	assert.Equal(t, map[string]string{DefaultPageFilesEntry: "pages/index.ts"}, patch.Entries)
}

func TestPlugin_RenderChunk(t *testing.T) {
	entry := plugin.Chunk{FileName: "index.mjs", FacadeModuleID: "/app/server/index.ts", IsEntry: true}

	t.Run("auto importer injects once", func(t *testing.T) {
		p := New(Options{})
		require.NoError(t, p.ConfigResolved(resolvedConfig(false)))

		out, err := p.RenderChunk("export {};\n", entry)
		require.NoError(t, err)
		assert.Equal(t, ImportStatement+"export {};\n", out)

		again, err := p.RenderChunk(out, entry)
		require.NoError(t, err)
		assert.Equal(t, out, again)
	})

	t.Run("disabled auto importer", func(t *testing.T) {
		p := New(Options{})
		require.NoError(t, p.ConfigResolved(resolvedConfig(true)))

		out, err := p.RenderChunk("export {};\n", entry)
		require.NoError(t, err)
		assert.Equal(t, "export {};\n", out)
	})

	t.Run("other chunks untouched", func(t *testing.T) {
		p := New(Options{})
		require.NoError(t, p.ConfigResolved(resolvedConfig(false)))

		out, err := p.RenderChunk("x\n", plugin.Chunk{FileName: "chunks/a.mjs"})
		require.NoError(t, err)
		assert.Equal(t, "x\n", out)
	})
}

func TestPlugin_GenerateBundle(t *testing.T) {
	p := New(Options{})
	require.NoError(t, p.ConfigResolved(resolvedConfig(true)))

	bundle := plugin.NewBundle("/app/dist/server")
	require.NoError(t, p.GenerateBundle(context.Background(), bundle))

	f, ok := bundle.Get(FileName)
	require.True(t, ok)
	assert.Nil(t, f.Chunk)
	assert.Contains(t, string(f.Contents), `import("./entries/pageFiles.mjs")`)
	assert.Contains(t, string(f.Contents), `require("../client/manifest.json")`)
}

func TestPlugin_GenerateBundleMissingEntry(t *testing.T) {
	p := New(Options{PageFilesSource: "pages/index.ts"})
	require.NoError(t, p.ConfigResolved(resolvedConfig(true)))

	err := p.GenerateBundle(context.Background(), plugin.NewBundle("/app/dist/server"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing from bundle")
}

func TestPlugin_GenerateBundleBeforeResolve(t *testing.T) {
	err := New(Options{}).GenerateBundle(context.Background(), plugin.NewBundle("/out"))
	assert.Error(t, err)
}
