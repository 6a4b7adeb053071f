package importbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Generate(t *testing.T) {
	code, err := Generator{}.Generate("/app/dist/server/entries/pageFiles.mjs", "/app/dist/server")
	require.NoError(t, err)

	assert.Equal(t, `const { setImporters } = require("vike/__internal/loadImportBuild");
setImporters({
  pageFiles: () => import("./entries/pageFiles.mjs"),
  clientManifest: () => require("../client/manifest.json"),
  pluginManifest: () => require("../client/vike.json"),
});
`, code)
}

func TestGenerator_Paths(t *testing.T) {
	testCases := []struct {
		name           string
		gen            Generator
		pageFilesEntry string
		outDirServer   string
		contains       []string
	}{
		{
			name:           "relative page files entry",
			pageFilesEntry: "entries/pageFiles.mjs",
			outDirServer:   "/app/dist/server",
			contains:       []string{`import("./entries/pageFiles.mjs")`},
		},
		{
			name:           "page files outside server dir",
			pageFilesEntry: "/app/dist/shared/pageFiles.mjs",
			outDirServer:   "/app/dist/server",
			contains:       []string{`import("../shared/pageFiles.mjs")`},
		},
		{
			name:           "absolute client dir",
			gen:            Generator{ClientDir: "/app/public/client"},
			pageFilesEntry: "pageFiles.mjs",
			outDirServer:   "/app/dist/server",
			contains: []string{
				`require("../../public/client/manifest.json")`,
				`require("../../public/client/vike.json")`,
			},
		},
		{
			name:           "custom loader module",
			gen:            Generator{LoaderModule: "my-framework/loader"},
			pageFilesEntry: "pageFiles.mjs",
			outDirServer:   "/out",
			contains:       []string{`require("my-framework/loader")`},
		},
		{
			name:           "quotes are escaped",
			pageFilesEntry: `odd"name.mjs`,
			outDirServer:   "/out",
			contains:       []string{`import("./odd\"name.mjs")`},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			code, err := tc.gen.Generate(tc.pageFilesEntry, tc.outDirServer)
			require.NoError(t, err)
			for _, want := range tc.contains {
				assert.Contains(t, code, want)
			}
		})
	}
}

func TestGenerator_Errors(t *testing.T) {
	_, err := Generator{}.Generate("", "/out")
	assert.Error(t, err)

	_, err = Generator{}.Generate("pageFiles.mjs", "")
	assert.Error(t, err)

	_, err = Generator{}.Generate("/abs/pageFiles.mjs", "relative/out")
	assert.Error(t, err)
}
