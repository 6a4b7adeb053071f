package standalone

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/ssrpack/internal/tracer"
)

func stubTracer(files map[string]tracer.ReasonType) tracer.Func {
	return func(_ context.Context, _ []string, _ tracer.Options) (*tracer.Result, error) {
		res := tracer.NewResult()
		for file, typ := range files {
			res.Add(file, typ, "")
		}
		res.Sort()
		return res, nil
	}
}

func TestCloser_Closure(t *testing.T) {
	paths := PathContext{WorkspaceRoot: "/app", RelativeDistDir: "dist"}
	var gotOpts tracer.Options
	var gotFiles []string

	inner := stubTracer(map[string]tracer.ReasonType{
		"dist/server/index.mjs":     tracer.ReasonInitial,
		"dist/server/chunks/a.mjs":  tracer.ReasonResolve,
		"lib/helper.js":             tracer.ReasonResolve,
		"node_modules/pkg/index.js": tracer.ReasonResolve,
	})
	spy := tracer.Func(func(ctx context.Context, files []string, opts tracer.Options) (*tracer.Result, error) {
		gotFiles, gotOpts = files, opts
		return inner(ctx, files, opts)
	})

	files, err := NewCloser(spy, paths).Closure(context.Background(), "/app/dist/server/index.mjs")
	require.NoError(t, err)

	assert.Equal(t, []string{"lib/helper.js", "node_modules/pkg/index.js"}, files)
	assert.Equal(t, []string{"/app/dist/server/index.mjs"}, gotFiles)
	assert.Equal(t, "/app", gotOpts.Base)
	assert.Equal(t, "/app", gotOpts.ProcessCwd)
	assert.Empty(t, gotOpts.Packages)

	_, err = NewCloser(spy, paths, "nat", "sharp").Closure(context.Background(), "/app/dist/server/index.mjs")
	require.NoError(t, err)
	assert.Equal(t, []string{"nat", "sharp"}, gotOpts.Packages)
}

func TestCloser_NoTracer(t *testing.T) {
	_, err := NewCloser(nil, PathContext{}).Closure(context.Background(), "index.mjs")
	assert.ErrorIs(t, err, tracer.ErrNoTracer)
}

func TestCloser_TraceError(t *testing.T) {
	boom := errors.New("boom")
	failing := tracer.Func(func(context.Context, []string, tracer.Options) (*tracer.Result, error) {
		return nil, boom
	})

	_, err := NewCloser(failing, PathContext{}).Closure(context.Background(), "index.mjs")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "tracing index.mjs")
}

func TestFilterClosure(t *testing.T) {
	res := tracer.NewResult()
	res.Add("packages/app/dist/server/index.mjs", tracer.ReasonInitial, "")
	res.Add("packages/app/dist/client/manifest.json", tracer.ReasonAsset, "")
	res.Add(`packages\app\lib\win.js`, tracer.ReasonResolve, "")
	res.Add("packages/app/lib/win.js", tracer.ReasonResolve, "")
	res.Add("packages/app/distribution/keep.js", tracer.ReasonResolve, "")
	res.Add("node_modules/.pnpm/a@1/node_modules/a/index.js", tracer.ReasonResolve, "")

	files := FilterClosure(res, "packages/app/dist")

	assert.Equal(t, []string{
		"node_modules/.pnpm/a@1/node_modules/a/index.js",
		"packages/app/distribution/keep.js",
		"packages/app/lib/win.js",
	}, files)
}
