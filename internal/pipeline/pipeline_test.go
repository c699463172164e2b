package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goplus/skiabind/internal/artifact"
	"github.com/goplus/skiabind/internal/bindgen"
	"github.com/goplus/skiabind/internal/config"
	"github.com/goplus/skiabind/internal/stale"
	"github.com/goplus/skiabind/internal/vcs"
)

const (
	testCommit = "0123456789abcdef0123456789abcdef01234567"
	testID     = "0123456789"
	linuxGNU   = "x86_64-unknown-linux-gnu"
)

type fakeSubmodules struct {
	commit string
	err    error
}

func (f fakeSubmodules) SubmoduleCommit(context.Context, string, string) (string, error) {
	return f.commit, f.err
}

// fakeFetcher places an empty, old library where the descriptor expects it.
type fakeFetcher struct {
	err   error
	calls int
	got   artifact.Descriptor
}

func (f *fakeFetcher) Fetch(_ context.Context, d artifact.Descriptor) (artifact.Outcome, error) {
	f.calls++
	f.got = d
	if f.err != nil {
		return 0, f.err
	}
	if _, err := os.Stat(d.LibraryPath()); err == nil {
		return artifact.Skipped, nil
	}
	if err := os.MkdirAll(d.LocalDir, 0755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(d.LibraryPath(), nil, 0644); err != nil {
		return 0, err
	}
	past := time.Now().Add(-time.Hour)
	return artifact.Fetched, os.Chtimes(d.LibraryPath(), past, past)
}

// fakeRunner records invocations and lets "ar crs <archive> ..." create the
// archive.
type fakeRunner struct {
	err   error
	calls []string
	env   map[string]string
}

func (f *fakeRunner) run(_ context.Context, bin string, args []string, env map[string]string) error {
	f.calls = append(f.calls, bin)
	f.env = env
	if f.err != nil {
		return f.err
	}
	if bin == "ar" && len(args) > 1 {
		return os.WriteFile(args[1], []byte("!<arch>\n"), 0644)
	}
	return nil
}

type fakeParser struct {
	err    error
	header string
	args   []string
}

func (f *fakeParser) Parse(_ context.Context, header string, args []string) (*bindgen.Unit, error) {
	f.header, f.args = header, args
	if f.err != nil {
		return nil, f.err
	}
	return &bindgen.Unit{
		Functions: []bindgen.Function{
			{Name: "C_SkCanvas_drawPaint", Result: "void", Params: []bindgen.Param{
				{Name: "self", Type: "SkCanvas *"},
				{Name: "paint", Type: "const SkPaint *"},
			}},
		},
		Records: []bindgen.Record{
			{Name: "SkCanvas", Tag: "class"},
			{Name: "SkPaint", Tag: "class"},
		},
	}, nil
}

type fixture struct {
	dir        string
	cfg        *config.Config
	submodules fakeSubmodules
	fetcher    *fakeFetcher
	runner     *fakeRunner
	parser     *fakeParser
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"go.mod":                       "module example.com/skia\n\ngo 1.24\n",
		"src/bindings.cpp":             "#include \"bindings.h\"\n",
		"src/bindings.h":               "void C_SkCanvas_drawPaint(void);\n",
		"skia/include/core/SkCanvas.h": "",
		"skia/include/gpu/GrContext.h": "",
	}
	past := time.Now().Add(-time.Hour)
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		require.NoError(t, os.Chtimes(p, past, past))
	}
	cfg := config.Default(dir)
	cfg.Package = "skia"
	cfg.Target = linuxGNU
	return &fixture{
		dir:        dir,
		cfg:        cfg,
		submodules: fakeSubmodules{commit: testCommit},
		fetcher:    &fakeFetcher{},
		runner:     &fakeRunner{},
		parser:     &fakeParser{},
	}
}

func (f *fixture) pipeline() *Pipeline {
	return New(f.cfg, Components{
		Submodules: f.submodules,
		Fetcher:    f.fetcher,
		Runner:     f.runner.run,
		Parser:     f.parser,
		FS:         afero.NewOsFs(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func (f *fixture) path(rel string) string {
	return filepath.Join(f.dir, filepath.FromSlash(rel))
}

func TestRun(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, testID, res.ContentID)
	assert.Equal(t, testCommit, res.Commit)
	assert.Equal(t, artifact.Fetched, res.Outcome)
	assert.Equal(t, "linux", res.Platform)
	assert.True(t, res.Regenerated)
	assert.True(t, res.Reason.Missing)

	assert.Equal(t, f.path("static"), f.fetcher.got.LocalDir)
	assert.Equal(t, "https://github.com/rust-skia/skia/releases/download/0123456789/skia-static-linux.tgz", f.fetcher.got.URL)
	assert.Equal(t, []string{"c++", "ar"}, f.runner.calls)
	assert.FileExists(t, f.path("static/libskiabinding.a"))
	assert.Equal(t, f.path("src/bindings.h"), f.parser.header)
	assert.Contains(t, f.parser.args, "-std=c++14")
	assert.Contains(t, f.parser.args, "-I"+f.path("skia/include/core"))
	assert.Contains(t, f.parser.args, "-I"+f.path("skia/include/gpu"))

	linkFile, err := os.ReadFile(f.path("link_linux_amd64.go"))
	require.NoError(t, err)
	assert.Equal(t, f.path("link_linux_amd64.go"), res.LinkFile)
	assert.Contains(t, string(linkFile), "//go:build linux && amd64")
	assert.Contains(t, string(linkFile), "-L${SRCDIR}/static -lskiabinding -lskia -lstdc++")

	bindings, err := os.ReadFile(f.path("bindings.go"))
	require.NoError(t, err)
	src := string(bindings)
	assert.Contains(t, src, "package skia")
	assert.Contains(t, src, "#cgo CFLAGS: -I${SRCDIR}/src")
	assert.Contains(t, src, `#include "bindings.h"`)
	assert.Contains(t, src, "func C_SkCanvas_drawPaint(")
}

func TestRunToolEnv(t *testing.T) {
	f := newFixture(t)
	f.cfg.Tools.Env = map[string]string{"SDKROOT": "/sdk"}

	_, err := f.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c++", "ar"}, f.runner.calls)
	assert.Equal(t, map[string]string{"SDKROOT": "/sdk"}, f.runner.env)
}

func TestRunNestedBindings(t *testing.T) {
	f := newFixture(t)
	f.cfg.Layout.Bindings = "sys/bindings.go"

	res, err := f.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, f.path("sys/link_linux_amd64.go"), res.LinkFile)

	linkFile, err := os.ReadFile(res.LinkFile)
	require.NoError(t, err)
	assert.Contains(t, string(linkFile), "-L${SRCDIR}/../static -lskiabinding")

	bindings, err := os.ReadFile(f.path("sys/bindings.go"))
	require.NoError(t, err)
	assert.Contains(t, string(bindings), "#cgo CFLAGS: -I${SRCDIR}/../src")
}

func TestRunUpToDate(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(f.path("bindings.go"), future, future))
	f.runner.calls = nil

	res, err := f.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, artifact.Skipped, res.Outcome)
	assert.False(t, res.Regenerated)
	assert.Empty(t, f.runner.calls)
	assert.FileExists(t, f.path("link_linux_amd64.go"), "link file is written on every run")

	res, err = f.pipeline().Run(context.Background(), Options{Force: true})
	require.NoError(t, err)
	assert.True(t, res.Regenerated)
	assert.Equal(t, []string{"c++", "ar"}, f.runner.calls)
}

func TestRunSettingsChanged(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.FileExists(t, f.path("static/"+SettingsFile))

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(f.path("bindings.go"), future, future))
	f.runner.calls = nil
	f.cfg.Features = []string{"vulkan"}

	res, err := f.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.True(t, res.Regenerated)
	assert.Equal(t, stale.Reason{Setting: "features"}, res.Reason)
	assert.Equal(t, []string{"c++", "ar"}, f.runner.calls)
	assert.Contains(t, f.parser.args, "-DSK_VULKAN=1")

	f.runner.calls = nil
	require.NoError(t, os.Chtimes(f.path("bindings.go"), future, future))
	res, err = f.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.False(t, res.Regenerated, "settings were recorded")
	assert.Empty(t, f.runner.calls)
}

func TestRunShimArchiveMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(f.path("bindings.go"), future, future))
	require.NoError(t, os.Remove(f.path("static/libskiabinding.a")))
	f.runner.calls = nil

	res, err := f.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.True(t, res.Regenerated)
	assert.Equal(t, stale.Reason{Missing: true, Output: f.path("static/libskiabinding.a")}, res.Reason)
	assert.FileExists(t, f.path("static/libskiabinding.a"))
}

func TestRunInputChanged(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(f.path("bindings.go"), past, past))
	now := time.Now()
	require.NoError(t, os.Chtimes(f.path("src/bindings.cpp"), now, now))

	res, err := f.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.True(t, res.Regenerated)
	assert.Equal(t, stale.Reason{Newer: f.path("src/bindings.cpp")}, res.Reason)
}

func TestRunConfigFileWatched(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(f.path("bindings.go"), past, past))
	f.cfg.File = f.path(config.FileName)
	require.NoError(t, os.WriteFile(f.cfg.File, []byte("package: skia\n"), 0644))

	res, err := f.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.True(t, res.Regenerated)
	assert.Equal(t, f.cfg.File, res.Reason.Newer)
}

func TestRunErrorKinds(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		setup func(f *fixture)
		kind  Kind
		stage string
		is    error
	}{
		{
			name:  "submodule",
			setup: func(f *fixture) { f.submodules.err = vcs.ErrSubmoduleNotFound },
			kind:  VersionResolution,
			stage: "resolve",
			is:    vcs.ErrSubmoduleNotFound,
		},
		{
			name:  "malformed commit",
			setup: func(f *fixture) { f.submodules.commit = "xyz" },
			kind:  VersionResolution,
			stage: "resolve",
			is:    vcs.ErrMalformedHash,
		},
		{
			name:  "android",
			setup: func(f *fixture) { f.cfg.Target = "aarch64-linux-android" },
			kind:  UnsupportedPlatform,
			stage: "describe",
		},
		{
			name:  "freebsd",
			setup: func(f *fixture) { f.cfg.Target = "x86_64-unknown-freebsd" },
			kind:  UnsupportedPlatform,
			stage: "describe",
		},
		{
			name:  "fetch",
			setup: func(f *fixture) { f.fetcher.err = boom },
			kind:  ArtifactFetch,
			stage: "fetch",
			is:    boom,
		},
		{
			name:  "link file",
			setup: func(f *fixture) { f.cfg.Layout.Bindings = "go.mod/bindings.go" },
			kind:  Write,
			stage: "link",
		},
		{
			name: "missing header",
			setup: func(f *fixture) {
				require.NoError(t, os.WriteFile(f.path("bindings.go"), []byte("package skia\n"), 0644))
				require.NoError(t, os.Remove(f.path("src/bindings.h")))
			},
			kind:  StalenessProbe,
			stage: "stale",
		},
		{
			name:  "compile",
			setup: func(f *fixture) { f.runner.err = boom },
			kind:  NativeCompile,
			stage: "compile",
			is:    boom,
		},
		{
			name:  "parse",
			setup: func(f *fixture) { f.parser.err = boom },
			kind:  BindingParse,
			stage: "generate",
			is:    boom,
		},
		{
			name: "rules",
			setup: func(f *fixture) {
				f.cfg.Rules = &config.Rules{Functions: []string{"("}}
			},
			kind:  BindingParse,
			stage: "generate",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			_, err := f.pipeline().Run(context.Background(), Options{})
			require.Error(t, err)
			kind, ok := KindOf(err)
			require.True(t, ok, "error %v carries no kind", err)
			assert.Equal(t, tt.kind, kind)

			var e *Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.stage, e.Stage)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestCompileFailureKeepsBindings(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.path("bindings.go"), []byte("package skia\n"), 0644))
	f.runner.err = errors.New("compiler crashed")

	_, err := f.pipeline().Run(context.Background(), Options{Force: true})
	require.Error(t, err)

	data, err := os.ReadFile(f.path("bindings.go"))
	require.NoError(t, err)
	assert.Equal(t, "package skia\n", string(data))
	assert.NoFileExists(t, f.path("static/libskiabinding.a"))
}

func TestPlan(t *testing.T) {
	f := newFixture(t)
	f.cfg.Target = "x86_64-pc-windows-msvc"
	f.cfg.Features = []string{"vulkan"}

	ds, platform, err := f.pipeline().Plan()
	require.NoError(t, err)
	assert.Equal(t, "windows", platform)
	var names []string
	for _, d := range ds {
		names = append(names, d.Name)
	}
	assert.Equal(t, "skiabinding", names[0])
	assert.Contains(t, names, "opengl32")
}

func TestErrorString(t *testing.T) {
	err := &Error{Kind: ArtifactFetch, Stage: "fetch", Err: errors.New("status 404")}
	assert.Equal(t, "fetch: artifact fetch: status 404", err.Error())
	assert.True(t, strings.HasPrefix(Kind(42).String(), "Kind("))

	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
}
