// Package pipeline runs the skiabind build: resolve the pinned Skia
// revision, fetch its prebuilt library, plan and write the link file, and,
// when the bindings are stale, compile the shim and regenerate them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/goplus/skiabind/internal/artifact"
	"github.com/goplus/skiabind/internal/atomicfile"
	"github.com/goplus/skiabind/internal/bindgen"
	"github.com/goplus/skiabind/internal/config"
	"github.com/goplus/skiabind/internal/cxx"
	"github.com/goplus/skiabind/internal/link"
	"github.com/goplus/skiabind/internal/stale"
	"github.com/goplus/skiabind/internal/target"
	"github.com/goplus/skiabind/internal/vcs"
)

// Generator names skiabind in the headers of generated files.
const Generator = "skiabind"

// SettingsFile records, in the output directory, the target and features
// the shim and the bindings were last built with.
const SettingsFile = ".skiabind-build.json"

// Fetcher makes the library of a descriptor available locally.
type Fetcher interface {
	Fetch(ctx context.Context, d artifact.Descriptor) (artifact.Outcome, error)
}

// Components are the collaborators of a pipeline. Nil fields take their
// production implementation.
type Components struct {
	Submodules vcs.Submodules
	Fetcher    Fetcher
	Runner     cxx.Runner
	Parser     bindgen.Parser
	FS         afero.Fs
	Logger     *slog.Logger
}

// Options controls a run.
type Options struct {
	// Force regenerates the bindings even when they are up to date.
	Force bool
}

// Result reports what a run did.
type Result struct {
	ContentID  string
	Commit     string
	Descriptor artifact.Descriptor
	Outcome    artifact.Outcome

	Platform   string
	Directives []link.Directive
	LinkFile   string

	Regenerated bool
	Reason      stale.Reason
	ShimArchive string
	Bindings    string
}

// Pipeline runs the build stages for one configured project.
type Pipeline struct {
	cfg *config.Config
	c   Components
	log *slog.Logger
}

// New returns a pipeline for cfg.
func New(cfg *config.Config, c Components) *Pipeline {
	if c.Submodules == nil {
		c.Submodules = vcs.NewGoGit()
	}
	if c.Fetcher == nil {
		f := artifact.NewFetcher()
		f.Logger = c.Logger
		c.Fetcher = f
	}
	if c.Parser == nil {
		c.Parser = &bindgen.ClangParser{Clang: cfg.Tools.Clang}
	}
	if c.FS == nil {
		c.FS = afero.NewOsFs()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, c: c, log: c.Logger}
}

// Run executes every stage in order and stops at the first failure.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	res, err := p.Fetch(ctx)
	if err != nil {
		return res, err
	}
	if err := p.Link(res); err != nil {
		return res, err
	}

	regen, reason, err := p.Stale(res.Descriptor)
	if err != nil {
		return res, err
	}
	res.Reason = reason
	if !regen && !opts.Force {
		p.log.Info("bindings up to date", "path", p.cfg.Layout.Bindings)
		return res, nil
	}
	if opts.Force && !regen {
		p.log.Info("regenerating bindings", "reason", "forced")
	} else {
		p.log.Info("regenerating bindings", "reason", reason.String())
	}

	comp, err := p.compiler()
	if err != nil {
		return res, err
	}
	if res.ShimArchive, err = p.Compile(ctx, comp); err != nil {
		return res, err
	}
	if res.Bindings, err = p.Generate(ctx, comp); err != nil {
		return res, err
	}
	if err := p.recordSettings(); err != nil {
		return res, err
	}
	res.Regenerated = true
	return res, nil
}

// Fetch runs the resolve, describe and fetch stages.
func (p *Pipeline) Fetch(ctx context.Context) (*Result, error) {
	res := &Result{}
	id, commit, err := p.Resolve(ctx)
	if err != nil {
		return res, err
	}
	res.ContentID, res.Commit = id, commit

	if res.Descriptor, err = p.Describe(id); err != nil {
		return res, err
	}

	p.log.Debug("fetching", "url", res.Descriptor.URL, "dir", res.Descriptor.LocalDir)
	res.Outcome, err = p.c.Fetcher.Fetch(ctx, res.Descriptor)
	if err != nil {
		return res, stageError("fetch", ArtifactFetch, err)
	}
	p.log.Info("skia library", "content_id", id, "outcome", res.Outcome.String())
	return res, nil
}

// Resolve returns the content id and commit of the pinned submodule.
func (p *Pipeline) Resolve(ctx context.Context) (id, commit string, err error) {
	id, commit, err = vcs.Resolve(ctx, p.c.Submodules, p.cfg.Dir, p.cfg.Layout.Submodule)
	if err != nil {
		return "", "", stageError("resolve", VersionResolution, err)
	}
	p.log.Debug("resolved submodule", "name", p.cfg.Layout.Submodule, "commit", commit, "content_id", id)
	return id, commit, nil
}

// Describe returns the artifact descriptor of contentID for the configured
// target.
func (p *Pipeline) Describe(contentID string) (artifact.Descriptor, error) {
	t, err := p.triple("describe")
	if err != nil {
		return artifact.Descriptor{}, err
	}
	d, err := artifact.NewDescriptor(t, contentID, artifact.Options{
		Library:  p.cfg.Library,
		BaseURL:  p.cfg.ReleaseURL,
		LocalDir: p.cfg.Path(p.cfg.Layout.OutDir),
	})
	if err != nil {
		return d, stageError("describe", classify(err, ArtifactFetch), err)
	}
	return d, nil
}

// Plan returns the link directives for the configured target and features,
// with the name of the matched platform.
func (p *Pipeline) Plan() ([]link.Directive, string, error) {
	t, err := p.triple("link")
	if err != nil {
		return nil, "", err
	}
	fs, err := p.cfg.FeatureSet()
	if err != nil {
		return nil, "", stageError("link", UnsupportedPlatform, err)
	}
	ds, platform, err := link.Plan(t, fs)
	if err != nil {
		return nil, "", stageError("link", UnsupportedPlatform, err)
	}
	return ds, platform, nil
}

// Link plans the directives and writes them as the target's link file next
// to the bindings. The file is written on every run.
func (p *Pipeline) Link(res *Result) error {
	ds, platform, err := p.Plan()
	if err != nil {
		return err
	}
	res.Directives, res.Platform = ds, platform

	t, err := p.triple("link")
	if err != nil {
		return err
	}
	name, err := link.FileName(t)
	if err != nil {
		return stageError("link", UnsupportedPlatform, err)
	}
	dir := filepath.Dir(p.cfg.Path(p.cfg.Layout.Bindings))
	libDir, err := relSlash(dir, p.cfg.Path(p.cfg.Layout.OutDir))
	if err != nil {
		return stageError("link", Write, err)
	}
	src, err := link.Render(t, ds, link.RenderOptions{
		Package:   p.cfg.Package,
		LibDir:    libDir,
		Generator: Generator,
	})
	if err != nil {
		return stageError("link", classify(err, Write), err)
	}

	res.LinkFile = filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return stageError("link", Write, err)
	}
	changed, err := atomicfile.Update(res.LinkFile, src, 0644)
	if err != nil {
		return stageError("link", Write, err)
	}
	p.log.Debug("link file", "path", res.LinkFile, "platform", platform, "changed", changed)
	return nil
}

// Stale reports whether the shim and the bindings must be rebuilt for d: the
// bindings are older than an input, the shim archive is missing, or the
// target or features differ from the ones recorded by the last build.
func (p *Pipeline) Stale(d artifact.Descriptor) (bool, stale.Reason, error) {
	inputs := []string{
		p.cfg.Path(p.cfg.Layout.Manifest),
		d.LibraryPath(),
		p.cfg.Path(p.cfg.Layout.ShimSource),
		p.cfg.Path(p.cfg.Layout.ShimHeader),
	}
	if p.cfg.File != "" {
		inputs = append(inputs, p.cfg.File)
	}
	checker := stale.New(p.c.FS)
	regen, reason, err := checker.ShouldRegenerate(p.cfg.Path(p.cfg.Layout.Bindings), inputs...)
	if err != nil || regen {
		return regen, reason, stageError("stale", StalenessProbe, err)
	}

	t, err := p.triple("stale")
	if err != nil {
		return false, reason, err
	}
	shim := filepath.Join(p.cfg.Path(p.cfg.Layout.OutDir), t.StaticLibName(p.cfg.ShimLibrary))
	if regen, reason, err = checker.Missing(shim); err != nil || regen {
		return regen, reason, stageError("stale", StalenessProbe, err)
	}

	settings, err := p.settings()
	if err != nil {
		return false, reason, err
	}
	regen, reason, err = checker.SettingsChanged(p.settingsPath(), settings)
	return regen, reason, stageError("stale", StalenessProbe, err)
}

// settings are the build settings the shim and the bindings depend on
// besides the watched files.
func (p *Pipeline) settings() (stale.Settings, error) {
	t, err := p.triple("stale")
	if err != nil {
		return nil, err
	}
	fs, err := p.cfg.FeatureSet()
	if err != nil {
		return nil, stageError("stale", StalenessProbe, err)
	}
	return stale.Settings{
		"target":   t.String(),
		"features": fs.String(),
	}, nil
}

func (p *Pipeline) settingsPath() string {
	return filepath.Join(p.cfg.Path(p.cfg.Layout.OutDir), SettingsFile)
}

// recordSettings stores the settings the bindings were generated with.
func (p *Pipeline) recordSettings() error {
	settings, err := p.settings()
	if err != nil {
		return err
	}
	if err := stale.New(p.c.FS).RecordSettings(p.settingsPath(), settings); err != nil {
		return stageError("generate", Write, err)
	}
	return nil
}

// Compile builds the shim archive into the output directory.
func (p *Pipeline) Compile(ctx context.Context, comp *cxx.Compiler) (string, error) {
	src := p.cfg.Path(p.cfg.Layout.ShimSource)
	archive, err := comp.Compile(ctx, src, p.cfg.ShimLibrary)
	if err != nil {
		return "", stageError("compile", NativeCompile, err)
	}
	p.log.Info("compiled shim", "archive", archive)
	return archive, nil
}

// Generate parses the shim header and writes the bindings file.
func (p *Pipeline) Generate(ctx context.Context, comp *cxx.Compiler) (string, error) {
	header := p.cfg.Path(p.cfg.Layout.ShimHeader)
	u, err := p.c.Parser.Parse(ctx, header, comp.ClangArgs())
	if err != nil {
		return "", stageError("generate", BindingParse, err)
	}
	fs, err := p.cfg.FeatureSet()
	if err != nil {
		return "", stageError("generate", BindingParse, err)
	}
	rs, err := p.cfg.RuleSet(fs)
	if err != nil {
		return "", stageError("generate", BindingParse, err)
	}

	out := p.cfg.Path(p.cfg.Layout.Bindings)
	dir := filepath.Dir(out)
	headerDir, err := relSlash(dir, filepath.Dir(header))
	if err != nil {
		return "", stageError("generate", Write, err)
	}
	cflags := []string{"-I" + link.SrcDir(headerDir)}
	for _, arg := range comp.ClangArgs() {
		if strings.HasPrefix(arg, "-D") {
			cflags = append(cflags, arg)
		}
	}
	src, err := bindgen.Generate(u, rs, bindgen.Options{
		Package:  p.cfg.Package,
		Header:   filepath.Base(header),
		CFlags:   cflags,
		FileName: filepath.Base(out),
		Logger:   p.log,
	})
	if err != nil {
		return "", stageError("generate", BindingParse, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", stageError("generate", Write, err)
	}
	if _, err := atomicfile.Update(out, src, 0644); err != nil {
		return "", stageError("generate", Write, err)
	}
	p.log.Info("generated bindings", "path", out)
	return out, nil
}

func (p *Pipeline) compiler() (*cxx.Compiler, error) {
	t, err := p.triple("compile")
	if err != nil {
		return nil, err
	}
	fs, err := p.cfg.FeatureSet()
	if err != nil {
		return nil, stageError("compile", NativeCompile, err)
	}
	includes, err := cxx.IncludeDirs(p.cfg.Path(p.cfg.Layout.IncludeDir))
	if err != nil {
		return nil, stageError("compile", NativeCompile, err)
	}
	comp := cxx.New(t).
		Include(includes...).
		Features(fs).
		OutDir(p.cfg.Path(p.cfg.Layout.OutDir)).
		Tools(p.cfg.Tools.CXX, p.cfg.Tools.AR)
	for k, v := range p.cfg.Tools.Env {
		comp.Env(k, v)
	}
	comp.Runner = p.c.Runner
	return comp, nil
}

func (p *Pipeline) triple(stage string) (target.Triple, error) {
	t, err := p.cfg.Triple()
	if err != nil {
		return t, stageError(stage, UnsupportedPlatform, err)
	}
	return t, nil
}

func classify(err error, fallback Kind) Kind {
	if errors.Is(err, target.ErrUnsupported) {
		return UnsupportedPlatform
	}
	return fallback
}

func relSlash(base, dst string) (string, error) {
	rel, err := filepath.Rel(base, dst)
	if err != nil {
		return "", fmt.Errorf("%s is not reachable from %s: %w", dst, base, err)
	}
	return filepath.ToSlash(rel), nil
}
