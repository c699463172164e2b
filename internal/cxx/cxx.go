// Package cxx compiles the C++ shim into a static archive.
package cxx

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goplus/skiabind/internal/atomicfile"
	"github.com/goplus/skiabind/internal/feature"
	"github.com/goplus/skiabind/internal/logutil"
	"github.com/goplus/skiabind/internal/target"
)

// DefaultStd is the C++ language revision the shim is compiled with.
const DefaultStd = "c++14"

// Runner runs bin with args. env entries override the process environment.
type Runner func(ctx context.Context, bin string, args []string, env map[string]string) error

// Config is the resolved compile configuration.
type Config struct {
	IncludeDirs []string
	Defines     map[string]string
	Std         string
	OutDir      string
}

// Compiler wraps the compile and archive steps with chainable configuration.
type Compiler struct {
	triple   target.Triple
	includes []string
	Defines  map[string]string
	std      string
	outDir   string
	cxx      string
	ar       string
	env      map[string]string

	// Runner defaults to running the process with inherited output.
	Runner Runner
}

// New creates a compiler for t.
func New(t target.Triple) *Compiler {
	return &Compiler{
		triple:  t,
		Defines: map[string]string{},
		std:     DefaultStd,
		outDir:  ".",
		env:     map[string]string{},
	}
}

func (c *Compiler) Include(dirs ...string) *Compiler {
	c.includes = append(c.includes, dirs...)
	return c
}

func (c *Compiler) Define(key, value string) *Compiler {
	if c.Defines == nil {
		c.Defines = map[string]string{}
	}
	c.Defines[key] = value
	return c
}

// Features adds the defines the enabled features require. The same defines
// must reach the header parser, see ClangArgs.
func (c *Compiler) Features(fs feature.Set) *Compiler {
	if fs.Has(feature.Vulkan) {
		c.Define("SK_VULKAN", "1")
		c.Define("SKIA_IMPLEMENTATION", "1")
	}
	return c
}

func (c *Compiler) Std(std string) *Compiler {
	c.std = std
	return c
}

func (c *Compiler) OutDir(dir string) *Compiler {
	c.outDir = dir
	return c
}

// Tools overrides the compiler and archiver binaries. Empty values keep the
// toolchain default.
func (c *Compiler) Tools(cxx, ar string) *Compiler {
	c.cxx = cxx
	c.ar = ar
	return c
}

// Env sets an environment variable for the compiler and archiver processes.
func (c *Compiler) Env(key, value string) *Compiler {
	if c.env == nil {
		c.env = map[string]string{}
	}
	c.env[key] = value
	return c
}

// Config returns a snapshot of the configuration.
func (c *Compiler) Config() Config {
	defines := make(map[string]string, len(c.Defines))
	for k, v := range c.Defines {
		defines[k] = v
	}
	return Config{
		IncludeDirs: append([]string(nil), c.includes...),
		Defines:     defines,
		Std:         c.std,
		OutDir:      c.outDir,
	}
}

// ArchivePath returns where Compile places the archive of library name.
func (c *Compiler) ArchivePath(name string) string {
	return filepath.Join(c.outDir, c.triple.StaticLibName(name))
}

// ClangArgs returns the language, define and include flags in clang syntax.
func (c *Compiler) ClangArgs() []string {
	args := []string{"-std=" + c.std}
	args = append(args, c.definesArgs("-D")...)
	for _, dir := range c.includes {
		args = append(args, "-I"+dir)
	}
	return args
}

// Compile compiles src and archives the object as library name in the
// output directory. The archive is only replaced when both steps succeed.
func (c *Compiler) Compile(ctx context.Context, src, name string) (string, error) {
	if err := os.MkdirAll(c.outDir, 0755); err != nil {
		return "", err
	}
	work, err := os.MkdirTemp(c.outDir, ".skiabind-cxx-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(work)

	dest := c.ArchivePath(name)
	tmpArchive := filepath.Join(work, filepath.Base(dest))
	if c.triple.IsMSVC() {
		err = c.compileMSVC(ctx, src, work, tmpArchive)
	} else {
		err = c.compileGNU(ctx, src, work, tmpArchive)
	}
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(tmpArchive); err != nil {
		return "", fmt.Errorf("archiver produced no %s: %w", filepath.Base(dest), err)
	}
	if err := atomicfile.Replace(tmpArchive, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (c *Compiler) compileGNU(ctx context.Context, src, work, archive string) error {
	cxx := firstNonEmpty(c.cxx, "c++")
	ar := firstNonEmpty(c.ar, "ar")
	obj := filepath.Join(work, objName(src, ".o"))

	args := []string{"-std=" + c.std}
	if !c.triple.IsWindows() {
		args = append(args, "-fPIC")
	}
	args = append(args, c.definesArgs("-D")...)
	for _, dir := range c.includes {
		args = append(args, "-I"+dir)
	}
	args = append(args, "-c", "-o", obj, src)
	if err := c.run(ctx, cxx, args); err != nil {
		return fmt.Errorf("%s: %w", cxx, err)
	}
	if err := c.run(ctx, ar, []string{"crs", archive, obj}); err != nil {
		return fmt.Errorf("%s: %w", ar, err)
	}
	return nil
}

func (c *Compiler) compileMSVC(ctx context.Context, src, work, archive string) error {
	cl := firstNonEmpty(c.cxx, "cl")
	lib := firstNonEmpty(c.ar, "lib")
	obj := filepath.Join(work, objName(src, ".obj"))

	args := []string{"/nologo", "/EHsc", "/std:" + c.std}
	args = append(args, c.definesArgs("/D")...)
	for _, dir := range c.includes {
		args = append(args, "/I"+dir)
	}
	args = append(args, "/c", "/Fo"+obj, src)
	if err := c.run(ctx, cl, args); err != nil {
		return fmt.Errorf("%s: %w", cl, err)
	}
	if err := c.run(ctx, lib, []string{"/nologo", "/OUT:" + archive, obj}); err != nil {
		return fmt.Errorf("%s: %w", lib, err)
	}
	return nil
}

func (c *Compiler) run(ctx context.Context, bin string, args []string) error {
	r := c.Runner
	if r == nil {
		r = run
	}
	logutil.Trace("exec", "bin", bin, "args", strings.Join(args, " "), "env", len(c.env))
	return r(ctx, bin, args, c.env)
}

func (c *Compiler) definesArgs(flag string) []string {
	if len(c.Defines) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.Defines))
	for k := range c.Defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := c.Defines[k]; v != "" {
			args = append(args, flag+k+"="+v)
			continue
		}
		args = append(args, flag+k)
	}
	return args
}

// IncludeDirs lists the sub-directories of root, sorted.
func IncludeDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func objName(src, ext string) string {
	base := filepath.Base(src)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ext
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func run(ctx context.Context, bin string, args []string, env map[string]string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if len(env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), env)
	}
	return cmd.Run()
}

func mergeEnv(base []string, override map[string]string) []string {
	envMap := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}
	for k, v := range override {
		envMap[k] = v
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+envMap[k])
	}
	return out
}
