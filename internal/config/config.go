// Package config loads the skiabind configuration: built-in defaults, then
// skiabind.yaml, then the environment. Command line flags are applied by
// the caller last.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"

	"github.com/goplus/skiabind/internal/artifact"
	"github.com/goplus/skiabind/internal/bindgen"
	"github.com/goplus/skiabind/internal/feature"
	"github.com/goplus/skiabind/internal/target"
)

// FileName is the configuration file looked up in the project root.
const FileName = "skiabind.yaml"

// Layout holds project paths, relative to the project root.
type Layout struct {
	Submodule  string `yaml:"submodule"`
	IncludeDir string `yaml:"include_dir"`
	OutDir     string `yaml:"out_dir"`
	ShimSource string `yaml:"shim_source"`
	ShimHeader string `yaml:"shim_header"`
	Bindings   string `yaml:"bindings"`
	Manifest   string `yaml:"manifest"`
}

// Tools overrides toolchain binaries.
type Tools struct {
	CXX   string `yaml:"cxx,omitempty"`
	AR    string `yaml:"ar,omitempty"`
	Clang string `yaml:"clang,omitempty"`
	// Env is added to the environment of compiler and archiver runs, for
	// example SDKROOT or MACOSX_DEPLOYMENT_TARGET.
	Env map[string]string `yaml:"env,omitempty"`
}

// Rules replaces the built-in binding allowlist when present.
type Rules struct {
	Functions []string `yaml:"functions,omitempty"`
	Types     []string `yaml:"types,omitempty"`
	Vars      []string `yaml:"vars,omitempty"`
	Enums     []string `yaml:"enums,omitempty"`
}

type Config struct {
	// Dir is the project root.
	Dir string `yaml:"-"`
	// File is the configuration file that was read, if any.
	File string `yaml:"-"`

	Package     string   `yaml:"package,omitempty"`
	Target      string   `yaml:"target,omitempty"`
	Features    []string `yaml:"features,omitempty"`
	ReleaseURL  string   `yaml:"release_url,omitempty"`
	Library     string   `yaml:"library"`
	ShimLibrary string   `yaml:"shim_library"`
	Layout      Layout   `yaml:"layout"`
	Tools       Tools    `yaml:"tools,omitempty"`
	Rules       *Rules   `yaml:"rules,omitempty"`
	Debug       bool     `yaml:"debug,omitempty"`
}

// Default returns the built-in configuration for the project at dir.
func Default(dir string) *Config {
	return &Config{
		Dir:         dir,
		ReleaseURL:  artifact.DefaultBaseURL,
		Library:     "skia",
		ShimLibrary: "skiabinding",
		Layout: Layout{
			Submodule:  "skia",
			IncludeDir: "skia/include",
			OutDir:     "static",
			ShimSource: "src/bindings.cpp",
			ShimHeader: "src/bindings.h",
			Bindings:   "bindings.go",
			Manifest:   "go.mod",
		},
	}
}

// Load reads the configuration of the project at dir. file names the
// configuration file; when empty, dir/skiabind.yaml is used if it exists.
func Load(dir, file string) (*Config, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	cfg := Default(dir)

	optional := file == ""
	if optional {
		file = filepath.Join(dir, FileName)
	} else if !filepath.IsAbs(file) {
		file = filepath.Join(dir, file)
	}
	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		cfg.File = file
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	cfg.applyEnv()

	if cfg.Package == "" {
		cfg.Package = packageName(cfg.Path(cfg.Layout.Manifest))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// clean returns the value of the environment variable key without
// surrounding quotes and spaces.
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

func (c *Config) applyEnv() {
	if v := clean("SKIABIND_TARGET"); v != "" {
		c.Target = v
	} else if v := clean("TARGET"); v != "" {
		c.Target = v
	}
	if v := clean("SKIABIND_FEATURES"); v != "" {
		c.Features = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	}
	if v := clean("SKIABIND_RELEASE_URL"); v != "" {
		c.ReleaseURL = v
	}
	if v := clean("SKIABIND_DEBUG"); v != "" {
		d, err := strconv.ParseBool(v)
		if err == nil {
			c.Debug = d
		} else {
			c.Debug = true
		}
	}
	if v := clean("CXX"); v != "" {
		c.Tools.CXX = v
	}
	if v := clean("AR"); v != "" {
		c.Tools.AR = v
	}
	if v := clean("CLANG"); v != "" {
		c.Tools.Clang = v
	}
}

// Validate checks the configuration for values no build can use.
func (c *Config) Validate() error {
	if _, err := c.FeatureSet(); err != nil {
		return err
	}
	if c.Target != "" {
		if _, err := target.Parse(c.Target); err != nil {
			return err
		}
	}
	if c.Library == "" || c.ShimLibrary == "" {
		return fmt.Errorf("library names must not be empty")
	}
	if !isIdent(c.Package) {
		return fmt.Errorf("invalid package name %q", c.Package)
	}
	for name, p := range map[string]string{
		"submodule":   c.Layout.Submodule,
		"include_dir": c.Layout.IncludeDir,
		"out_dir":     c.Layout.OutDir,
		"shim_source": c.Layout.ShimSource,
		"shim_header": c.Layout.ShimHeader,
		"bindings":    c.Layout.Bindings,
		"manifest":    c.Layout.Manifest,
	} {
		if p == "" {
			return fmt.Errorf("layout.%s must not be empty", name)
		}
	}
	return nil
}

// Triple returns the target triple, the host's when none is configured.
func (c *Config) Triple() (target.Triple, error) {
	t := c.Target
	if t == "" {
		t = target.Host()
	}
	return target.Parse(t)
}

// FeatureSet returns the enabled features.
func (c *Config) FeatureSet() (feature.Set, error) {
	return feature.New(c.Features...)
}

// RuleSet returns the binding allowlist for fs: the configured rules when
// present, the built-in ones otherwise.
func (c *Config) RuleSet(fs feature.Set) (*bindgen.RuleSet, error) {
	if c.Rules == nil {
		return bindgen.NewRuleSet(bindgen.DefaultRules(fs)...)
	}
	var rules []bindgen.Rule
	for _, p := range c.Rules.Functions {
		rules = append(rules, bindgen.AllowFunction(p))
	}
	for _, p := range c.Rules.Types {
		rules = append(rules, bindgen.AllowType(p))
	}
	for _, p := range c.Rules.Vars {
		rules = append(rules, bindgen.AllowVar(p))
	}
	for _, p := range c.Rules.Enums {
		rules = append(rules, bindgen.MapEnum(p))
	}
	rules = append(rules, bindgen.FeatureRules(fs)...)
	rs, err := bindgen.NewRuleSet(rules...)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	return rs, nil
}

// Path resolves a project relative path.
func (c *Config) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(c.Dir, filepath.FromSlash(rel))
}

// ConfigPath returns the path of the configuration file, whether or not it
// exists.
func (c *Config) ConfigPath() string {
	if c.File != "" {
		return c.File
	}
	return filepath.Join(c.Dir, FileName)
}

// Marshal encodes c as written by skiabind init.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// InitConfig returns the configuration skiabind init writes: the defaults
// with the built-in rule table spelled out for editing.
func InitConfig(dir string) *Config {
	c := Default(dir)
	var none feature.Set
	c.Rules = &Rules{}
	for _, r := range bindgen.DefaultRules(none) {
		switch r.Kind {
		case bindgen.FunctionAllow:
			c.Rules.Functions = append(c.Rules.Functions, r.Pattern)
		case bindgen.TypeAllow:
			c.Rules.Types = append(c.Rules.Types, r.Pattern)
		case bindgen.VariableAllow:
			c.Rules.Vars = append(c.Rules.Vars, r.Pattern)
		case bindgen.EnumMapping:
			c.Rules.Enums = append(c.Rules.Enums, r.Pattern)
		}
	}
	return c
}

// packageName derives a Go package name from the module path declared in
// the manifest, "skia" when there is none.
func packageName(manifest string) string {
	data, err := os.ReadFile(manifest)
	if err != nil {
		return "skia"
	}
	mod := modfile.ModulePath(data)
	if mod == "" {
		return "skia"
	}
	elem := path.Base(mod)
	if isMajorSuffix(elem) && path.Dir(mod) != "." {
		elem = path.Base(path.Dir(mod))
	}
	elem = strings.TrimPrefix(strings.TrimSuffix(elem, "-go"), "go-")
	name := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return '_'
	}, elem)
	if !isIdent(name) {
		return "skia"
	}
	return name
}

func isMajorSuffix(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	_, err := strconv.Atoi(s[1:])
	return err == nil
}

func isIdent(s string) bool {
	if s == "" || s == "_" {
		return false
	}
	for i, r := range s {
		if !unicode.IsLetter(r) && r != '_' && (i == 0 || !unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}
