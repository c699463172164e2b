package internal

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goplus/skiabind/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func newProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/skia\n\ngo 1.24\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestInit(t *testing.T) {
	dir := newProject(t)

	out, err := execute(t, "init", "-C", dir)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "Initialized") {
		t.Errorf("init output = %q", out)
	}
	data, err := os.ReadFile(filepath.Join(dir, config.FileName))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"submodule: skia", "shim_library: skiabinding", "- C_.*"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("%s lacks %q:\n%s", config.FileName, want, data)
		}
	}

	if _, err := execute(t, "init", "-C", dir); err == nil {
		t.Error("second init succeeded, want error")
	}
}

func TestPlanLDFlags(t *testing.T) {
	dir := newProject(t)

	out, err := execute(t, "plan", "-C", dir, "--target", "x86_64-unknown-linux-gnu", "--ldflags")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !strings.HasPrefix(out, "-lskiabinding -lskia -lstdc++") {
		t.Errorf("plan --ldflags = %q", out)
	}
}

func TestPlanUnsupported(t *testing.T) {
	dir := newProject(t)

	_, err := execute(t, "plan", "-C", dir, "--target", "riscv64gc-unknown-none-elf")
	if err == nil {
		t.Fatal("plan succeeded for an unsupported target")
	}
}

func TestEnv(t *testing.T) {
	dir := newProject(t)

	out, err := execute(t, "env", "-C", dir, "--target", "aarch64-apple-darwin", "--features", "vulkan")
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	for _, want := range []string{`SKIABIND_TARGET="aarch64-apple-darwin"`, `SKIABIND_FEATURES="vulkan"`, "# target aarch64-apple-darwin"} {
		if !strings.Contains(out, want) {
			t.Errorf("env output lacks %q:\n%s", want, out)
		}
	}
}

func TestUnknownFeature(t *testing.T) {
	dir := newProject(t)

	if _, err := execute(t, "env", "-C", dir, "--features", "metal"); err == nil {
		t.Error("unknown feature accepted")
	}
}

func TestRules(t *testing.T) {
	dir := newProject(t)

	out, err := execute(t, "rules", "-C", dir, "--target", "x86_64-unknown-linux-gnu", "--features", "vulkan", "--kind", "ENUM")
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if !strings.Contains(out, "VkFormat") || !strings.Contains(out, "SkPaint_Style") {
		t.Errorf("rules output lacks enum mappings:\n%s", out)
	}
	if strings.Contains(out, "C_.*") {
		t.Errorf("--kind enum listed function rules:\n%s", out)
	}

	if _, err := execute(t, "rules", "-C", dir, "--kind", "macro"); err == nil {
		t.Error("unknown rule kind accepted")
	}
}
