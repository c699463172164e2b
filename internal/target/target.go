// Package target parses target triples of the form arch-vendor-os[-env]
// and maps them onto Go's GOOS/GOARCH.
package target

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrUnsupported reports a target triple that matches no supported platform.
var ErrUnsupported = errors.New("unsupported target")

// Triple is a parsed target triple, e.g. "x86_64-unknown-linux-gnu".
type Triple struct {
	Raw    string
	Arch   string
	Vendor string
	OS     string
	Env    string
}

var knownVendors = map[string]bool{
	"unknown":  true,
	"pc":       true,
	"apple":    true,
	"nvidia":   true,
	"fortanix": true,
	"wrs":      true,
	"uwp":      true,
}

// Parse splits a target triple into its components. It only rejects
// triples that are syntactically malformed; whether a triple is supported
// is decided by its consumers.
func Parse(triple string) (Triple, error) {
	raw := strings.TrimSpace(triple)
	parts := strings.Split(raw, "-")
	for _, p := range parts {
		if p == "" {
			return Triple{}, fmt.Errorf("malformed target triple %q", triple)
		}
	}
	t := Triple{Raw: raw, Arch: parts[0]}
	switch len(parts) {
	case 2:
		t.OS = parts[1]
	case 3:
		if knownVendors[parts[1]] {
			t.Vendor, t.OS = parts[1], parts[2]
		} else {
			t.OS, t.Env = parts[1], parts[2]
		}
	case 4:
		t.Vendor, t.OS, t.Env = parts[1], parts[2], parts[3]
	default:
		return Triple{}, fmt.Errorf("malformed target triple %q", triple)
	}
	return t, nil
}

// MustParse is like Parse but panics on malformed input. For tests and
// static tables only.
func MustParse(triple string) Triple {
	t, err := Parse(triple)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Triple) String() string {
	return t.Raw
}

// Contains reports whether the raw triple contains sub.
func (t Triple) Contains(sub string) bool {
	return strings.Contains(t.Raw, sub)
}

// IsWindows reports whether the triple targets Windows.
func (t Triple) IsWindows() bool {
	return t.OS == "windows"
}

// IsMSVC reports whether the triple targets the MSVC toolchain.
func (t Triple) IsMSVC() bool {
	return t.IsWindows() && strings.HasPrefix(t.Env, "msvc")
}

// StaticLibName returns the file name of the static library name on t:
// name.lib on Windows, libname.a elsewhere.
func (t Triple) StaticLibName(name string) string {
	if t.IsWindows() {
		return name + ".lib"
	}
	return "lib" + name + ".a"
}

// GOOS returns the Go operating system name for the triple.
func (t Triple) GOOS() (string, error) {
	switch {
	case t.OS == "linux" && strings.Contains(t.Env, "android"):
		return "android", nil
	case t.OS == "linux", t.OS == "android":
		return t.OS, nil
	case t.OS == "darwin":
		return "darwin", nil
	case t.OS == "ios":
		return "ios", nil
	case t.OS == "windows":
		return "windows", nil
	case t.OS == "freebsd", t.OS == "netbsd", t.OS == "openbsd":
		return t.OS, nil
	}
	return "", fmt.Errorf("%w: %s: no GOOS for os %q", ErrUnsupported, t.Raw, t.OS)
}

// GOARCH returns the Go architecture name for the triple.
func (t Triple) GOARCH() (string, error) {
	switch a := t.Arch; {
	case a == "x86_64":
		return "amd64", nil
	case a == "i386", a == "i586", a == "i686":
		return "386", nil
	case a == "aarch64", a == "arm64":
		return "arm64", nil
	case strings.HasPrefix(a, "arm"), strings.HasPrefix(a, "thumbv7"):
		return "arm", nil
	case strings.HasPrefix(a, "riscv64"):
		return "riscv64", nil
	case a == "powerpc64le":
		return "ppc64le", nil
	case a == "s390x":
		return "s390x", nil
	case a == "mips", a == "mipsel", a == "mips64", a == "mips64el":
		return strings.Replace(a, "el", "le", 1), nil
	case a == "wasm32":
		return "wasm", nil
	}
	return "", fmt.Errorf("%w: %s: no GOARCH for arch %q", ErrUnsupported, t.Raw, t.Arch)
}

var hostArch = map[string]string{
	"amd64":   "x86_64",
	"386":     "i686",
	"arm64":   "aarch64",
	"arm":     "armv7",
	"riscv64": "riscv64gc",
	"ppc64le": "powerpc64le",
	"s390x":   "s390x",
}

// Host returns the triple describing the machine skiabind runs on.
// On Windows the GNU toolchain is assumed, since cgo builds with MinGW.
func Host() string {
	return FromGo(runtime.GOOS, runtime.GOARCH)
}

// FromGo returns a target triple for a GOOS/GOARCH pair.
func FromGo(goos, goarch string) string {
	arch, ok := hostArch[goarch]
	if !ok {
		arch = goarch
	}
	switch goos {
	case "darwin":
		return arch + "-apple-darwin"
	case "windows":
		return arch + "-pc-windows-gnu"
	case "android":
		if goarch == "arm" {
			return "armv7-linux-androideabi"
		}
		return arch + "-linux-android"
	case "linux":
		if goarch == "arm" {
			return arch + "-unknown-linux-gnueabihf"
		}
		return arch + "-unknown-linux-gnu"
	}
	return arch + "-unknown-" + goos
}
