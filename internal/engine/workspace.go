// Package engine provides host-level helpers shared by every pe67 component:
// workspace-root resolution and host-OS identification. It has no knowledge of
// PE images, instructions, or any other core data type — those live in their
// own packages.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	env "github.com/xyproto/env/v2"
)

// OS identifies the host operating system pe67 is running on. Unlike the
// teacher's Arch/OS pair (which named cross-compilation targets), this only
// ever describes the host, since spec.md restricts the core to analyzing
// x86-64 Windows images regardless of what platform pe67 itself runs on.
type OS int

const (
	OSLinux OS = iota
	OSDarwin
	OSWindows
	OSOther
)

func (o OS) String() string {
	switch o {
	case OSLinux:
		return "linux"
	case OSDarwin:
		return "darwin"
	case OSWindows:
		return "windows"
	default:
		return "other"
	}
}

// ParseOS maps a runtime.GOOS-style string to an OS value.
func ParseOS(s string) (OS, error) {
	switch strings.ToLower(s) {
	case "linux":
		return OSLinux, nil
	case "darwin", "macos":
		return OSDarwin, nil
	case "windows", "win":
		return OSWindows, nil
	default:
		return OSOther, fmt.Errorf("unrecognized host OS: %s", s)
	}
}

// HostOS returns the OS this process is running on.
func HostOS() OS {
	o, err := ParseOS(runtime.GOOS)
	if err != nil {
		return OSOther
	}
	return o
}

// workspaceEnvVar is the override named in spec.md §6.
const workspaceEnvVar = "WORKSPACE"

// ResolveOutputDir implements spec.md §6's "project folder rule": if target
// lies outside the configured workspace root, outputs go to
// workspace/projects/<basename>/; otherwise they're written beside target.
//
// The workspace root itself is WORKSPACE if set, else "workspace" under the
// current directory, matching the teacher's habit (env.go in xyproto/env)
// of falling back to a sane default rather than erroring when an override
// is absent.
func ResolveOutputDir(target string) (string, error) {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolving target path: %w", err)
	}

	root := env.Str(workspaceEnvVar, "workspace")
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving workspace root: %w", err)
	}

	rel, err := filepath.Rel(absRoot, absTarget)
	insideWorkspace := err == nil && !strings.HasPrefix(rel, "..") && rel != ".."

	if insideWorkspace {
		return filepath.Dir(absTarget), nil
	}

	basename := strings.TrimSuffix(filepath.Base(absTarget), filepath.Ext(absTarget))
	return filepath.Join(absRoot, "projects", basename), nil
}

// EnsureOutputDir creates dir (and parents) if it does not already exist.
func EnsureOutputDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory %s: %w", dir, err)
	}
	return nil
}
