package rustimport

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
)

// MinimumCargoVersion is the oldest toolchain the engine supports.
// Older cargos predate the stable --message-format json artifact
// reporting the compiler invocation relies on.
const MinimumCargoVersion = "1.64.0"

// ToolRequirement describes a build tool dependency.
//
// Required tools must be available; optional tools are checked but a
// missing one does not fail the check; Alternatives satisfy the
// requirement when the primary name is not found.
type ToolRequirement struct {
	// Name is the primary tool binary name (e.g., "cargo").
	Name string

	// Alternatives are alternative tool names that can satisfy this
	// requirement.
	Alternatives []string

	// Optional indicates this tool won't cause an error if missing.
	Optional bool

	// Purpose is a human-readable description of why this tool is
	// needed.
	Purpose string
}

// CheckToolAvailable checks if a tool is available in the system PATH,
// or that an explicit path names an existing file.
func CheckToolAvailable(tool string) error {
	if strings.ContainsRune(tool, '/') {
		if fileExists(tool) {
			return nil
		}
		return errors.Newf("%s does not exist", tool)
	}
	if _, err := exec.LookPath(tool); err != nil {
		return errors.Newf("%s not found in PATH", tool)
	}
	return nil
}

// CheckRequiredTools verifies all required tools are available,
// reporting every missing required tool in a single error.
func CheckRequiredTools(requirements []ToolRequirement) error {
	var missing []string

	for _, req := range requirements {
		found := CheckToolAvailable(req.Name) == nil

		if !found {
			for _, alt := range req.Alternatives {
				if CheckToolAvailable(alt) == nil {
					found = true
					break
				}
			}
		}

		if !found && !req.Optional {
			if req.Purpose != "" {
				missing = append(missing, fmt.Sprintf("%s (%s)", req.Name, req.Purpose))
			} else {
				missing = append(missing, req.Name)
			}
		}
	}

	if len(missing) == 0 {
		return nil
	}
	if len(missing) == 1 {
		return errors.Newf("%s not found in PATH", missing[0])
	}
	return errors.Newf("missing required tools: %s", strings.Join(missing, ", "))
}

// EnsureToolchain verifies that cargo exists and meets
// MinimumCargoVersion. On a missing toolchain the error carries a
// platform-appropriate installation hint.
func EnsureToolchain(ctx context.Context, executable string) error {
	if executable == "" {
		executable = "cargo"
	}

	requirements := []ToolRequirement{
		{Name: executable, Purpose: "compile Rust crates into loadable libraries"},
		// rustc is optional here: cargo invokes it itself, and a broken
		// rustc surfaces through cargo's own diagnostics.
		{Name: "rustc", Optional: true},
	}
	if err := CheckRequiredTools(requirements); err != nil {
		err = errors.Wrap(err, "could not find the Rust toolchain")
		if runtime.GOOS == "windows" {
			return errors.WithHint(err,
				"install the toolchain via https://forge.rust-lang.org/infra/other-installation-methods.html")
		}
		return errors.WithHint(err, "install the toolchain with: curl https://sh.rustup.rs | sh")
	}

	version, err := cargoVersion(ctx, executable)
	if err != nil {
		// A cargo that won't report its version will fail loudly at
		// compile time anyway; don't block the pipeline here.
		return nil
	}

	minimum := semver.MustParse(MinimumCargoVersion)
	if version.LessThan(minimum) {
		return errors.WithHintf(
			errors.Newf("cargo %s is older than the minimum supported %s", version, minimum),
			"update the toolchain with: rustup update stable")
	}
	return nil
}

// cargoVersion parses `cargo --version` output, e.g.
// "cargo 1.77.2 (e52e36006 2024-03-26)".
func cargoVersion(ctx context.Context, executable string) (*semver.Version, error) {
	out, err := exec.CommandContext(ctx, executable, "--version").Output()
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(string(out))
	if len(fields) < 2 {
		return nil, errors.Newf("unexpected cargo --version output: %q", string(out))
	}
	return semver.NewVersion(fields[1])
}
