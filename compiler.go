package rustimport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CompileRequest describes one toolchain invocation against a
// materialized crate directory.
type CompileRequest struct {
	// CrateDir is the directory containing the synthesized Cargo.toml.
	CrateDir string

	// Release toggles cargo's --release flag.
	Release bool

	// ExtraArgs are appended to the cargo command line, after any
	// engine-wide arguments from Settings.
	ExtraArgs []string
}

// CompileResult is a successful toolchain run.
type CompileResult struct {
	// ArtifactPath is the produced shared library inside cargo's
	// target directory.
	ArtifactPath string

	// Diagnostics holds any compiler messages emitted during a
	// successful build (warnings), rendered exactly as rustc printed
	// them.
	Diagnostics string
}

// Compiler drives the native toolchain. The engine depends on this
// interface so tests can substitute a fake and never need a Rust
// toolchain installed.
//
// Implementations must be safe for concurrent use; the engine compiles
// independent modules in parallel.
type Compiler interface {
	Compile(ctx context.Context, req *CompileRequest) (*CompileResult, error)
}

// Cargo is the production Compiler. It runs
//
//	cargo rustc --lib --message-format json [--release] [extra args]
//
// in the crate directory and extracts the crate's own shared library
// artifact from the JSON message stream. Compiler diagnostics are the
// primary debugging surface for the end user, so on failure they are
// carried verbatim on the returned error, never reformatted.
type Cargo struct {
	// Executable is the cargo binary; empty means PATH lookup.
	Executable string

	// Timeout bounds one invocation. A stuck native compile fails
	// instead of hanging every importer blocked on the build. Zero
	// disables the bound.
	Timeout time.Duration

	// Args are appended to every invocation (from
	// RUSTIMPORT_CARGO_ARGS).
	Args []string

	log *zap.SugaredLogger
}

// NewCargo creates a Cargo from settings. A nil logger disables
// logging.
func NewCargo(settings Settings, log *zap.SugaredLogger) *Cargo {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Cargo{
		Executable: settings.CargoExecutable,
		Timeout:    settings.BuildTimeout,
		Args:       settings.CargoArgs,
		log:        log.Named("cargo"),
	}
}

// cargoMessage is one line of cargo's --message-format json stream.
type cargoMessage struct {
	Reason       string   `json:"reason"`
	ManifestPath string   `json:"manifest_path"`
	Filenames    []string `json:"filenames"`
	Message      *struct {
		Rendered string `json:"rendered"`
	} `json:"message"`
}

// Compile implements Compiler.
func (c *Cargo) Compile(ctx context.Context, req *CompileRequest) (*CompileResult, error) {
	executable := c.Executable
	if executable == "" {
		executable = "cargo"
	}
	if err := CheckToolAvailable(executable); err != nil {
		return nil, err
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := []string{"rustc", "--lib", "--message-format", "json"}
	if req.Release {
		args = append(args, "--release")
	}
	if fileExists(filepath.Join(req.CrateDir, "Cargo.lock")) {
		args = append(args, "--locked")
	}
	args = append(args, c.Args...)
	args = append(args, req.ExtraArgs...)

	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.Dir = req.CrateDir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	c.log.Debugw("invoking toolchain", "dir", req.CrateDir, "args", strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	crateDir, _ := filepath.Abs(req.CrateDir)
	var artifactPath string
	var diagnostics strings.Builder

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var msg cargoMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue // non-JSON chatter on stdout is not ours to interpret
		}
		switch msg.Reason {
		case "compiler-artifact":
			if filepath.Dir(msg.ManifestPath) == crateDir {
				artifactPath = pickSharedLibrary(msg.Filenames)
			}
		case "compiler-message":
			if msg.Message != nil {
				diagnostics.WriteString(msg.Message.Rendered)
			}
		}
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		// The scanner stops consuming on error; drain the rest so
		// cargo is never left blocked writing to a full pipe.
		io.Copy(io.Discard, stdout) //nolint:errcheck
	}
	waitErr := cmd.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, markf(ErrCompilationFailed,
			"cargo did not finish within %s\n\n%s%s", c.Timeout, diagnostics.String(), stderr.String())
	}
	if waitErr != nil {
		exitCode := -1
		if ee, ok := waitErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return nil, markf(ErrCompilationFailed,
			"cargo exited with code %d\n\n%s%s", exitCode, diagnostics.String(), stderr.String())
	}
	if scanErr != nil {
		// A dropped message stream means the artifact report may be
		// gone too; fail with the real cause instead of a misleading
		// no-artifact error.
		return nil, markf(ErrCompilationFailed,
			"reading cargo output: %v\n\n%s%s", scanErr, diagnostics.String(), stderr.String())
	}
	if artifactPath == "" {
		return nil, markf(ErrCompilationFailed,
			"cargo reported success but produced no shared library artifact for %s\n\n%s", req.CrateDir, stderr.String())
	}

	c.log.Debugw("toolchain finished", "artifact", artifactPath)
	return &CompileResult{ArtifactPath: artifactPath, Diagnostics: diagnostics.String()}, nil
}

// pickSharedLibrary selects the dynamically loadable artifact from a
// compiler-artifact message. A cdylib build can list an .rlib next to
// the shared library; prefer the loadable one.
func pickSharedLibrary(filenames []string) string {
	for _, f := range filenames {
		switch filepath.Ext(f) {
		case ".so", ".dylib", ".dll":
			return f
		}
	}
	if len(filenames) > 0 {
		return filenames[0]
	}
	return ""
}
