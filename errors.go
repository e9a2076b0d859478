package rustimport

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors for the engine's failure taxonomy.
//
// Every failure surfaced by this package is marked with exactly one of
// these sentinels, so callers can classify failures with errors.Is
// without depending on message text:
//
//	art, err := engine.Import(ctx, "mymodule")
//	if errors.Is(err, rustimport.ErrCompilationFailed) {
//	    // cargo diagnostics are preserved verbatim in err
//	}
//
// Failures are classified by pipeline stage:
//   - Parse stage: ErrMalformedDirective, ErrUnknownTemplate
//   - Synthesis stage: ErrManifestConflict
//   - Resolution stage: ErrDependencyNotFound, ErrDependencyCycle
//   - Compile stage: ErrCompilationFailed
//   - Cache stage: ErrCacheCorruption (recovered internally, never
//     propagated to importers; lookup treats it as a miss)
var (
	// ErrMalformedDirective indicates a recognized directive prefix whose
	// body could not be parsed (bad template name, invalid manifest
	// fragment, empty watch pattern).
	ErrMalformedDirective = errors.New("malformed rustimport directive")

	// ErrUnknownTemplate indicates an activation marker naming a template
	// that is not registered.
	ErrUnknownTemplate = errors.New("unknown template")

	// ErrManifestConflict indicates a structurally irreconcilable manifest
	// merge, such as a crate-type declaration that excludes the mandatory
	// dynamic library output kind. Simple user-over-template overrides are
	// not conflicts.
	ErrManifestConflict = errors.New("conflicting manifest declarations")

	// ErrDependencyNotFound indicates a path dependency whose target does
	// not exist on disk.
	ErrDependencyNotFound = errors.New("path dependency not found")

	// ErrDependencyCycle indicates a cycle in the path-dependency graph.
	// The error message names the cycle.
	ErrDependencyCycle = errors.New("dependency cycle")

	// ErrCompilationFailed indicates a non-zero cargo exit. The error
	// carries the toolchain's diagnostic output verbatim.
	ErrCompilationFailed = errors.New("compilation failed")

	// ErrCacheCorruption indicates an unreadable cached artifact or
	// unparsable fingerprint metadata. The cache treats it as a miss and
	// rebuilds; it never aborts an import.
	ErrCacheCorruption = errors.New("cache corruption")

	// ErrModuleNotFound indicates that no managed source file matched the
	// requested module name. Files present but lacking the activation
	// marker are reported as hints on this error, not as matches.
	ErrModuleNotFound = errors.New("no importable module found")

	// ErrLoaderUnavailable indicates the engine was built without a usable
	// host-runtime loader (for example, a cgo-less build asked to load an
	// artifact).
	ErrLoaderUnavailable = errors.New("module loader unavailable")
)

// markf builds an error wrapping cause with a formatted message while
// marking it with the given sentinel for errors.Is classification.
func markf(sentinel error, format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), sentinel)
}
