package rustimport

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Module is a built and loaded native extension, the engine's answer
// to an import request. To the caller it is indistinguishable from a
// natively written extension: the exported surface matches the binding
// mode used and the module is registered all-or-nothing.
type Module struct {
	// FullName is the dotted module name.
	FullName string

	// Artifact is the shared library backing the module.
	Artifact *BuildArtifact

	// Handle is the host-runtime handle, nil when the module was built
	// but not loaded.
	Handle LoadedModule
}

// Engine is the import bridge: it intercepts module resolution for
// managed source files, drives the directive/template/manifest/
// resolution/cache/compile pipeline, and hands back loaded modules.
//
// Concurrency: independent modules build fully in parallel. Builds of
// the same module identity are serialized: concurrent importers block
// on the single in-flight build and share its result or its failure,
// so a module is never compiled twice concurrently and a partially
// written artifact is never observed. Across processes, a per-identity
// file lock plus atomic artifact publication provide the same
// guarantee over the shared on-disk cache.
type Engine struct {
	settings    Settings
	store       ArtifactStore
	compiler    Compiler
	loader      Loader
	searchPaths []string
	log         *zap.SugaredLogger

	group singleflight.Group

	mu      sync.Mutex
	modules map[string]*Module
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore replaces the artifact store (tests inject a MemStore).
func WithStore(store ArtifactStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithCompiler replaces the toolchain driver.
func WithCompiler(c Compiler) Option {
	return func(e *Engine) { e.compiler = c }
}

// WithLoader sets the host-runtime loader used by Import. Without one,
// Build works but Import fails with ErrLoaderUnavailable.
func WithLoader(l Loader) Option {
	return func(e *Engine) { e.loader = l }
}

// WithSearchPaths sets the roots against which dotted module names are
// resolved. Defaults to the current working directory.
func WithSearchPaths(paths ...string) Option {
	return func(e *Engine) { e.searchPaths = paths }
}

// WithLogger sets the engine logger. Defaults to a no-op logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(e *Engine) { e.log = log }
}

// New creates an Engine with the given settings. By default it uses a
// DiskStore rooted in settings.CacheDir, the Cargo compiler, the
// platform loader (when built with cgo), and "." as the only search
// path.
func New(settings Settings, opts ...Option) *Engine {
	e := &Engine{
		settings:    settings,
		searchPaths: []string{"."},
		log:         zap.NewNop().Sugar(),
		modules:     map[string]*Module{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = NewDiskStore(settings.CacheDir, e.log)
	}
	if e.compiler == nil {
		e.compiler = NewCargo(settings, e.log)
	}
	if e.loader == nil {
		e.loader = platformLoader()
	}
	return e
}

// Import resolves a dotted module name, builds it if its fingerprint
// is stale, loads the artifact, and returns the module. A module
// already loaded in this process is returned as-is, matching the host
// runtime's module-namespace semantics.
func (e *Engine) Import(ctx context.Context, fullname string) (*Module, error) {
	e.mu.Lock()
	if m, ok := e.modules[fullname]; ok {
		e.mu.Unlock()
		return m, nil
	}
	e.mu.Unlock()

	imp, err := FindImportable(fullname, e.searchPaths, true)
	if err != nil {
		return nil, err
	}
	return e.importResolved(ctx, imp)
}

// ImportPath imports an explicit .rs file or crate directory. The
// intent is explicit, so the activation marker is not required.
func (e *Engine) ImportPath(ctx context.Context, path string) (*Module, error) {
	imp, err := FindImportablePath(path, "", false)
	if err != nil {
		return nil, err
	}
	return e.importResolved(ctx, imp)
}

func (e *Engine) importResolved(ctx context.Context, imp Importable) (*Module, error) {
	artifact, err := e.ensureBuilt(ctx, imp)
	if err != nil {
		return nil, err
	}

	if e.loader == nil {
		return nil, markf(ErrLoaderUnavailable, "no host-runtime loader configured for %s", imp.FullName())
	}

	handle, err := e.loader.Load(artifact.Path, imp.FullName())
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", imp.FullName())
	}

	module := &Module{FullName: imp.FullName(), Artifact: artifact, Handle: handle}

	// Registration happens only after a fully successful load, so an
	// importer never observes a partially registered module.
	e.mu.Lock()
	if existing, ok := e.modules[imp.FullName()]; ok {
		e.mu.Unlock()
		_ = handle.Close()
		return existing, nil
	}
	e.modules[imp.FullName()] = module
	e.mu.Unlock()

	return module, nil
}

// Build pre-builds a module by dotted name without importing it.
func (e *Engine) Build(ctx context.Context, fullname string) (*BuildArtifact, error) {
	imp, err := FindImportable(fullname, e.searchPaths, true)
	if err != nil {
		return nil, err
	}
	return e.ensureBuilt(ctx, imp)
}

// BuildPath pre-builds an explicit .rs file or crate directory.
func (e *Engine) BuildPath(ctx context.Context, path string) (*BuildArtifact, error) {
	imp, err := FindImportablePath(path, "", false)
	if err != nil {
		return nil, err
	}
	return e.ensureBuilt(ctx, imp)
}

/// BuildAll walks root and pre-builds every eligible module: .rs files
// carrying the activation marker and crate directories carrying the
// opt-in marker. Cargo target directories are not descended into.
func (e *Engine) BuildAll(ctx context.Context, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "target" {
				return filepath.SkipDir
			}
			return nil
		}

		var imp Importable
		switch {
		case strings.HasSuffix(path, ".rs") && filepath.Base(filepath.Dir(path)) != "src":
			single, _, err := TryCreateSingleFile(path, "", true)
			if err != nil {
				return err
			}
			if single != nil {
				imp = single
			}
		case strings.EqualFold(d.Name(), "Cargo.toml"):
			crate, _, err := TryCreateCrate(path, "", true)
			if err != nil {
				return err
			}
			if crate != nil {
				imp = crate
			}
		}
		if imp == nil {
			return nil
		}

		e.log.Infow("building", "module", imp.FullName(), "path", imp.SourcePath())
		_, err = e.ensureBuilt(ctx, imp)
		return err
	})
}

// Clean drops every cached artifact.
func (e *Engine) Clean() error {
	if s, ok := e.store.(*DiskStore); ok {
		return s.Clean()
	}
	return nil
}

// FingerprintInputsFor exposes the exact input set that would be
// fingerprinted for the module at path. The watch command uses it to
// know which files should trigger a rebuild.
func (e *Engine) FingerprintInputsFor(path string) (*FingerprintInputs, error) {
	imp, err := FindImportablePath(path, "", false)
	if err != nil {
		return nil, err
	}
	pre, err := imp.Preprocess()
	if err != nil {
		return nil, err
	}
	plan, err := ResolveDependencies(imp, pre)
	if err != nil {
		return nil, err
	}
	in := e.fingerprintInputs(imp, pre, plan)
	return &in, nil
}

func (e *Engine) fingerprintInputs(imp Importable, pre *PreprocessResult, plan *BuildPlan) FingerprintInputs {
	return FingerprintInputs{
		SourcePatterns:     imp.SourcePatterns(),
		ManifestDigest:     pre.Manifest.CanonicalDigestInput(),
		WatchPatterns:      pre.WatchPatterns,
		DependencyPatterns: plan.DependencyPatterns(),
		Release:            e.settings.ReleaseBinaries,
	}
}

// ensureBuilt runs the pipeline for one module under the per-identity
// build lock: directives are re-parsed, the manifest re-synthesized,
// the dependency graph re-resolved, and the fingerprint recomputed on
// every attempt; only the compile is skipped on a cache hit.
func (e *Engine) ensureBuilt(ctx context.Context, imp Importable) (*BuildArtifact, error) {
	v, err, _ := e.group.Do(imp.Identity(), func() (interface{}, error) {
		return e.buildLocked(ctx, imp)
	})
	if err != nil {
		return nil, err
	}
	return v.(*BuildArtifact), nil
}

func (e *Engine) buildLocked(ctx context.Context, imp Importable) (*BuildArtifact, error) {
	log := e.log.Named("build").With("module", imp.FullName())

	pre, err := imp.Preprocess()
	if err != nil {
		return nil, err
	}

	plan, err := ResolveDependencies(imp, pre)
	if err != nil {
		return nil, err
	}

	fp, err := ComputeFingerprint(e.fingerprintInputs(imp, pre, plan))
	if err != nil {
		return nil, err
	}

	if e.settings.ReleaseMode {
		// Production: artifacts must be pre-built; never compile.
		artifact, err := e.store.Lookup(imp.Identity())
		if err != nil {
			return nil, err
		}
		if artifact == nil {
			return nil, markf(ErrModuleNotFound,
				"release mode is enabled but no pre-built artifact exists for %s", imp.FullName())
		}
		return artifact, nil
	}

	if !e.settings.ForceRebuild {
		if artifact := e.cacheLookup(imp.Identity(), fp, log); artifact != nil {
			log.Debugw("cache hit", "fingerprint", string(fp))
			return artifact, nil
		}
	}

	// Cross-process exclusion over the shared cache directory. In-process
	// exclusion is already provided by the singleflight group.
	if disk, ok := e.store.(*DiskStore); ok {
		lockPath := disk.LockPath(imp.Identity())
		if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
			return nil, err
		}
		lock := flock.New(lockPath)
		if err := lock.Lock(); err != nil {
			return nil, errors.Wrapf(err, "acquiring build lock for %s", imp.FullName())
		}
		defer func() { _ = lock.Unlock() }()

		// Another process may have finished the same build while we
		// waited on the lock.
		if !e.settings.ForceRebuild {
			if artifact := e.cacheLookup(imp.Identity(), fp, log); artifact != nil {
				log.Debugw("built by another process while waiting on the lock")
				return artifact, nil
			}
		}
	}

	// Only the real toolchain driver needs a toolchain present.
	if _, ok := e.compiler.(*Cargo); ok {
		if err := EnsureToolchain(ctx, e.settings.CargoExecutable); err != nil {
			return nil, err
		}
	}

	log.Infow("compiling", "binding", pre.Binding.String(), "release", e.settings.ReleaseBinaries)

	crateDir, err := imp.Materialize(e.settings.CacheDir, pre)
	if err != nil {
		return nil, err
	}

	result, err := e.compiler.Compile(ctx, &CompileRequest{
		CrateDir:  crateDir,
		Release:   e.settings.ReleaseBinaries,
		ExtraArgs: pre.ExtraCargoArgs,
	})
	if err != nil {
		// Failed builds never reach the store; importers blocked on
		// this build all receive this same error, and the next attempt
		// starts from a clean cache state.
		return nil, err
	}

	artifact, err := e.store.Store(imp.Identity(), fp, result.ArtifactPath)
	if err != nil {
		return nil, err
	}

	log.Infow("built", "artifact", artifact.Path)
	return artifact, nil
}

// cacheLookup is a fingerprint-checked store lookup. Corruption is
// recovered locally by treating the entry as a miss; the cache is an
// optimization, not a source of truth.
func (e *Engine) cacheLookup(identity string, fp Fingerprint, log *zap.SugaredLogger) *BuildArtifact {
	artifact, err := e.store.Lookup(identity)
	if err != nil {
		if errors.Is(err, ErrCacheCorruption) {
			log.Warnw("cache entry corrupted; rebuilding", "error", err)
			return nil
		}
		log.Warnw("cache lookup failed; rebuilding", "error", err)
		return nil
	}
	if artifact == nil || artifact.Fingerprint != fp {
		return nil
	}
	return artifact
}
