package rustimport

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Importable is a source entity the engine can turn into a loaded
// native module: either a single managed .rs file or a whole crate
// directory. An Importable is created per import attempt and never
// mutated afterwards; directives are re-parsed on every attempt since
// they can change between runs.
type Importable interface {
	// SourcePath returns the canonical absolute path of the source file
	// or crate directory.
	SourcePath() string

	// FullName returns the dotted module name the host runtime asked
	// for.
	FullName() string

	// Name returns the last segment of FullName, which is also the
	// library name the binding entry point must use.
	Name() string

	// Identity returns the module's cache key. Two paths never share an
	// identity; one path always maps to the same identity.
	Identity() string

	// Preprocess parses directives, resolves the template, and
	// synthesizes the manifest. Pure with respect to the filesystem: it
	// reads sources but writes nothing.
	Preprocess() (*PreprocessResult, error)

	// Materialize writes the preprocessed source tree and synthesized
	// manifest into a build directory under cacheDir and returns the
	// crate directory cargo must run in.
	Materialize(cacheDir string, pre *PreprocessResult) (string, error)

	// SourcePatterns returns the file patterns that make up the
	// module's own source set for fingerprinting, before watch globs
	// and dependency sets are added.
	SourcePatterns() []string
}

// PreprocessResult carries everything the later pipeline stages need
// from the parse and synthesis stages.
type PreprocessResult struct {
	Directives *DirectiveSet
	Manifest   *Manifest

	// Source is the template-rewritten source text, or nil when the
	// original file is used unchanged.
	Source []byte

	ExtraCargoArgs []string
	Binding        BindingMode

	// SourceRoot is the directory the fragment's relative declarations
	// were resolved against.
	SourceRoot string

	// WatchPatterns are the //d: globs, made absolute.
	WatchPatterns []string
}

// sharedLibSuffix returns the platform's dynamic library suffix.
func sharedLibSuffix() string {
	switch runtime.GOOS {
	case "darwin":
		return ".dylib"
	case "windows":
		return ".dll"
	default:
		return ".so"
	}
}

func pathIdentity(fullname, path string) string {
	sum := md5.Sum([]byte(path))
	return fullname + "-" + hex.EncodeToString(sum[:])
}

func lastSegment(fullname string) string {
	parts := strings.Split(fullname, ".")
	return parts[len(parts)-1]
}

// preprocessSource runs the shared parse/template/synthesis pipeline
// for the directive-bearing file at srcPath. crateManifestPath is empty
// for single-file modules.
func preprocessSource(srcPath, libName, crateManifestPath string) (*PreprocessResult, error) {
	source, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, err
	}

	set, err := ParseDirectives(source)
	if err != nil {
		return nil, err
	}

	tmpl, err := ResolveTemplate(set.Template)
	if err != nil {
		return nil, err
	}

	sourceRoot := filepath.Dir(srcPath)
	if crateManifestPath != "" {
		sourceRoot = filepath.Dir(crateManifestPath)
	}

	var crateManifest []byte
	if crateManifestPath != "" {
		crateManifest, err = os.ReadFile(crateManifestPath)
		if err != nil {
			return nil, err
		}
	}

	merged, err := baseManifest(set.ManifestFragment, crateManifest, sourceRoot)
	if err != nil {
		return nil, err
	}

	pre := &PreprocessResult{
		Directives: set,
		Binding:    BindingNone,
		SourceRoot: sourceRoot,
	}

	if tmpl != nil {
		res, err := tmpl.Process(TemplateInput{
			Path:     srcPath,
			LibName:  libName,
			Source:   source,
			Manifest: merged,
		})
		if err != nil {
			return nil, err
		}
		merged = res.Manifest
		pre.Source = res.Source
		pre.ExtraCargoArgs = res.ExtraCargoArgs
		pre.Binding = res.Binding
	}

	pre.Manifest, err = finalizeManifest(merged, libName)
	if err != nil {
		return nil, err
	}

	srcDir := filepath.Dir(srcPath)
	for _, p := range set.WatchPatterns {
		if !filepath.IsAbs(p) {
			p = filepath.Join(srcDir, p)
		}
		pre.WatchPatterns = append(pre.WatchPatterns, p)
	}

	return pre, nil
}

// SingleFileImportable is a managed single-file Rust library: one .rs
// file carrying the activation marker, built as a crate of its own in
// an isolated build directory.
type SingleFileImportable struct {
	path     string
	fullname string
}

// TryCreateSingleFile creates an importable for path (with or without
// the .rs suffix) if it names an existing file. With optIn set, a file
// lacking the activation marker is not eligible; the returned hint then
// explains what was found so import failures can surface it.
func TryCreateSingleFile(path, fullname string, optIn bool) (*SingleFileImportable, string, error) {
	if !strings.HasSuffix(path, ".rs") {
		path += ".rs"
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, "", nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", err
	}

	if fullname == "" {
		fullname = strings.TrimSuffix(filepath.Base(abs), ".rs")
	}

	if optIn {
		source, err := os.ReadFile(abs)
		if err != nil {
			return nil, "", err
		}
		set, err := ParseDirectives(source)
		if err != nil {
			return nil, "", err
		}
		if !set.Activated {
			hint := "candidate " + abs + " exists but does not carry the \"// rustimport\" activation marker; add it as the first line to make the file importable"
			return nil, hint, nil
		}
	}

	return &SingleFileImportable{path: abs, fullname: fullname}, "", nil
}

func (s *SingleFileImportable) SourcePath() string { return s.path }
func (s *SingleFileImportable) FullName() string   { return s.fullname }
func (s *SingleFileImportable) Name() string       { return lastSegment(s.fullname) }
func (s *SingleFileImportable) Identity() string   { return pathIdentity(s.fullname, s.path) }

func (s *SingleFileImportable) SourcePatterns() []string {
	return []string{s.path}
}

func (s *SingleFileImportable) Preprocess() (*PreprocessResult, error) {
	return preprocessSource(s.path, s.Name(), "")
}

// Materialize lays the file out as a crate:
//
//	<cacheDir>/<identity>/<crate>/Cargo.toml
//	<cacheDir>/<identity>/<crate>/src/lib.rs
func (s *SingleFileImportable) Materialize(cacheDir string, pre *PreprocessResult) (string, error) {
	crateName := strings.TrimSuffix(filepath.Base(s.path), ".rs")
	crateDir := filepath.Join(cacheDir, s.Identity(), crateName)

	if err := os.MkdirAll(filepath.Join(crateDir, "src"), 0755); err != nil {
		return "", err
	}

	source := pre.Source
	if source == nil {
		var err error
		if source, err = os.ReadFile(s.path); err != nil {
			return "", err
		}
	}
	if err := os.WriteFile(filepath.Join(crateDir, "src", "lib.rs"), source, 0644); err != nil {
		return "", err
	}

	manifest, err := pre.Manifest.Encode()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(crateDir, "Cargo.toml"), manifest, 0644); err != nil {
		return "", err
	}

	return crateDir, nil
}

// CrateImportable is a whole crate directory managed by the engine,
// optionally living inside a Cargo workspace. A workspace member is
// materialized together with its whole workspace so sibling path
// dependencies resolve, but into a build directory private to the
// member, so concurrent builds of two members never touch each other's
// synthesized manifests.
type CrateImportable struct {
	path     string // crate directory
	fullname string
}

// CrateMarkerFile opts a crate directory into the engine without
// touching its Cargo.toml. The file's contents are ignored.
const CrateMarkerFile = ".rustimport"

// TryCreateCrate creates an importable for a crate directory (or a
// path to its Cargo.toml). With optIn set, the crate must carry either
// a .rustimport marker file or a "rustimport" comment on the first
// meaningful line of its Cargo.toml.
func TryCreateCrate(path, fullname string, optIn bool) (*CrateImportable, string, error) {
	manifestPath := path
	if !strings.EqualFold(filepath.Base(path), "Cargo.toml") {
		manifestPath = filepath.Join(path, "Cargo.toml")
	}

	if info, err := os.Stat(manifestPath); err != nil || info.IsDir() {
		return nil, "", nil
	}

	dir, err := filepath.Abs(filepath.Dir(manifestPath))
	if err != nil {
		return nil, "", err
	}

	if fullname == "" {
		fullname = filepath.Base(dir)
	}

	if optIn {
		if _, err := os.Stat(filepath.Join(dir, CrateMarkerFile)); err != nil {
			manifest, err := os.ReadFile(filepath.Join(dir, "Cargo.toml"))
			if err != nil {
				return nil, "", err
			}
			if !FirstLineContains(manifest, "rustimport") {
				hint := "crate candidate " + dir + " exists but carries neither a " + CrateMarkerFile + " marker file nor a \"rustimport\" comment at the top of its Cargo.toml"
				return nil, hint, nil
			}
		}
	}

	return &CrateImportable{path: dir, fullname: fullname}, "", nil
}

func (c *CrateImportable) SourcePath() string { return c.path }
func (c *CrateImportable) FullName() string   { return c.fullname }
func (c *CrateImportable) Name() string       { return lastSegment(c.fullname) }

// Identity is keyed by the crate path. The build directory is keyed by
// the same identity, so the per-identity build lock covers everything
// from fingerprinting through materialization and artifact
// registration.
func (c *CrateImportable) Identity() string {
	return pathIdentity(c.fullname, c.path)
}

func (c *CrateImportable) manifestPath() string {
	return filepath.Join(c.path, "Cargo.toml")
}

// workspacePath returns the nearest ancestor directory whose Cargo.toml
// declares a [workspace] table, or empty when the crate stands alone.
// An ancestor crate that is not a workspace root must not be adopted:
// building from its directory would drag an unrelated tree into the
// build.
func (c *CrateImportable) workspacePath() string {
	p := c.path
	for {
		parent := filepath.Dir(p)
		if parent == p {
			return ""
		}
		p = parent
		if manifest := filepath.Join(p, "Cargo.toml"); fileExists(manifest) && declaresWorkspace(manifest) {
			return p
		}
	}
}

func declaresWorkspace(manifestPath string) bool {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return false
	}
	var data map[string]interface{}
	if err := toml.Unmarshal(raw, &data); err != nil {
		return false
	}
	_, ok := data["workspace"]
	return ok
}

// rootPath is the tree copied into the build directory: the workspace
// when there is one, the crate otherwise.
func (c *CrateImportable) rootPath() string {
	if ws := c.workspacePath(); ws != "" {
		return ws
	}
	return c.path
}

func (c *CrateImportable) SourcePatterns() []string {
	root := c.rootPath()
	return []string{
		filepath.Join(root, "**", "*.rs"),
		filepath.Join(root, "**", "Cargo.*"),
	}
}

func (c *CrateImportable) Preprocess() (*PreprocessResult, error) {
	return preprocessSource(filepath.Join(c.path, "src", "lib.rs"), c.Name(), c.manifestPath())
}

// Materialize copies the crate (or its whole workspace) into the
// module's own build directory, skipping any existing target/ tree,
// then overwrites the crate's lib.rs and Cargo.toml with the
// preprocessed versions. The directory is keyed by Identity(), the same
// key the engine's build locks use, so no concurrent build of a sibling
// workspace member can rewrite this tree mid-compile.
func (c *CrateImportable) Materialize(cacheDir string, pre *PreprocessResult) (string, error) {
	root := c.rootPath()
	outRoot := filepath.Join(cacheDir, c.Identity(), filepath.Base(root))

	if err := copyTree(root, outRoot, "target"); err != nil {
		return "", err
	}

	rel, err := filepath.Rel(root, c.path)
	if err != nil {
		return "", err
	}
	crateDir := filepath.Join(outRoot, rel)

	if pre.Source != nil {
		if err := os.WriteFile(filepath.Join(crateDir, "src", "lib.rs"), pre.Source, 0644); err != nil {
			return "", err
		}
	}

	manifest, err := pre.Manifest.Encode()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(crateDir, "Cargo.toml"), manifest, 0644); err != nil {
		return "", err
	}

	return crateDir, nil
}
