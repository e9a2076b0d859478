package rustimport

import (
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// ResolvedCrate is one node in a module's path-dependency graph. Nodes
// are registered by canonical identity (the crate directory's absolute
// path), so two modules depending on the same underlying crate share a
// single node rather than duplicating it.
type ResolvedCrate struct {
	// Identity is the canonical absolute path of the crate directory;
	// for the importing module itself, of its source.
	Identity string

	// Name is the crate's package name, falling back to the directory
	// name when the manifest does not declare one.
	Name string

	// ManifestPath is the crate's Cargo.toml, empty for the importing
	// module (whose manifest is synthesized, not on disk).
	ManifestPath string

	// DependsOn lists the identities of this crate's direct path
	// dependencies, sorted.
	DependsOn []string
}

// BuildPlan is the deterministic, topologically ordered expansion of a
// module's path-dependency graph: dependencies always precede their
// dependents, and the importing module is last.
type BuildPlan struct {
	// Crates in build order.
	Crates []*ResolvedCrate

	registry map[string]*ResolvedCrate
}

// Crate returns the node registered under identity, or nil.
func (p *BuildPlan) Crate(identity string) *ResolvedCrate {
	return p.registry[identity]
}

// DependencyPatterns returns the file patterns covering every resolved
// dependency's source set. Folding these into the importing module's
// fingerprint makes a change to any dependency invalidate the
// dependent's cache entry, transitively, even when the dependent's own
// source is untouched.
func (p *BuildPlan) DependencyPatterns() []string {
	var patterns []string
	for _, c := range p.Crates {
		if c.ManifestPath == "" {
			continue // the importing module's own sources are fingerprinted separately
		}
		dir := filepath.Dir(c.ManifestPath)
		patterns = append(patterns,
			filepath.Join(dir, "**", "*.rs"),
			filepath.Join(dir, "**", "Cargo.*"),
		)
	}
	return patterns
}

// ResolveDependencies expands the module's path dependencies
// transitively into a BuildPlan.
//
// Every path dependency must name a directory containing a Cargo.toml;
// a missing target fails with ErrDependencyNotFound before any
// compilation is attempted. A cycle anywhere in the graph fails with
// ErrDependencyCycle naming the cycle.
func ResolveDependencies(imp Importable, pre *PreprocessResult) (*BuildPlan, error) {
	plan := &BuildPlan{registry: map[string]*ResolvedCrate{}}

	root := &ResolvedCrate{
		Identity: imp.SourcePath(),
		Name:     imp.Name(),
	}
	plan.registry[root.Identity] = root

	r := &depWalker{plan: plan, onStack: map[string]bool{root.Identity: true}, stack: []string{root.Name}}

	depDirs := pre.Manifest.PathDependencies(pre.SourceRoot)
	for _, dir := range depDirs {
		id, err := r.visit(dir, root.Name)
		if err != nil {
			return nil, err
		}
		root.DependsOn = append(root.DependsOn, id)
	}

	plan.Crates = append(plan.Crates, root)
	return plan, nil
}

type depWalker struct {
	plan    *BuildPlan
	onStack map[string]bool
	stack   []string
}

// visit resolves one path dependency directory, recursing into its own
// path dependencies first so the plan comes out dependencies-first.
func (w *depWalker) visit(dir, dependent string) (string, error) {
	identity, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	identity = filepath.Clean(identity)

	manifestPath := filepath.Join(identity, "Cargo.toml")
	if !fileExists(manifestPath) {
		return "", markf(ErrDependencyNotFound,
			"path dependency %s of %s does not exist or has no Cargo.toml", identity, dependent)
	}

	name := crateName(manifestPath)

	if w.onStack[identity] {
		cycle := append(w.stack, name)
		return "", markf(ErrDependencyCycle, "dependency cycle: %s", strings.Join(cycle, " -> "))
	}

	if existing, done := w.plan.registry[identity]; done {
		return existing.Identity, nil // diamond: shared node, resolved once
	}

	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", err
	}
	var data map[string]interface{}
	if err := toml.Unmarshal(raw, &data); err != nil {
		return "", markf(ErrManifestConflict, "dependency manifest %s is not valid TOML: %v", manifestPath, err)
	}

	node := &ResolvedCrate{
		Identity:     identity,
		Name:         name,
		ManifestPath: manifestPath,
	}

	w.onStack[identity] = true
	w.stack = append(w.stack, name)

	m := &Manifest{Data: data}
	for _, depDir := range m.PathDependencies(identity) {
		id, err := w.visit(depDir, name)
		if err != nil {
			return "", err
		}
		node.DependsOn = append(node.DependsOn, id)
	}

	w.stack = w.stack[:len(w.stack)-1]
	delete(w.onStack, identity)

	// Post-order insertion keeps dependencies ahead of dependents.
	w.plan.registry[identity] = node
	w.plan.Crates = append(w.plan.Crates, node)

	return identity, nil
}

// crateName reads package.name from a manifest, falling back to the
// directory name.
func crateName(manifestPath string) string {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return filepath.Base(filepath.Dir(manifestPath))
	}
	var data map[string]interface{}
	if err := toml.Unmarshal(raw, &data); err != nil {
		return filepath.Base(filepath.Dir(manifestPath))
	}
	if name := (&Manifest{Data: data}).PackageName(); name != "" {
		return name
	}
	return filepath.Base(filepath.Dir(manifestPath))
}
