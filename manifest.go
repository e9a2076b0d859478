package rustimport

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Manifest is the fully merged build descriptor for one module: the
// template's defaults, the user's inline fragment, an on-disk
// Cargo.toml for crate modules, and the mandatory cdylib output kind,
// folded into one TOML document ready to be materialized inside the
// isolated build directory.
type Manifest struct {
	// Data is the merged manifest tree.
	Data map[string]interface{}
}

// PackageName returns package.name, or the empty string if absent.
func (m *Manifest) PackageName() string {
	if pkg, ok := m.Data["package"].(map[string]interface{}); ok {
		if name, ok := pkg["name"].(string); ok {
			return name
		}
	}
	return ""
}

// Encode renders the manifest as TOML for materialization.
func (m *Manifest) Encode() ([]byte, error) {
	return toml.Marshal(m.Data)
}

// CanonicalDigestInput renders the manifest tree in a deterministic
// line-oriented form used only for fingerprinting. TOML encoders make
// no ordering promises, and a fingerprint must never change because map
// iteration order did.
func (m *Manifest) CanonicalDigestInput() []byte {
	var sb strings.Builder
	writeCanonical(&sb, "", m.Data)
	return []byte(sb.String())
}

func writeCanonical(sb *strings.Builder, prefix string, node interface{}) {
	switch v := node.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			writeCanonical(sb, key, v[k])
		}
	case []interface{}:
		for i, item := range v {
			writeCanonical(sb, fmt.Sprintf("%s[%d]", prefix, i), item)
		}
	default:
		fmt.Fprintf(sb, "%s=%v\n", prefix, v)
	}
}

// PathDependencies returns the absolute directories of every path
// dependency declared anywhere in the manifest, deduplicated and
// sorted. Relative paths are resolved against root (the directory the
// manifest's declarations are relative to).
func (m *Manifest) PathDependencies(root string) []string {
	seen := map[string]struct{}{}
	for _, table := range dependencyTables(m.Data) {
		for _, spec := range table {
			dep, ok := spec.(map[string]interface{})
			if !ok {
				continue
			}
			p, ok := dep["path"].(string)
			if !ok {
				continue
			}
			if !filepath.IsAbs(p) {
				p = filepath.Join(root, p)
			}
			seen[filepath.Clean(p)] = struct{}{}
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// baseManifest parses the user's manifest fragment (from //: directive
// lines) and, for crate modules, the crate's own Cargo.toml, into one
// table ready for templating.
//
// The fragment's relative path dependencies are rewritten to absolute
// paths rooted at sourceRoot, since the synthesized manifest is
// materialized in a private build directory that is not co-located with
// the source. The crate manifest's path dependencies are left
// untouched: the whole crate tree is copied into the build directory
// with its layout preserved.
//
// The crate manifest overrides the fragment wherever both declare the
// same key.
func baseManifest(fragment, crateManifest []byte, sourceRoot string) (map[string]interface{}, error) {
	merged := map[string]interface{}{}

	if len(fragment) > 0 {
		if err := toml.Unmarshal(fragment, &merged); err != nil {
			return nil, markf(ErrMalformedDirective, "manifest fragment is not valid TOML: %v", err)
		}
		rewritePathDependencies(merged, sourceRoot)
	}

	if len(crateManifest) > 0 {
		var disk map[string]interface{}
		if err := toml.Unmarshal(crateManifest, &disk); err != nil {
			return nil, markf(ErrManifestConflict, "crate Cargo.toml is not valid TOML: %v", err)
		}
		merged = mergeManifests(disk, merged)
	}

	return merged, nil
}

// finalizeManifest turns a merged table into the build descriptor.
// libName seeds package and lib identity when nothing declared one, so
// a bare "// rustimport" file with no fragment still builds, and the
// mandatory output kind is enforced last: a user-declared crate-type
// that excludes "cdylib" is an irreconcilable conflict.
func finalizeManifest(data map[string]interface{}, libName string) (*Manifest, error) {
	merged := mergeManifests(data, map[string]interface{}{
		"package": map[string]interface{}{
			"name":    libName,
			"version": "0.1.0",
			"edition": "2021",
		},
		"lib": map[string]interface{}{
			"name": libName,
		},
	})

	if err := enforceDylibOutput(merged); err != nil {
		return nil, err
	}

	return &Manifest{Data: merged}, nil
}

// mergeManifests merges defaults under user: every key present in user
// wins, missing keys are taken from defaults, and tables are merged
// recursively. Neither input is modified.
func mergeManifests(user, defaults map[string]interface{}) map[string]interface{} {
	out := deepCopyTable(user)
	for k, dv := range defaults {
		uv, exists := out[k]
		if !exists {
			out[k] = deepCopyValue(dv)
			continue
		}
		ut, uok := uv.(map[string]interface{})
		dt, dok := dv.(map[string]interface{})
		if uok && dok {
			out[k] = mergeManifests(ut, dt)
		}
		// User value wins for every other combination.
	}
	return out
}

func deepCopyTable(t map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(t))
	for k, v := range t {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyTable(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// Every table class that may carry path dependencies, including the
// per-target variants where "*" matches any target triple.
var dependencyTableQueries = []string{
	"dependencies",
	"dev-dependencies",
	"build-dependencies",
	"target.*.dependencies",
	"target.*.dev-dependencies",
	"target.*.build-dependencies",
}

func dependencyTables(manifest map[string]interface{}) []map[string]interface{} {
	var tables []map[string]interface{}
	for _, q := range dependencyTableQueries {
		for _, node := range queryTable(manifest, strings.Split(q, ".")) {
			if t, ok := node.(map[string]interface{}); ok {
				tables = append(tables, t)
			}
		}
	}
	return tables
}

// queryTable walks a nested table with a dot-split query where "*"
// matches every child, returning all matches.
func queryTable(node interface{}, keys []string) []interface{} {
	if len(keys) == 0 {
		return []interface{}{node}
	}

	table, ok := node.(map[string]interface{})
	if !ok {
		return nil
	}

	if keys[0] == "*" {
		var out []interface{}
		childKeys := make([]string, 0, len(table))
		for k := range table {
			childKeys = append(childKeys, k)
		}
		sort.Strings(childKeys)
		for _, k := range childKeys {
			out = append(out, queryTable(table[k], keys[1:])...)
		}
		return out
	}

	if child, ok := table[keys[0]]; ok {
		return queryTable(child, keys[1:])
	}
	return nil
}

// rewritePathDependencies resolves every relative path dependency in
// the manifest against root, in place. Absolute paths pass through.
func rewritePathDependencies(manifest map[string]interface{}, root string) {
	for _, table := range dependencyTables(manifest) {
		for _, spec := range table {
			dep, ok := spec.(map[string]interface{})
			if !ok {
				continue
			}
			if p, ok := dep["path"].(string); ok && !filepath.IsAbs(p) {
				dep["path"] = filepath.Join(root, p)
			}
		}
	}
}

// enforceDylibOutput guarantees lib.crate-type produces a dynamically
// loadable shared library. A missing declaration is defaulted; one that
// excludes cdylib cannot be reconciled with the engine's output
// contract and is rejected.
func enforceDylibOutput(manifest map[string]interface{}) error {
	lib, ok := manifest["lib"].(map[string]interface{})
	if !ok {
		lib = map[string]interface{}{}
		manifest["lib"] = lib
	}

	raw, declared := lib["crate-type"]
	if !declared {
		lib["crate-type"] = []interface{}{"cdylib"}
		return nil
	}

	kinds, ok := raw.([]interface{})
	if !ok {
		return markf(ErrManifestConflict, "lib.crate-type must be an array, got %T", raw)
	}
	for _, k := range kinds {
		if s, ok := k.(string); ok && s == "cdylib" {
			return nil
		}
	}
	return markf(ErrManifestConflict, "lib.crate-type %v does not include %q; the engine must produce a dynamically loadable library", kinds, "cdylib")
}
