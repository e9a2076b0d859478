package rustimport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryCreateSingleFile(t *testing.T) {
	dir := t.TempDir()
	marked := filepath.Join(dir, "marked.rs")
	writeFile(t, marked, "// rustimport\nfn f() {}\n")
	unmarked := filepath.Join(dir, "unmarked.rs")
	writeFile(t, unmarked, "fn f() {}\n")

	t.Run("marked file is importable", func(t *testing.T) {
		imp, hint, err := TryCreateSingleFile(marked, "marked", true)
		require.NoError(t, err)
		assert.Empty(t, hint)
		require.NotNil(t, imp)
		assert.Equal(t, "marked", imp.FullName())
		assert.Equal(t, marked, imp.SourcePath())
	})

	t.Run("suffix is optional", func(t *testing.T) {
		imp, _, err := TryCreateSingleFile(filepath.Join(dir, "marked"), "marked", true)
		require.NoError(t, err)
		require.NotNil(t, imp)
	})

	t.Run("unmarked file yields a hint", func(t *testing.T) {
		imp, hint, err := TryCreateSingleFile(unmarked, "unmarked", true)
		require.NoError(t, err)
		assert.Nil(t, imp)
		assert.Contains(t, hint, "activation marker")
	})

	t.Run("opt-in bypass for explicit paths", func(t *testing.T) {
		imp, _, err := TryCreateSingleFile(unmarked, "unmarked", false)
		require.NoError(t, err)
		require.NotNil(t, imp)
	})

	t.Run("missing file is not an error", func(t *testing.T) {
		imp, hint, err := TryCreateSingleFile(filepath.Join(dir, "ghost.rs"), "ghost", true)
		require.NoError(t, err)
		assert.Nil(t, imp)
		assert.Empty(t, hint)
	})

	t.Run("fullname defaults to the file name", func(t *testing.T) {
		imp, _, err := TryCreateSingleFile(marked, "", true)
		require.NoError(t, err)
		require.NotNil(t, imp)
		assert.Equal(t, "marked", imp.FullName())
	})
}

func TestIdentityIsStableAndDistinct(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.rs")
	writeFile(t, a, "// rustimport\n")
	b := filepath.Join(dir, "sub", "a.rs")
	writeFile(t, b, "// rustimport\n")

	impA1, _, err := TryCreateSingleFile(a, "a", true)
	require.NoError(t, err)
	impA2, _, err := TryCreateSingleFile(a, "a", true)
	require.NoError(t, err)
	impB, _, err := TryCreateSingleFile(b, "a", true)
	require.NoError(t, err)

	assert.Equal(t, impA1.Identity(), impA2.Identity(), "one path, one identity")
	assert.NotEqual(t, impA1.Identity(), impB.Identity(), "same name in two places must not collide")
}

func TestDottedNameLastSegmentIsLibName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pkg", "sub", "leaf.rs")
	writeFile(t, path, "// rustimport\nfn f() {}\n")

	imp, _, err := TryCreateSingleFile(path, "pkg.sub.leaf", true)
	require.NoError(t, err)
	require.NotNil(t, imp)
	assert.Equal(t, "pkg.sub.leaf", imp.FullName())
	assert.Equal(t, "leaf", imp.Name())
}

func TestSingleFilePreprocessBindingModes(t *testing.T) {
	dir := t.TempDir()

	t.Run("no template", func(t *testing.T) {
		path := filepath.Join(dir, "plainmod.rs")
		writeFile(t, path, "// rustimport\nfn f() {}\n")
		imp, _, err := TryCreateSingleFile(path, "plainmod", true)
		require.NoError(t, err)

		pre, err := imp.Preprocess()
		require.NoError(t, err)
		assert.Equal(t, BindingNone, pre.Binding)
		assert.Nil(t, pre.Source)
		assert.Equal(t, "plainmod", pre.Manifest.PackageName())
	})

	t.Run("pyo3 auto", func(t *testing.T) {
		path := filepath.Join(dir, "automod.rs")
		writeFile(t, path, "// rustimport:pyo3\n\n#[pyfunction]\nfn g(x: i32) -> i32 { x }\n")
		imp, _, err := TryCreateSingleFile(path, "automod", true)
		require.NoError(t, err)

		pre, err := imp.Preprocess()
		require.NoError(t, err)
		assert.Equal(t, BindingAuto, pre.Binding)
		require.NotNil(t, pre.Source)
		assert.Contains(t, string(pre.Source), "wrap_pyfunction!(g, m)")
	})

	t.Run("pyo3 manual", func(t *testing.T) {
		path := filepath.Join(dir, "manualmod.rs")
		writeFile(t, path, "// rustimport:pyo3\n\n#[pyfunction]\nfn f() {}\n\n#[pymodule]\nfn manualmod(_py: Python, m: &Bound<'_, PyModule>) -> PyResult<()> { Ok(()) }\n")
		imp, _, err := TryCreateSingleFile(path, "manualmod", true)
		require.NoError(t, err)

		pre, err := imp.Preprocess()
		require.NoError(t, err)
		assert.Equal(t, BindingManual, pre.Binding)
		assert.Nil(t, pre.Source)
	})
}

func TestSingleFileMaterializeLayout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "laidout.rs")
	writeFile(t, path, "// rustimport\nfn f() {}\n")

	imp, _, err := TryCreateSingleFile(path, "laidout", true)
	require.NoError(t, err)
	pre, err := imp.Preprocess()
	require.NoError(t, err)

	cacheDir := t.TempDir()
	crateDir, err := imp.Materialize(cacheDir, pre)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(crateDir, "Cargo.toml"))
	assert.FileExists(t, filepath.Join(crateDir, "src", "lib.rs"))

	manifest, err := os.ReadFile(filepath.Join(crateDir, "Cargo.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), "laidout")
	assert.Contains(t, string(manifest), "cdylib")

	source, err := os.ReadFile(filepath.Join(crateDir, "src", "lib.rs"))
	require.NoError(t, err)
	assert.Contains(t, string(source), "fn f()")
}

func TestTryCreateCrate(t *testing.T) {
	dir := t.TempDir()

	markerCrate := filepath.Join(dir, "withmarker")
	writeCrate(t, markerCrate, "withmarker", nil)
	writeFile(t, filepath.Join(markerCrate, CrateMarkerFile), "")

	commentCrate := filepath.Join(dir, "withcomment")
	writeCrate(t, commentCrate, "withcomment", nil)
	manifest, err := os.ReadFile(filepath.Join(commentCrate, "Cargo.toml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(commentCrate, "Cargo.toml"),
		append([]byte("# rustimport\n"), manifest...), 0644))

	plainCrate := filepath.Join(dir, "plain")
	writeCrate(t, plainCrate, "plain", nil)

	t.Run("marker file opts in", func(t *testing.T) {
		imp, hint, err := TryCreateCrate(markerCrate, "", true)
		require.NoError(t, err)
		assert.Empty(t, hint)
		require.NotNil(t, imp)
		assert.Equal(t, "withmarker", imp.FullName())
	})

	t.Run("manifest comment opts in", func(t *testing.T) {
		imp, _, err := TryCreateCrate(commentCrate, "", true)
		require.NoError(t, err)
		require.NotNil(t, imp)
	})

	t.Run("unmarked crate yields a hint", func(t *testing.T) {
		imp, hint, err := TryCreateCrate(plainCrate, "", true)
		require.NoError(t, err)
		assert.Nil(t, imp)
		assert.Contains(t, hint, CrateMarkerFile)
	})

	t.Run("Cargo.toml path is accepted", func(t *testing.T) {
		imp, _, err := TryCreateCrate(filepath.Join(markerCrate, "Cargo.toml"), "", true)
		require.NoError(t, err)
		require.NotNil(t, imp)
	})

	t.Run("non-crate directory is not an error", func(t *testing.T) {
		imp, hint, err := TryCreateCrate(filepath.Join(dir, "nothing"), "", true)
		require.NoError(t, err)
		assert.Nil(t, imp)
		assert.Empty(t, hint)
	})
}

func TestWorkspaceDetectionRequiresWorkspaceTable(t *testing.T) {
	dir := t.TempDir()

	t.Run("workspace root is adopted", func(t *testing.T) {
		ws := filepath.Join(dir, "ws")
		writeFile(t, filepath.Join(ws, "Cargo.toml"), "[workspace]\nmembers = [\"member\"]\n")
		member := filepath.Join(ws, "member")
		writeCrate(t, member, "member", nil)
		writeFile(t, filepath.Join(member, CrateMarkerFile), "")

		imp, _, err := TryCreateCrate(member, "", true)
		require.NoError(t, err)
		require.NotNil(t, imp)
		assert.Equal(t, ws, imp.rootPath())
	})

	t.Run("plain ancestor crate is not a workspace", func(t *testing.T) {
		outer := filepath.Join(dir, "outer")
		writeCrate(t, outer, "outer", nil)
		nested := filepath.Join(outer, "vendor", "nested")
		writeCrate(t, nested, "nested", nil)
		writeFile(t, filepath.Join(nested, CrateMarkerFile), "")

		imp, _, err := TryCreateCrate(nested, "", true)
		require.NoError(t, err)
		require.NotNil(t, imp)
		assert.Equal(t, nested, imp.rootPath(),
			"an ancestor Cargo.toml without a [workspace] table must not widen the build tree")
	})
}

func TestWorkspaceMembersMaterializeIntoPrivateDirs(t *testing.T) {
	dir := t.TempDir()
	ws := filepath.Join(dir, "ws")
	writeFile(t, filepath.Join(ws, "Cargo.toml"), "[workspace]\nmembers = [\"a\", \"b\"]\n")
	for _, name := range []string{"a", "b"} {
		member := filepath.Join(ws, name)
		writeCrate(t, member, name, nil)
		writeFile(t, filepath.Join(member, CrateMarkerFile), "")
	}

	cacheDir := t.TempDir()
	crateDirs := make(map[string]string)
	for _, name := range []string{"a", "b"} {
		imp, _, err := TryCreateCrate(filepath.Join(ws, name), "", true)
		require.NoError(t, err)
		pre, err := imp.Preprocess()
		require.NoError(t, err)
		crateDir, err := imp.Materialize(cacheDir, pre)
		require.NoError(t, err)
		crateDirs[name] = crateDir
	}

	// Each member gets its own copy of the workspace, so the second
	// materialization cannot clobber the first member's synthesized
	// manifest.
	assert.NotEqual(t, filepath.Dir(crateDirs["a"]), filepath.Dir(crateDirs["b"]))
	for name, crateDir := range crateDirs {
		manifest, err := os.ReadFile(filepath.Join(crateDir, "Cargo.toml"))
		require.NoError(t, err)
		assert.Contains(t, string(manifest), name)
		assert.Contains(t, string(manifest), "cdylib")
	}
}

func TestCrateMaterializeSkipsTarget(t *testing.T) {
	dir := t.TempDir()
	crate := filepath.Join(dir, "mycrate")
	writeCrate(t, crate, "mycrate", nil)
	writeFile(t, filepath.Join(crate, CrateMarkerFile), "")
	writeFile(t, filepath.Join(crate, "target", "debug", "junk"), "old build output")

	imp, _, err := TryCreateCrate(crate, "", true)
	require.NoError(t, err)
	pre, err := imp.Preprocess()
	require.NoError(t, err)

	cacheDir := t.TempDir()
	crateDir, err := imp.Materialize(cacheDir, pre)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(crateDir, "Cargo.toml"))
	assert.FileExists(t, filepath.Join(crateDir, "src", "lib.rs"))
	assert.NoFileExists(t, filepath.Join(crateDir, "target", "debug", "junk"))
}
