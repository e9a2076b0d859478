package rustimport

import (
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindImportableDottedName(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pkg", "leaf.rs"), "// rustimport\nfn f() {}\n")

	imp, err := FindImportable("pkg.leaf", []string{root}, true)
	require.NoError(t, err)
	assert.Equal(t, "pkg.leaf", imp.FullName())
	assert.Equal(t, "leaf", imp.Name())
}

func TestFindImportableSearchPathOrder(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeFile(t, filepath.Join(first, "dup.rs"), "// rustimport\nfn first() {}\n")
	writeFile(t, filepath.Join(second, "dup.rs"), "// rustimport\nfn second() {}\n")

	imp, err := FindImportable("dup", []string{first, second}, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(first, "dup.rs"), imp.SourcePath())
}

func TestFindImportableCrate(t *testing.T) {
	root := t.TempDir()
	crate := filepath.Join(root, "mycrate")
	writeCrate(t, crate, "mycrate", nil)
	writeFile(t, filepath.Join(crate, CrateMarkerFile), "")

	imp, err := FindImportable("mycrate", []string{root}, true)
	require.NoError(t, err)
	assert.Equal(t, crate, imp.SourcePath())
}

func TestFindImportableNotFound(t *testing.T) {
	_, err := FindImportable("ghost", []string{t.TempDir()}, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModuleNotFound))
}

func TestFindImportableReportsMarkerHints(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "quiet.rs"), "fn f() {}\n")

	_, err := FindImportable("quiet", []string{root}, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModuleNotFound))

	hints := errors.GetAllHints(err)
	require.Len(t, hints, 1)
	assert.Contains(t, hints[0], "quiet.rs")
}

func TestFindImportablePathExplicitIntent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "nomarker.rs")
	writeFile(t, path, "fn f() {}\n")

	// An explicit path does not require the activation marker.
	imp, err := FindImportablePath(path, "", false)
	require.NoError(t, err)
	assert.Equal(t, "nomarker", imp.FullName())
}

func TestFindImportablePathRejectsNonModule(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "README.md"), "docs\n")

	_, err := FindImportablePath(filepath.Join(root, "README.md"), "", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModuleNotFound))
}
