package rustimport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	store := NewDiskStore(root, nil)

	src := filepath.Join(t.TempDir(), "built.so")
	writeFile(t, src, "\x7fELF shared library payload")

	fp := Fingerprint("aaaa1111")
	stored, err := store.Store("demo-abc123", fp, src)
	require.NoError(t, err)
	assert.Equal(t, fp, stored.Fingerprint)
	assert.FileExists(t, stored.Path)

	got, err := store.Lookup("demo-abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, fp, got.Fingerprint)
	assert.Equal(t, stored.Path, got.Path)

	// The published artifact carries the trailer.
	trailer, err := LoadTrailer(got.Path)
	require.NoError(t, err)
	assert.Equal(t, fp, trailer)
}

func TestDiskStoreLookupMiss(t *testing.T) {
	store := NewDiskStore(t.TempDir(), nil)

	got, err := store.Lookup("never-stored")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDiskStoreOverwriteSupersedes(t *testing.T) {
	root := t.TempDir()
	store := NewDiskStore(root, nil)

	src1 := filepath.Join(t.TempDir(), "v1.so")
	writeFile(t, src1, "version one")
	_, err := store.Store("demo-abc123", Fingerprint("fp1"), src1)
	require.NoError(t, err)

	src2 := filepath.Join(t.TempDir(), "v2.so")
	writeFile(t, src2, "version two")
	_, err = store.Store("demo-abc123", Fingerprint("fp2"), src2)
	require.NoError(t, err)

	got, err := store.Lookup("demo-abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, Fingerprint("fp2"), got.Fingerprint)
}

func TestDiskStoreDetectsTamperedArtifact(t *testing.T) {
	root := t.TempDir()
	store := NewDiskStore(root, nil)

	src := filepath.Join(t.TempDir(), "built.so")
	writeFile(t, src, "payload")
	stored, err := store.Store("demo-abc123", Fingerprint("fp1"), src)
	require.NoError(t, err)

	// Overwrite the artifact body, losing the trailer.
	require.NoError(t, os.WriteFile(stored.Path, []byte("tampered"), 0755))

	_, err = store.Lookup("demo-abc123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCacheCorruption))
}

func TestDiskStoreDetectsMetadataMismatch(t *testing.T) {
	root := t.TempDir()
	store := NewDiskStore(root, nil)

	src := filepath.Join(t.TempDir(), "built.so")
	writeFile(t, src, "payload")
	stored, err := store.Store("demo-abc123", Fingerprint("fp1"), src)
	require.NoError(t, err)

	// Re-stamp the artifact with a different fingerprint so the trailer
	// and the metadata disagree.
	require.NoError(t, os.WriteFile(stored.Path, []byte("payload"), 0755))
	require.NoError(t, SaveTrailer(stored.Path, Fingerprint("fp2")))

	_, err = store.Lookup("demo-abc123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCacheCorruption))
}

func TestDiskStoreDetectsUnparsableMetadata(t *testing.T) {
	root := t.TempDir()
	store := NewDiskStore(root, nil)

	src := filepath.Join(t.TempDir(), "built.so")
	writeFile(t, src, "payload")
	_, err := store.Store("demo-abc123", Fingerprint("fp1"), src)
	require.NoError(t, err)

	metaPath := filepath.Join(root, "artifacts", "demo-abc123", "artifact.toml")
	require.NoError(t, os.WriteFile(metaPath, []byte("{{{ not toml"), 0644))

	_, err = store.Lookup("demo-abc123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCacheCorruption))
}

func TestDiskStoreClean(t *testing.T) {
	root := t.TempDir()
	store := NewDiskStore(root, nil)

	src := filepath.Join(t.TempDir(), "built.so")
	writeFile(t, src, "payload")
	_, err := store.Store("demo-abc123", Fingerprint("fp1"), src)
	require.NoError(t, err)

	require.NoError(t, store.Clean())

	got, err := store.Lookup("demo-abc123")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemStoreForcedCorruption(t *testing.T) {
	store := NewMemStore()
	store.CorruptIdentities = map[string]bool{"bad": true}

	_, err := store.Store("bad", Fingerprint("fp"), "/tmp/x.so")
	require.NoError(t, err)

	_, err = store.Lookup("bad")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCacheCorruption))

	got, err := store.Lookup("other")
	require.NoError(t, err)
	assert.Nil(t, got)
}
