package rustimport

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
)

// BuildArtifact is one successfully compiled shared library together
// with the fingerprint it was built from. Artifacts persist across
// process runs until a new fingerprint supersedes them.
type BuildArtifact struct {
	// Path to the loadable shared library.
	Path string

	// Fingerprint of the input set the artifact was built from.
	Fingerprint Fingerprint

	// BuiltAt is the build completion time.
	BuiltAt time.Time
}

// ArtifactStore persists build artifacts keyed by module identity.
//
// The store is an explicit injected dependency of the engine, not a
// hidden singleton: production uses a DiskStore rooted in the shared
// cache directory, tests inject a MemStore or a temp-directory-backed
// DiskStore.
//
// Lookup returns (nil, nil) on a miss. A corrupted entry is reported
// wrapped as ErrCacheCorruption; the engine recovers by rebuilding,
// since the cache is an optimization, not a source of truth. Store must
// publish atomically: a concurrent reader, even in another process,
// must never observe a torn artifact.
type ArtifactStore interface {
	Lookup(identity string) (*BuildArtifact, error)
	Store(identity string, fp Fingerprint, artifactSrc string) (*BuildArtifact, error)
}

// DiskStore is the filesystem-rooted ArtifactStore shared across
// process invocations.
//
// Layout, under the store root:
//
//	artifacts/<identity>/module.<so|dylib|dll>   the artifact
//	artifacts/<identity>/artifact.toml           fingerprint metadata
//	locks/<identity>.lock                        cross-process build lock
//
// Artifacts and metadata are written to a temporary sibling and renamed
// into place, and each artifact additionally carries its fingerprint as
// a tagged trailer, cross-checked against the metadata on lookup.
type DiskStore struct {
	root string
	log  *zap.SugaredLogger
}

// NewDiskStore creates a store rooted at dir. A nil logger disables
// logging.
func NewDiskStore(dir string, log *zap.SugaredLogger) *DiskStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &DiskStore{root: dir, log: log.Named("cache")}
}

type artifactMeta struct {
	Fingerprint string    `toml:"fingerprint"`
	BuiltAt     time.Time `toml:"built_at"`
}

func (s *DiskStore) entryDir(identity string) string {
	return filepath.Join(s.root, "artifacts", identity)
}

// LockPath returns the cross-process lock file for a module identity.
func (s *DiskStore) LockPath(identity string) string {
	return filepath.Join(s.root, "locks", identity+".lock")
}

// Lookup returns the stored artifact for identity, nil on a miss, or
// an ErrCacheCorruption-marked error when the entry exists but cannot
// be trusted.
func (s *DiskStore) Lookup(identity string) (*BuildArtifact, error) {
	metaPath := filepath.Join(s.entryDir(identity), "artifact.toml")
	raw, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, markf(ErrCacheCorruption, "cache metadata unreadable: %v", err)
	}

	var meta artifactMeta
	if err := toml.Unmarshal(raw, &meta); err != nil {
		return nil, markf(ErrCacheCorruption, "cache metadata unparsable: %v", err)
	}

	artifactPath := filepath.Join(s.entryDir(identity), "module"+sharedLibSuffix())
	trailer, err := LoadTrailer(artifactPath)
	if err != nil {
		return nil, err
	}
	if string(trailer) != meta.Fingerprint {
		return nil, markf(ErrCacheCorruption,
			"artifact trailer %s disagrees with cache metadata %s", trailer, meta.Fingerprint)
	}

	return &BuildArtifact{
		Path:        artifactPath,
		Fingerprint: Fingerprint(meta.Fingerprint),
		BuiltAt:     meta.BuiltAt,
	}, nil
}

// Store publishes the artifact at artifactSrc under identity. The
// artifact becomes visible under its final cache key only after the
// trailer is written and the rename completes.
func (s *DiskStore) Store(identity string, fp Fingerprint, artifactSrc string) (*BuildArtifact, error) {
	dir := s.entryDir(identity)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	final := filepath.Join(dir, "module"+sharedLibSuffix())

	tmp, err := os.CreateTemp(dir, ".module.tmp-*")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()

	src, err := os.Open(artifactSrc)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, err
	}
	_, copyErr := io.Copy(tmp, src)
	src.Close()
	if err := tmp.Close(); copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		os.Remove(tmpName)
		return nil, copyErr
	}

	if err := SaveTrailer(tmpName, fp); err != nil {
		os.Remove(tmpName)
		return nil, err
	}
	if err := os.Chmod(tmpName, 0755); err != nil {
		os.Remove(tmpName)
		return nil, err
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return nil, err
	}

	artifact := &BuildArtifact{Path: final, Fingerprint: fp, BuiltAt: time.Now().UTC()}

	meta, err := toml.Marshal(artifactMeta{Fingerprint: string(fp), BuiltAt: artifact.BuiltAt})
	if err != nil {
		return nil, err
	}
	metaTmp, err := os.CreateTemp(dir, ".artifact.toml.tmp-*")
	if err != nil {
		return nil, err
	}
	if _, err := metaTmp.Write(meta); err != nil {
		metaTmp.Close()
		os.Remove(metaTmp.Name())
		return nil, err
	}
	if err := metaTmp.Close(); err != nil {
		os.Remove(metaTmp.Name())
		return nil, err
	}
	if err := os.Rename(metaTmp.Name(), filepath.Join(dir, "artifact.toml")); err != nil {
		os.Remove(metaTmp.Name())
		return nil, err
	}

	s.log.Debugw("artifact stored", "identity", identity, "fingerprint", string(fp))
	return artifact, nil
}

// Clean removes every cached artifact and lock. It does not touch
// in-flight build directories owned by other processes beyond the
// store's own layout.
func (s *DiskStore) Clean() error {
	if err := os.RemoveAll(filepath.Join(s.root, "artifacts")); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.root, "locks"))
}

// MemStore is an in-memory ArtifactStore for tests.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]*BuildArtifact

	// CorruptIdentities forces Lookup to report corruption for the
	// named identities, for exercising the recovery path.
	CorruptIdentities map[string]bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{entries: map[string]*BuildArtifact{}}
}

// Lookup returns the stored artifact or nil.
func (s *MemStore) Lookup(identity string) (*BuildArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CorruptIdentities[identity] {
		return nil, errors.Mark(errors.Newf("forced corruption for %s", identity), ErrCacheCorruption)
	}
	return s.entries[identity], nil
}

// Store records the artifact in place, without copying the file.
func (s *MemStore) Store(identity string, fp Fingerprint, artifactSrc string) (*BuildArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	artifact := &BuildArtifact{Path: artifactSrc, Fingerprint: fp, BuiltAt: time.Now().UTC()}
	s.entries[identity] = artifact
	return artifact, nil
}
