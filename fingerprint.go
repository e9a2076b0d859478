package rustimport

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Fingerprint is a content hash over a module's full input set. Equal
// fingerprints imply a cached artifact is safe to reuse without
// recompilation; any change in any fingerprinted input produces a
// different value.
type Fingerprint string

// FingerprintInputs enumerates everything that feeds a module's
// fingerprint: the module's own source set, the synthesized manifest,
// the user's watch globs, the resolved dependency set's sources, and
// the release flag (a debug artifact must never satisfy a release
// import).
type FingerprintInputs struct {
	SourcePatterns     []string
	ManifestDigest     []byte
	WatchPatterns      []string
	DependencyPatterns []string
	Release            bool
}

// ComputeFingerprint expands every pattern, hashes each matched file's
// contents, and folds the per-file digests into one value.
//
// Patterns may use ** for recursive matching; a pattern naming a
// directory covers every file beneath it. A plain file that does not
// exist contributes an absence marker rather than an error, so deleting
// a watched file changes the fingerprint just like editing it does.
func ComputeFingerprint(in FingerprintInputs) (Fingerprint, error) {
	var patterns []string
	patterns = append(patterns, in.SourcePatterns...)
	patterns = append(patterns, in.WatchPatterns...)
	patterns = append(patterns, in.DependencyPatterns...)

	files, absent, err := expandPatterns(patterns)
	if err != nil {
		return "", err
	}

	var payload strings.Builder
	if in.Release {
		payload.WriteString("release\n")
	}
	fmt.Fprintf(&payload, "manifest:%x\n", sha1.Sum(in.ManifestDigest))

	for _, f := range files {
		sum, err := hashFile(f)
		if err != nil {
			// A file can disappear between expansion and hashing;
			// treat it like any other absent input.
			fmt.Fprintf(&payload, "%s:absent\n", f)
			continue
		}
		fmt.Fprintf(&payload, "%s:%s\n", f, sum)
	}
	for _, f := range absent {
		fmt.Fprintf(&payload, "%s:absent\n", f)
	}

	final := sha1.Sum([]byte(payload.String()))
	return Fingerprint(hex.EncodeToString(final[:])), nil
}

// expandPatterns resolves patterns into a sorted, deduplicated file
// list plus the sorted list of plainly named files that do not exist.
func expandPatterns(patterns []string) (files, absent []string, err error) {
	seen := map[string]struct{}{}
	missing := map[string]struct{}{}

	for _, pattern := range patterns {
		switch {
		case strings.ContainsAny(pattern, "*?[{"):
			matches, err := doublestar.FilepathGlob(pattern)
			if err != nil {
				return nil, nil, markf(ErrMalformedDirective, "invalid watch pattern %q: %v", pattern, err)
			}
			for _, m := range matches {
				if info, err := os.Stat(m); err == nil && !info.IsDir() {
					seen[m] = struct{}{}
				}
			}
		default:
			info, err := os.Stat(pattern)
			switch {
			case err != nil:
				missing[pattern] = struct{}{}
			case info.IsDir():
				walkErr := filepath.Walk(pattern, func(p string, fi os.FileInfo, err error) error {
					if err != nil {
						return err
					}
					if !fi.IsDir() {
						seen[p] = struct{}{}
					}
					return nil
				})
				if walkErr != nil {
					return nil, nil, walkErr
				}
			default:
				seen[pattern] = struct{}{}
			}
		}
	}

	for f := range seen {
		files = append(files, f)
	}
	for f := range missing {
		absent = append(absent, f)
	}
	sort.Strings(files)
	sort.Strings(absent)
	return files, absent, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Artifact trailer. The fingerprint an artifact was built from is
// appended to the shared library itself as a tagged trailer; appending
// to an ELF/Mach-O/PE file does not disturb loading. The trailer is a
// second line of defense against cache metadata drifting out of sync
// with the artifact it describes.
var trailerTag = []byte("rustimport")

// SaveTrailer appends fp to the artifact at path.
func SaveTrailer(path string, fp Fingerprint) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write([]byte(fp)); err != nil {
		return err
	}
	var length [8]byte
	binary.LittleEndian.PutUint64(length[:], uint64(len(fp)))
	if _, err := f.Write(length[:]); err != nil {
		return err
	}
	_, err = f.Write(trailerTag)
	return err
}

// LoadTrailer reads the fingerprint trailer from the artifact at path.
// A missing file, missing tag, or implausible length is reported as
// ErrCacheCorruption, which callers treat as a cache miss.
func LoadTrailer(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", markf(ErrCacheCorruption, "cached artifact unreadable: %v", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", markf(ErrCacheCorruption, "cached artifact unreadable: %v", err)
	}

	footerLen := int64(8 + len(trailerTag))
	if info.Size() < footerLen {
		return "", markf(ErrCacheCorruption, "cached artifact %s is too small to carry a fingerprint trailer", path)
	}

	footer := make([]byte, footerLen)
	if _, err := f.ReadAt(footer, info.Size()-footerLen); err != nil {
		return "", markf(ErrCacheCorruption, "cached artifact trailer unreadable: %v", err)
	}
	if string(footer[8:]) != string(trailerTag) {
		return "", markf(ErrCacheCorruption, "cached artifact %s is missing its fingerprint trailer tag", path)
	}

	length := int64(binary.LittleEndian.Uint64(footer[:8]))
	if length <= 0 || length > info.Size()-footerLen {
		return "", markf(ErrCacheCorruption, "cached artifact %s has an implausible trailer length %d", path, length)
	}

	fp := make([]byte, length)
	if _, err := f.ReadAt(fp, info.Size()-footerLen-length); err != nil {
		return "", markf(ErrCacheCorruption, "cached artifact trailer unreadable: %v", err)
	}
	return Fingerprint(fp), nil
}
