package rustimport

import (
	"bytes"
	"regexp"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// DirectiveSet is the parsed form of a source file's leading comment
// block. It is the only channel through which a managed source file
// communicates build intent to the engine.
//
// Recognized directive classes, by line prefix:
//
//	// rustimport             activation marker (no template)
//	// rustimport:pyo3        activation marker selecting a template
//	//: <toml line>           manifest fragment, appended verbatim
//	//d: <glob>               watch pattern folded into the fingerprint
//
// Only the leading contiguous comment region is scanned; the first
// non-comment, non-empty line ends the header. Fragment and watch lines
// preserve file order.
type DirectiveSet struct {
	// Activated reports whether the activation marker is present. When
	// false the file is not managed by this engine and all other fields
	// are zero.
	Activated bool

	// Template is the colon-suffixed argument of the activation marker,
	// or empty when no template was selected.
	Template string

	// ManifestFragment is the concatenated body of all //: lines,
	// terminated with newlines, in file order. It is always valid TOML
	// when ParseDirectives returns without error.
	ManifestFragment []byte

	// WatchPatterns lists the //d: globs, in file order. Relative
	// patterns are interpreted against the source file's directory by
	// the fingerprinting stage.
	WatchPatterns []string
}

// The activation marker must be the first meaningful line of the file.
// An optional template argument follows a colon.
var (
	activationRe = regexp.MustCompile(`^//\s*rustimport(?:\s*:\s*([A-Za-z0-9_-]+))?$`)
	markerPrefix = regexp.MustCompile(`^//\s*rustimport\b|^//\s*rustimport:`)
)

// ParseDirectives scans source text for directives.
//
// A file without the activation marker yields a DirectiveSet with
// Activated=false and a nil error: the file simply is not managed and
// ordinary import resolution proceeds without it.
//
// Returns ErrMalformedDirective when a recognized directive prefix is
// present but its body cannot be parsed: a marker line with a garbled
// template argument, a manifest fragment that is not valid TOML, or an
// empty watch pattern. No partial parse is ever used.
func ParseDirectives(source []byte) (*DirectiveSet, error) {
	set := &DirectiveSet{}

	first := firstMeaningfulLine(source)
	if !markerPrefix.Match(first) {
		return set, nil
	}

	m := activationRe.FindSubmatch(first)
	if m == nil {
		return nil, markf(ErrMalformedDirective, "invalid activation marker %q", string(first))
	}
	set.Activated = true
	set.Template = string(m[1])

	var fragment bytes.Buffer
	for _, raw := range bytes.Split(source, []byte("\n")) {
		line := bytes.TrimSpace(raw)

		// The header ends at the first non-comment, non-empty line.
		if len(line) > 0 && !bytes.HasPrefix(line, []byte("//")) {
			break
		}

		switch {
		case bytes.HasPrefix(line, []byte("//:")):
			fragment.Write(bytes.TrimSpace(line[3:]))
			fragment.WriteByte('\n')
		case bytes.HasPrefix(line, []byte("//d:")):
			pattern := string(bytes.TrimSpace(line[4:]))
			if pattern == "" {
				return nil, markf(ErrMalformedDirective, "empty watch pattern in %q", string(line))
			}
			set.WatchPatterns = append(set.WatchPatterns, pattern)
		}
	}

	if fragment.Len() > 0 {
		var parsed map[string]interface{}
		if err := toml.Unmarshal(fragment.Bytes(), &parsed); err != nil {
			return nil, markf(ErrMalformedDirective, "manifest fragment is not valid TOML: %v", err)
		}
		set.ManifestFragment = fragment.Bytes()
	}

	return set, nil
}

// firstMeaningfulLine returns the first non-empty line, trimmed.
func firstMeaningfulLine(source []byte) []byte {
	for _, raw := range bytes.Split(source, []byte("\n")) {
		if line := bytes.TrimSpace(raw); len(line) > 0 {
			return line
		}
	}
	return nil
}

// FirstLineContains reports whether the first meaningful line of the
// given text contains the needle. Crate importables use this to detect
// the opt-in comment at the top of a Cargo.toml.
func FirstLineContains(text []byte, needle string) bool {
	return strings.Contains(string(firstMeaningfulLine(text)), needle)
}
