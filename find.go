package rustimport

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

// FindImportable resolves a dotted module name to an Importable by
// probing each search path for, in order, a single managed .rs file and
// a managed crate directory.
//
// With optIn set, candidates that exist but lack the activation marker
// are skipped; they are reported as hints on the returned
// ErrModuleNotFound so a missing opt-in comment is diagnosable instead
// of silent.
func FindImportable(fullname string, searchPaths []string, optIn bool) (Importable, error) {
	modulePath := strings.ReplaceAll(fullname, ".", string(os.PathSeparator))

	var hints []string
	for _, root := range searchPaths {
		candidate := root + string(os.PathSeparator) + modulePath

		imp, hint, err := TryCreateSingleFile(candidate, fullname, optIn)
		if err != nil {
			return nil, err
		}
		if imp != nil {
			return imp, nil
		}
		if hint != "" {
			hints = append(hints, hint)
		}

		crate, hint, err := TryCreateCrate(candidate, fullname, optIn)
		if err != nil {
			return nil, err
		}
		if crate != nil {
			return crate, nil
		}
		if hint != "" {
			hints = append(hints, hint)
		}
	}

	err := markf(ErrModuleNotFound, "no importable module found for %q in %d search path(s)", fullname, len(searchPaths))
	for _, h := range hints {
		err = errors.WithHint(err, h)
	}
	return nil, err
}

// FindImportablePath resolves an explicit filesystem path (a .rs file,
// a crate directory, or a Cargo.toml) to an Importable. The intent to
// import is explicit here, so optIn is typically false.
func FindImportablePath(path, fullname string, optIn bool) (Importable, error) {
	imp, hint, err := TryCreateSingleFile(path, fullname, optIn)
	if err != nil {
		return nil, err
	}
	if imp != nil {
		return imp, nil
	}

	crate, crateHint, err := TryCreateCrate(path, fullname, optIn)
	if err != nil {
		return nil, err
	}
	if crate != nil {
		return crate, nil
	}

	notFound := markf(ErrModuleNotFound, "%s is neither a managed source file nor a managed crate", path)
	for _, h := range []string{hint, crateHint} {
		if h != "" {
			notFound = errors.WithHint(notFound, h)
		}
	}
	return nil, notFound
}
