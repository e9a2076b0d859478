//go:build cgo && !windows

package rustimport

// This file provides the dlopen-based loader used when cgo is
// available. Without cgo the engine can still build artifacts but not
// load them; see load_nocgo.go.

/*
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>
*/
import "C"

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// LoaderAvailable indicates whether the platform loader exists in this
// build. True when built with cgo.
const LoaderAvailable = true

// DlLoader loads shared libraries with dlopen.
type DlLoader struct {
	// Global exposes the library's symbols to libraries loaded later
	// (RTLD_GLOBAL). Useful when several interdependent extensions
	// share symbols; off by default.
	Global bool
}

func platformLoader() Loader {
	return &DlLoader{}
}

// Load implements Loader.
func (l *DlLoader) Load(path, fullname string) (LoadedModule, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	flags := C.int(C.RTLD_NOW)
	if l.Global {
		flags |= C.RTLD_GLOBAL
	} else {
		flags |= C.RTLD_LOCAL
	}

	C.dlerror() // clear any stale error state
	handle := C.dlopen(cpath, flags)
	if handle == nil {
		return nil, errors.Newf("dlopen %s: %s", path, C.GoString(C.dlerror()))
	}

	return &dlModule{handle: handle, path: path}, nil
}

type dlModule struct {
	handle unsafe.Pointer
	path   string
}

func (m *dlModule) Lookup(symbol string) (uintptr, error) {
	csym := C.CString(symbol)
	defer C.free(unsafe.Pointer(csym))

	C.dlerror()
	addr := C.dlsym(m.handle, csym)
	if addr == nil {
		if msg := C.dlerror(); msg != nil {
			return 0, errors.Newf("dlsym %s in %s: %s", symbol, m.path, C.GoString(msg))
		}
	}
	return uintptr(addr), nil
}

func (m *dlModule) Close() error {
	if C.dlclose(m.handle) != 0 {
		return errors.Newf("dlclose %s: %s", m.path, C.GoString(C.dlerror()))
	}
	return nil
}
