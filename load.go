package rustimport

// Loader is the boundary to the host runtime's module machinery: it
// takes a built shared library and makes it visible as a module object.
//
// The engine does not define the host runtime's semantics; it only
// requires that Load either fully succeeds, returning a usable handle,
// or fails leaving nothing registered. The platform dlopen loader is
// the reference implementation; embedders supply their own (for
// example, one that calls the extension's init entry point inside an
// embedded interpreter), and tests inject fakes.
type Loader interface {
	Load(path, fullname string) (LoadedModule, error)
}

// LoadedModule is a handle to a shared library loaded into the
// process.
type LoadedModule interface {
	// Lookup resolves an exported symbol to its address.
	Lookup(symbol string) (uintptr, error)

	// Close unloads the library. The handle is unusable afterwards.
	Close() error
}
