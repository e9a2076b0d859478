//go:build !cgo || windows

package rustimport

// This file is the fallback when cgo is disabled (or on Windows, where
// dlopen does not exist). Building artifacts works normally; loading
// requires an embedder-supplied Loader.

// LoaderAvailable indicates whether the platform loader exists in this
// build. False without cgo.
const LoaderAvailable = false

func platformLoader() Loader {
	return nil
}
