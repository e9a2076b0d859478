// Package rustimport builds and loads Rust source files as native
// extension modules, on demand, at import time.
//
// A Rust file opts in with a marker comment on its first meaningful
// line and describes its build with directive comments:
//
//	// rustimport:pyo3
//
//	//: [dependencies]
//	//: rand = "0.8"
//
//	//d: ../shared/**/*.rs
//
//	use pyo3::prelude::*;
//
//	#[pyfunction]
//	fn square(x: i32) -> i32 { x * x }
//
// From the host program the file imports like any other module:
//
//	engine := rustimport.New(rustimport.DefaultSettings())
//	module, err := engine.Import(ctx, "somefile")
//
// The engine parses the directive header, synthesizes a Cargo
// manifest, resolves local path dependencies, fingerprints every
// input, and invokes cargo only when the fingerprint is stale. Whole
// crates participate too: a directory with a Cargo.toml and a
// .rustimport marker file imports as one module.
//
// # Pipeline
//
// An import request flows through fixed stages:
//
//	Engine
//	├── directive parsing   (directive.go)
//	├── template expansion  (template.go, pyo3.go)
//	├── manifest synthesis  (manifest.go)
//	├── dependency resolution (resolver.go)
//	├── fingerprinting      (fingerprint.go)
//	├── artifact cache      (cache.go)
//	├── cargo invocation    (compiler.go)
//	└── loading             (load.go)
//
// Each stage is exported and usable on its own; the Engine is the
// orchestration that a typical embedder needs.
//
// # Caching
//
// Built artifacts live in a cache directory keyed by module identity.
// Every cached artifact carries a checksum trailer and is published
// atomically, so concurrent importers in one process or across
// processes never observe a partial build. Corrupt entries are treated
// as cache misses and rebuilt.
//
// # Release mode
//
// With release mode enabled the engine never compiles: imports are
// served from pre-built artifacts only, and a missing artifact is an
// error. Use the rustimport CLI (or Engine.BuildAll) to pre-build
// before deployment.
//
// # Requirements
//
// Requires Go 1.25 or later, and a Rust toolchain with cargo 1.64 or
// later on PATH for building. Loading uses dlopen and needs cgo; a
// build without cgo can still pre-build artifacts.
package rustimport
