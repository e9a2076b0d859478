package rustimport

import (
	"bytes"
	"fmt"
	"regexp"
	"runtime"
)

// PyO3Version is the pyo3 release injected by the template's default
// manifest. A user fragment declaring its own pyo3 dependency wins.
const PyO3Version = "0.23.4"

// PyO3Template binds Rust sources to a CPython host runtime via pyo3.
//
// The template contributes a default manifest (package identity, cdylib
// crate type, the pyo3 dependency with the extension-module feature)
// and, when the source does not already contain a #[pymodule] entry
// point, synthesizes one registering every #[pyfunction] function and
// every #[pyclass] struct or enum.
//
// Whether a hand-written entry point exists is decided by an explicit
// textual predicate, HasPymodule, rather than any build-time check, so
// the rule is documented and testable.
type PyO3Template struct{}

// Name returns "pyo3".
func (t *PyO3Template) Name() string {
	return "pyo3"
}

// pymoduleRe detects a hand-written #[pymodule] entry point: the macro
// followed (after optional modifiers) by a mod or fn item.
var pymoduleRe = regexp.MustCompile(`(?s)#\[pymodule\]\s*(?:\w+\s+)*?(?:mod|fn)\s+\w+`)

// Annotated exports. Both patterns tolerate interleaved attribute
// macros and comments between the annotation and the item.
var (
	pyfunctionRe = regexp.MustCompile(`(?s)#\[pyfunction.*?\]\s*(?:(?:#\[.*?\]|//[^\n]*\n|/\*.*?\*/)\s*)*(?:\w+\s+)*?fn\s+(\w+)`)
	pyclassRe    = regexp.MustCompile(`(?s)#\[pyclass.*?\]\s*(?:(?:#\[.*?\]|//[^\n]*\n|/\*.*?\*/)\s*)*(?:\w+\s+)*?(?:struct|enum)\s+(\w+)`)
)

// HasPymodule reports whether the source already contains a
// #[pymodule] entry point. This is the template's opt-out predicate:
// when true, nothing is generated and the binding mode is manual.
func HasPymodule(source []byte) bool {
	return pymoduleRe.Match(source)
}

// Process merges the pyo3 default manifest under the user's manifest
// and synthesizes the module entry point if none is hand-written.
func (t *PyO3Template) Process(in TemplateInput) (*TemplateResult, error) {
	result := &TemplateResult{
		Manifest:       mergeManifests(in.Manifest, t.defaultManifest(in.LibName)),
		ExtraCargoArgs: t.cargoArgs(),
	}

	if HasPymodule(in.Source) {
		result.Binding = BindingManual
		return result, nil
	}

	result.Binding = BindingAuto
	result.Source = append(append([]byte{}, in.Source...), t.generatePymodule(in.LibName, in.Source)...)
	return result, nil
}

func (t *PyO3Template) defaultManifest(libName string) map[string]interface{} {
	return map[string]interface{}{
		"package": map[string]interface{}{
			"name":    libName,
			"version": "0.1.0",
			"edition": "2021",
		},
		"lib": map[string]interface{}{
			"name":       libName,
			"crate-type": []interface{}{"cdylib"},
		},
		"dependencies": map[string]interface{}{
			"pyo3": map[string]interface{}{
				"version":  PyO3Version,
				"features": []interface{}{"extension-module"},
			},
		},
	}
}

// generatePymodule synthesizes the #[pymodule] entry point registering
// every annotated function and class found in the source.
func (t *PyO3Template) generatePymodule(libName string, source []byte) []byte {
	var buf bytes.Buffer

	buf.WriteString("\n\n#[pymodule]\n")
	fmt.Fprintf(&buf, "fn %s(_py: Python, m: &Bound<'_, PyModule>) -> PyResult<()> {\n", libName)

	for _, m := range pyfunctionRe.FindAllSubmatch(source, -1) {
		fmt.Fprintf(&buf, "  m.add_function(wrap_pyfunction!(%s, m)?)?;\n", m[1])
	}
	for _, m := range pyclassRe.FindAllSubmatch(source, -1) {
		fmt.Fprintf(&buf, "  m.add_class::<%s>()?;\n", m[1])
	}

	buf.WriteString("  Ok(())\n}\n")
	return buf.Bytes()
}

// cargoArgs returns platform-specific cargo arguments. On macOS the
// extension-module feature disables linking to libpython, so the
// undefined-symbol lookup must be deferred to load time.
func (t *PyO3Template) cargoArgs() []string {
	if runtime.GOOS == "darwin" {
		return []string{"--", "-C", "link-arg=-undefined", "-C", "link-arg=dynamic_lookup"}
	}
	return nil
}

func init() {
	RegisterTemplate(&PyO3Template{})
}
