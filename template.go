package rustimport

import (
	"sort"
	"strings"
	"sync"
)

// BindingMode describes how a module's binding entry point (the code
// that exposes native functions and types to the host runtime) comes to
// exist.
type BindingMode int

const (
	// BindingNone means no template injected any binding machinery. The
	// user's manifest fragment and source must be self-sufficient.
	BindingNone BindingMode = iota

	// BindingManual means a template is in use but the user hand-wrote
	// the binding entry point, so the template only contributed manifest
	// defaults.
	BindingManual

	// BindingAuto means the template scanned the source for exported
	// annotations and synthesized the binding entry point itself.
	BindingAuto
)

// String returns the mode name used in logs.
func (m BindingMode) String() string {
	switch m {
	case BindingManual:
		return "manual"
	case BindingAuto:
		return "auto"
	default:
		return "none"
	}
}

// TemplateInput carries everything a template may inspect: the source
// file, its contents, the library name the host runtime will import,
// and the manifest merged so far (user fragment over any on-disk
// Cargo.toml).
type TemplateInput struct {
	Path     string
	LibName  string
	Source   []byte
	Manifest map[string]interface{}
}

// TemplateResult is a template's contribution to the build.
type TemplateResult struct {
	// Manifest is the input manifest merged over the template's
	// defaults. User-declared keys always win over template defaults.
	Manifest map[string]interface{}

	// Source is the possibly rewritten source text. Nil means the
	// original source is used unchanged.
	Source []byte

	// ExtraCargoArgs are appended to the cargo invocation (for example
	// macOS linker flags).
	ExtraCargoArgs []string

	// Binding records whether the entry point was synthesized or found
	// hand-written.
	Binding BindingMode
}

// Template generates manifest defaults and, depending on its binding
// mode, binding glue for a managed source file.
//
// Implementations must be stateless and safe for concurrent use; one
// template instance serves every build in the process.
type Template interface {
	// Name returns the selector used after the colon in the activation
	// marker, lowercase.
	Name() string

	// Process applies the template to the given input.
	Process(in TemplateInput) (*TemplateResult, error)
}

var (
	templatesMu sync.RWMutex
	templates   = map[string]Template{}
)

// RegisterTemplate adds a template to the registry, replacing any
// previous template with the same name. The pyo3 template is registered
// at init; callers may add their own before creating an engine.
func RegisterTemplate(t Template) {
	templatesMu.Lock()
	defer templatesMu.Unlock()
	templates[strings.ToLower(t.Name())] = t
}

// ResolveTemplate maps an activation marker's template selector to a
// registered template. The empty name resolves to nil: no defaults are
// injected and the user manifest fragment must be self-sufficient.
//
// Returns ErrUnknownTemplate for any other unregistered name; the error
// lists the registered templates.
func ResolveTemplate(name string) (Template, error) {
	if name == "" {
		return nil, nil
	}

	templatesMu.RLock()
	defer templatesMu.RUnlock()

	if t, ok := templates[strings.ToLower(name)]; ok {
		return t, nil
	}

	known := make([]string, 0, len(templates))
	for n := range templates {
		known = append(known, n)
	}
	sort.Strings(known)
	return nil, markf(ErrUnknownTemplate, "unknown template %q (registered: %s)", name, strings.Join(known, ", "))
}
