package rustimport

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopTemplate struct{ name string }

func (t *noopTemplate) Name() string { return t.name }
func (t *noopTemplate) Process(in TemplateInput) (*TemplateResult, error) {
	return &TemplateResult{Manifest: in.Manifest, Binding: BindingNone}, nil
}

func TestResolveTemplateEmptyNameMeansNoTemplate(t *testing.T) {
	tmpl, err := ResolveTemplate("")
	require.NoError(t, err)
	assert.Nil(t, tmpl)
}

func TestResolveTemplateUnknown(t *testing.T) {
	_, err := ResolveTemplate("no-such-template")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTemplate))
	// The error should help the user find the right name.
	assert.Contains(t, err.Error(), "pyo3")
}

func TestResolveTemplateRegistered(t *testing.T) {
	tmpl, err := ResolveTemplate("pyo3")
	require.NoError(t, err)
	require.NotNil(t, tmpl)
	assert.Equal(t, "pyo3", tmpl.Name())
}

func TestRegisterTemplateCaseInsensitiveLookup(t *testing.T) {
	RegisterTemplate(&noopTemplate{name: "MixedCase"})

	tmpl, err := ResolveTemplate("mixedcase")
	require.NoError(t, err)
	require.NotNil(t, tmpl)

	tmpl, err = ResolveTemplate("MIXEDCASE")
	require.NoError(t, err)
	require.NotNil(t, tmpl)
}

func TestBindingModeString(t *testing.T) {
	assert.Equal(t, "none", BindingNone.String())
	assert.Equal(t, "manual", BindingManual.String())
	assert.Equal(t, "auto", BindingAuto.String())
}
