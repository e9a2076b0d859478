package rustimport

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, filepath.Join(os.TempDir(), "rustimport"), s.CacheDir)
	assert.Equal(t, 15*time.Minute, s.BuildTimeout)
	assert.False(t, s.ForceRebuild)
	assert.False(t, s.ReleaseMode)
	assert.Empty(t, s.CargoArgs)
}

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("RUSTIMPORT_CACHE_DIR", "/var/cache/rustimport")
	t.Setenv("RUSTIMPORT_FORCE_REBUILD", "true")
	t.Setenv("RUSTIMPORT_RELEASE_MODE", "true")
	t.Setenv("RUSTIMPORT_RELEASE_BINARIES", "true")
	t.Setenv("RUSTIMPORT_CARGO_EXECUTABLE", "/opt/rust/bin/cargo")
	t.Setenv("RUSTIMPORT_BUILD_TIMEOUT", "90s")

	s, err := SettingsFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/var/cache/rustimport", s.CacheDir)
	assert.True(t, s.ForceRebuild)
	assert.True(t, s.ReleaseMode)
	assert.True(t, s.ReleaseBinaries)
	assert.Equal(t, "/opt/rust/bin/cargo", s.CargoExecutable)
	assert.Equal(t, 90*time.Second, s.BuildTimeout)
}

func TestSettingsFromEnvCargoArgsShellSplitting(t *testing.T) {
	t.Setenv("RUSTIMPORT_CARGO_ARGS", `--offline --config 'net.git-fetch-with-cli = true'`)

	s, err := SettingsFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"--offline", "--config", "net.git-fetch-with-cli = true"}, s.CargoArgs)
}

func TestSettingsFromEnvInvalidValues(t *testing.T) {
	t.Run("bad timeout", func(t *testing.T) {
		t.Setenv("RUSTIMPORT_BUILD_TIMEOUT", "soon")
		_, err := SettingsFromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "RUSTIMPORT_BUILD_TIMEOUT")
	})

	t.Run("unbalanced quoting in cargo args", func(t *testing.T) {
		t.Setenv("RUSTIMPORT_CARGO_ARGS", `--config 'unterminated`)
		_, err := SettingsFromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "RUSTIMPORT_CARGO_ARGS")
	})
}
