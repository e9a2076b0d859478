package rustimport

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"
	"github.com/spf13/viper"
)

// Settings controls engine behavior. Every field can be set through the
// environment with the RUSTIMPORT_ prefix; see SettingsFromEnv.
//
// Fields:
//   - CacheDir: root of the shared on-disk build cache. Defaults to
//     <tmp>/rustimport, which is cleared on reboot; point it at a
//     permanent directory to keep cargo's incremental state across
//     reboots.
//   - ForceRebuild: rebuild on every import even when the fingerprint
//     matches. Ignored in release mode.
//   - ReleaseMode: production switch. Disables staleness checks and
//     never compiles; importing a module without a pre-built artifact
//     fails.
//   - ReleaseBinaries: compile optimized binaries (cargo --release).
//   - CargoExecutable: cargo binary to invoke. Empty means PATH lookup.
//   - CargoArgs: extra arguments appended to every cargo invocation.
//   - BuildTimeout: hard ceiling for one toolchain invocation. A stuck
//     native compile fails instead of hanging the engine. Zero means
//     no timeout.
type Settings struct {
	CacheDir        string
	ForceRebuild    bool
	ReleaseMode     bool
	ReleaseBinaries bool
	CargoExecutable string
	CargoArgs       []string
	BuildTimeout    time.Duration
}

// DefaultSettings returns the built-in defaults without consulting the
// environment.
func DefaultSettings() Settings {
	return Settings{
		CacheDir:     filepath.Join(os.TempDir(), "rustimport"),
		BuildTimeout: 15 * time.Minute,
	}
}

// SettingsFromEnv builds Settings from the environment:
//
//	RUSTIMPORT_CACHE_DIR=<dir>
//	RUSTIMPORT_FORCE_REBUILD=true
//	RUSTIMPORT_RELEASE_MODE=true
//	RUSTIMPORT_RELEASE_BINARIES=true
//	RUSTIMPORT_CARGO_EXECUTABLE=<path>
//	RUSTIMPORT_CARGO_ARGS='--offline --locked'
//	RUSTIMPORT_BUILD_TIMEOUT=10m
//
// RUSTIMPORT_CARGO_ARGS is split using shell quoting rules. An invalid
// value there or in RUSTIMPORT_BUILD_TIMEOUT is reported as an error
// rather than silently ignored.
func SettingsFromEnv() (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("rustimport")
	v.AutomaticEnv()

	defaults := DefaultSettings()
	v.SetDefault("cache_dir", defaults.CacheDir)
	v.SetDefault("build_timeout", defaults.BuildTimeout.String())

	s := Settings{
		CacheDir:        v.GetString("cache_dir"),
		ForceRebuild:    v.GetBool("force_rebuild"),
		ReleaseMode:     v.GetBool("release_mode"),
		ReleaseBinaries: v.GetBool("release_binaries"),
		CargoExecutable: v.GetString("cargo_executable"),
	}

	timeout, err := time.ParseDuration(v.GetString("build_timeout"))
	if err != nil {
		return Settings{}, errors.Wrap(err, "invalid RUSTIMPORT_BUILD_TIMEOUT")
	}
	s.BuildTimeout = timeout

	if raw := v.GetString("cargo_args"); raw != "" {
		args, err := shellquote.Split(raw)
		if err != nil {
			return Settings{}, errors.Wrap(err, "invalid RUSTIMPORT_CARGO_ARGS")
		}
		s.CargoArgs = args
	}

	return s, nil
}
