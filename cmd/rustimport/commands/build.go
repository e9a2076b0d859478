package commands

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	flagForce   bool
	flagRelease bool
)

// BuildCmd builds one or more Rust source files or crates.
var BuildCmd = &cobra.Command{
	Use:   "build [path...]",
	Short: "Build Rust source files or crates",
	Long: `Build one or more Rust source files or crates.

Each path may be a single .rs file, a crate directory, or a plain
directory. Plain directories are walked recursively and every eligible
module (marked .rs files and marked crates) is built. With no path,
the current directory is walked.

Artifacts land in the cache directory and are reused on later imports
until their fingerprint changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings.ForceRebuild = settings.ForceRebuild || flagForce
		settings.ReleaseBinaries = settings.ReleaseBinaries || flagRelease

		engine := newEngine()

		paths := args
		if len(paths) == 0 {
			paths = []string{"."}
		}

		for _, path := range paths {
			abs, err := filepath.Abs(os.ExpandEnv(path))
			if err != nil {
				return err
			}
			info, err := os.Stat(abs)
			if err != nil {
				return errors.Wrapf(err, "build root %q", path)
			}

			if info.IsDir() && !isCrateDir(abs) {
				if err := engine.BuildAll(cmd.Context(), abs); err != nil {
					pterm.Error.Printfln("build failed under %s", path)
					return err
				}
				pterm.Success.Printfln("built all modules under %s", path)
				continue
			}

			artifact, err := engine.BuildPath(cmd.Context(), abs)
			if err != nil {
				pterm.Error.Printfln("build failed for %s", path)
				return err
			}
			pterm.Success.Printfln("built %s -> %s", path, artifact.Path)
		}
		return nil
	},
}

func init() {
	BuildCmd.Flags().BoolVarP(&flagForce, "force", "f", false, "Rebuild even when the cached artifact is current")
	BuildCmd.Flags().BoolVarP(&flagRelease, "release", "r", false, "Build release-optimized binaries (cargo --release)")
}

func isCrateDir(path string) bool {
	_, err := os.Stat(filepath.Join(path, "Cargo.toml"))
	return err == nil
}
