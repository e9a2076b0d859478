package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	rustimport "github.com/contriboss/rustimport-go"
)

var (
	flagVerbose  bool
	flagQuiet    bool
	flagCacheDir string

	log *zap.SugaredLogger

	// settings are loaded once in the pre-run hook; commands layer
	// their own flags on top (e.g. build --release).
	settings rustimport.Settings
)

// RootCmd is the rustimport command-line entry point.
var RootCmd = &cobra.Command{
	Use:   "rustimport",
	Short: "Build Rust source files as importable native extensions",
	Long: `rustimport builds Rust source files and crates into native extension
modules on demand, driven by directive comments in the source itself.

A single .rs file opts in with a marker comment on its first line:

  // rustimport:pyo3

A whole crate opts in with a .rustimport marker file next to its
Cargo.toml. Built artifacts are cached and rebuilt only when their
fingerprint (sources, manifest, watched files, local path
dependencies) changes.

Examples:
  rustimport new somefile.rs     # Scaffold a single-file extension
  rustimport build somefile.rs   # Build one file
  rustimport build ./src -r      # Build everything under ./src, optimized
  rustimport watch somefile.rs   # Rebuild on every change
  rustimport clean               # Drop all cached artifacts`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		settings, err = rustimport.SettingsFromEnv()
		if err != nil {
			return err
		}
		if flagCacheDir != "" {
			settings.CacheDir = flagCacheDir
		}

		cfg := zap.NewDevelopmentConfig()
		switch {
		case flagQuiet:
			cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
		case flagVerbose:
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		default:
			cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}
		logger, err := cfg.Build()
		if err != nil {
			return err
		}
		log = logger.Sugar().Named("rustimport")
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Increase log verbosity")
	RootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Only print errors")
	RootCmd.PersistentFlags().StringVar(&flagCacheDir, "cache-dir", "", "Override the artifact cache directory")

	RootCmd.AddCommand(BuildCmd)
	RootCmd.AddCommand(NewCmd)
	RootCmd.AddCommand(CleanCmd)
	RootCmd.AddCommand(WatchCmd)
}

// Execute runs the root command.
func Execute() error {
	return RootCmd.Execute()
}

func newEngine() *rustimport.Engine {
	return rustimport.New(settings, rustimport.WithLogger(log))
}
