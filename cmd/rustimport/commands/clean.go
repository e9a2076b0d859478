package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// CleanCmd drops every cached artifact.
var CleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Drop all cached build artifacts",
	Long: `Drop all cached build artifacts.

The next import or build of each module recompiles it from scratch.
Source files and crates are untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newEngine().Clean(); err != nil {
			return err
		}
		pterm.Success.Printfln("cleaned artifact cache at %s", settings.CacheDir)
		return nil
	},
}
