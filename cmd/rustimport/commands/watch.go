package commands

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	rustimport "github.com/contriboss/rustimport-go"
)

// debounce window for editor save bursts
const watchSettle = 300 * time.Millisecond

// WatchCmd rebuilds a module whenever one of its inputs changes.
var WatchCmd = &cobra.Command{
	Use:   "watch <path>",
	Short: "Rebuild a module whenever its inputs change",
	Long: `Watch a Rust source file or crate and rebuild it whenever any of its
fingerprinted inputs changes: its own sources, the files matched by its
//d: directives, and its local path dependencies.

Runs until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings.ForceRebuild = settings.ForceRebuild || flagForce
		settings.ReleaseBinaries = settings.ReleaseBinaries || flagRelease

		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		engine := newEngine()
		return watchLoop(ctx, engine, path)
	},
}

func init() {
	WatchCmd.Flags().BoolVarP(&flagForce, "force", "f", false, "Rebuild even when the cached artifact is current")
	WatchCmd.Flags().BoolVarP(&flagRelease, "release", "r", false, "Build release-optimized binaries (cargo --release)")
}

func watchLoop(ctx context.Context, engine *rustimport.Engine, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	rebuild := func() {
		if artifact, err := engine.BuildPath(ctx, path); err != nil {
			pterm.Error.Printfln("build failed: %v", err)
		} else {
			pterm.Success.Printfln("built %s", artifact.Path)
		}
		// Directives may have changed, so the watched set may have too.
		if err := syncWatchDirs(engine, watcher, path); err != nil {
			log.Warnw("updating watch set", "error", err)
		}
	}

	rebuild()
	pterm.Info.Printfln("watching %s (Ctrl+C to stop)", path)

	var settle *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Debugw("change detected", "file", event.Name, "op", event.Op.String())
			if settle == nil {
				settle = time.AfterFunc(watchSettle, func() { fire <- struct{}{} })
			} else {
				settle.Reset(watchSettle)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnw("watcher error", "error", err)
		case <-fire:
			settle = nil
			rebuild()
		}
	}
}

// syncWatchDirs points the watcher at every directory that can contain
// a fingerprinted input of the module. fsnotify watches directories,
// not globs, so each pattern is reduced to its static base and the base
// is walked; cargo target directories are skipped.
func syncWatchDirs(engine *rustimport.Engine, watcher *fsnotify.Watcher, path string) error {
	inputs, err := engine.FingerprintInputsFor(path)
	if err != nil {
		return err
	}

	var patterns []string
	patterns = append(patterns, inputs.SourcePatterns...)
	patterns = append(patterns, inputs.WatchPatterns...)
	patterns = append(patterns, inputs.DependencyPatterns...)

	seen := map[string]bool{}
	for _, pattern := range patterns {
		base, _ := doublestar.SplitPattern(filepath.ToSlash(pattern))
		base = filepath.FromSlash(base)

		info, err := os.Stat(base)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			base = filepath.Dir(base)
		}

		err = filepath.Walk(base, func(p string, fi os.FileInfo, err error) error {
			if err != nil || !fi.IsDir() {
				return nil
			}
			if fi.Name() == "target" {
				return filepath.SkipDir
			}
			if !seen[p] {
				seen[p] = true
				_ = watcher.Add(p)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
