package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"toolpin/internal/manifest"
	"toolpin/internal/platform"
	"toolpin/internal/update"
)

// updateOptions holds the parsed `toolpin update` flags.
type updateOptions struct {
	lockfile string
	verbose  bool
	showHelp bool
}

// runUpdate handles the `toolpin update` subcommand.
func runUpdate(args []string) error {
	opts := updateOptions{lockfile: DefaultLockfile}

	for i := 0; i < len(args); i++ {
		switch arg := args[i]; arg {
		case "--help", "-h":
			opts.showHelp = true
		case "--verbose", "-v":
			opts.verbose = true
		case "--lockfile":
			if i+1 >= len(args) {
				return fmt.Errorf("--lockfile requires a value")
			}
			i++
			opts.lockfile = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	if opts.showHelp {
		printUpdateHelp()
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lf, err := manifest.Load(opts.lockfile)
	if err != nil {
		return fmt.Errorf("load lockfile: %w", err)
	}

	info, err := platform.NewDetector().Detect(ctx)
	if err != nil {
		return fmt.Errorf("detect platform: %w", err)
	}

	cfg := update.Config{Platform: info}
	if opts.verbose {
		cfg.Logger = newStderrLogger()
	}
	updater, err := update.NewUpdater(cfg)
	if err != nil {
		return fmt.Errorf("create updater: %w", err)
	}

	changes, err := updater.Run(ctx, lf)
	if err != nil {
		return err
	}

	updated := 0
	failed := 0
	for _, change := range changes {
		switch {
		case change.Err != nil:
			failed++
			fmt.Printf("failed    %-20s %v\n", change.Tool, change.Err)
		case change.Updated():
			updated++
			fmt.Printf("updated   %-20s %s -> %s\n", change.Tool, change.From, change.To)
		default:
			fmt.Printf("current   %-20s %s\n", change.Tool, change.From)
		}
	}

	if updated > 0 {
		if err := lf.Save(opts.lockfile); err != nil {
			return fmt.Errorf("save lockfile: %w", err)
		}
		fmt.Printf("updated %d tools in %s\n", updated, opts.lockfile)
	}
	if failed > 0 {
		return fmt.Errorf("%d tools failed to update", failed)
	}
	return nil
}

func printUpdateHelp() {
	fmt.Println("Usage: toolpin update [options]")
	fmt.Println()
	fmt.Println("Refresh lockfile entries hosted on GitHub releases to the latest")
	fmt.Println("published tag, recomputing every declared platform digest.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --lockfile <path>  Lockfile to update (default ./toolpin.lock.json)")
	fmt.Println("  --verbose, -v      Log progress to stderr")
	fmt.Println("  --help, -h         Show this help")
}
