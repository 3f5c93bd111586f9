package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"toolpin/internal/binary"
	"toolpin/internal/manifest"
	"toolpin/internal/platform"
)

// installOptions holds the parsed `toolpin install` flags.
type installOptions struct {
	lockfile           string
	binDir             string
	rules              string
	jobs               int
	allowMissingDigest bool
	verbose            bool
	showHelp           bool
}

// runInstall handles the `toolpin install` subcommand.
func runInstall(args []string) error {
	opts, err := parseInstallArgs(args)
	if err != nil {
		return err
	}
	if opts.showHelp {
		printInstallHelp()
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootDir, err := toolpinDir()
	if err != nil {
		return err
	}

	lf, err := manifest.Load(opts.lockfile)
	if err != nil {
		return fmt.Errorf("load lockfile: %w", err)
	}

	info, err := platform.NewDetector().Detect(ctx)
	if err != nil {
		return fmt.Errorf("detect platform: %w", err)
	}

	var rules *platform.Rules
	if opts.rules != "" {
		rules, err = platform.LoadRules(opts.rules, info)
		if err != nil {
			return fmt.Errorf("load rules file: %w", err)
		}
	}

	policy := binary.DigestRequired
	if opts.allowMissingDigest {
		policy = binary.DigestPermissive
	}

	var logger binary.Logger
	if opts.verbose {
		logger = newStderrLogger()
	}

	manager, err := binary.NewManager(binary.Config{
		RootDir:      rootDir,
		BinDir:       opts.binDir,
		Platform:     info,
		Rules:        rules,
		Jobs:         opts.jobs,
		DigestPolicy: policy,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}

	results := manager.Run(ctx, lf.Specs())

	failed := 0
	for _, res := range results {
		switch {
		case res.Err != nil:
			failed++
			fmt.Printf("failed    %-20s %v\n", res.Tool, res.Err)
		case res.CacheHit:
			fmt.Printf("cached    %-20s %s\n", res.Tool, res.FinalPath)
		default:
			fmt.Printf("installed %-20s %s\n", res.Tool, res.FinalPath)
		}
		for _, warning := range res.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s: %s\n", res.Tool, warning)
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tools failed", failed, len(results))
	}
	return nil
}

func parseInstallArgs(args []string) (installOptions, error) {
	opts := installOptions{lockfile: DefaultLockfile}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "--help", "-h":
			opts.showHelp = true
		case "--allow-missing-digest":
			opts.allowMissingDigest = true
		case "--verbose", "-v":
			opts.verbose = true
		case "--lockfile", "--bin-dir", "--rules", "--jobs":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("%s requires a value", arg)
			}
			i++
			value := args[i]
			switch arg {
			case "--lockfile":
				opts.lockfile = value
			case "--bin-dir":
				opts.binDir = value
			case "--rules":
				opts.rules = value
			case "--jobs":
				jobs, err := strconv.Atoi(value)
				if err != nil || jobs < 1 {
					return opts, fmt.Errorf("--jobs must be a positive integer, got %q", value)
				}
				opts.jobs = jobs
			}
		default:
			if strings.HasPrefix(arg, "-") {
				return opts, fmt.Errorf("unknown flag: %s", arg)
			}
			return opts, fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	return opts, nil
}

func printInstallHelp() {
	fmt.Println("Usage: toolpin install [options]")
	fmt.Println()
	fmt.Println("Install every tool pinned in the lockfile, in parallel, skipping")
	fmt.Println("tools that are already installed from a verified cached artifact.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --lockfile <path>        Lockfile to install from (default ./toolpin.lock.json)")
	fmt.Println("  --bin-dir <path>         Install executables here instead of <toolpin-dir>/bin")
	fmt.Println("  --rules <path>           Lua file with extra platform name mappings")
	fmt.Println("  --jobs <n>               Number of parallel installs (default 4)")
	fmt.Println("  --allow-missing-digest   Install entries that declare no sha256 digest")
	fmt.Println("  --verbose, -v            Log pipeline details to stderr")
	fmt.Println("  --help, -h               Show this help")
}
