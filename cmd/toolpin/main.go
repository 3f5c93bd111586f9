package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0"

// EnvToolpinDir overrides the managed directory location.
const EnvToolpinDir = "TOOLPIN_DIR"

// DefaultLockfile is the lockfile path used when --lockfile is absent.
const DefaultLockfile = "toolpin.lock.json"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version":
			fmt.Printf("toolpin %s\n", Version)
			return
		case "install":
			if err := runInstall(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "update":
			if err := runUpdate(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "help", "--help", "-h":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n", os.Args[1])
			printUsage()
			os.Exit(1)
		}
	}

	printUsage()
}

func printUsage() {
	fmt.Println("toolpin - reproducible CLI tool installs from a lockfile")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  toolpin install [options]  Install every tool pinned in the lockfile")
	fmt.Println("  toolpin update [options]   Refresh lockfile entries to the latest releases")
	fmt.Println("  toolpin --version          Show version information")
	fmt.Println("  toolpin help               Show this help")
}

// toolpinDir returns the managed directory, honoring the TOOLPIN_DIR
// override and defaulting to ~/.toolpin.
func toolpinDir() (string, error) {
	if dir := os.Getenv(EnvToolpinDir); dir != "" {
		return dir, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}

	return filepath.Join(homeDir, ".toolpin"), nil
}
