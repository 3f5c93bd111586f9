package binary

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"toolpin/internal/manifest"
	"toolpin/internal/platform"
)

// DefaultJobs is the worker pool size used when none is configured.
const DefaultJobs = 4

// Config holds configuration for the pipeline manager.
type Config struct {
	// RootDir is the managed toolpin directory; bin/, cache/downloads/,
	// and keyrings/ live underneath it.
	RootDir string
	// BinDir overrides the default <RootDir>/bin target directory.
	BinDir string
	// Platform is the detected host platform.
	Platform *platform.Info
	// Rules are the platform name-mapping tables (nil for defaults).
	Rules *platform.Rules
	// Jobs is the worker pool size (DefaultJobs when zero).
	Jobs int
	// DigestPolicy controls handling of entries without declared digests.
	DigestPolicy DigestPolicy
	// Logger receives pipeline diagnostics (no-op when nil).
	Logger Logger
	// Sleeper overrides backoff delays, for tests (real sleeps when nil).
	Sleeper Sleeper
}

// Manager drives the install pipeline across all lockfile entries,
// isolating entries from each other's failures and owning the
// parallelism policy.
type Manager struct {
	binDir     string
	platform   *platform.Info
	resolver   *Resolver
	cache      *Cache
	downloader *Downloader
	verifier   *Verifier
	installer  *Installer
	jobs       int
	logger     Logger
}

// NewManager creates a pipeline manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.RootDir == "" {
		return nil, fmt.Errorf("RootDir is required")
	}
	if cfg.Platform == nil {
		return nil, fmt.Errorf("Platform is required")
	}

	binDir := cfg.BinDir
	if binDir == "" {
		binDir = filepath.Join(cfg.RootDir, "bin")
	}
	cacheDir := filepath.Join(cfg.RootDir, "cache", "downloads")
	keyringDir := filepath.Join(cfg.RootDir, "keyrings")

	jobs := cfg.Jobs
	if jobs <= 0 {
		jobs = DefaultJobs
	}

	logger := cfg.Logger
	if logger == nil {
		logger = defaultLogger()
	}

	m := &Manager{
		binDir:     binDir,
		platform:   cfg.Platform,
		resolver:   NewResolver(cfg.Platform, cfg.Rules),
		cache:      NewCache(cacheDir),
		downloader: NewDownloader(),
		verifier:   NewVerifier(cfg.DigestPolicy, keyringDir),
		installer:  NewInstaller(binDir),
		jobs:       jobs,
		logger:     logger,
	}
	m.downloader.logger = logger

	if cfg.Sleeper != nil {
		m.downloader.sleeper = cfg.Sleeper
		m.cache.sleeper = cfg.Sleeper
	}

	return m, nil
}

// BinDir returns the directory executables are installed into.
func (m *Manager) BinDir() string {
	return m.binDir
}

// Run executes the pipeline for every entry, fanning work out across a
// fixed pool of workers. The returned slice preserves the input order
// regardless of completion order, one result per entry; no entry's
// failure aborts or affects any other entry.
func (m *Manager) Run(ctx context.Context, specs []*manifest.ToolSpec) []InstallResult {
	results := make([]InstallResult, len(specs))

	// Two entries that resolve to the same final path would race on the
	// rename; that is a configuration error surfaced per entry, never a
	// silent overwrite.
	claimed := make(map[string]string, len(specs))
	skip := make([]bool, len(specs))
	for idx, spec := range specs {
		final := m.installer.FinalPath(spec)
		if owner, ok := claimed[final]; ok {
			results[idx] = InstallResult{
				Tool: spec.Name,
				Err:  fmt.Errorf("%w: %s and %s both install to %s", ErrConflictingInstallTarget, owner, spec.Name, final),
			}
			skip[idx] = true
			continue
		}
		claimed[final] = spec.Name
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := m.jobs
	if workers > len(specs) {
		workers = len(specs)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = m.installOne(ctx, specs[idx])
			}
		}()
	}

	for idx := range specs {
		if !skip[idx] {
			jobs <- idx
		}
	}
	close(jobs)
	wg.Wait()

	return results
}

// installOne runs the full pipeline for a single entry:
// resolve → cache lookup → fetch-if-needed → verify → commit → install.
func (m *Manager) installOne(ctx context.Context, spec *manifest.ToolSpec) InstallResult {
	res := InstallResult{Tool: spec.Name}

	src, err := m.resolver.Resolve(spec)
	if err != nil {
		res.Err = err
		return res
	}

	key := Key(spec.Name, spec.Version, src.URL)
	expected, _ := spec.Digests.For(m.platform.Key())

	// The required policy refuses undigested entries outright, including
	// artifacts a permissive run already cached or installed.
	if expected == "" && m.verifier.Policy() == DigestRequired {
		res.Err = fmt.Errorf("tool %s: %w", spec.Name, ErrNoDigestConfigured)
		return res
	}

	// Fast path: already installed for this exact entry. Checked from
	// recorded cache state plus the final path, with no network work.
	if entry, err := m.cache.Lookup(key); err == nil && entry != nil && entry.State.AtLeast(StateInstalled) {
		if installed, err := m.installer.IsInstalled(spec); err == nil && installed {
			res.FinalPath = m.installer.FinalPath(spec)
			res.CacheHit = true
			return res
		}
	}

	lease, err := m.cache.Acquire(ctx, key)
	if err != nil {
		res.Err = fmt.Errorf("acquire cache lease: %w", err)
		return res
	}
	defer lease.Release()

	entry, err := m.cache.Lookup(key)
	if err != nil {
		res.Err = err
		return res
	}

	// A committed entry must still match both its own recorded digest and
	// the lockfile's current expectation; anything else is purged and
	// re-fetched, and the purge is reported rather than hidden.
	if entry != nil {
		if err := m.cache.Validate(entry); err != nil {
			m.logger.Warn("purging corrupt cache entry", "tool", spec.Name, "key", key, "error", err)
			res.Warnings = append(res.Warnings, err.Error())
			if rmErr := m.cache.Remove(key); rmErr != nil {
				res.Err = rmErr
				return res
			}
			entry = nil
		} else if expected != "" && !strings.EqualFold(entry.Digest, expected) {
			m.logger.Info("cached artifact does not match lockfile digest, re-fetching", "tool", spec.Name, "key", key)
			if rmErr := m.cache.Remove(key); rmErr != nil {
				res.Err = rmErr
				return res
			}
			entry = nil
		} else {
			if entry.State == StateFetched && expected != "" {
				// The digest comparison above verified the artifact
				// against the lockfile, even though the original fetch
				// ran without a declared digest.
				if aerr := m.cache.Advance(entry, StateVerified); aerr != nil {
					m.logger.Warn("advance cache state", "tool", spec.Name, "error", aerr)
				}
			}
			res.CacheHit = true
		}
	}

	if entry == nil {
		entry, err = m.fetchAndCommit(ctx, spec, src, key, expected, &res)
		if err != nil {
			res.Err = err
			return res
		}
	}

	if entry.State == StateFetched {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s installed without digest verification", spec.Name))
	}

	finalPath, err := m.installer.Install(entry.ArtifactPath(), spec)
	if err != nil {
		res.Err = err
		return res
	}

	if entry.State != StateInstalled {
		if err := m.cache.Advance(entry, StateInstalled); err != nil {
			m.logger.Warn("advance cache state", "tool", spec.Name, "error", err)
		}
	}

	res.FinalPath = finalPath
	m.logger.Info("installed tool", "tool", spec.Name, "version", spec.Version, "path", finalPath)
	return res
}

// fetchAndCommit performs the lease-holder's half of the pipeline:
// download to a temporary path, verify digest and signature, then commit
// into the cache. The temporary file never survives a failure.
func (m *Manager) fetchAndCommit(ctx context.Context, spec *manifest.ToolSpec, src *ResolvedSource, key, expected string, res *InstallResult) (*CacheEntry, error) {
	tmpPath, err := m.cache.TempPath()
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmpPath)

	if _, err := m.downloader.Fetch(ctx, src.URL, spec.Headers, tmpPath); err != nil {
		return nil, err
	}

	actual, err := m.verifier.VerifyDigest(tmpPath, expected)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", spec.Name, err)
	}

	state := StateVerified
	if expected == "" {
		// Permissive policy: the artifact is cached as fetched-only so
		// the lack of verification stays visible.
		state = StateFetched
	}

	if src.SignatureURL != "" {
		if err := m.verifySignature(ctx, spec, src, tmpPath); err != nil {
			return nil, err
		}
	}

	entry, err := m.cache.Commit(key, tmpPath, src.URL, src.Filename, actual, state)
	if err != nil {
		return nil, fmt.Errorf("commit cache entry: %w", err)
	}
	return entry, nil
}

// verifySignature downloads the detached signature and checks it against
// the tool's keyring. A declared signature with no keyring on disk is an
// error: the lockfile author asked for verification we cannot perform.
func (m *Manager) verifySignature(ctx context.Context, spec *manifest.ToolSpec, src *ResolvedSource, artifactPath string) error {
	if !m.verifier.HasKeyring(spec.Name) {
		return fmt.Errorf("%w: tool %s declares a signature but no keyring is installed", ErrSignatureInvalid, spec.Name)
	}

	sigPath, err := m.cache.TempPath()
	if err != nil {
		return err
	}
	defer os.Remove(sigPath)

	if _, err := m.downloader.Fetch(ctx, src.SignatureURL, spec.Headers, sigPath); err != nil {
		return fmt.Errorf("fetch signature: %w", err)
	}

	return m.verifier.VerifySignature(artifactPath, sigPath, spec.Name)
}
