package binary

import (
	"context"
	"time"
)

// ResolvedSource is the concrete download location derived from a tool
// entry and the running platform. It is deterministic for a given input
// and never persisted.
type ResolvedSource struct {
	URL          string
	SignatureURL string // empty when the entry declares no signature
	Filename     string
	OS           string
	Arch         string
}

// EntryState tracks how far a cache entry has progressed through the
// pipeline. States only ever move forward.
type EntryState string

const (
	// StatePending is reserved for entries whose artifact write has not
	// completed; such entries are never visible on disk.
	StatePending EntryState = "pending"
	// StateFetched means the artifact is fully written but unverified
	// (permissive digest policy only).
	StateFetched EntryState = "fetched"
	// StateVerified means the artifact matched its expected digest.
	StateVerified EntryState = "verified"
	// StateInstalled means the executable has been placed at its final path.
	StateInstalled EntryState = "installed"
)

// stateRank orders entry states for forward-only transitions.
var stateRank = map[EntryState]int{
	StatePending:   0,
	StateFetched:   1,
	StateVerified:  2,
	StateInstalled: 3,
}

// AtLeast reports whether s has progressed at least as far as other.
func (s EntryState) AtLeast(other EntryState) bool {
	return stateRank[s] >= stateRank[other]
}

// CacheEntry is the bookkeeping record for one cached artifact. It is
// owned by the Cache; other components read it and advance its state
// through Cache methods only.
type CacheEntry struct {
	Key       string     `json:"key"`
	URL       string     `json:"url"`
	Filename  string     `json:"filename"`
	Digest    string     `json:"digest"`
	State     EntryState `json:"state"`
	UpdatedAt time.Time  `json:"updated_at"`

	path string // absolute artifact path, set when the entry is read
}

// ArtifactPath returns the on-disk location of the cached artifact.
func (e *CacheEntry) ArtifactPath() string {
	return e.path
}

// InstallResult is the outcome of one entry's pipeline run. Exactly one is
// produced per lockfile entry per orchestration run.
type InstallResult struct {
	Tool      string
	FinalPath string
	Err       error
	CacheHit  bool     // no network fetch was needed
	Warnings  []string // unverified installs, corruption re-fetches
}

// Logger provides structured logging for pipeline operations. The default
// is a no-op; callers plug in their own implementation.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (noopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (noopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (noopLogger) Error(msg string, keysAndValues ...interface{}) {}

// defaultLogger returns the default no-op logger.
func defaultLogger() Logger {
	return noopLogger{}
}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger {
	return noopLogger{}
}

// Sleeper abstracts backoff delays so retry behavior is testable without
// wall-clock waits.
type Sleeper interface {
	// Sleep blocks for d or until ctx is cancelled, returning ctx.Err()
	// in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper implements Sleeper with actual timers.
type RealSleeper struct{}

// Sleep blocks for d or until ctx is cancelled.
func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
