// Package update refreshes lockfile entries that point at GitHub release
// artifacts. For each tool whose source template matches the GitHub
// releases download pattern it queries the repository's latest release,
// and when a newer tag is published it bumps the pinned version and
// recomputes every declared platform digest by resolving and fetching
// that platform's artifact. Latest-release lookups are memoized per
// repository so a lockfile with many tools from one repo costs a single
// API call. A tool that fails to update keeps its current entry; the
// failure is reported alongside the successes.
package update

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"toolpin/internal/binary"
	"toolpin/internal/manifest"
	"toolpin/internal/platform"
)

// DefaultAPIBase is the GitHub REST endpoint latest-release lookups go to.
const DefaultAPIBase = "https://api.github.com"

// releasePattern matches source templates served from GitHub releases.
// Org, repo, and the tag path segment are captured; org and repo are
// literal in the template even when the rest of the URL carries
// placeholders, while the tag segment usually contains {version}.
var releasePattern = regexp.MustCompile(`^https://github\.com/([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)/releases/download/([^/]+)/`)

// Change records the outcome of one tool's update attempt.
type Change struct {
	Tool string
	From string
	To   string
	// Err is set when the update attempt failed; the lockfile entry is
	// left untouched in that case.
	Err error
}

// Updated reports whether the tool's pinned version actually moved.
func (c Change) Updated() bool {
	return c.Err == nil && c.From != c.To
}

// Config holds configuration for an Updater.
type Config struct {
	// Client is the HTTP client for API and artifact requests (a default
	// client when nil).
	Client *http.Client
	// APIBase overrides the GitHub API endpoint, for tests.
	APIBase string
	// UserAgent is sent on every request.
	UserAgent string
	// Platform is the host platform, used to resolve digests declared
	// for any platform.
	Platform *platform.Info
	// Rules are the platform name-mapping tables (nil for defaults).
	Rules *platform.Rules
	// Logger receives per-tool progress (no-op when nil).
	Logger binary.Logger
}

// Updater rewrites lockfile entries against the latest GitHub releases.
type Updater struct {
	client    *http.Client
	apiBase   string
	userAgent string
	host      *platform.Info
	rules     *platform.Rules
	logger    binary.Logger

	mu      sync.Mutex
	latests map[string]latestResult
}

type latestResult struct {
	tag string
	err error
}

// NewUpdater creates an updater.
func NewUpdater(cfg Config) (*Updater, error) {
	if cfg.Platform == nil {
		return nil, fmt.Errorf("Platform is required")
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: binary.DefaultTimeout}
	}

	apiBase := strings.TrimSuffix(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = binary.DefaultUserAgent
	}

	rules := cfg.Rules
	if rules == nil {
		rules = platform.DefaultRules()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = binary.NopLogger()
	}

	return &Updater{
		client:    client,
		apiBase:   apiBase,
		userAgent: userAgent,
		host:      cfg.Platform,
		rules:     rules,
		logger:    logger,
		latests:   make(map[string]latestResult),
	}, nil
}

// Run attempts to update every GitHub-hosted tool in the lockfile,
// mutating lf in place for tools that succeed. Tools whose templates do
// not point at GitHub releases are skipped silently; tools that fail
// keep their current entry and surface the error in the returned
// changes. The caller decides whether and where to save the result.
func (u *Updater) Run(ctx context.Context, lf *manifest.Lockfile) ([]Change, error) {
	var changes []Change

	for _, spec := range lf.Specs() {
		match := releasePattern.FindStringSubmatch(spec.Template)
		if match == nil {
			continue
		}
		org, repo, tagSegment := match[1], match[2], match[3]

		updated, err := u.updateTool(ctx, spec, org, repo, tagSegment)
		if err != nil {
			u.logger.Warn("update failed", "tool", spec.Name, "error", err)
			changes = append(changes, Change{Tool: spec.Name, From: spec.Version, To: spec.Version, Err: err})
			continue
		}

		change := Change{Tool: spec.Name, From: spec.Version, To: updated.Version}
		if change.Updated() {
			u.logger.Info("updated", "tool", spec.Name, "from", change.From, "to", change.To)
			lf.Tools[spec.Name] = updated
		}
		changes = append(changes, change)

		if err := ctx.Err(); err != nil {
			return changes, err
		}
	}

	return changes, nil
}

// updateTool returns a replacement spec pinned at the repository's latest
// release. When the tool is already current the spec is returned
// unchanged.
func (u *Updater) updateTool(ctx context.Context, spec *manifest.ToolSpec, org, repo, tagSegment string) (*manifest.ToolSpec, error) {
	tag, err := u.latestTag(ctx, org, repo)
	if err != nil {
		return nil, err
	}

	latest, err := versionFromTag(tagSegment, tag)
	if err != nil {
		return nil, err
	}
	if latest == spec.Version {
		return spec, nil
	}

	next := spec.Clone()
	next.Version = latest

	digests := make(manifest.DigestSet, len(spec.Digests))
	for key := range spec.Digests {
		info, err := u.platformFor(key)
		if err != nil {
			return nil, err
		}

		src, err := binary.NewResolver(info, u.rules).Resolve(next)
		if err != nil {
			return nil, err
		}

		digest, err := u.fetchDigest(ctx, src.URL, spec.Headers)
		if err != nil {
			return nil, fmt.Errorf("digest for %s: %w", key, err)
		}
		digests[key] = digest
	}
	next.Digests = digests

	return next, nil
}

// latestTag returns the latest release tag for org/repo, memoizing both
// hits and failures so a broken repo is asked about once per run.
func (u *Updater) latestTag(ctx context.Context, org, repo string) (string, error) {
	key := org + "/" + repo

	u.mu.Lock()
	cached, ok := u.latests[key]
	u.mu.Unlock()
	if ok {
		return cached.tag, cached.err
	}

	tag, err := u.queryLatestTag(ctx, org, repo)

	u.mu.Lock()
	u.latests[key] = latestResult{tag: tag, err: err}
	u.mu.Unlock()

	return tag, err
}

func (u *Updater) queryLatestTag(ctx context.Context, org, repo string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", u.apiBase, org, repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", u.userAgent)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("query latest release for %s/%s: %w", org, repo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("query latest release for %s/%s: unexpected status %d", org, repo, resp.StatusCode)
	}

	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", fmt.Errorf("decode latest release for %s/%s: %w", org, repo, err)
	}
	if release.TagName == "" {
		return "", fmt.Errorf("latest release for %s/%s has no tag_name", org, repo)
	}

	return release.TagName, nil
}

// fetchDigest streams the artifact at url through sha256 without
// touching disk.
func (u *Updater) fetchDigest(ctx context.Context, url string, headers map[string]string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", u.userAgent)
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	hasher := sha256.New()
	if _, err := io.Copy(hasher, resp.Body); err != nil {
		return "", fmt.Errorf("hash %s: %w", url, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// versionFromTag extracts the version from a release tag using the
// template's tag path segment as the shape. Tags come in vendor-specific
// forms ("v1.2.3", "jq-1.7.1", bare "2024.1"); the segment's literal text
// around {version} tells us which part is the version.
func versionFromTag(segment, tag string) (string, error) {
	idx := strings.Index(segment, "{version}")
	if idx < 0 {
		return "", fmt.Errorf("release tag segment %q does not reference {version}", segment)
	}

	pattern := "^" + regexp.QuoteMeta(segment[:idx]) + "(.+)" + regexp.QuoteMeta(segment[idx+len("{version}"):]) + "$"
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("tag segment %q: %w", segment, err)
	}

	m := re.FindStringSubmatch(tag)
	if m == nil {
		return "", fmt.Errorf("latest tag %q does not match tag segment %q", tag, segment)
	}
	return m[1], nil
}

// platformFor maps a digest key back to a platform descriptor. The
// any-platform key resolves with the host platform.
func (u *Updater) platformFor(key string) (*platform.Info, error) {
	if key == manifest.AnyPlatform {
		return u.host, nil
	}

	osPart, archPart, ok := strings.Cut(key, "-")
	if !ok || osPart == "" || archPart == "" {
		return nil, fmt.Errorf("malformed digest platform key %q", key)
	}

	return &platform.Info{OS: osPart, Arch: archPart}, nil
}
