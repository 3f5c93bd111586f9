package binary

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"toolpin/internal/manifest"
	"toolpin/internal/platform"
)

// placeholderPattern matches {name} placeholders in source templates. The
// body is deliberately loose so misspelled or miscased tokens are caught
// as unknown placeholders instead of passing through into the URL.
var placeholderPattern = regexp.MustCompile(`\{([^{}]*)\}`)

// Resolver expands templated source specifications into concrete,
// platform-specific download URLs. Resolution is pure: identical inputs
// always produce the identical ResolvedSource.
type Resolver struct {
	platform *platform.Info
	rules    *platform.Rules
}

// NewResolver creates a resolver for the given platform and mapping rules.
// A nil rules value uses the built-in defaults.
func NewResolver(info *platform.Info, rules *platform.Rules) *Resolver {
	if rules == nil {
		rules = platform.DefaultRules()
	}
	return &Resolver{platform: info, rules: rules}
}

// Resolve produces the download location for a tool entry on the
// resolver's platform. It fails with ErrUnsupportedPlatform when no name
// mapping exists for the running OS or architecture, and with
// ErrMalformedTemplate when the template contains unknown placeholders or
// does not expand to an absolute URL.
func (r *Resolver) Resolve(spec *manifest.ToolSpec) (*ResolvedSource, error) {
	osName, ok := r.rules.OSName(spec.Name, r.platform.OS)
	if !ok {
		return nil, fmt.Errorf("%w: no mapping for os %q (tool %s)", ErrUnsupportedPlatform, r.platform.OS, spec.Name)
	}

	archName, ok := r.rules.ArchName(spec.Name, r.platform.Arch)
	if !ok {
		return nil, fmt.Errorf("%w: no mapping for arch %q (tool %s)", ErrUnsupportedPlatform, r.platform.Arch, spec.Name)
	}

	values := map[string]string{
		"version": spec.Version,
		"os":      osName,
		"arch":    archName,
		"ext":     r.extension(spec, osName),
	}

	rawURL, err := expandTemplate(spec.Template, values)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", spec.Name, err)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute URL (tool %s)", ErrMalformedTemplate, rawURL, spec.Name)
	}

	src := &ResolvedSource{
		URL:      rawURL,
		Filename: path.Base(parsed.Path),
		OS:       r.platform.OS,
		Arch:     r.platform.Arch,
	}

	if spec.Signature != "" {
		sigURL, err := expandTemplate(spec.Signature, values)
		if err != nil {
			return nil, fmt.Errorf("tool %s signature: %w", spec.Name, err)
		}
		src.SignatureURL = sigURL
	}

	return src, nil
}

// extension returns the {ext} substitution for a tool: a rules override if
// one is declared, otherwise a default derived from the entry kind and OS.
func (r *Resolver) extension(spec *manifest.ToolSpec, osName string) string {
	if ext := r.rules.ExtOverride(spec.Name); ext != "" {
		return ext
	}

	switch spec.EffectiveKind() {
	case manifest.KindArchive:
		if r.platform.IsWindows() || osName == "windows" {
			return ".zip"
		}
		return ".tar.gz"
	default:
		if r.platform.IsWindows() || osName == "windows" {
			return ".exe"
		}
		return ""
	}
}

// expandTemplate substitutes {placeholder} occurrences with their values.
// Unknown or empty placeholders are a template error.
func expandTemplate(template string, values map[string]string) (string, error) {
	var badNames []string

	expanded := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.Trim(match, "{}")
		value, ok := values[name]
		if !ok {
			badNames = append(badNames, name)
			return match
		}
		return value
	})

	if len(badNames) > 0 {
		return "", fmt.Errorf("%w: unknown placeholder {%s}", ErrMalformedTemplate, strings.Join(badNames, "}, {"))
	}

	return expanded, nil
}
