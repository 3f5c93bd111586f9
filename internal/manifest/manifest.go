// Package manifest defines the lockfile model: the declarative list of
// pinned tools that the install pipeline consumes. Specs are immutable
// once loaded; everything downstream treats them as read-only input.
package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Schema identifies the lockfile format understood by this version.
const Schema = "https://toolpin.dev/lockfile.schema.json"

// Kind describes how a downloaded artifact should be installed.
type Kind string

const (
	// KindFile is a bare executable placed directly into the bin directory.
	KindFile Kind = "file"
	// KindArchive is an archive from which a single executable is extracted.
	KindArchive Kind = "archive"
)

// archiveSuffixes are template suffixes that imply KindArchive when the
// lockfile entry does not declare a kind explicitly. Only formats the
// extractor can unpack are listed.
var archiveSuffixes = []string{".tar.gz", ".tgz", ".zip", "{ext}"}

// DigestSet maps platform keys ("os-arch", e.g. "linux-amd64") to expected
// sha256 hex digests. The JSON form may be a single string, which applies
// to every platform, or an object keyed by platform.
type DigestSet map[string]string

// AnyPlatform is the DigestSet key used for a digest that applies everywhere.
const AnyPlatform = "*"

// For returns the expected digest for a platform key, falling back to a
// platform-independent digest if one was declared.
func (d DigestSet) For(key string) (string, bool) {
	if digest, ok := d[key]; ok {
		return digest, true
	}
	digest, ok := d[AnyPlatform]
	return digest, ok
}

// UnmarshalJSON accepts either a bare digest string or an object of
// platform-keyed digests.
func (d *DigestSet) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*d = DigestSet{AnyPlatform: single}
		return nil
	}

	var keyed map[string]string
	if err := json.Unmarshal(data, &keyed); err != nil {
		return fmt.Errorf("sha256 must be a hex string or an object of platform digests: %w", err)
	}
	*d = DigestSet(keyed)
	return nil
}

// MarshalJSON writes the compact string form when the set holds only a
// platform-independent digest.
func (d DigestSet) MarshalJSON() ([]byte, error) {
	if len(d) == 1 {
		if digest, ok := d[AnyPlatform]; ok {
			return json.Marshal(digest)
		}
	}
	return json.Marshal(map[string]string(d))
}

// ToolSpec is one pinned tool entry. The zero value is invalid; entries are
// created by loading a lockfile and never mutated afterwards.
type ToolSpec struct {
	Name      string            `json:"-"`
	Version   string            `json:"version"`
	Template  string            `json:"template"`
	Digests   DigestSet         `json:"sha256,omitempty"`
	Kind      Kind              `json:"kind,omitempty"`
	Binary    string            `json:"binary,omitempty"`
	InstallAs string            `json:"install_as,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Signature string            `json:"signature,omitempty"`
}

// Clone returns a deep copy of the entry, used when rewriting a
// lockfile so the loaded specs stay untouched.
func (s *ToolSpec) Clone() *ToolSpec {
	next := *s
	if s.Digests != nil {
		next.Digests = make(DigestSet, len(s.Digests))
		for key, digest := range s.Digests {
			next.Digests[key] = digest
		}
	}
	if s.Headers != nil {
		next.Headers = make(map[string]string, len(s.Headers))
		for name, value := range s.Headers {
			next.Headers[name] = value
		}
	}
	return &next
}

// Validate checks the invariants a loaded entry must satisfy.
func (s *ToolSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if strings.ContainsAny(s.Name, "/\\") {
		return fmt.Errorf("tool %q: name must not contain path separators", s.Name)
	}
	if s.Version == "" {
		return fmt.Errorf("tool %q: version is required", s.Name)
	}
	if s.Template == "" {
		return fmt.Errorf("tool %q: template is required", s.Name)
	}
	switch s.Kind {
	case "", KindFile, KindArchive:
	default:
		return fmt.Errorf("tool %q: unknown kind %q", s.Name, s.Kind)
	}
	return nil
}

// EffectiveKind returns the declared kind, or infers one from the template
// suffix when absent.
func (s *ToolSpec) EffectiveKind() Kind {
	if s.Kind != "" {
		return s.Kind
	}
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(s.Template, suffix) {
			return KindArchive
		}
	}
	return KindFile
}

// BinaryName returns the name of the executable inside an archive.
func (s *ToolSpec) BinaryName() string {
	if s.Binary != "" {
		return s.Binary
	}
	return s.Name
}

// InstallName returns the final executable name under the bin directory.
func (s *ToolSpec) InstallName() string {
	if s.InstallAs != "" {
		return s.InstallAs
	}
	return s.Name
}
