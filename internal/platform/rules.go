package platform

// ToolRules holds name remappings scoped to a single tool. Vendors rarely
// agree on platform naming ("darwin" vs "macos", "amd64" vs "x86_64"), so
// remaps are most often declared per tool.
type ToolRules struct {
	OS   map[string]string
	Arch map[string]string
	Ext  string // archive extension override, e.g. ".zip"
}

// Rules holds the platform name-mapping tables used during URL resolution.
// Lookup order is tool-specific remap, then global remap, then the built-in
// defaults. A platform absent from all three layers is unsupported.
type Rules struct {
	OS    map[string]string
	Arch  map[string]string
	Tools map[string]ToolRules
}

// defaultOS and defaultArch define the platforms supported out of the box.
// The identity mapping is intentional: lockfile templates use Go's own names
// unless a rules file says otherwise.
var defaultOS = map[string]string{
	"linux":   "linux",
	"darwin":  "darwin",
	"windows": "windows",
}

var defaultArch = map[string]string{
	"amd64": "amd64",
	"arm64": "arm64",
	"arm":   "arm",
	"386":   "386",
}

// DefaultRules returns the built-in mapping tables with no remaps applied.
func DefaultRules() *Rules {
	return &Rules{
		OS:    map[string]string{},
		Arch:  map[string]string{},
		Tools: map[string]ToolRules{},
	}
}

// OSName maps a GOOS value to the vendor name used in download URLs for the
// given tool. The second return value is false when the OS is not supported
// by any mapping layer.
func (r *Rules) OSName(tool, goos string) (string, bool) {
	if tr, ok := r.Tools[tool]; ok {
		if name, ok := tr.OS[goos]; ok {
			return name, true
		}
	}
	if name, ok := r.OS[goos]; ok {
		return name, true
	}
	name, ok := defaultOS[goos]
	return name, ok
}

// ArchName maps a GOARCH value to the vendor name used in download URLs for
// the given tool.
func (r *Rules) ArchName(tool, goarch string) (string, bool) {
	if tr, ok := r.Tools[tool]; ok {
		if name, ok := tr.Arch[goarch]; ok {
			return name, true
		}
	}
	if name, ok := r.Arch[goarch]; ok {
		return name, true
	}
	name, ok := defaultArch[goarch]
	return name, ok
}

// ExtOverride returns a tool-specific archive extension override, or empty
// when the default (derived from the tool's kind and OS) should be used.
func (r *Rules) ExtOverride(tool string) string {
	if tr, ok := r.Tools[tool]; ok {
		return tr.Ext
	}
	return ""
}
