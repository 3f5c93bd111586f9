// Package platform provides host platform detection and the name-mapping
// tables used to turn Go's OS/architecture identifiers into the
// vendor-specific strings that appear in download URLs.
//
// Detection uses runtime.GOOS/GOARCH plus gopsutil for Linux distribution
// details, with graceful fallback when distro detection fails. Mapping is
// purely table-driven: built-in defaults cover the common platforms, and an
// optional Lua rules file can remap names globally or per tool without
// touching pipeline code.
package platform

import "context"

// Linux distribution family constants, used to group related distributions
// when rules files want coarse-grained matching.
const (
	FamilyDebian  = "debian"  // Debian, Ubuntu, Linux Mint
	FamilyRHEL    = "rhel"    // RHEL, CentOS, Rocky Linux, AlmaLinux
	FamilyFedora  = "fedora"  // Fedora
	FamilyAlpine  = "alpine"  // Alpine Linux
	FamilyArch    = "arch"    // Arch Linux, Manjaro
	FamilyUnknown = "unknown" // Unrecognized distributions
)

// Info contains detected host platform information.
type Info struct {
	OS            string // "linux", "darwin", "windows"
	Arch          string // "amd64", "arm64" (normalized)
	ArchRaw       string // original GOARCH value
	Distro        string // distro ID (Linux only, e.g. "ubuntu")
	Family        string // canonical family (e.g. "debian")
	DistroVersion string // distro version (Linux only, e.g. "22.04")
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == "linux"
}

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool {
	return i.OS == "darwin"
}

// IsWindows returns true if the platform is Windows.
func (i *Info) IsWindows() bool {
	return i.OS == "windows"
}

// IsARM64 returns true if the architecture is arm64.
func (i *Info) IsARM64() bool {
	return i.Arch == "arm64"
}

// IsAMD64 returns true if the architecture is amd64.
func (i *Info) IsAMD64() bool {
	return i.Arch == "amd64"
}

// Key returns the "os-arch" pair used to select per-platform digests in
// the lockfile, e.g. "linux-amd64".
func (i *Info) Key() string {
	return i.OS + "-" + i.Arch
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}
