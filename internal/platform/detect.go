package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// RealDetector implements Detector using actual platform detection.
type RealDetector struct{}

// NewDetector creates a new platform detector.
func NewDetector() Detector {
	return &RealDetector{}
}

// Detect performs platform detection and returns platform information.
// It uses runtime.GOOS and runtime.GOARCH for OS and architecture, and
// gopsutil for Linux distribution details.
//
// On Linux, if gopsutil fails to detect the distribution, distro fields are
// left empty and detection still succeeds. Download URL construction only
// needs OS and architecture; distro details exist for rules files that want
// distro-conditional remapping.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:      runtime.GOOS,
		ArchRaw: runtime.GOARCH,
	}

	arch, err := normalizeArch(runtime.GOARCH)
	if err != nil {
		return nil, fmt.Errorf("platform detection failed: %w", err)
	}
	info.Arch = arch

	if runtime.GOOS == "linux" {
		distro, family, version, err := host.PlatformInformationWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
			}
			// Distro detection is best-effort; OS/arch alone is enough
			// to resolve download URLs.
			return info, nil
		}

		distro = normalizeName(distro)
		if distro != "" {
			info.Distro = distro
			info.Family = mapFamily(family)
			info.DistroVersion = normalizeName(version)
		}
	}

	return info, nil
}

// StaticDetector implements Detector with a fixed Info value. It exists so
// resolution can be tested for platforms other than the host's.
type StaticDetector struct {
	Info Info
}

// Detect returns the fixed platform information.
func (d StaticDetector) Detect(ctx context.Context) (*Info, error) {
	info := d.Info
	return &info, nil
}
