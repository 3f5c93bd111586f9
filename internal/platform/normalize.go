package platform

import (
	"fmt"
	"strings"
)

// familyMap maps distribution names to their canonical family names.
// This normalizes the variations gopsutil reports across distros.
var familyMap = map[string]string{
	"debian": FamilyDebian,
	"ubuntu": FamilyDebian,
	"rhel":   FamilyRHEL,
	"centos": FamilyRHEL,
	"rocky":  FamilyRHEL,
	"fedora": FamilyFedora,
	"alpine": FamilyAlpine,
	"arch":   FamilyArch,
}

// normalizeArch converts GOARCH values to normalized architecture names.
func normalizeArch(arch string) (string, error) {
	switch arch {
	case "amd64", "x86_64":
		return "amd64", nil
	case "arm64", "aarch64":
		return "arm64", nil
	case "arm", "386":
		return arch, nil
	default:
		return "", fmt.Errorf("unsupported architecture: %s", arch)
	}
}

// normalizeName lowercases and trims identifiers reported by gopsutil.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// mapFamily maps distribution family strings to canonical family names.
func mapFamily(family string) string {
	if canonical, ok := familyMap[normalizeName(family)]; ok {
		return canonical
	}
	return FamilyUnknown
}
