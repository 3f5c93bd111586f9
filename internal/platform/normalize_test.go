package platform

import "testing"

func TestNormalizeArch(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"amd64", "amd64", false},
		{"x86_64", "amd64", false},
		{"arm64", "arm64", false},
		{"aarch64", "arm64", false},
		{"arm", "arm", false},
		{"386", "386", false},
		{"mips", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := normalizeArch(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("normalizeArch(%q) expected error, got %q", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("normalizeArch(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("normalizeArch(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestMapFamily(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debian", FamilyDebian},
		{"Ubuntu", FamilyDebian},
		{"  rhel  ", FamilyRHEL},
		{"rocky", FamilyRHEL},
		{"fedora", FamilyFedora},
		{"alpine", FamilyAlpine},
		{"arch", FamilyArch},
		{"gentoo", FamilyUnknown},
		{"", FamilyUnknown},
	}

	for _, tt := range tests {
		if got := mapFamily(tt.input); got != tt.want {
			t.Errorf("mapFamily(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestInfoKey(t *testing.T) {
	info := &Info{OS: "linux", Arch: "arm64"}
	if got := info.Key(); got != "linux-arm64" {
		t.Errorf("Key() = %q, want %q", got, "linux-arm64")
	}
}

func TestInfoPredicates(t *testing.T) {
	linux := &Info{OS: "linux", Arch: "amd64"}
	if !linux.IsLinux() || linux.IsMacOS() || linux.IsWindows() {
		t.Error("linux info misclassified")
	}
	if !linux.IsAMD64() || linux.IsARM64() {
		t.Error("amd64 info misclassified")
	}

	mac := &Info{OS: "darwin", Arch: "arm64"}
	if !mac.IsMacOS() || !mac.IsARM64() {
		t.Error("darwin/arm64 info misclassified")
	}
}
