package binary

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"toolpin/internal/manifest"
)

// Installer places verified artifacts into the bin directory. Placement is
// atomic per final path: the executable is prepared in a staging directory
// that lives on the same filesystem and then renamed into place, so a
// concurrent reader never observes a partially-written file.
type Installer struct {
	targetRoot string
	extractor  *Extractor
}

// NewInstaller creates an installer targeting the given bin directory.
func NewInstaller(targetRoot string) *Installer {
	return &Installer{
		targetRoot: targetRoot,
		extractor:  NewExtractor(),
	}
}

// FinalPath returns the stable path a tool installs to.
func (i *Installer) FinalPath(spec *manifest.ToolSpec) string {
	return filepath.Join(i.targetRoot, spec.InstallName())
}

// IsInstalled checks whether a tool's final path holds a regular,
// executable file.
func (i *Installer) IsInstalled(spec *manifest.ToolSpec) (bool, error) {
	info, err := os.Stat(i.FinalPath(spec))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat installed binary: %w", err)
	}

	if !info.Mode().IsRegular() {
		return false, nil
	}
	if info.Mode().Perm()&0111 == 0 {
		return false, nil
	}
	return true, nil
}

// Install places the cached artifact at the tool's final path. Archives
// have the wanted executable extracted first; bare files are copied. The
// final rename is the only mutation visible under the target root.
func (i *Installer) Install(artifactPath string, spec *manifest.ToolSpec) (string, error) {
	if err := os.MkdirAll(i.targetRoot, 0755); err != nil {
		return "", fmt.Errorf("create bin dir: %w", err)
	}

	stagingDir := filepath.Join(i.targetRoot, ".staging-"+uuid.New().String())
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	staged := filepath.Join(stagingDir, spec.InstallName())

	format, err := DetectArchive(artifactPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	if spec.EffectiveKind() == manifest.KindArchive || format != "" {
		if err := i.extractor.ExtractExecutable(artifactPath, staged, spec.BinaryName()); err != nil {
			return "", err
		}
	} else {
		if err := copyFile(artifactPath, staged); err != nil {
			return "", fmt.Errorf("stage binary: %w", err)
		}
	}

	if err := SetExecutable(staged); err != nil {
		return "", err
	}

	finalPath := i.FinalPath(spec)
	if err := os.Rename(staged, finalPath); err != nil {
		return "", fmt.Errorf("place binary: %w", err)
	}

	return finalPath, nil
}

// copyFile copies src to dst with executable permissions, flushing before
// returning so the later rename publishes complete bytes.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy contents: %w", err)
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("flush destination: %w", err)
	}
	return out.Close()
}
