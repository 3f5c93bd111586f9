package binary

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Archive formats understood by the extractor.
const (
	formatTarGz = "tar.gz"
	formatZip   = "zip"
)

// DetectArchive identifies an artifact's archive format by extension,
// falling back to magic bytes. It returns an empty string for a bare file.
func DetectArchive(path string) (string, error) {
	name := strings.ToLower(path)
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return formatTarGz, nil
	case strings.HasSuffix(name, ".zip"):
		return formatZip, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	magic := make([]byte, 4)
	n, err := io.ReadFull(file, magic)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("read artifact header: %w", err)
	}
	magic = magic[:n]

	switch {
	case len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		return formatTarGz, nil
	case bytes.HasPrefix(magic, []byte("PK\x03\x04")):
		return formatZip, nil
	default:
		return "", nil
	}
}

// Extractor unpacks a single executable out of an archive.
type Extractor struct{}

// NewExtractor creates a new extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractExecutable finds the regular file whose base name matches name
// inside the archive and writes it to destPath with executable
// permissions. The archive format is detected per DetectArchive.
func (e *Extractor) ExtractExecutable(archivePath, destPath, name string) error {
	format, err := DetectArchive(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	switch format {
	case formatTarGz:
		return e.extractFromTarGz(archivePath, destPath, name)
	case formatZip:
		return e.extractFromZip(archivePath, destPath, name)
	default:
		return fmt.Errorf("%w: %s is not a recognized archive", ErrExtractionFailed, filepath.Base(archivePath))
	}
}

func (e *Extractor) extractFromTarGz(archivePath, destPath, name string) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("%w: open archive: %v", ErrExtractionFailed, err)
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return fmt.Errorf("%w: create gzip reader: %v", ErrExtractionFailed, err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return fmt.Errorf("%w: %s not found in archive", ErrExtractionFailed, name)
		}
		if err != nil {
			return fmt.Errorf("%w: read tar header: %v", ErrExtractionFailed, err)
		}

		// Entry names may traverse; only the matched basename is ever
		// written, and only to destPath.
		if header.Typeflag == tar.TypeReg && filepath.Base(header.Name) == name {
			return writeExecutable(destPath, tarReader)
		}
	}
}

func (e *Extractor) extractFromZip(archivePath, destPath, name string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("%w: open zip: %v", ErrExtractionFailed, err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() || filepath.Base(entry.Name) != name {
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("%w: open zip entry: %v", ErrExtractionFailed, err)
		}
		err = writeExecutable(destPath, rc)
		rc.Close()
		return err
	}

	return fmt.Errorf("%w: %s not found in archive", ErrExtractionFailed, name)
}

// writeExecutable streams r to destPath with 0755 permissions.
func writeExecutable(destPath string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("%w: create dest dir: %v", ErrExtractionFailed, err)
	}

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return fmt.Errorf("%w: create file: %v", ErrExtractionFailed, err)
	}

	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(destPath)
		return fmt.Errorf("%w: write file: %v", ErrExtractionFailed, err)
	}

	return out.Close()
}

// SetExecutable sets executable permissions on a file.
func SetExecutable(path string) error {
	if err := os.Chmod(path, 0755); err != nil {
		return fmt.Errorf("set executable: %w", err)
	}
	return nil
}
