package haul

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// copyBufferSize bounds memory while decompressing a single entry.
const copyBufferSize = 32 * 1024

// Extract streams the archive at archivePath into destDir entry by entry.
// Entries are processed sequentially with no directory pre-scan, so a
// truncated or corrupt archive fails partway with earlier entries already on
// disk. The archive kind is chosen by extension: .zip, .tar.gz or .tgz.
func Extract(archivePath, destDir string) error {

	var err error
	switch {
	case strings.HasSuffix(archivePath, ".zip"):
		err = extractZip(archivePath, destDir)
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		err = extractTarGz(archivePath, destDir)
	default:
		err = fmt.Errorf("unsupported archive %q", filepath.Base(archivePath))
	}

	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchive, err)
	}
	return nil
}

func extractTarGz(archivePath, destDir string) error {

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("constructing gzip reader: %w", err)
	}
	defer gzr.Close()

	r := tar.NewReader(gzr)
	buf := make([]byte, copyBufferSize)

	for {
		hdr, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetching next tar entry: %w", err)
		}

		path, err := entryPath(destDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return fmt.Errorf("creating directory %q: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := writeEntry(path, r, buf); err != nil {
				return fmt.Errorf("extracting %q: %w", hdr.Name, err)
			}
		default:
			return fmt.Errorf("unexpected tar entry type %d for %q", hdr.Typeflag, hdr.Name)
		}
	}
}

func extractZip(archivePath, destDir string) error {

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer zr.Close()

	buf := make([]byte, copyBufferSize)

	for _, entry := range zr.File {

		path, err := entryPath(destDir, entry.Name)
		if err != nil {
			return err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return fmt.Errorf("creating directory %q: %w", entry.Name, err)
			}
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("opening entry %q: %w", entry.Name, err)
		}

		err = writeEntry(path, rc, buf)
		rc.Close()
		if err != nil {
			return fmt.Errorf("extracting %q: %w", entry.Name, err)
		}
	}

	return nil
}

// writeEntry copies one decompressed entry to path, creating parent
// directories as needed.
func writeEntry(path string, r io.Reader, buf []byte) error {

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if _, err := io.CopyBuffer(f, r, buf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// entryPath joins an archive entry name onto destDir, rejecting names that
// would escape it.
func entryPath(destDir, name string) (string, error) {
	path := filepath.Join(destDir, filepath.Clean("/"+name))
	if !strings.HasPrefix(path, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("entry %q escapes destination", name)
	}
	return path, nil
}
