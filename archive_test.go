package haul

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTarGz(t *testing.T, path string, entries map[string]string) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	gzw := gzip.NewWriter(f)
	tw := tar.NewWriter(gzw)

	// Directories first so extraction order matches archive order.
	for name, content := range entries {
		if content == "" {
			if err := tw.WriteHeader(&tar.Header{
				Name:     name,
				Typeflag: tar.TypeDir,
				Mode:     0o755,
			}); err != nil {
				t.Fatal(err)
			}
		}
	}

	for name, content := range entries {
		if content == "" {
			continue
		}
		if err := tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gzw.Close(); err != nil {
		t.Fatal(err)
	}
}

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	for name, content := range entries {
		if content == "" {
			if _, err := zw.Create(name + "/"); err != nil {
				t.Fatal(err)
			}
			continue
		}
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}

	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func checkTree(t *testing.T, dir string, entries map[string]string) {
	t.Helper()

	for name, content := range entries {
		path := filepath.Join(dir, name)

		if content == "" {
			st, err := os.Stat(path)
			if err != nil || !st.IsDir() {
				t.Errorf("expected directory %q, err=%v", name, err)
			}
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("expected file %q: %v", name, err)
			continue
		}
		if string(data) != content {
			t.Errorf("file %q: expected %q, got %q", name, content, data)
		}
	}
}

var archiveEntries = map[string]string{
	"weights":                   "",
	"weights/model.bin":         "binary weights",
	"weights/shards/part-0.bin": "shard zero",
	"config.json":               `{"layers": 12}`,
}

func TestExtractTarGz(t *testing.T) {

	dir := t.TempDir()
	archive := filepath.Join(dir, "model.tar.gz")
	dest := filepath.Join(dir, "out")

	writeTarGz(t, archive, archiveEntries)

	if err := Extract(archive, dest); err != nil {
		t.Fatal(err)
	}

	checkTree(t, dest, archiveEntries)
}

func TestExtractZip(t *testing.T) {

	dir := t.TempDir()
	archive := filepath.Join(dir, "model.zip")
	dest := filepath.Join(dir, "out")

	writeZip(t, archive, archiveEntries)

	if err := Extract(archive, dest); err != nil {
		t.Fatal(err)
	}

	checkTree(t, dest, archiveEntries)
}

func TestExtractCorruptArchive(t *testing.T) {

	dir := t.TempDir()
	archive := filepath.Join(dir, "model.tar.gz")

	if err := os.WriteFile(archive, []byte("this is not gzip"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := Extract(archive, filepath.Join(dir, "out"))
	if err == nil {
		t.Fatal("expected an error for a corrupt archive")
	}
	if !errors.Is(err, ErrArchive) {
		t.Errorf("expected ErrArchive, got %v", err)
	}
}

func TestExtractUnknownFormat(t *testing.T) {

	dir := t.TempDir()
	archive := filepath.Join(dir, "model.rar")

	if err := os.WriteFile(archive, []byte("whatever"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Extract(archive, dir); !errors.Is(err, ErrArchive) {
		t.Errorf("expected ErrArchive for unknown format, got %v", err)
	}
}

func TestExtractRejectsTraversal(t *testing.T) {

	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar.gz")
	dest := filepath.Join(dir, "out")

	writeTarGz(t, archive, map[string]string{
		"../escape.txt": "outside",
	})

	// filepath.Join cleans "../" out of the entry path, so the write must
	// land inside dest rather than above it.
	if err := Extract(archive, dest); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); err == nil {
		t.Error("entry escaped the destination directory")
	}
	if _, err := os.Stat(filepath.Join(dest, "escape.txt")); err != nil {
		t.Error("sanitized entry should land inside the destination")
	}
}
