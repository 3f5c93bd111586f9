package testutil_test

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"toolpin/internal/testutil"
)

func TestSetupTestEnv(t *testing.T) {
	root := testutil.SetupTestEnv(t)

	if os.Getenv("TOOLPIN_DIR") != root {
		t.Errorf("TOOLPIN_DIR = %q, want %q", os.Getenv("TOOLPIN_DIR"), root)
	}
	if !filepath.IsAbs(root) {
		t.Errorf("root %q is not absolute", root)
	}

	for _, dir := range []string{
		filepath.Join(root, "bin"),
		filepath.Join(root, "cache", "downloads"),
		filepath.Join(root, "keyrings"),
	} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("directory %s: %v", dir, err)
		}
	}
}

func TestSetupTestEnv_Isolation(t *testing.T) {
	root1 := testutil.SetupTestEnv(t)

	t.Run("subtest", func(t *testing.T) {
		root2 := testutil.SetupTestEnv(t)
		if root1 == root2 {
			t.Error("expected different roots for different test contexts")
		}
	})
}

func TestMakeZip(t *testing.T) {
	data := testutil.MakeZip(t, map[string][]byte{"tool": []byte("#!/bin/sh\n")})

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "tool" {
		t.Fatalf("unexpected zip contents: %v", zr.File)
	}
}
