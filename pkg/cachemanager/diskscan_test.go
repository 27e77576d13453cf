package cachemanager

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRepoIDFromFolderName(t *testing.T) {
	if got := repoIDFromFolderName("models--org--repo"); got != "org/repo" {
		t.Fatalf("repoIDFromFolderName = %q", got)
	}
}

func TestHasModelsDir(t *testing.T) {
	dir := t.TempDir()
	if hasModelsDir(dir) {
		t.Fatalf("empty dir should report no models dir")
	}
	if err := os.MkdirAll(filepath.Join(dir, "models--org--repo"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if !hasModelsDir(dir) {
		t.Fatalf("expected hasModelsDir to find models--org--repo")
	}
}

func TestScanHubSumsBlobSizes(t *testing.T) {
	hub := t.TempDir()
	repoDir := filepath.Join(hub, "models--org--repo")
	blobsDir := filepath.Join(repoDir, "blobs")
	snapDir := filepath.Join(repoDir, "snapshots", "main")
	if err := os.MkdirAll(blobsDir, 0o755); err != nil {
		t.Fatalf("MkdirAll blobs: %v", err)
	}
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		t.Fatalf("MkdirAll snapshots: %v", err)
	}

	blob := filepath.Join(blobsDir, "deadbeef")
	if err := os.WriteFile(blob, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Symlink(blob, filepath.Join(snapDir, "config.json")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	result := scanHub(hub)
	if result.SizeOnDisk != 10 {
		t.Fatalf("SizeOnDisk = %d, want 10 (symlink should not double-count)", result.SizeOnDisk)
	}
	if result.RepoID != "org/repo" {
		t.Fatalf("RepoID = %q", result.RepoID)
	}
	if result.Revision != "main" {
		t.Fatalf("Revision = %q", result.Revision)
	}
}
