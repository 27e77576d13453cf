package cachemanager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chutes-ai/sek8s-controlplane/internal/errs"
)

func TestManagerDeleteUntrackedDirectory(t *testing.T) {
	cacheBase := t.TempDir()
	chuteID := "12345678-1234-1234-1234-123456789012"
	if err := os.MkdirAll(filepath.Join(cacheBase, chuteID), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	m := NewManager(cacheBase, &ManifestClient{})

	if err := m.Delete(chuteID, false); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cacheBase, chuteID)); !os.IsNotExist(err) {
		t.Fatalf("expected directory to be removed")
	}
}

func TestManagerDeleteNonexistentIsNoop(t *testing.T) {
	m := NewManager(t.TempDir(), &ManifestClient{})
	if err := m.Delete("12345678-1234-1234-1234-123456789012", false); err != nil {
		t.Fatalf("Delete on nonexistent chute should be a no-op success, got %v", err)
	}
}

func TestManagerDeleteInvalidChuteID(t *testing.T) {
	m := NewManager(t.TempDir(), &ManifestClient{})
	err := m.Delete("not-a-uuid", false)
	if err == nil {
		t.Fatalf("expected an error for an invalid chute id")
	}
}

func TestManagerDeleteConflictsWithInProgressDownload(t *testing.T) {
	cacheBase := t.TempDir()
	chuteID := "12345678-1234-1234-1234-123456789012"
	m := NewManager(cacheBase, &ManifestClient{})

	s := m.getOrCreate(chuteID)
	s.mu.Lock()
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := m.Delete(chuteID, false); err == nil {
		t.Fatalf("expected a conflict error deleting an in-progress download")
	} else if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("Delete error = %v, want errs.ErrConflict", err)
	}

	if err := m.Delete(chuteID, true); err != nil {
		t.Fatalf("force delete should succeed even while in progress: %v", err)
	}
}

func TestManagerCleanupGenerousLimitsRemovesNothing(t *testing.T) {
	cacheBase := t.TempDir()
	m := NewManager(cacheBase, &ManifestClient{})

	// One chute with data on disk, not excluded, not in progress: a bare
	// Cleanup call with generous limits should leave it alone.
	chuteID := "12345678-1234-1234-1234-123456789012"
	hub := filepath.Join(cacheBase, chuteID, "hub", "models--org--repo", "blobs")
	if err := os.MkdirAll(hub, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(hub, "blob"), []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result := m.Cleanup(context.Background(), CleanupRequest{MaxAgeDays: 365, MaxSizeGB: 100})
	if len(result.RemovedChutes) != 0 {
		t.Fatalf("Cleanup with generous limits removed %v, want none", result.RemovedChutes)
	}
}
