package cachemanager

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// scanResult is the Go counterpart of huggingface_hub.scan_cache_dir's
// CacheInfo, pared down to the fields manager.py actually reads.
type scanResult struct {
	SizeOnDisk   int64
	RepoID       string
	Revision     string
	LastAccessed float64
}

// scanHub walks hubPath (a chute's hub/ directory), summing blob sizes and
// identifying the first models--* repo found, matching manager.py:
// HuggingFaceSnapshot._scan_hub's single scan_cache_dir call.
func scanHub(hubPath string) scanResult {
	var result scanResult
	entries, err := os.ReadDir(hubPath)
	if err != nil {
		return result
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "models--") {
			continue
		}
		repoDir := filepath.Join(hubPath, entry.Name())
		size, lastAccessed := walkSize(repoDir)
		result.SizeOnDisk += size
		if lastAccessed > result.LastAccessed {
			result.LastAccessed = lastAccessed
		}
		if result.RepoID == "" {
			result.RepoID = repoIDFromFolderName(entry.Name())
			result.Revision = firstSnapshotRevision(repoDir)
		}
	}
	return result
}

func walkSize(repoDir string) (size int64, lastAccessed float64) {
	_ = filepath.WalkDir(repoDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil // symlinks into blobs/ would double-count; blobs/ is walked directly
		}
		if !d.IsDir() {
			size += info.Size()
		}
		if mtime := float64(info.ModTime().Unix()); mtime > lastAccessed {
			lastAccessed = mtime
		}
		return nil
	})
	return size, lastAccessed
}

// repoIDFromFolderName reverses repoFolderName: "models--org--repo" ->
// "org/repo".
func repoIDFromFolderName(folder string) string {
	trimmed := strings.TrimPrefix(folder, "models--")
	return strings.ReplaceAll(trimmed, "--", "/")
}

func firstSnapshotRevision(repoDir string) string {
	entries, err := os.ReadDir(filepath.Join(repoDir, "snapshots"))
	if err != nil || len(entries) == 0 {
		return ""
	}
	return entries[0].Name()
}

// hasModelsDir reports whether hubPath contains at least one models--*
// directory, matching is_present_on_disk / HF info.repos non-empty checks.
func hasModelsDir(hubPath string) bool {
	entries, err := os.ReadDir(hubPath)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "models--") {
			return true
		}
	}
	return false
}
