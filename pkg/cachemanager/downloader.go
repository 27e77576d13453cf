package cachemanager

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const hfHubBaseURL = "https://huggingface.co"

// downloadSnapshot materializes repoID@revision's manifest under hubPath,
// replicating the on-disk layout scan_cache_dir/verify_cache expect:
// blobs are content-addressed under
// {hubPath}/{repoFolderName}/blobs/{hash}, and each manifest path is a
// symlink from snapshots/{revision}/{path} to its blob — the Go
// counterpart to the "Snapshot downloader" protocol in spec.md §4.4,
// which the Python source delegates to huggingface_hub.snapshot_download.
func downloadSnapshot(ctx context.Context, manifest *ManifestClient, repoID, revision, hubPath string) error {
	info, err := manifest.fetchRepoInfo(ctx, repoID, revision)
	if err != nil || info == nil {
		return fmt.Errorf("could not fetch manifest for %s@%s", repoID, revision)
	}

	repoDir := filepath.Join(hubPath, repoFolderName(repoID))
	blobsDir := filepath.Join(repoDir, "blobs")
	snapDir := filepath.Join(repoDir, "snapshots", revision)
	if err := os.MkdirAll(blobsDir, 0o2775); err != nil {
		return fmt.Errorf("creating blobs dir: %w", err)
	}
	if err := os.MkdirAll(snapDir, 0o2775); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	client := &http.Client{}
	for _, f := range info.Files {
		if strings.HasPrefix(f.Path, "_") {
			continue
		}
		hash := f.BlobID
		if f.IsLFS {
			hash = f.SHA256
		}
		if hash == "" {
			hash = fmt.Sprintf("nohash-%s", strings.ReplaceAll(f.Path, "/", "_"))
		}
		blobPath := filepath.Join(blobsDir, hash)
		if _, err := os.Stat(blobPath); err != nil {
			if err := downloadFile(ctx, client, repoID, revision, f.Path, blobPath); err != nil {
				return fmt.Errorf("downloading %s: %w", f.Path, err)
			}
		}

		linkPath := filepath.Join(snapDir, f.Path)
		if err := os.MkdirAll(filepath.Dir(linkPath), 0o2775); err != nil {
			return fmt.Errorf("creating snapshot subdir for %s: %w", f.Path, err)
		}
		_ = os.Remove(linkPath)
		rel, err := filepath.Rel(filepath.Dir(linkPath), blobPath)
		if err != nil {
			rel = blobPath
		}
		if err := os.Symlink(rel, linkPath); err != nil {
			return fmt.Errorf("linking %s: %w", f.Path, err)
		}
	}
	return nil
}

func downloadFile(ctx context.Context, client *http.Client, repoID, revision, path, dest string) error {
	u := fmt.Sprintf("%s/%s/resolve/%s/%s", hfHubBaseURL, repoID, revision, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if token := os.Getenv("HF_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if token := os.Getenv("HUGGING_FACE_HUB_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, u)
	}

	tmp := dest + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}
