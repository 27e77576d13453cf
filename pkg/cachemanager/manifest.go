package cachemanager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/chutes-ai/sek8s-controlplane/internal/auth"
)

// HfInfo is the validator's hf_info response, matching
// original_source/.../models.py: HfInfoResponse.
type HfInfo struct {
	RepoID   string `json:"repo_id"`
	Revision string `json:"revision"`
}

// RepoFile is one manifest entry from the validator's hf_repo_info
// response, matching the `files` array consumed by util.py: verify_cache.
type RepoFile struct {
	Path   string `json:"path"`
	IsLFS  bool   `json:"is_lfs"`
	SHA256 string `json:"sha256"`
	BlobID string `json:"blob_id"`
	Size   int64  `json:"size"`
}

type repoInfo struct {
	Files []RepoFile `json:"files"`
}

// ManifestClient fetches repo manifests and identity from the upstream
// validator, grounded on
// original_source/sek8s/system_manager/cache/util.py: fetch_repo_info,
// fetch_hf_info, fetch_repo_total_size. Manifest responses are cached
// in-process with no TTL, keyed by (repo_id, revision): a new revision is a
// new key, so a completed download's manifest is never invalidated under
// its feet.
type ManifestClient struct {
	baseURL string
	hotkey  string
	signer  *SeedSigner
	client  *http.Client

	mu    sync.Mutex
	cache map[repoKey]*repoInfo
}

type repoKey struct {
	repoID   string
	revision string
}

func NewManifestClient(baseURL, hotkey string, signer *SeedSigner) *ManifestClient {
	retry := retryablehttp.NewClient()
	retry.RetryMax = 2
	retry.Logger = nil
	return &ManifestClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		hotkey:  hotkey,
		signer:  signer,
		client:  retry.StandardClient(),
		cache:   make(map[repoKey]*repoInfo),
	}
}

// fetchHfInfo queries GET {base}/chutes/{chuteID}/hf_info, signed with the
// miner's credentials, per spec.md §4.4.
func (m *ManifestClient) fetchHfInfo(ctx context.Context, chuteID string) (HfInfo, error) {
	if m.baseURL == "" {
		return HfInfo{}, fmt.Errorf("validator base URL not configured (CACHEMGR_VALIDATOR_BASE_URL)")
	}
	u := fmt.Sprintf("%s/chutes/%s/hf_info", m.baseURL, chuteID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return HfInfo{}, err
	}
	if m.signer != nil {
		headers, err := auth.SignRequest(m.hotkey, m.signer, "cache", nil)
		if err != nil {
			return HfInfo{}, fmt.Errorf("signing hf_info request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return HfInfo{}, fmt.Errorf("validator request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return HfInfo{}, fmt.Errorf("validator returned status %d", resp.StatusCode)
	}

	var info HfInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return HfInfo{}, fmt.Errorf("decoding hf_info response: %w", err)
	}
	if info.Revision == "" {
		info.Revision = "main"
	}
	return info, nil
}

// fetchRepoInfo queries GET {base}/misc/hf_repo_info, caching the result
// per (repoID, revision) with no TTL.
func (m *ManifestClient) fetchRepoInfo(ctx context.Context, repoID, revision string) (*repoInfo, error) {
	if revision == "" {
		revision = "main"
	}
	key := repoKey{repoID: repoID, revision: revision}

	m.mu.Lock()
	if cached, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	if m.baseURL == "" {
		return nil, fmt.Errorf("validator base URL not configured")
	}
	q := url.Values{}
	q.Set("repo_id", repoID)
	q.Set("repo_type", "model")
	q.Set("revision", revision)
	u := fmt.Sprintf("%s/misc/hf_repo_info?%s", m.baseURL, q.Encode())

	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, nil //nolint:nilnil // best-effort: callers treat nil as "unavailable"
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil //nolint:nilnil
	}

	var info repoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, nil //nolint:nilnil
	}

	m.mu.Lock()
	m.cache[key] = &info
	m.mu.Unlock()
	return &info, nil
}

// fetchRepoTotalSize returns the sum of non-underscore-prefixed file sizes
// from the manifest, or 0 on any error, matching util.py:
// fetch_repo_total_size.
func (m *ManifestClient) fetchRepoTotalSize(ctx context.Context, repoID, revision string) int64 {
	info, err := m.fetchRepoInfo(ctx, repoID, revision)
	if err != nil || info == nil {
		return 0
	}
	var total int64
	for _, f := range info.Files {
		if strings.HasPrefix(f.Path, "_") {
			continue
		}
		total += f.Size
	}
	return total
}
