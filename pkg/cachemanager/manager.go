package cachemanager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chutes-ai/sek8s-controlplane/internal/errs"
)

// Manager owns the id -> Snapshot map, grounded on the router.py handlers
// and the reconciliation contract in manager.py. The map lock (mu) is held
// only for map mutation, per spec.md §5; long-running downloads run
// unlocked goroutines owned by each Snapshot.
type Manager struct {
	cacheBase string
	manifest  *ManifestClient

	mu        sync.Mutex
	snapshots map[string]*Snapshot
}

// NewManager builds a Manager rooted at cacheBase, fetching manifests
// through manifest.
func NewManager(cacheBase string, manifest *ManifestClient) *Manager {
	return &Manager{cacheBase: cacheBase, manifest: manifest, snapshots: make(map[string]*Snapshot)}
}

func (m *Manager) get(chuteID string) (*Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[chuteID]
	return s, ok
}

func (m *Manager) getOrCreate(chuteID string) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[chuteID]
	if !ok {
		s = NewSnapshot(chuteID, m.cacheBase)
		m.snapshots[chuteID] = s
	}
	return s
}

func (m *Manager) all() []*Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	return out
}

// Download ensures a download is underway for chuteID, matching
// router.py: download.
func (m *Manager) Download(ctx context.Context, chuteID string, force bool) (DownloadStatus, error) {
	if err := validChuteID(chuteID); err != nil {
		return "", fmt.Errorf("%w: %s", errs.ErrInvalidRequest, err.Error())
	}

	if s, ok := m.get(chuteID); ok && s.IsInProgress() {
		return DownloadInProgress, nil
	}
	if s, ok := m.get(chuteID); ok && s.IsPresentOnDisk() && !force {
		return DownloadPresent, nil
	}

	info, err := m.manifest.fetchHfInfo(ctx, chuteID)
	if err != nil {
		return "", fmt.Errorf("%w: %s", errs.ErrUpstreamUnavailable, err.Error())
	}
	if info.RepoID == "" {
		return "", fmt.Errorf("%w: validator did not return repo_id", errs.ErrUpstreamUnavailable)
	}

	snapshot := m.getOrCreate(chuteID)
	snapshot.StartDownload(ctx, m.manifest, info.RepoID, info.Revision)
	return DownloadStarted, nil
}

// Status reports the snapshot(s) for chuteID, or all tracked (plus
// discovered) snapshots when chuteID is empty, matching router.py:
// download_status.
func (m *Manager) Status(ctx context.Context, chuteID string) ([]ChuteSnapshot, error) {
	m.SyncFromDisk(ctx)

	if chuteID != "" {
		if s, ok := m.get(chuteID); ok {
			return []ChuteSnapshot{s.Snap()}, nil
		}
		return []ChuteSnapshot{{ChuteID: chuteID, Status: StatusMissing}}, nil
	}

	var out []ChuteSnapshot
	for _, s := range m.all() {
		out = append(out, s.Snap())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChuteID < out[j].ChuteID })
	return out, nil
}

// Delete removes a chute's cache directory, matching router.py:
// delete_chute. force bypasses the in-progress conflict check.
func (m *Manager) Delete(chuteID string, force bool) error {
	if err := validChuteID(chuteID); err != nil {
		return fmt.Errorf("%w: %s", errs.ErrInvalidRequest, err.Error())
	}

	s, ok := m.get(chuteID)
	if !ok {
		path := filepath.Join(m.cacheBase, chuteID)
		if _, statErr := os.Stat(path); statErr != nil {
			return nil // "not found": deleting a nonexistent chute is a no-op success
		}
		return os.RemoveAll(path)
	}

	if s.IsInProgress() && !force {
		return fmt.Errorf("%w: download in progress for this chute", errs.ErrConflict)
	}
	if err := s.Delete(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.snapshots, chuteID)
	m.mu.Unlock()
	return nil
}

// Overview enumerates every known chute with its derived status and size,
// matching router.py: overview.
func (m *Manager) Overview(ctx context.Context) ([]ChuteSnapshot, int64, error) {
	m.SyncFromDisk(ctx)

	var total int64
	var out []ChuteSnapshot
	for _, s := range m.all() {
		snap := s.Snap()
		total += snap.SizeBytes
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChuteID < out[j].ChuteID })
	return out, total, nil
}

// SyncFromDisk discovers untracked on-disk chute directories and
// re-reconciles pending entries, matching manager.py's
// sync_from_disk contract in spec.md §4.3.5. It must complete before any
// query endpoint reads the snapshot list.
func (m *Manager) SyncFromDisk(ctx context.Context) {
	entries, err := os.ReadDir(m.cacheBase)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() || len(entry.Name()) != 36 {
				continue
			}
			chuteID := entry.Name()
			if _, ok := m.get(chuteID); ok {
				continue
			}
			hub := filepath.Join(m.cacheBase, chuteID, "hub")
			if !hasModelsDir(hub) {
				continue
			}
			snapshot := NewSnapshot(chuteID, m.cacheBase)
			snapshot.externallyManaged = true
			snapshot.FetchIdentity(ctx, m.manifest)

			m.mu.Lock()
			if _, exists := m.snapshots[chuteID]; !exists {
				m.snapshots[chuteID] = snapshot
			}
			m.mu.Unlock()
		}
	}

	for _, s := range m.all() {
		if s.NeedsReconciliation() {
			s.Reconcile(ctx, m.manifest)
		}
	}
}

// Cleanup evicts cache entries by age, then by size, matching
// router.py/manager.py's cleanup contract in spec.md §4.3.6.
func (m *Manager) Cleanup(ctx context.Context, req CleanupRequest) CleanupResult {
	m.SyncFromDisk(ctx)

	type candidate struct {
		snapshot *Snapshot
		snap     ChuteSnapshot
	}
	var candidates []candidate
	for _, s := range m.all() {
		if s.IsInProgress() {
			continue
		}
		snap := s.Snap()
		if snap.SizeBytes == 0 {
			continue
		}
		if req.ExcludePattern != "" && strings.Contains(strings.ToLower(snap.RepoID), strings.ToLower(req.ExcludePattern)) {
			continue
		}
		candidates = append(candidates, candidate{snapshot: s, snap: snap})
	}

	result := CleanupResult{}
	remove := func(c candidate) {
		if err := c.snapshot.Delete(); err != nil {
			return
		}
		m.mu.Lock()
		delete(m.snapshots, c.snap.ChuteID)
		m.mu.Unlock()
		result.FreedBytes += c.snap.SizeBytes
		result.RemovedChutes = append(result.RemovedChutes, c.snap.ChuteID)
	}

	cutoff := time.Now().AddDate(0, 0, -req.MaxAgeDays)
	var remaining []candidate
	for _, c := range candidates {
		if c.snap.LastAccessed != nil && time.Unix(int64(*c.snap.LastAccessed), 0).Before(cutoff) {
			remove(c)
			continue
		}
		remaining = append(remaining, c)
	}

	maxSizeBytes := int64(req.MaxSizeGB) * 1 << 30
	var totalRemaining int64
	for _, c := range remaining {
		totalRemaining += c.snap.SizeBytes
	}
	if totalRemaining > maxSizeBytes {
		sort.Slice(remaining, func(i, j int) bool { return remaining[i].snap.SizeBytes > remaining[j].snap.SizeBytes })
		for _, c := range remaining {
			if totalRemaining <= maxSizeBytes {
				break
			}
			remove(c)
			totalRemaining -= c.snap.SizeBytes
		}
	}

	return result
}
