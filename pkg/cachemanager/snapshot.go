package cachemanager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	cacheCompleteMarker = ".cache_complete"
	cacheStaleMarker    = ".cache_stale"
)

// Snapshot is a HuggingFace model snapshot cached on disk for one chute,
// corresponding to one {cacheBase}/{chuteID} directory. Grounded on
// original_source/.../manager.py: HuggingFaceSnapshot, translating its
// asyncio.Task lifecycle into a goroutine tracked by done/err/cancel.
type Snapshot struct {
	chuteID   string
	cacheBase string

	mu                sync.Mutex
	repoID            string
	revision          string
	externallyManaged bool
	reconciled        bool

	running      bool
	done         chan struct{}
	taskErr      error
	cancelled    bool
	cancel       context.CancelFunc
	totalBytes   int64
	initialBytes int64
	startedAt    time.Time

	lastVerifySkippedAPIError bool
}

// NewSnapshot builds a tracked snapshot for chuteID.
func NewSnapshot(chuteID, cacheBase string) *Snapshot {
	return &Snapshot{chuteID: chuteID, cacheBase: cacheBase}
}

func (s *Snapshot) Path() string    { return filepath.Join(s.cacheBase, s.chuteID) }
func (s *Snapshot) HubPath() string { return filepath.Join(s.Path(), "hub") }

// IsPresentOnDisk reports whether hub_path contains at least one
// models--* directory, matching HuggingFaceSnapshot.is_present_on_disk.
func (s *Snapshot) IsPresentOnDisk() bool {
	return hasModelsDir(s.HubPath())
}

func (s *Snapshot) IsInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isInProgressLocked()
}

func (s *Snapshot) isInProgressLocked() bool {
	if !s.running {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// NeedsReconciliation reports whether this entry should be (re-)verified,
// matching HuggingFaceSnapshot.needs_reconciliation.
func (s *Snapshot) NeedsReconciliation() bool {
	s.mu.Lock()
	reconciled := s.reconciled
	inProgress := s.isInProgressLocked()
	s.mu.Unlock()
	return !reconciled && !inProgress && s.IsPresentOnDisk()
}

// Status derives the lifecycle status, matching
// HuggingFaceSnapshot.status exactly.
func (s *Snapshot) Status() Status {
	s.mu.Lock()
	running := s.running
	var taskDone bool
	var taskErr error
	var cancelled bool
	if running {
		select {
		case <-s.done:
			taskDone = true
			taskErr = s.taskErr
			cancelled = s.cancelled
		default:
		}
	}
	s.mu.Unlock()

	if running && !taskDone {
		return StatusInProgress
	}
	if running && taskDone && (taskErr != nil || cancelled) {
		return StatusFailed
	}
	if fileExists(filepath.Join(s.Path(), cacheCompleteMarker)) {
		return StatusPresent
	}
	if fileExists(filepath.Join(s.Path(), cacheStaleMarker)) {
		return StatusStale
	}
	if s.IsPresentOnDisk() {
		return StatusIncomplete
	}
	return StatusMissing
}

func (s *Snapshot) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ""
	}
	select {
	case <-s.done:
		if s.cancelled {
			return "download was cancelled"
		}
		if s.taskErr != nil {
			return s.taskErr.Error()
		}
	default:
	}
	return ""
}

// SizeBytes reports the current on-disk size, or nil if hub_path does not
// exist, matching HuggingFaceSnapshot.size_bytes.
func (s *Snapshot) SizeBytes() *int64 {
	if !dirExists(s.HubPath()) {
		return nil
	}
	size := scanHub(s.HubPath()).SizeOnDisk
	return &size
}

// PercentComplete reports 0-100 while a download is live and a total size
// is known, matching HuggingFaceSnapshot.percent_complete.
func (s *Snapshot) PercentComplete() *float64 {
	s.mu.Lock()
	inProgress := s.isInProgressLocked()
	total := s.totalBytes
	s.mu.Unlock()
	if !inProgress || total <= 0 {
		return nil
	}
	size := s.SizeBytes()
	if size == nil {
		return nil
	}
	pct := 100.0 * float64(*size) / float64(total)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return &pct
}

// DownloadRate is the average bytes/sec since this download session
// started, matching HuggingFaceSnapshot.download_rate.
func (s *Snapshot) DownloadRate() *float64 {
	s.mu.Lock()
	inProgress := s.isInProgressLocked()
	startedAt := s.startedAt
	initial := s.initialBytes
	s.mu.Unlock()
	if !inProgress || startedAt.IsZero() {
		return nil
	}
	elapsed := time.Since(startedAt).Seconds()
	if elapsed <= 0 {
		return nil
	}
	size := s.SizeBytes()
	if size == nil {
		return nil
	}
	downloaded := *size - initial
	if downloaded <= 0 {
		return nil
	}
	rate := float64(downloaded) / elapsed
	return &rate
}

// ETASeconds is the estimated remaining time based on the current
// download rate, matching HuggingFaceSnapshot.eta_seconds.
func (s *Snapshot) ETASeconds() *float64 {
	rate := s.DownloadRate()
	s.mu.Lock()
	total := s.totalBytes
	s.mu.Unlock()
	if rate == nil || *rate <= 0 || total <= 0 {
		return nil
	}
	size := s.SizeBytes()
	var remaining int64
	if size != nil {
		remaining = total - *size
	} else {
		remaining = total
	}
	if remaining <= 0 {
		zero := 0.0
		return &zero
	}
	eta := float64(remaining) / *rate
	return &eta
}

// Snap returns a point-in-time ChuteSnapshot, matching
// HuggingFaceSnapshot.snapshot — backed by a single HubPath scan.
func (s *Snapshot) Snap() ChuteSnapshot {
	scan := scanHub(s.HubPath())

	s.mu.Lock()
	repoID := s.repoID
	revision := s.revision
	skippedAPIError := s.lastVerifySkippedAPIError
	s.mu.Unlock()
	if repoID == "" {
		repoID = scan.RepoID
	}
	if revision == "" {
		revision = scan.Revision
	}

	var lastAccessed *float64
	if scan.LastAccessed > 0 {
		la := scan.LastAccessed
		lastAccessed = &la
	}

	return ChuteSnapshot{
		ChuteID:         s.chuteID,
		RepoID:          repoID,
		Revision:        revision,
		Status:          s.Status(),
		SizeBytes:       scan.SizeOnDisk,
		PercentComplete: s.PercentComplete(),
		DownloadRate:    s.DownloadRate(),
		ETASeconds:      s.ETASeconds(),
		LastAccessed:    lastAccessed,
		Error:           s.Error(),

		VerifySkippedAPIError: skippedAPIError,
	}
}

// StartDownload prepares directories and launches the background download
// task, matching HuggingFaceSnapshot.start_download. A second call while a
// download is already running is a no-op.
func (s *Snapshot) StartDownload(ctx context.Context, manifest *ManifestClient, repoID, revision string) {
	s.mu.Lock()
	if s.isInProgressLocked() {
		s.mu.Unlock()
		return
	}
	s.repoID = repoID
	s.revision = revision
	s.mu.Unlock()

	if err := os.MkdirAll(s.Path(), 0o2775); err == nil {
		_ = os.Chmod(s.Path(), 0o2775)
	}
	if err := os.MkdirAll(s.HubPath(), 0o2775); err == nil {
		_ = os.Chmod(s.HubPath(), 0o2775)
	}

	total := manifest.fetchRepoTotalSize(ctx, repoID, revision)
	var initial int64
	if size := s.SizeBytes(); size != nil {
		initial = *size
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.totalBytes = total
	s.initialBytes = initial
	s.startedAt = time.Now()
	s.running = true
	s.done = done
	s.cancel = cancel
	s.taskErr = nil
	s.cancelled = false
	s.mu.Unlock()

	go s.runDownload(taskCtx, manifest, repoID, revision, done)
}

// runDownload executes the download, verification, chmod, and marker
// write, matching HuggingFaceSnapshot._run_download.
func (s *Snapshot) runDownload(ctx context.Context, manifest *ManifestClient, repoID, revision string, done chan struct{}) {
	var runErr error
	defer func() {
		s.mu.Lock()
		if ctx.Err() == context.Canceled {
			s.cancelled = true
		}
		s.taskErr = runErr
		s.mu.Unlock()
		close(done)
	}()

	if err := downloadSnapshot(ctx, manifest, repoID, revision, s.HubPath()); err != nil {
		runErr = err
	} else if vr, err := verifyCache(ctx, manifest, repoID, revision, s.Path()); err != nil {
		runErr = err
		s.mu.Lock()
		s.lastVerifySkippedAPIError = vr.SkippedAPIError
		s.mu.Unlock()
	}

	if runErr != nil {
		if rmErr := os.RemoveAll(s.Path()); rmErr != nil {
			runErr = fmt.Errorf("%w (cleanup also failed: %s)", runErr, rmErr)
		}
		return
	}

	chmodTree(s.Path(), 0o2775)

	marker := fmt.Sprintf("%s\n%s", repoID, revision)
	_ = os.WriteFile(filepath.Join(s.Path(), cacheCompleteMarker), []byte(marker), 0o664)
	_ = os.Remove(filepath.Join(s.Path(), cacheStaleMarker))
}

// chmodTree recursively chmods path and its contents, matching
// HuggingFaceSnapshot._chmod_tree: best-effort, never returns an error.
func chmodTree(root string, mode os.FileMode) {
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		_ = os.Chmod(path, mode)
		return nil
	})
	_ = os.Chmod(root, mode)
}

func (s *Snapshot) CancelDownload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isInProgressLocked() && s.cancel != nil {
		s.cancel()
	}
}

// FetchIdentity populates repoID/revision from the validator without
// verifying files, matching HuggingFaceSnapshot.fetch_identity.
func (s *Snapshot) FetchIdentity(ctx context.Context, manifest *ManifestClient) {
	info, err := manifest.fetchHfInfo(ctx, s.chuteID)
	if err != nil || info.RepoID == "" {
		return
	}
	s.mu.Lock()
	s.repoID = info.RepoID
	s.revision = info.Revision
	s.mu.Unlock()
}

// Reconcile verifies the on-disk cache against the validator's current
// revision and sets markers, matching HuggingFaceSnapshot.reconcile.
func (s *Snapshot) Reconcile(ctx context.Context, manifest *ManifestClient) {
	if !s.IsPresentOnDisk() {
		s.mu.Lock()
		s.reconciled = true
		s.mu.Unlock()
		return
	}

	info, err := manifest.fetchHfInfo(ctx, s.chuteID)
	if err != nil || info.RepoID == "" {
		return // validator unreachable or no repo_id: leave reconciled=false, retry later
	}

	s.mu.Lock()
	s.repoID = info.RepoID
	s.revision = info.Revision
	s.mu.Unlock()

	completeMarker := filepath.Join(s.Path(), cacheCompleteMarker)
	staleMarker := filepath.Join(s.Path(), cacheStaleMarker)
	_ = os.Remove(completeMarker)
	_ = os.Remove(staleMarker)

	vr, err := verifyCache(ctx, manifest, info.RepoID, info.Revision, s.Path())
	s.mu.Lock()
	s.lastVerifySkippedAPIError = vr.SkippedAPIError
	s.mu.Unlock()
	if err == nil {
		marker := fmt.Sprintf("%s\n%s", info.RepoID, info.Revision)
		_ = os.WriteFile(completeMarker, []byte(marker), 0o664)
		s.mu.Lock()
		s.reconciled = true
		s.mu.Unlock()
		return
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "missing file") || strings.Contains(msg, "not found"):
		// INCOMPLETE: leave markerless, reconciled stays false so the next
		// sync re-checks once the in-flight download (elsewhere) finishes.
	case strings.Contains(msg, "verification failed"):
		// manifest unreachable: leave markerless, retry later.
	default:
		marker := fmt.Sprintf("%s\n%s\n%s", info.RepoID, info.Revision, msg)
		_ = os.WriteFile(staleMarker, []byte(marker), 0o664)
		s.mu.Lock()
		s.reconciled = true
		s.mu.Unlock()
	}
}

// Delete cancels any running download and removes the snapshot directory.
func (s *Snapshot) Delete() error {
	s.CancelDownload()
	return os.RemoveAll(s.Path())
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
