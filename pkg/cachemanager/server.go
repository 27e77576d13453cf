package cachemanager

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chutes-ai/sek8s-controlplane/internal/auth"
	"github.com/chutes-ai/sek8s-controlplane/internal/errs"
	"github.com/chutes-ai/sek8s-controlplane/internal/logging"
)

// cacheAuthOptions is shared by every /cache route (/healthz is served
// without auth): each allows the miner identity and is purpose-scoped
// "cache", matching
// router.py's `Depends(authorize(allow_miner=True, purpose="cache"))` on
// every handler.
var cacheAuthOptions = auth.Options{AllowMiner: true, Purpose: "cache"}

// Router builds the chi mux serving the cache-manager HTTP surface,
// matching original_source/sek8s/system_manager/cache/router.py.
// cleanupDefaults seeds any field a /cache/cleanup request body omits,
// loaded by the caller from config.CacheManagerConfig.CleanupDefaults.
func Router(manager *Manager, authorizer *auth.Authorizer, cleanupDefaults CleanupRequest) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.BodySHA256Middleware)

	authed := func(h http.HandlerFunc) http.Handler {
		return authorizer.Middleware(cacheAuthOptions, h)
	}

	r.Method(http.MethodPost, "/cache/download", authed(handleDownload(manager)))
	r.Method(http.MethodGet, "/cache/download/status", authed(handleDownloadStatus(manager)))
	r.Method(http.MethodDelete, "/cache/{chute_id}", authed(handleDelete(manager)))
	r.Method(http.MethodPost, "/cache/cleanup", authed(handleCleanup(manager, cleanupDefaults)))
	r.Method(http.MethodGet, "/cache/overview", authed(handleOverview(manager)))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func handleDownload(manager *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DownloadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		force := r.URL.Query().Get("force") == "true"

		status, err := manager.Download(r.Context(), req.ChuteID, force)
		if err != nil {
			writeManagerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"chute_id": req.ChuteID, "status": string(status)})
	}
}

func handleDownloadStatus(manager *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chuteID := r.URL.Query().Get("chute_id")
		snapshots, err := manager.Status(r.Context(), chuteID)
		if err != nil {
			writeManagerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"chutes": snapshotsToJSON(snapshots)})
	}
}

func handleDelete(manager *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chuteID := chi.URLParam(r, "chute_id")
		force := r.URL.Query().Get("force") == "true"
		if err := manager.Delete(chuteID, force); err != nil {
			writeManagerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "deleted"})
	}
}

func handleCleanup(manager *Manager, defaults CleanupRequest) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := defaults
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
		}
		result := manager.Cleanup(r.Context(), req)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":         "completed",
			"freed_bytes":    result.FreedBytes,
			"removed_chutes": result.RemovedChutes,
		})
	}
}

func handleOverview(manager *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshots, total, err := manager.Overview(r.Context())
		if err != nil {
			writeManagerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total_size_bytes": total,
			"chutes":           snapshotsToJSON(snapshots),
		})
	}
}

func snapshotsToJSON(snapshots []ChuteSnapshot) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(snapshots))
	for _, s := range snapshots {
		entry := map[string]interface{}{
			"chute_id": s.ChuteID,
			"status":   s.Status,
		}
		if s.RepoID != "" {
			entry["repo_id"] = s.RepoID
		}
		if s.Revision != "" {
			entry["revision"] = s.Revision
		}
		if s.SizeBytes != 0 {
			entry["size_bytes"] = s.SizeBytes
		}
		if s.PercentComplete != nil {
			entry["percent_complete"] = *s.PercentComplete
		}
		if s.DownloadRate != nil {
			entry["download_rate"] = *s.DownloadRate
		}
		if s.ETASeconds != nil {
			entry["eta_seconds"] = *s.ETASeconds
		}
		if s.LastAccessed != nil {
			entry["last_accessed"] = *s.LastAccessed
		}
		if s.Error != "" {
			entry["error"] = s.Error
		}
		if s.VerifySkippedAPIError {
			entry["verify_skipped_api_error"] = true
		}
		out = append(out, entry)
	}
	return out
}

func writeManagerError(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromContext(r.Context()).Warn("cache manager request failed", zap.Error(err))
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrUpstreamUnavailable):
		status = http.StatusBadGateway
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
