//
// Copyright 2021 The Sigstore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chutes-ai/sek8s-controlplane/internal/auth"
	"github.com/chutes-ai/sek8s-controlplane/internal/config"
	"github.com/chutes-ai/sek8s-controlplane/internal/logging"
	"github.com/chutes-ai/sek8s-controlplane/internal/tlsutil"
	"github.com/chutes-ai/sek8s-controlplane/pkg/cachemanager"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadCacheManagerConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading cache manager config:", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "building logger:", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck
	ctx = logging.WithLogger(ctx, log)

	if cfg.CacheBase == "" {
		log.Fatal("CACHEMGR_CACHE_BASE must be set")
	}
	if err := os.MkdirAll(cfg.CacheBase, 0o2775); err != nil {
		log.Fatal("creating cache base directory", zap.String("path", cfg.CacheBase), zap.Error(err))
	}

	signer, err := cachemanager.NewSeedSigner(cfg.MinerSeedHex)
	if err != nil {
		log.Fatal("building miner signer", zap.Error(err))
	}
	if signer == nil {
		log.Warn("CACHEMGR_MINER_SEED not set; outbound validator requests will be unsigned")
	}

	authorizer, err := auth.NewAuthorizer(auth.Config{MinerSS58: cfg.MinerSS58})
	if err != nil {
		log.Fatal("building authorizer", zap.Error(err))
	}

	manifest := cachemanager.NewManifestClient(cfg.ValidatorBaseURL, cfg.MinerSS58, signer)
	manager := cachemanager.NewManager(cfg.CacheBase, manifest)

	cleanupDefaults := cachemanager.CleanupRequest{
		MaxAgeDays:     cfg.CleanupDefaults.MaxAgeDays,
		MaxSizeGB:      cfg.CleanupDefaults.MaxSizeGB,
		ExcludePattern: cfg.CleanupDefaults.ExcludePattern,
	}
	router := cachemanager.Router(manager, authorizer, cleanupDefaults)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
		tlsConfig, err := tlsutil.Build(cfg.ServerConfig)
		if err != nil {
			log.Fatal("building TLS config", zap.Error(err))
		}
		server.TLSConfig = tlsConfig
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown", zap.Error(err))
		}
	}()

	log.Info("cache manager listening", zap.String("addr", server.Addr), zap.Bool("tls", server.TLSConfig != nil),
		zap.String("cache_base", cfg.CacheBase))

	var serveErr error
	if server.TLSConfig != nil {
		serveErr = server.ListenAndServeTLS("", "")
	} else {
		serveErr = server.ListenAndServe()
	}
	if serveErr != nil && serveErr != http.ErrServerClosed {
		log.Fatal("server exited", zap.Error(serveErr))
	}
}
