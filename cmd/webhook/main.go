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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chutes-ai/sek8s-controlplane/internal/config"
	"github.com/chutes-ai/sek8s-controlplane/internal/logging"
	"github.com/chutes-ai/sek8s-controlplane/internal/tlsutil"
	"github.com/chutes-ai/sek8s-controlplane/pkg/admission"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadAdmissionConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading admission config:", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "building logger:", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck
	ctx = logging.WithLogger(ctx, log)

	cosignCfg, err := config.LoadCosignConfig(ctx, cfg.CosignRegistriesFile)
	if err != nil {
		log.Fatal("loading cosign registries config", zap.Error(err))
	}

	registryValidator := admission.NewRegistryValidator(cfg)
	policyValidator := admission.NewPolicyValidator(cfg)
	cosignValidator, err := admission.NewCosignValidator(cfg, cosignCfg)
	if err != nil {
		log.Fatal("building cosign validator", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	var metrics *admission.Metrics
	if cfg.MetricsEnabled {
		metrics = admission.NewMetrics(registry)
	}

	cacheSize := 1024
	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if !cfg.CacheEnabled {
		// A zero TTL would make entries never expire; a 1ns TTL makes every
		// stored result stale by the next lookup.
		cacheTTL = time.Nanosecond
		cacheSize = 1
	}
	controller, err := admission.NewController(
		[]admission.Validator{registryValidator, policyValidator, cosignValidator},
		cacheSize, cacheTTL, metrics,
	)
	if err != nil {
		log.Fatal("building admission controller", zap.Error(err))
	}

	router := admission.Router(controller, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

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

	log.Info("admission webhook listening", zap.String("addr", server.Addr), zap.Bool("tls", server.TLSConfig != nil))

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
