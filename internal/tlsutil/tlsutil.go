// Package tlsutil builds the server-side tls.Config shared by the
// admission webhook and the cache manager, both of which embed
// config.ServerConfig for their TLS/mTLS surface.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/chutes-ai/sek8s-controlplane/internal/config"
)

// Build loads the server keypair and, when configured, a client CA bundle
// for mTLS.
func Build(cfg config.ServerConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertPath, cfg.TLSKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading TLS keypair: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.ClientCAPath != "" {
		caBytes, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("reading client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("no certificates parsed from %s", cfg.ClientCAPath)
		}
		tlsConfig.ClientCAs = pool
		if cfg.MTLSRequired {
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
		}
	}
	return tlsConfig, nil
}
