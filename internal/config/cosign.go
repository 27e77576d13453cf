package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ryanuber/go-glob"
)

// CosignVerificationConfig mirrors
// original_source/sek8s/config.py: CosignVerificationConfig, the leaf
// settings inherited (by embedding) at every level of the registry/org/repo
// hierarchy described in spec.md §3.1.
type CosignVerificationConfig struct {
	RequireSignature   bool   `json:"require_signature"`
	VerificationMethod string `json:"verification_method"` // key | keyless | disabled
	PublicKey          string `json:"public_key,omitempty"`
	KeylessIdentityRegex string `json:"keyless_identity_regex,omitempty"`
	KeylessIssuer      string `json:"keyless_issuer,omitempty"`
	AllowHTTP          bool   `json:"allow_http,omitempty"`
	AllowInsecure      bool   `json:"allow_insecure,omitempty"`
	RekorURL           string `json:"rekor_url,omitempty"`
	FulcioURL          string `json:"fulcio_url,omitempty"`
}

func defaultVerificationConfig() CosignVerificationConfig {
	return CosignVerificationConfig{
		RequireSignature:   true,
		VerificationMethod: "key",
		RekorURL:           "https://rekor.sigstore.dev",
		FulcioURL:          "https://fulcio.sigstore.dev",
	}
}

// CosignRepositoryConfig is one entry in a CosignOrganizationConfig's
// Repositories map.
type CosignRepositoryConfig struct {
	CosignVerificationConfig
	Repository string `json:"repository"`
}

// CosignOrganizationConfig is one entry in a CosignRegistryConfig's
// Organizations map.
type CosignOrganizationConfig struct {
	CosignVerificationConfig
	Organization string                            `json:"organization"`
	Repositories map[string]CosignRepositoryConfig `json:"repositories,omitempty"`
}

// CosignRegistryConfig is one entry in CosignConfig.RegistryConfigs.
type CosignRegistryConfig struct {
	CosignVerificationConfig
	Registry      string                              `json:"registry"`
	Organizations map[string]CosignOrganizationConfig `json:"organizations,omitempty"`
}

// CosignConfig is the top-level hierarchical configuration loaded from
// CosignRegistriesFile, matching original_source/sek8s/config.py: CosignConfig.
type CosignConfig struct {
	CacheTTLSeconds         int                    `json:"cache_ttl"`
	CacheMaxSize            int                    `json:"cache_maxsize"`
	NegativeCacheTTLSeconds int                    `json:"negative_cache_ttl"`
	RateLimitBackoffSeconds int                    `json:"rate_limit_backoff_seconds"`
	RegistryConfigs         []CosignRegistryConfig `json:"registry_configs"`
}

func defaultCosignConfig() *CosignConfig {
	return &CosignConfig{
		CacheTTLSeconds:         3600,
		CacheMaxSize:            1024,
		NegativeCacheTTLSeconds: 300,
		RateLimitBackoffSeconds: 300,
		RegistryConfigs: []CosignRegistryConfig{
			{
				CosignVerificationConfig: CosignVerificationConfig{
					RequireSignature:   true,
					VerificationMethod: "key",
					PublicKey:          "/etc/admission-controller/.cosign/cosign.pub",
					RekorURL:           "https://rekor.sigstore.dev",
					FulcioURL:          "https://fulcio.sigstore.dev",
				},
				Registry: "*",
			},
		},
	}
}

// cosignSource is the {Data, Path, URL} config loader, adapted from
// pkg/policy/policy.go: Source. fetch reads from the first non-empty field
// in that order; setting more than one is not rejected.
type cosignSource struct {
	Data string
	Path string
	URL  string
}

func (s cosignSource) fetch(ctx context.Context) (string, error) {
	switch {
	case s.Data != "":
		return s.Data, nil
	case s.Path != "":
		raw, err := os.ReadFile(s.Path)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	case s.URL != "":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
		if err != nil {
			return "", err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	default:
		return "", fmt.Errorf("cosign config: no source specified")
	}
}

// LoadCosignConfig reads the registry hierarchy from path. A missing file
// is not an error: it falls back to a single wildcard key-based config,
// matching CosignConfig's own fallback in the Python source.
func LoadCosignConfig(ctx context.Context, path string) (*CosignConfig, error) {
	if path == "" {
		return defaultCosignConfig(), nil
	}
	raw, err := cosignSource{Path: path}.fetch(ctx)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultCosignConfig(), nil
		}
		return nil, fmt.Errorf("loading cosign registries file %s: %w", path, err)
	}
	cfg := defaultCosignConfig()
	cfg.RegistryConfigs = nil
	if err := json.Unmarshal([]byte(raw), cfg); err != nil {
		return nil, fmt.Errorf("parsing cosign registries file %s: %w", path, err)
	}
	if len(cfg.RegistryConfigs) == 0 {
		cfg.RegistryConfigs = defaultCosignConfig().RegistryConfigs
	}
	return cfg, nil
}

// NormalizeRegistryName strips a scheme prefix, collapses Docker Hub
// aliases, and lowercases, matching config.py: _normalize_registry_name.
func NormalizeRegistryName(registry string) string {
	r := strings.ToLower(strings.TrimSpace(registry))
	r = strings.TrimPrefix(r, "https://")
	r = strings.TrimPrefix(r, "http://")
	switch r {
	case "registry-1.docker.io", "index.docker.io":
		return "docker.io"
	}
	return r
}

// matchesRegistryPattern implements config.py: _matches_registry_pattern.
func matchesRegistryPattern(registry, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(registry, strings.TrimSuffix(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(registry, strings.TrimPrefix(pattern, "*"))
	}
	return registry == pattern
}

// matchesPattern implements config.py: _matches_pattern, used for
// org/repo pattern matching within a matched registry.
func matchesPattern(value, pattern string) bool {
	switch {
	case pattern == "*":
		return true
	case !strings.Contains(pattern, "*"):
		return value == pattern
	case pattern == "*/*":
		return strings.Contains(value, "/")
	case strings.HasSuffix(pattern, "/*"):
		prefix := strings.TrimSuffix(pattern, "/*")
		return value == prefix || strings.HasPrefix(value, prefix+"/")
	case strings.HasPrefix(pattern, "*/"):
		suffix := strings.TrimPrefix(pattern, "*/")
		return value == suffix || strings.HasSuffix(value, "/"+suffix)
	default:
		return glob.Glob(pattern, value)
	}
}

// GetVerificationConfig walks registry -> organization -> repository,
// returning the most specific match, matching config.py:
// CosignConfig.get_verification_config exactly (exact match wins over
// wildcard/pattern at every level; wildcard `*` is the final fallback).
func (c *CosignConfig) GetVerificationConfig(registry, organization, repository string) *CosignVerificationConfig {
	registry = NormalizeRegistryName(registry)

	var exact, wildcard, pattern *CosignRegistryConfig
	for i := range c.RegistryConfigs {
		rc := &c.RegistryConfigs[i]
		norm := NormalizeRegistryName(rc.Registry)
		switch {
		case norm == registry:
			exact = rc
		case norm == "*":
			wildcard = rc
		case matchesRegistryPattern(registry, norm) && pattern == nil:
			pattern = rc
		}
		if exact != nil {
			break
		}
	}

	registryConfig := exact
	if registryConfig == nil {
		registryConfig = pattern
	}
	if registryConfig == nil {
		registryConfig = wildcard
	}
	if registryConfig == nil {
		return nil
	}

	verification := registryConfig.CosignVerificationConfig

	if len(registryConfig.Organizations) > 0 {
		if orgCfg, ok := registryConfig.Organizations[organization]; ok {
			verification = applyOrg(orgCfg, repository)
		} else if orgCfg, ok := matchOrgPattern(registryConfig.Organizations, organization); ok {
			verification = applyOrg(orgCfg, repository)
		}
	}

	return &verification
}

func matchOrgPattern(orgs map[string]CosignOrganizationConfig, organization string) (CosignOrganizationConfig, bool) {
	for pattern, org := range orgs {
		if pattern != "*" && matchesPattern(organization, pattern) {
			return org, true
		}
	}
	if org, ok := orgs["*"]; ok {
		return org, true
	}
	return CosignOrganizationConfig{}, false
}

func applyOrg(orgCfg CosignOrganizationConfig, repository string) CosignVerificationConfig {
	verification := orgCfg.CosignVerificationConfig
	if len(orgCfg.Repositories) == 0 {
		return verification
	}
	if repoCfg, ok := orgCfg.Repositories[repository]; ok {
		return repoCfg.CosignVerificationConfig
	}
	for pattern, repoCfg := range orgCfg.Repositories {
		if pattern != "*" && matchesPattern(repository, pattern) {
			return repoCfg.CosignVerificationConfig
		}
	}
	if repoCfg, ok := orgCfg.Repositories["*"]; ok {
		return repoCfg.CosignVerificationConfig
	}
	return verification
}
