// Package config holds the ambient process configuration for both
// binaries, grounded on original_source/sek8s/config.py's flat
// ServerConfig/AdmissionConfig models, loaded via envconfig the way the
// teacher's flag-driven bootstrap validates configuration once at start.
package config

import (
	"fmt"

	"github.com/hashicorp/go-sockaddr"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// ServerConfig is the ambient HTTP/TLS/debug surface shared by both
// binaries, matching original_source/sek8s/config.py: ServerConfig.
type ServerConfig struct {
	BindAddress  string `envconfig:"BIND_ADDRESS" default:"0.0.0.0"`
	Port         int    `envconfig:"PORT" default:"8443"`
	TLSCertPath  string `envconfig:"TLS_CERT_PATH"`
	TLSKeyPath   string `envconfig:"TLS_KEY_PATH"`
	ClientCAPath string `envconfig:"CLIENT_CA_PATH"`
	MTLSRequired bool   `envconfig:"MTLS_REQUIRED" default:"false"`
	Debug        bool   `envconfig:"DEBUG" default:"false"`
}

// NamespacePolicy is the per-namespace admission mode, matching
// original_source/sek8s/config.py: NamespacePolicy.
type NamespacePolicy struct {
	Mode   string `json:"mode" yaml:"mode"`
	Exempt bool   `json:"exempt" yaml:"exempt"`
}

// DefaultNamespacePolicy is applied to any namespace without an explicit
// entry, per spec.md §3.1.
var DefaultNamespacePolicy = NamespacePolicy{Mode: "enforce", Exempt: false}

// DefaultNamespacePolicies are the hard-coded defaults from spec.md §3.1,
// matching original_source/sek8s/config.py: AdmissionConfig.namespace_policies
// exactly.
func DefaultNamespacePolicies() map[string]NamespacePolicy {
	return map[string]NamespacePolicy{
		"kube-system":     {Mode: "warn", Exempt: false},
		"kube-public":     {Mode: "warn", Exempt: false},
		"kube-node-lease": {Mode: "warn", Exempt: false},
		"gpu-operator":    {Mode: "warn", Exempt: false},
		"chutes":          {Mode: "enforce", Exempt: false},
		"default":         {Mode: "enforce", Exempt: false},
	}
}

// AdmissionConfig is the admission-webhook binary's process configuration,
// matching original_source/sek8s/config.py: AdmissionConfig.
type AdmissionConfig struct {
	ServerConfig

	OPAURL               string   `envconfig:"OPA_URL" default:"http://localhost:8181"`
	OPATimeoutSeconds    float64  `envconfig:"OPA_TIMEOUT" default:"5.0"`
	AllowedRegistries    []string `envconfig:"ALLOWED_REGISTRIES" default:"docker.io,gcr.io,quay.io,localhost:30500"`
	EnforcementMode      string   `envconfig:"ENFORCEMENT_MODE" default:"enforce"`
	CacheEnabled         bool     `envconfig:"CACHE_ENABLED" default:"true"`
	CacheTTLSeconds      int      `envconfig:"CACHE_TTL" default:"1200"`
	MetricsEnabled       bool     `envconfig:"METRICS_ENABLED" default:"true"`
	CosignRegistriesFile string   `envconfig:"COSIGN_REGISTRIES_FILE" default:"/etc/admission-controller/cosign-registries.json"`

	NamespacePolicies map[string]NamespacePolicy `json:"-"`
}

// NamespacePolicyFor returns the configured policy for namespace, falling
// back to DefaultNamespacePolicy.
func (c *AdmissionConfig) NamespacePolicyFor(namespace string) NamespacePolicy {
	if p, ok := c.NamespacePolicies[namespace]; ok {
		return p
	}
	return DefaultNamespacePolicy
}

// IsNamespaceExempt reports whether namespace is fully exempt from
// validation.
func (c *AdmissionConfig) IsNamespaceExempt(namespace string) bool {
	return c.NamespacePolicyFor(namespace).Exempt
}

// LoadAdmissionConfig reads process configuration from the environment.
func LoadAdmissionConfig() (*AdmissionConfig, error) {
	var c AdmissionConfig
	if err := envconfig.Process("ADMISSION", &c); err != nil {
		return nil, fmt.Errorf("loading admission config: %w", err)
	}
	c.NamespacePolicies = DefaultNamespacePolicies()
	if err := resolveBindAddress(&c.ServerConfig); err != nil {
		return nil, err
	}
	return &c, nil
}

// resolveBindAddress turns the sentinel value "auto" into the host's
// private IP, for deployments that don't know their pod IP ahead of time.
func resolveBindAddress(c *ServerConfig) error {
	if c.BindAddress != "auto" {
		return nil
	}
	ip, err := sockaddr.GetPrivateIP()
	if err != nil {
		return fmt.Errorf("resolving bind address: %w", err)
	}
	if ip == "" {
		return fmt.Errorf("resolving bind address: no private IP found")
	}
	c.BindAddress = ip
	return nil
}

// CacheManagerConfig is the cache-manager binary's ambient process
// configuration. ServerConfig (bind/TLS/debug) is loaded with envconfig
// like AdmissionConfig, but CacheBase/ValidatorBaseURL/cleanup defaults are
// loaded with viper: cleanup parameters are also accepted per-request
// (CleanupRequest overrides these), so the process defaults need the same
// SetDefault/BindEnv layering viper already gives the teacher's other
// config consumers, rather than envconfig's one-shot static struct.
type CacheManagerConfig struct {
	ServerConfig

	CacheBase        string
	ValidatorBaseURL string
	MinerSS58        string
	MinerSeedHex     string
	CleanupDefaults  CleanupDefaults
}

// CleanupDefaults are the process-wide fallbacks for a cleanup request
// that omits a field, matching original_source/.../models.py:
// CleanupRequest's Pydantic defaults (max_age_days=5, max_size_gb=100).
type CleanupDefaults struct {
	MaxAgeDays     int
	MaxSizeGB      int
	ExcludePattern string
}

// LoadCacheManagerConfig reads the ambient server config from the
// environment and the cache/cleanup defaults via viper's env/default
// layering (env prefix CACHEMGR_, e.g. CACHEMGR_CACHE_BASE).
func LoadCacheManagerConfig() (*CacheManagerConfig, error) {
	var server ServerConfig
	if err := envconfig.Process("CACHEMGR", &server); err != nil {
		return nil, fmt.Errorf("loading cache manager server config: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("CACHEMGR")
	v.AutomaticEnv()
	v.SetDefault("cache_base", "/cache")
	v.SetDefault("validator_base_url", "")
	v.SetDefault("miner_ss58", "")
	v.SetDefault("miner_seed", "")
	v.SetDefault("cleanup_max_age_days", 5)
	v.SetDefault("cleanup_max_size_gb", 100)
	v.SetDefault("cleanup_exclude_pattern", "")
	for _, key := range []string{"cache_base", "validator_base_url", "miner_ss58", "miner_seed",
		"cleanup_max_age_days", "cleanup_max_size_gb", "cleanup_exclude_pattern"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if err := resolveBindAddress(&server); err != nil {
		return nil, err
	}

	return &CacheManagerConfig{
		ServerConfig:     server,
		CacheBase:        v.GetString("cache_base"),
		ValidatorBaseURL: v.GetString("validator_base_url"),
		MinerSS58:        v.GetString("miner_ss58"),
		MinerSeedHex:     v.GetString("miner_seed"),
		CleanupDefaults: CleanupDefaults{
			MaxAgeDays:     v.GetInt("cleanup_max_age_days"),
			MaxSizeGB:      v.GetInt("cleanup_max_size_gb"),
			ExcludePattern: v.GetString("cleanup_exclude_pattern"),
		},
	}, nil
}
