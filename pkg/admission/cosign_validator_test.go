package admission

import (
	"context"
	"errors"
	"testing"

	"github.com/chutes-ai/sek8s-controlplane/internal/config"
)

func TestParseImageReferenceSimpleName(t *testing.T) {
	ref, err := parseImageReference("nginx")
	if err != nil {
		t.Fatalf("parseImageReference: %v", err)
	}
	want := imageRef{Registry: "docker.io", Org: "library", Repo: "nginx", TagOrDigest: "latest"}
	if ref != want {
		t.Fatalf("parseImageReference(nginx) = %+v, want %+v", ref, want)
	}
}

func TestParseImageReferenceWithTag(t *testing.T) {
	ref, err := parseImageReference("gcr.io/project/image:v1.2.3")
	if err != nil {
		t.Fatalf("parseImageReference: %v", err)
	}
	if ref.Registry != "gcr.io" || ref.Org != "project" || ref.Repo != "image" || ref.TagOrDigest != "v1.2.3" {
		t.Fatalf("parseImageReference = %+v", ref)
	}
}

func TestParseImageReferenceWithDigest(t *testing.T) {
	ref, err := parseImageReference("gcr.io/project/image@sha256:abcd1234")
	if err != nil {
		t.Fatalf("parseImageReference: %v", err)
	}
	if !ref.IsDigest || ref.TagOrDigest != "sha256:abcd1234" {
		t.Fatalf("parseImageReference = %+v", ref)
	}
}

func TestParseImageReferenceDockerIOSingleOrg(t *testing.T) {
	ref, err := parseImageReference("library/nginx")
	if err != nil {
		t.Fatalf("parseImageReference: %v", err)
	}
	if ref.Registry != "docker.io" || ref.Org != "library" || ref.Repo != "nginx" {
		t.Fatalf("parseImageReference = %+v", ref)
	}
}

func TestParseImageReferenceLocalhostRegistryWithPort(t *testing.T) {
	ref, err := parseImageReference("localhost:30500/foo/bar:latest")
	if err != nil {
		t.Fatalf("parseImageReference: %v", err)
	}
	if ref.Registry != "localhost:30500" || ref.Org != "foo" || ref.Repo != "bar" {
		t.Fatalf("parseImageReference = %+v", ref)
	}
}

func TestImageRefString(t *testing.T) {
	ref := imageRef{Registry: "docker.io", Org: "library", Repo: "nginx", TagOrDigest: "latest"}
	if got := ref.String(); got != "docker.io/library/nginx:latest" {
		t.Fatalf("String() = %q", got)
	}
	ref.IsDigest = true
	if got := ref.String(); got != "docker.io/library/nginx@latest" {
		t.Fatalf("String() with digest = %q", got)
	}
}

func TestIsRateLimitSignal(t *testing.T) {
	cases := map[string]bool{
		"toomanyrequests: Rate limit exceeded": true,
		"429 Too Many Requests":                true,
		"pull rate limit exceeded":             true,
		"connection refused":                   false,
		"":                                     false,
	}
	for msg, want := range cases {
		if got := isRateLimitSignal(msg); got != want {
			t.Errorf("isRateLimitSignal(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestIsInfraFailure(t *testing.T) {
	if isInfraFailure(nil) {
		t.Fatalf("isInfraFailure(nil) should be false")
	}
	if !isInfraFailure(errors.New("dial tcp 10.0.0.1:443: connect: connection refused")) {
		t.Fatalf("expected a dial/connection-refused error to be an infra failure")
	}
	if isInfraFailure(errors.New("signature verification failed")) {
		t.Fatalf("a verification failure should not be classified as an infra failure")
	}
}

func TestErrIsRateLimited(t *testing.T) {
	if !errIsRateLimited(rateLimitedError{}) {
		t.Fatalf("expected rateLimitedError to be recognized")
	}
	if errIsRateLimited(errors.New("other")) {
		t.Fatalf("a generic error should not be recognized as rate limited")
	}
}

func newTestCosignValidator(t *testing.T, cosignCfg *config.CosignConfig) *CosignValidator {
	t.Helper()
	v, err := NewCosignValidator(&config.AdmissionConfig{}, cosignCfg)
	if err != nil {
		t.Fatalf("NewCosignValidator: %v", err)
	}
	return v
}

func TestCheckRestrictedRulesNoConfig(t *testing.T) {
	v := newTestCosignValidator(t, &config.CosignConfig{CacheMaxSize: 16, CacheTTLSeconds: 60, NegativeCacheTTLSeconds: 60, RateLimitBackoffSeconds: 1})
	msg, ok := v.checkRestrictedRules("chutes/model:v1", nil)
	if ok || msg == "" {
		t.Fatalf("expected a denial message for a missing verification config")
	}
}

func TestCheckRestrictedRulesDisabled(t *testing.T) {
	v := newTestCosignValidator(t, &config.CosignConfig{CacheMaxSize: 16, CacheTTLSeconds: 60, NegativeCacheTTLSeconds: 60, RateLimitBackoffSeconds: 1})
	verification := &config.CosignVerificationConfig{VerificationMethod: "disabled"}
	if msg, ok := v.checkRestrictedRules("chutes/model:v1", verification); ok || msg == "" {
		t.Fatalf("expected denial when verification is disabled in a restricted namespace")
	}
}

func TestCheckRestrictedRulesRequiresKeyMethod(t *testing.T) {
	v := newTestCosignValidator(t, &config.CosignConfig{CacheMaxSize: 16, CacheTTLSeconds: 60, NegativeCacheTTLSeconds: 60, RateLimitBackoffSeconds: 1})
	verification := &config.CosignVerificationConfig{VerificationMethod: "keyless"}
	if msg, ok := v.checkRestrictedRules("chutes/model:v1", verification); ok || msg == "" {
		t.Fatalf("expected denial when a restricted namespace uses keyless verification")
	}
}

func TestCheckRestrictedRulesPasses(t *testing.T) {
	cosignCfg := &config.CosignConfig{
		CacheMaxSize: 16, CacheTTLSeconds: 60, NegativeCacheTTLSeconds: 60, RateLimitBackoffSeconds: 1,
		RegistryConfigs: []config.CosignRegistryConfig{
			{
				Registry: "*",
				CosignVerificationConfig: config.CosignVerificationConfig{
					VerificationMethod: "key",
					PublicKey:          "/etc/admission-controller/.cosign/cosign.pub",
				},
			},
		},
	}
	v := newTestCosignValidator(t, cosignCfg)
	verification := &config.CosignVerificationConfig{
		VerificationMethod: "key",
		PublicKey:          "/etc/admission-controller/.cosign/cosign.pub",
	}
	if msg, ok := v.checkRestrictedRules("chutes/model:v1", verification); !ok {
		t.Fatalf("expected the matching required key to pass, got message %q", msg)
	}
}

func TestCheckRestrictedRulesWrongKey(t *testing.T) {
	cosignCfg := &config.CosignConfig{
		CacheMaxSize: 16, CacheTTLSeconds: 60, NegativeCacheTTLSeconds: 60, RateLimitBackoffSeconds: 1,
		RegistryConfigs: []config.CosignRegistryConfig{
			{
				Registry: "*",
				CosignVerificationConfig: config.CosignVerificationConfig{
					VerificationMethod: "key",
					PublicKey:          "/etc/admission-controller/.cosign/cosign.pub",
				},
			},
		},
	}
	v := newTestCosignValidator(t, cosignCfg)
	verification := &config.CosignVerificationConfig{
		VerificationMethod: "key",
		PublicKey:          "/some/other/key.pub",
	}
	if msg, ok := v.checkRestrictedRules("chutes/model:v1", verification); ok || msg == "" {
		t.Fatalf("expected denial when the image's public key doesn't match the namespace's required key")
	}
}

func TestCosignValidatorNonPodKindAlwaysAllowed(t *testing.T) {
	v := newTestCosignValidator(t, &config.CosignConfig{CacheMaxSize: 16, CacheTTLSeconds: 60, NegativeCacheTTLSeconds: 60, RateLimitBackoffSeconds: 1})
	result, err := v.Validate(context.Background(), Request{Kind: "ConfigMap", Operation: "CREATE"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("non-pod-producing kinds should always be allowed")
	}
}
