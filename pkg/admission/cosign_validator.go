package admission

import (
	"context"
	"crypto"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-containerregistry/pkg/authn/k8schain"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/sigstore/cosign/v2/pkg/cosign"
	ociremote "github.com/sigstore/cosign/v2/pkg/oci/remote"
	"github.com/sigstore/sigstore/pkg/signature"
	"golang.org/x/time/rate"

	"github.com/chutes-ai/sek8s-controlplane/internal/config"
	"github.com/chutes-ai/sek8s-controlplane/internal/errs"
	"github.com/chutes-ai/sek8s-controlplane/internal/logging"
	"github.com/chutes-ai/sek8s-controlplane/internal/ttlcache"
)

// imageRef is the decomposed form of a container image reference, per
// spec.md §4.2.4 step 1 / original_source/sek8s/validators/cosign.py:
// _parse_image_reference.
type imageRef struct {
	Registry    string
	Org         string
	Repo        string
	TagOrDigest string
	IsDigest    bool
}

// parseImageReference implements cosign.py: _parse_image_reference exactly.
func parseImageReference(image string) (imageRef, error) {
	if idx := strings.Index(image, "@"); idx != -1 {
		name := image[:idx]
		digest := image[idx+1:]
		ref, err := decomposeName(name, digest)
		ref.IsDigest = true
		return ref, err
	}

	name := image
	tagOrDigest := "latest"
	lastSlash := strings.LastIndex(image, "/")
	lastComponent := image
	if lastSlash != -1 {
		lastComponent = image[lastSlash+1:]
	}
	if strings.Contains(lastComponent, ":") {
		idx := strings.LastIndex(lastComponent, ":")
		tagOrDigest = lastComponent[idx+1:]
		if lastSlash != -1 {
			name = image[:lastSlash+1] + lastComponent[:idx]
		} else {
			name = lastComponent[:idx]
		}
	}
	return decomposeName(name, tagOrDigest)
}

func decomposeName(name, tagOrDigest string) (imageRef, error) {
	if !strings.Contains(name, "/") {
		return imageRef{Registry: "docker.io", Org: "library", Repo: name, TagOrDigest: tagOrDigest}, nil
	}

	parts := strings.Split(name, "/")
	first := parts[0]
	if strings.Contains(first, ".") || strings.Contains(first, ":") {
		remaining := parts[1:]
		switch len(remaining) {
		case 0:
			return imageRef{}, fmt.Errorf("invalid image reference: %s", name)
		case 1:
			return imageRef{Registry: first, Org: "library", Repo: remaining[0], TagOrDigest: tagOrDigest}, nil
		default:
			return imageRef{Registry: first, Org: remaining[0], Repo: strings.Join(remaining[1:], "/"), TagOrDigest: tagOrDigest}, nil
		}
	}
	return imageRef{Registry: "docker.io", Org: parts[0], Repo: strings.Join(parts[1:], "/"), TagOrDigest: tagOrDigest}, nil
}

func (r imageRef) String() string {
	sep := ":"
	if r.IsDigest {
		sep = "@"
	}
	return fmt.Sprintf("%s/%s/%s%s%s", r.Registry, r.Org, r.Repo, sep, r.TagOrDigest)
}

var rateLimitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brate\s*limit`),
	regexp.MustCompile(`(?i)\b429\b`),
	regexp.MustCompile(`(?i)too many requests`),
	regexp.MustCompile(`(?i)pull rate limit`),
}

func isRateLimitSignal(s string) bool {
	for _, p := range rateLimitPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

var infraFailurePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)connection refused`),
	regexp.MustCompile(`(?i)connection reset`),
	regexp.MustCompile(`(?i)dial tcp`),
	regexp.MustCompile(`(?i)i/o timeout`),
	regexp.MustCompile(`(?i)no such host`),
	regexp.MustCompile(`(?i)temporary failure`),
}

func isInfraFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, p := range infraFailurePatterns {
		if p.MatchString(msg) {
			return true
		}
	}
	return false
}

type cosignCacheKey struct {
	resolvedImage string
	method        string
	publicKey     string
	identityRegex string
	issuer        string
	rekorURL      string
	fulcioURL     string
	allowHTTP     bool
	allowInsecure bool
}

// restrictedNamespaces names namespaces whose rule set requires key-based
// verification against a specific public key, per spec.md §4.2.4 step 3.
var restrictedNamespaces = map[string]bool{"chutes": true}

// CosignValidator verifies container image signatures, grounded on
// original_source/sek8s/validators/cosign.py and the teacher's
// pkg/webhook/validation.go cosign SDK usage.
type CosignValidator struct {
	admissionCfg *config.AdmissionConfig
	cosignCfg    *config.CosignConfig

	positive *ttlcache.Cache[cosignCacheKey, bool]
	negative *ttlcache.Cache[cosignCacheKey, bool]

	limiter *rate.Limiter

	mu              sync.Mutex
	rateLimitUntil  time.Time
	backoffPolicy   *backoff.ExponentialBackOff
	consecutiveHits int
}

// NewCosignValidator builds a CosignValidator from the admission and cosign
// configs.
func NewCosignValidator(admissionCfg *config.AdmissionConfig, cosignCfg *config.CosignConfig) (*CosignValidator, error) {
	positive, err := ttlcache.New[cosignCacheKey, bool](cosignCfg.CacheMaxSize, time.Duration(cosignCfg.CacheTTLSeconds)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("cosign validator: building positive cache: %w", err)
	}
	negative, err := ttlcache.New[cosignCacheKey, bool](cosignCfg.CacheMaxSize, time.Duration(cosignCfg.NegativeCacheTTLSeconds)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("cosign validator: building negative cache: %w", err)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(cosignCfg.RateLimitBackoffSeconds) * time.Second
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Minute
	b.MaxElapsedTime = 0
	b.Reset()

	return &CosignValidator{
		admissionCfg:  admissionCfg,
		cosignCfg:     cosignCfg,
		positive:      positive,
		negative:      negative,
		limiter:       rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
		backoffPolicy: b,
	}, nil
}

func (v *CosignValidator) Name() string { return "CosignValidator" }

func (v *CosignValidator) HealthCheck(ctx context.Context) bool { return true }

func (v *CosignValidator) Validate(ctx context.Context, req Request) (ValidationResult, error) {
	if req.Operation == "DELETE" || !isPodProducingKind(req.Kind) {
		return Allow(""), nil
	}

	images := extractImages(req.Object)
	restricted := restrictedNamespaces[req.Namespace]

	var violations []string
	for _, img := range images {
		ref, err := parseImageReference(img)
		if err != nil {
			violations = append(violations, fmt.Sprintf("Verification failed for %s: %s", img, err.Error()))
			continue
		}

		verification := v.cosignCfg.GetVerificationConfig(ref.Registry, ref.Org, ref.Repo)

		if restricted {
			if msg, ok := v.checkRestrictedRules(img, verification); !ok {
				violations = append(violations, msg)
				continue
			}
		} else if verification == nil || verification.VerificationMethod == "disabled" || !verification.RequireSignature {
			continue
		}

		if verification == nil {
			continue
		}

		ok, err := v.verifyImage(ctx, img, *verification)
		if err != nil {
			if errIsRateLimited(err) {
				violations = append(violations, fmt.Sprintf("Signature verification rate limited for %s; further images skipped", img))
				break
			}
			if isInfraFailure(err) {
				return Deny(errs.ErrVerificationUnavailable.Error()), errs.ErrVerificationUnavailable
			}
			violations = append(violations, fmt.Sprintf("Verification failed for %s: %s", img, err.Error()))
			continue
		}
		if !ok {
			violations = append(violations, fmt.Sprintf("Verification failed for %s: no valid signature found", img))
		}
	}

	if len(violations) == 0 {
		return Allow(""), nil
	}
	return Deny(joinMessages(violations)), nil
}

// checkRestrictedRules implements spec.md §4.2.4 step 3's restricted rule
// set: every image must have a config, must not be disabled, must use the
// key method, and its public key must match the namespace's required key.
func (v *CosignValidator) checkRestrictedRules(img string, verification *config.CosignVerificationConfig) (string, bool) {
	if verification == nil {
		return fmt.Sprintf("Image %s has no signature verification configuration", img), false
	}
	if verification.VerificationMethod == "disabled" {
		return fmt.Sprintf("Image %s signature verification is disabled but namespace requires it", img), false
	}
	if verification.VerificationMethod != "key" {
		return fmt.Sprintf("Image %s must use key-based verification in this namespace", img), false
	}
	requiredKey := v.requiredKeyPath()
	if requiredKey != "" && verification.PublicKey != requiredKey {
		return fmt.Sprintf("Image %s public key does not match the required key for this namespace", img), false
	}
	return "", true
}

func (v *CosignValidator) requiredKeyPath() string {
	wildcard := v.cosignCfg.GetVerificationConfig("*", "*", "*")
	if wildcard == nil {
		return ""
	}
	return wildcard.PublicKey
}

type rateLimitedError struct{}

func (rateLimitedError) Error() string { return "rate limited" }

func errIsRateLimited(err error) bool {
	_, ok := err.(rateLimitedError)
	return ok
}

func (v *CosignValidator) verifyImage(ctx context.Context, img string, verification config.CosignVerificationConfig) (bool, error) {
	v.mu.Lock()
	limited := time.Now().Before(v.rateLimitUntil)
	v.mu.Unlock()
	if limited {
		return false, rateLimitedError{}
	}

	resolved := v.resolveDigest(ctx, img)
	key := cosignCacheKey{
		resolvedImage: resolved,
		method:        verification.VerificationMethod,
		publicKey:     verification.PublicKey,
		identityRegex: verification.KeylessIdentityRegex,
		issuer:        verification.KeylessIssuer,
		rekorURL:      verification.RekorURL,
		fulcioURL:     verification.FulcioURL,
		allowHTTP:     verification.AllowHTTP,
		allowInsecure: verification.AllowInsecure,
	}

	if v, ok := v.positive.Get(key); ok && v {
		return true, nil
	}
	if v, ok := v.negative.Get(key); ok && !v {
		return false, nil
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return false, err
	}

	var ok bool
	var err error
	switch verification.VerificationMethod {
	case "keyless":
		ok, err = v.verifyKeyless(ctx, resolved, verification)
	default:
		ok, err = v.verifyWithKey(ctx, resolved, verification)
	}

	if err != nil {
		if isRateLimitSignal(err.Error()) {
			v.recordRateLimit()
			return false, rateLimitedError{}
		}
		return false, err
	}

	v.mu.Lock()
	v.consecutiveHits = 0
	v.backoffPolicy.Reset()
	v.mu.Unlock()

	if ok {
		v.positive.Set(key, true)
	} else {
		v.negative.Set(key, false)
	}
	return ok, nil
}

func (v *CosignValidator) recordRateLimit() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.consecutiveHits++
	next := v.backoffPolicy.NextBackOff()
	if next == backoff.Stop {
		next = v.backoffPolicy.MaxInterval
	}
	v.rateLimitUntil = time.Now().Add(next)
}

// resolveDigest resolves img's tag to a digest via a registry HEAD request,
// best-effort: on any failure the original reference is returned unchanged,
// matching cosign.py: _resolve_image_reference's "never raises" contract
// (the Python source shells to `docker inspect`; we have no container
// runtime sidecar in this control plane, so we resolve directly against
// the registry instead).
func (v *CosignValidator) resolveDigest(ctx context.Context, img string) string {
	if strings.Contains(img, "@sha256:") {
		return img
	}
	ref, err := name.ParseReference(img)
	if err != nil {
		return img
	}
	desc, err := remote.Head(ref, remote.WithContext(ctx))
	if err != nil {
		return img
	}
	return ref.Context().Name() + "@" + desc.Digest.String()
}

func (v *CosignValidator) verifyWithKey(ctx context.Context, img string, verification config.CosignVerificationConfig) (bool, error) {
	if verification.PublicKey == "" {
		return false, fmt.Errorf("no public key configured")
	}
	verifier, err := loadPublicKeyVerifier(verification.PublicKey)
	if err != nil {
		return false, fmt.Errorf("loading public key %s: %w", verification.PublicKey, err)
	}

	ref, err := name.ParseReference(img)
	if err != nil {
		return false, fmt.Errorf("parsing reference %s: %w", img, err)
	}

	opts := v.remoteOpts(ctx)
	sigs, _, err := cosign.VerifyImageSignatures(ctx, ref, &cosign.CheckOpts{
		SigVerifier:        verifier,
		ClaimVerifier:      cosign.SimpleClaimVerifier,
		RegistryClientOpts: opts,
	})
	if err != nil {
		return false, err
	}
	return len(sigs) > 0, nil
}

func (v *CosignValidator) verifyKeyless(ctx context.Context, img string, verification config.CosignVerificationConfig) (bool, error) {
	if verification.KeylessIdentityRegex == "" || verification.KeylessIssuer == "" {
		return false, fmt.Errorf("keyless verification requires identity regex and issuer")
	}
	ref, err := name.ParseReference(img)
	if err != nil {
		return false, fmt.Errorf("parsing reference %s: %w", img, err)
	}

	opts := v.remoteOpts(ctx)
	sigs, _, err := cosign.VerifyImageSignatures(ctx, ref, &cosign.CheckOpts{
		ClaimVerifier:      cosign.SimpleClaimVerifier,
		RegistryClientOpts: opts,
		Identities: []cosign.Identity{{
			IssuerRegExp:  verification.KeylessIssuer,
			SubjectRegExp: verification.KeylessIdentityRegex,
		}},
	})
	if err != nil {
		return false, err
	}
	return len(sigs) > 0, nil
}

func (v *CosignValidator) remoteOpts(ctx context.Context) []ociremote.Option {
	keychain, err := k8schain.NewNoClient(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn("cosign validator: failed to build k8schain keychain, falling back to default")
		return nil
	}
	return []ociremote.Option{ociremote.WithRemoteOptions(remote.WithAuthFromKeychain(keychain))}
}

func loadPublicKeyVerifier(path string) (signature.Verifier, error) {
	return signature.LoadVerifierFromPEMFile(path, crypto.SHA256)
}
