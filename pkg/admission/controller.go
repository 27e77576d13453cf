package admission

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/chutes-ai/sek8s-controlplane/internal/logging"
	"github.com/chutes-ai/sek8s-controlplane/internal/ttlcache"
)

// Response is the subset of an AdmissionReview.response the controller
// produces; the HTTP layer wraps it back into a full AdmissionReview.
type Response struct {
	UID      string
	Allowed  bool
	Message  string
	Warnings []string
}

// admissionCacheKey excludes pod name/uid by design (OQ2 in DESIGN.md): a
// controller replacing a crash-looping pod with the same spec must not
// repeatedly trigger upstream cosign calls.
type admissionCacheKey struct {
	namespace string
	kind      string
	images    string
}

// Controller orchestrates the concurrent validators, grounded on the
// teacher's pkg/webhook/validator.go fan-out pattern and on
// original_source/sek8s/services/admission_controller.py: validate_admission.
type Controller struct {
	validators []Validator
	cache      *ttlcache.Cache[admissionCacheKey, ValidationResult]
	metrics    *Metrics
}

// NewController builds a Controller over validators. cacheSize/cacheTTL
// configure the admission-result cache (spec.md §4.2.1, e.g. 1024/20min).
func NewController(validators []Validator, cacheSize int, cacheTTL time.Duration, metrics *Metrics) (*Controller, error) {
	cache, err := ttlcache.New[admissionCacheKey, ValidationResult](cacheSize, cacheTTL)
	if err != nil {
		return nil, fmt.Errorf("controller: building admission cache: %w", err)
	}
	return &Controller{validators: validators, cache: cache, metrics: metrics}, nil
}

type validatorResult struct {
	name   string
	result ValidationResult
	err    error
}

// Validate fans the request out to every validator concurrently and merges
// their verdicts, per spec.md §4.2.1.
func (c *Controller) Validate(ctx context.Context, req Request) Response {
	start := time.Now()
	log := logging.FromContext(ctx).With(
		zap.String("uid", req.UID), zap.String("kind", req.Kind), zap.String("operation", req.Operation))

	key, cacheable := c.cacheKeyFor(req)
	if cacheable {
		if cached, ok := c.cache.Get(key); ok {
			c.metrics.RecordCacheHit()
			return c.buildResponse(req.UID, cached)
		}
	}
	c.metrics.RecordCacheMiss()

	results := make(chan validatorResult, len(c.validators))
	for _, val := range c.validators {
		val := val
		go func() {
			result, err := val.Validate(ctx, req)
			results <- validatorResult{name: val.Name(), result: result, err: err}
		}()
	}

	allowed := true
	var messages []string
	var warnings []string
	var internalErrs *multierror.Error

	for i := 0; i < len(c.validators); i++ {
		select {
		case <-ctx.Done():
			allowed = false
			messages = append(messages, "internal error: context canceled before validation completed")
		case r := <-results:
			if !r.result.Allowed {
				allowed = false
				if len(r.result.Messages) > 0 {
					messages = append(messages, r.result.Messages...)
				} else if r.err != nil {
					messages = append(messages, fmt.Sprintf("%s: Internal error", r.name))
				}
			}
			warnings = append(warnings, r.result.Warnings...)
			if r.err != nil {
				allowed = false
				internalErrs = multierror.Append(internalErrs, fmt.Errorf("%s: %w", r.name, r.err))
				c.metrics.RecordValidatorError(r.name)
			}
		}
	}

	if internalErrs != nil {
		log.Error("admission validators reported internal errors", zap.Error(internalErrs.ErrorOrNil()))
	}

	merged := ValidationResult{Allowed: allowed, Messages: messages, Warnings: warnings}
	if cacheable && internalErrs == nil {
		c.cache.Set(key, merged)
	}

	c.metrics.RecordDecision(allowed, req.Kind, req.Operation, time.Since(start))
	return c.buildResponse(req.UID, merged)
}

func (c *Controller) buildResponse(uid string, result ValidationResult) Response {
	return Response{
		UID:      uid,
		Allowed:  result.Allowed,
		Message:  joinMessages(result.Messages),
		Warnings: result.Warnings,
	}
}

func (c *Controller) cacheKeyFor(req Request) (admissionCacheKey, bool) {
	if req.Operation == "DELETE" {
		return admissionCacheKey{}, false
	}
	images := extractImages(req.Object)
	if len(images) == 0 {
		return admissionCacheKey{}, false
	}
	sorted := append([]string(nil), images...)
	sort.Strings(sorted)
	return admissionCacheKey{namespace: req.Namespace, kind: req.Kind, images: strings.Join(sorted, ",")}, true
}

// Health AND-reduces every validator's health probe, per
// original_source/sek8s/services/admission_controller.py: health_check.
func (c *Controller) Health(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(c.validators))
	for _, v := range c.validators {
		out[v.Name()] = v.HealthCheck(ctx)
	}
	return out
}
