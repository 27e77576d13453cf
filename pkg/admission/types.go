// Package admission implements the Kubernetes admission webhook:
// concurrent multi-validator policy evaluation over AdmissionReview
// requests, grounded on the teacher's pkg/webhook/validator.go fan-out
// pattern and on original_source/sek8s/validators/* for validator
// semantics.
package admission

import (
	"context"
	"strings"
)

// ValidationResult is the per-validator verdict, matching
// original_source/sek8s/validators/base.py: ValidationResult.
type ValidationResult struct {
	Allowed  bool
	Messages []string
	Warnings []string
}

// Allow builds an allowed result, optionally carrying a warning.
func Allow(warning string) ValidationResult {
	r := ValidationResult{Allowed: true}
	if warning != "" {
		r.Warnings = append(r.Warnings, warning)
	}
	return r
}

// Deny builds a denied result with a single message.
func Deny(message string) ValidationResult {
	return ValidationResult{Allowed: false, Messages: []string{message}}
}

// Combine merges results in order: allowed is the AND of every input;
// messages and warnings concatenate preserving order, matching
// ValidationResult.combine in the Python source.
func Combine(results ...ValidationResult) ValidationResult {
	out := ValidationResult{Allowed: true}
	for _, r := range results {
		if !r.Allowed {
			out.Allowed = false
		}
		out.Messages = append(out.Messages, r.Messages...)
		out.Warnings = append(out.Warnings, r.Warnings...)
	}
	return out
}

// Request is the subset of a Kubernetes AdmissionReview's `request` object
// interpreted by the core, per spec.md §3.1; the rest of the object is
// passed through to the Policy Validator untouched.
type Request struct {
	UID       string
	Kind      string
	Operation string
	Namespace string
	Object    map[string]interface{}
	Raw       map[string]interface{} // the full admissionReview.request, passed to OPA verbatim
}

// Validator is implemented by each of the three concurrent admission
// checks (Registry, Policy, Signature).
type Validator interface {
	Name() string
	Validate(ctx context.Context, req Request) (ValidationResult, error)
	HealthCheck(ctx context.Context) bool
}

// podProducingKinds names the kinds whose pod spec(s) the Registry and
// Signature validators inspect, per spec.md §4.2.2.
var podProducingKinds = map[string]bool{
	"Pod":         true,
	"Deployment":  true,
	"StatefulSet": true,
	"DaemonSet":   true,
	"Job":         true,
	"CronJob":     true,
	"ReplicaSet":  true,
}

func isPodProducingKind(kind string) bool {
	return podProducingKinds[kind]
}

// extractImages walks the object the way
// original_source/sek8s/validators/base.py: ValidatorBase.extract_images
// does: spec.{containers,initContainers,ephemeralContainers} directly,
// the same paths under spec.template.spec, and under
// spec.jobTemplate.spec.template.spec for CronJobs.
func extractImages(obj map[string]interface{}) []string {
	var images []string
	seen := map[string]bool{}
	add := func(containers interface{}) {
		list, ok := containers.([]interface{})
		if !ok {
			return
		}
		for _, c := range list {
			cm, ok := c.(map[string]interface{})
			if !ok {
				continue
			}
			img, _ := cm["image"].(string)
			if img == "" || seen[img] {
				continue
			}
			seen[img] = true
			images = append(images, img)
		}
	}

	specs := podSpecs(obj)
	for _, spec := range specs {
		add(spec["containers"])
		add(spec["initContainers"])
		add(spec["ephemeralContainers"])
	}
	return images
}

// podSpecs returns every PodSpec-shaped map reachable from obj, per the
// three traversal paths in extract_images above.
func podSpecs(obj map[string]interface{}) []map[string]interface{} {
	var specs []map[string]interface{}

	if spec, ok := mapAt(obj, "spec"); ok {
		specs = append(specs, spec)
		if tmplSpec, ok := mapAt(spec, "template", "spec"); ok {
			specs = append(specs, tmplSpec)
		}
		if jobTmplSpec, ok := mapAt(spec, "jobTemplate", "spec", "template", "spec"); ok {
			specs = append(specs, jobTmplSpec)
		}
	}
	return specs
}

func mapAt(obj map[string]interface{}, path ...string) (map[string]interface{}, bool) {
	cur := obj
	for _, p := range path {
		next, ok := cur[p]
		if !ok {
			return nil, false
		}
		m, ok := next.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur = m
	}
	return cur, true
}

func joinMessages(messages []string) string {
	return strings.Join(messages, "; ")
}
