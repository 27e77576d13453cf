package admission

import (
	"context"
	"fmt"
	"strings"

	"github.com/ryanuber/go-glob"

	"github.com/chutes-ai/sek8s-controlplane/internal/config"
)

// RegistryValidator enforces the registry allowlist, grounded on
// original_source/sek8s/validators/registry.py.
type RegistryValidator struct {
	cfg *config.AdmissionConfig
}

// NewRegistryValidator builds a RegistryValidator from cfg.
func NewRegistryValidator(cfg *config.AdmissionConfig) *RegistryValidator {
	return &RegistryValidator{cfg: cfg}
}

func (v *RegistryValidator) Name() string { return "RegistryValidator" }

func (v *RegistryValidator) HealthCheck(ctx context.Context) bool { return true }

func (v *RegistryValidator) Validate(ctx context.Context, req Request) (ValidationResult, error) {
	if v.cfg.IsNamespaceExempt(req.Namespace) {
		return Allow(""), nil
	}
	if req.Operation == "DELETE" || !isPodProducingKind(req.Kind) {
		return Allow(""), nil
	}

	images := extractImages(req.Object)
	var violations []string
	for _, img := range images {
		registry := extractRegistry(img)
		if !v.isRegistryAllowed(registry) {
			violations = append(violations, fmt.Sprintf("Image %s uses disallowed registry %s", img, registry))
		}
	}
	if len(violations) == 0 {
		return Allow(""), nil
	}

	mode := v.cfg.NamespacePolicyFor(req.Namespace).Mode
	switch mode {
	case "monitor":
		return Allow(""), nil
	case "warn":
		return Allow(joinMessages(violations)), nil
	default: // enforce
		return Deny(joinMessages(violations)), nil
	}
}

// extractRegistry implements registry.py: _extract_registry exactly.
func extractRegistry(image string) string {
	if !strings.Contains(image, "/") {
		return "docker.io"
	}
	first := strings.SplitN(image, "/", 2)[0]
	if strings.Contains(first, ".") || strings.Contains(first, ":") || first == "localhost" {
		return first
	}
	return "docker.io"
}

func (v *RegistryValidator) isRegistryAllowed(registry string) bool {
	for _, allowed := range v.cfg.AllowedRegistries {
		if strings.HasSuffix(allowed, "*") {
			if glob.Glob(strings.ToLower(allowed), strings.ToLower(registry)) {
				return true
			}
			continue
		}
		if strings.EqualFold(allowed, registry) {
			return true
		}
	}
	return false
}
