package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chutes-ai/sek8s-controlplane/internal/config"
)

// PolicyValidator delegates one class of admission checks to an external
// policy engine (OPA), grounded on
// original_source/sek8s/validators/opa.py.
type PolicyValidator struct {
	cfg    *config.AdmissionConfig
	client *http.Client
}

// NewPolicyValidator builds a PolicyValidator from cfg.
func NewPolicyValidator(cfg *config.AdmissionConfig) *PolicyValidator {
	timeout := time.Duration(cfg.OPATimeoutSeconds * float64(time.Second))
	return &PolicyValidator{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (v *PolicyValidator) Name() string { return "OPAValidator" }

func (v *PolicyValidator) Validate(ctx context.Context, req Request) (ValidationResult, error) {
	if v.cfg.IsNamespaceExempt(req.Namespace) {
		return Allow(""), nil
	}
	mode := v.cfg.NamespacePolicyFor(req.Namespace).Mode

	violations, err := v.queryOPA(ctx, req, mode)
	if err != nil {
		if ctx.Err() != nil {
			return Deny("Policy validation timeout"), nil
		}
		return Deny(fmt.Sprintf("Policy validation error: %s", err.Error())), nil
	}
	if len(violations) == 0 {
		return Allow(""), nil
	}

	switch mode {
	case "monitor":
		return Allow(fmt.Sprintf("Policy violations detected (monitor mode): %s", joinMessages(violations))), nil
	case "warn":
		return Allow(fmt.Sprintf("Policy violations detected: %s", joinMessages(violations))), nil
	default: // enforce
		return Deny(fmt.Sprintf("Policy violations: %s", joinMessages(violations))), nil
	}
}

func (v *PolicyValidator) queryOPA(ctx context.Context, req Request, mode string) ([]string, error) {
	input := map[string]interface{}{
		"input": map[string]interface{}{
			"request":            req.Raw,
			"allowed_registries": v.cfg.AllowedRegistries,
			"namespace_policy":   mode,
		},
	}
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshalling opa input: %w", err)
	}

	url := v.cfg.OPAURL + "/v1/data/kubernetes/admission/deny"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OPA returned status %d", resp.StatusCode)
	}

	var decoded struct {
		Result []interface{} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding OPA response: %w", err)
	}

	var violations []string
	for _, item := range decoded.Result {
		switch v := item.(type) {
		case string:
			violations = append(violations, v)
		case map[string]interface{}:
			if msg, ok := v["msg"].(string); ok {
				violations = append(violations, msg)
			}
		}
	}
	return violations, nil
}

func (v *PolicyValidator) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.OPAURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
