package admission

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeValidator struct {
	name    string
	result  ValidationResult
	err     error
	healthy bool
	calls   int
}

func (f *fakeValidator) Name() string { return f.name }

func (f *fakeValidator) Validate(ctx context.Context, req Request) (ValidationResult, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeValidator) HealthCheck(ctx context.Context) bool { return f.healthy }

func podRequest(namespace, image string) Request {
	return Request{
		UID:       "uid-1",
		Kind:      "Pod",
		Operation: "CREATE",
		Namespace: namespace,
		Object: map[string]interface{}{
			"spec": map[string]interface{}{
				"containers": []interface{}{
					map[string]interface{}{"image": image},
				},
			},
		},
	}
}

func TestControllerValidateAllAllow(t *testing.T) {
	v1 := &fakeValidator{name: "registry", result: Allow("")}
	v2 := &fakeValidator{name: "policy", result: Allow("")}
	c, err := NewController([]Validator{v1, v2}, 16, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	resp := c.Validate(context.Background(), podRequest("default", "docker.io/library/nginx"))
	if !resp.Allowed {
		t.Fatalf("expected allowed, got %+v", resp)
	}
}

func TestControllerValidateOneDenyWinsOverAllow(t *testing.T) {
	v1 := &fakeValidator{name: "registry", result: Allow("")}
	v2 := &fakeValidator{name: "policy", result: Deny("denied by policy")}
	c, err := NewController([]Validator{v1, v2}, 16, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	resp := c.Validate(context.Background(), podRequest("default", "docker.io/library/nginx"))
	if resp.Allowed {
		t.Fatalf("expected denial when one validator denies")
	}
	if resp.Message == "" {
		t.Fatalf("expected a non-empty denial message")
	}
}

func TestControllerValidateValidatorErrorDenies(t *testing.T) {
	v1 := &fakeValidator{name: "registry", err: errors.New("boom")}
	c, err := NewController([]Validator{v1}, 16, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	resp := c.Validate(context.Background(), podRequest("default", "docker.io/library/nginx"))
	if resp.Allowed {
		t.Fatalf("a validator internal error should deny, not allow")
	}
	if !strings.Contains(resp.Message, "Internal error") {
		t.Fatalf("expected a generic internal-error message when the validator returns no messages of its own, got %q", resp.Message)
	}
}

func TestControllerValidateValidatorErrorPreservesDenyMessage(t *testing.T) {
	v1 := &fakeValidator{
		name:   "cosign",
		result: Deny("cosign verification unavailable (network/infra)"),
		err:    errors.New("registry unreachable"),
	}
	c, err := NewController([]Validator{v1}, 16, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	resp := c.Validate(context.Background(), podRequest("default", "docker.io/library/nginx"))
	if resp.Allowed {
		t.Fatalf("expected deny")
	}
	if !strings.Contains(resp.Message, "cosign verification unavailable") {
		t.Fatalf("expected the validator's own deny message to survive alongside the internal error, got %q", resp.Message)
	}
}

func TestControllerValidateCachesRepeatedRequests(t *testing.T) {
	v1 := &fakeValidator{name: "registry", result: Allow("")}
	c, err := NewController([]Validator{v1}, 16, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	req := podRequest("default", "docker.io/library/nginx")
	c.Validate(context.Background(), req)
	c.Validate(context.Background(), req)

	if v1.calls != 1 {
		t.Fatalf("expected the second identical request to hit the cache, validator was called %d times", v1.calls)
	}
}

func TestControllerValidateDeleteOperationsAreNotCached(t *testing.T) {
	v1 := &fakeValidator{name: "registry", result: Allow("")}
	c, err := NewController([]Validator{v1}, 16, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	req := Request{UID: "uid-1", Kind: "Pod", Operation: "DELETE", Namespace: "default"}
	c.Validate(context.Background(), req)
	c.Validate(context.Background(), req)

	if v1.calls != 2 {
		t.Fatalf("DELETE requests should never be cached, validator was called %d times", v1.calls)
	}
}

func TestControllerHealthReflectsEachValidator(t *testing.T) {
	v1 := &fakeValidator{name: "registry", healthy: true}
	v2 := &fakeValidator{name: "policy", healthy: false}
	c, err := NewController([]Validator{v1, v2}, 16, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	health := c.Health(context.Background())
	if !health["registry"] || health["policy"] {
		t.Fatalf("Health() = %v", health)
	}
}
