package admission

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
)

func newTestReview(t *testing.T, uid, namespace, image string) []byte {
	t.Helper()
	obj := map[string]interface{}{
		"spec": map[string]interface{}{
			"containers": []interface{}{
				map[string]interface{}{"image": image},
			},
		},
	}
	objRaw, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal object: %v", err)
	}
	review := admissionv1.AdmissionReview{
		TypeMeta: metav1.TypeMeta{APIVersion: "admission.k8s.io/v1", Kind: "AdmissionReview"},
		Request: &admissionv1.AdmissionRequest{
			UID:       types.UID(uid),
			Kind:      metav1.GroupVersionKind{Kind: "Pod"},
			Operation: admissionv1.Create,
			Namespace: namespace,
			Object:    runtime.RawExtension{Raw: objRaw},
		},
	}
	body, err := json.Marshal(review)
	if err != nil {
		t.Fatalf("marshal review: %v", err)
	}
	return body
}

func TestHandleReviewAllows(t *testing.T) {
	v1 := &fakeValidator{name: "registry", result: Allow(""), healthy: true}
	c, err := NewController([]Validator{v1}, 16, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	router := Router(c, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	body := newTestReview(t, "uid-1", "default", "docker.io/library/nginx")
	req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var review admissionv1.AdmissionReview
	if err := json.Unmarshal(rec.Body.Bytes(), &review); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if review.Response == nil || !review.Response.Allowed {
		t.Fatalf("expected an allowed response, got %+v", review.Response)
	}
	if string(review.Response.UID) != "uid-1" {
		t.Fatalf("UID = %q", review.Response.UID)
	}
}

func TestHandleReviewDenies(t *testing.T) {
	v1 := &fakeValidator{name: "registry", result: Deny("nope"), healthy: true}
	c, err := NewController([]Validator{v1}, 16, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	router := Router(c, nil)

	body := newTestReview(t, "uid-2", "default", "evil.example.com/bad")
	req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var review admissionv1.AdmissionReview
	if err := json.Unmarshal(rec.Body.Bytes(), &review); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if review.Response == nil || review.Response.Allowed {
		t.Fatalf("expected a denied response, got %+v", review.Response)
	}
	if review.Response.Result == nil || review.Response.Result.Message == "" {
		t.Fatalf("expected a denial message")
	}
}

func TestHandleReviewRejectsMissingRequest(t *testing.T) {
	v1 := &fakeValidator{name: "registry", result: Allow(""), healthy: true}
	c, err := NewController([]Validator{v1}, 16, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	router := Router(c, nil)

	body, _ := json.Marshal(admissionv1.AdmissionReview{})
	req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleMutateAlwaysAllowsWithNoPatch(t *testing.T) {
	v1 := &fakeValidator{name: "registry", result: Allow(""), healthy: true}
	c, err := NewController([]Validator{v1}, 16, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	router := Router(c, nil)

	body := newTestReview(t, "uid-3", "default", "docker.io/library/nginx")
	req := httptest.NewRequest(http.MethodPost, "/mutate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var review admissionv1.AdmissionReview
	if err := json.Unmarshal(rec.Body.Bytes(), &review); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if review.Response == nil || !review.Response.Allowed {
		t.Fatalf("expected mutate to always allow, got %+v", review.Response)
	}
	if len(review.Response.Patch) != 0 {
		t.Fatalf("expected no patch, got %s", review.Response.Patch)
	}
}

func TestHandleHealthz(t *testing.T) {
	v1 := &fakeValidator{name: "registry", result: Allow(""), healthy: true}
	c, err := NewController([]Validator{v1}, 16, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	router := Router(c, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleReadyzUnhealthyValidator(t *testing.T) {
	v1 := &fakeValidator{name: "registry", result: Allow(""), healthy: false}
	c, err := NewController([]Validator{v1}, 16, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	router := Router(c, nil)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHandleReadyzHealthy(t *testing.T) {
	v1 := &fakeValidator{name: "registry", result: Allow(""), healthy: true}
	c, err := NewController([]Validator{v1}, 16, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	router := Router(c, nil)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
