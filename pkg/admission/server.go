package admission

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/chutes-ai/sek8s-controlplane/internal/logging"
)

// Router builds the chi mux serving /validate, /mutate, /healthz, /readyz
// and /metrics, replacing the teacher's knative sharedmain webhook.Options
// plumbing with a plain net/http surface per SPEC_FULL.md §11.
func Router(controller *Controller, metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/validate", handleReview(controller))
	r.Post("/mutate", handleMutate())
	r.Get("/healthz", handleHealthz())
	r.Get("/readyz", handleReadyz(controller))
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)
	return r
}

func handleReview(controller *Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logging.FromContext(ctx)

		var review admissionv1.AdmissionReview
		if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
			log.Error("decoding admission review", zap.Error(err))
			http.Error(w, "invalid admission review", http.StatusBadRequest)
			return
		}
		if review.Request == nil {
			http.Error(w, "missing admission request", http.StatusBadRequest)
			return
		}

		req, err := toRequest(review.Request)
		if err != nil {
			log.Error("decoding admission request object", zap.Error(err))
			writeReview(w, Response{UID: string(review.Request.UID), Allowed: false, Message: "invalid request object"})
			return
		}

		resp := controller.Validate(ctx, req)
		writeReview(w, resp)
	}
}

// handleMutate always allows with no patch: the control plane does not
// inject or default any field, per OQ3 in DESIGN.md.
func handleMutate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var review admissionv1.AdmissionReview
		if err := json.NewDecoder(r.Body).Decode(&review); err != nil || review.Request == nil {
			http.Error(w, "invalid admission review", http.StatusBadRequest)
			return
		}
		writeReview(w, Response{UID: string(review.Request.UID), Allowed: true})
	}
}

func handleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func handleReadyz(controller *Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := controller.Health(r.Context())
		for name, ok := range health {
			if !ok {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(name + " unhealthy"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func toRequest(ar *admissionv1.AdmissionRequest) (Request, error) {
	var object map[string]interface{}
	if len(ar.Object.Raw) > 0 {
		if err := json.Unmarshal(ar.Object.Raw, &object); err != nil {
			return Request{}, err
		}
	}

	raw, err := json.Marshal(ar)
	if err != nil {
		return Request{}, err
	}
	var rawMap map[string]interface{}
	if err := json.Unmarshal(raw, &rawMap); err != nil {
		return Request{}, err
	}

	return Request{
		UID:       string(ar.UID),
		Kind:      ar.Kind.Kind,
		Operation: string(ar.Operation),
		Namespace: ar.Namespace,
		Object:    object,
		Raw:       rawMap,
	}, nil
}

func writeReview(w http.ResponseWriter, resp Response) {
	review := admissionv1.AdmissionReview{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "admission.k8s.io/v1",
			Kind:       "AdmissionReview",
		},
		Response: &admissionv1.AdmissionResponse{
			UID:      types.UID(resp.UID),
			Allowed:  resp.Allowed,
			Warnings: resp.Warnings,
		},
	}
	if !resp.Allowed && resp.Message != "" {
		review.Response.Result = &metav1.Status{Message: resp.Message}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(review)
}
