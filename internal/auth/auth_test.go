package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/chutes-ai/sek8s-controlplane/internal/errs"
)

func TestAuthorizeMissingHeaders(t *testing.T) {
	a, err := NewAuthorizer(Config{MinerSS58: "5Miner"})
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	err = a.Authorize(context.Background(), http.Header{}, "", Options{AllowMiner: true, Purpose: "cache"})
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("Authorize with no headers = %v, want ErrUnauthorized", err)
	}
}

func TestAuthorizeUnknownSigner(t *testing.T) {
	a, err := NewAuthorizer(Config{MinerSS58: "5Miner"})
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	h := http.Header{}
	h.Set("X-Hotkey", "5SomeoneElse")
	h.Set("X-Nonce", strconv.FormatInt(time.Now().Unix(), 10))
	h.Set("X-Signature", "ab")
	err = a.Authorize(context.Background(), h, "", Options{AllowMiner: true, Purpose: "cache"})
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("Authorize with unknown signer = %v, want ErrUnauthorized", err)
	}
}

func TestAuthorizeExpiredNonce(t *testing.T) {
	a, err := NewAuthorizer(Config{MinerSS58: "5Miner"})
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	h := http.Header{}
	h.Set("X-Hotkey", "5Miner")
	h.Set("X-Nonce", strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10))
	h.Set("X-Signature", "ab")
	err = a.Authorize(context.Background(), h, "", Options{AllowMiner: true, Purpose: "cache"})
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("Authorize with expired nonce = %v, want ErrUnauthorized", err)
	}
}

func TestAuthorizeValidatorNotAllowed(t *testing.T) {
	a, err := NewAuthorizer(Config{MinerSS58: "5Miner", AllowedValidators: []string{"5Validator"}})
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	h := http.Header{}
	h.Set("X-Hotkey", "5Validator")
	h.Set("X-Nonce", strconv.FormatInt(time.Now().Unix(), 10))
	h.Set("X-Signature", "ab")
	// AllowValidator not set: validator hotkey should still be rejected.
	err = a.Authorize(context.Background(), h, "", Options{AllowMiner: true, Purpose: "cache"})
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("Authorize without AllowValidator = %v, want ErrUnauthorized", err)
	}
}

func TestBodySHA256MiddlewarePreservesBody(t *testing.T) {
	var gotSHA string
	var gotBody string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSHA = BodySHA256FromContext(r.Context())
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`))
	rec := httptest.NewRecorder()
	BodySHA256Middleware(next).ServeHTTP(rec, req)

	if gotBody != `{"a":1}` {
		t.Fatalf("body not preserved, got %q", gotBody)
	}
	if gotSHA == "" {
		t.Fatalf("expected a non-empty body sha256")
	}
}

func TestBodySHA256MiddlewareSkipsGET(t *testing.T) {
	var gotSHA string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSHA = BodySHA256FromContext(r.Context())
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	BodySHA256Middleware(next).ServeHTTP(rec, req)
	if gotSHA != "" {
		t.Fatalf("GET request should not get a body sha256, got %q", gotSHA)
	}
}

type fakeSigner struct {
	sig []byte
	err error
}

func (f *fakeSigner) Sign(message []byte) ([]byte, error) { return f.sig, f.err }

func TestSignRequestHeaders(t *testing.T) {
	signer := &fakeSigner{sig: []byte{0xDE, 0xAD}}
	headers, err := SignRequest("5Miner", signer, "cache", nil)
	if err != nil {
		t.Fatalf("SignRequest: %v", err)
	}
	if headers["X-Hotkey"] != "5Miner" {
		t.Fatalf("X-Hotkey = %q", headers["X-Hotkey"])
	}
	if headers["X-Signature"] != "dead" {
		t.Fatalf("X-Signature = %q, want hex-encoded signer output", headers["X-Signature"])
	}
	if headers["X-Nonce"] == "" {
		t.Fatalf("expected a non-empty nonce")
	}
}

func TestSignRequestPropagatesSignerError(t *testing.T) {
	signer := &fakeSigner{err: errors.New("boom")}
	if _, err := SignRequest("5Miner", signer, "cache", nil); err == nil {
		t.Fatalf("expected SignRequest to propagate signer error")
	}
}
