// Package auth implements the signed-request authorization layer shared by
// Admission and the Cache Manager, grounded on
// original_source/sek8s/services/util.py (get_keypair, authorize).
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	subkey "github.com/vedhavyas/go-subkey/v2"
	"github.com/vedhavyas/go-subkey/v2/sr25519"
	"go.uber.org/zap"

	"github.com/chutes-ai/sek8s-controlplane/internal/errs"
	"github.com/chutes-ai/sek8s-controlplane/internal/logging"
	"github.com/chutes-ai/sek8s-controlplane/internal/ttlcache"
)

const (
	headerHotkey    = "X-Hotkey"
	headerNonce     = "X-Nonce"
	headerSignature = "X-Signature"

	// nonceWindow matches the 30s replay window in util.py's authorize().
	nonceWindow = 30 * time.Second

	// keypairCacheSize is larger than the Python source's
	// @lru_cache(maxsize=2): a handful of distinct hotkeys (miner +
	// validators) are realistically in play per process, and 32 keeps them
	// all resident while still bounding the cache.
	keypairCacheSize = 32
)

type ctxKey struct{}

// Config names the identities a signed request may be authorized against.
type Config struct {
	MinerSS58         string
	AllowedValidators []string
}

// Authorizer verifies X-Hotkey/X-Nonce/X-Signature headers against a
// configured set of allowed signers.
type Authorizer struct {
	cfg      Config
	keypairs *ttlcache.Cache[string, *sr25519.PublicKey]
}

// NewAuthorizer builds an Authorizer from cfg.
func NewAuthorizer(cfg Config) (*Authorizer, error) {
	kc, err := ttlcache.New[string, *sr25519.PublicKey](keypairCacheSize, 0)
	if err != nil {
		return nil, fmt.Errorf("auth: building keypair cache: %w", err)
	}
	return &Authorizer{cfg: cfg, keypairs: kc}, nil
}

func (a *Authorizer) publicKeyFor(ss58Address string) (*sr25519.PublicKey, error) {
	if pk, ok := a.keypairs.Get(ss58Address); ok {
		return pk, nil
	}
	_, raw, err := subkey.SS58Decode(ss58Address)
	if err != nil {
		return nil, fmt.Errorf("decoding ss58 address: %w", err)
	}
	pk, err := sr25519.NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("building sr25519 public key: %w", err)
	}
	a.keypairs.Set(ss58Address, pk)
	return pk, nil
}

// Options parameterizes one Authorize call, mirroring authorize(allow_miner,
// allow_validator, purpose) in the Python source.
type Options struct {
	AllowMiner     bool
	AllowValidator bool
	Purpose        string
}

func (a *Authorizer) allowedSigners(opts Options) []string {
	var signers []string
	if opts.AllowMiner && a.cfg.MinerSS58 != "" {
		signers = append(signers, a.cfg.MinerSS58)
	}
	if opts.AllowValidator {
		signers = append(signers, a.cfg.AllowedValidators...)
	}
	return signers
}

// Authorize verifies a signed request's headers against opts. bodySHA256 is
// the hex-encoded SHA-256 of the request body, computed by BodySHA256
// middleware for POST/PUT/PATCH, empty otherwise.
func (a *Authorizer) Authorize(ctx context.Context, header http.Header, bodySHA256 string, opts Options) error {
	hotkey := header.Get(headerHotkey)
	nonce := header.Get(headerNonce)
	signature := header.Get(headerSignature)
	if hotkey == "" || nonce == "" || signature == "" {
		return fmt.Errorf("%w (missing)", errs.ErrUnauthorized)
	}

	signers := a.allowedSigners(opts)
	allowed := false
	for _, s := range signers {
		if s == hotkey {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w (signer)", errs.ErrUnauthorized)
	}

	nonceSeconds, err := strconv.ParseInt(nonce, 10, 64)
	if err != nil {
		return fmt.Errorf("%w (nonce)", errs.ErrUnauthorized)
	}
	skew := time.Now().Unix() - nonceSeconds
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second >= nonceWindow {
		return fmt.Errorf("%w (nonce expired)", errs.ErrUnauthorized)
	}

	payloadHash := bodySHA256
	if payloadHash == "" {
		payloadHash = opts.Purpose
	}
	signingString := strings.Join([]string{hotkey, nonce, payloadHash}, ":")

	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w (sig)", errs.ErrUnauthorized)
	}

	pk, err := a.publicKeyFor(hotkey)
	if err != nil {
		logging.FromContext(ctx).Warn("auth: failed to resolve keypair", zap.Error(err))
		return fmt.Errorf("%w (sig)", errs.ErrUnauthorized)
	}

	ok, err := pk.Verify([]byte(signingString), sigBytes)
	if err != nil || !ok {
		return fmt.Errorf("%w (sig): %v", errs.ErrUnauthorized, err)
	}
	return nil
}

// Middleware returns an http.Handler wrapper that authorizes every request
// with opts before delegating to next.
func (a *Authorizer) Middleware(opts Options, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bodySHA := BodySHA256FromContext(r.Context())
		if err := a.Authorize(r.Context(), r.Header, bodySHA, opts); err != nil {
			http.Error(w, errs.ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type bodySHAKey struct{}

// BodySHA256Middleware reads the request body, stashes its SHA-256 hex
// digest in the request context, and restores the body so downstream
// handlers can still parse it — mirroring the upstream middleware that
// populates request.state.body_sha256 in the Python source.
func BodySHA256Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			_ = r.Body.Close()
			sum := sha256.Sum256(body)
			ctx := context.WithValue(r.Context(), bodySHAKey{}, hex.EncodeToString(sum[:]))
			r = r.WithContext(ctx)
			r.Body = io.NopCloser(strings.NewReader(string(body)))
		}
		next.ServeHTTP(w, r)
	})
}

// BodySHA256FromContext returns the hex SHA-256 stashed by
// BodySHA256Middleware, or "" if none (GET/DELETE requests).
func BodySHA256FromContext(ctx context.Context) string {
	s, _ := ctx.Value(bodySHAKey{}).(string)
	return s
}

// SignRequest builds the headers for an outbound signed request, the
// client-side counterpart to Authorize — grounded on
// original_source/sek8s/services/util.py: sign_request. signer performs
// the actual SR25519 signing (kept pluggable so the miner's private key
// never needs to live in this package).
type Signer interface {
	Sign(message []byte) ([]byte, error)
}

// SignRequest returns the X-Hotkey/X-Nonce/X-Signature headers for a
// request authenticated as hotkey, for the given purpose and optional body.
func SignRequest(hotkey string, signer Signer, purpose string, body []byte) (map[string]string, error) {
	nonce := strconv.FormatInt(time.Now().Unix(), 10)
	payloadHash := purpose
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		payloadHash = hex.EncodeToString(sum[:])
	}
	signingString := strings.Join([]string{hotkey, nonce, payloadHash}, ":")
	sig, err := signer.Sign([]byte(signingString))
	if err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}
	return map[string]string{
		headerHotkey:    hotkey,
		headerNonce:     nonce,
		headerSignature: hex.EncodeToString(sig),
	}, nil
}

