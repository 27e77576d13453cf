package cachemanager

import (
	"encoding/hex"
	"fmt"

	"github.com/vedhavyas/go-subkey/v2/sr25519"
)

// SeedSigner signs outbound requests to the validator as the configured
// miner hotkey, implementing internal/auth.Signer. Grounded on
// original_source/sek8s/services/util.py: sign_request, which signs with
// MINER_SS58/MINER_SEED when present.
type SeedSigner struct {
	key *sr25519.PrivateKey
}

// NewSeedSigner builds a signer from a hex-encoded SR25519 seed. An empty
// seed yields a nil signer and no error; callers check for a nil signer and
// send the hf_info request unsigned, so a validator that rejects it surfaces
// as ErrUpstreamUnavailable (HTTP 502 from the cache-manager routes).
func NewSeedSigner(seedHex string) (*SeedSigner, error) {
	if seedHex == "" {
		return nil, nil
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decoding miner seed: %w", err)
	}
	key, err := sr25519.NewPrivateKeyFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("building miner signing key: %w", err)
	}
	return &SeedSigner{key: key}, nil
}

func (s *SeedSigner) Sign(message []byte) ([]byte, error) {
	return s.key.Sign(message)
}
