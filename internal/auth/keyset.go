// Package auth verifies bearer tokens against the identity provider's
// remote signing-key set.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrKeyNotFound indicates the token's key id is absent from the key set.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrKeySetUnavailable indicates the key set could not be fetched.
	ErrKeySetUnavailable = errors.New("signing key set unavailable")
)

// jwk is one RSA signing key as published by the JWKS endpoint.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// jwks is the JWKS document shape.
type jwks struct {
	Keys []jwk `json:"keys"`
}

// RemoteKeySet caches RSA public keys fetched from a JWKS endpoint.
//
// Keys are looked up by key id. An unknown key id triggers a refetch so key
// rotation is picked up without restarts; refetches are rate limited so a
// flood of tokens with bogus key ids cannot hammer the endpoint.
type RemoteKeySet struct {
	url     string
	client  *http.Client
	refresh *rate.Limiter

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey
}

// NewRemoteKeySet creates a key set backed by the given JWKS URL.
func NewRemoteKeySet(url string) *RemoteKeySet {
	return &RemoteKeySet{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		refresh: rate.NewLimiter(rate.Every(time.Minute), 2),
		keys:    make(map[string]*rsa.PublicKey),
	}
}

// Key returns the RSA public key for the given key id, refetching the key
// set once when the id is unknown.
func (ks *RemoteKeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	key, ok := ks.keys[kid]
	ks.mu.RUnlock()
	if ok {
		return key, nil
	}

	if !ks.refresh.Allow() {
		return nil, fmt.Errorf("%w: %q (refresh rate limited)", ErrKeyNotFound, kid)
	}
	if err := ks.fetch(ctx); err != nil {
		return nil, err
	}

	ks.mu.RLock()
	key, ok = ks.keys[kid]
	ks.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
	}
	return key, nil
}

// fetch replaces the cached keys with the endpoint's current set.
func (ks *RemoteKeySet) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}

	resp, err := ks.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrKeySetUnavailable, resp.StatusCode)
	}

	var doc jwks
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := parseRSAKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	ks.mu.Lock()
	ks.keys = keys
	ks.mu.Unlock()
	return nil
}

// parseRSAKey builds an RSA public key from the JWK modulus and exponent.
func parseRSAKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 0 {
		return nil, errors.New("invalid exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
