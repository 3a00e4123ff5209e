package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"sync"
	"time"
)

const (
	jwksCacheTTL     = 5 * time.Minute
	jwksMaxStale     = 15 * time.Minute
	jwksFetchTimeout = 5 * time.Second
)

// jwks caches the identity provider's RSA public keys. A fresh hit serves
// from memory; a stale hit serves the old key and refreshes in the
// background; a miss blocks on a refresh shared by all concurrent callers.
type jwks struct {
	url        string
	httpClient *http.Client
	now        func() time.Time

	mu         sync.RWMutex
	keys       map[string]*rsa.PublicKey
	expiresAt  time.Time
	staleUntil time.Time

	refreshMu sync.Mutex
	refreshCh chan struct{}
	lastErr   error
}

func newJWKS(url string, httpClient *http.Client) *jwks {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: jwksFetchTimeout}
	}
	return &jwks{
		url:        url,
		httpClient: httpClient,
		now:        time.Now,
		keys:       map[string]*rsa.PublicKey{},
	}
}

func (j *jwks) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if kid == "" {
		return nil, errors.New("kid is required")
	}
	now := j.now()
	j.mu.RLock()
	key, ok := j.keys[kid]
	fresh := now.Before(j.expiresAt)
	stale := !fresh && now.Before(j.staleUntil)
	j.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}
	if ok && stale {
		go j.refresh(context.Background())
		return key, nil
	}
	if err := j.refresh(ctx); err != nil {
		return nil, err
	}
	j.mu.RLock()
	key, ok = j.keys[kid]
	j.mu.RUnlock()
	if !ok {
		return nil, errors.New("signing key not in jwks")
	}
	return key, nil
}

// refresh is single-flight: one caller fetches, the rest wait on its result.
func (j *jwks) refresh(ctx context.Context) error {
	j.refreshMu.Lock()
	if ch := j.refreshCh; ch != nil {
		j.refreshMu.Unlock()
		select {
		case <-ch:
			j.refreshMu.Lock()
			defer j.refreshMu.Unlock()
			return j.lastErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ch := make(chan struct{})
	j.refreshCh = ch
	j.refreshMu.Unlock()

	err := j.fetch(ctx)

	j.refreshMu.Lock()
	j.lastErr = err
	close(ch)
	j.refreshCh = nil
	j.refreshMu.Unlock()
	return err
}

func (j *jwks) fetch(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, jwksFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return err
	}
	resp, err := j.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New("jwks fetch failed")
	}

	var payload struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}
	keys := make(map[string]*rsa.PublicKey, len(payload.Keys))
	for _, key := range payload.Keys {
		if key.Kty != "RSA" || key.Kid == "" {
			continue
		}
		pub, err := rsaPublicKey(key.N, key.E)
		if err != nil {
			continue
		}
		keys[key.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks contains no usable keys")
	}

	now := j.now()
	j.mu.Lock()
	j.keys = keys
	j.expiresAt = now.Add(jwksCacheTTL)
	j.staleUntil = j.expiresAt.Add(jwksMaxStale)
	j.mu.Unlock()
	return nil
}

func rsaPublicKey(nRaw, eRaw string) (*rsa.PublicKey, error) {
	if nRaw == "" || eRaw == "" {
		return nil, errors.New("missing rsa params")
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(nRaw)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eRaw)
	if err != nil {
		return nil, err
	}
	e := new(big.Int).SetBytes(eBytes).Int64()
	if e <= 0 || e > int64(^uint32(0)) {
		return nil, errors.New("invalid rsa exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e)}, nil
}
