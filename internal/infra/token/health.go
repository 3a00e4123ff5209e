package token

import (
	"context"
	"crypto/hmac"
	"errors"
	"time"

	"keystone/internal/domain"
)

// Health implements the per-tier deployment health gate with real signing
// operations against the candidate key.
type Health struct {
	Signer *Signer
}

// TestTokenGeneration signs a synthetic token with the candidate key.
func (h *Health) TestTokenGeneration(ctx context.Context, tier domain.TierName, key *domain.SigningKey) error {
	_, err := h.Signer.Sign(ctx, key, h.probeClaims(tier))
	return err
}

// TestTokenValidation signs then verifies a synthetic token, exercising the
// full accept path a tier runs on live traffic.
func (h *Health) TestTokenValidation(ctx context.Context, tier domain.TierName, key *domain.SigningKey) error {
	signed, err := h.Signer.Sign(ctx, key, h.probeClaims(tier))
	if err != nil {
		return err
	}
	_, err = h.Signer.Verify(ctx, key, signed)
	return err
}

// CryptographicIntegrity checks that two independent signings of the same
// payload agree and that a token signed with different key material is
// rejected. A mismatch means corrupted key distribution.
func (h *Health) CryptographicIntegrity(ctx context.Context, tier domain.TierName, key *domain.SigningKey) error {
	claims := h.probeClaims(tier)
	first, err := h.Signer.Sign(ctx, key, claims)
	if err != nil {
		return err
	}
	second, err := h.Signer.Sign(ctx, key, claims)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(first), []byte(second)) {
		return errors.New("non-deterministic signature for identical payload")
	}

	tampered := *key
	tampered.Secret = append([]byte(nil), key.Secret...)
	tampered.Secret[0] ^= 0xff
	if _, err := h.Signer.Verify(ctx, &tampered, first); err == nil {
		return errors.New("signature verified under altered key material")
	}
	return nil
}

func (h *Health) probeClaims(tier domain.TierName) map[string]any {
	now := h.Signer.now()
	return map[string]any{
		"jti": "healthcheck-" + string(tier),
		"sub": "healthcheck",
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	}
}
