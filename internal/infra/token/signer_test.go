package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"keystone/internal/domain"
)

func hmacKey(id string, alg domain.KeyAlgorithm) *domain.SigningKey {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}
	return &domain.SigningKey{
		ID:           id,
		Algorithm:    alg,
		StrengthBits: 256,
		Status:       domain.KeyStatusActivePrimary,
		Secret:       secret,
	}
}

func fixedSigner() *Signer {
	return &Signer{Now: func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	s := fixedSigner()
	key := hmacKey("key_prod_001", domain.KeyAlgorithmHS256)

	signed, err := s.Sign(context.Background(), key, map[string]any{
		"jti": "tok-1",
		"sub": "user-42",
		"exp": time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC).Unix(),
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	claims, err := s.Verify(context.Background(), key, signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.TokenID != "tok-1" || claims.UserID != "user-42" {
		t.Fatalf("claims = %+v", claims)
	}
	if !claims.ExpiresAt.Equal(time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)) {
		t.Fatalf("exp = %v", claims.ExpiresAt)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	s := fixedSigner()
	signed, err := s.Sign(context.Background(), hmacKey("key_prod_001", domain.KeyAlgorithmHS256), map[string]any{
		"jti": "tok-1",
		"exp": time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC).Unix(),
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	other := hmacKey("key_prod_002", domain.KeyAlgorithmHS256)
	other.Secret[0] ^= 0xff
	if _, err := s.Verify(context.Background(), other, signed); err == nil {
		t.Fatal("Verify accepted a token signed with different key material")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	s := fixedSigner()
	key := hmacKey("key_prod_001", domain.KeyAlgorithmHS256)
	signed, err := s.Sign(context.Background(), key, map[string]any{
		"jti": "tok-1",
		"exp": time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC).Unix(),
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := s.Verify(context.Background(), key, signed); err == nil {
		t.Fatal("Verify accepted an expired token")
	}
}

func TestKeyIDReadsKidHeader(t *testing.T) {
	s := fixedSigner()
	signed, err := s.Sign(context.Background(), hmacKey("key_prod_007", domain.KeyAlgorithmHS384), map[string]any{
		"jti": "tok-1",
		"exp": time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC).Unix(),
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	kid, err := s.KeyID(signed)
	if err != nil {
		t.Fatalf("KeyID: %v", err)
	}
	if kid != "key_prod_007" {
		t.Fatalf("kid = %q, want key_prod_007", kid)
	}
}

func TestKeyIDRejectsMalformedToken(t *testing.T) {
	s := fixedSigner()
	if _, err := s.KeyID("not-a-jwt"); err == nil {
		t.Fatal("KeyID accepted a malformed token")
	}
}

func TestSelfTestCoversAllAlgorithms(t *testing.T) {
	s := fixedSigner()
	for _, alg := range []domain.KeyAlgorithm{
		domain.KeyAlgorithmHS256,
		domain.KeyAlgorithmHS384,
		domain.KeyAlgorithmHS512,
	} {
		if err := s.SelfTest(context.Background(), hmacKey("key-"+string(alg), alg)); err != nil {
			t.Fatalf("SelfTest(%s): %v", alg, err)
		}
	}
}

func TestSelfTestRejectsUnsupportedAlgorithm(t *testing.T) {
	s := fixedSigner()
	key := hmacKey("key_prod_001", domain.KeyAlgorithm("RSA-2048"))
	err := s.SelfTest(context.Background(), key)
	var selfTest *domain.KeySelfTestError
	if !errors.As(err, &selfTest) {
		t.Fatalf("error = %v, want KeySelfTestError", err)
	}
	if selfTest.KeyID != "key_prod_001" {
		t.Fatalf("KeyID = %q", selfTest.KeyID)
	}
}

func TestHealthCryptographicIntegrity(t *testing.T) {
	h := &Health{Signer: fixedSigner()}
	key := hmacKey("key_prod_001", domain.KeyAlgorithmHS256)
	if err := h.CryptographicIntegrity(context.Background(), domain.TierValidation, key); err != nil {
		t.Fatalf("CryptographicIntegrity: %v", err)
	}
	if err := h.TestTokenValidation(context.Background(), domain.TierAPI, key); err != nil {
		t.Fatalf("TestTokenValidation: %v", err)
	}
}
