package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keystone/internal/domain"
	"keystone/internal/usecase"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Signer signs and verifies HMAC JWTs against registry keys. The signature
// primitive comes from golang-jwt; nothing cryptographic is reimplemented.
type Signer struct {
	Now func() time.Time
}

var _ usecase.TokenSigner = (*Signer)(nil)

var signingMethods = map[domain.KeyAlgorithm]jwt.SigningMethod{
	domain.KeyAlgorithmHS256: jwt.SigningMethodHS256,
	domain.KeyAlgorithmHS384: jwt.SigningMethodHS384,
	domain.KeyAlgorithmHS512: jwt.SigningMethodHS512,
}

func (s *Signer) method(alg domain.KeyAlgorithm) (jwt.SigningMethod, error) {
	m, ok := signingMethods[alg]
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
	return m, nil
}

func (s *Signer) Sign(ctx context.Context, key *domain.SigningKey, claims map[string]any) (string, error) {
	method, err := s.method(key.Algorithm)
	if err != nil {
		return "", err
	}
	mapClaims := jwt.MapClaims{}
	for k, v := range claims {
		mapClaims[k] = v
	}
	tok := jwt.NewWithClaims(method, mapClaims)
	tok.Header["kid"] = key.ID
	return tok.SignedString(key.Secret)
}

func (s *Signer) Verify(ctx context.Context, key *domain.SigningKey, token string) (usecase.TokenClaims, error) {
	method, err := s.method(key.Algorithm)
	if err != nil {
		return usecase.TokenClaims{}, err
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return key.Secret, nil },
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return usecase.TokenClaims{}, err
	}
	if !parsed.Valid {
		return usecase.TokenClaims{}, jwt.ErrTokenSignatureInvalid
	}

	out := usecase.TokenClaims{}
	if jti, _ := claims["jti"].(string); jti != "" {
		out.TokenID = jti
	}
	if sub, _ := claims["sub"].(string); sub != "" {
		out.UserID = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// KeyID reads the kid header without verifying the signature. Callers use it
// to pick the candidate key; verification always follows.
func (s *Signer) KeyID(token string) (string, error) {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", err
	}
	kid, _ := parsed.Header["kid"].(string)
	if kid == "" {
		return "", errors.New("token has no kid header")
	}
	return kid, nil
}

// SelfTest signs and verifies a synthetic token with the key before the key
// is allowed anywhere near production traffic.
func (s *Signer) SelfTest(ctx context.Context, key *domain.SigningKey) error {
	now := s.now()
	probe := map[string]any{
		"jti": "selftest-" + uuid.NewString(),
		"sub": "selftest",
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	}
	signed, err := s.Sign(ctx, key, probe)
	if err != nil {
		return &domain.KeySelfTestError{KeyID: key.ID, Err: err}
	}
	claims, err := s.Verify(ctx, key, signed)
	if err != nil {
		return &domain.KeySelfTestError{KeyID: key.ID, Err: err}
	}
	if claims.TokenID != probe["jti"] {
		return &domain.KeySelfTestError{KeyID: key.ID, Err: errors.New("round-trip claims mismatch")}
	}
	kid, err := s.KeyID(signed)
	if err != nil || kid != key.ID {
		return &domain.KeySelfTestError{KeyID: key.ID, Err: errors.New("kid header mismatch")}
	}
	return nil
}

func (s *Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
