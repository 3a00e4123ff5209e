package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrRoleMissing = errors.New("oidc: required role missing")

// AdminIdentity is the authenticated operator behind an admin request.
type AdminIdentity struct {
	Subject string
	Roles   []string
}

// Authenticator verifies RS256 bearer tokens issued by the operator identity
// provider, as an alternative to the static admin API key.
type Authenticator struct {
	Issuer       string
	Audience     string
	RequiredRole string
	jwks         *jwks
	now          func() time.Time
}

func NewAuthenticator(issuer, jwksURL, audience, requiredRole string, httpClient *http.Client) *Authenticator {
	return &Authenticator{
		Issuer:       issuer,
		Audience:     audience,
		RequiredRole: requiredRole,
		jwks:         newJWKS(jwksURL, httpClient),
		now:          time.Now,
	}
}

type adminClaims struct {
	jwt.RegisteredClaims
	Roles       []string `json:"roles"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// Verify parses and validates the bearer token then checks the role claim.
func (a *Authenticator) Verify(ctx context.Context, rawToken string) (*AdminIdentity, error) {
	var claims adminClaims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithIssuer(a.Issuer),
	}
	if a.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.Audience))
	}
	_, err := jwt.ParseWithClaims(rawToken, &claims, func(tok *jwt.Token) (any, error) {
		kid, _ := tok.Header["kid"].(string)
		return a.jwks.key(ctx, kid)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("oidc: %w", err)
	}

	roles := claims.Roles
	if len(roles) == 0 {
		roles = claims.RealmAccess.Roles
	}
	if a.RequiredRole != "" && !contains(roles, a.RequiredRole) {
		return nil, ErrRoleMissing
	}
	return &AdminIdentity{Subject: claims.Subject, Roles: roles}, nil
}

func contains(roles []string, want string) bool {
	for _, role := range roles {
		if role == want {
			return true
		}
	}
	return false
}
