package usecase

import (
	"context"
	"errors"

	"keystone/internal/domain"
)

// TokenVerifier is the boundary operation consumed by the external
// authentication service. A token is valid only when its signing key is
// ACTIVE_PRIMARY or ACTIVE_SECONDARY, its signature verifies, and its
// reference is absent from the revocation ledger.
type TokenVerifier struct {
	Registry KeyRegistry
	Ledger   RevocationLedger
	Signer   TokenSigner
	RefSalt  string
	Clock    Clock
}

// Rejection reasons reported back to the caller.
const (
	VerifyReasonUnknownKey     = "UNKNOWN_KEY"
	VerifyReasonKeyCompromised = "KEY_COMPROMISED"
	VerifyReasonKeyInactive    = "KEY_INACTIVE"
	VerifyReasonBadSignature   = "BAD_SIGNATURE"
	VerifyReasonRevoked        = "TOKEN_REVOKED"
	VerifyReasonMalformed      = "MALFORMED_TOKEN"
)

type VerifyResult struct {
	Valid  bool   `json:"valid"`
	KeyID  string `json:"key_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (v *TokenVerifier) Verify(ctx context.Context, token string) (VerifyResult, error) {
	kid, err := v.Signer.KeyID(token)
	if err != nil {
		return VerifyResult{Reason: VerifyReasonMalformed}, nil
	}

	keys, err := v.Registry.CurrentValidationKeys(ctx)
	if err != nil {
		return VerifyResult{}, err
	}
	key := keys.ByKID(kid)
	if key == nil {
		// The kid may reference a known but no longer accepted key; a
		// compromised key gets its own rejection reason.
		if known, kerr := v.Registry.Get(ctx, kid); kerr == nil {
			if known.Status == domain.KeyStatusCompromised {
				return VerifyResult{KeyID: kid, Reason: VerifyReasonKeyCompromised}, nil
			}
			return VerifyResult{KeyID: kid, Reason: VerifyReasonKeyInactive}, nil
		} else if !errors.Is(kerr, domain.ErrKeyNotFound) {
			return VerifyResult{}, kerr
		}
		return VerifyResult{KeyID: kid, Reason: VerifyReasonUnknownKey}, nil
	}

	claims, err := v.Signer.Verify(ctx, key, token)
	if err != nil {
		return VerifyResult{KeyID: kid, Reason: VerifyReasonBadSignature}, nil
	}

	revoked, err := v.Ledger.IsRevoked(ctx, TokenRef(v.RefSalt, claims.TokenID))
	if err != nil {
		return VerifyResult{}, err
	}
	if revoked {
		return VerifyResult{KeyID: kid, Reason: VerifyReasonRevoked}, nil
	}
	return VerifyResult{Valid: true, KeyID: kid}, nil
}

// TokenRef derives the ledger reference for a token id: a salted hash so
// the raw identifier is never stored.
func TokenRef(salt, tokenID string) string {
	return sha256HexString([]byte(salt + ":" + tokenID))
}
