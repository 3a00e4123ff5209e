package domain

import "time"

type RevocationReason string

const (
	RevocationReasonUserLogout        RevocationReason = "USER_LOGOUT"
	RevocationReasonAccountDeletion   RevocationReason = "ACCOUNT_DELETION"
	RevocationReasonAccountSuspension RevocationReason = "ACCOUNT_SUSPENSION"
	RevocationReasonKeyCompromise     RevocationReason = "KEY_COMPROMISE"
	RevocationReasonAdminAction       RevocationReason = "ADMIN_ACTION"
)

func ValidRevocationReason(reason RevocationReason) bool {
	switch reason {
	case RevocationReasonUserLogout, RevocationReasonAccountDeletion,
		RevocationReasonAccountSuspension, RevocationReasonKeyCompromise,
		RevocationReasonAdminAction:
		return true
	default:
		return false
	}
}

// RevocationEntry records a single blacklisted token. TokenRef is a salted
// hash of the token identifier, never the raw token. ExpiresAt comes from the
// token's own claims so the entry can be dropped once the token could not
// have been valid anyway.
type RevocationEntry struct {
	TokenRef  string
	UserID    string
	RevokedAt time.Time
	ExpiresAt time.Time
	Reason    RevocationReason
}

func (e RevocationEntry) Validate() error {
	if e.TokenRef == "" {
		return ErrTokenRefRequired
	}
	if !ValidRevocationReason(e.Reason) {
		return ErrInvalidRevocationReason
	}
	if e.ExpiresAt.Before(e.RevokedAt) {
		return ErrRevocationExpiryBeforeRevocation
	}
	return nil
}

// TokenRecord is an outstanding token known to the token index, enough to
// blacklist it without holding the raw token.
type TokenRecord struct {
	Ref       string
	UserID    string
	KeyID     string
	ExpiresAt time.Time
	Refresh   bool
}

// Suspension gates re-authentication for a suspended account.
type Suspension struct {
	UserID         string
	SuspendedAt    time.Time
	SuspendedUntil time.Time
	Reason         string
}

// CanLogin reports whether the suspension window has elapsed.
func (s Suspension) CanLogin(now time.Time) bool {
	return now.After(s.SuspendedUntil)
}
