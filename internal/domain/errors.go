package domain

import (
	"errors"
	"fmt"
)

var (
	ErrKeyNotFound                      = errors.New("key not found")
	ErrKeyNotPending                    = errors.New("key is not pending")
	ErrKeyArchived                      = errors.New("key is archived")
	ErrStillPrimary                     = errors.New("key is still the active primary")
	ErrNoActivePrimary                  = errors.New("no active primary key")
	ErrRotationInProgress               = errors.New("a rotation is already in progress")
	ErrRotationFailedTerminal           = errors.New("rotation is in the failed terminal state")
	ErrIllegalPhaseTransition           = errors.New("illegal rotation phase transition")
	ErrTokenRefRequired                 = errors.New("token ref is required")
	ErrInvalidRevocationReason          = errors.New("invalid revocation reason")
	ErrRevocationExpiryBeforeRevocation = errors.New("revocation expiry precedes revocation time")
	ErrUnauthorized                     = errors.New("unauthorized")
	ErrForbidden                        = errors.New("forbidden")
	ErrNotFound                         = errors.New("not found")
)

// WeakKeyError rejects key generation parameters before anything is mutated.
type WeakKeyError struct {
	Algorithm    KeyAlgorithm
	StrengthBits int
}

func (e *WeakKeyError) Error() string {
	if !SupportedAlgorithm(e.Algorithm) {
		return fmt.Sprintf("unsupported key algorithm %q", e.Algorithm)
	}
	return fmt.Sprintf("key strength %d bits below minimum %d", e.StrengthBits, MinKeyStrengthBits)
}

// KeySelfTestError means a freshly generated key failed its sign/verify
// round trip and must not be deployed.
type KeySelfTestError struct {
	KeyID string
	Err   error
}

func (e *KeySelfTestError) Error() string {
	return fmt.Sprintf("key %s failed self-test: %v", e.KeyID, e.Err)
}

func (e *KeySelfTestError) Unwrap() error { return e.Err }

// HealthCheckError is a failed (or timed-out) health check on one tier. It
// triggers rollback of the in-flight deployment but is not fatal to the
// system.
type HealthCheckError struct {
	Tier  TierName
	Check string
	Err   error
}

func (e *HealthCheckError) Error() string {
	return fmt.Sprintf("tier %s health check %s failed: %v", e.Tier, e.Check, e.Err)
}

func (e *HealthCheckError) Unwrap() error { return e.Err }

// ConsistencyError means the tiers report different key versions after a
// deployment that passed its individual health checks. It is treated as a
// failed deployment and raises a CRITICAL alert.
type ConsistencyError struct {
	Versions map[TierName]string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("cross-tier key version mismatch: %v", e.Versions)
}

// RollbackError is fatal: an already-updated tier could not be restored to
// its pre-deployment key version. The system cannot self-heal from it.
type RollbackError struct {
	Tier TierName
	Err  error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of tier %s failed: %v", e.Tier, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }
