package domain

import "time"

type KeyAlgorithm string

const (
	KeyAlgorithmHS256 KeyAlgorithm = "HMAC-SHA256"
	KeyAlgorithmHS384 KeyAlgorithm = "HMAC-SHA384"
	KeyAlgorithmHS512 KeyAlgorithm = "HMAC-SHA512"
)

// MinKeyStrengthBits is the smallest secret size accepted for new signing keys.
const MinKeyStrengthBits = 256

type KeyStatus string

const (
	KeyStatusPending         KeyStatus = "PENDING"
	KeyStatusActivePrimary   KeyStatus = "ACTIVE_PRIMARY"
	KeyStatusActiveSecondary KeyStatus = "ACTIVE_SECONDARY"
	KeyStatusRetired         KeyStatus = "RETIRED"
	KeyStatusArchived        KeyStatus = "ARCHIVED"
	KeyStatusCompromised     KeyStatus = "COMPROMISED"
)

type AccessLevel string

const (
	AccessLevelStandard  AccessLevel = "STANDARD"
	AccessLevelAuditOnly AccessLevel = "AUDIT_ONLY"
)

type SigningKey struct {
	ID           string
	Algorithm    KeyAlgorithm
	StrengthBits int
	Status       KeyStatus
	AccessLevel  AccessLevel
	Secret       []byte
	CreatedAt    time.Time
	ExpiresAt    *time.Time
	RetiredAt    *time.Time
}

// keyTransitions is the full lifecycle table. COMPROMISED is reachable from
// every non-archived state and is terminal except for archival.
var keyTransitions = map[KeyStatus][]KeyStatus{
	KeyStatusPending:         {KeyStatusActivePrimary, KeyStatusCompromised},
	KeyStatusActivePrimary:   {KeyStatusActiveSecondary, KeyStatusRetired, KeyStatusCompromised},
	KeyStatusActiveSecondary: {KeyStatusRetired, KeyStatusCompromised},
	KeyStatusRetired:         {KeyStatusArchived, KeyStatusCompromised},
	KeyStatusCompromised:     {KeyStatusArchived},
	KeyStatusArchived:        {},
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s KeyStatus) CanTransition(next KeyStatus) bool {
	for _, allowed := range keyTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Validates reports whether tokens signed with this key may still verify.
func (k *SigningKey) Validates() bool {
	if k == nil {
		return false
	}
	return k.Status == KeyStatusActivePrimary || k.Status == KeyStatusActiveSecondary
}

func SupportedAlgorithm(alg KeyAlgorithm) bool {
	switch alg {
	case KeyAlgorithmHS256, KeyAlgorithmHS384, KeyAlgorithmHS512:
		return true
	default:
		return false
	}
}

// ValidationKeySet is an immutable snapshot of the keys the verification
// service may accept. Secondary is nil outside a dual-key window.
type ValidationKeySet struct {
	Primary   *SigningKey
	Secondary *SigningKey
}

// ByKID returns the snapshot member with the given key id, or nil.
func (v *ValidationKeySet) ByKID(kid string) *SigningKey {
	if v == nil {
		return nil
	}
	if v.Primary != nil && v.Primary.ID == kid {
		return v.Primary
	}
	if v.Secondary != nil && v.Secondary.ID == kid {
		return v.Secondary
	}
	return nil
}
