package usecase

import (
	"context"
	"time"

	"keystone/internal/domain"
)

type Clock func() time.Time

// KeyRegistry is the single source of truth for which keys may sign or
// validate tokens. Mutations are serialized by the implementation;
// CurrentValidationKeys is a linearizable read.
type KeyRegistry interface {
	Generate(ctx context.Context, algorithm domain.KeyAlgorithm, strengthBits int) (*domain.SigningKey, error)
	Promote(ctx context.Context, keyID string, immediateRetire bool) error
	Retire(ctx context.Context, keyID string) error
	Archive(ctx context.Context, keyID string) error
	MarkCompromised(ctx context.Context, keyID string) error
	Get(ctx context.Context, keyID string) (*domain.SigningKey, error)
	CurrentValidationKeys(ctx context.Context) (*domain.ValidationKeySet, error)
}

// RevocationLedger answers "is this token usable" independent of key status.
// IsRevoked sits on the token-verification hot path.
type RevocationLedger interface {
	Revoke(ctx context.Context, entry domain.RevocationEntry) error
	IsRevoked(ctx context.Context, tokenRef string) (bool, error)
	Cleanup(ctx context.Context, now time.Time) (int, error)
}

// Deployer rolls a key out across the ordered service tiers with health
// gating and rollback.
type Deployer interface {
	Deploy(ctx context.Context, key *domain.SigningKey) (*domain.DeploymentRecord, error)
}

// TokenSigner wraps the HMAC sign/verify primitive. The primitive is
// invoked, never reimplemented here.
type TokenSigner interface {
	Sign(ctx context.Context, key *domain.SigningKey, claims map[string]any) (string, error)
	Verify(ctx context.Context, key *domain.SigningKey, token string) (TokenClaims, error)
	KeyID(token string) (string, error)
	SelfTest(ctx context.Context, key *domain.SigningKey) error
}

// TokenClaims is the subset of token claims this subsystem reads.
type TokenClaims struct {
	TokenID   string
	UserID    string
	ExpiresAt time.Time
}

// TokenIndex enumerates outstanding tokens by user or signing key, by
// reference only. The session store owning the raw tokens is external.
type TokenIndex interface {
	OutstandingByUser(ctx context.Context, userID string) ([]domain.TokenRecord, error)
	OutstandingByKey(ctx context.Context, keyID string) ([]domain.TokenRecord, error)
}

// SessionTerminator broadcasts a global forced re-login. Irreversible once
// invoked.
type SessionTerminator interface {
	ForceReauthentication(ctx context.Context, reason string) error
}

// Archiver records an archival copy of user data before account deletion.
type Archiver interface {
	ArchiveUserData(ctx context.Context, userID string) error
}

type SuspensionStore interface {
	SaveSuspension(ctx context.Context, suspension domain.Suspension) error
	GetSuspension(ctx context.Context, userID string) (*domain.Suspension, error)
}

// AuditEventRepository is append-only. Append assigns Seq and the chain
// hashes; a persistence failure must propagate so the audited operation
// aborts.
type AuditEventRepository interface {
	Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error)
	List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error)
}

// DeploymentRecorder persists deployment outcomes for incident review.
type DeploymentRecorder interface {
	SaveDeployment(ctx context.Context, record domain.DeploymentRecord) error
}

// PolicyEngine gates audit and compliance reads by role.
type PolicyEngine interface {
	Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyEvaluation, error)
}
