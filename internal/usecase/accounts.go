package usecase

import (
	"context"
	"errors"
	"time"

	"keystone/internal/domain"
)

// AccountManager handles the account-level revocation flows: logout,
// deletion, and suspension. Each flow blacklists every outstanding token of
// the user and appends its audit event before returning.
type AccountManager struct {
	Ledger      RevocationLedger
	Tokens      TokenIndex
	Archiver    Archiver
	Suspensions SuspensionStore
	Audit       *AuditEmitter
	Clock       Clock
}

// RevokeToken blacklists a single token reference.
func (m *AccountManager) RevokeToken(ctx context.Context, tokenRef string, expiresAt time.Time, reason domain.RevocationReason, actor string) error {
	entry := domain.RevocationEntry{
		TokenRef:  tokenRef,
		RevokedAt: m.now(),
		ExpiresAt: expiresAt,
		Reason:    reason,
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	if err := m.Ledger.Revoke(ctx, entry); err != nil {
		return err
	}
	return m.Audit.EmitTokenRevoked(ctx, domain.AuditActorAdminAPIKey, actor, tokenRef, reason)
}

// RevokeAllForUser blacklists every outstanding token of the user and
// returns how many were revoked.
func (m *AccountManager) RevokeAllForUser(ctx context.Context, userID string, reason domain.RevocationReason) (int, error) {
	records, err := m.Tokens.OutstandingByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	now := m.now()
	for _, record := range records {
		entry := domain.RevocationEntry{
			TokenRef:  record.Ref,
			UserID:    userID,
			RevokedAt: now,
			ExpiresAt: record.ExpiresAt,
			Reason:    reason,
		}
		if err := m.Ledger.Revoke(ctx, entry); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

// DeleteAccount revokes every outstanding token, hands user data to the
// external archiver, and audits the deletion.
func (m *AccountManager) DeleteAccount(ctx context.Context, userID string, actor string) error {
	revoked, err := m.RevokeAllForUser(ctx, userID, domain.RevocationReasonAccountDeletion)
	if err != nil {
		return err
	}
	if m.Archiver != nil {
		if err := m.Archiver.ArchiveUserData(ctx, userID); err != nil {
			return err
		}
	}
	return m.Audit.EmitAccountDeleted(ctx, domain.AuditActorAdminAPIKey, actor, userID, revoked)
}

// Suspend revokes the user's tokens and records the suspension window that
// gates re-authentication.
func (m *AccountManager) Suspend(ctx context.Context, userID string, until time.Time, reason string, actor string) (*domain.Suspension, error) {
	revoked, err := m.RevokeAllForUser(ctx, userID, domain.RevocationReasonAccountSuspension)
	if err != nil {
		return nil, err
	}
	suspension := domain.Suspension{
		UserID:         userID,
		SuspendedAt:    m.now(),
		SuspendedUntil: until,
		Reason:         reason,
	}
	if m.Suspensions != nil {
		if err := m.Suspensions.SaveSuspension(ctx, suspension); err != nil {
			return nil, err
		}
	}
	if err := m.Audit.EmitAccountSuspended(ctx, domain.AuditActorAdminAPIKey, actor, suspension, revoked); err != nil {
		return nil, err
	}
	return &suspension, nil
}

// CanLogin is the re-authentication gate: false while a suspension window
// is still open.
func (m *AccountManager) CanLogin(ctx context.Context, userID string) (bool, error) {
	if m.Suspensions == nil {
		return true, nil
	}
	suspension, err := m.Suspensions.GetSuspension(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	if suspension == nil {
		return true, nil
	}
	return suspension.CanLogin(m.now()), nil
}

func (m *AccountManager) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now().UTC()
}
