package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"keystone/internal/domain"

	"go.uber.org/zap"
)

// RotationController drives the graceful and emergency rotation state
// machines. At most one rotation is in flight at a time; a concurrent
// request is rejected with ErrRotationInProgress rather than queued. Every
// phase is retried at most once; a second failure parks the machine in the
// FAILED terminal state, which requires Acknowledge before any new rotation
// may start.
type RotationController struct {
	Registry KeyRegistry
	Deployer Deployer
	Ledger   RevocationLedger
	Tokens   TokenIndex
	Signer   TokenSigner
	Audit    *AuditEmitter
	Notifier domain.NotificationDispatcher
	Sessions SessionTerminator
	Clock    Clock
	Log      *zap.Logger

	Algorithm     domain.KeyAlgorithm
	StrengthBits  int
	DualKeyWindow time.Duration

	mu      sync.Mutex
	current *rotationState
}

type rotationState struct {
	rotation     *domain.Rotation
	oldKeyID     string
	newKey       *domain.SigningKey
	windowEnds   time.Time
	irreversible bool
}

// RotationStatus is a read-only snapshot of a rotation instance.
type RotationStatus struct {
	ID         string               `json:"id"`
	Mode       domain.RotationMode  `json:"mode"`
	Phase      domain.RotationPhase `json:"phase"`
	Reason     string               `json:"reason"`
	OldKeyID   string               `json:"old_key_id,omitempty"`
	NewKeyID   string               `json:"new_key_id,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	WindowEnds time.Time            `json:"window_ends,omitzero"`
}

const defaultDualKeyWindow = 7 * 24 * time.Hour

// Graceful runs a scheduled rotation up to the dual-key period. The parked
// dual-key window is closed later by AdvanceDueRotations; until then the
// rotation counts as in flight.
func (c *RotationController) Graceful(ctx context.Context, reason string) (*RotationStatus, error) {
	st, err := c.begin(domain.RotationModeGraceful, reason)
	if err != nil {
		return nil, err
	}
	if err := c.announce(ctx, st); err != nil {
		return nil, err
	}

	err = c.runPhase(ctx, st, domain.PhaseKeyGenerated, func(ctx context.Context) error {
		return c.generateAndSelfTest(ctx, st)
	})
	if err != nil {
		return nil, err
	}

	err = c.runPhase(ctx, st, domain.PhaseDeploying, func(ctx context.Context) error {
		return c.deployAndPromote(ctx, st, false)
	})
	if err != nil {
		return nil, err
	}

	err = c.runPhase(ctx, st, domain.PhaseDualKeyPeriod, func(ctx context.Context) error {
		window := c.DualKeyWindow
		if window <= 0 {
			window = defaultDualKeyWindow
		}
		c.mu.Lock()
		st.windowEnds = c.now().Add(window)
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.snapshotStatus(st), nil
}

// AdvanceDueRotations retires and archives the outgoing key of a graceful
// rotation whose dual-key window has elapsed. Safe to call from a
// background ticker; it is a no-op when nothing is due.
func (c *RotationController) AdvanceDueRotations(ctx context.Context, now time.Time) error {
	c.mu.Lock()
	st := c.current
	due := st != nil && st.rotation.Mode == domain.RotationModeGraceful &&
		st.rotation.Phase() == domain.PhaseDualKeyPeriod && !now.Before(st.windowEnds)
	c.mu.Unlock()
	if !due {
		return nil
	}

	err := c.runPhase(ctx, st, domain.PhaseRetiring, func(ctx context.Context) error {
		if st.oldKeyID == "" {
			return nil
		}
		return c.Registry.Retire(ctx, st.oldKeyID)
	})
	if err != nil {
		return err
	}

	err = c.runPhase(ctx, st, domain.PhaseArchived, func(ctx context.Context) error {
		if st.oldKeyID == "" {
			return nil
		}
		return c.Registry.Archive(ctx, st.oldKeyID)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	st.rotation.EndedAt = c.now()
	c.mu.Unlock()
	duration := st.rotation.EndedAt.Sub(st.rotation.StartedAt)
	if err := c.Audit.EmitKeyRotation(ctx, st.rotation.ID, st.newKey.ID, st.oldKeyID, duration, domain.AuditResultSuccess, ""); err != nil {
		return fmt.Errorf("audit append failed: %w", err)
	}
	c.logger().Info("graceful rotation completed",
		zap.String("rotation_id", st.rotation.ID),
		zap.String("new_kid", st.newKey.ID),
		zap.String("retired_kid", st.oldKeyID),
		zap.Duration("duration", duration))
	return nil
}

// Emergency responds to a compromise signal on keyID: revoke the key with
// no grace period, logically invalidate its tokens, deploy a replacement,
// notify users, and force a global re-login.
func (c *RotationController) Emergency(ctx context.Context, keyID string, reason string) (*RotationStatus, error) {
	key, err := c.Registry.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key.Status == domain.KeyStatusArchived {
		return nil, domain.ErrKeyArchived
	}

	st, err := c.begin(domain.RotationModeEmergency, reason)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	st.oldKeyID = keyID
	c.mu.Unlock()
	if err := c.announce(ctx, st); err != nil {
		return nil, err
	}

	err = c.runPhase(ctx, st, domain.PhaseKeyRevoked, func(ctx context.Context) error {
		if err := c.Registry.MarkCompromised(ctx, keyID); err != nil {
			return err
		}
		return c.Audit.EmitKeyCompromised(ctx, domain.AuditActorSystem, "", keyID, reason)
	})
	if err != nil {
		return nil, err
	}

	var affectedTokens int
	err = c.runPhase(ctx, st, domain.PhaseTokensInvalidated, func(ctx context.Context) error {
		count, err := c.invalidateTokens(ctx, keyID)
		if err != nil {
			return err
		}
		affectedTokens = count
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = c.runPhase(ctx, st, domain.PhaseNewKeyDeployed, func(ctx context.Context) error {
		if err := c.generateAndSelfTest(ctx, st); err != nil {
			return err
		}
		return c.deployAndPromote(ctx, st, true)
	})
	if err != nil {
		return nil, err
	}

	// From here on external side effects are irreversible; the machine must
	// run to a terminal state and can no longer be cancelled.
	c.mu.Lock()
	st.irreversible = true
	c.mu.Unlock()

	err = c.runPhase(ctx, st, domain.PhaseUsersNotified, func(ctx context.Context) error {
		if c.Notifier == nil {
			return nil
		}
		return c.Notifier.Dispatch(ctx, domain.Notification{
			Severity:       domain.NotificationSeverityCritical,
			Reason:         reason,
			KeyID:          keyID,
			AffectedTokens: affectedTokens,
			Actions: []string{
				domain.ActionReauthenticate,
				domain.ActionChangePassword,
				domain.ActionReviewActivity,
			},
			Message:   "a signing key was replaced after a suspected compromise; re-authentication is required",
			CreatedAt: c.now(),
		})
	})
	if err != nil {
		return nil, err
	}

	err = c.runPhase(ctx, st, domain.PhaseForcedRelogin, func(ctx context.Context) error {
		if c.Sessions == nil {
			return nil
		}
		return c.Sessions.ForceReauthentication(ctx, reason)
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	st.rotation.EndedAt = c.now()
	c.mu.Unlock()
	duration := st.rotation.EndedAt.Sub(st.rotation.StartedAt)
	if err := c.Audit.EmitEmergencyRotation(ctx, st.rotation.ID, reason, keyID, st.newKey.ID, affectedTokens, duration, domain.AuditResultSuccess, ""); err != nil {
		return nil, fmt.Errorf("audit append failed: %w", err)
	}
	c.logger().Warn("emergency rotation completed",
		zap.String("rotation_id", st.rotation.ID),
		zap.String("compromised_kid", keyID),
		zap.String("new_kid", st.newKey.ID),
		zap.Int("affected_tokens", affectedTokens))
	return c.snapshotStatus(st), nil
}

// Cancel aborts the in-flight rotation unless irreversible side effects
// (user notification, forced re-login) have already begun.
func (c *RotationController) Cancel(ctx context.Context) error {
	c.mu.Lock()
	st := c.current
	if st == nil || st.rotation.Terminal() {
		c.mu.Unlock()
		return domain.ErrNotFound
	}
	if st.irreversible {
		c.mu.Unlock()
		return errors.New("rotation can no longer be cancelled")
	}
	cancelledAt := st.rotation.Phase()
	st.rotation.Fail()
	c.current = nil
	c.mu.Unlock()

	return c.Audit.EmitRotationFailed(ctx, st.rotation.ID, st.rotation.Mode, cancelledAt, "CANCELLED")
}

// Acknowledge clears a FAILED rotation after manual intervention, allowing
// new rotations to start.
func (c *RotationController) Acknowledge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.rotation.Phase() != domain.PhaseFailed {
		return domain.ErrNotFound
	}
	c.current = nil
	return nil
}

// Current returns the status of the most recent rotation, or nil.
func (c *RotationController) Current() *RotationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.status(c.current)
}

func (c *RotationController) begin(mode domain.RotationMode, reason string) (*rotationState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		if c.current.rotation.Phase() == domain.PhaseFailed {
			return nil, domain.ErrRotationFailedTerminal
		}
		if !c.current.rotation.Terminal() {
			return nil, domain.ErrRotationInProgress
		}
	}
	now := c.now()
	st := &rotationState{
		rotation: domain.NewRotation(rotationID(mode, now), mode, reason, now),
	}
	c.current = st
	return st, nil
}

func (c *RotationController) announce(ctx context.Context, st *rotationState) error {
	c.mu.Lock()
	phase := st.rotation.Phase()
	c.mu.Unlock()
	err := c.Audit.EmitRotationPhase(ctx, st.rotation.ID, st.rotation.Mode, phase, 0, domain.AuditResultSuccess, "")
	if err != nil {
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
		return fmt.Errorf("audit append failed: %w", err)
	}
	return nil
}

// runPhase executes fn with a single automatic retry, advances the state
// machine, and appends the phase audit event. A second failure is terminal:
// the machine parks in FAILED and a CRITICAL alert is raised.
func (c *RotationController) runPhase(ctx context.Context, st *rotationState, next domain.RotationPhase, fn func(context.Context) error) error {
	started := c.now()
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		if err = fn(ctx); err == nil {
			break
		}
		if attempt == 1 {
			c.logger().Warn("rotation phase failed, retrying once",
				zap.String("rotation_id", st.rotation.ID),
				zap.String("phase", string(next)),
				zap.Error(err))
		}
	}
	duration := c.now().Sub(started)

	if err != nil {
		c.failRotation(st)
		if auditErr := c.Audit.EmitRotationFailed(ctx, st.rotation.ID, st.rotation.Mode, next, errorCode(err)); auditErr != nil {
			return errors.Join(err, auditErr)
		}
		c.alertCritical(ctx, st, next, err)
		return err
	}

	if advErr := c.advancePhase(st, next); advErr != nil {
		return advErr
	}
	if auditErr := c.Audit.EmitRotationPhase(ctx, st.rotation.ID, st.rotation.Mode, next, duration, domain.AuditResultSuccess, ""); auditErr != nil {
		c.failRotation(st)
		return fmt.Errorf("audit append failed: %w", auditErr)
	}
	return nil
}

// advancePhase and failRotation serialize phase mutations with Current's
// snapshot reads; the phase field is read under c.mu on both sides.
func (c *RotationController) advancePhase(st *rotationState, next domain.RotationPhase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return st.rotation.Advance(next)
}

func (c *RotationController) failRotation(st *rotationState) {
	c.mu.Lock()
	st.rotation.Fail()
	c.mu.Unlock()
}

func (c *RotationController) generateAndSelfTest(ctx context.Context, st *rotationState) error {
	alg := c.Algorithm
	if alg == "" {
		alg = domain.KeyAlgorithmHS256
	}
	bits := c.StrengthBits
	if bits == 0 {
		bits = domain.MinKeyStrengthBits
	}
	key, err := c.Registry.Generate(ctx, alg, bits)
	if err != nil {
		return err
	}
	if err := c.Signer.SelfTest(ctx, key); err != nil {
		return &domain.KeySelfTestError{KeyID: key.ID, Err: err}
	}
	c.mu.Lock()
	st.newKey = key
	c.mu.Unlock()
	return c.Audit.EmitKeyGenerated(ctx, domain.AuditActorSystem, "", key, domain.AuditResultSuccess, "")
}

func (c *RotationController) deployAndPromote(ctx context.Context, st *rotationState, immediateRetire bool) error {
	record, err := c.Deployer.Deploy(ctx, st.newKey)
	if record != nil && c.Audit != nil {
		result := domain.AuditResultSuccess
		if err != nil {
			result = domain.AuditResultFailure
		}
		if auditErr := c.Audit.EmitDeployment(ctx, record, result, errorCode(err)); auditErr != nil {
			return fmt.Errorf("audit append failed: %w", auditErr)
		}
	}
	if err != nil {
		return err
	}

	if !immediateRetire {
		if keys, kerr := c.Registry.CurrentValidationKeys(ctx); kerr == nil && keys.Primary != nil {
			c.mu.Lock()
			if st.oldKeyID == "" {
				st.oldKeyID = keys.Primary.ID
			}
			c.mu.Unlock()
		}
	}
	return c.Registry.Promote(ctx, st.newKey.ID, immediateRetire)
}

// invalidateTokens implements the logical mass revocation: access tokens
// die with the compromised key's status, while long-lived refresh tokens
// are blacklisted entry by entry.
func (c *RotationController) invalidateTokens(ctx context.Context, keyID string) (int, error) {
	if c.Tokens == nil {
		return 0, nil
	}
	records, err := c.Tokens.OutstandingByKey(ctx, keyID)
	if err != nil {
		return 0, err
	}
	now := c.now()
	for _, record := range records {
		if !record.Refresh {
			continue
		}
		entry := domain.RevocationEntry{
			TokenRef:  record.Ref,
			UserID:    record.UserID,
			RevokedAt: now,
			ExpiresAt: record.ExpiresAt,
			Reason:    domain.RevocationReasonKeyCompromise,
		}
		if err := c.Ledger.Revoke(ctx, entry); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

func (c *RotationController) alertCritical(ctx context.Context, st *rotationState, phase domain.RotationPhase, cause error) {
	message := fmt.Sprintf("rotation %s halted in phase %s: %v; manual intervention required", st.rotation.ID, phase, cause)
	c.logger().Error("rotation halted",
		zap.String("rotation_id", st.rotation.ID),
		zap.String("phase", string(phase)),
		zap.Error(cause))
	if c.Notifier == nil {
		return
	}
	err := c.Notifier.Dispatch(ctx, domain.Notification{
		Severity:  domain.NotificationSeverityCritical,
		Reason:    "ROTATION_FAILED",
		KeyID:     st.oldKeyID,
		Message:   message,
		CreatedAt: c.now(),
	})
	if err != nil {
		c.logger().Error("critical alert dispatch failed", zap.Error(err))
	}
}

func (c *RotationController) snapshotStatus(st *rotationState) *RotationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status(st)
}

// status builds a read-only view; the caller must hold c.mu.
func (c *RotationController) status(st *rotationState) *RotationStatus {
	status := &RotationStatus{
		ID:         st.rotation.ID,
		Mode:       st.rotation.Mode,
		Phase:      st.rotation.Phase(),
		Reason:     st.rotation.Reason,
		OldKeyID:   st.oldKeyID,
		StartedAt:  st.rotation.StartedAt,
		WindowEnds: st.windowEnds,
	}
	if st.newKey != nil {
		status.NewKeyID = st.newKey.ID
	}
	return status
}

func (c *RotationController) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}

func (c *RotationController) logger() *zap.Logger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop()
}

func rotationID(mode domain.RotationMode, now time.Time) string {
	prefix := "rot"
	if mode == domain.RotationModeEmergency {
		prefix = "erot"
	}
	return fmt.Sprintf("%s-%d", prefix, now.UnixNano())
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var weak *domain.WeakKeyError
	var selfTest *domain.KeySelfTestError
	var health *domain.HealthCheckError
	var consistency *domain.ConsistencyError
	var rollback *domain.RollbackError
	switch {
	case errors.As(err, &weak):
		return "WEAK_KEY"
	case errors.As(err, &selfTest):
		return "KEY_SELF_TEST"
	case errors.As(err, &rollback):
		return "ROLLBACK_FAILURE"
	case errors.As(err, &consistency):
		return "CONSISTENCY_ERROR"
	case errors.As(err, &health):
		return "HEALTH_CHECK_FAILURE"
	default:
		return "INTERNAL"
	}
}
