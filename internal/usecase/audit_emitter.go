package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"keystone/internal/domain"
)

// AuditEmitter builds and appends lifecycle audit events. Append failures
// propagate to the caller: the audit write is part of the audited
// operation, never best-effort.
type AuditEmitter struct {
	Repo  AuditEventRepository
	Clock Clock
}

func NewAuditEmitter(repo AuditEventRepository, clock Clock) *AuditEmitter {
	return &AuditEmitter{
		Repo:  repo,
		Clock: clock,
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if e == nil || e.Repo == nil {
		return domain.AuditEvent{}, errors.New("audit repository required")
	}
	if event.EventType == "" || event.TargetType == "" || event.Result == "" || event.ActorType == "" {
		return domain.AuditEvent{}, errors.New("audit event missing required fields")
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = e.now().UTC()
	} else {
		event.CreatedAt = event.CreatedAt.UTC()
	}
	return e.Repo.Append(ctx, event)
}

func (e *AuditEmitter) EmitKeyGenerated(ctx context.Context, actorType domain.AuditActorType, actorID string, key *domain.SigningKey, result domain.AuditResult, errorCode string) error {
	payload := map[string]any{
		"kid":           key.ID,
		"algorithm":     string(key.Algorithm),
		"strength_bits": key.StrengthBits,
	}
	_, err := e.Emit(ctx, domain.AuditEvent{
		ActorType:   actorType,
		ActorIDHash: hashString(actorID),
		EventType:   domain.AuditEventKeyGenerated,
		Payload:     payload,
		TargetType:  domain.AuditTargetKey,
		TargetID:    key.ID,
		Result:      result,
		ErrorCode:   errorCode,
	})
	return err
}

func (e *AuditEmitter) EmitRotationPhase(ctx context.Context, rotationID string, mode domain.RotationMode, phase domain.RotationPhase, duration time.Duration, result domain.AuditResult, errorCode string) error {
	payload := map[string]any{
		"rotation_id": rotationID,
		"mode":        string(mode),
		"phase":       string(phase),
		"duration_ms": duration.Milliseconds(),
	}
	_, err := e.Emit(ctx, domain.AuditEvent{
		ActorType:  domain.AuditActorSystem,
		EventType:  domain.AuditEventRotationPhase,
		Payload:    payload,
		TargetType: domain.AuditTargetRotation,
		TargetID:   rotationID,
		Result:     result,
		ErrorCode:  errorCode,
	})
	return err
}

func (e *AuditEmitter) EmitKeyRotation(ctx context.Context, rotationID string, newKID string, previousKID string, duration time.Duration, result domain.AuditResult, errorCode string) error {
	payload := map[string]any{
		"rotation_id": rotationID,
		"kid":         newKID,
		"duration_ms": duration.Milliseconds(),
	}
	if previousKID != "" {
		payload["previous_kid"] = previousKID
	}
	_, err := e.Emit(ctx, domain.AuditEvent{
		ActorType:  domain.AuditActorSystem,
		EventType:  domain.AuditEventKeyRotation,
		Payload:    payload,
		TargetType: domain.AuditTargetKey,
		TargetID:   newKID,
		Result:     result,
		ErrorCode:  errorCode,
	})
	return err
}

func (e *AuditEmitter) EmitEmergencyRotation(ctx context.Context, rotationID string, reason string, compromisedKID string, newKID string, affectedTokens int, duration time.Duration, result domain.AuditResult, errorCode string) error {
	payload := map[string]any{
		"rotation_id":     rotationID,
		"reason":          reason,
		"compromised_kid": compromisedKID,
		"affected_tokens": affectedTokens,
		"duration_ms":     duration.Milliseconds(),
	}
	if newKID != "" {
		payload["kid"] = newKID
	}
	_, err := e.Emit(ctx, domain.AuditEvent{
		ActorType:  domain.AuditActorSystem,
		EventType:  domain.AuditEventEmergencyKeyRotation,
		Payload:    payload,
		TargetType: domain.AuditTargetKey,
		TargetID:   compromisedKID,
		Result:     result,
		ErrorCode:  errorCode,
	})
	return err
}

func (e *AuditEmitter) EmitRotationFailed(ctx context.Context, rotationID string, mode domain.RotationMode, phase domain.RotationPhase, errorCode string) error {
	payload := map[string]any{
		"rotation_id": rotationID,
		"mode":        string(mode),
		"phase":       string(phase),
	}
	_, err := e.Emit(ctx, domain.AuditEvent{
		ActorType:  domain.AuditActorSystem,
		EventType:  domain.AuditEventRotationFailed,
		Payload:    payload,
		TargetType: domain.AuditTargetRotation,
		TargetID:   rotationID,
		Result:     domain.AuditResultFailure,
		ErrorCode:  errorCode,
	})
	return err
}

func (e *AuditEmitter) EmitKeyCompromised(ctx context.Context, actorType domain.AuditActorType, actorID string, kid string, reason string) error {
	payload := map[string]any{
		"kid":    kid,
		"reason": reason,
	}
	_, err := e.Emit(ctx, domain.AuditEvent{
		ActorType:   actorType,
		ActorIDHash: hashString(actorID),
		EventType:   domain.AuditEventKeyCompromised,
		Payload:     payload,
		TargetType:  domain.AuditTargetKey,
		TargetID:    kid,
		Result:      domain.AuditResultSuccess,
	})
	return err
}

func (e *AuditEmitter) EmitDeployment(ctx context.Context, record *domain.DeploymentRecord, result domain.AuditResult, errorCode string) error {
	tiers := make([]map[string]any, 0, len(record.Tiers))
	for _, tier := range record.Tiers {
		tiers = append(tiers, map[string]any{
			"name":        string(tier.Name),
			"status":      string(tier.Status),
			"key_version": tier.KeyVersion,
		})
	}
	payload := map[string]any{
		"deployment_id": record.ID,
		"kid":           record.KeyID,
		"status":        string(record.Status),
		"tiers":         tiers,
	}
	eventType := domain.AuditEventDeploymentCompleted
	if record.Status == domain.DeploymentStatusFailed {
		eventType = domain.AuditEventRollback
	}
	_, err := e.Emit(ctx, domain.AuditEvent{
		ActorType:  domain.AuditActorSystem,
		EventType:  eventType,
		Payload:    payload,
		TargetType: domain.AuditTargetDeployment,
		TargetID:   record.ID,
		Result:     result,
		ErrorCode:  errorCode,
	})
	return err
}

func (e *AuditEmitter) EmitTokenRevoked(ctx context.Context, actorType domain.AuditActorType, actorID string, tokenRef string, reason domain.RevocationReason) error {
	payload := map[string]any{
		"token_ref": tokenRef,
		"reason":    string(reason),
	}
	_, err := e.Emit(ctx, domain.AuditEvent{
		ActorType:   actorType,
		ActorIDHash: hashString(actorID),
		EventType:   domain.AuditEventTokenRevoked,
		Payload:     payload,
		TargetType:  domain.AuditTargetToken,
		TargetID:    tokenRef,
		Result:      domain.AuditResultSuccess,
	})
	return err
}

func (e *AuditEmitter) EmitAccountDeleted(ctx context.Context, actorType domain.AuditActorType, actorID string, userID string, revokedTokens int) error {
	payload := map[string]any{
		"user_id":        userID,
		"revoked_tokens": revokedTokens,
	}
	_, err := e.Emit(ctx, domain.AuditEvent{
		ActorType:   actorType,
		ActorIDHash: hashString(actorID),
		EventType:   domain.AuditEventAccountDeleted,
		Payload:     payload,
		TargetType:  domain.AuditTargetAccount,
		TargetID:    userID,
		Result:      domain.AuditResultSuccess,
	})
	return err
}

func (e *AuditEmitter) EmitAccountSuspended(ctx context.Context, actorType domain.AuditActorType, actorID string, suspension domain.Suspension, revokedTokens int) error {
	payload := map[string]any{
		"user_id":         suspension.UserID,
		"suspended_until": suspension.SuspendedUntil.UTC().Format(time.RFC3339),
		"revoked_tokens":  revokedTokens,
	}
	if suspension.Reason != "" {
		payload["reason"] = suspension.Reason
	}
	_, err := e.Emit(ctx, domain.AuditEvent{
		ActorType:   actorType,
		ActorIDHash: hashString(actorID),
		EventType:   domain.AuditEventAccountSuspended,
		Payload:     payload,
		TargetType:  domain.AuditTargetAccount,
		TargetID:    suspension.UserID,
		Result:      domain.AuditResultSuccess,
	})
	return err
}

func (e *AuditEmitter) EmitSecurityAlert(ctx context.Context, targetType domain.AuditTargetType, targetID string, message string, errorCode string) error {
	payload := map[string]any{
		"message": message,
	}
	_, err := e.Emit(ctx, domain.AuditEvent{
		ActorType:  domain.AuditActorSystem,
		EventType:  domain.AuditEventSecurityAlert,
		Payload:    payload,
		TargetType: targetType,
		TargetID:   targetID,
		Result:     domain.AuditResultFailure,
		ErrorCode:  errorCode,
	})
	return err
}

func (e *AuditEmitter) now() time.Time {
	if e != nil && e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}

func hashString(value string) string {
	if value == "" {
		return ""
	}
	return sha256HexString([]byte(value))
}

func sha256HexString(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}
