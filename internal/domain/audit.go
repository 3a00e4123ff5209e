package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

type AuditActorType string

const (
	AuditActorSystem      AuditActorType = "system"
	AuditActorAdminAPIKey AuditActorType = "admin_api_key"
	AuditActorService     AuditActorType = "service"
	AuditActorUser        AuditActorType = "user"
)

type AuditEventType string

const (
	AuditEventKeyGenerated         AuditEventType = "KEY_GENERATED"
	AuditEventKeyRotation          AuditEventType = "KEY_ROTATION"
	AuditEventEmergencyKeyRotation AuditEventType = "EMERGENCY_KEY_ROTATION"
	AuditEventRotationPhase        AuditEventType = "ROTATION_PHASE"
	AuditEventRotationFailed       AuditEventType = "ROTATION_FAILED"
	AuditEventKeyCompromised       AuditEventType = "KEY_COMPROMISED"
	AuditEventDeploymentCompleted  AuditEventType = "DEPLOYMENT_COMPLETED"
	AuditEventRollback             AuditEventType = "ROLLBACK"
	AuditEventTokenRevoked         AuditEventType = "TOKEN_REVOKED"
	AuditEventAccountDeleted       AuditEventType = "ACCOUNT_DELETED"
	AuditEventAccountSuspended     AuditEventType = "ACCOUNT_SUSPENDED"
	AuditEventSecurityAlert        AuditEventType = "SECURITY_ALERT"
)

type AuditTargetType string

const (
	AuditTargetKey        AuditTargetType = "key"
	AuditTargetToken      AuditTargetType = "token"
	AuditTargetAccount    AuditTargetType = "account"
	AuditTargetDeployment AuditTargetType = "deployment"
	AuditTargetRotation   AuditTargetType = "rotation"
)

type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
)

// AuditEvent is one immutable record of a lifecycle transition. Events form
// a hash chain: EventHash covers the event contents plus PrevEventHash, so
// any mutation, reorder, or gap is detectable afterwards. There is no update
// or delete operation anywhere in the module.
type AuditEvent struct {
	ID            string
	Seq           int64
	EventType     AuditEventType
	Payload       any
	PayloadHash   string
	ActorType     AuditActorType
	ActorIDHash   string
	TargetType    AuditTargetType
	TargetID      string
	Result        AuditResult
	ErrorCode     string
	PrevEventHash string
	EventHash     string
	CreatedAt     time.Time
}

// ZeroChainHash is the PrevEventHash of the first event in the chain.
func ZeroChainHash() string {
	return hex.EncodeToString(make([]byte, sha256.Size))
}

type chainPayload struct {
	Seq           int64           `json:"seq"`
	EventType     AuditEventType  `json:"event_type"`
	PayloadHash   string          `json:"payload_hash"`
	ActorType     AuditActorType  `json:"actor_type"`
	ActorIDHash   string          `json:"actor_id_hash,omitempty"`
	TargetType    AuditTargetType `json:"target_type"`
	TargetID      string          `json:"target_id"`
	Result        AuditResult     `json:"result"`
	ErrorCode     string          `json:"error_code,omitempty"`
	PrevEventHash string          `json:"prev_event_hash"`
	CreatedAt     string          `json:"created_at"`
}

// ChainHash computes the event hash over the chained fields. PayloadHash
// must already be set; EventHash and ID are excluded.
func ChainHash(event AuditEvent) (string, error) {
	canonical, err := json.Marshal(chainPayload{
		Seq:           event.Seq,
		EventType:     event.EventType,
		PayloadHash:   event.PayloadHash,
		ActorType:     event.ActorType,
		ActorIDHash:   event.ActorIDHash,
		TargetType:    event.TargetType,
		TargetID:      event.TargetID,
		Result:        event.Result,
		ErrorCode:     event.ErrorCode,
		PrevEventHash: event.PrevEventHash,
		CreatedAt:     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// HashPayload canonicalizes and hashes an event payload.
func HashPayload(payload any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	if raw, ok := payload.([]byte); ok {
		sum := sha256.Sum256(raw)
		return hex.EncodeToString(sum[:]), nil
	}
	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// AuditFilter narrows query results. Zero values match everything.
type AuditFilter struct {
	EventType AuditEventType
	TargetID  string
	From      time.Time
	To        time.Time
	Limit     int
}

// ComplianceReport is derived from stored audit events only; producing it
// never mutates the log.
type ComplianceReport struct {
	PeriodStart        time.Time `json:"period_start"`
	PeriodEnd          time.Time `json:"period_end"`
	KeyRotations       int       `json:"key_rotations"`
	EmergencyRotations int       `json:"emergency_rotations"`
	ScheduledRotations int       `json:"scheduled_rotations"`
	FailedRotations    int       `json:"failed_rotations"`
	AvgDuration        string    `json:"avg_duration"`
	FailureRate        float64   `json:"failure_rate"`
	ComplianceStatus   string    `json:"compliance_status"`
}

const (
	ComplianceStatusCompliant      = "COMPLIANT"
	ComplianceStatusReviewRequired = "REVIEW_REQUIRED"
)
