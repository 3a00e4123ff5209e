package domain

import (
	"context"
	"time"
)

type NotificationSeverity string

const (
	NotificationSeverityInfo     NotificationSeverity = "INFO"
	NotificationSeverityWarning  NotificationSeverity = "WARNING"
	NotificationSeverityCritical NotificationSeverity = "CRITICAL"
)

// Required user actions attached to emergency notifications.
const (
	ActionReauthenticate = "RE_AUTHENTICATE"
	ActionChangePassword = "CHANGE_PASSWORD"
	ActionReviewActivity = "REVIEW_ACCOUNT_ACTIVITY"
)

// Notification is the stable request shape handed to the external
// dispatcher. Delivery is the collaborator's problem; this subsystem only
// emits the request.
type Notification struct {
	Severity       NotificationSeverity `json:"severity"`
	Reason         string               `json:"reason"`
	KeyID          string               `json:"key_id,omitempty"`
	AffectedTokens int                  `json:"affected_tokens,omitempty"`
	Actions        []string             `json:"actions,omitempty"`
	Message        string               `json:"message"`
	CreatedAt      time.Time            `json:"created_at"`
}

// NotificationDispatcher delivers user-facing and operator-facing alerts.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, notification Notification) error
}
