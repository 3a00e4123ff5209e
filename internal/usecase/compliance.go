package usecase

import (
	"context"
	"time"

	"keystone/internal/domain"
)

// ComplianceReporter derives rotation statistics for a period from the
// audit log. It only reads; the log is never mutated.
type ComplianceReporter struct {
	Audit AuditEventRepository
}

func (r *ComplianceReporter) Report(ctx context.Context, from, to time.Time) (domain.ComplianceReport, error) {
	events, err := r.Audit.List(ctx, domain.AuditFilter{From: from, To: to})
	if err != nil {
		return domain.ComplianceReport{}, err
	}

	report := domain.ComplianceReport{
		PeriodStart: from,
		PeriodEnd:   to,
	}
	var totalDuration time.Duration
	var timed int
	for _, event := range events {
		switch event.EventType {
		case domain.AuditEventKeyRotation:
			report.ScheduledRotations++
		case domain.AuditEventEmergencyKeyRotation:
			report.EmergencyRotations++
		case domain.AuditEventRotationFailed:
			report.FailedRotations++
			continue
		default:
			continue
		}
		if ms, ok := payloadDurationMillis(event.Payload); ok {
			totalDuration += time.Duration(ms) * time.Millisecond
			timed++
		}
	}
	report.KeyRotations = report.ScheduledRotations + report.EmergencyRotations

	if timed > 0 {
		report.AvgDuration = (totalDuration / time.Duration(timed)).String()
	}
	attempts := report.KeyRotations + report.FailedRotations
	if attempts > 0 {
		report.FailureRate = float64(report.FailedRotations) / float64(attempts)
	}
	if report.FailedRotations == 0 {
		report.ComplianceStatus = domain.ComplianceStatusCompliant
	} else {
		report.ComplianceStatus = domain.ComplianceStatusReviewRequired
	}
	return report, nil
}

func payloadDurationMillis(payload any) (int64, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := m["duration_ms"].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
